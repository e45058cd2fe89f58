package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/auth"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/gateway"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/observability"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/pool"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/registry"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/watcher"
)

// Server ties the whole pipeline together and runs one transport.
type Server struct {
	logger  *zap.Logger
	options *config.Options

	loader *config.Loader
	refs   []config.SourceRef

	pools      *pool.Manager
	registry   *registry.Registry
	dispatcher *Dispatcher
	frontend   *mcpFrontend

	metrics *observability.MetricsManager
	health  *observability.HealthManager

	tokenStore  *auth.Store
	authService *auth.Service
	authHandler *auth.Handler

	resolvedPaths []string
	startTime     time.Time
}

// New builds a fully wired server: configuration is loaded and the initial
// registry installed before this returns.
func New(options *config.Options, refs []config.SourceRef, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := options.Validate(); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "invalid options", err)
	}

	s := &Server{
		logger:    logger,
		options:   options,
		loader:    config.NewLoader(logger),
		refs:      refs,
		pools:     pool.NewManager(logger),
		metrics:   observability.NewMetricsManager(logger),
		health:    observability.NewHealthManager(logger),
		startTime: time.Now(),
	}

	s.registry = registry.New(s.pools, options.SelectedToolsets, logger)

	if options.AuthMode == config.AuthModeIBMi {
		keys, err := auth.LoadKeyPair(options.PrivateKeyPath, options.PublicKeyPath, options.KeyID)
		if err != nil {
			return nil, err
		}
		s.tokenStore = auth.NewStore(options.MaxConcurrentSessions, func(rec auth.Record) {
			s.pools.ClosePool(rec.PoolKey)
		}, logger)
		s.authService = auth.NewService(keys, s.tokenStore, s.pools,
			options.StaticSource(),
			time.Duration(options.TokenExpirySeconds)*time.Second,
			options.IBMiAuthAllowHTTP, logger)
		s.authHandler = auth.NewHandler(s.authService, logger)
	}

	s.dispatcher = NewDispatcher(s.registry, s.metrics,
		options.AuthMode, options.JWTSecret, s.authService, logger)
	s.frontend = newMCPFrontend(s.dispatcher, s.pools, options.StaticSource(), logger)

	s.health.AddChecker(poolHealthChecker{server: s})

	if err := s.loadConfiguration(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadConfiguration runs the loader and installs the resulting registry
// snapshot.
func (s *Server) loadConfiguration() error {
	result, err := s.loader.Load(s.refs, s.options.Merge)
	if err != nil {
		return err
	}
	for _, warning := range result.Warnings {
		s.logger.Warn(warning)
	}

	snap, err := s.registry.Rebuild(result.Config)
	if err != nil {
		return err
	}
	s.frontend.ApplySnapshot(snap)
	s.metrics.SetToolsTotal(len(snap.Descriptors))
	s.resolvedPaths = result.ResolvedFilePaths
	return nil
}

// Reload re-runs the loader over the original source list. A failed load
// keeps the current registry; in-flight calls are never interrupted either
// way. Pools survive unless their source's connection parameters changed.
func (s *Server) Reload(ctx context.Context) {
	result, err := s.loader.Load(s.refs, s.options.Merge)
	if err != nil {
		s.metrics.RecordConfigReload("failed")
		s.logger.Error("configuration reload failed, keeping current tools", zap.Error(err))
		return
	}

	snap, err := s.registry.Rebuild(result.Config)
	if err != nil {
		s.metrics.RecordConfigReload("failed")
		s.logger.Error("registry rebuild failed, keeping current tools", zap.Error(err))
		return
	}

	s.drainChangedSources(snap)
	s.frontend.ApplySnapshot(snap)
	s.metrics.SetToolsTotal(len(snap.Descriptors))
	s.metrics.RecordConfigReload("success")
	s.logger.Info("configuration reloaded",
		zap.Int("tools", len(snap.Descriptors)),
		zap.Int64("version", snap.Version))
}

// drainChangedSources closes the pool of any source whose connection
// parameters changed; the next call dials fresh with the new parameters.
func (s *Server) drainChangedSources(snap *registry.Snapshot) {
	for name, src := range snap.Config.Sources {
		cfg := gateway.ConnectionConfig{
			Host:               src.Host,
			Port:               src.EffectivePort(),
			User:               src.User,
			Password:           src.Password,
			IgnoreUnauthorized: src.IgnoreUnauthorized,
		}
		key := pool.StaticKey(name)
		if s.pools.SourceChanged(key, cfg) {
			s.logger.Info("source connection changed, draining pool", zap.String("source", name))
			s.pools.ClosePool(key)
		}
	}
}

// openDirRoots lists the directory and glob roots whose file membership can
// grow after startup; the watcher treats new YAML files there as changes.
func (s *Server) openDirRoots() []string {
	var roots []string
	for _, ref := range s.refs {
		switch ref.Type {
		case config.SourceTypeDirectory:
			roots = append(roots, ref.Path)
		case config.SourceTypeGlob:
			roots = append(roots, filepath.Dir(ref.Path))
		}
	}
	return roots
}

// Run serves the configured transport until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.pools.CloseAllPools()

	if s.tokenStore != nil {
		s.tokenStore.StartSweeper(ctx,
			time.Duration(s.options.CleanupIntervalSeconds)*time.Second)
	}
	go s.updateGauges(ctx)

	if s.options.AutoReload && len(s.resolvedPaths) > 0 {
		w, err := watcher.New(s.resolvedPaths, s.openDirRoots(), s.Reload, s.logger)
		if err != nil {
			return errs.Wrap(errs.KindInitialization, "failed to start configuration watcher", err)
		}
		go w.Run(ctx)
	}

	switch s.options.TransportType {
	case config.TransportHTTP:
		return s.runHTTP(ctx)
	default:
		return s.runStdio(ctx)
	}
}

func (s *Server) runStdio(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio",
		zap.Int("tools", s.frontend.toolCount()))
	stdio := mcpserver.NewStdioServer(s.frontend.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio transport: %w", err)
	}
	return nil
}

func (s *Server) runHTTP(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.options.HTTPHost, s.options.HTTPPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.buildHTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving MCP over HTTP",
			zap.String("addr", addr),
			zap.Int("tools", s.frontend.toolCount()),
			zap.String("authMode", s.options.AuthMode))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http transport: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown incomplete", zap.Error(err))
		}
		return nil
	}
}

// updateGauges refreshes the slow-moving gauges on a fixed cadence.
func (s *Server) updateGauges(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.metrics.SetUptime(s.startTime)
			s.metrics.SetPoolsActive(s.pools.ActivePools())
			if s.tokenStore != nil {
				s.metrics.SetSessionsActive(s.tokenStore.Count())
			}
		case <-ctx.Done():
			return
		}
	}
}

// Registry exposes the live registry for diagnostics and tests.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Pools exposes the pool manager for diagnostics and tests.
func (s *Server) Pools() *pool.Manager { return s.pools }

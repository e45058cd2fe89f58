package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/gateway"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/pool"
)

// TokenGrant is the successful handshake response body.
type TokenGrant struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Service runs the credential handshake: decrypt, verify against the
// database, mint a token and bind a dedicated pool to it.
type Service struct {
	logger      *zap.Logger
	keys        *KeyPair
	store       *Store
	pools       *pool.Manager
	static      *config.SourceSpec
	tokenExpiry time.Duration
	allowHTTP   bool
}

// NewService wires the handshake service. static supplies fallback host and
// port when the client payload omits them; it may be nil.
func NewService(keys *KeyPair, store *Store, pools *pool.Manager, static *config.SourceSpec, tokenExpiry time.Duration, allowHTTP bool, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:      logger,
		keys:        keys,
		store:       store,
		pools:       pools,
		static:      static,
		tokenExpiry: tokenExpiry,
		allowHTTP:   allowHTTP,
	}
}

// PublicKey returns the served key id and PEM.
func (s *Service) PublicKey() (string, string) {
	return s.keys.ID, s.keys.PublicPEM
}

// AllowHTTP reports whether the handshake may run without TLS.
func (s *Service) AllowHTTP() bool { return s.allowHTTP }

// Handshake authenticates an encrypted credential envelope. The credentials
// are proven by opening a gateway pool with them; only then is a token
// minted. Failures never carry credential material.
func (s *Service) Handshake(ctx context.Context, req *HandshakeRequest) (*TokenGrant, error) {
	if req.KeyID != s.keys.ID {
		return nil, errs.Newf(errs.KindAuthentication, "unknown key id %q", req.KeyID)
	}

	creds, err := decryptCredentials(s.keys.Private, req)
	if err != nil {
		return nil, err
	}

	cfg := gateway.ConnectionConfig{
		Host:     creds.Host,
		Port:     creds.Port,
		User:     creds.User,
		Password: creds.Password,
	}
	if s.static != nil {
		if cfg.Host == "" {
			cfg.Host = s.static.Host
		}
		if cfg.Port == 0 {
			cfg.Port = s.static.Port
		}
		cfg.IgnoreUnauthorized = s.static.IgnoreUnauthorized
	}
	if cfg.Host == "" {
		return nil, errs.New(errs.KindAuthentication, "no database host configured")
	}
	if cfg.Port == 0 {
		cfg.Port = config.DefaultGatewayPort
	}

	sessionID := uuid.NewString()
	key := pool.TokenKey(sessionID)
	if err := s.pools.EnsurePool(ctx, key, cfg); err != nil {
		s.pools.ClosePool(key)
		s.logger.Warn("handshake rejected by database",
			zap.String("session", sessionID), zap.String("host", cfg.Host))
		return nil, errs.New(errs.KindAuthentication, "authentication failed")
	}

	token, err := newToken()
	if err != nil {
		s.pools.ClosePool(key)
		return nil, err
	}

	now := time.Now()
	rec := &Record{
		Token:     token,
		SessionID: sessionID,
		PoolKey:   key,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokenExpiry),
	}
	if err := s.store.Put(rec); err != nil {
		s.pools.ClosePool(key)
		return nil, err
	}

	s.logger.Info("session established",
		zap.String("session", sessionID),
		zap.Time("expiresAt", rec.ExpiresAt))

	return &TokenGrant{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokenExpiry.Seconds()),
	}, nil
}

// Authenticate resolves a bearer token to its session record.
func (s *Service) Authenticate(token string) (*Record, error) {
	rec, ok := s.store.Get(token)
	if !ok {
		return nil, errs.New(errs.KindAuthentication, "invalid or expired token")
	}
	return rec, nil
}

// Logout removes the session for a token. Unknown tokens are a no-op so
// logout is idempotent.
func (s *Service) Logout(token string) {
	s.store.Delete(token)
}

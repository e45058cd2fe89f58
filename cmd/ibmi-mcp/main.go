package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/logs"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/server"
)

var (
	toolsPath     string
	toolsetsFlag  []string
	transportFlag string
	listToolsets  bool
	logLevel      string
	logToFile     bool
	logDir        string

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "ibmi-mcp",
		Short:   "MCP server exposing declarative SQL tools for IBM i / Db2 for i",
		Version: version,
		RunE:    run,
	}

	rootCmd.PersistentFlags().StringVar(&toolsPath, "tools", "", "Path to YAML tool configuration (file, directory, or glob)")
	rootCmd.PersistentFlags().StringSliceVar(&toolsetsFlag, "toolsets", nil, "Only register tools belonging to these toolsets")
	rootCmd.PersistentFlags().StringVar(&transportFlag, "transport", "", "Transport to serve on (stdio or http)")
	rootCmd.PersistentFlags().BoolVar(&listToolsets, "list-toolsets", false, "Print the configured toolsets and exit")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Also write logs to a rotating file")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for log files")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	options := config.OptionsFromEnv()
	if transportFlag != "" {
		options.TransportType = transportFlag
	}
	if toolsPath != "" {
		options.ToolsPath = toolsPath
	}
	if len(toolsetsFlag) > 0 {
		options.SelectedToolsets = toolsetsFlag
	}

	logger, err := setupLogger(options.TransportType)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if options.ToolsPath == "" {
		return fmt.Errorf("no tool configuration given; set --tools or TOOLS_YAML_PATH")
	}
	refs := []config.SourceRef{config.RefFromPath(options.ToolsPath)}

	if listToolsets {
		return printToolsets(refs, options, logger)
	}

	srv, err := server.New(options, refs, logger)
	if err != nil {
		logger.Error("server initialization failed", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

// setupLogger mirrors the transport constraint: in stdio mode the console
// output goes to stderr so protocol frames on stdout stay clean.
func setupLogger(transport string) (*zap.Logger, error) {
	cfg := logs.DefaultConfig()
	cfg.Level = logLevel
	cfg.EnableFile = logToFile
	cfg.LogDir = logDir
	if transport == config.TransportStdio && !logToFile {
		cfg.EnableConsole = true
	}
	return logs.Setup(cfg)
}

// printToolsets loads the configuration and lists every toolset with its
// member count.
func printToolsets(refs []config.SourceRef, options *config.Options, logger *zap.Logger) error {
	loader := config.NewLoader(logger)
	result, err := loader.Load(refs, options.Merge)
	if err != nil {
		return err
	}

	if len(result.Config.Toolsets) == 0 {
		fmt.Println("No toolsets configured.")
		return nil
	}

	names := make([]string, 0, len(result.Config.Toolsets))
	for name := range result.Config.Toolsets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ts := result.Config.Toolsets[name]
		fmt.Printf("%s (%d tools)", name, len(ts.Tools))
		if ts.Title != "" {
			fmt.Printf(" - %s", ts.Title)
		}
		fmt.Println()
		for _, tool := range ts.Tools {
			fmt.Printf("  %s\n", tool)
		}
	}
	return nil
}

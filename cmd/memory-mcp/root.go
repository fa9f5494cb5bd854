package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhubert/memory-mcp/config"
	"github.com/zhubert/memory-mcp/embedding"
	"github.com/zhubert/memory-mcp/helix"
	"github.com/zhubert/memory-mcp/logger"
	"github.com/zhubert/memory-mcp/mcp"
	"github.com/zhubert/memory-mcp/paths"
	"github.com/zhubert/memory-mcp/preflight"
	"github.com/zhubert/memory-mcp/session"
	"github.com/zhubert/memory-mcp/telemetry"
	"github.com/zhubert/memory-mcp/tools"
	"github.com/zhubert/memory-mcp/transport"
)

// defaultLogFile is the --log-file value that selects logger.DefaultLogPath.
const defaultLogFile = "default"

type rootOptions struct {
	configPath    string
	logFile       string
	debug         bool
	skipPreflight bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "memory-mcp",
		Short: "MCP server for the AI memory layer",
		Long: "memory-mcp exposes HelixDB-backed business and customer memories as MCP tools " +
			"over stdio, raw TCP and HTTP at the same time.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to mcpconfig.toml (default: ./mcpconfig.toml, then the user config dir)")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr (\"default\" for the per-user log file)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.skipPreflight, "skip-preflight", false, "Start even if HelixDB or the embedding service is unreachable")

	cmd.SetContext(context.Background())
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.skipPreflight, "skip-preflight", false, "Start even if HelixDB or the embedding service is unreachable")
	return cmd
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and probe HelixDB and the embedding service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Close()

			results := preflight.CheckAll(cmd.Context(), dependencies(cfg, newDeps(cfg)))
			fmt.Fprint(cmd.OutOrStdout(), formatPaths(cfg))
			fmt.Fprint(cmd.OutOrStdout(), preflight.FormatCheckResults(results))
			return preflight.ValidateRequired(results)
		},
	}
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server name and version from the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadResolved(opts.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.Server.Name, cfg.Server.Version)
			return nil
		},
	}
}

// setup loads configuration and initializes logging.
func setup(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadResolved(opts.configPath)
	if err != nil {
		return nil, err
	}
	logFile, err := logFilePath(opts.logFile, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log file: %w", err)
	}
	if err := logger.Init(logFile); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDebug(opts.debug)

	log := logger.Get()
	if path := cfg.FilePath(); path != "" {
		log.Info("loaded configuration", "path", path)
	} else {
		log.Info("no configuration file found, using defaults")
	}
	return cfg, nil
}

// logFilePath resolves --log-file. "default", or no flag while stdio is
// disabled, selects the per-user log file; otherwise an empty path means
// stderr.
func logFilePath(flag string, cfg *config.Config) (string, error) {
	if flag == defaultLogFile || (flag == "" && !cfg.Server.StdioEnabled()) {
		return logger.DefaultLogPath()
	}
	return flag, nil
}

// formatPaths reports where configuration and logs live.
func formatPaths(cfg *config.Config) string {
	var sb strings.Builder
	sb.WriteString("Paths:\n")

	configFile := cfg.FilePath()
	if configFile == "" {
		configFile = "(none, using defaults)"
	}
	fmt.Fprintf(&sb, "  config  %s\n", configFile)

	logFile := logger.Path()
	if logFile == "" {
		logFile = "stderr"
	}
	fmt.Fprintf(&sb, "  log     %s\n", logFile)

	if dir, err := paths.LogsDir(); err == nil {
		layout := "xdg"
		if paths.IsDotDirLayout() {
			layout = "dot-dir"
		}
		fmt.Fprintf(&sb, "  logs    %s (%s layout)\n", dir, layout)
	}
	return sb.String()
}

// deps are the remote clients built from configuration.
type deps struct {
	helix    *helix.Client
	embedder *embedding.Client
}

func newDeps(cfg *config.Config) deps {
	d := deps{helix: helix.New(cfg.Helix.Endpoint, cfg.Helix.Port)}
	if cfg.Embedding.UsesTCPEmbeddings() {
		d.embedder = embedding.NewClient(cfg.Embedding.TCPAddress,
			embedding.WithTimeout(cfg.Embedding.Timeout()),
			embedding.WithExpectedDimensions(cfg.Embedding.ExpectedDimensions),
			embedding.WithModel(cfg.Embedding.Model),
		)
	}
	return d
}

// checker keeps a nil client from becoming a non-nil interface.
func (d deps) checker() preflight.Checker {
	if d.embedder == nil {
		return nil
	}
	return d.embedder
}

// dependencies lists what preflight probes: HelixDB, the embedding service
// when configured, and the trace collector when tracing is on.
func dependencies(cfg *config.Config, d deps) []preflight.Dependency {
	list := preflight.Dependencies(cfg, d.helix, d.checker())
	if settings, err := telemetry.FromEnv(); err == nil && settings.Active() {
		list = append(list, preflight.Collector(settings.Endpoint, settings.Reachable))
	}
	return list
}

// newHandler builds the engine and MCP handler shared by every transport.
func newHandler(cfg *config.Config, d deps) *mcp.Handler {
	engineOpts := []tools.Option{tools.WithVersion(cfg.Server.Version)}
	if d.embedder != nil {
		engineOpts = append(engineOpts, tools.WithEmbedder(d.embedder, cfg.Embedding.Model))
	}
	engine := tools.NewEngine(d.helix, session.NewStore(), engineOpts...)

	return mcp.NewHandler(engine,
		mcp.WithServerInfo(cfg.Server.Name, cfg.Server.Version),
		mcp.WithInstructions(engine.Instructions()),
	)
}

func runServe(parent context.Context, opts *rootOptions) error {
	cfg, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Get()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "memory-mcp", cfg.Server.Version)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	d := newDeps(cfg)
	if !opts.skipPreflight {
		results := preflight.CheckAll(ctx, dependencies(cfg, d))
		for _, r := range results {
			switch {
			case r.OK:
				log.Info("dependency reachable", "name", r.Dependency.Name, "addr", r.Dependency.Address, "latency", r.Latency)
			case !r.Dependency.Required:
				log.Warn("optional dependency unreachable", "name", r.Dependency.Name, "error", r.Error)
			}
		}
		if err := preflight.ValidateRequired(results); err != nil {
			return err
		}
	}

	log.Info("starting server",
		"name", cfg.Server.Name,
		"version", cfg.Server.Version,
		"embeddingMode", cfg.Embedding.Mode,
	)
	if err := transport.Run(ctx, cfg.Server, newHandler(cfg, d)); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

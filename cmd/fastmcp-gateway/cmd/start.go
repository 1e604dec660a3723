package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/adapter/inbound/admin"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/adapter/inbound/http"
	mcpclient "github.com/fastmcp-gateway/fastmcp-gateway/internal/adapter/outbound/mcp"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/config"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/hook"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/registry"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/observability"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start the gateway server.

Upstreams come from GATEWAY_UPSTREAMS (a JSON object of domain to URL) or
the config file. Each upstream's tools are discovered at startup and the
gateway serves its meta-tool surface on /mcp.

Examples:
  # One upstream
  GATEWAY_UPSTREAMS='{"apollo": "http://localhost:9001/mcp"}' fastmcp-gateway start

  # With background refresh every 5 minutes
  GATEWAY_REFRESH_INTERVAL=300 fastmcp-gateway start

  # With a specific config file
  fastmcp-gateway --config /path/to/config.yaml start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	return run(ctx, cfg, logger)
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tracer, err := observability.NewTracerProvider(cfg.TracingEnabled, cfg.Name, Version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("trace shutdown", "error", err)
		}
	}()

	reg := registry.New(logger)

	factory := mcpclient.Factory(cfg.UpstreamTimeoutDuration(), cfg.Name, Version, logger)
	managerOpts := []service.ManagerOption{service.WithManagerLogger(logger)}
	if cfg.RegistryAuthToken != "" {
		managerOpts = append(managerOpts, service.WithRegistryAuthToken(cfg.RegistryAuthToken))
	}
	manager := service.NewUpstreamManager(reg, factory, managerOpts...)

	specs, err := cfg.UpstreamSpecs()
	if err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}
	for _, spec := range specs {
		manager.RegisterUpstream(service.UpstreamConfig{
			Domain:        spec.Domain,
			URL:           spec.URL,
			Description:   spec.Description,
			StaticHeaders: spec.Headers,
		})
		logger.Info("upstream configured", "domain", spec.Domain, "url", spec.URL)
	}

	hooks, err := hook.Build(cfg.Hooks, hook.FactoryConfig{
		CELExpression: cfg.HookCELExpr,
		AuthHeader:    cfg.HookAuthHeader,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build hooks: %w", err)
	}
	if len(hooks) > 0 {
		logger.Info("hooks installed", "hooks", cfg.Hooks)
	}
	runner := hook.NewRunner(logger, hooks...)

	meta := service.NewMetaTools(reg, manager, runner, logger)

	gateway := service.NewGateway(cfg.Name, reg, manager, meta,
		service.WithVersion(Version),
		service.WithGatewayLogger(logger),
		service.WithInstructions(cfg.Instructions),
		service.WithRefreshInterval(cfg.RefreshIntervalDuration()),
		service.WithTracer(tracer.Tracer()),
	)

	diffs := gateway.Populate(ctx)
	if len(diffs) == 0 && len(specs) > 0 {
		logger.Warn("no upstream reachable at startup, serving an empty registry")
	}
	gateway.Start()

	logger.Info("fastmcp-gateway starting",
		"version", Version,
		"addr", cfg.ListenAddr(),
		"upstreams", len(specs),
		"tools", reg.ToolCount(),
		"refresh_interval", cfg.RefreshIntervalDuration(),
		"registration_api", cfg.RegistrationToken != "",
	)

	transportOpts := []http.Option{
		http.WithAddr(cfg.ListenAddr()),
		http.WithLogger(logger),
		http.WithVersion(Version),
	}
	if cfg.RegistrationToken != "" {
		adminHandler := admin.NewHandler(gateway, cfg.RegistrationToken, logger)
		transportOpts = append(transportOpts, http.WithAdminHandler(adminHandler.Routes()))
		logger.Info("registration API enabled", "path", "/registry/servers")
	}

	transport := http.NewTransport(gateway, transportOpts...)
	serveErr := transport.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gateway.Stop(stopCtx); err != nil {
		logger.Warn("gateway stop", "error", err)
	}

	logger.Info("fastmcp-gateway stopped")
	return serveErr
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/willvelida/m365-sdk-proxy/internal/config"
	"github.com/willvelida/m365-sdk-proxy/internal/telemetry"
	"github.com/willvelida/m365-sdk-proxy/pkg/proxy"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	configPath string
	port       int
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy HTTP server",
		Long: `Start the proxy. Settings come from defaults, the config file, then
PROXY_-prefixed environment variables (PROXY_COPILOT__TENANT_ID sets
copilot.tenant_id). Invalid settings stop the process before it listens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml when present)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", -1, "HTTP port, overrides server.port")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.port >= 0 {
		cfg.Server.Port = opts.port
	}

	logger := newLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}

	shutdownTracer := telemetry.ShutdownFunc(telemetry.Noop)
	if cfg.Telemetry.Enabled {
		shutdownTracer, err = telemetry.InitTracer(cfg.Telemetry.ServiceName, Version, nil, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	p, err := proxy.New(
		proxy.WithConfig(cfg),
		proxy.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if err := p.Start(ctx); err != nil {
		p.Shutdown(context.Background())
		return err
	}
	logger.Info("proxy started",
		slog.String("addr", p.Addr().String()),
		slog.String("version", Version),
	)

	// Wait for shutdown signal or server failure
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- p.Wait() }()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received, stopping proxy")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			p.Shutdown(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("proxy shutdown complete")
	return nil
}

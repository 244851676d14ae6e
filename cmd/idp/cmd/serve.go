package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	idp "github.com/pilab-dev/shadow-idp"
	"github.com/pilab-dev/shadow-idp/config"
	"github.com/pilab-dev/shadow-idp/internal/metrics"
	"github.com/pilab-dev/shadow-idp/internal/ratelimit"
	"github.com/pilab-dev/shadow-idp/internal/server"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/pilab-dev/shadow-idp/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authorization server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func newLogger(cfg *config.ServerConfig) log.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.NewZerologAdapter(level, cfg.LogPretty)
	if err != nil {
		logger.Warn(context.Background(), "Invalid LOG_LEVEL configured, defaulting to 'info'", map[string]interface{}{
			"configured_log_level": cfg.LogLevel,
		})
	}
	return logger
}

func serve(parent context.Context, cfg *config.ServerConfig) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	logger.Info(ctx, "Starting shadow-idp", map[string]interface{}{
		"http_port": cfg.HTTPPort,
		"issuer":    cfg.Issuer,
	})

	if cfg.OtelEnabled {
		tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Error(shutdownCtx, "Tracer provider shutdown failed", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	metrics.InitCustomMetrics(reg)

	provider, err := idp.New(cfg, logger)
	if err != nil {
		return err
	}
	provider.Start(ctx)
	defer provider.Close()

	var limiter *ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.New(cfg.RateLimitRPS, max(cfg.RateLimitBurst, 1))
		defer limiter.Close()
	}

	e := server.NewHTTPServer(logger, provider.API, reg, limiter)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		return err
	}

	logger.Info(context.Background(), "Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

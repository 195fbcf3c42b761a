// Command gateway serves the merchant API, the public payment endpoints and
// the background payment watchers in one process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/solpos/service_layer/internal/app"
	"github.com/solpos/service_layer/internal/app/httpapi"
	"github.com/solpos/service_layer/internal/config"
	"github.com/solpos/service_layer/internal/middleware"
	"github.com/solpos/service_layer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("gateway").WithError(err).Fatal("load configuration")
	}
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).Named("gateway")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("gateway stopped with error")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra, err := app.OpenInfra(ctx, cfg, log.Named("infra"))
	if err != nil {
		return err
	}
	defer func() {
		if err := infra.Close(); err != nil {
			log.WithError(err).Warn("close infrastructure")
		}
	}()

	application, err := app.New(cfg, infra.Stores, log)
	if err != nil {
		return err
	}

	opts := httpapi.Options{
		JWTSecret:   cfg.Supabase.JWTSecret,
		CORSOrigins: cfg.Auth.Origins(),
		AuditPath:   os.Getenv("AUDIT_LOG_PATH"),
		Log:         log.Named("http"),
	}
	if infra.Supabase != nil {
		opts.Verifier = infra.Supabase.Auth()
	}
	if opts.JWTSecret == "" && opts.Verifier == nil {
		log.Warn("SUPABASE_JWT_SECRET and SUPABASE_URL not set; merchant API rejects every request")
	}
	if cfg.Auth.RateLimitRPS > 0 {
		limiter := middleware.NewRateLimiter(cfg.Auth.RateLimitRPS, cfg.Auth.RateBurst, log.Named("ratelimit"))
		limiter.StartCleanup(ctx, 5*time.Minute)
		opts.Limiter = limiter
	}

	handler, err := httpapi.NewHandler(application, opts)
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).
			WithField("cluster", cfg.Solana.Cluster).
			WithField("backend", cfg.Database.Backend).
			Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case runErr = <-serverErr:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("stop services")
	}
	log.Info("gateway stopped")
	return runErr
}

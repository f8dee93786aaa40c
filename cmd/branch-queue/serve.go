package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"qms/branch-queue/internal/clock"
	"qms/branch-queue/internal/feedback"
	"qms/branch-queue/internal/httpapi"
	"qms/branch-queue/internal/metrics"
	"qms/branch-queue/internal/queue"
	"qms/branch-queue/internal/store"
	"qms/branch-queue/internal/telemetry"
	"qms/branch-queue/internal/tokens"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		shutdownTelemetry := telemetry.Setup(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
			Insecure:    cfg.Telemetry.Insecure,
		}, log)
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
		metrics.MustRegister(prometheus.DefaultRegisterer)

		st, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer st.Close()

		inserted, err := st.SeedTellers(ctx, cfg.Roster())
		if err != nil {
			return fmt.Errorf("seed tellers: %w", err)
		}
		if inserted > 0 {
			log.Info("teller roster seeded", zap.Int("inserted", inserted))
		}

		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		estimator, err := queue.NewEstimator(cfg.EstimatorConfig())
		if err != nil {
			return err
		}

		var allocator store.TokenAllocator
		if cfg.Redis.Addr != "" {
			rdb, err := tokens.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = rdb.Close() }()
			allocator = tokens.NewRedisAllocator(rdb, cfg.Redis.KeyPrefix)
			log.Info("token numbers issued by redis", zap.String("addr", cfg.Redis.Addr))
		}

		clk := clock.System{}
		ledger := queue.NewLedger(st, clk, queue.Options{
			Location:   loc,
			Estimator:  estimator,
			Tokens:     allocator,
			MaxRetries: cfg.Queue.MaxRetries,
			Logger:     log.Named("queue"),
		})
		feedbackSvc := feedback.NewService(st, clk, log.Named("feedback"))

		handler := httpapi.NewHandler(ledger, feedbackSvc, log.Named("http"))
		limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
			PerMinute: cfg.RateLimit.PerMinute,
			Burst:     cfg.RateLimit.Burst,
		})

		cors := httpapi.CORS(cfg.HTTP.CORSOrigins)

		server := &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(log.Named("http"), cors(limiter.Middleware(handler.Routes()))), "branch-queue"),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("branch-queue listening",
				zap.String("addr", server.Addr),
				zap.String("store", cfg.Store.Driver),
				zap.String("timezone", loc.String()),
			)
			errCh <- server.ListenAndServe()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown error", zap.Error(err))
		}
		return nil
	},
}

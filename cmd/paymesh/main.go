package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paymesh-io/paymesh/internal/config"
	dbRedis "github.com/paymesh-io/paymesh/internal/db/redis"
	logpkg "github.com/paymesh-io/paymesh/internal/logger"
	"github.com/paymesh-io/paymesh/internal/metrics"
	budgetrepo "github.com/paymesh-io/paymesh/internal/repository/budget"
	decisionrepo "github.com/paymesh-io/paymesh/internal/repository/decision"
	providerrepo "github.com/paymesh-io/paymesh/internal/repository/provider"
	"github.com/paymesh-io/paymesh/internal/scheduler"
	chiTransport "github.com/paymesh-io/paymesh/internal/transport/chi"
	"github.com/paymesh-io/paymesh/internal/transport/ledger"
	"github.com/paymesh-io/paymesh/internal/transport/oracle"
	budgetuc "github.com/paymesh-io/paymesh/internal/usecase/budget"
	gatewayuc "github.com/paymesh-io/paymesh/internal/usecase/gateway"
	healthuc "github.com/paymesh-io/paymesh/internal/usecase/health"
	metricsuc "github.com/paymesh-io/paymesh/internal/usecase/metrics"
	paymentuc "github.com/paymesh-io/paymesh/internal/usecase/payment"
	policyuc "github.com/paymesh-io/paymesh/internal/usecase/policy"
	registryuc "github.com/paymesh-io/paymesh/internal/usecase/registry"
	scoringuc "github.com/paymesh-io/paymesh/internal/usecase/scoring"
	"github.com/paymesh-io/paymesh/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting paymesh agent",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("principal", cfg.Agent.Principal),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register agent metrics explicitly (no init())
	metrics.RegisterAgentMetrics()

	// Repositories (domain-native, no adapters)
	provRepo := providerrepo.New(store)
	budgetRepo := budgetrepo.New(store)
	decisionRepo := decisionrepo.New(store)

	// Use case services — composition root
	usageStore := metricsuc.NewStore(logger)

	registry := registryuc.New(provRepo, logger)
	if err := registry.Load(ctx); err != nil {
		logger.Fatal("Failed to load provider registry", zap.Error(err))
	}
	logger.Info("Provider registry loaded", zap.Int("providers", len(registry.List())))

	// Guard persistence attaches before Configure so existing spend
	// counters survive restarts.
	guard := budgetuc.NewGuard(logger).WithStore(ctx, budgetRepo)
	if err := guard.Configure(ctx, cfg.Agent.Principal,
		cfg.Agent.DailyLimit, cfg.Agent.MonthlyLimit, cfg.Agent.EmergencyThreshold); err != nil {
		logger.Fatal("Failed to configure agent budget", zap.Error(err))
	}

	scorer := scoringuc.New(usageStore, scoringuc.DefaultLearningRate, logger)

	oracleClient := oracle.NewClient(&oracle.Config{
		BaseURL:        cfg.Oracle.BaseURL,
		APIKey:         cfg.Oracle.APIKey,
		RequestTimeout: time.Duration(cfg.Oracle.RequestTimeoutSec) * time.Second,
		HealthInterval: time.Duration(cfg.Agent.HealthCheckIntervalSec) * time.Second,
		Logger:         logger,
	})
	defer oracleClient.Close()

	ledgerClient := ledger.NewClient(&ledger.Config{
		BaseURL:        cfg.Ledger.BaseURL,
		APIKey:         cfg.Ledger.APIKey,
		RequestTimeout: time.Duration(cfg.Ledger.RequestTimeoutSec) * time.Second,
		Logger:         logger,
	})

	gateway := gatewayuc.New(guard, ledgerClient, registry, usageStore, logger)
	payments := paymentuc.New(gateway, logger)

	settings := policyuc.DefaultSettings()
	settings.MaxCostPerTransaction = cfg.Agent.MaxCostPerTransaction
	settings.ReliabilityThreshold = cfg.Agent.ReliabilityThreshold
	settings.PreferredChains = cfg.Agent.PreferredChains
	settings.AutoOptimization = cfg.Agent.AutoOptimizationEnabled()

	engine := policyuc.New(usageStore, registry, scorer, guard, oracleClient, cfg.Agent.Principal, logger).
		WithSettings(settings).
		WithHistoryStore(ctx, decisionRepo)

	healthSvc := healthuc.New(store, oracleClient)

	server := chiTransport.NewServer(registry, payments, engine, guard, usageStore, scorer, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	// Background loops
	sched := scheduler.New(logger)
	mustRegister(logger, sched, "optimize",
		time.Duration(cfg.Agent.OptimizeIntervalSec)*time.Second,
		func(ctx context.Context) error {
			engine.Evaluate(ctx)
			return nil
		})
	mustRegister(logger, sched, "rebalance",
		time.Duration(cfg.Agent.RebalanceIntervalSec)*time.Second,
		func(ctx context.Context) error {
			engine.RunRebalanceTick(ctx)
			return nil
		})
	mustRegister(logger, sched, "oracle-health",
		time.Duration(cfg.Agent.HealthCheckIntervalSec)*time.Second,
		oracleClient.Probe)
	mustRegister(logger, sched, "payment-sweep",
		time.Duration(cfg.Agent.PaymentSweepIntervalSec)*time.Second,
		func(ctx context.Context) error {
			processed, completed := payments.Sweep(ctx)
			if processed > 0 {
				logger.Info("Payment sweep finished",
					zap.Int("processed", processed),
					zap.Int("completed", completed),
				)
			}
			return nil
		})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(runCtx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
		}
		sched.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
	logger.Info("Server stopped gracefully")
}

func mustRegister(logger *zap.Logger, s *scheduler.Scheduler, name string, interval time.Duration, run func(ctx context.Context) error) {
	if err := s.Register(name, interval, run); err != nil {
		logger.Fatal("Failed to register job", zap.String("job", name), zap.Error(err))
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}

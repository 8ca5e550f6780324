package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"casino-ewallet/config"
	"casino-ewallet/internal/adapter/casino"
	"casino-ewallet/internal/adapter/gateway"
	httpHandler "casino-ewallet/internal/adapter/http/handler"
	"casino-ewallet/internal/adapter/metrics"
	pgStorage "casino-ewallet/internal/adapter/storage/postgres"
	redisStorage "casino-ewallet/internal/adapter/storage/redis"
	"casino-ewallet/internal/core/ports"
	"casino-ewallet/internal/service"
	"casino-ewallet/pkg/clock"
	"casino-ewallet/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (default ./config.yaml)")
	migrateOnly := pflag.Bool("migrate", false, "apply database migrations and exit")
	issueUser := pflag.String("issue-token", "", "print a JWT for the given user id and exit")
	issueRole := pflag.String("role", ports.RolePlayer, "role for -issue-token (player or operator)")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	if *issueUser != "" {
		if err := issueToken(tokenSvc, *issueUser, *issueRole); err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *migrateOnly || cfg.Database.MigrateOnStart {
		if err := pgStorage.RunMigrations(cfg.Database.DSN(), log); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		if *migrateOnly {
			return
		}
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Casino E-Wallet")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	txRepo := pgStorage.NewTransactionRepo(pool)
	qrRepo := pgStorage.NewQRPaymentRepo(pool)
	accountRepo := pgStorage.NewCasinoAccountRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	locker := redisStorage.NewLocker(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb, clock.RealClock{})
	webhookCache := redisStorage.NewWebhookCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb, clock.RealClock{})

	// External collaborators
	gatewayClient := gateway.NewClient(cfg.Gateway, &http.Client{Timeout: cfg.Gateway.Timeout}, log)
	casinoClient := casino.NewClient(cfg.Casino, &http.Client{Timeout: cfg.Casino.Timeout}, log)

	// Metrics
	var (
		sink           ports.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink = metrics.New(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	// Initialize business services
	clk := clock.RealClock{}
	sigSvc := service.NewHMACSignatureService()
	auditSvc := service.NewAuditService(auditRepo, log)
	executor := service.NewTransferExecutor(
		txRepo,
		accountRepo,
		casinoClient,
		locker,
		nonceStore,
		sink,
		clk,
		service.NewRetryPolicy(cfg.Reconciler),
		service.NewExecutorConfig(cfg),
		log,
	)
	gate := service.NewWebhookGate(txRepo, executor, webhookCache, sink, clk, cfg.Webhook.DedupTTL, log)
	depositSvc := service.NewDepositService(
		txRepo,
		qrRepo,
		transactor,
		gatewayClient,
		gate,
		executor,
		locker,
		auditSvc,
		clk,
		service.NewDepositConfig(cfg),
		log,
	)

	// Reconciliation sweep
	var workers sync.WaitGroup
	if cfg.Reconciler.Enabled {
		reconciler := service.NewReconciler(txRepo, qrRepo, gatewayClient, gate, executor, locker, sink, clk, cfg.Reconciler, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			reconciler.Start(ctx)
		}()
	} else {
		log.Warn().Msg("Reconciler disabled; stuck deposits will not be retried")
	}

	if cfg.Webhook.Secret == "" {
		log.Warn().Msg("Webhook secret empty; gateway signatures are not verified")
	}

	gin.SetMode(cfg.Server.Mode)
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		DepositSvc:     depositSvc,
		SigSvc:         sigSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		RateLimits:     cfg.RateLimit,
		HealthCheckers: []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		AuditSvc:       auditSvc,
		MetricsHandler: metricsHandler,
		MetricsPath:    cfg.Metrics.Path,
		Webhook:        cfg.Webhook,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	// In-flight handlers may be waiting on a casino transfer.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// The sweep finishes its current item before Start returns.
	workersDone := make(chan struct{})
	go func() {
		workers.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		log.Error().Msg("Reconciler did not stop before shutdown deadline")
	}

	log.Info().Msg("Server exited")
}

// issueToken prints a bearer token for local testing and operator bootstrap.
func issueToken(tokens ports.TokenService, user, role string) error {
	if role != ports.RolePlayer && role != ports.RoleOperator {
		return fmt.Errorf("unknown role %q", role)
	}
	userID, err := uuid.Parse(user)
	if err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	token, expiresAt, err := tokens.Generate(userID, user, role)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
	return nil
}

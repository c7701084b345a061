package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/inboxguard/internal/adapter/api"
	"github.com/V4T54L/inboxguard/internal/adapter/metrics"
	"github.com/V4T54L/inboxguard/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/inboxguard/internal/adapter/repository/redis"
	"github.com/V4T54L/inboxguard/internal/channelauth"
	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/idempotency"
	"github.com/V4T54L/inboxguard/internal/lock"
	"github.com/V4T54L/inboxguard/internal/pkg/config"
	"github.com/V4T54L/inboxguard/internal/pkg/logger"
	"github.com/V4T54L/inboxguard/internal/tenancy"
	"github.com/V4T54L/inboxguard/internal/usecase"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	m := metrics.New(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database and Redis Connections ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisAddr)
	if err != nil {
		log.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Locks, markers and the auth cache fail safe while Redis is down.
		log.Warn("could not connect to redis, starting degraded", "error", err)
	}

	// --- Repositories ---
	enforcer := tenancy.NewEnforcer(domain.EntityAccount, domain.TenantScopedEntities, log, m)
	accounts := postgres.NewAccountRepository(db, enforcer)
	inboxes := postgres.NewInboxRepository(db, enforcer)
	conversations := postgres.NewConversationRepository(db, enforcer)
	messages := postgres.NewMessageRepository(db, enforcer)
	credentials := postgres.NewCredentialStore(db, log)

	kv := redisrepo.NewKVStore(redisClient)
	queue := redisrepo.NewEventQueue(redisClient, log, cfg.InboundStream, cfg.InboundDLQStream, cfg.ConsumerGroup)

	// --- Correctness core ---
	locks := lock.NewManager(kv, log, m)
	guard := idempotency.NewGuard(kv, messages, locks, log, m,
		idempotency.WithInFlightTTL(cfg.InFlightTTL),
		idempotency.WithLockTTL(cfg.LockTTL),
	)
	authCache := channelauth.NewCache(kv, credentials, log, m, cfg.AuthCacheTTL)

	// --- Admin and Metrics Server ---
	adminUseCase := usecase.NewAdminUseCase(redisrepo.NewAdminRepository(redisClient, log), locks, guard, authCache,
		cfg.InboundStream, cfg.InboundDLQStream, cfg.ConsumerGroup)
	adminServer := &http.Server{
		Addr:              cfg.AdminServerAddr,
		Handler:           api.NewAdminRouter(adminUseCase, prometheus.DefaultGatherer, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Webhook Server ---
	ingestUseCase := usecase.NewIngestWebhookUseCase(inboxes, guard, queue, log, m)
	router := api.NewRouter(cfg, log, api.Dependencies{
		Accounts:      accounts,
		Memberships:   credentials,
		Inboxes:       inboxes,
		Conversations: conversations,
		AuthCache:     authCache,
		Ingest:        ingestUseCase,
	})
	webhookServer := &http.Server{
		Addr:              cfg.WebhookServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info("starting webhook server", "addr", webhookServer.Addr)
		if err := webhookServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("webhook server failed", "error", err)
			stop()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	log.Info("shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := webhookServer.Shutdown(shutdownCtx); err != nil {
		log.Error("webhook server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}
	log.Info("servers shut down gracefully")
}

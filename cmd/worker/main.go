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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/inboxguard/internal/adapter/metrics"
	"github.com/V4T54L/inboxguard/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/inboxguard/internal/adapter/repository/redis"
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
	log.Info("starting inbound worker")
	m := metrics.New(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisAddr)
	if err != nil {
		log.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

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
	log.Info("connected to postgres")

	// Consumer names must be unique per process, including several workers on one host.
	hostname, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		hostname = "worker"
	}
	consumerName := hostname + "-" + uuid.NewString()[:8]

	enforcer := tenancy.NewEnforcer(domain.EntityAccount, domain.TenantScopedEntities, log, m)
	messages := postgres.NewMessageRepository(db, enforcer)
	repos := usecase.Repositories{
		Accounts:      postgres.NewAccountRepository(db, enforcer),
		Inboxes:       postgres.NewInboxRepository(db, enforcer),
		Contacts:      postgres.NewContactRepository(db, enforcer),
		Conversations: postgres.NewConversationRepository(db, enforcer),
		Messages:      messages,
	}

	kv := redisrepo.NewKVStore(redisClient)
	queue := redisrepo.NewEventQueue(redisClient, log, cfg.InboundStream, cfg.InboundDLQStream, cfg.ConsumerGroup)
	locks := lock.NewManager(kv, log, m)
	guard := idempotency.NewGuard(kv, messages, locks, log, m,
		idempotency.WithInFlightTTL(cfg.InFlightTTL),
		idempotency.WithLockTTL(cfg.LockTTL),
		idempotency.WithRetryPolicy(lock.RetryPolicy{
			MaxAttempts: cfg.LockRetryAttempts,
			BaseDelay:   cfg.LockRetryBaseDelay,
			MaxDelay:    cfg.LockRetryMaxDelay,
		}),
	)

	processor := usecase.NewProcessInboundUseCase(queue, repos, guard, usecase.WorkerConfig{
		Group:        cfg.ConsumerGroup,
		Consumer:     consumerName,
		BatchSize:    cfg.WorkerBatchSize,
		MaxRequeues:  cfg.MaxRequeues,
		ClaimMinIdle: cfg.ClaimMinIdle,
	}, log, m)

	metricsServer := &http.Server{Addr: cfg.AdminServerAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	log.Info("inbound worker started", "group", cfg.ConsumerGroup, "consumer", consumerName)

Loop:
	for {
		select {
		case <-ticker.C:
			// Keep reading while batches still produce new messages.
			for {
				created, err := processor.ProcessBatch(ctx)
				if err != nil {
					log.Error("error processing batch", "error", err)
					break
				}
				if created == 0 || ctx.Err() != nil {
					break
				}
			}
		case <-ctx.Done():
			log.Info("context cancelled, shutting down worker loop")
			break Loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}
	log.Info("inbound worker shut down gracefully")
}

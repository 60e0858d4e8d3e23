package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"aside/apps/funding/internal/admin"
	"aside/apps/funding/internal/api"
	"aside/apps/funding/internal/audit_materializer"
	"aside/apps/funding/internal/config"
	"aside/apps/funding/internal/cycle"
	"aside/apps/funding/internal/deadline"
	"aside/apps/funding/internal/event_publisher"
	"aside/apps/funding/internal/lock"
	"aside/apps/funding/internal/metrics"
	"aside/apps/funding/internal/pool"
	"aside/apps/funding/internal/proofstore"
	"aside/apps/funding/internal/repository"
	"aside/apps/funding/internal/requests"
	"aside/apps/funding/internal/schedule"
	"aside/apps/funding/internal/scheduler"
	"aside/apps/funding/internal/settlement"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg := config.NewConfig()

	logger.Info("Starting application with configuration",
		zap.Int("api_port", cfg.APIPort),
		zap.Strings("currencies", cfg.Currencies),
		zap.String("merge_timezone", cfg.MergeLocation.String()),
		zap.Duration("join_window", cfg.JoinWindow),
		zap.Duration("proof_deadline", cfg.ProofDeadline),
		zap.Duration("confirmation_deadline", cfg.ConfirmationDeadline),
		zap.Bool("require_opt_in", cfg.RequireOptIn),
		zap.Bool("pool_fallback", cfg.PoolFallbackEnabled),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.Bool("redis_locks", cfg.RedisURL != ""),
		zap.Bool("minio_proofs", cfg.MinioEndpoint != ""),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.Migrate(db, logger); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	store := repository.NewPostgresStore(db, logger)
	auditRepository := repository.NewAuditRepository(db, logger)
	clock := schedule.SystemClock{}
	calendar := cfg.Calendar()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Proof artefacts go to MinIO when configured, with the local directory as fallback
	local, err := proofstore.NewLocal(cfg.ProofLocalDir)
	if err != nil {
		logger.Fatal("Failed to prepare local proof directory", zap.Error(err))
	}
	var primary proofstore.Backend
	if cfg.MinioEndpoint != "" {
		mc, err := proofstore.NewMinio(proofstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal("Failed to create MinIO client", zap.Error(err))
		}
		if err := mc.EnsureBucket(ctx); err != nil {
			logger.Warn("MinIO bucket not ready, proofs will use the local store", zap.Error(err))
		}
		primary = mc
	}
	proofs := proofstore.New(primary, local, logger, m)

	// Background jobs coordinate through Redis when several replicas run
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, "funding:lock:")
	}

	p := pool.New(logger, m)
	requestService := requests.NewService(store, calendar, clock, requests.Options{
		MinAmount:  cfg.MinAmount,
		MaxAmount:  cfg.MaxAmount,
		Currencies: cfg.Currencies,
	}, logger)
	settlementService := settlement.NewService(store, proofs, p, clock, settlement.Options{
		ProofDeadline:        cfg.ProofDeadline,
		ConfirmationDeadline: cfg.ConfirmationDeadline,
		ExtensionDuration:    cfg.ExtensionDuration,
		ProofRetention:       time.Duration(cfg.ProofRetentionDays) * 24 * time.Hour,
	}, logger, m)
	orchestrator := cycle.NewOrchestrator(store, calendar, p, cycle.Options{
		Currencies:    cfg.Currencies,
		ProofDeadline: cfg.ProofDeadline,
		RequireOptIn:  cfg.RequireOptIn,
		PoolFallback:  cfg.PoolFallbackEnabled,
		HorizonDays:   cfg.CycleHorizonDays,
	}, logger, m)
	enforcer := deadline.NewEnforcer(store, settlementService, logger)
	adminService := admin.NewService(store, auditRepository, clock, cfg.Currencies, logger)

	sched := scheduler.New(calendar, clock, locker, orchestrator, enforcer, proofs, scheduler.Options{
		Interval:        cfg.SweepInterval,
		AfterJoinWindow: cfg.RequireOptIn,
	}, logger)
	sched.Start(ctx)

	// Kafka is optional; without it outbox rows stay unsent and the audit trail stays empty
	if cfg.KafkaBroker != "" {
		eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger, repository.NewOutboxRepository(db, logger), m)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
		defer eventPublisher.Close()
		go eventPublisher.Start(ctx)

		materializer, err := audit_materializer.NewAuditMaterializer(cfg.KafkaBroker, cfg.KafkaTopic, logger, auditRepository)
		if err != nil {
			logger.Fatal("Failed to create audit materializer", zap.Error(err))
		}
		defer materializer.Close()
		go func() {
			if err := materializer.Start(ctx); err != nil {
				logger.Error("Audit materializer stopped", zap.Error(err))
			}
		}()
	}

	apiServer := api.NewServer(cfg.APIPort, api.Handlers{
		Requests: api.NewRequestHandler(requestService, logger),
		Matches:  api.NewMatchHandler(settlementService, logger),
		Admin:    api.NewAdminHandler(adminService, settlementService, orchestrator, clock, logger),
	}, registry, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}
	sched.Stop()
	cancel()

	logger.Info("Application shutdown complete")
}

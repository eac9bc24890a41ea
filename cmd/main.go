package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"synxronusage/internal/auth"
	"synxronusage/internal/blob"
	"synxronusage/internal/config"
	"synxronusage/internal/events"
	"synxronusage/internal/handler"
	"synxronusage/internal/jobs"
	"synxronusage/internal/lock"
	"synxronusage/internal/metrics"
	"synxronusage/internal/repository"
	"synxronusage/internal/service/content"
	"synxronusage/internal/service/repousage"
	"synxronusage/internal/service/usage"
	"synxronusage/internal/txn"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func connectWithRetry(cfg config.DatabaseConfig, maxAttempts int, delay time.Duration, logger *zap.Logger) (*sqlx.DB, error) {
	// Connect to the maintenance database first and create ours if missing.
	sys := cfg
	sys.Name = "postgres"
	pgDB, err := sqlx.Connect("postgres", sys.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres database: %w", err)
	}
	defer pgDB.Close()

	var exists bool
	err = pgDB.Get(&exists, "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1)", cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		logger.Info("database does not exist, creating", zap.String("database", cfg.Name))
		if _, err := pgDB.Exec(fmt.Sprintf("CREATE DATABASE %q", cfg.Name)); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	var db *sqlx.DB
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", cfg.GetDSN())
		if err == nil {
			return db, nil
		}
		logger.Warn("failed to connect to database",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

func newBlobStore(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (blob.Store, error) {
	if cfg.Bucket == "" {
		logger.Warn("no S3 bucket configured, content is kept in memory")
		return blob.NewMemory(), nil
	}
	return blob.NewS3(ctx, blob.S3Config{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
	})
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("server exited properly")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := connectWithRetry(cfg.Database, 5, 5*time.Second, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.Migrate(cfg.Database.GetURL(), logger); err != nil {
		return err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := repository.NewPostgres(db, logger)
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	blobs, err := newBlobStore(ctx, cfg.S3, logger)
	if err != nil {
		return err
	}

	clock := quartz.NewReal()
	m := metrics.New(true)
	locks := lock.NewRedisService(redisClient, cfg.Redis.KeyPrefix)
	authority := auth.NewAuthority(cfg.Auth.SystemUser, cfg.Auth.AdminUsers)
	txm := txn.NewManager(store, cfg.Usage.TxRetries, logger)
	dispatcher := events.NewDispatcher()

	usageService := usage.NewService(m, logger)
	guard := usage.NewQuotaGuard(usageService, authority, m, logger)
	contentUsage := usage.NewContentUsage(usageService, guard, authority, cfg.Usage.Stores, cfg.Usage.Enabled, logger)
	contentUsage.Register(dispatcher)
	tracking := usage.NewTracking(usage.TrackingConfig{
		Enabled:   cfg.Usage.Enabled,
		BatchSize: cfg.Usage.BatchSize,
		LockTTL:   cfg.Usage.LockTTL,
	}, txm, usageService, contentUsage, locks, clock, m, logger)

	contentService := content.NewService(txm, dispatcher, blobs, clock, cfg.Usage.Enabled, m, logger)

	excluded := append([]string{cfg.Auth.SystemUser}, cfg.RepoUsage.ExcludedUsers...)
	component := repousage.NewComponent(repousage.Config{
		Stores:        cfg.Usage.Stores,
		ExcludedUsers: excluded,
		LockTTL:       cfg.RepoUsage.LockTTL,
	}, txm, locks, clock, m, logger)
	monitor := repousage.NewMonitor(component, txm, m, logger)
	health := handler.NewHealthReporter()
	monitor.AddListener(health)

	restrictions, err := cfg.RepoUsage.Restrictions()
	if err != nil {
		return err
	}
	if err := component.SetRestrictions(ctx, restrictions); err != nil {
		return err
	}

	if err := tracking.Bootstrap(ctx); err != nil {
		logger.Error("usage bootstrap failed", zap.Error(err))
	}

	scheduler := jobs.NewScheduler(logger)
	if err := scheduler.Add("usage-collapse", cfg.Usage.CollapseSchedule, 0, tracking.Execute); err != nil {
		return err
	}
	if err := scheduler.Add("repo-usage", cfg.RepoUsage.Schedule, 0, monitor.Check); err != nil {
		return err
	}
	err = scheduler.Add("archive-purge", cfg.Archive.PurgeSchedule, 0, func(ctx context.Context) error {
		_, err := contentService.PurgeArchived(ctx, cfg.Archive.Retention)
		return err
	})
	if err != nil {
		return err
	}
	_ = scheduler.Run(ctx, "repo-usage")
	scheduler.Start()

	router := handler.NewRouter(handler.RouterConfig{
		Authority:      authority,
		Usage:          handler.NewUsageHandler(txm, contentUsage, tracking, authority, logger),
		RepoUsage:      handler.NewRepoUsageHandler(txm, component, monitor, logger),
		Content:        handler.NewContentHandler(contentService, authority, logger),
		Metrics:        m.Handler(),
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, health.Server())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}
		logger.Info("starting gRPC server", zap.String("port", cfg.Server.GRPCPort))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		health.Shutdown()
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("background jobs did not stop in time", zap.Error(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server forced to shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidegate/armada/internal/api"
	"github.com/tidegate/armada/internal/auth"
	"github.com/tidegate/armada/internal/config"
	"github.com/tidegate/armada/internal/event"
	"github.com/tidegate/armada/internal/repository/postgres"
	"github.com/tidegate/armada/internal/service"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Info("starting armada",
		"listen", cfg.ListenAddr(),
		"db_host", cfg.DB.Host,
		"node_id", cfg.NodeID,
	)

	// Run migrations
	log.Info("running database migrations")
	if err := postgres.RunMigrations(cfg.DB.DSN()); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations completed")

	// Database connection pool
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	log.Info("database connected")

	// Event publisher: redis when configured, log otherwise
	var publisher event.Publisher = event.NewLogPublisher(log)
	if cfg.Redis.Addr != "" {
		redisPub, err := event.NewRedisPublisher(event.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("init redis publisher: %w", err)
		}
		defer redisPub.Close()
		publisher = redisPub
		log.Info("redis publisher connected", "addr", cfg.Redis.Addr)
	}

	// Store
	store := postgres.NewStore(pool, publisher, log)

	// Services
	quotas := service.StaticQuotas{
		TargetsPerManualAssignment: cfg.Quota.MaxTargetsPerManualAssignment,
		ActionsPerTarget:           cfg.Quota.MaxActionsPerTarget,
	}
	tenantCfg := service.StaticTenantConfig{Autoclose: cfg.Deploy.ActionsAutoclose}

	provisioningSvc := service.NewProvisioningService(store, log)
	deploymentSvc := service.NewDeploymentService(store, quotas, tenantCfg, cfg.NodeID, cfg.Deploy.ChunkSize, log)
	scheduler := service.NewRolloutScheduler(store, tenantCfg, cfg.NodeID, cfg.Deploy.ActionPageLimit, log)
	cleanupSvc := service.NewCleanupService(store, cfg.Deploy.ChunkSize, cfg.Cleanup.Retention, log)

	// Background cleanup
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go cleanupSvc.StartScheduler(cleanupCtx, cfg.Cleanup.Interval)

	// Auth
	jwtMgr := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)

	// Router
	router := api.NewRouter(api.RouterDeps{
		ProvisioningSvc: provisioningSvc,
		DeploymentSvc:   deploymentSvc,
		Scheduler:       scheduler,
		CleanupSvc:      cleanupSvc,
		JWTManager:      jwtMgr,
		AdminEmail:      cfg.Auth.AdminEmail,
		AdminPassword:   cfg.Auth.AdminPassword,
		CORSOrigins:     cfg.CORS.AllowedOrigins,
		Logger:          log,
	})

	// HTTP Server
	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.ListenAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	stopCleanup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

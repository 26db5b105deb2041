package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/blocks"
	"github.com/hackgods/clinic-scheduling/internal/cache"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/patient"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/webhook"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server")
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", cfg.Version)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	m := metrics.New(nil)
	bus := events.NewBus(rdb, cfg.ChangeStaleness, logger)

	clinicRepo := clinic.NewPgRepository(pgPool)
	clinicSvc := clinic.NewService(clinicRepo, bus, logger)

	apptRepo := appointment.NewPgRepository(pgPool)
	blockSvc := blocks.NewService(blocks.NewPgRepository(pgPool), apptRepo, bus, logger)
	listing := cache.NewListingCache(rdb, apptRepo, cfg.ListingCacheTTL, logger, m)

	apptSvc := appointment.NewService(apptRepo, redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL), cfg, appointment.Deps{
		Clinics:   clinicSvc,
		Patients:  patient.NewPgRepository(pgPool),
		Notifier:  notify.NewDispatcher(notify.NewPgJobStore(pgPool), logger),
		Webhooks:  webhook.NewDispatcher(clinicSvc, webhook.NewPgStore(pgPool), cfg, logger, m),
		Cache:     listing,
		Publisher: bus,
		Logger:    logger,
		Metrics:   m,
	})
	resolver := availability.NewResolver(clinicSvc, apptRepo, blockSvc, cfg, logger, m)

	router := api.NewRouter(api.RouterConfig{
		Appointments: apptSvc,
		Slots:        resolver,
		Blocks:       blockSvc,
		Clinics:      clinicSvc,
		Changes:      bus,
		Verifier:     access.NewVerifier(cfg.JWTSecret),
		Health:       api.NewHealthHandler(pgPool.Ping, redisPing(rdb), cfg.Env, cfg.Version),
		Logger:       logger,
	})

	// changes made by other instances must drop this instance's listings too
	go func() {
		if err := bus.Subscribe(rootCtx, listing.OnChange(rootCtx)); err != nil {
			logger.Error("change subscriber stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	if err := apptSvc.Drain(shutdownCtx); err != nil {
		logger.Warn("background side effects still running at shutdown", "error", err)
	}

	logger.Info("api-server stopped")
}

func redisPing(rdb *redis.Client) api.Check {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

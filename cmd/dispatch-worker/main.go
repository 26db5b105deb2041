package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/webhook"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// dispatch-worker sends queued emails and retries failed webhooks.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "dispatch-worker")
	logger.Info("dispatch-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval, "email_provider", cfg.EmailProvider)

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

	sender, err := notify.NewEmailSender(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("email sender setup failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New(nil)
	emails := notify.NewProcessor(notify.NewPgJobStore(pgPool), sender, cfg, logger, m)
	hooks := webhook.NewDispatcher(clinic.NewPgRepository(pgPool), webhook.NewPgStore(pgPool), cfg, logger, m)

	// Run once at startup
	runOnce(rootCtx, logger, emails, hooks)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping dispatch worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, emails, hooks)
		}
	}
}

func runOnce(ctx context.Context, logger *logging.Logger, emails *notify.Processor, hooks *webhook.Dispatcher) {
	runCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := emails.RunOnce(runCtx)
	if err != nil {
		logger.Error("email run error", "error", err)
	}
	redelivered, err := hooks.RunOnce(runCtx)
	if err != nil {
		logger.Error("webhook run error", "error", err)
	}
	logger.Info("dispatch run complete", "emails", sent, "webhooks", redelivered, "duration_ms", time.Since(start).Milliseconds())
}

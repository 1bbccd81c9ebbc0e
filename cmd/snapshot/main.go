// Package main provides the snapshot worker entry point. It pulls every
// configured account once a day at SNAPSHOT_RUN_AT in SNAPSHOT_TIMEZONE.
//
// Usage:
//
//	snapshot        run the daily scheduler until SIGINT/SIGTERM
//	snapshot run    pull every account once and exit
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pnl-tracker/internal/app"
	"github.com/pnl-tracker/internal/config"
	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/service"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() {
		_ = logger.Sync()
	}()

	if len(cfg.Accounts) == 0 {
		logger.Fatal("No accounts configured (set KRAKEN_API_KEY or ACCOUNTS_FILE)")
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	scheduler := a.Scheduler()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One-shot mode
	if len(os.Args) > 1 && os.Args[1] == "run" {
		logger.Info("Running snapshot immediately...")
		if failed := countFailures(scheduler.RunAll(ctx)); failed > 0 {
			logger.WithField("failed", failed).Error("Snapshot finished with failures")
			a.Close()
			os.Exit(1)
		}
		logger.Info("Snapshot complete")
		return
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}

	<-ctx.Done()
	logger.Info("Shutting down snapshot worker...")
	if err := scheduler.Stop(); err != nil {
		logger.WithError(err).Warn("Scheduler stop")
	}
	logger.Info("Worker stopped")
}

func countFailures(outcomes []service.AccountOutcome) int {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	return failed
}

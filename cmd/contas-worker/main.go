package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"contas/internal/amqp"
	"contas/internal/config"
	"contas/internal/export"
	applog "contas/internal/log"
	"contas/internal/services"
	"contas/internal/storage"
	"contas/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := applog.Setup(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	logger.Info("Starting contas-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Settlement history mirror is optional; notifications work without it.
	var history export.HistoryWriter
	if cfg.SheetsEnabled() {
		sheets, err := export.NewSheetsWriter(ctx, export.SheetsConfig{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsFile: cfg.GoogleCredentialsFile,
			CredentialsJSON: cfg.GoogleCredentialsJSON,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets writer", "error", err)
			os.Exit(1)
		}
		history = sheets
		logger.Info("Settlement history mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Settlement history mirror disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	notifications := worker.NewNotificationWorker(repo, history)
	go func() {
		err := amqpClient.ConsumeSettlementEvents(ctx, func(msg *amqp.SettlementEventMessage) error {
			return notifications.HandleSettlementEvent(ctx, msg)
		})
		if err != nil && err != context.Canceled {
			logger.Error("Settlement event consumption failed", "error", err)
		}
		cancel()
	}()

	// Periodically materialize installments whose competence month has
	// started but whose rows were never created.
	installments := services.NewInstallmentProcessor(repo)
	go func() {
		ticker := time.NewTicker(cfg.InstallmentInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				created, err := installments.ProcessDue(ctx, time.Now())
				if err != nil {
					logger.Error("Installment materialization failed", "error", err)
				} else if created > 0 {
					logger.Info("Materialized due installments", "count", created)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	cancel()
	logger.Info("Worker shutdown complete")
}

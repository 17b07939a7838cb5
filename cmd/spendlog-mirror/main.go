// Command spendlog-mirror copies the SQLite ledger documents to the Google
// Sheets store, so the spreadsheet can serve as a readable backup.
package main

import (
	"context"
	"os"
	"time"

	"spendlog/internal/cli"
	"spendlog/internal/log"
	"spendlog/internal/persist/sheets"
	"spendlog/internal/storage"
	"spendlog/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(nil)
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg)

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	target, err := sheets.NewClient(initCtx, sheets.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
		OAuthClientJSON: cfg.GoogleOAuthClientJSON,
		OAuthClientFile: cfg.GoogleOAuthClientFile,
		OAuthTokenFile:  cfg.GoogleOAuthTokenFile,
	}, logger)
	initCancel()
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}

	mirror := worker.NewMirrorWorker(repo, target, logger)
	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, nil)

	logger.Info("Starting spendlog mirror",
		"interval", cfg.MirrorInterval.String(),
		"sheet", cfg.GoogleSheetName)
	mirror.Run(ctx, cfg.MirrorInterval)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Mirror stopped")
}

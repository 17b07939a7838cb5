package backend

import (
	"context"
	"errors"
	"fmt"

	"spendlog/internal/amqp"
	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/persist/cloud"
	"spendlog/internal/persist/memory"
	"spendlog/internal/persist/sheets"
	"spendlog/internal/storage"
)

// documents is what every provider offers: one-shot reads and versioned
// writes.
type documents interface {
	cloud.Documents
	Save(ctx context.Context, userID string, l *core.Ledger) error
}

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	return &DefaultFactory{
		logger: log.OrDiscard(logger).WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	docs, cleanup, err := f.createDocuments(ctx, config)
	if err != nil {
		return nil, err
	}

	if config.Mode == ModeLocalMock {
		f.logger.Info("Initialized local backend",
			log.FieldBackend, config.Type.String(),
			log.FieldMode, config.Mode.String())
		return &BackendResult{Mode: ModeLocalMock, Backend: docs, Cleanup: cleanup}, nil
	}

	broker, brokerCleanup := f.createBroker(ctx, config)
	live := cloud.New(docs, broker, f.logger)

	f.logger.Info("Initialized cloud backend",
		log.FieldBackend, config.Type.String(),
		log.FieldMode, config.Mode.String(),
		"amqp_enabled", brokerCleanup != nil)

	return &BackendResult{
		Mode:    ModeCloud,
		Backend: live,
		Live:    live,
		Cleanup: joinCleanup(brokerCleanup, cleanup),
	}, nil
}

func (f *DefaultFactory) createDocuments(ctx context.Context, config Config) (documents, CleanupFunc, error) {
	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (documents, CleanupFunc, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return repo, repo.Close, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (documents, CleanupFunc, error) {
	cli, err := sheets.NewClient(ctx, sheets.Config{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleSheetName,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
		OAuthClientJSON: config.GoogleOAuthClientJSON,
		OAuthClientFile: config.GoogleOAuthClientFile,
		OAuthTokenFile:  config.GoogleOAuthTokenFile,
	}, f.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.Info("Initialized Google Sheets backend", "sheet", config.GoogleSheetName)
	return cli, nil, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (documents, CleanupFunc, error) {
	var opts []memory.Option
	if config.SeedDemo {
		opts = append(opts, memory.WithDemoSeed())
	}
	if config.DataDirectory == "" {
		f.logger.Info("Initialized memory backend", "seed_demo", config.SeedDemo)
		return memory.New(opts...), nil, nil
	}
	store, err := memory.NewFromDir(config.DataDirectory, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize memory backend: %w", err)
	}
	f.logger.Info("Initialized memory backend",
		"data_directory", config.DataDirectory,
		"seed_demo", config.SeedDemo)
	return store, nil, nil
}

// createBroker dials AMQP when configured. A broker that cannot be reached
// falls back to in-process notices, which still serve every session this
// process owns.
func (f *DefaultFactory) createBroker(ctx context.Context, config Config) (cloud.Broker, CleanupFunc) {
	if config.AMQPURL == "" {
		return cloud.NewLocalBroker(), nil
	}
	client, err := amqp.NewClient(ctx, config.AMQPURL, config.AMQPExchange, f.logger)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, using in-process change feed", log.FieldError, err)
		return cloud.NewLocalBroker(), nil
	}
	f.logger.Info("Initialized AMQP client", "exchange", config.AMQPExchange)
	return client, client.Close
}

func joinCleanup(fns ...CleanupFunc) CleanupFunc {
	var live []CleanupFunc
	for _, fn := range fns {
		if fn != nil {
			live = append(live, fn)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return func() error {
		var errs []error
		for _, fn := range live {
			errs = append(errs, fn())
		}
		return errors.Join(errs...)
	}
}

// Package storage keeps ledger documents in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/persist"

	_ "modernc.org/sqlite"
)

const (
	selectLedger = `SELECT document, version, updated_at FROM ledgers WHERE user_id = ?`

	upsertLedger = `INSERT INTO ledgers (user_id, document, version, updated_at)
VALUES (?, ?, 1, ?)
ON CONFLICT(user_id) DO UPDATE SET
    document = excluded.document,
    version = ledgers.version + 1,
    updated_at = excluded.updated_at
RETURNING version`

	selectUsers = `SELECT user_id FROM ledgers ORDER BY user_id`

	deleteLedger = `DELETE FROM ledgers WHERE user_id = ?`
)

// Record is a stored document with its bookkeeping columns.
type Record struct {
	Ledger    *core.Ledger
	Version   int64
	UpdatedAt time.Time
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: log.OrDiscard(logger).WithComponent(log.ComponentStorage),
		now:    time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Get returns the stored record for userID or persist.ErrNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, userID string) (*Record, error) {
	var (
		doc       string
		version   int64
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, selectLedger, userID).Scan(&doc, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	l, err := persist.Decode([]byte(doc))
	if err != nil {
		return nil, err
	}
	return &Record{Ledger: l, Version: version, UpdatedAt: time.UnixMilli(updatedAt).UTC()}, nil
}

// Fetch implements persist.Fetcher
func (r *SQLiteRepository) Fetch(ctx context.Context, userID string) (*core.Ledger, error) {
	rec, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.Ledger, nil
}

// Save implements persist.Saver
func (r *SQLiteRepository) Save(ctx context.Context, userID string, l *core.Ledger) error {
	_, err := r.Put(ctx, userID, l)
	return err
}

// Put writes the whole document and returns its new version. Versions start
// at 1 and grow by one on every write.
func (r *SQLiteRepository) Put(ctx context.Context, userID string, l *core.Ledger) (int64, error) {
	data, err := persist.Encode(l)
	if err != nil {
		return 0, err
	}
	var version int64
	if err := r.db.QueryRowContext(ctx, upsertLedger, userID, string(data), r.now().UnixMilli()).Scan(&version); err != nil {
		return 0, fmt.Errorf("upsert ledger: %w", err)
	}

	r.logger.DebugContext(ctx, "Ledger saved to SQLite",
		log.FieldUserID, userID,
		log.FieldVersion, version,
		"trips", len(l.Trips))

	return version, nil
}

// Users lists the users with a stored document.
func (r *SQLiteRepository) Users(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, selectUsers)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Delete removes a user's document. Deleting a missing document is not an error.
func (r *SQLiteRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, deleteLedger, userID); err != nil {
		return fmt.Errorf("delete ledger: %w", err)
	}
	return nil
}

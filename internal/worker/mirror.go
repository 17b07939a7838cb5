// Package worker copies ledger documents from SQLite to a secondary store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spendlog/internal/log"
	"spendlog/internal/persist"
	"spendlog/internal/storage"
)

// Source lists the stored documents with their versions.
type Source interface {
	Users(ctx context.Context) ([]string, error)
	Get(ctx context.Context, userID string) (*storage.Record, error)
}

// Result summarizes one pass.
type Result struct {
	Checked int
	Copied  int
	Failed  int
}

// MirrorWorker keeps a secondary store (usually the spreadsheet) in step with
// SQLite. Documents whose version has not moved since the last copy are
// skipped.
type MirrorWorker struct {
	source Source
	target persist.Saver
	logger *log.Logger

	mu     sync.Mutex
	copied map[string]int64
}

func NewMirrorWorker(source Source, target persist.Saver, logger *log.Logger) *MirrorWorker {
	return &MirrorWorker{
		source: source,
		target: target,
		logger: log.OrDiscard(logger).WithComponent(log.ComponentWorker),
		copied: map[string]int64{},
	}
}

// SyncUser copies one user's document if it changed. It reports whether a
// copy was written.
func (w *MirrorWorker) SyncUser(ctx context.Context, userID string) (bool, error) {
	rec, err := w.source.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("get ledger %s: %w", userID, err)
	}

	w.mu.Lock()
	last, seen := w.copied[userID]
	w.mu.Unlock()
	if seen && last >= rec.Version {
		return false, nil
	}

	if err := w.target.Save(ctx, userID, rec.Ledger); err != nil {
		return false, fmt.Errorf("mirror ledger %s: %w", userID, err)
	}

	w.mu.Lock()
	w.copied[userID] = rec.Version
	w.mu.Unlock()

	w.logger.DebugContext(ctx, "Ledger mirrored",
		log.FieldUserID, userID,
		log.FieldVersion, rec.Version)
	return true, nil
}

// SyncAll runs SyncUser for every stored user. A failing user does not stop
// the pass; the failures are joined into the returned error.
func (w *MirrorWorker) SyncAll(ctx context.Context) (Result, error) {
	users, err := w.source.Users(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list users: %w", err)
	}

	var (
		res  Result
		errs []error
	)
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res.Checked++
		ok, err := w.SyncUser(ctx, u)
		switch {
		case err != nil:
			res.Failed++
			errs = append(errs, err)
		case ok:
			res.Copied++
		}
	}

	if res.Copied > 0 || res.Failed > 0 {
		w.logger.InfoContext(ctx, "Mirror pass completed",
			log.FieldOperation, log.OpSync,
			"checked", res.Checked,
			"copied", res.Copied,
			"failed", res.Failed)
	}
	return res, errors.Join(errs...)
}

// Run performs a pass at start-up and then every interval until ctx ends.
func (w *MirrorWorker) Run(ctx context.Context, interval time.Duration) {
	w.pass(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *MirrorWorker) pass(ctx context.Context) {
	if _, err := w.SyncAll(ctx); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "Mirror pass failed", log.FieldError, err)
	}
}

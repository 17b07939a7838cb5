// Package persist defines how ledgers are loaded, saved and watched.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"spendlog/internal/core"
)

// ErrNotFound is returned by Fetch when no document exists for the user.
var ErrNotFound = errors.New("ledger not found")

// Ports for outbound adapters.
type (
	Fetcher interface {
		Fetch(ctx context.Context, userID string) (*core.Ledger, error)
	}

	Saver interface {
		Save(ctx context.Context, userID string, l *core.Ledger) error
	}

	// Backend is the one-shot store every provider implements.
	Backend interface {
		Fetcher
		Saver
	}

	// Subscriber streams authoritative snapshots. The returned channel is
	// closed by the producer once ctx is cancelled or after it delivers an
	// event carrying Err.
	Subscriber interface {
		Subscribe(ctx context.Context, userID string) (<-chan Event, error)
	}

	// LiveBackend is a backend that can push updates.
	LiveBackend interface {
		Backend
		Subscriber
	}
)

// Event is one delivery of a subscription. Exactly one of the following
// holds: Err is set; Exists is false (no document yet); Ledger is set.
type Event struct {
	Ledger *core.Ledger
	Exists bool
	Err    error
}

// Encode serializes a ledger as the persisted JSON document.
func Encode(l *core.Ledger) ([]byte, error) {
	if l == nil {
		return nil, errors.New("encode ledger: nil ledger")
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}

// Decode parses a persisted document and normalizes it.
func Decode(data []byte) (*core.Ledger, error) {
	var l core.Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return core.Normalize(&l), nil
}

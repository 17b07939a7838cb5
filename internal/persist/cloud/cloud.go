// Package cloud is the subscription-capable ledger store: a durable document
// table plus a broker announcing every rewrite.
package cloud

import (
	"context"
	"errors"
	"fmt"

	"spendlog/internal/amqp"
	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/persist"
)

// ErrBrokerLost is delivered when the change feed ends while the
// subscription is still wanted.
var ErrBrokerLost = errors.New("change feed closed")

type (
	// Documents is the durable whole-document store.
	Documents interface {
		persist.Fetcher
		Put(ctx context.Context, userID string, l *core.Ledger) (version int64, err error)
	}

	// Broker fans out change notices.
	Broker interface {
		PublishLedgerChanged(ctx context.Context, userID string, version int64) error
		SubscribeLedgerChanges(ctx context.Context, userID string) (<-chan *amqp.LedgerChangedMessage, error)
	}
)

// Store implements persist.LiveBackend.
type Store struct {
	docs   Documents
	broker Broker
	logger *log.Logger
}

var _ persist.LiveBackend = (*Store)(nil)

func New(docs Documents, broker Broker, logger *log.Logger) *Store {
	return &Store{
		docs:   docs,
		broker: broker,
		logger: log.OrDiscard(logger).WithComponent(log.ComponentCloud),
	}
}

func (s *Store) Fetch(ctx context.Context, userID string) (*core.Ledger, error) {
	return s.docs.Fetch(ctx, userID)
}

// Save writes the document and announces it. A failed announcement is logged
// only: the document is durable and the writer already holds that state.
func (s *Store) Save(ctx context.Context, userID string, l *core.Ledger) error {
	version, err := s.docs.Put(ctx, userID, l)
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	if err := s.broker.PublishLedgerChanged(ctx, userID, version); err != nil {
		s.logger.WarnContext(ctx, "Ledger saved but change notice not published",
			log.FieldUserID, userID,
			log.FieldVersion, version,
			log.FieldError, err)
	}
	return nil
}

// Subscribe emits the current document, then the document again after every
// change notice. The feed is opened before the first read so no write between
// the two is missed.
func (s *Store) Subscribe(ctx context.Context, userID string) (<-chan persist.Event, error) {
	notices, err := s.broker.SubscribeLedgerChanges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("subscribe ledger changes: %w", err)
	}
	out := make(chan persist.Event, 1)
	go s.pump(ctx, userID, notices, out)
	return out, nil
}

func (s *Store) pump(ctx context.Context, userID string, notices <-chan *amqp.LedgerChangedMessage, out chan<- persist.Event) {
	defer close(out)

	send := func(ev persist.Event) bool {
		select {
		case out <- ev:
			return ev.Err == nil
		case <-ctx.Done():
			return false
		}
	}

	if !send(s.read(ctx, userID)) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				if ctx.Err() == nil {
					send(persist.Event{Err: ErrBrokerLost})
				}
				return
			}
			version := drain(notices, n.Version)
			s.logger.Debug("Ledger change received", log.FieldUserID, userID, log.FieldVersion, version)
			if !send(s.read(ctx, userID)) {
				return
			}
		}
	}
}

// drain swallows notices already queued; one read covers all of them.
func drain(notices <-chan *amqp.LedgerChangedMessage, version int64) int64 {
	for {
		select {
		case n, ok := <-notices:
			if !ok {
				return version
			}
			version = max(version, n.Version)
		default:
			return version
		}
	}
}

func (s *Store) read(ctx context.Context, userID string) persist.Event {
	l, err := s.docs.Fetch(ctx, userID)
	switch {
	case errors.Is(err, persist.ErrNotFound):
		return persist.Event{Exists: false}
	case err != nil:
		if ctx.Err() != nil {
			return persist.Event{Err: ctx.Err()}
		}
		return persist.Event{Err: fmt.Errorf("read ledger: %w", err)}
	default:
		return persist.Event{Ledger: l, Exists: true}
	}
}

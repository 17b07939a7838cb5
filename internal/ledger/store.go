// Package ledger holds the in-memory ledger of one signed-in user and runs
// the optimistic mutation pipeline: validate, apply to a fresh snapshot,
// publish, then persist in the background.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/notify"
	"spendlog/internal/persist"
)

var (
	// ErrNotLoaded is returned by mutations issued before the first snapshot.
	ErrNotLoaded = errors.New("ledger not loaded")
	ErrClosed    = errors.New("ledger store closed")
)

// pendingSave is the latest unsaved snapshot plus the success messages of
// every mutation folded into it.
type pendingSave struct {
	ledger   *core.Ledger
	messages []string
	gen      uint64
}

// Store owns the current snapshot of one user's ledger. Snapshots are never
// modified after publication; every change produces a new one.
type Store struct {
	userID      string
	backend     persist.Backend
	notifier    notify.Notifier
	logger      *log.Logger
	ids         *IDGenerator
	saveTimeout time.Duration

	mu      sync.Mutex
	snap    *core.Ledger
	subs    map[uint64]chan *core.Ledger
	nextSub uint64
	closed  bool

	qmu       sync.Mutex
	pending   *pendingSave
	enqueued  uint64
	settled   uint64
	settledCh chan struct{}

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
}

// Option configures a Store.
type Option func(*Store)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) { s.notifier = notify.OrDiscard(n) }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = log.OrDiscard(l).WithComponent(log.ComponentLedger) }
}

func WithIDGenerator(g *IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// WithSaveTimeout bounds each backend save. Zero, the default, leaves saves
// unbounded.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Store) { s.saveTimeout = d }
}

// New creates a store for userID and starts its save worker. The store has
// no snapshot until Replace or Refetch provides one.
func New(userID string, backend persist.Backend, opts ...Option) *Store {
	s := &Store{
		userID:      userID,
		backend:     backend,
		notifier:    notify.Discard,
		logger:      log.Discard().WithComponent(log.ComponentLedger),
		ids:         NewIDGenerator(nil),
		subs:        map[uint64]chan *core.Ledger{},
		settledCh:   make(chan struct{}),
		kick:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(log.FieldUserID, userID)
	go s.run()
	return s
}

func (s *Store) UserID() string { return s.userID }

// Snapshot returns the current ledger, or nil before the first load. The
// result is shared and must not be modified.
func (s *Store) Snapshot() *core.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe returns a channel receiving every new snapshot, starting with
// the current one. Delivery is latest-wins: a slow reader skips
// intermediate snapshots and the publisher never blocks. The cancel func
// closes the channel.
func (s *Store) Subscribe() (<-chan *core.Ledger, func()) {
	ch := make(chan *core.Ledger, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	if s.snap != nil {
		ch <- s.snap
	}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Replace adopts l wholesale without persisting it. A nil ledger installs
// the hollow default.
func (s *Store) Replace(l *core.Ledger) {
	next := core.Normalize(l.Clone())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.snap = next
	s.publishLocked()
}

// Refetch re-reads the stored document and replaces the snapshot with it.
// A missing document yields the hollow default. On failure the current
// snapshot is kept.
func (s *Store) Refetch(ctx context.Context) error {
	_, err := s.reconcile(ctx, false)
	return err
}

// reconcile fetches the stored document and installs it. With discard set,
// the pending save is dropped in the same critical section that installs the
// fetched snapshot, so nothing built on a rejected state reaches the backend.
// It returns the generation of the dropped save, or zero.
func (s *Store) reconcile(ctx context.Context, discard bool) (uint64, error) {
	l, err := s.backend.Fetch(ctx, s.userID)
	switch {
	case errors.Is(err, persist.ErrNotFound):
		l = nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Failed to refetch ledger", log.FieldOperation, log.OpRefetch, log.FieldError, err)
		s.notifier.Notify(notify.LevelError, MsgLoadFailed)
		return 0, fmt.Errorf("refetch ledger: %w", err)
	}

	next := core.Normalize(l.Clone())
	var dropped uint64
	s.mu.Lock()
	if discard {
		s.qmu.Lock()
		if s.pending != nil {
			dropped = s.pending.gen
			s.pending = nil
		}
		s.qmu.Unlock()
	}
	if !s.closed {
		s.snap = next
		s.publishLocked()
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.WarnContext(ctx, "Discarded queued changes built on the rejected ledger",
			log.FieldOperation, log.OpRefetch)
	}
	s.notifier.Notify(notify.LevelSuccess, MsgRefreshed)
	s.logger.DebugContext(ctx, "Ledger refetched", log.FieldOperation, log.OpRefetch)
	return dropped, nil
}

// Flush waits until every mutation issued before the call has been
// persisted, or reconciled after a failed save.
func (s *Store) Flush(ctx context.Context) error {
	s.qmu.Lock()
	target := s.enqueued
	s.qmu.Unlock()

	for {
		s.qmu.Lock()
		if s.settled >= target {
			s.qmu.Unlock()
			return nil
		}
		ch := s.settledCh
		s.qmu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			s.qmu.Lock()
			ok := s.settled >= target
			s.qmu.Unlock()
			if ok {
				return nil
			}
			return ErrClosed
		}
	}
}

// Close stops accepting mutations, writes any pending snapshot, closes every
// subscription and waits for the save worker to exit.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	close(s.quit)
	<-s.done
	return nil
}

// mutate applies fn to a copy of the current snapshot. On success the copy
// becomes the snapshot, is published and queued for saving; on error
// nothing changes.
func (s *Store) mutate(op, message string, fn func(next *core.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.snap == nil {
		return ErrNotLoaded
	}
	next := s.snap.Clone()
	if err := fn(next); err != nil {
		s.logger.Debug("Mutation rejected", log.FieldOperation, op, log.FieldError, err)
		return err
	}
	s.snap = next
	s.publishLocked()
	s.enqueue(next, message)
	s.logger.Debug("Mutation applied", log.FieldOperation, op)
	return nil
}

func (s *Store) publishLocked() {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.snap:
		default:
		}
	}
}

func (s *Store) enqueue(l *core.Ledger, message string) {
	s.qmu.Lock()
	s.enqueued++
	if s.pending == nil {
		s.pending = &pendingSave{}
	}
	s.pending.ledger = l
	if message != "" {
		s.pending.messages = append(s.pending.messages, message)
	}
	s.pending.gen = s.enqueued
	s.qmu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// run is the single save worker. Saves happen in mutation order and only the
// newest pending snapshot is written.
func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case <-s.kick:
			s.drain()
		case <-s.quit:
			s.drain()
			return
		}
	}
}

func (s *Store) drain() {
	for {
		s.qmu.Lock()
		p := s.pending
		s.pending = nil
		s.qmu.Unlock()
		if p == nil {
			return
		}
		s.settle(s.save(p))
	}
}

// save writes p and returns the generation now settled. A failed save
// reconciles with the backend and also settles any queued save it discards.
func (s *Store) save(p *pendingSave) uint64 {
	ctx := context.Background()
	if s.saveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.saveTimeout)
		defer cancel()
	}

	start := time.Now()
	err := s.backend.Save(ctx, s.userID, p.ledger)
	if err == nil {
		s.logger.Debug("Ledger saved",
			log.FieldOperation, log.OpSave,
			log.FieldDuration, time.Since(start).Milliseconds(),
			"mutations", len(p.messages))
		for _, msg := range p.messages {
			s.notifier.Notify(notify.LevelSuccess, msg)
		}
		return p.gen
	}

	s.logger.Error("Failed to save ledger, reconciling with backend",
		log.FieldOperation, log.OpSave,
		log.FieldError, err)
	s.notifier.Notify(notify.LevelError, MsgSaveFailed)
	// The save context may have expired; reconcile on a fresh one.
	dropped, _ := s.reconcile(context.Background(), true)
	return max(p.gen, dropped)
}

func (s *Store) settle(gen uint64) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if gen > s.settled {
		s.settled = gen
		close(s.settledCh)
		s.settledCh = make(chan struct{})
	}
}

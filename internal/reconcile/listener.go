// Package reconcile keeps a ledger store in step with what the backend holds.
//
// In local-mock mode the document is read once and re-read only on request.
// In cloud mode a standing subscription replaces the snapshot wholesale on
// every change; concurrent optimistic edits lose to later snapshots.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"spendlog/internal/backend"
	"spendlog/internal/core"
	"spendlog/internal/ledger"
	"spendlog/internal/log"
	"spendlog/internal/notify"
	"spendlog/internal/persist"
)

const (
	MsgMockLoadFailed      = "Impossibile caricare i dati di prova."
	MsgSyncFailed          = "Impossibile sincronizzare i dati in tempo reale. Controlla la connessione."
	MsgProfileCreateFailed = "Impossibile creare il profilo. Le modifiche non verranno salvate."
)

var ErrAlreadyStarted = errors.New("listener already started")

type State int

const (
	StateIdle State = iota
	StateLoaded
	StateSubscribing
	StateSynced
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateSubscribing:
		return "subscribing"
	case StateSynced:
		return "synced"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

type Listener struct {
	mode     backend.Mode
	userID   string
	store    *ledger.Store
	fetcher  persist.Fetcher
	live     persist.LiveBackend
	notifier notify.Notifier
	logger   *log.Logger

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Listener.
type Option func(*Listener)

func WithNotifier(n notify.Notifier) Option {
	return func(l *Listener) { l.notifier = notify.OrDiscard(n) }
}

func WithLogger(lg *log.Logger) Option {
	return func(l *Listener) { l.logger = log.OrDiscard(lg).WithComponent(log.ComponentReconcile) }
}

// NewLocal builds a listener that loads the document once.
func NewLocal(store *ledger.Store, fetcher persist.Fetcher, opts ...Option) *Listener {
	return newListener(backend.ModeLocalMock, store, fetcher, nil, opts)
}

// NewCloud builds a listener backed by a standing subscription.
func NewCloud(store *ledger.Store, live persist.LiveBackend, opts ...Option) *Listener {
	return newListener(backend.ModeCloud, store, live, live, opts)
}

func newListener(mode backend.Mode, store *ledger.Store, fetcher persist.Fetcher, live persist.LiveBackend, opts []Option) *Listener {
	l := &Listener{
		mode:     mode,
		userID:   store.UserID(),
		store:    store,
		fetcher:  fetcher,
		live:     live,
		notifier: notify.Discard,
		logger:   log.Discard().WithComponent(log.ComponentReconcile),
		state:    StateIdle,
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(log.FieldUserID, l.userID, log.FieldMode, mode.String())
	return l
}

func (l *Listener) Mode() backend.Mode { return l.mode }

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Ready is closed once the store holds its first snapshot, whether loaded,
// synced or the degraded default.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Start loads the ledger (local-mock) or opens the subscription (cloud).
// Failures degrade to the hollow default and are reported through the
// notifier; the returned error only signals misuse.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	if l.mode == backend.ModeLocalMock {
		defer close(l.done)
		l.loadOnce(ctx)
		return nil
	}
	return l.subscribe(ctx)
}

func (l *Listener) loadOnce(ctx context.Context) {
	doc, err := l.fetcher.Fetch(ctx, l.userID)
	switch {
	case errors.Is(err, persist.ErrNotFound):
		doc = nil
	case err != nil:
		l.logger.ErrorContext(ctx, "Failed to load ledger", log.FieldOperation, log.OpFetch, log.FieldError, err)
		l.notifier.Notify(notify.LevelError, MsgMockLoadFailed)
		doc = nil
	}
	l.store.Replace(doc)
	l.setState(StateLoaded)
	l.markReady()
}

func (l *Listener) subscribe(ctx context.Context) error {
	// The subscription outlives the caller's request; Close ends it.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.mu.Lock()
	l.cancel = cancel
	l.state = StateSubscribing
	l.mu.Unlock()

	events, err := l.live.Subscribe(subCtx, l.userID)
	if err != nil {
		defer close(l.done)
		cancel()
		l.fail(fmt.Errorf("subscribe: %w", err))
		return nil
	}
	l.logger.Info("Subscription opened", log.FieldOperation, log.OpSubscribe)
	go l.consume(subCtx, events)
	return nil
}

// consume handles events strictly one at a time until the producer closes
// the channel.
func (l *Listener) consume(ctx context.Context, events <-chan persist.Event) {
	defer close(l.done)
	for ev := range events {
		switch {
		case ev.Err != nil:
			l.fail(ev.Err)
			l.mu.Lock()
			l.cancel()
			l.mu.Unlock()
		case !ev.Exists:
			l.bootstrap(ctx)
		default:
			l.store.Replace(ev.Ledger)
			l.setState(StateSynced)
			l.markReady()
		}
	}
	l.logger.Debug("Subscription closed")
}

// bootstrap writes the default document for a new user. The listener stays
// in Subscribing until that write comes back as a snapshot.
func (l *Listener) bootstrap(ctx context.Context) {
	l.logger.Info("No ledger stored, creating default document")
	if err := l.live.Save(ctx, l.userID, core.DefaultLedger()); err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Error("Failed to create default ledger", log.FieldOperation, log.OpCreate, log.FieldError, err)
		l.notifier.Notify(notify.LevelError, MsgProfileCreateFailed)
		l.store.Replace(nil)
		l.setState(StateError)
		l.markReady()
	}
}

func (l *Listener) fail(err error) {
	l.logger.Error("Subscription failed, using default ledger", log.FieldOperation, log.OpSubscribe, log.FieldError, err)
	l.notifier.Notify(notify.LevelError, MsgSyncFailed)
	l.store.Replace(nil)
	l.setState(StateError)
	l.markReady()
}

// Refetch re-reads the stored document into the store. The state is left
// as is: a failed subscription is not reopened.
func (l *Listener) Refetch(ctx context.Context) error {
	err := l.store.Refetch(ctx)
	if err == nil && l.mode == backend.ModeLocalMock {
		l.setState(StateLoaded)
		l.markReady()
	}
	return err
}

// Close cancels the subscription and waits for the consumer to exit. It is
// safe to call more than once and before Start.
func (l *Listener) Close() error {
	l.mu.Lock()
	started := l.started
	cancel := l.cancel
	l.started = true
	l.mu.Unlock()

	if !started {
		close(l.done)
		return nil
	}
	if cancel != nil {
		cancel()
	}
	<-l.done
	return nil
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()
	if prev != s {
		l.logger.Debug("State changed", "from", prev.String(), log.FieldState, s.String())
	}
}

func (l *Listener) markReady() {
	l.readyOnce.Do(func() { close(l.ready) })
}

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"spendlog/internal/backend"
	"spendlog/internal/inference"
	"spendlog/internal/ledger"
	"spendlog/internal/log"
	"spendlog/internal/notify"
	"spendlog/internal/reconcile"
)

var (
	ErrEmptyUser = errors.New("user id is required")
	ErrNoSession = errors.New("no open session for user")
	ErrClosed    = errors.New("session manager closed")
)

// Manager owns the open sessions of the process, one per user.
type Manager struct {
	backend     *backend.BackendResult
	inferrer    inference.Inferrer
	logger      *log.Logger
	now         func() time.Time
	bufferSize  int
	saveTimeout time.Duration

	group    singleflight.Group
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithInferrer enables QuickExpense on every session.
func WithInferrer(i inference.Inferrer) Option {
	return func(m *Manager) { m.inferrer = i }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = log.OrDiscard(l) }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithBufferSize bounds each session's notification queue.
func WithBufferSize(n int) Option {
	return func(m *Manager) { m.bufferSize = n }
}

func WithSaveTimeout(d time.Duration) Option {
	return func(m *Manager) { m.saveTimeout = d }
}

func NewManager(result *backend.BackendResult, opts ...Option) *Manager {
	m := &Manager{
		backend:    result,
		logger:     log.Discard(),
		now:        time.Now,
		bufferSize: notify.DefaultBufferSize,
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent(log.ComponentSession)
	return m
}

func (m *Manager) Mode() backend.Mode { return m.backend.Mode }

// Open returns the user's session, creating and starting it on first use.
// Concurrent opens for the same user share one session.
func (m *Manager) Open(ctx context.Context, userID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrEmptyUser
	}
	if s, ok, err := m.lookup(userID); err != nil || ok {
		return s, err
	}

	v, err, _ := m.group.Do(userID, func() (any, error) {
		if s, ok, err := m.lookup(userID); err != nil || ok {
			return s, err
		}
		s, err := m.start(ctx, userID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			s.close()
			return nil, ErrClosed
		}
		m.sessions[userID] = s
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) lookup(userID string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	s, ok := m.sessions[userID]
	return s, ok, nil
}

func (m *Manager) start(ctx context.Context, userID string) (*Session, error) {
	logger := m.logger.With(log.FieldUserID, userID)
	notices := notify.NewBuffer(m.bufferSize)
	notifier := notify.Multi(notices, notify.NewLogNotifier(logger))

	storeOpts := []ledger.Option{ledger.WithNotifier(notifier), ledger.WithLogger(logger)}
	if m.saveTimeout > 0 {
		storeOpts = append(storeOpts, ledger.WithSaveTimeout(m.saveTimeout))
	}
	store := ledger.New(userID, m.backend.Backend, storeOpts...)

	listenerOpts := []reconcile.Option{reconcile.WithNotifier(notifier), reconcile.WithLogger(logger)}
	var listener *reconcile.Listener
	if m.backend.Mode == backend.ModeCloud && m.backend.Live != nil {
		listener = reconcile.NewCloud(store, m.backend.Live, listenerOpts...)
	} else {
		listener = reconcile.NewLocal(store, m.backend.Backend, listenerOpts...)
	}

	if err := listener.Start(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("start listener: %w", err)
	}
	logger.Info("Session opened", log.FieldMode, m.backend.Mode.String())
	return &Session{
		userID:   userID,
		store:    store,
		listener: listener,
		notices:  notices,
		notifier: notifier,
		inferrer: m.inferrer,
		now:      m.now,
		logger:   logger.WithComponent(log.ComponentSession),
		openedAt: m.now(),
	}, nil
}

// Get returns an already open session.
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Len reports how many sessions are open.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close signs a user out: the subscription is cancelled and pending saves
// are written before the session is dropped.
func (m *Manager) Close(userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	err := s.close()
	m.logger.Info("Session closed", log.FieldUserID, userID)
	return err
}

// CloseAll closes every session and refuses new ones. Used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(s.close)
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		m.logger.Info("All sessions closed", "count", len(sessions))
		return err
	case <-ctx.Done():
		return fmt.Errorf("close sessions: %w", ctx.Err())
	}
}

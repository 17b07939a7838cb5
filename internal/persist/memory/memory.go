// Package memory is the one-shot local ledger store used in local-mock mode.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"spendlog/internal/core"
	"spendlog/internal/persist"
)

var ErrInvalidUser = errors.New("invalid user id")

// Store keeps one encoded document per user, optionally mirrored to
// <dir>/<user>.json files.
type Store struct {
	mu       sync.Mutex
	docs     map[string][]byte
	versions map[string]int64
	dir      string
	seedDemo bool
}

// Option configures a Store.
type Option func(*Store)

// WithDemoSeed makes Fetch return the demo ledger for users without a document.
func WithDemoSeed() Option {
	return func(s *Store) { s.seedDemo = true }
}

func New(opts ...Option) *Store {
	s := &Store{docs: map[string][]byte{}, versions: map[string]int64{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromDir returns a store persisting documents under base. The directory
// is created if missing.
func NewFromDir(base string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := New(opts...)
	s.dir = base
	return s, nil
}

func (s *Store) Fetch(_ context.Context, userID string) (*core.Ledger, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.docs[userID]; ok {
		return persist.Decode(data)
	}
	if s.dir != "" {
		data, err := os.ReadFile(s.path(userID))
		switch {
		case err == nil:
			s.docs[userID] = data
			return persist.Decode(data)
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read ledger file: %w", err)
		}
	}
	if s.seedDemo {
		demo := core.DemoLedger()
		data, err := persist.Encode(demo)
		if err != nil {
			return nil, err
		}
		s.docs[userID] = data
		return persist.Decode(data)
	}
	return nil, persist.ErrNotFound
}

func (s *Store) Save(ctx context.Context, userID string, l *core.Ledger) error {
	_, err := s.Put(ctx, userID, l)
	return err
}

// Put stores the document and returns its per-process version, which lets
// the store act as the document side of a cloud backend.
func (s *Store) Put(_ context.Context, userID string, l *core.Ledger) (int64, error) {
	if err := checkUser(userID); err != nil {
		return 0, err
	}
	data, err := persist.Encode(l)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := writeFileAtomic(s.path(userID), data); err != nil {
			return 0, fmt.Errorf("write ledger file: %w", err)
		}
	}
	s.docs[userID] = data
	s.versions[userID]++
	return s.versions[userID], nil
}

// Users lists the users with a stored document.
func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for u := range s.docs {
		out = append(out, u)
	}
	return out
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, userID+".json")
}

func checkUser(userID string) error {
	if strings.TrimSpace(userID) == "" || strings.ContainsAny(userID, `/\`) || strings.HasPrefix(userID, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ledger-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

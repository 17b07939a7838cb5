// Package backend chooses and builds the persistence provider once, at
// composition time.
package backend

import (
	"context"
	"net/url"
	"strings"

	"spendlog/internal/persist"
)

// Mode is how the client's data is kept in sync.
type Mode int

const (
	// ModeLocalMock reads the ledger once and only re-reads on request.
	ModeLocalMock Mode = iota
	// ModeCloud keeps a standing subscription to the stored document.
	ModeCloud
)

func (m Mode) String() string {
	switch m {
	case ModeLocalMock:
		return "local-mock"
	case ModeCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

// SelectMode picks the mode from the origin the client is served from.
// Loopback hosts and sandboxed preview origins run against the local mock.
func SelectMode(origin string) Mode {
	origin = strings.TrimSpace(strings.ToLower(origin))
	if strings.Contains(origin, ".scf.usercontent.goog") {
		return ModeLocalMock
	}
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Hostname()
	} else if h, _, ok := strings.Cut(origin, ":"); ok {
		host = h
	}
	switch host {
	case "localhost", "127.0.0.1", "[::1]", "::1":
		return ModeLocalMock
	}
	return ModeCloud
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function.
// Live is set only in cloud mode.
type BackendResult struct {
	Mode    Mode
	Backend persist.Backend
	Live    persist.LiveBackend
	Cleanup CleanupFunc
}

// Close runs Cleanup if present.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType
	Mode Mode

	// Memory backend
	DataDirectory string
	SeedDemo      bool

	// SQLite
	SQLiteDBPath string

	// Change feed; empty URL uses the in-process broker.
	AMQPURL      string
	AMQPExchange string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientJSON    string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string
}

// BackendType represents the type of document store
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// Package store provides storage backends for the ReactPipe reaction registry.
//
// The registry persists its full state after every mutation, so a Store only
// needs to save and load one snapshot. SQLite is the default backend;
// PostgreSQL is selected automatically for postgres-style DSNs. An in-memory
// store is available for tests.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ReactPipe/internal/models"
)

// Store persists the reaction registry snapshot.
type Store interface {
	// SaveRegistry durably replaces the stored snapshot with the given one.
	SaveRegistry(snapshot models.RegistrySnapshot) error

	// LoadRegistry returns the previously saved snapshot. A store with no
	// prior state returns an empty snapshot, not an error.
	LoadRegistry() (models.RegistrySnapshot, error)

	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string (file path for SQLite)
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL-style connection strings
// and "sqlite3" otherwise (plain file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") || strings.Contains(dsn, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore is a simple in-memory store for tests and ephemeral runs.
type InMemoryStore struct {
	mu       sync.Mutex
	snapshot models.RegistrySnapshot
	saved    bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveRegistry(snapshot models.RegistrySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = cloneSnapshot(snapshot)
	s.saved = true
	return nil
}

func (s *InMemoryStore) LoadRegistry() (models.RegistrySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return models.NewRegistrySnapshot(), nil
	}
	return cloneSnapshot(s.snapshot), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// cloneSnapshot deep-copies a snapshot so callers cannot alias stored state.
func cloneSnapshot(in models.RegistrySnapshot) models.RegistrySnapshot {
	out := models.NewRegistrySnapshot()
	for owner, emojis := range in.Reactions {
		sub := make(map[string]time.Time, len(emojis))
		for emoji, expiresAt := range emojis {
			sub[emoji] = expiresAt
		}
		out.Reactions[owner] = sub
	}
	out.UsedEmojis = append([]string(nil), in.UsedEmojis...)
	return out
}

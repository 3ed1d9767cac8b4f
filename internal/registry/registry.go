// Package registry implements the scheduled-reaction registry for ReactPipe.
//
// The registry maps message authors to the emoji reactions scheduled against
// them, each with an absolute expiry time. Expired entries are evicted eagerly
// at the start of every public operation, and the full state is persisted
// through a store.Store after each operation so on-disk state stays current.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/ReactPipe/internal/models"
	"github.com/BTreeMap/ReactPipe/internal/store"
	"github.com/jonboulle/clockwork"
)

// hoursPerDay converts a duration given in days into a time.Duration.
const hoursPerDay = 24 * time.Hour

// Registry owns scheduled reactions for all users. All public methods are
// safe for concurrent use; the registry holds its own lock around each
// operation.
type Registry struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	store      store.Store
	reactions  map[string]map[string]time.Time
	usedEmojis map[string]struct{}
}

// New creates a Registry backed by the given store, restoring any previously
// persisted state. A store with no prior state yields an empty registry.
func New(st store.Store, clock clockwork.Clock) (*Registry, error) {
	snapshot, err := st.LoadRegistry()
	if err != nil {
		slog.Error("Registry.New: failed to load persisted state", "error", err)
		return nil, fmt.Errorf("failed to load registry state: %w", err)
	}

	r := &Registry{
		clock:      clock,
		store:      st,
		reactions:  make(map[string]map[string]time.Time),
		usedEmojis: make(map[string]struct{}),
	}
	for owner, emojis := range snapshot.Reactions {
		sub := make(map[string]time.Time, len(emojis))
		for emoji, expiresAt := range emojis {
			sub[emoji] = expiresAt
		}
		r.reactions[owner] = sub
	}
	for _, emoji := range snapshot.UsedEmojis {
		r.usedEmojis[emoji] = struct{}{}
	}

	slog.Info("Registry restored from store", "owners", len(r.reactions), "pool_size", len(r.usedEmojis))
	return r, nil
}

// Schedule registers an emoji reaction against owner's future messages for
// the given number of days. A duration outside [0, MaxReactionDays] fails
// with models.ErrInvalidDuration and leaves the registry unmodified (the
// eviction sweep that precedes every operation still runs). Scheduling the
// same emoji again for the same owner replaces the previous expiry.
func (r *Registry) Schedule(owner, emoji string, days int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	if days < 0 || days > models.MaxReactionDays {
		slog.Debug("Registry.Schedule rejected duration", "owner", owner, "days", days)
		return models.ErrInvalidDuration
	}

	if r.reactions[owner] == nil {
		r.reactions[owner] = make(map[string]time.Time)
	}
	r.reactions[owner][emoji] = r.clock.Now().Add(time.Duration(days) * hoursPerDay)
	r.usedEmojis[emoji] = struct{}{}

	slog.Info("Registry scheduled reaction", "owner", owner, "emoji", emoji, "days", days)
	return r.persistLocked()
}

// ClearAll removes every scheduled reaction for owner. It is a no-op (apart
// from the sweep and persist) when the owner has no entries.
func (r *Registry) ClearAll(owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	delete(r.reactions, owner)

	slog.Info("Registry cleared reactions", "owner", owner)
	return r.persistLocked()
}

// Active returns the emojis currently scheduled and unexpired for owner,
// sorted for deterministic output. Unknown owners yield an empty slice.
// The sweep performed here mutates shared state, so the refreshed snapshot
// is persisted before returning.
func (r *Registry) Active(owner string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	var active []string
	for emoji := range r.reactions[owner] {
		active = append(active, emoji)
	}
	sort.Strings(active)

	if err := r.persistLocked(); err != nil {
		return active, err
	}
	return active, nil
}

// UsedEmojis returns the sampling pool: every emoji ever scheduled by any
// owner, sorted. The pool never shrinks when entries expire.
func (r *Registry) UsedEmojis() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool := make([]string, 0, len(r.usedEmojis))
	for emoji := range r.usedEmojis {
		pool = append(pool, emoji)
	}
	sort.Strings(pool)
	return pool
}

// Sweep evicts expired entries and persists the result. The bot runs this
// periodically so expiry reaches disk even through idle stretches.
func (r *Registry) Sweep() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	return r.persistLocked()
}

// sweepLocked removes every entry whose expiry has passed. An entry remains
// visible while expiresAt >= now, so a zero-day reaction is active only at
// the instant it was scheduled. Callers must hold r.mu.
func (r *Registry) sweepLocked() {
	now := r.clock.Now()
	for owner, emojis := range r.reactions {
		for emoji, expiresAt := range emojis {
			if expiresAt.Before(now) {
				delete(emojis, emoji)
				slog.Debug("Registry evicted expired reaction", "owner", owner, "emoji", emoji)
			}
		}
		if len(emojis) == 0 {
			delete(r.reactions, owner)
		}
	}
}

// persistLocked writes the full snapshot to the store. Callers must hold r.mu.
func (r *Registry) persistLocked() error {
	if err := r.store.SaveRegistry(r.snapshotLocked()); err != nil {
		slog.Error("Registry failed to persist state", "error", err)
		return fmt.Errorf("failed to persist registry state: %w", err)
	}
	return nil
}

// snapshotLocked builds a deep copy of the current state. Callers must hold r.mu.
func (r *Registry) snapshotLocked() models.RegistrySnapshot {
	snapshot := models.NewRegistrySnapshot()
	for owner, emojis := range r.reactions {
		sub := make(map[string]time.Time, len(emojis))
		for emoji, expiresAt := range emojis {
			sub[emoji] = expiresAt
		}
		snapshot.Reactions[owner] = sub
	}
	for emoji := range r.usedEmojis {
		snapshot.UsedEmojis = append(snapshot.UsedEmojis, emoji)
	}
	sort.Strings(snapshot.UsedEmojis)
	return snapshot
}

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/ReactPipe/internal/models"
)

// getenvOrSkip returns the value of the environment variable or skips the test.
func getenvOrSkip(t *testing.T, key string) string {
	t.Helper()
	val := os.Getenv(key)
	if val == "" {
		t.Skipf("%s not set, skipping", key)
	}
	return val
}

func sampleSnapshot() models.RegistrySnapshot {
	snapshot := models.NewRegistrySnapshot()
	expiry := time.Now().Add(72 * time.Hour).Truncate(time.Second)
	snapshot.Reactions["15551234567"] = map[string]time.Time{
		"🔥": expiry,
		"💀": expiry.Add(24 * time.Hour),
	}
	snapshot.Reactions["15559876543"] = map[string]time.Time{
		"😄": expiry,
	}
	snapshot.UsedEmojis = []string{"🔥", "💀", "😄"}
	return snapshot
}

// assertSnapshotsEqual compares snapshots at second precision, since the SQL
// backends store expiry times as Unix seconds.
func assertSnapshotsEqual(t *testing.T, want, got models.RegistrySnapshot) {
	t.Helper()
	if len(got.Reactions) != len(want.Reactions) {
		t.Fatalf("expected %d owners, got %d", len(want.Reactions), len(got.Reactions))
	}
	for owner, emojis := range want.Reactions {
		gotEmojis, ok := got.Reactions[owner]
		if !ok {
			t.Fatalf("owner %s missing from loaded snapshot", owner)
		}
		if len(gotEmojis) != len(emojis) {
			t.Fatalf("owner %s: expected %d emojis, got %d", owner, len(emojis), len(gotEmojis))
		}
		for emoji, expiresAt := range emojis {
			gotExpiry, ok := gotEmojis[emoji]
			if !ok {
				t.Fatalf("owner %s: emoji %s missing from loaded snapshot", owner, emoji)
			}
			if gotExpiry.Unix() != expiresAt.Unix() {
				t.Errorf("owner %s emoji %s: expected expiry %v, got %v", owner, emoji, expiresAt, gotExpiry)
			}
		}
	}
	if len(got.UsedEmojis) != len(want.UsedEmojis) {
		t.Fatalf("expected used pool %v, got %v", want.UsedEmojis, got.UsedEmojis)
	}
	gotPool := make(map[string]struct{}, len(got.UsedEmojis))
	for _, emoji := range got.UsedEmojis {
		gotPool[emoji] = struct{}{}
	}
	for _, emoji := range want.UsedEmojis {
		if _, ok := gotPool[emoji]; !ok {
			t.Errorf("used pool missing emoji %s: got %v", emoji, got.UsedEmojis)
		}
	}
}

func TestInMemoryStoreRoundTrip(t *testing.T) {
	st := NewInMemoryStore()
	defer st.Close()

	empty, err := st.LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry on fresh store failed: %v", err)
	}
	if len(empty.Reactions) != 0 || len(empty.UsedEmojis) != 0 {
		t.Errorf("expected empty snapshot from fresh store, got %+v", empty)
	}

	want := sampleSnapshot()
	if err := st.SaveRegistry(want); err != nil {
		t.Fatalf("SaveRegistry failed: %v", err)
	}
	got, err := st.LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	assertSnapshotsEqual(t, want, got)
}

func TestInMemoryStoreIsolatesSnapshots(t *testing.T) {
	st := NewInMemoryStore()
	defer st.Close()

	saved := sampleSnapshot()
	if err := st.SaveRegistry(saved); err != nil {
		t.Fatalf("SaveRegistry failed: %v", err)
	}

	// Mutating the caller's copy and a loaded copy must not affect the store.
	saved.UsedEmojis[0] = "🙈"
	delete(saved.Reactions, "15551234567")

	loaded, err := st.LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	loaded.UsedEmojis = loaded.UsedEmojis[:0]
	delete(loaded.Reactions, "15559876543")

	got, err := st.LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	assertSnapshotsEqual(t, sampleSnapshot(), got)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	st, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}
	defer st.Close()

	empty, err := st.LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry on fresh database failed: %v", err)
	}
	if len(empty.Reactions) != 0 || len(empty.UsedEmojis) != 0 {
		t.Errorf("expected empty snapshot from fresh database, got %+v", empty)
	}

	want := sampleSnapshot()
	if err := st.SaveRegistry(want); err != nil {
		t.Fatalf("SaveRegistry failed: %v", err)
	}
	got, err := st.LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	assertSnapshotsEqual(t, want, got)
}

func TestSQLiteStoreSaveReplacesSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	st, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}
	defer st.Close()

	if err := st.SaveRegistry(sampleSnapshot()); err != nil {
		t.Fatalf("SaveRegistry failed: %v", err)
	}

	smaller := models.NewRegistrySnapshot()
	smaller.Reactions["15551234567"] = map[string]time.Time{
		"🔥": time.Now().Add(time.Hour).Truncate(time.Second),
	}
	smaller.UsedEmojis = []string{"🔥"}
	if err := st.SaveRegistry(smaller); err != nil {
		t.Fatalf("second SaveRegistry failed: %v", err)
	}

	got, err := st.LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	assertSnapshotsEqual(t, smaller, got)
}

func TestSQLiteStoreCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state", "registry.db")
	st, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("expected store to create missing directories, got: %v", err)
	}
	defer st.Close()

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Errorf("expected database directory to exist: %v", err)
	}
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Fatal("expected error when DSN is not set")
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := getenvOrSkip(t, "DATABASE_URL")
	st, err := NewPostgresStore(WithPostgresDSN(dsn))
	if err != nil {
		t.Fatalf("failed to create Postgres store: %v", err)
	}
	defer st.Close()

	want := sampleSnapshot()
	if err := st.SaveRegistry(want); err != nil {
		t.Fatalf("SaveRegistry failed: %v", err)
	}
	got, err := st.LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	assertSnapshotsEqual(t, want, got)

	// Leave the shared database empty for the next run.
	if err := st.SaveRegistry(models.NewRegistrySnapshot()); err != nil {
		t.Fatalf("cleanup SaveRegistry failed: %v", err)
	}
}

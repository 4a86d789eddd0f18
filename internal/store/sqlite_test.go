// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers store creation and plugin enabled-flag persistence

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SetPluginEnabled(ctx, "legal", true); err != nil {
		t.Fatalf("SetPluginEnabled failed: %v", err)
	}
	states, err := store.LoadPluginStates(ctx)
	if err != nil {
		t.Fatalf("LoadPluginStates failed: %v", err)
	}
	if !states["legal"] {
		t.Error("expected legal to be enabled in memory store")
	}
}

func TestPluginState_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	states, err := store.LoadPluginStates(ctx)
	if err != nil {
		t.Fatalf("LoadPluginStates failed: %v", err)
	}
	if len(states) != 0 {
		t.Errorf("expected empty state, got %v", states)
	}

	if err := store.SetPluginEnabled(ctx, "legal", true); err != nil {
		t.Fatalf("SetPluginEnabled failed: %v", err)
	}
	if err := store.SetPluginEnabled(ctx, "finance", false); err != nil {
		t.Fatalf("SetPluginEnabled failed: %v", err)
	}
	// Overwrite
	if err := store.SetPluginEnabled(ctx, "finance", true); err != nil {
		t.Fatalf("SetPluginEnabled failed: %v", err)
	}
	if err := store.SetPluginEnabled(ctx, "legal", false); err != nil {
		t.Fatalf("SetPluginEnabled failed: %v", err)
	}

	states, err = store.LoadPluginStates(ctx)
	if err != nil {
		t.Fatalf("LoadPluginStates failed: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	if states["legal"] {
		t.Error("expected legal disabled")
	}
	if !states["finance"] {
		t.Error("expected finance enabled")
	}

	state, err := store.GetPluginState(ctx, "finance")
	if err != nil {
		t.Fatalf("GetPluginState failed: %v", err)
	}
	if !state.Enabled || state.UpdatedAt.IsZero() {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestPluginState_Persists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := first.SetPluginEnabled(ctx, "legal", true); err != nil {
		t.Fatalf("SetPluginEnabled failed: %v", err)
	}
	first.Close()

	second, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer second.Close()

	states, err := second.LoadPluginStates(ctx)
	if err != nil {
		t.Fatalf("LoadPluginStates failed: %v", err)
	}
	if !states["legal"] {
		t.Error("expected legal to stay enabled across reopen")
	}
}

func TestGetPluginState_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetPluginState(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// newTestStore creates a store in a temp directory for testing
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}

// ABOUTME: SQLite implementation of the store interfaces using modernc.org/sqlite
// ABOUTME: Persists plugin enabled flags and credentials with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// SQLiteStore implements StateStore, CredentialStore and UsageStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != memoryPath {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == memoryPath {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS plugin_state (
			plugin_id  TEXT PRIMARY KEY,
			enabled    INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS credentials (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			value      TEXT NOT NULL,
			plugin_id  TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_name_scope
			ON credentials(name, COALESCE(plugin_id, ''));

		CREATE TABLE IF NOT EXISTS command_usage (
			id            TEXT PRIMARY KEY,
			invocation_id TEXT NOT NULL,
			command       TEXT NOT NULL,
			plugin_id     TEXT NOT NULL,
			model         TEXT NOT NULL,
			input_tokens  INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_command_usage_plugin
			ON command_usage(plugin_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// LoadPluginStates returns all persisted plugin flags.
func (s *SQLiteStore) LoadPluginStates(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT plugin_id, enabled FROM plugin_state`)
	if err != nil {
		return nil, fmt.Errorf("querying plugin state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := make(map[string]bool)
	for rows.Next() {
		var id string
		var enabled int
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, fmt.Errorf("scanning plugin state: %w", err)
		}
		states[id] = enabled != 0
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plugin state: %w", err)
	}
	return states, nil
}

// SetPluginEnabled upserts the enabled flag for a plugin.
func (s *SQLiteStore) SetPluginEnabled(ctx context.Context, pluginID string, enabled bool) error {
	query := `
		INSERT INTO plugin_state (plugin_id, enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(plugin_id) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	flag := 0
	if enabled {
		flag = 1
	}
	if _, err := s.db.ExecContext(ctx, query, pluginID, flag, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("saving plugin state: %w", err)
	}

	s.logger.Debug("saved plugin state", "plugin_id", pluginID, "enabled", enabled)
	return nil
}

// GetPluginState returns the persisted state of one plugin.
// Returns ErrNotFound if the plugin has never been toggled.
func (s *SQLiteStore) GetPluginState(ctx context.Context, pluginID string) (*PluginState, error) {
	var state PluginState
	var enabled int
	var updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT plugin_id, enabled, updated_at FROM plugin_state WHERE plugin_id = ?`, pluginID,
	).Scan(&state.PluginID, &enabled, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying plugin state: %w", err)
	}

	state.Enabled = enabled != 0
	if parsed, err := time.Parse(time.RFC3339, updatedAt); err != nil {
		s.logger.Warn("failed to parse plugin_state updated_at", "plugin_id", pluginID, "error", err)
	} else {
		state.UpdatedAt = parsed
	}
	return &state, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string pointer
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements StateStore.
var _ StateStore = (*SQLiteStore)(nil)

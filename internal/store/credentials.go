// ABOUTME: Credential store implementation for connector ${VAR} placeholders
// ABOUTME: Supports global defaults with per-plugin overrides

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateCredential creates a new credential in the database.
// Returns ErrDuplicateCredential if a credential with the same name and scope already exists.
func (s *SQLiteStore) CreateCredential(ctx context.Context, cred *Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = now
	}

	query := `
		INSERT INTO credentials (id, name, value, plugin_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		cred.ID,
		cred.Name,
		cred.Value,
		nullString(ptrToString(cred.PluginID)),
		cred.CreatedAt.Format(time.RFC3339),
		cred.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %q", ErrDuplicateCredential, cred.Name)
		}
		return fmt.Errorf("inserting credential: %w", err)
	}

	// Values are never logged.
	s.logger.Debug("created credential", "id", cred.ID, "name", cred.Name, "plugin_id", ptrToString(cred.PluginID))
	return nil
}

const credentialColumns = `id, name, value, plugin_id, created_at, updated_at`

// GetCredential retrieves a credential by ID.
// Returns ErrNotFound if the credential doesn't exist.
func (s *SQLiteStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	return s.scanCredential(row)
}

// FindCredential retrieves the credential with the given name in exactly the given scope.
// Returns ErrNotFound if there is none.
func (s *SQLiteStore) FindCredential(ctx context.Context, name string, pluginID *string) (*Credential, error) {
	var row *sql.Row
	if pluginID == nil {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials WHERE name = ? AND plugin_id IS NULL`, name)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials WHERE name = ? AND plugin_id = ?`, name, *pluginID)
	}
	return s.scanCredential(row)
}

func (s *SQLiteStore) scanCredential(row *sql.Row) (*Credential, error) {
	var cred Credential
	var pluginID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&cred.ID,
		&cred.Name,
		&cred.Value,
		&pluginID,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}

	s.parseTimes(&cred, createdAt, updatedAt)
	if pluginID.Valid {
		cred.PluginID = &pluginID.String
	}
	return &cred, nil
}

func (s *SQLiteStore) parseTimes(cred *Credential, createdAt, updatedAt string) {
	if parsed, err := time.Parse(time.RFC3339, createdAt); err != nil {
		s.logger.Warn("failed to parse credential created_at", "id", cred.ID, "error", err)
	} else {
		cred.CreatedAt = parsed
	}
	if parsed, err := time.Parse(time.RFC3339, updatedAt); err != nil {
		s.logger.Warn("failed to parse credential updated_at", "id", cred.ID, "error", err)
	} else {
		cred.UpdatedAt = parsed
	}
}

// UpdateCredential updates an existing credential's value.
// Returns ErrNotFound if the credential doesn't exist.
func (s *SQLiteStore) UpdateCredential(ctx context.Context, cred *Credential) error {
	cred.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE credentials
		SET value = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		cred.Value,
		cred.UpdatedAt.Format(time.RFC3339),
		cred.ID,
	)
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated credential", "id", cred.ID, "name", cred.Name)
	return nil
}

// DeleteCredential removes a credential by ID.
// Returns ErrNotFound if the credential doesn't exist.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted credential", "id", id)
	return nil
}

// ListCredentials returns all credentials (both global and plugin-specific).
// Credentials are ordered by name, then by scope (global first, then plugin-specific).
func (s *SQLiteStore) ListCredentials(ctx context.Context) ([]*Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		ORDER BY name, plugin_id NULLS FIRST
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*Credential
	for rows.Next() {
		var cred Credential
		var pluginID sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(
			&cred.ID,
			&cred.Name,
			&cred.Value,
			&pluginID,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}

		s.parseTimes(&cred, createdAt, updatedAt)
		if pluginID.Valid {
			cred.PluginID = &pluginID.String
		}
		creds = append(creds, &cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential rows: %w", err)
	}

	return creds, nil
}

// GetEffectiveCredentials returns the resolved credentials for a specific plugin.
// Plugin-specific overrides take precedence over global defaults.
func (s *SQLiteStore) GetEffectiveCredentials(ctx context.Context, pluginID string) (map[string]string, error) {
	query := `
		WITH merged AS (
			SELECT name, value,
				   CASE WHEN plugin_id IS NOT NULL THEN 1 ELSE 0 END as priority
			FROM credentials
			WHERE plugin_id IS NULL OR plugin_id = ?
		)
		SELECT name, value FROM merged m1
		WHERE priority = (SELECT MAX(priority) FROM merged m2 WHERE m2.name = m1.name)
	`

	rows, err := s.db.QueryContext(ctx, query, pluginID)
	if err != nil {
		return nil, fmt.Errorf("querying effective credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	creds := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning effective credential: %w", err)
		}
		creds[name] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating effective credentials: %w", err)
	}

	return creds, nil
}

// Ensure SQLiteStore implements CredentialStore.
var _ CredentialStore = (*SQLiteStore)(nil)

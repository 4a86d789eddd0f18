// ABOUTME: SQLite implementation for model token usage tracking
// ABOUTME: Records tokens per dispatched command or chat turn and aggregates them for reports

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenUsage records the tokens one model invocation consumed.
type TokenUsage struct {
	ID           string
	InvocationID string
	Command      string // fully-qualified command; empty for plain chat turns
	PluginID     string // owning plugin; empty for plain chat turns
	Model        string
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time
}

// UsageFilter narrows aggregated usage. Nil fields match everything.
type UsageFilter struct {
	PluginID *string
	Since    *time.Time
	Until    *time.Time
}

// UsageStats aggregates usage records.
type UsageStats struct {
	TotalInput   int64
	TotalOutput  int64
	TotalTokens  int64
	RequestCount int64
}

// CommandUsage is UsageStats for one command.
type CommandUsage struct {
	Command string
	UsageStats
}

// UsageStore records model usage.
type UsageStore interface {
	SaveUsage(ctx context.Context, usage *TokenUsage) error
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
	GetUsageByCommand(ctx context.Context, filter UsageFilter) ([]*CommandUsage, error)
}

// SaveUsage stores a token usage record. ID and CreatedAt are filled when empty.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *TokenUsage) error {
	fillUsage(usage)

	query := `
		INSERT INTO command_usage (
			id, invocation_id, command, plugin_id, model,
			input_tokens, output_tokens, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.InvocationID,
		usage.Command,
		usage.PluginID,
		usage.Model,
		usage.InputTokens,
		usage.OutputTokens,
		usage.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved token usage",
		"id", usage.ID,
		"command", usage.Command,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return nil
}

func fillUsage(usage *TokenUsage) {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
}

// usageWhere builds the WHERE clause shared by the aggregate queries.
func usageWhere(filter UsageFilter) (string, []any) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.PluginID != nil {
		where += " AND plugin_id = ?"
		args = append(args, *filter.PluginID)
	}
	if filter.Since != nil {
		where += " AND created_at >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Until != nil {
		where += " AND created_at < ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}
	return where, args
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	where, args := usageWhere(filter)
	query := `
		SELECT
			COALESCE(SUM(input_tokens), 0) as total_input,
			COALESCE(SUM(output_tokens), 0) as total_output,
			COUNT(*) as request_count
		FROM command_usage` + where

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalInput,
		&stats.TotalOutput,
		&stats.RequestCount,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	stats.TotalTokens = stats.TotalInput + stats.TotalOutput
	return &stats, nil
}

// GetUsageByCommand returns usage grouped by command, most tokens first.
func (s *SQLiteStore) GetUsageByCommand(ctx context.Context, filter UsageFilter) ([]*CommandUsage, error) {
	where, args := usageWhere(filter)
	query := `
		SELECT
			command,
			COALESCE(SUM(input_tokens), 0) as total_input,
			COALESCE(SUM(output_tokens), 0) as total_output,
			COUNT(*) as request_count
		FROM command_usage` + where + `
		GROUP BY command
		ORDER BY total_input + total_output DESC, command ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying usage by command: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*CommandUsage
	for rows.Next() {
		u, err := scanCommandUsage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return result, nil
}

// scanCommandUsage scans a single grouped usage row.
func scanCommandUsage(rows *sql.Rows) (*CommandUsage, error) {
	var u CommandUsage
	if err := rows.Scan(&u.Command, &u.TotalInput, &u.TotalOutput, &u.RequestCount); err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}
	u.TotalTokens = u.TotalInput + u.TotalOutput
	return &u, nil
}

// Ensure SQLiteStore implements UsageStore interface.
var _ UsageStore = (*SQLiteStore)(nil)

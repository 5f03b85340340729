// ABOUTME: SQLite implementation for provider usage tracking
// ABOUTME: Records token consumption per answered question for per-owner analytics

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveUsage stores a provider usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *ProviderUsage) error {
	query := `
		INSERT INTO provider_usage (
			id, thread_id, owner_id, model, input_tokens, output_tokens, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.ThreadID,
		usage.OwnerID,
		usage.Model,
		usage.InputTokens,
		usage.OutputTokens,
		formatTime(usage.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved provider usage",
		"thread_id", usage.ThreadID,
		"model", usage.Model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return nil
}

// GetThreadUsage retrieves all usage records for a thread, oldest first.
func (s *SQLiteStore) GetThreadUsage(ctx context.Context, threadID string) ([]*ProviderUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, owner_id, model, input_tokens, output_tokens, created_at
		FROM provider_usage
		WHERE thread_id = ?
		ORDER BY created_at ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying thread usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usages []*ProviderUsage
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return usages, nil
}

// GetUsageStats returns aggregated usage for one owner, optionally bounded in time.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COUNT(*)
		FROM provider_usage
		WHERE owner_id = ?
	`
	args := []any{filter.OwnerID}

	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, formatTime(*filter.Until))
	}

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

func scanUsage(rows *sql.Rows) (*ProviderUsage, error) {
	var usage ProviderUsage
	var createdAtStr string

	err := rows.Scan(
		&usage.ID,
		&usage.ThreadID,
		&usage.OwnerID,
		&usage.Model,
		&usage.InputTokens,
		&usage.OutputTokens,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	usage.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &usage, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"recipebox/pkg/types"
)

// Record appends one usage event. The table is append-only; rows are never
// updated or deleted, which keeps the budget windows auditable.
func (s *Store) Record(ctx context.Context, ev types.UsageEvent) error {
	const query = `
        INSERT INTO usage_events (id, user_id, request_type, tokens_used, success, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			ev.ID, ev.UserID, string(ev.RequestType), ev.TokensUsed, ev.Success, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("insert usage event: %w", err)
		}
		return nil
	})
}

// CountSuccessSince counts successful events at or after since.
func (s *Store) CountSuccessSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM usage_events WHERE success AND created_at >= $1`
	var count int
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, since).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count usage events: %w", err)
	}
	return count, nil
}

// OldestSuccessSince returns the earliest successful event timestamp at or
// after since, with ok=false for an empty window.
func (s *Store) OldestSuccessSince(ctx context.Context, since time.Time) (time.Time, bool, error) {
	const query = `SELECT MIN(created_at) FROM usage_events WHERE success AND created_at >= $1`
	var oldest sql.NullTime
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, since).Scan(&oldest)
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, fmt.Errorf("oldest usage event: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, false, nil
	}
	return oldest.Time, true, nil
}

// SumTokensSince totals recorded token counts of successful events at or
// after since.
func (s *Store) SumTokensSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COALESCE(SUM(tokens_used), 0) FROM usage_events WHERE success AND created_at >= $1`
	var total int
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, since).Scan(&total)
	})
	if err != nil {
		return 0, fmt.Errorf("sum usage tokens: %w", err)
	}
	return total, nil
}

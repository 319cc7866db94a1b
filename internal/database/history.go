package database

import (
	"context"
	"fmt"
	"time"
)

// AppendResult inserts one append-only match history row.
func (s *Store) AppendResult(ctx context.Context, username, category string, score int, playedAt time.Time) error {
	q := `INSERT INTO match_history (username, category, score, played_at)
	      VALUES ($1, $2, $3, $4)`
	if _, err := s.Pool.Exec(ctx, q, username, category, score, playedAt); err != nil {
		return fmt.Errorf("append match history: %w", err)
	}
	return nil
}

// SaveResult implements the match engine's HistorySink contract directly
// against Postgres, for deployments that skip the Redis pipeline.
func (s *Store) SaveResult(ctx context.Context, username, category string, score int) error {
	return s.AppendResult(ctx, username, category, score, time.Now())
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/p-blackswan/memgraph/internal/agent"
)

// RunRetention deletes finished tasks older than maxAge. History rows are
// never deleted. It returns the number of tasks removed.
func (s *Store) RunRetention(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.exec(ctx,
		"DELETE FROM tasks WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?",
		string(agent.TaskCompleted), string(agent.TaskFailed), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("tasks", n).Msg("retention removed finished tasks")
	}
	return n, nil
}

// DBSizeBytes returns the database size in bytes.
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/p-blackswan/memgraph/internal/history"
)

// AppendHistory persists one history entry. It implements history.Sink.
func (s *Store) AppendHistory(entry history.Entry) error {
	ids := entry.ResultNodeIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding result node ids: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.exec(context.Background(), `
	INSERT OR IGNORE INTO history (id, entry_type, content, result_node_ids, actor, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Type), entry.Content, string(idsJSON), entry.Actor, entry.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// LoadHistory returns up to limit of the most recent entries in append
// order, oldest first. limit <= 0 returns everything.
func (s *Store) LoadHistory(ctx context.Context, limit int) ([]history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, entry_type, content, result_node_ids, actor, created_at FROM history ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var entries []history.Entry
	for rows.Next() {
		var e history.Entry
		var entryType, ids string
		var ts int64
		if err := rows.Scan(&e.ID, &entryType, &e.Content, &ids, &e.Actor, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.Type = history.EntryType(entryType)
		e.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(ids), &e.ResultNodeIDs); err != nil {
			return nil, fmt.Errorf("decoding result node ids of %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

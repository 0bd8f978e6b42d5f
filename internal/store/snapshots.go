package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/graph"
)

// SnapshotInfo describes a stored snapshot without its content.
type SnapshotInfo struct {
	GraphID           string    `json:"graphId"`
	Name              string    `json:"name"`
	FormatVersion     int       `json:"formatVersion"`
	Checksum          string    `json:"checksum"`
	NodeCount         int       `json:"nodeCount"`
	RelationshipCount int       `json:"relationshipCount"`
	CompressedBytes   int       `json:"compressedBytes"`
	SavedAt           time.Time `json:"savedAt"`
}

// SaveSnapshot stores s as zstd-compressed JSON, replacing any earlier
// snapshot of the same graph.
func (s *Store) SaveSnapshot(ctx context.Context, snap graph.Snapshot) error {
	if snap.ID == "" {
		return merrors.NewValidation("id", "snapshot graph id is required")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	blob, err := compress(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.exec(ctx, `
	INSERT OR REPLACE INTO snapshots (
		graph_id, name, format_version, checksum, node_count, rel_count, data, saved_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Name, snap.FormatVersion, snap.Checksum,
		len(snap.Nodes), len(snap.Relationships), blob, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug().Str("graph_id", snap.ID).Int("raw_bytes", len(raw)).Int("stored_bytes", len(blob)).Msg("snapshot saved")
	return nil
}

// LoadSnapshot returns the stored snapshot for graphID.
func (s *Store) LoadSnapshot(ctx context.Context, graphID string) (graph.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE graph_id = ?`, graphID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Snapshot{}, merrors.NewNotFound("snapshot", graphID)
	}
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	raw, err := decompress(blob)
	if err != nil {
		return graph.Snapshot{}, err
	}
	snap, err := graph.DecodeSnapshot(raw)
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("stored snapshot %s: %w", graphID, err)
	}
	return snap, nil
}

// ListSnapshots returns metadata for every stored snapshot, most recent first.
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
	SELECT graph_id, name, format_version, checksum, node_count, rel_count, length(data), saved_at
	FROM snapshots ORDER BY saved_at DESC, graph_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	out := []SnapshotInfo{}
	for rows.Next() {
		var info SnapshotInfo
		var savedAt int64
		if err := rows.Scan(&info.GraphID, &info.Name, &info.FormatVersion, &info.Checksum,
			&info.NodeCount, &info.RelationshipCount, &info.CompressedBytes, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		info.SavedAt = time.UnixMilli(savedAt).UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return out, nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(raw); err != nil {
		encoder.Close()
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(blob []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()
	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return raw, nil
}

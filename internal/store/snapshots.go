package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Snapshot kinds written by the runner.
const (
	KindReport     = "report"
	KindEmergency  = "emergency"
	KindCheckpoint = "checkpoint"
)

// Snapshot is a stored JSON document. Payload is only filled by GetSnapshot.
type Snapshot struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Size      int             `json:"size"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// SaveSnapshot stores v as zstd-compressed JSON under kind and returns the
// new id.
func (s *Store) SaveSnapshot(kind string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.Exec(`
		INSERT INTO snapshots (id, kind, size, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, kind, len(data), encoder.EncodeAll(data, nil), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return id, nil
}

// GetSnapshot returns the snapshot with its decompressed payload, or nil if
// there is none.
func (s *Store) GetSnapshot(id string) (*Snapshot, error) {
	var (
		snap       Snapshot
		compressed []byte
	)
	err := s.db.QueryRow(`SELECT id, kind, size, payload, created_at FROM snapshots WHERE id = ?`, id).
		Scan(&snap.ID, &snap.Kind, &snap.Size, &compressed, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	data, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot %s: %w", id, err)
	}
	snap.Payload = data
	return &snap, nil
}

// ListSnapshots returns snapshot headers, newest first. An empty kind lists
// every kind; limit <= 0 means no limit.
func (s *Store) ListSnapshots(kind string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, kind, size, created_at FROM snapshots
		WHERE ? = '' OR kind = ?
		ORDER BY created_at DESC
		LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.Kind, &snap.Size, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneSnapshots deletes snapshots of kind older than before and reports how
// many went.
func (s *Store) PruneSnapshots(kind string, before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM snapshots WHERE kind = ? AND created_at < ?`, kind, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

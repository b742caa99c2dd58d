package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// SaveUndoEntry writes the undo slot for a world view, replacing whatever was
// there. The slot is deliberately single-entry: only the most recent subtree
// reinterpretation is reversible.
func (s *SQLiteStorage) SaveUndoEntry(ctx context.Context, entry *model.UndoLogEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.saveUndoEntry(ctx, s.db, entry)
}

func (s *SQLiteStorage) saveUndoEntry(ctx context.Context, q dbtx, entry *model.UndoLogEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if err := validateString(entry.WorldViewID, "entry.WorldViewID"); err != nil {
		return err
	}

	prior, err := json.Marshal(entry.Prior)
	if err != nil {
		return fmt.Errorf("failed to marshal prior state: %w", err)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO undo_log (world_view_id, kind, node_id, prior_state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(world_view_id) DO UPDATE SET
			kind = excluded.kind,
			node_id = excluded.node_id,
			prior_state = excluded.prior_state,
			created_at = excluded.created_at`,
		entry.WorldViewID, entry.Kind, entry.NodeID, string(prior), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save undo entry: %w", err)
	}
	return nil
}

// GetUndoEntry returns the undo slot for a world view, or nil when empty.
func (s *SQLiteStorage) GetUndoEntry(ctx context.Context, worldViewID string) (*model.UndoLogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(worldViewID, "worldViewID"); err != nil {
		return nil, err
	}

	var entry model.UndoLogEntry
	var prior string
	err := s.db.QueryRowContext(ctx, `
		SELECT world_view_id, kind, node_id, prior_state, created_at
		FROM undo_log WHERE world_view_id = ?`, worldViewID).
		Scan(&entry.WorldViewID, &entry.Kind, &entry.NodeID, &prior, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query undo entry: %w", err)
	}

	if err := json.Unmarshal([]byte(prior), &entry.Prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	return &entry, nil
}

// ClearUndoEntry empties the undo slot for a world view.
func (s *SQLiteStorage) ClearUndoEntry(ctx context.Context, worldViewID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.clearUndoEntry(ctx, s.db, worldViewID)
}

func (s *SQLiteStorage) clearUndoEntry(ctx context.Context, q dbtx, worldViewID string) error {
	if err := validateString(worldViewID, "worldViewID"); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM undo_log WHERE world_view_id = ?`, worldViewID); err != nil {
		return fmt.Errorf("failed to clear undo entry: %w", err)
	}
	return nil
}

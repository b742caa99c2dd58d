package storage

import (
	"context"
	"fmt"
)

// DismissGap persists a curator's decision to silence a coverage gap. The
// flag survives rescans; everything else about a gap is recomputed.
func (s *SQLiteStorage) DismissGap(ctx context.Context, worldViewID string, divisionID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(worldViewID, "worldViewID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dismissed_gaps (world_view_id, division_id)
		VALUES (?, ?)
		ON CONFLICT(world_view_id, division_id) DO NOTHING`,
		worldViewID, divisionID)
	if err != nil {
		return fmt.Errorf("failed to dismiss gap: %w", err)
	}
	return nil
}

// UndismissGap removes a dismissal.
func (s *SQLiteStorage) UndismissGap(ctx context.Context, worldViewID string, divisionID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(worldViewID, "worldViewID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM dismissed_gaps WHERE world_view_id = ? AND division_id = ?`,
		worldViewID, divisionID)
	if err != nil {
		return fmt.Errorf("failed to undismiss gap: %w", err)
	}
	return nil
}

// GetDismissedGaps returns the set of dismissed division ids for a world view.
func (s *SQLiteStorage) GetDismissedGaps(ctx context.Context, worldViewID string) (map[int64]bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(worldViewID, "worldViewID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT division_id FROM dismissed_gaps WHERE world_view_id = ?`, worldViewID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dismissed gaps: %w", err)
	}
	defer rows.Close()

	dismissed := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dismissed gap: %w", err)
		}
		dismissed[id] = true
	}
	return dismissed, rows.Err()
}

// AddMatchMember attaches an extra division to an already-matched leaf, the
// add_member coverage remedy.
func (s *SQLiteStorage) AddMatchMember(ctx context.Context, nodeID, divisionID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_members (node_id, division_id)
		VALUES (?, ?)
		ON CONFLICT(node_id, division_id) DO NOTHING`,
		nodeID, divisionID)
	if err != nil {
		return fmt.Errorf("failed to add match member: %w", err)
	}
	return nil
}

// GetMatchMembers returns the extra member divisions per node for a world view.
func (s *SQLiteStorage) GetMatchMembers(ctx context.Context, worldViewID string) (map[int64][]int64, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(worldViewID, "worldViewID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.node_id, m.division_id
		FROM match_members m
		JOIN source_nodes n ON n.id = m.node_id
		WHERE n.world_view_id = ?
		ORDER BY m.node_id, m.division_id`, worldViewID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match members: %w", err)
	}
	defer rows.Close()

	members := make(map[int64][]int64)
	for rows.Next() {
		var nodeID, divisionID int64
		if err := rows.Scan(&nodeID, &divisionID); err != nil {
			return nil, fmt.Errorf("failed to scan match member: %w", err)
		}
		members[nodeID] = append(members[nodeID], divisionID)
	}
	return members, rows.Err()
}

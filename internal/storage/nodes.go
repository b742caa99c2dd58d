package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

const nodeColumns = `id, world_view_id, parent_id, name, path, is_leaf, dismissed_children, created_at`

func scanNode(row interface{ Scan(...any) error }) (*model.SourceNode, error) {
	var node model.SourceNode
	var parentID sql.NullInt64
	err := row.Scan(&node.ID, &node.WorldViewID, &parentID, &node.Name,
		&node.Path, &node.IsLeaf, &node.DismissedChildren, &node.CreatedAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		node.ParentID = &parentID.Int64
	}
	return &node, nil
}

// SaveNode inserts a node, or updates its mutable fields when it already has
// an id. The tree shape itself is immutable after import.
func (s *SQLiteStorage) SaveNode(ctx context.Context, node *model.SourceNode) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.saveNode(ctx, s.db, node)
}

func (s *SQLiteStorage) saveNode(ctx context.Context, q dbtx, node *model.SourceNode) error {
	if node == nil {
		return fmt.Errorf("%w: node", ErrNilParameter)
	}
	if err := validateString(node.Name, "node.Name"); err != nil {
		return err
	}

	if node.ID == 0 {
		if node.CreatedAt.IsZero() {
			node.CreatedAt = time.Now()
		}
		res, err := q.ExecContext(ctx, `
			INSERT INTO source_nodes (world_view_id, parent_id, name, path, is_leaf, dismissed_children, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			node.WorldViewID, node.ParentID, node.Name, node.Path,
			node.IsLeaf, node.DismissedChildren, node.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert node: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read node id: %w", err)
		}
		node.ID = id
		return nil
	}

	_, err := q.ExecContext(ctx, `
		UPDATE source_nodes SET dismissed_children = ? WHERE id = ?`,
		node.DismissedChildren, node.ID)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	return nil
}

// GetNode returns one node by id.
func (s *SQLiteStorage) GetNode(ctx context.Context, id int64) (*model.SourceNode, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getNode(ctx, s.db, id)
}

func (s *SQLiteStorage) getNode(ctx context.Context, q dbtx, id int64) (*model.SourceNode, error) {
	node, err := scanNode(q.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM source_nodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query node: %w", err)
	}
	return node, nil
}

// GetRoot returns the root node of a world view.
func (s *SQLiteStorage) GetRoot(ctx context.Context, worldViewID string) (*model.SourceNode, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	node, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM source_nodes WHERE world_view_id = ? AND parent_id IS NULL`, worldViewID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("root of world view %s: %w", worldViewID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query root: %w", err)
	}
	return node, nil
}

// GetChildren returns the direct children of a node, ordered by name.
func (s *SQLiteStorage) GetChildren(ctx context.Context, nodeID int64) ([]model.SourceNode, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM source_nodes WHERE parent_id = ? ORDER BY name`, nodeID)
}

// GetDescendants returns every node below the given node, breadth by depth
// through a recursive CTE.
func (s *SQLiteStorage) GetDescendants(ctx context.Context, nodeID int64) ([]model.SourceNode, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryNodes(ctx, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM source_nodes WHERE parent_id = ?
			UNION ALL
			SELECT n.id FROM source_nodes n JOIN subtree st ON n.parent_id = st.id
		)
		SELECT `+nodeColumns+` FROM source_nodes WHERE id IN (SELECT id FROM subtree) ORDER BY id`, nodeID)
}

// GetEffectiveLeaves returns the matching units of a world view: real leaves
// plus dismissed-children nodes, excluding nodes under a dismissed subtree.
func (s *SQLiteStorage) GetEffectiveLeaves(ctx context.Context, worldViewID string) ([]model.SourceNode, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryNodes(ctx, `
		SELECT `+nodeColumns+` FROM source_nodes n
		WHERE n.world_view_id = ?
		  AND (n.is_leaf = 1 OR n.dismissed_children = 1)
		  AND NOT EXISTS (
			SELECT 1 FROM match_records r
			WHERE r.node_id = n.id AND r.excluded = 1
		  )
		ORDER BY n.id`, worldViewID)
}

// GetNodes returns every node of a world view ordered by id (parents first,
// since children are always inserted after their parent).
func (s *SQLiteStorage) GetNodes(ctx context.Context, worldViewID string) ([]model.SourceNode, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM source_nodes WHERE world_view_id = ? ORDER BY id`, worldViewID)
}

func (s *SQLiteStorage) queryNodes(ctx context.Context, query string, args ...any) ([]model.SourceNode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []model.SourceNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

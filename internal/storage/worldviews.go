package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// CreateWorldView persists a new world view.
func (s *SQLiteStorage) CreateWorldView(ctx context.Context, view *model.WorldView) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if view == nil {
		return fmt.Errorf("%w: view", ErrNilParameter)
	}
	if err := validateString(view.ID, "view.ID"); err != nil {
		return err
	}
	if err := validateString(view.Name, "view.Name"); err != nil {
		return err
	}

	if view.CreatedAt.IsZero() {
		view.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO world_views (id, name, review_finalized, created_at)
		VALUES (?, ?, ?, ?)`,
		view.ID, view.Name, view.ReviewFinalized, view.CreatedAt)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("world view %s: %w", view.ID, common.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to insert world view: %w", err)
	}
	return nil
}

// GetWorldView returns one world view by id.
func (s *SQLiteStorage) GetWorldView(ctx context.Context, id string) (*model.WorldView, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var view model.WorldView
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, review_finalized, created_at
		FROM world_views WHERE id = ?`, id).
		Scan(&view.ID, &view.Name, &view.ReviewFinalized, &view.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("world view %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query world view: %w", err)
	}
	return &view, nil
}

// ListWorldViews returns all world views ordered by creation time.
func (s *SQLiteStorage) ListWorldViews(ctx context.Context) ([]model.WorldView, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, review_finalized, created_at
		FROM world_views ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query world views: %w", err)
	}
	defer rows.Close()

	var views []model.WorldView
	for rows.Next() {
		var view model.WorldView
		if err := rows.Scan(&view.ID, &view.Name, &view.ReviewFinalized, &view.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan world view: %w", err)
		}
		views = append(views, view)
	}
	return views, rows.Err()
}

// FinalizeReview marks a world view's curation as done. The flag is terminal
// and advisory; no other operation checks it.
func (s *SQLiteStorage) FinalizeReview(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE world_views SET review_finalized = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to finalize review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("world view %s: %w", id, common.ErrNotFound)
	}
	return nil
}

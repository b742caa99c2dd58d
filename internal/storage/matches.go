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

// GetMatch returns the match record for a node, or nil when the node has
// never been touched by matching.
func (s *SQLiteStorage) GetMatch(ctx context.Context, nodeID int64) (*model.MatchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getMatch(ctx, s.db, nodeID)
}

func (s *SQLiteStorage) getMatch(ctx context.Context, q dbtx, nodeID int64) (*model.MatchRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT node_id, world_view_id, status, accepted_division_id, suggestions,
		       rejected_division_ids, needs_review, note, map_image_url,
		       search_failed, excluded, updated_at
		FROM match_records WHERE node_id = ?`, nodeID)

	record, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query match record: %w", err)
	}
	return record, nil
}

// SaveMatch inserts or replaces the match record for a node.
func (s *SQLiteStorage) SaveMatch(ctx context.Context, record *model.MatchRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMatchRecord(record); err != nil {
		return err
	}
	return s.saveMatch(ctx, s.db, record)
}

func (s *SQLiteStorage) saveMatch(ctx context.Context, q dbtx, record *model.MatchRecord) error {
	suggestions, err := json.Marshal(record.Suggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}
	rejected, err := json.Marshal(record.RejectedDivisionIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal rejected ids: %w", err)
	}

	record.UpdatedAt = time.Now()

	_, err = q.ExecContext(ctx, `
		INSERT INTO match_records (node_id, world_view_id, status, accepted_division_id,
			suggestions, rejected_division_ids, needs_review, note, map_image_url,
			search_failed, excluded, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			status = excluded.status,
			accepted_division_id = excluded.accepted_division_id,
			suggestions = excluded.suggestions,
			rejected_division_ids = excluded.rejected_division_ids,
			needs_review = excluded.needs_review,
			note = excluded.note,
			map_image_url = excluded.map_image_url,
			search_failed = excluded.search_failed,
			excluded = excluded.excluded,
			updated_at = excluded.updated_at`,
		record.NodeID, record.WorldViewID, record.Status, record.AcceptedDivisionID,
		string(suggestions), string(rejected), record.NeedsReview, record.Note,
		record.MapImageURL, record.SearchFailed, record.Excluded, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save match record: %w", err)
	}
	return nil
}

// GetMatches returns every match record of a world view.
func (s *SQLiteStorage) GetMatches(ctx context.Context, worldViewID string) ([]model.MatchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, world_view_id, status, accepted_division_id, suggestions,
		       rejected_division_ids, needs_review, note, map_image_url,
		       search_failed, excluded, updated_at
		FROM match_records WHERE world_view_id = ? ORDER BY node_id`, worldViewID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match records: %w", err)
	}
	defer rows.Close()

	var records []model.MatchRecord
	for rows.Next() {
		record, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// GetMatchStats aggregates per-status counts over the effective leaves of a
// world view. Excluded records are counted separately and contribute to no
// status bucket.
func (s *SQLiteStorage) GetMatchStats(ctx context.Context, worldViewID string) (*model.MatchStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	leaves, err := s.GetEffectiveLeaves(ctx, worldViewID)
	if err != nil {
		return nil, err
	}

	records, err := s.GetMatches(ctx, worldViewID)
	if err != nil {
		return nil, err
	}

	byNode := make(map[int64]*model.MatchRecord, len(records))
	stats := &model.MatchStats{ByStatus: make(map[model.MatchStatus]int)}
	for i := range records {
		byNode[records[i].NodeID] = &records[i]
		if records[i].Excluded {
			stats.Excluded++
		}
	}

	for _, leaf := range leaves {
		stats.TotalLeaves++
		record := byNode[leaf.ID]
		if record == nil {
			stats.ByStatus[model.StatusUnmatched]++
			continue
		}
		stats.ByStatus[record.Status]++
		if record.NeedsReview {
			stats.NeedsReview++
		}
	}

	return stats, nil
}

func scanMatch(row interface{ Scan(...any) error }) (*model.MatchRecord, error) {
	var record model.MatchRecord
	var acceptedID sql.NullInt64
	var suggestions, rejected sql.NullString
	var note, mapURL sql.NullString

	err := row.Scan(&record.NodeID, &record.WorldViewID, &record.Status, &acceptedID,
		&suggestions, &rejected, &record.NeedsReview, &note, &mapURL,
		&record.SearchFailed, &record.Excluded, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if acceptedID.Valid {
		record.AcceptedDivisionID = &acceptedID.Int64
	}
	if note.Valid {
		record.Note = note.String
	}
	if mapURL.Valid {
		url := mapURL.String
		record.MapImageURL = &url
	}
	if suggestions.Valid && suggestions.String != "" {
		if err := json.Unmarshal([]byte(suggestions.String), &record.Suggestions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal suggestions: %w", err)
		}
	}
	if rejected.Valid && rejected.String != "" {
		if err := json.Unmarshal([]byte(rejected.String), &record.RejectedDivisionIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rejected ids: %w", err)
		}
	}
	return &record, nil
}

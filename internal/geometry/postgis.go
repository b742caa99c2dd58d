// Package geometry is the client for the external geometry service, a
// PostGIS database holding the reference administrative divisions. All
// queries are read-only; this engine never writes division data.
package geometry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Client implements service.Geometry against a PostGIS database.
type Client struct {
	db *sql.DB
}

// Open connects to the geometry database.
func Open(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open geometry database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping geometry database: %w", err)
	}
	return &Client{db: db}, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

const divisionColumns = `
	d.id, d.name, d.parent_id,
	COALESCE(ST_Y(ST_Centroid(d.geom)), 0),
	COALESCE(ST_X(ST_Centroid(d.geom)), 0),
	EXISTS (SELECT 1 FROM administrative_divisions c WHERE c.parent_id = d.id)`

func scanDivision(row interface{ Scan(...any) error }) (*model.Division, error) {
	var div model.Division
	var parentID sql.NullInt64
	err := row.Scan(&div.ID, &div.Name, &parentID,
		&div.CentroidLat, &div.CentroidLon, &div.HasSubdivisions)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		div.ParentID = &parentID.Int64
	}
	return &div, nil
}

// Division returns one division by id.
func (c *Client) Division(ctx context.Context, id int64) (*model.Division, error) {
	div, err := scanDivision(c.db.QueryRowContext(ctx, `
		SELECT `+divisionColumns+`
		FROM administrative_divisions d WHERE d.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("division %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query division: %w", err)
	}

	if err := c.fillPath(ctx, div); err != nil {
		return nil, err
	}
	return div, nil
}

// Children returns the direct subdivisions of a division.
func (c *Client) Children(ctx context.Context, id int64) ([]model.Division, error) {
	return c.queryDivisions(ctx, `
		SELECT `+divisionColumns+`
		FROM administrative_divisions d WHERE d.parent_id = $1 ORDER BY d.name`, id)
}

// AllDivisions returns the full reference dataset. Large; callers stream it
// through coverage scans only.
func (c *Client) AllDivisions(ctx context.Context) ([]model.Division, error) {
	return c.queryDivisions(ctx, `
		SELECT `+divisionColumns+`
		FROM administrative_divisions d ORDER BY d.id`)
}

// Closure returns the ancestor/descendant closure of a division, including
// the division itself.
func (c *Client) Closure(ctx context.Context, id int64) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, `
		WITH RECURSIVE ancestors(id, parent_id) AS (
			SELECT id, parent_id FROM administrative_divisions WHERE id = $1
			UNION ALL
			SELECT d.id, d.parent_id
			FROM administrative_divisions d JOIN ancestors a ON d.id = a.parent_id
		),
		descendants(id) AS (
			SELECT id FROM administrative_divisions WHERE id = $1
			UNION ALL
			SELECT d.id
			FROM administrative_divisions d JOIN descendants s ON d.parent_id = s.id
		)
		SELECT id FROM ancestors
		UNION
		SELECT id FROM descendants`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query closure: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var divID int64
		if err := rows.Scan(&divID); err != nil {
			return nil, fmt.Errorf("failed to scan closure id: %w", err)
		}
		ids = append(ids, divID)
	}
	return ids, rows.Err()
}

// SearchByName runs a trigram similarity search over division names,
// optionally narrowed by an ancestor-name hint, and returns ranked
// candidates with scores in [0,1].
func (c *Client) SearchByName(ctx context.Context, name, ancestorHint string, limit int) ([]model.Candidate, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT d.id, d.name, similarity(d.name, $1) AS score
		FROM administrative_divisions d
		WHERE similarity(d.name, $1) > 0.3`
	args := []any{name}

	if ancestorHint != "" {
		query += `
		  AND EXISTS (
			WITH RECURSIVE up(id, parent_id, name) AS (
				SELECT id, parent_id, name FROM administrative_divisions WHERE id = d.id
				UNION ALL
				SELECT p.id, p.parent_id, p.name
				FROM administrative_divisions p JOIN up u ON p.id = u.parent_id
			)
			SELECT 1 FROM up WHERE similarity(up.name, $2) > 0.5
		  )`
		args = append(args, ancestorHint)
	}

	args = append(args, limit)
	query += fmt.Sprintf(`
		ORDER BY score DESC, d.id
		LIMIT $%d`, len(args))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search divisions: %w", err)
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		var cand model.Candidate
		if err := rows.Scan(&cand.DivisionID, &cand.Name, &cand.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		candidates = append(candidates, cand)
	}
	return candidates, rows.Err()
}

// Nearby returns divisions whose geometry lies within radiusKm of a point,
// nearest first.
func (c *Client) Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]model.Division, error) {
	if limit <= 0 {
		limit = 10
	}

	return c.queryDivisions(ctx, `
		SELECT `+divisionColumns+`
		FROM administrative_divisions d
		WHERE ST_DWithin(d.geom::geography, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography, $3 * 1000)
		ORDER BY ST_Distance(d.geom::geography, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography)
		LIMIT $4`, lat, lon, radiusKm, limit)
}

func (c *Client) queryDivisions(ctx context.Context, query string, args ...any) ([]model.Division, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query divisions: %w", err)
	}
	defer rows.Close()

	var divisions []model.Division
	for rows.Next() {
		div, err := scanDivision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan division: %w", err)
		}
		divisions = append(divisions, *div)
	}
	return divisions, rows.Err()
}

// fillPath resolves the "Country > Region" style hierarchical path of a
// division from its ancestor chain.
func (c *Client) fillPath(ctx context.Context, div *model.Division) error {
	rows, err := c.db.QueryContext(ctx, `
		WITH RECURSIVE up(id, parent_id, name, depth) AS (
			SELECT id, parent_id, name, 0 FROM administrative_divisions WHERE id = $1
			UNION ALL
			SELECT p.id, p.parent_id, p.name, u.depth + 1
			FROM administrative_divisions p JOIN up u ON p.id = u.parent_id
		)
		SELECT name FROM up ORDER BY depth DESC`, div.ID)
	if err != nil {
		return fmt.Errorf("failed to query division path: %w", err)
	}
	defer rows.Close()

	path := ""
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan path segment: %w", err)
		}
		if path != "" {
			path += " > "
		}
		path += name
	}
	div.Path = path
	return rows.Err()
}

package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// FakeGeometry is an in-memory reference dataset. The hierarchy follows each
// division's ParentID; name search is case-insensitive equality plus prefix
// matching, which is plenty for tests.
type FakeGeometry struct {
	mu        sync.Mutex
	divisions map[int64]model.Division

	// SearchErr, when set, fails SearchByName with it.
	SearchErr error
	// NearbyResults, when set, is returned verbatim by Nearby.
	NearbyResults []model.Division
}

// NewFakeGeometry builds a fake dataset from divisions.
func NewFakeGeometry(divisions ...model.Division) *FakeGeometry {
	g := &FakeGeometry{divisions: make(map[int64]model.Division, len(divisions))}
	for _, div := range divisions {
		g.divisions[div.ID] = div
	}
	return g
}

// Add inserts or replaces a division.
func (g *FakeGeometry) Add(div model.Division) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.divisions[div.ID] = div
}

// Division implements service.Geometry.
func (g *FakeGeometry) Division(_ context.Context, id int64) (*model.Division, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	div, ok := g.divisions[id]
	if !ok {
		return nil, fmt.Errorf("division %d: %w", id, common.ErrNotFound)
	}
	return &div, nil
}

// Children implements service.Geometry.
func (g *FakeGeometry) Children(_ context.Context, id int64) ([]model.Division, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []model.Division
	for _, div := range g.divisions {
		if div.ParentID != nil && *div.ParentID == id {
			out = append(out, div)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AllDivisions implements service.Geometry.
func (g *FakeGeometry) AllDivisions(_ context.Context) ([]model.Division, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]model.Division, 0, len(g.divisions))
	for _, div := range g.divisions {
		out = append(out, div)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Closure implements service.Geometry: the division itself, all ancestors,
// and all descendants.
func (g *FakeGeometry) Closure(_ context.Context, id int64) ([]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.divisions[id]; !ok {
		return nil, fmt.Errorf("division %d: %w", id, common.ErrNotFound)
	}

	seen := map[int64]bool{id: true}

	// Ancestors.
	cur := id
	for {
		div := g.divisions[cur]
		if div.ParentID == nil {
			break
		}
		cur = *div.ParentID
		if seen[cur] {
			break
		}
		seen[cur] = true
	}

	// Descendants.
	frontier := []int64{id}
	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, div := range g.divisions {
			if div.ParentID == nil {
				continue
			}
			for _, parent := range frontier {
				if *div.ParentID == parent && !seen[div.ID] {
					seen[div.ID] = true
					next = append(next, div.ID)
				}
			}
		}
		frontier = next
	}

	out := make([]int64, 0, len(seen))
	for divID := range seen {
		out = append(out, divID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// SearchByName implements service.Geometry.
func (g *FakeGeometry) SearchByName(_ context.Context, name, _ string, limit int) ([]model.Candidate, error) {
	if g.SearchErr != nil {
		return nil, g.SearchErr
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	needle := strings.ToLower(name)
	var out []model.Candidate
	for _, div := range g.divisions {
		haystack := strings.ToLower(div.Name)
		var score float64
		switch {
		case haystack == needle:
			score = 0.95
		case strings.HasPrefix(haystack, needle) || strings.HasPrefix(needle, haystack):
			score = 0.6
		default:
			continue
		}
		out = append(out, model.Candidate{
			DivisionID: div.ID,
			Name:       div.Name,
			Score:      score,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DivisionID < out[j].DivisionID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Nearby implements service.Geometry.
func (g *FakeGeometry) Nearby(_ context.Context, _, _, _ float64, limit int) ([]model.Division, error) {
	out := g.NearbyResults
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

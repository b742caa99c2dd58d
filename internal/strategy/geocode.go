package strategy

import (
	"context"
	"fmt"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
)

// Geocode resolves a node's name to coordinates and proposes the reference
// divisions found within a bounded radius of that point. Scores are
// rank-based: the geocoder gives no comparable similarity measure, so nearer
// divisions rank higher on a fixed scale well below auto-accept thresholds.
type Geocode struct {
	geocoder service.Geocoder
	geo      service.Geometry
	radiusKm float64
	limit    int
}

// NewGeocode creates the geocoder-backed strategy.
func NewGeocode(geocoder service.Geocoder, geo service.Geometry, radiusKm float64, limit int) *Geocode {
	if radiusKm <= 0 {
		radiusKm = 100
	}
	if limit <= 0 {
		limit = 5
	}
	return &Geocode{geocoder: geocoder, geo: geo, radiusKm: radiusKm, limit: limit}
}

// Name implements Strategy.
func (s *Geocode) Name() string { return "geocode" }

// GenerateCandidates implements Strategy. Every candidate reports the search
// radius that produced it so the review surface can show how wide the net was.
func (s *Geocode) GenerateCandidates(ctx context.Context, node model.SourceNode) ([]model.Candidate, error) {
	point, err := s.geocoder.Geocode(ctx, node.Name, parentHint(node.Path))
	if err != nil {
		return nil, fmt.Errorf("%w: geocode: %v", common.ErrStrategyUnavailable, err)
	}
	if point == nil {
		return nil, nil
	}

	divisions, err := s.geo.Nearby(ctx, point.Lat, point.Lon, s.radiusKm, s.limit)
	if err != nil {
		return nil, fmt.Errorf("%w: nearby lookup: %v", common.ErrStrategyUnavailable, err)
	}

	candidates := make([]model.Candidate, 0, len(divisions))
	for i, div := range divisions {
		score := 0.8 - 0.1*float64(i)
		if score < 0.1 {
			score = 0.1
		}
		candidates = append(candidates, model.Candidate{
			DivisionID: div.ID,
			Name:       div.Name,
			Score:      score,
			Source:     s.Name(),
			RadiusKm:   s.radiusKm,
		})
	}
	return normalize(candidates, s.limit), nil
}

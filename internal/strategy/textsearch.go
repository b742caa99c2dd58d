package strategy

import (
	"context"
	"fmt"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
)

// TextSearch is the fast lexical strategy: a fuzzy name search against the
// reference dataset, scoped to the node's likely ancestor.
type TextSearch struct {
	geo   service.Geometry
	limit int
}

// NewTextSearch creates the fuzzy-text strategy.
func NewTextSearch(geo service.Geometry, limit int) *TextSearch {
	if limit <= 0 {
		limit = 10
	}
	return &TextSearch{geo: geo, limit: limit}
}

// Name implements Strategy.
func (s *TextSearch) Name() string { return "text_search" }

// GenerateCandidates implements Strategy.
func (s *TextSearch) GenerateCandidates(ctx context.Context, node model.SourceNode) ([]model.Candidate, error) {
	candidates, err := s.geo.SearchByName(ctx, node.Name, parentHint(node.Path), s.limit)
	if err != nil {
		return nil, fmt.Errorf("%w: text search: %v", common.ErrStrategyUnavailable, err)
	}

	for i := range candidates {
		candidates[i].Source = s.Name()
	}
	return normalize(candidates, s.limit), nil
}

// Package strategy wraps the external candidate sources behind one uniform
// contract: given a source node, return ranked division candidates.
// Strategies never mutate match state; only the resolver does, when the
// orchestrator or a curator applies a result.
package strategy

import (
	"context"
	"sort"
	"strings"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// Strategy is one candidate source.
type Strategy interface {
	Name() string
	GenerateCandidates(ctx context.Context, node model.SourceNode) ([]model.Candidate, error)
}

// Merge combines candidate lists from several strategies into one ranked,
// deduplicated list.
func Merge(candidates []model.Candidate, limit int) []model.Candidate {
	return normalize(candidates, limit)
}

// normalize deduplicates candidates by division id (keeping the best score),
// clamps scores into [0,1], sorts descending, and caps the list.
func normalize(candidates []model.Candidate, limit int) []model.Candidate {
	best := make(map[int64]model.Candidate, len(candidates))
	for _, cand := range candidates {
		if cand.Score < 0 {
			cand.Score = 0
		}
		if cand.Score > 1 {
			cand.Score = 1
		}
		if prev, ok := best[cand.DivisionID]; !ok || cand.Score > prev.Score {
			best[cand.DivisionID] = cand
		}
	}

	out := make([]model.Candidate, 0, len(best))
	for _, cand := range best {
		out = append(out, cand)
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
	return out
}

// parentHint returns the nearest ancestor name from a node's ancestor path,
// used to disambiguate common place names.
func parentHint(path string) string {
	if path == "" {
		return ""
	}
	parts := strings.Split(path, " > ")
	return strings.TrimSpace(parts[len(parts)-1])
}

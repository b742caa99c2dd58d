package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/resolver"
	"github.com/uncovering-world/track-your-regions-sub005/internal/strategy"
)

// StartImport persists a source tree as a new world view and runs the
// automated matching pass over its leaves. Returns the new world view id
// along with the job id.
func (o *Orchestrator) StartImport(name string, tree model.TreeNode, policy model.MatchingPolicy) (jobID, worldViewID string, err error) {
	if name == "" {
		name = tree.Name
	}
	view := &model.WorldView{ID: uuid.NewString(), Name: name}

	jobID, err = o.start(model.JobImport, view.ID, func(ctx context.Context) error {
		if err := o.store.CreateWorldView(ctx, view); err != nil {
			return err
		}
		if err := o.persistTree(ctx, view.ID, tree); err != nil {
			return err
		}
		return o.matchPass(ctx, view.ID, policy, nil)
	})
	if err != nil {
		return "", "", err
	}
	return jobID, view.ID, nil
}

// StartRematch re-runs candidate generation for every leaf of a world view
// that does not yet hold an acceptance. Re-invoking after a cancellation
// resumes naturally: committed matches are skipped.
func (o *Orchestrator) StartRematch(worldViewID string, policy model.MatchingPolicy) (string, error) {
	return o.start(model.JobRematch, worldViewID, func(ctx context.Context) error {
		if _, err := o.store.GetWorldView(ctx, worldViewID); err != nil {
			return err
		}
		return o.matchPass(ctx, worldViewID, policy, func(record *model.MatchRecord) bool {
			return record == nil || !record.Status.Accepted()
		})
	})
}

// StartCoverageScan runs the coverage analyzer as a cancellable job. The
// finished report is retained for polling via LastCoverage.
func (o *Orchestrator) StartCoverageScan(worldViewID string) (string, error) {
	return o.start(model.JobCoverageScan, worldViewID, func(ctx context.Context) error {
		report, err := o.analyzer.Scan(ctx, worldViewID)
		if err != nil {
			return err
		}

		o.mu.Lock()
		o.lastCoverage[worldViewID] = report
		o.mu.Unlock()

		o.update(func(status *model.JobStatus) {
			status.Total = report.TotalDivisions
			status.Processed = report.TotalDivisions
			status.Matched = report.CoveredCount
			status.Failed = len(report.Gaps)
		})
		return nil
	})
}

// matchPass runs the sequential per-leaf matching loop. Leaves are processed
// one at a time: external call volume stays predictable and the cancellation
// checkpoint between leaves is exact.
func (o *Orchestrator) matchPass(ctx context.Context, worldViewID string, policy model.MatchingPolicy, include func(*model.MatchRecord) bool) error {
	if policy.MaxSuggestions <= 0 {
		policy = model.DefaultMatchingPolicy()
	}

	leaves, err := o.store.GetEffectiveLeaves(ctx, worldViewID)
	if err != nil {
		return err
	}

	o.update(func(status *model.JobStatus) {
		status.WorldViewID = worldViewID
		status.Total = len(leaves)
	})

	for _, leaf := range leaves {
		if err := ctx.Err(); err != nil {
			return err
		}

		if include != nil {
			record, err := o.store.GetMatch(ctx, leaf.ID)
			if err != nil {
				return err
			}
			if !include(record) {
				o.update(func(status *model.JobStatus) { status.Processed++ })
				continue
			}
		}

		matched, failed, err := o.matchLeaf(ctx, leaf, policy)
		if err != nil {
			return err
		}

		o.update(func(status *model.JobStatus) {
			status.Processed++
			if matched {
				status.Matched++
			}
			if failed {
				status.Failed++
			}
		})
	}

	return nil
}

// matchLeaf generates candidates for one leaf and applies the policy. A
// failing strategy degrades that one source and never aborts the pass.
func (o *Orchestrator) matchLeaf(ctx context.Context, leaf model.SourceNode, policy model.MatchingPolicy) (matched, failed bool, err error) {
	var candidates []model.Candidate
	attempted, errored := 0, 0

	if o.text != nil {
		attempted++
		cands, err := o.text.GenerateCandidates(ctx, leaf)
		if err != nil {
			if ctx.Err() != nil {
				return false, false, ctx.Err()
			}
			errored++
			slog.Warn("Text search strategy failed", "node_id", leaf.ID, "error", err)
		} else {
			candidates = append(candidates, cands...)
		}
	}

	if policy.UseGeocode && o.geocode != nil && len(candidates) == 0 {
		attempted++
		cands, err := o.geocode.GenerateCandidates(ctx, leaf)
		if err != nil {
			if ctx.Err() != nil {
				return false, false, ctx.Err()
			}
			errored++
			slog.Warn("Geocode strategy failed", "node_id", leaf.ID, "error", err)
		} else {
			candidates = append(candidates, cands...)
		}
	}

	candidates = strategy.Merge(candidates, policy.MaxSuggestions)
	searchFailed := attempted > 0 && errored == attempted

	if _, err := o.resolver.WriteSuggestions(ctx, leaf.ID, candidates, searchFailed); err != nil {
		return false, false, err
	}

	if len(candidates) > 0 && candidates[0].Score >= policy.AutoAcceptThreshold {
		if _, err := o.resolver.Accept(ctx, leaf.ID, candidates[0].DivisionID, resolver.AcceptOptions{Auto: true}); err != nil {
			return false, searchFailed, fmt.Errorf("auto-accept for node %d: %w", leaf.ID, err)
		}
		return true, false, nil
	}
	return false, searchFailed, nil
}

// persistTree walks the nested import payload depth-first, assigning paths
// and parent references.
func (o *Orchestrator) persistTree(ctx context.Context, worldViewID string, tree model.TreeNode) error {
	type frame struct {
		node     model.TreeNode
		parentID *int64
		path     string
	}

	stack := []frame{{node: tree}}
	count := 0
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := &model.SourceNode{
			WorldViewID: worldViewID,
			ParentID:    f.parentID,
			Name:        f.node.Name,
			Path:        f.path,
			IsLeaf:      len(f.node.Children) == 0,
		}
		if err := o.store.SaveNode(ctx, node); err != nil {
			return err
		}
		count++

		childPath := node.Name
		if f.path != "" {
			childPath = f.path + " > " + node.Name
		}
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{
				node:     f.node.Children[i],
				parentID: &node.ID,
				path:     childPath,
			})
		}
	}

	slog.Info("Imported source tree", "world_view_id", worldViewID, "nodes", count)
	return nil
}

// SearchOne runs the fuzzy-text strategy for a single leaf on demand and
// persists the refreshed suggestions.
func (o *Orchestrator) SearchOne(ctx context.Context, leafID int64) ([]model.Candidate, error) {
	return o.runSingle(ctx, leafID, o.text)
}

// GeocodeOne runs the geocoder strategy for a single leaf on demand.
func (o *Orchestrator) GeocodeOne(ctx context.Context, leafID int64) ([]model.Candidate, error) {
	return o.runSingle(ctx, leafID, o.geocode)
}

func (o *Orchestrator) runSingle(ctx context.Context, leafID int64, strat strategy.Strategy) ([]model.Candidate, error) {
	leaf, err := o.store.GetNode(ctx, leafID)
	if err != nil {
		return nil, err
	}

	candidates, err := strat.GenerateCandidates(ctx, *leaf)
	if err != nil {
		if _, werr := o.resolver.WriteSuggestions(ctx, leafID, nil, true); werr != nil {
			return nil, werr
		}
		return nil, err
	}

	if _, err := o.resolver.WriteSuggestions(ctx, leafID, candidates, false); err != nil {
		return nil, err
	}
	return candidates, nil
}

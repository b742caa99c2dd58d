package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/resolver"
	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
	"github.com/uncovering-world/track-your-regions-sub005/internal/strategy"
)

// Escalation thresholds. Below EscalateBelow the controller climbs a tier;
// at or above AutoApplyAt the top candidate is accepted without review.
const (
	EscalateBelow = 0.6
	AutoApplyAt   = 0.8
)

// Escalator runs a node up the AI tier ladder until the adapter is confident
// enough or the ladder tops out. Usage is accumulated across all attempts, so
// an escalated node bills for every tier it touched.
type Escalator struct {
	adapter strategy.AIAdapter
	retry   service.RetryOptions
}

// NewEscalator creates an escalation controller over an AI adapter.
func NewEscalator(adapter strategy.AIAdapter) *Escalator {
	return &Escalator{
		adapter: adapter,
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 2 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Match resolves one node through the tier ladder, starting at the fast tier.
func (e *Escalator) Match(ctx context.Context, node model.SourceNode, exclude []int64) (*strategy.AIResult, error) {
	var total model.Usage

	tier := strategy.TierFast
	for {
		result, err := e.matchAtTier(ctx, node, exclude, tier)
		if err != nil {
			return nil, err
		}
		total.Add(result.Usage)

		next, ok := tier.Next()
		if result.Confidence >= EscalateBelow || !ok {
			result.Usage = total
			return result, nil
		}

		slog.Debug("Escalating AI tier",
			"node_id", node.ID,
			"from", tier,
			"to", next,
			"confidence", result.Confidence)
		tier = next
	}
}

// matchAtTier calls the adapter once at a fixed tier, retrying rate limits
// with backoff.
func (e *Escalator) matchAtTier(ctx context.Context, node model.SourceNode, exclude []int64, tier strategy.Tier) (*strategy.AIResult, error) {
	var result *strategy.AIResult
	err := common.WithRetry(ctx, func() error {
		r, err := e.adapter.MatchNode(ctx, node, exclude, tier)
		if err != nil {
			if errors.Is(err, common.ErrRateLimit) {
				return err
			}
			return &common.RetryableError{Err: err, Retryable: false}
		}
		result = r
		return nil
	}, e.retry)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StartAIMatch runs the AI pass over every leaf still needing attention:
// flagged for review, without candidates, rejected, or with a failed search.
// Token and cost counters accumulate on the job status as the pass runs.
func (o *Orchestrator) StartAIMatch(worldViewID string) (string, error) {
	if o.escalator == nil {
		return "", fmt.Errorf("AI matching not configured: %w", common.ErrStrategyUnavailable)
	}

	return o.start(model.JobAIMatch, worldViewID, func(ctx context.Context) error {
		if _, err := o.store.GetWorldView(ctx, worldViewID); err != nil {
			return err
		}

		leaves, err := o.store.GetEffectiveLeaves(ctx, worldViewID)
		if err != nil {
			return err
		}

		var pending []model.SourceNode
		records := make(map[int64]*model.MatchRecord, len(leaves))
		for _, leaf := range leaves {
			record, err := o.store.GetMatch(ctx, leaf.ID)
			if err != nil {
				return err
			}
			if needsAI(record) {
				pending = append(pending, leaf)
				records[leaf.ID] = record
			}
		}

		o.update(func(status *model.JobStatus) { status.Total = len(pending) })

		for _, leaf := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}

			applied, usage, err := o.aiMatchLeaf(ctx, leaf, records[leaf.ID])

			o.update(func(status *model.JobStatus) {
				status.Processed++
				status.InputTokens += usage.InputTokens
				status.OutputTokens += usage.OutputTokens
				status.CostUSD += usage.CostUSD
				if applied {
					status.Matched++
				}
				if err != nil {
					status.Failed++
				}
			})

			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				slog.Warn("AI match failed for node", "node_id", leaf.ID, "error", err)
			}
		}
		return nil
	})
}

// AIMatchOne escalates a single leaf on demand and returns the adapter's
// result after persisting it.
func (o *Orchestrator) AIMatchOne(ctx context.Context, leafID int64) (*strategy.AIResult, error) {
	if o.escalator == nil {
		return nil, fmt.Errorf("AI matching not configured: %w", common.ErrStrategyUnavailable)
	}

	leaf, err := o.store.GetNode(ctx, leafID)
	if err != nil {
		return nil, err
	}
	record, err := o.store.GetMatch(ctx, leafID)
	if err != nil {
		return nil, err
	}

	result, err := o.applyAIResult(ctx, *leaf, record)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// aiMatchLeaf runs escalation for one leaf and reports whether a match was
// auto-applied. Usage is returned even on failure so billing stays accurate.
func (o *Orchestrator) aiMatchLeaf(ctx context.Context, leaf model.SourceNode, record *model.MatchRecord) (bool, model.Usage, error) {
	result, err := o.applyAIResult(ctx, leaf, record)
	if err != nil {
		var usage model.Usage
		if result != nil {
			usage = result.Usage
		}
		return false, usage, err
	}
	applied := result.Confidence >= AutoApplyAt && len(result.Candidates) > 0
	return applied, result.Usage, nil
}

// applyAIResult escalates a node, verifies the winning division exists in the
// reference dataset, and persists either an acceptance or fresh suggestions.
func (o *Orchestrator) applyAIResult(ctx context.Context, leaf model.SourceNode, record *model.MatchRecord) (*strategy.AIResult, error) {
	var exclude []int64
	if record != nil {
		exclude = record.RejectedDivisionIDs
	}

	result, err := o.escalator.Match(ctx, leaf, exclude)
	if err != nil {
		return nil, err
	}

	verified := result.Candidates[:0:0]
	for _, cand := range result.Candidates {
		if _, err := o.geo.Division(ctx, cand.DivisionID); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				slog.Warn("AI proposed unknown division",
					"node_id", leaf.ID, "division_id", cand.DivisionID, "name", cand.Name)
				continue
			}
			return result, err
		}
		verified = append(verified, cand)
	}
	result.Candidates = verified

	if _, err := o.resolver.WriteSuggestions(ctx, leaf.ID, verified, false); err != nil {
		return result, err
	}

	if result.Confidence >= AutoApplyAt && len(verified) > 0 {
		if _, err := o.resolver.Accept(ctx, leaf.ID, verified[0].DivisionID, resolver.AcceptOptions{Auto: true}); err != nil {
			return result, err
		}
		slog.Info("AI match auto-applied",
			"node_id", leaf.ID,
			"division_id", verified[0].DivisionID,
			"tier", result.Tier,
			"confidence", result.Confidence)
	}
	return result, nil
}

// needsAI reports whether a leaf's current record calls for the AI pass.
func needsAI(record *model.MatchRecord) bool {
	if record == nil {
		return true
	}
	if record.Excluded || record.Status.Accepted() {
		return false
	}
	return record.NeedsReview ||
		record.SearchFailed ||
		record.Status == model.StatusNoCandidates ||
		record.Status == model.StatusRejected ||
		record.Status == model.StatusUnmatched
}

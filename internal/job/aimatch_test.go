package job_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uncovering-world/track-your-regions-sub005/internal/job"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/strategy"
	"github.com/uncovering-world/track-your-regions-sub005/internal/testutil"
)

// fakeAdapter returns canned results per tier and records the tiers it saw.
type fakeAdapter struct {
	mu      sync.Mutex
	results map[strategy.Tier]strategy.AIResult
	calls   []strategy.Tier
	err     error
}

func (a *fakeAdapter) MatchNode(_ context.Context, _ model.SourceNode, _ []int64, tier strategy.Tier) (*strategy.AIResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, tier)
	if a.err != nil {
		return nil, a.err
	}
	result := a.results[tier]
	result.Tier = tier
	return &result, nil
}

func (a *fakeAdapter) tiers() []strategy.Tier {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]strategy.Tier(nil), a.calls...)
}

func TestEscalatorClimbsUntilConfident(t *testing.T) {
	adapter := &fakeAdapter{results: map[strategy.Tier]strategy.AIResult{
		strategy.TierFast: {
			Confidence: 0.3,
			Usage:      model.Usage{InputTokens: 100, OutputTokens: 10, CostUSD: 0.001},
		},
		strategy.TierReasoning: {
			Confidence: 0.9,
			Candidates: []model.Candidate{{DivisionID: 10, Score: 0.9, Source: "ai"}},
			Usage:      model.Usage{InputTokens: 200, OutputTokens: 20, CostUSD: 0.01},
		},
	}}

	escalator := job.NewEscalator(adapter)
	result, err := escalator.Match(context.Background(), model.SourceNode{ID: 1, Name: "Lombardy"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []strategy.Tier{strategy.TierFast, strategy.TierReasoning}, adapter.tiers())
	assert.Equal(t, strategy.TierReasoning, result.Tier)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)

	// Usage accumulates across every tier touched.
	assert.Equal(t, 300, result.Usage.InputTokens)
	assert.Equal(t, 30, result.Usage.OutputTokens)
	assert.InDelta(t, 0.011, result.Usage.CostUSD, 1e-9)
}

func TestEscalatorStopsAtTopTier(t *testing.T) {
	adapter := &fakeAdapter{results: map[strategy.Tier]strategy.AIResult{
		strategy.TierFast:            {Confidence: 0.1},
		strategy.TierReasoning:       {Confidence: 0.2},
		strategy.TierReasoningSearch: {Confidence: 0.4},
	}}

	escalator := job.NewEscalator(adapter)
	result, err := escalator.Match(context.Background(), model.SourceNode{ID: 1}, nil)
	require.NoError(t, err)

	assert.Equal(t, []strategy.Tier{
		strategy.TierFast, strategy.TierReasoning, strategy.TierReasoningSearch,
	}, adapter.tiers())
	assert.Equal(t, strategy.TierReasoningSearch, result.Tier)
	assert.InDelta(t, 0.4, result.Confidence, 1e-9)
}

func TestEscalatorAcceptsThresholdConfidence(t *testing.T) {
	adapter := &fakeAdapter{results: map[strategy.Tier]strategy.AIResult{
		strategy.TierFast: {Confidence: job.EscalateBelow},
	}}

	escalator := job.NewEscalator(adapter)
	result, err := escalator.Match(context.Background(), model.SourceNode{ID: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, []strategy.Tier{strategy.TierFast}, adapter.tiers())
	assert.Equal(t, strategy.TierFast, result.Tier)
}

func TestAIMatchPassAutoApplies(t *testing.T) {
	adapter := &fakeAdapter{results: map[strategy.Tier]strategy.AIResult{
		strategy.TierFast: {
			Confidence: 0.95,
			Candidates: []model.Candidate{
				{DivisionID: 11, Name: "Lazio", Score: 0.9, Source: "ai"},
				{DivisionID: 999, Name: "Nowhere", Score: 0.8, Source: "ai"}, // unknown, dropped
			},
			Usage: model.Usage{InputTokens: 50, OutputTokens: 5, CostUSD: 0.002},
		},
	}}

	e := setup(t, func(cfg *job.Config) {
		cfg.Text = nil
		cfg.Escalator = job.NewEscalator(adapter)
	})
	ctx := context.Background()

	view := e.db.SeedWorldView("Trip")
	nodes := e.db.SeedTree(view.ID, testutil.TreeSpec{
		Name:     "Trip",
		Children: []testutil.TreeSpec{{Name: "Lazio"}},
	})

	_, err := e.orchestrator.StartAIMatch(view.ID)
	require.NoError(t, err)
	e.orchestrator.Wait()

	status, err := e.orchestrator.Status()
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, status.State)
	assert.Equal(t, 1, status.Matched)
	assert.Equal(t, 50, status.InputTokens)
	assert.Equal(t, 5, status.OutputTokens)
	assert.InDelta(t, 0.002, status.CostUSD, 1e-9)

	record, err := e.db.Storage.GetMatch(ctx, nodes["Lazio"].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAutoMatched, record.Status)
	require.NotNil(t, record.AcceptedDivisionID)
	assert.Equal(t, int64(11), *record.AcceptedDivisionID)
	assert.Nil(t, record.Suggested(999), "unverifiable divisions are dropped")
}

func TestAIMatchSkipsSettledLeaves(t *testing.T) {
	adapter := &fakeAdapter{results: map[strategy.Tier]strategy.AIResult{
		strategy.TierFast: {Confidence: 0.95, Candidates: []model.Candidate{{DivisionID: 11, Score: 0.9}}},
	}}

	e := setup(t, func(cfg *job.Config) {
		cfg.Text = nil
		cfg.Escalator = job.NewEscalator(adapter)
	})
	ctx := context.Background()

	view := e.db.SeedWorldView("Trip")
	nodes := e.db.SeedTree(view.ID, testutil.TreeSpec{
		Name:     "Trip",
		Children: []testutil.TreeSpec{{Name: "Lombardy"}, {Name: "Lazio"}},
	})

	// Lombardy is already settled by a curator.
	divID := int64(10)
	require.NoError(t, e.db.Storage.SaveMatch(ctx, &model.MatchRecord{
		NodeID:             nodes["Lombardy"].ID,
		WorldViewID:        view.ID,
		Status:             model.StatusManualMatched,
		AcceptedDivisionID: &divID,
	}))

	_, err := e.orchestrator.StartAIMatch(view.ID)
	require.NoError(t, err)
	e.orchestrator.Wait()

	status, err := e.orchestrator.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Total, "only the unsettled leaf is escalated")
	assert.Equal(t, 1, status.Matched)
}

func TestAIMatchRequiresConfiguration(t *testing.T) {
	e := setup(t, nil)

	_, err := e.orchestrator.StartAIMatch("wv")
	assert.Error(t, err)
}

package coverage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uncovering-world/track-your-regions-sub005/internal/coverage"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/resolver"
	"github.com/uncovering-world/track-your-regions-sub005/internal/testutil"
)

func int64p(v int64) *int64 { return &v }

// fixture models the classic enclave case: Italy is matched, San Marino sits
// inside it but is a separate reference division, and Iceland is far from
// everything.
type fixture struct {
	db       *testutil.TestDB
	geo      *testutil.FakeGeometry
	res      *resolver.Resolver
	analyzer *coverage.Analyzer
	view     *model.WorldView
	nodes    map[string]*model.SourceNode
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	geo := testutil.NewFakeGeometry(
		model.Division{ID: 1, Name: "Italy", CentroidLat: 43.5, CentroidLon: 12.5, HasSubdivisions: true},
		model.Division{ID: 10, Name: "Lombardy", ParentID: int64p(1), CentroidLat: 45.6, CentroidLon: 9.8},
		model.Division{ID: 11, Name: "Lazio", ParentID: int64p(1), CentroidLat: 41.9, CentroidLon: 12.8},
		model.Division{ID: 3, Name: "San Marino", CentroidLat: 43.93, CentroidLon: 12.45},
		model.Division{ID: 4, Name: "Iceland", CentroidLat: 64.9, CentroidLon: -19.0},
	)
	res := resolver.New(db.Storage, geo)

	view := db.SeedWorldView("Trip")
	nodes := db.SeedTree(view.ID, testutil.TreeSpec{
		Name:     "Trip",
		Children: []testutil.TreeSpec{{Name: "Italy"}},
	})

	_, err := res.Accept(context.Background(), nodes["Italy"].ID, 1, resolver.AcceptOptions{Verified: true})
	require.NoError(t, err)

	return &fixture{
		db:       db,
		geo:      geo,
		res:      res,
		analyzer: coverage.New(db.Storage, geo, res),
		view:     view,
		nodes:    nodes,
	}
}

func TestScanFindsGapsThroughClosure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	report, err := f.analyzer.Scan(ctx, f.view.ID)
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalDivisions)
	// Italy plus its two subdivisions are covered by the closure.
	assert.Equal(t, 3, report.CoveredCount)
	require.Len(t, report.Gaps, 2)

	// Deterministic order by division id.
	assert.Equal(t, int64(3), report.Gaps[0].DivisionID)
	assert.Equal(t, int64(4), report.Gaps[1].DivisionID)

	// San Marino's centroid is ~48 km from Italy's: join the existing region.
	sanMarino := report.Gaps[0]
	assert.Equal(t, model.RemedyAddMember, sanMarino.Remedy)
	require.NotNil(t, sanMarino.TargetNodeID)
	assert.Equal(t, f.nodes["Italy"].ID, *sanMarino.TargetNodeID)
	assert.Less(t, sanMarino.DistanceKm, coverage.AddMemberThresholdKm)

	// Iceland is far from every anchor: propose a region of its own.
	iceland := report.Gaps[1]
	assert.Equal(t, model.RemedyCreateRegion, iceland.Remedy)
	assert.Nil(t, iceland.TargetNodeID)
}

func TestScanIsDeterministic(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.analyzer.Scan(ctx, f.view.ID)
	require.NoError(t, err)
	second, err := f.analyzer.Scan(ctx, f.view.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestApproveAddMember(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	report, err := f.analyzer.Scan(ctx, f.view.ID)
	require.NoError(t, err)
	require.NoError(t, f.analyzer.Approve(ctx, f.view.ID, report.Gaps[0]))

	// San Marino now counts as covered; only Iceland remains.
	report, err = f.analyzer.Scan(ctx, f.view.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, report.CoveredCount)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, int64(4), report.Gaps[0].DivisionID)
}

func TestApproveCreateRegion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	report, err := f.analyzer.Scan(ctx, f.view.ID)
	require.NoError(t, err)
	require.NoError(t, f.analyzer.Approve(ctx, f.view.ID, report.Gaps[1]))

	// A new leaf named after the division appeared under the root, matched.
	leaves, err := f.db.Storage.GetEffectiveLeaves(ctx, f.view.ID)
	require.NoError(t, err)
	var iceland *model.SourceNode
	for i := range leaves {
		if leaves[i].Name == "Iceland" {
			iceland = &leaves[i]
		}
	}
	require.NotNil(t, iceland)

	record, err := f.db.Storage.GetMatch(ctx, iceland.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusManualMatched, record.Status)
	require.NotNil(t, record.AcceptedDivisionID)
	assert.Equal(t, int64(4), *record.AcceptedDivisionID)

	report, err = f.analyzer.Scan(ctx, f.view.ID)
	require.NoError(t, err)
	assert.Len(t, report.Gaps, 1) // only San Marino left
}

func TestDismissSilencesGap(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.analyzer.Dismiss(ctx, f.view.ID, 4))

	report, err := f.analyzer.Scan(ctx, f.view.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DismissedCount)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, int64(3), report.Gaps[0].DivisionID)

	require.NoError(t, f.analyzer.Undismiss(ctx, f.view.ID, 4))
	report, err = f.analyzer.Scan(ctx, f.view.ID)
	require.NoError(t, err)
	assert.Len(t, report.Gaps, 2)
}

func TestSuggestGap(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	gap, err := f.analyzer.SuggestGap(ctx, f.view.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, model.RemedyAddMember, gap.Remedy)

	// Covered divisions have no gap to suggest.
	_, err = f.analyzer.SuggestGap(ctx, f.view.ID, 10)
	assert.Error(t, err)
}

func TestExcludedMatchesDoNotAnchor(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Exclude Italy's record; nothing is covered anymore.
	record, err := f.db.Storage.GetMatch(ctx, f.nodes["Italy"].ID)
	require.NoError(t, err)
	record.Excluded = true
	require.NoError(t, f.db.Storage.SaveMatch(ctx, record))

	report, err := f.analyzer.Scan(ctx, f.view.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.CoveredCount)
	assert.Len(t, report.Gaps, 5)
	for _, gap := range report.Gaps {
		assert.Equal(t, model.RemedyCreateRegion, gap.Remedy)
	}
}

package resolver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/resolver"
	"github.com/uncovering-world/track-your-regions-sub005/internal/testutil"
)

// beneluxFixture seeds the classic umbrella case: a hand-authored "Benelux"
// grouping with no reference counterpart, next to a sibling already matched.
func beneluxFixture(t *testing.T) (*testutil.TestDB, *resolver.Resolver, *model.WorldView, map[string]*model.SourceNode) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	geo := testutil.NewFakeGeometry(
		model.Division{ID: 1, Name: "Europe"},
		model.Division{ID: 10, Name: "France", ParentID: int64p(1)},
		model.Division{ID: 11, Name: "Belgium", ParentID: int64p(1)},
		model.Division{ID: 12, Name: "Netherlands", ParentID: int64p(1)},
		model.Division{ID: 13, Name: "Luxembourg", ParentID: int64p(1)},
	)
	res := resolver.New(db.Storage, geo)

	view := db.SeedWorldView("Europe Trip")
	nodes := db.SeedTree(view.ID, testutil.TreeSpec{
		Name: "Europe",
		Children: []testutil.TreeSpec{
			{Name: "France"},
			{Name: "Benelux", Children: []testutil.TreeSpec{
				{Name: "Belgium"}, {Name: "Netherlands"}, {Name: "Luxembourg"},
			}},
		},
	})

	// France is already resolved; it anchors the grouping context.
	_, err := res.Accept(context.Background(), nodes["France"].ID, 10, resolver.AcceptOptions{Verified: true})
	require.NoError(t, err)

	return db, res, view, nodes
}

func TestHandleAsGrouping(t *testing.T) {
	db, res, _, nodes := beneluxFixture(t)
	ctx := context.Background()

	outcome, err := res.HandleAsGrouping(ctx, nodes["Benelux"].ID)
	require.NoError(t, err)
	assert.True(t, outcome.Changed)

	// Every child resolved by exact name against Europe's children.
	for name, divID := range map[string]int64{"Belgium": 11, "Netherlands": 12, "Luxembourg": 13} {
		record, err := db.Storage.GetMatch(ctx, nodes[name].ID)
		require.NoError(t, err)
		require.NotNil(t, record, name)
		assert.Equal(t, model.StatusAutoMatched, record.Status, name)
		require.NotNil(t, record.AcceptedDivisionID, name)
		assert.Equal(t, divID, *record.AcceptedDivisionID, name)
	}

	// The umbrella itself is excluded from review.
	record, err := db.Storage.GetMatch(ctx, nodes["Benelux"].ID)
	require.NoError(t, err)
	assert.True(t, record.Excluded)
}

func TestHandleAsGroupingAmbiguousChild(t *testing.T) {
	db, res, _, nodes := beneluxFixture(t)
	ctx := context.Background()

	// A second reference "Belgium" under Europe makes the name ambiguous.
	geo := testutil.NewFakeGeometry(
		model.Division{ID: 1, Name: "Europe"},
		model.Division{ID: 10, Name: "France", ParentID: int64p(1)},
		model.Division{ID: 11, Name: "Belgium", ParentID: int64p(1)},
		model.Division{ID: 21, Name: "Belgium", ParentID: int64p(1)},
		model.Division{ID: 12, Name: "Netherlands", ParentID: int64p(1)},
		model.Division{ID: 13, Name: "Luxembourg", ParentID: int64p(1)},
	)
	res = resolver.New(db.Storage, geo)

	_, err := res.HandleAsGrouping(ctx, nodes["Benelux"].ID)
	require.NoError(t, err)

	record, err := db.Storage.GetMatch(ctx, nodes["Belgium"].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuggested, record.Status)
	assert.Len(t, record.Suggestions, 2)
	assert.Nil(t, record.AcceptedDivisionID)
}

func TestHandleAsGroupingConflict(t *testing.T) {
	_, res, _, nodes := beneluxFixture(t)
	ctx := context.Background()

	// A child already accepted must not be silently overwritten.
	_, err := res.Accept(ctx, nodes["Belgium"].ID, 11, resolver.AcceptOptions{Verified: true})
	require.NoError(t, err)

	_, err = res.HandleAsGrouping(ctx, nodes["Benelux"].ID)
	assert.ErrorIs(t, err, common.ErrGroupingConflict)
}

func TestHandleAsGroupingNoContext(t *testing.T) {
	db := testutil.SetupTestDB(t)
	geo := testutil.NewFakeGeometry(model.Division{ID: 1, Name: "Europe"})
	res := resolver.New(db.Storage, geo)

	view := db.SeedWorldView("Trip")
	nodes := db.SeedTree(view.ID, testutil.TreeSpec{
		Name: "Europe",
		Children: []testutil.TreeSpec{
			{Name: "Benelux", Children: []testutil.TreeSpec{{Name: "Belgium"}}},
		},
	})

	// No sibling holds an acceptance to infer the parent division from.
	_, err := res.HandleAsGrouping(context.Background(), nodes["Benelux"].ID)
	assert.ErrorIs(t, err, common.ErrNoGroupingContext)
}

func TestDismissChildrenAndUndo(t *testing.T) {
	db := testutil.SetupTestDB(t)
	geo := testutil.NewFakeGeometry(
		model.Division{ID: 1, Name: "Italy"},
		model.Division{ID: 10, Name: "Lombardy", ParentID: int64p(1)},
	)
	res := resolver.New(db.Storage, geo)

	view := db.SeedWorldView("Trip")
	nodes := db.SeedTree(view.ID, testutil.TreeSpec{
		Name: "Trip",
		Children: []testutil.TreeSpec{
			{Name: "Italy", Children: []testutil.TreeSpec{{Name: "Lombardy"}, {Name: "Lazio"}}},
		},
	})
	ctx := context.Background()

	// Lombardy already matched; the dismissal must be reversible around it.
	_, err := res.Accept(ctx, nodes["Lombardy"].ID, 10, resolver.AcceptOptions{Verified: true})
	require.NoError(t, err)

	outcome, err := res.DismissChildren(ctx, nodes["Italy"].ID)
	require.NoError(t, err)
	assert.True(t, outcome.Changed)

	// Italy is now the effective leaf; its subtree is out of review.
	leaves, err := db.Storage.GetEffectiveLeaves(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, nodes["Italy"].ID, leaves[0].ID)

	record, err := db.Storage.GetMatch(ctx, nodes["Lombardy"].ID)
	require.NoError(t, err)
	assert.True(t, record.Excluded)

	// Dismissing again is a no-op.
	outcome, err = res.DismissChildren(ctx, nodes["Italy"].ID)
	require.NoError(t, err)
	assert.False(t, outcome.Changed)

	// Undo restores the subtree, including Lombardy's acceptance.
	kind, err := res.Undo(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UndoDismissChildren, kind)

	node, err := db.Storage.GetNode(ctx, nodes["Italy"].ID)
	require.NoError(t, err)
	assert.False(t, node.DismissedChildren)

	leaves, err = db.Storage.GetEffectiveLeaves(ctx, view.ID)
	require.NoError(t, err)
	assert.Len(t, leaves, 2)

	record, err = db.Storage.GetMatch(ctx, nodes["Lombardy"].ID)
	require.NoError(t, err)
	assert.False(t, record.Excluded)
	assert.Equal(t, model.StatusManualMatched, record.Status)
	require.NotNil(t, record.AcceptedDivisionID)
	assert.Equal(t, int64(10), *record.AcceptedDivisionID)

	// The slot is consumed.
	_, err = res.Undo(ctx, view.ID)
	assert.ErrorIs(t, err, common.ErrNothingToUndo)
}

func TestDismissChildrenRequiresGroup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	res := resolver.New(db.Storage, testutil.NewFakeGeometry())

	view := db.SeedWorldView("Trip")
	nodes := db.SeedTree(view.ID, testutil.TreeSpec{
		Name:     "Trip",
		Children: []testutil.TreeSpec{{Name: "Lombardy"}},
	})

	_, err := res.DismissChildren(context.Background(), nodes["Lombardy"].ID)
	assert.ErrorIs(t, err, common.ErrNotAGroup)
}

func TestUndoSlotHoldsOnlyLatest(t *testing.T) {
	db, res, view, nodes := beneluxFixture(t)
	ctx := context.Background()

	_, err := res.HandleAsGrouping(ctx, nodes["Benelux"].ID)
	require.NoError(t, err)

	// A later dismissal overwrites the grouping in the slot.
	_, err = res.DismissChildren(ctx, nodes["Benelux"].ID)
	require.NoError(t, err)

	kind, err := res.Undo(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UndoDismissChildren, kind)

	// The grouping's effects are still in place after undoing the dismissal.
	record, err := db.Storage.GetMatch(ctx, nodes["Belgium"].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAutoMatched, record.Status)
}

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func seedView(t *testing.T, store *SQLiteStorage, id, name string) *model.WorldView {
	t.Helper()
	view := &model.WorldView{ID: id, Name: name}
	if err := store.CreateWorldView(context.Background(), view); err != nil {
		t.Fatalf("Failed to create world view: %v", err)
	}
	return view
}

func seedLeaf(t *testing.T, store *SQLiteStorage, worldViewID, name string, parentID *int64) *model.SourceNode {
	t.Helper()
	node := &model.SourceNode{
		WorldViewID: worldViewID,
		ParentID:    parentID,
		Name:        name,
		IsLeaf:      true,
	}
	if err := store.SaveNode(context.Background(), node); err != nil {
		t.Fatalf("Failed to save node: %v", err)
	}
	return node
}

func TestMigrateIsIdempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != ExpectedSchemaVersion {
		t.Errorf("Schema version = %d, want %d", version, ExpectedSchemaVersion)
	}
}

func TestWorldViewLifecycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedView(t, store, "wv-1", "Europe Trip")
	seedView(t, store, "wv-2", "Asia Trip")

	view, err := store.GetWorldView(ctx, "wv-1")
	if err != nil {
		t.Fatalf("GetWorldView failed: %v", err)
	}
	if view.Name != "Europe Trip" || view.ReviewFinalized {
		t.Errorf("Unexpected view: %+v", view)
	}

	views, err := store.ListWorldViews(ctx)
	if err != nil {
		t.Fatalf("ListWorldViews failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("Expected 2 views, got %d", len(views))
	}

	if err := store.FinalizeReview(ctx, "wv-1"); err != nil {
		t.Fatalf("FinalizeReview failed: %v", err)
	}
	view, _ = store.GetWorldView(ctx, "wv-1")
	if !view.ReviewFinalized {
		t.Error("Expected review_finalized after FinalizeReview")
	}

	if err := store.FinalizeReview(ctx, "missing"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing view, got %v", err)
	}
	if _, err := store.GetWorldView(ctx, "missing"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestNodeTreeQueries(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedView(t, store, "wv-1", "Trip")
	root := &model.SourceNode{WorldViewID: "wv-1", Name: "World"}
	if err := store.SaveNode(ctx, root); err != nil {
		t.Fatalf("Failed to save root: %v", err)
	}
	italy := &model.SourceNode{WorldViewID: "wv-1", ParentID: &root.ID, Name: "Italy"}
	if err := store.SaveNode(ctx, italy); err != nil {
		t.Fatalf("Failed to save node: %v", err)
	}
	lombardy := seedLeaf(t, store, "wv-1", "Lombardy", &italy.ID)
	lazio := seedLeaf(t, store, "wv-1", "Lazio", &italy.ID)

	got, err := store.GetRoot(ctx, "wv-1")
	if err != nil {
		t.Fatalf("GetRoot failed: %v", err)
	}
	if got.ID != root.ID || got.ParentID != nil {
		t.Errorf("Unexpected root: %+v", got)
	}

	children, err := store.GetChildren(ctx, italy.ID)
	if err != nil {
		t.Fatalf("GetChildren failed: %v", err)
	}
	if len(children) != 2 || children[0].Name != "Lazio" {
		t.Errorf("Expected [Lazio Lombardy], got %+v", children)
	}

	descendants, err := store.GetDescendants(ctx, root.ID)
	if err != nil {
		t.Fatalf("GetDescendants failed: %v", err)
	}
	if len(descendants) != 3 {
		t.Errorf("Expected 3 descendants, got %d", len(descendants))
	}

	leaves, err := store.GetEffectiveLeaves(ctx, "wv-1")
	if err != nil {
		t.Fatalf("GetEffectiveLeaves failed: %v", err)
	}
	if len(leaves) != 2 {
		t.Fatalf("Expected 2 effective leaves, got %d", len(leaves))
	}

	// Excluding a leaf's record removes it from the effective set.
	if err := store.SaveMatch(ctx, &model.MatchRecord{
		NodeID:      lazio.ID,
		WorldViewID: "wv-1",
		Status:      model.StatusUnmatched,
		Excluded:    true,
	}); err != nil {
		t.Fatalf("SaveMatch failed: %v", err)
	}
	leaves, _ = store.GetEffectiveLeaves(ctx, "wv-1")
	if len(leaves) != 1 {
		t.Fatalf("Expected 1 effective leaf after exclusion, got %d", len(leaves))
	}
	for _, leaf := range leaves {
		if leaf.ID == lazio.ID {
			t.Error("Excluded leaf still listed")
		}
	}
	_ = lombardy
}

func TestMatchRecordUpsert(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedView(t, store, "wv-1", "Trip")
	leaf := seedLeaf(t, store, "wv-1", "Lombardy", nil)

	got, err := store.GetMatch(ctx, leaf.ID)
	if err != nil {
		t.Fatalf("GetMatch failed: %v", err)
	}
	if got != nil {
		t.Fatalf("Expected nil record for untouched leaf, got %+v", got)
	}

	record := &model.MatchRecord{
		NodeID:      leaf.ID,
		WorldViewID: "wv-1",
		Status:      model.StatusSuggested,
		Suggestions: []model.Candidate{
			{DivisionID: 7, Name: "Lombardia", Score: 0.9, Source: "text_search"},
		},
		RejectedDivisionIDs: []int64{3},
		NeedsReview:         true,
		Note:                "double-check spelling",
	}
	if err := store.SaveMatch(ctx, record); err != nil {
		t.Fatalf("SaveMatch failed: %v", err)
	}

	got, err = store.GetMatch(ctx, leaf.ID)
	if err != nil {
		t.Fatalf("GetMatch failed: %v", err)
	}
	if got.Status != model.StatusSuggested || len(got.Suggestions) != 1 || got.Suggestions[0].DivisionID != 7 {
		t.Errorf("Unexpected record: %+v", got)
	}
	if !got.NeedsReview || got.Note != "double-check spelling" {
		t.Errorf("Overlay fields lost: %+v", got)
	}
	if len(got.RejectedDivisionIDs) != 1 || got.RejectedDivisionIDs[0] != 3 {
		t.Errorf("Rejected ids lost: %+v", got.RejectedDivisionIDs)
	}

	// Upsert replaces in place.
	divID := int64(7)
	record.Status = model.StatusManualMatched
	record.AcceptedDivisionID = &divID
	if err := store.SaveMatch(ctx, record); err != nil {
		t.Fatalf("SaveMatch (update) failed: %v", err)
	}
	got, _ = store.GetMatch(ctx, leaf.ID)
	if got.Status != model.StatusManualMatched || got.AcceptedDivisionID == nil || *got.AcceptedDivisionID != 7 {
		t.Errorf("Update lost: %+v", got)
	}
}

func TestSaveMatchValidatesInvariant(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedView(t, store, "wv-1", "Trip")
	leaf := seedLeaf(t, store, "wv-1", "Lombardy", nil)

	// Accepted status without a division id must be rejected.
	err := store.SaveMatch(ctx, &model.MatchRecord{
		NodeID:      leaf.ID,
		WorldViewID: "wv-1",
		Status:      model.StatusAutoMatched,
	})
	if err == nil {
		t.Error("Expected validation error for accepted status without division")
	}

	// Non-accepted status carrying a division id must be rejected.
	divID := int64(5)
	err = store.SaveMatch(ctx, &model.MatchRecord{
		NodeID:             leaf.ID,
		WorldViewID:        "wv-1",
		Status:             model.StatusSuggested,
		AcceptedDivisionID: &divID,
	})
	if err == nil {
		t.Error("Expected validation error for division on non-accepted status")
	}
}

func TestMatchStats(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedView(t, store, "wv-1", "Trip")
	a := seedLeaf(t, store, "wv-1", "A", nil)
	b := seedLeaf(t, store, "wv-1", "B", nil)
	seedLeaf(t, store, "wv-1", "C", nil)

	divID := int64(1)
	if err := store.SaveMatch(ctx, &model.MatchRecord{
		NodeID: a.ID, WorldViewID: "wv-1",
		Status: model.StatusAutoMatched, AcceptedDivisionID: &divID,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveMatch(ctx, &model.MatchRecord{
		NodeID: b.ID, WorldViewID: "wv-1",
		Status: model.StatusNoCandidates, NeedsReview: true,
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := store.GetMatchStats(ctx, "wv-1")
	if err != nil {
		t.Fatalf("GetMatchStats failed: %v", err)
	}
	if stats.TotalLeaves != 3 {
		t.Errorf("TotalLeaves = %d, want 3", stats.TotalLeaves)
	}
	if stats.ByStatus[model.StatusAutoMatched] != 1 ||
		stats.ByStatus[model.StatusNoCandidates] != 1 ||
		stats.ByStatus[model.StatusUnmatched] != 1 {
		t.Errorf("Unexpected status counts: %+v", stats.ByStatus)
	}
	if stats.NeedsReview != 1 {
		t.Errorf("NeedsReview = %d, want 1", stats.NeedsReview)
	}
}

func TestUndoSlotOverwrites(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedView(t, store, "wv-1", "Trip")

	entry, err := store.GetUndoEntry(ctx, "wv-1")
	if err != nil {
		t.Fatalf("GetUndoEntry failed: %v", err)
	}
	if entry != nil {
		t.Fatalf("Expected empty slot, got %+v", entry)
	}

	first := &model.UndoLogEntry{
		WorldViewID: "wv-1",
		Kind:        model.UndoDismissChildren,
		NodeID:      1,
		Prior:       []model.PriorNodeState{{NodeID: 1, Status: model.StatusUnmatched}},
	}
	if err := store.SaveUndoEntry(ctx, first); err != nil {
		t.Fatalf("SaveUndoEntry failed: %v", err)
	}

	second := &model.UndoLogEntry{
		WorldViewID: "wv-1",
		Kind:        model.UndoHandleAsGrouping,
		NodeID:      2,
		Prior:       []model.PriorNodeState{{NodeID: 2, Status: model.StatusSuggested}},
	}
	if err := store.SaveUndoEntry(ctx, second); err != nil {
		t.Fatalf("SaveUndoEntry (overwrite) failed: %v", err)
	}

	entry, err = store.GetUndoEntry(ctx, "wv-1")
	if err != nil {
		t.Fatalf("GetUndoEntry failed: %v", err)
	}
	if entry.Kind != model.UndoHandleAsGrouping || entry.NodeID != 2 {
		t.Errorf("Slot not overwritten: %+v", entry)
	}

	if err := store.ClearUndoEntry(ctx, "wv-1"); err != nil {
		t.Fatalf("ClearUndoEntry failed: %v", err)
	}
	entry, _ = store.GetUndoEntry(ctx, "wv-1")
	if entry != nil {
		t.Errorf("Expected cleared slot, got %+v", entry)
	}
}

func TestDismissedGapsAndMembers(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedView(t, store, "wv-1", "Trip")
	leaf := seedLeaf(t, store, "wv-1", "Italy", nil)

	if err := store.DismissGap(ctx, "wv-1", 42); err != nil {
		t.Fatalf("DismissGap failed: %v", err)
	}
	// Dismissing twice is a no-op, not an error.
	if err := store.DismissGap(ctx, "wv-1", 42); err != nil {
		t.Fatalf("DismissGap (repeat) failed: %v", err)
	}

	dismissed, err := store.GetDismissedGaps(ctx, "wv-1")
	if err != nil {
		t.Fatalf("GetDismissedGaps failed: %v", err)
	}
	if !dismissed[42] || len(dismissed) != 1 {
		t.Errorf("Unexpected dismissed set: %+v", dismissed)
	}

	if err := store.UndismissGap(ctx, "wv-1", 42); err != nil {
		t.Fatalf("UndismissGap failed: %v", err)
	}
	dismissed, _ = store.GetDismissedGaps(ctx, "wv-1")
	if len(dismissed) != 0 {
		t.Errorf("Expected empty dismissed set, got %+v", dismissed)
	}

	if err := store.AddMatchMember(ctx, leaf.ID, 7); err != nil {
		t.Fatalf("AddMatchMember failed: %v", err)
	}
	if err := store.AddMatchMember(ctx, leaf.ID, 7); err != nil {
		t.Fatalf("AddMatchMember (repeat) failed: %v", err)
	}
	members, err := store.GetMatchMembers(ctx, "wv-1")
	if err != nil {
		t.Fatalf("GetMatchMembers failed: %v", err)
	}
	if len(members[leaf.ID]) != 1 || members[leaf.ID][0] != 7 {
		t.Errorf("Unexpected members: %+v", members)
	}
}

func TestCreateWorldViewDuplicate(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedView(t, store, "wv-1", "Trip")

	err := store.CreateWorldView(ctx, &model.WorldView{ID: "wv-1", Name: "Other"})
	if !errors.Is(err, common.ErrDuplicateEntry) {
		t.Errorf("Duplicate insert error = %v, want ErrDuplicateEntry", err)
	}
}

func TestTxReadsUseTheTransaction(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedView(t, store, "wv-1", "Trip")
	leaf := seedLeaf(t, store, "wv-1", "Lombardy", nil)

	// The pool holds a single connection and the transaction owns it, so
	// reads issued while the transaction is open must go through it.
	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	node, err := tx.GetNode(ctx, leaf.ID)
	if err != nil {
		t.Fatalf("GetNode in tx failed: %v", err)
	}
	if node.Name != "Lombardy" {
		t.Errorf("Node name = %q, want Lombardy", node.Name)
	}

	if _, err := tx.GetNode(ctx, 9999); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Missing node error = %v, want ErrNotFound", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestTxRollback(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedView(t, store, "wv-1", "Trip")
	leaf := seedLeaf(t, store, "wv-1", "Lombardy", nil)

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if err := tx.SaveMatch(ctx, &model.MatchRecord{
		NodeID: leaf.ID, WorldViewID: "wv-1", Status: model.StatusNoCandidates,
	}); err != nil {
		t.Fatalf("SaveMatch in tx failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	record, err := store.GetMatch(ctx, leaf.ID)
	if err != nil {
		t.Fatalf("GetMatch failed: %v", err)
	}
	if record != nil {
		t.Errorf("Rollback leaked a record: %+v", record)
	}
}

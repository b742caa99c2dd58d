package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// DismissChildren converts a non-leaf node into an effective leaf: its
// descendants stop contributing to coverage and review lists. The prior
// state of every affected node goes into the world view's undo slot.
func (r *Resolver) DismissChildren(ctx context.Context, nodeID int64) (Outcome, error) {
	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		return Outcome{}, err
	}
	if node.IsLeaf {
		return Outcome{}, fmt.Errorf("node %d: %w", nodeID, common.ErrNotAGroup)
	}
	if node.DismissedChildren {
		return Outcome{Changed: false}, nil
	}

	descendants, err := r.store.GetDescendants(ctx, nodeID)
	if err != nil {
		return Outcome{}, err
	}

	entry := &model.UndoLogEntry{
		WorldViewID: node.WorldViewID,
		Kind:        model.UndoDismissChildren,
		NodeID:      nodeID,
	}

	nodeRecord, err := r.store.GetMatch(ctx, nodeID)
	if err != nil {
		return Outcome{}, err
	}
	entry.Prior = append(entry.Prior, priorState(node, nodeRecord))

	type pending struct {
		record *model.MatchRecord
	}
	updates := make([]pending, 0, len(descendants))
	for i := range descendants {
		desc := &descendants[i]
		record, err := r.store.GetMatch(ctx, desc.ID)
		if err != nil {
			return Outcome{}, err
		}
		entry.Prior = append(entry.Prior, priorState(desc, record))

		if record == nil {
			record = defaultRecord(desc)
		}
		record.Excluded = true
		updates = append(updates, pending{record: record})
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.SaveUndoEntry(ctx, entry); err != nil {
		return Outcome{}, err
	}

	node.DismissedChildren = true
	if err := tx.SaveNode(ctx, node); err != nil {
		return Outcome{}, err
	}
	if nodeRecord == nil {
		if err := tx.SaveMatch(ctx, defaultRecord(node)); err != nil {
			return Outcome{}, err
		}
	}
	for _, u := range updates {
		if err := tx.SaveMatch(ctx, u.record); err != nil {
			return Outcome{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}

	slog.Info("Dismissed children",
		"node_id", nodeID,
		"descendants", len(descendants))
	return Outcome{Status: model.StatusUnmatched, Changed: true}, nil
}

// HandleAsGrouping reinterprets an umbrella node that has no direct reference
// counterpart: its children are matched against the children of the division
// the node's siblings already resolved under. Fails loudly if any child
// already holds an acceptance rather than silently overwriting it.
func (r *Resolver) HandleAsGrouping(ctx context.Context, nodeID int64) (Outcome, error) {
	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		return Outcome{}, err
	}
	if node.IsLeaf {
		return Outcome{}, fmt.Errorf("node %d: %w", nodeID, common.ErrNotAGroup)
	}

	children, err := r.store.GetChildren(ctx, nodeID)
	if err != nil {
		return Outcome{}, err
	}
	if len(children) == 0 {
		return Outcome{}, fmt.Errorf("node %d: %w", nodeID, common.ErrNotAGroup)
	}

	childRecords := make(map[int64]*model.MatchRecord, len(children))
	for _, child := range children {
		record, err := r.store.GetMatch(ctx, child.ID)
		if err != nil {
			return Outcome{}, err
		}
		if record != nil && record.Status.Accepted() {
			return Outcome{}, fmt.Errorf("child %d of node %d: %w", child.ID, nodeID, common.ErrGroupingConflict)
		}
		childRecords[child.ID] = record
	}

	contextID, err := r.groupingContext(ctx, node)
	if err != nil {
		return Outcome{}, err
	}

	refChildren, err := r.geo.Children(ctx, contextID)
	if err != nil {
		return Outcome{}, err
	}

	entry := &model.UndoLogEntry{
		WorldViewID: node.WorldViewID,
		Kind:        model.UndoHandleAsGrouping,
		NodeID:      nodeID,
	}

	nodeRecord, err := r.store.GetMatch(ctx, nodeID)
	if err != nil {
		return Outcome{}, err
	}
	entry.Prior = append(entry.Prior, priorState(node, nodeRecord))
	for i := range children {
		entry.Prior = append(entry.Prior, priorState(&children[i], childRecords[children[i].ID]))
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.SaveUndoEntry(ctx, entry); err != nil {
		return Outcome{}, err
	}

	// The umbrella itself needs no match; exclude it from review lists.
	if nodeRecord == nil {
		nodeRecord = defaultRecord(node)
	}
	nodeRecord.Excluded = true
	if err := tx.SaveMatch(ctx, nodeRecord); err != nil {
		return Outcome{}, err
	}

	matched := 0
	for i := range children {
		child := &children[i]
		record := childRecords[child.ID]
		if record == nil {
			record = defaultRecord(child)
		}

		hits := divisionsNamed(refChildren, child.Name)
		switch len(hits) {
		case 1:
			divID := hits[0].ID
			record.Status = model.StatusAutoMatched
			record.AcceptedDivisionID = &divID
			record.Suggestions = nil
			matched++
		default:
			suggestions := make([]model.Candidate, 0, len(hits))
			for _, hit := range hits {
				suggestions = append(suggestions, model.Candidate{
					DivisionID: hit.ID,
					Name:       hit.Name,
					Score:      0.5,
					Source:     "grouping",
				})
			}
			record.Suggestions = suggestions
			if len(suggestions) > 0 {
				record.Status = model.StatusSuggested
			} else {
				record.Status = model.StatusNoCandidates
			}
		}

		if err := tx.SaveMatch(ctx, record); err != nil {
			return Outcome{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}

	slog.Info("Handled node as grouping",
		"node_id", nodeID,
		"children", len(children),
		"auto_matched", matched,
		"context_division", contextID)
	return Outcome{Changed: true}, nil
}

// Undo reverses the single most recent subtree reinterpretation for a world
// view. Fails with NothingToUndo when the slot is empty or already consumed.
func (r *Resolver) Undo(ctx context.Context, worldViewID string) (model.UndoKind, error) {
	entry, err := r.store.GetUndoEntry(ctx, worldViewID)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", fmt.Errorf("world view %s: %w", worldViewID, common.ErrNothingToUndo)
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	for _, prior := range entry.Prior {
		node, err := tx.GetNode(ctx, prior.NodeID)
		if err != nil {
			return "", err
		}
		if node.DismissedChildren != prior.DismissedChildren {
			node.DismissedChildren = prior.DismissedChildren
			if err := tx.SaveNode(ctx, node); err != nil {
				return "", err
			}
		}

		record, err := tx.GetMatch(ctx, prior.NodeID)
		if err != nil {
			return "", err
		}
		if record == nil {
			if !prior.HadRecord {
				continue
			}
			record = defaultRecord(node)
		}

		// Restore only the durable fields. Suggestions are an ephemeral
		// cache: whatever a grouping wrote stays until the next strategy
		// pass overwrites it.
		record.Status = prior.Status
		record.AcceptedDivisionID = prior.AcceptedDivisionID
		record.Excluded = prior.Excluded
		if err := tx.SaveMatch(ctx, record); err != nil {
			return "", err
		}
	}

	if err := tx.ClearUndoEntry(ctx, worldViewID); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	slog.Info("Undid subtree reinterpretation",
		"world_view_id", worldViewID,
		"kind", entry.Kind,
		"node_id", entry.NodeID)
	return entry.Kind, nil
}

// groupingContext finds the reference division whose children the grouping
// node's children should match: the parent division of a sibling's accepted
// match.
func (r *Resolver) groupingContext(ctx context.Context, node *model.SourceNode) (int64, error) {
	if node.ParentID == nil {
		return 0, fmt.Errorf("node %d is a root: %w", node.ID, common.ErrNoGroupingContext)
	}

	siblings, err := r.store.GetChildren(ctx, *node.ParentID)
	if err != nil {
		return 0, err
	}

	for _, sibling := range siblings {
		if sibling.ID == node.ID {
			continue
		}
		record, err := r.store.GetMatch(ctx, sibling.ID)
		if err != nil {
			return 0, err
		}
		if record == nil || !record.Status.Accepted() {
			continue
		}

		division, err := r.geo.Division(ctx, *record.AcceptedDivisionID)
		if err != nil {
			return 0, err
		}
		if division.ParentID != nil {
			return *division.ParentID, nil
		}
	}

	return 0, fmt.Errorf("node %d: %w", node.ID, common.ErrNoGroupingContext)
}

func priorState(node *model.SourceNode, record *model.MatchRecord) model.PriorNodeState {
	prior := model.PriorNodeState{
		NodeID:            node.ID,
		Status:            model.StatusUnmatched,
		DismissedChildren: node.DismissedChildren,
	}
	if record != nil {
		prior.HadRecord = true
		prior.Status = record.Status
		prior.AcceptedDivisionID = record.AcceptedDivisionID
		prior.Excluded = record.Excluded
	}
	return prior
}

func divisionsNamed(divisions []model.Division, name string) []model.Division {
	var hits []model.Division
	for _, div := range divisions {
		if strings.EqualFold(strings.TrimSpace(div.Name), strings.TrimSpace(name)) {
			hits = append(hits, div)
		}
	}
	return hits
}

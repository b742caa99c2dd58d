package resolver

import (
	"context"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// TreeNode is one node of the annotated review tree.
type TreeNode struct {
	Name               string            `json:"name"`
	Status             model.MatchStatus `json:"status"`
	AcceptedDivisionID *int64            `json:"acceptedDivisionId,omitempty"`
	Suggestions        []model.Candidate `json:"suggestions,omitempty"`
	Children           []*TreeNode       `json:"children,omitempty"`
	ID                 int64             `json:"id"`
	IsLeaf             bool              `json:"isLeaf"`
	DismissedChildren  bool              `json:"dismissedChildren,omitempty"`
	NeedsReview        bool              `json:"needsReview,omitempty"`
	SearchFailed       bool              `json:"searchFailed,omitempty"`
	Excluded           bool              `json:"excluded,omitempty"`
}

// MatchTree returns the full source tree annotated with per-node match state.
// Non-leaf statuses are a read-only aggregate: children_matched when every
// contributing descendant leaf holds an acceptance, otherwise unmatched.
func (r *Resolver) MatchTree(ctx context.Context, worldViewID string) (*TreeNode, error) {
	nodes, err := r.store.GetNodes(ctx, worldViewID)
	if err != nil {
		return nil, err
	}

	records, err := r.store.GetMatches(ctx, worldViewID)
	if err != nil {
		return nil, err
	}
	byNode := make(map[int64]*model.MatchRecord, len(records))
	for i := range records {
		byNode[records[i].NodeID] = &records[i]
	}

	built := make(map[int64]*TreeNode, len(nodes))
	var root *TreeNode
	for i := range nodes {
		node := &nodes[i]
		tn := &TreeNode{
			ID:                node.ID,
			Name:              node.Name,
			IsLeaf:            node.IsLeaf,
			DismissedChildren: node.DismissedChildren,
			Status:            model.StatusUnmatched,
		}
		if record := byNode[node.ID]; record != nil {
			tn.Status = record.Status
			tn.AcceptedDivisionID = record.AcceptedDivisionID
			tn.Suggestions = record.Suggestions
			tn.NeedsReview = record.NeedsReview
			tn.SearchFailed = record.SearchFailed
			tn.Excluded = record.Excluded
		}

		built[node.ID] = tn
		if node.ParentID == nil {
			root = tn
		} else if parent := built[*node.ParentID]; parent != nil {
			parent.Children = append(parent.Children, tn)
		}
	}

	return root, nil
}

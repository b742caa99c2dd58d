package resolver

import (
	"context"
	"log/slog"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// AttachMember commits the add_member coverage remedy: the gap division
// becomes an extra member of an already-covered leaf's region.
func (r *Resolver) AttachMember(ctx context.Context, nodeID, divisionID int64) error {
	if _, err := r.geo.Division(ctx, divisionID); err != nil {
		return err
	}
	if _, _, err := r.loadLeaf(ctx, nodeID); err != nil {
		return err
	}

	if err := r.store.AddMatchMember(ctx, nodeID, divisionID); err != nil {
		return err
	}

	slog.Info("Attached member division", "node_id", nodeID, "division_id", divisionID)
	return nil
}

// CreateRegion commits the create_region coverage remedy: a new leaf under
// the world view root, matched to the gap division.
func (r *Resolver) CreateRegion(ctx context.Context, worldViewID string, divisionID int64) (*model.SourceNode, error) {
	division, err := r.geo.Division(ctx, divisionID)
	if err != nil {
		return nil, err
	}

	root, err := r.store.GetRoot(ctx, worldViewID)
	if err != nil {
		return nil, err
	}

	node := &model.SourceNode{
		WorldViewID: worldViewID,
		ParentID:    &root.ID,
		Name:        division.Name,
		Path:        root.Name,
		IsLeaf:      true,
	}
	if err := r.store.SaveNode(ctx, node); err != nil {
		return nil, err
	}

	record := defaultRecord(node)
	record.Status = model.StatusManualMatched
	record.AcceptedDivisionID = &divisionID
	if err := r.store.SaveMatch(ctx, record); err != nil {
		return nil, err
	}

	slog.Info("Created region for coverage gap",
		"world_view_id", worldViewID,
		"node_id", node.ID,
		"division_id", divisionID,
		"name", division.Name)
	return node, nil
}

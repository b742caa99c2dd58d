// Package resolver implements the match state machine: every mutation of a
// leaf's match record goes through here. Strategies propose, curators and the
// orchestrator decide, the resolver commits.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
)

// Resolver owns all match record mutations.
type Resolver struct {
	store service.Storage
	geo   service.Geometry
}

// New creates a resolver.
func New(store service.Storage, geo service.Geometry) *Resolver {
	return &Resolver{store: store, geo: geo}
}

// Outcome reports what a mutation did. Changed is false when the requested
// end state already held; that is a no-op signal, not an error.
type Outcome struct {
	Status  model.MatchStatus
	Changed bool
}

// AcceptOptions qualifies an accept.
type AcceptOptions struct {
	// Auto marks the accept as coming from an automated strategy pass
	// rather than a curator.
	Auto bool
	// Verified asserts the caller independently confirmed the division
	// exists (e.g. a direct lookup before a geocode-based accept). Without
	// it, the division must be among the current suggestions.
	Verified bool
}

// Accept commits a division as the leaf's match.
func (r *Resolver) Accept(ctx context.Context, leafID, divisionID int64, opts AcceptOptions) (Outcome, error) {
	_, record, err := r.loadLeaf(ctx, leafID)
	if err != nil {
		return Outcome{}, err
	}

	if record.AcceptedDivisionID != nil && *record.AcceptedDivisionID == divisionID && record.Status.Accepted() {
		return Outcome{Status: record.Status, Changed: false}, nil
	}

	if err := applyAccept(record, divisionID, opts); err != nil {
		return Outcome{}, err
	}

	if err := r.store.SaveMatch(ctx, record); err != nil {
		return Outcome{}, err
	}

	slog.Info("Accepted division",
		"node_id", leafID,
		"division_id", divisionID,
		"status", record.Status)
	return Outcome{Status: record.Status, Changed: true}, nil
}

// applyAccept mutates a record in memory; shared with the batch and
// accept-and-reject-rest paths.
func applyAccept(record *model.MatchRecord, divisionID int64, opts AcceptOptions) error {
	if record.Suggested(divisionID) == nil && !opts.Verified {
		return fmt.Errorf("division %d for node %d: %w", divisionID, record.NodeID, common.ErrInvalidDivision)
	}

	status := model.StatusManualMatched
	if opts.Auto {
		status = model.StatusAutoMatched
	}

	// Accepting implicitly clears any previous acceptance and forgives a
	// previous rejection of this division.
	record.Status = status
	record.AcceptedDivisionID = &divisionID
	record.SearchFailed = false
	record.RejectedDivisionIDs = removeID(record.RejectedDivisionIDs, divisionID)
	return nil
}

// Reject marks a division as wrong for this leaf. The rejected set grows
// monotonically and suppresses re-suggestion. Rejecting the currently
// accepted division clears the acceptance.
func (r *Resolver) Reject(ctx context.Context, leafID, divisionID int64) (Outcome, error) {
	_, record, err := r.loadLeaf(ctx, leafID)
	if err != nil {
		return Outcome{}, err
	}

	changed := applyReject(record, divisionID)
	if !changed {
		return Outcome{Status: record.Status, Changed: false}, nil
	}

	if err := r.store.SaveMatch(ctx, record); err != nil {
		return Outcome{}, err
	}

	slog.Info("Rejected division",
		"node_id", leafID,
		"division_id", divisionID,
		"status", record.Status)
	return Outcome{Status: record.Status, Changed: true}, nil
}

func applyReject(record *model.MatchRecord, divisionID int64) bool {
	changed := false

	if !record.Rejected(divisionID) {
		record.RejectedDivisionIDs = append(record.RejectedDivisionIDs, divisionID)
		changed = true
	}
	if record.Suggested(divisionID) != nil {
		record.Suggestions = removeCandidate(record.Suggestions, divisionID)
		changed = true
	}
	if record.AcceptedDivisionID != nil && *record.AcceptedDivisionID == divisionID {
		record.AcceptedDivisionID = nil
		if len(record.Suggestions) > 0 {
			record.Status = model.StatusSuggested
		} else {
			record.Status = model.StatusRejected
		}
		changed = true
	} else if !record.Status.Accepted() && record.Status == model.StatusSuggested && len(record.Suggestions) == 0 {
		record.Status = model.StatusNoCandidates
		changed = true
	}

	return changed
}

// RejectRemaining rejects every current suggestion in one step, typically
// after a manual accept to clean up the candidate list.
func (r *Resolver) RejectRemaining(ctx context.Context, leafID int64) (Outcome, error) {
	_, record, err := r.loadLeaf(ctx, leafID)
	if err != nil {
		return Outcome{}, err
	}

	if !applyRejectRemaining(record) {
		return Outcome{Status: record.Status, Changed: false}, nil
	}

	if err := r.store.SaveMatch(ctx, record); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: record.Status, Changed: true}, nil
}

func applyRejectRemaining(record *model.MatchRecord) bool {
	if len(record.Suggestions) == 0 {
		return false
	}

	for _, cand := range record.Suggestions {
		if record.AcceptedDivisionID != nil && cand.DivisionID == *record.AcceptedDivisionID {
			continue
		}
		if !record.Rejected(cand.DivisionID) {
			record.RejectedDivisionIDs = append(record.RejectedDivisionIDs, cand.DivisionID)
		}
	}
	record.Suggestions = nil
	if !record.Status.Accepted() {
		record.Status = model.StatusNoCandidates
	}
	return true
}

// AcceptAndRejectRest is accept + rejectRemaining as one atomic step.
func (r *Resolver) AcceptAndRejectRest(ctx context.Context, leafID, divisionID int64, opts AcceptOptions) (Outcome, error) {
	_, record, err := r.loadLeaf(ctx, leafID)
	if err != nil {
		return Outcome{}, err
	}

	alreadyAccepted := record.AcceptedDivisionID != nil &&
		*record.AcceptedDivisionID == divisionID && record.Status.Accepted()
	if !alreadyAccepted {
		if err := applyAccept(record, divisionID, opts); err != nil {
			return Outcome{}, err
		}
	}
	rejected := applyRejectRemaining(record)
	if alreadyAccepted && !rejected {
		return Outcome{Status: record.Status, Changed: false}, nil
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.SaveMatch(ctx, record); err != nil {
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: record.Status, Changed: true}, nil
}

// Assignment is one (leaf, division) pair in a batch accept.
type Assignment struct {
	NodeID     int64 `json:"nodeId"`
	DivisionID int64 `json:"divisionId"`
}

// BatchItemResult is the per-item outcome of a batch accept. Partial success
// is the intended failure mode; callers must inspect the report.
type BatchItemResult struct {
	Error      string `json:"error,omitempty"`
	NodeID     int64  `json:"nodeId"`
	DivisionID int64  `json:"divisionId"`
	Applied    bool   `json:"applied"`
}

// AcceptBatch applies many accepts in one transaction. Invalid items are
// reported and skipped; valid items commit regardless.
func (r *Resolver) AcceptBatch(ctx context.Context, assignments []Assignment, opts AcceptOptions) ([]BatchItemResult, error) {
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	results := make([]BatchItemResult, 0, len(assignments))
	for _, a := range assignments {
		result := BatchItemResult{NodeID: a.NodeID, DivisionID: a.DivisionID}

		record, err := r.loadLeafTx(ctx, tx, a.NodeID)
		if err == nil {
			err = applyAccept(record, a.DivisionID, opts)
		}
		if err == nil {
			err = tx.SaveMatch(ctx, record)
		}

		if err != nil {
			result.Error = err.Error()
		} else {
			result.Applied = true
		}
		results = append(results, result)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

// Reset returns a leaf to unmatched, clearing suggestions, rejections and
// any acceptance. The needs-review overlay and map image survive.
func (r *Resolver) Reset(ctx context.Context, leafID int64) (Outcome, error) {
	_, record, err := r.loadLeaf(ctx, leafID)
	if err != nil {
		return Outcome{}, err
	}

	if record.Status == model.StatusUnmatched &&
		record.AcceptedDivisionID == nil &&
		len(record.Suggestions) == 0 &&
		len(record.RejectedDivisionIDs) == 0 {
		return Outcome{Status: record.Status, Changed: false}, nil
	}

	record.Status = model.StatusUnmatched
	record.AcceptedDivisionID = nil
	record.Suggestions = nil
	record.RejectedDivisionIDs = nil
	record.SearchFailed = false

	if err := r.store.SaveMatch(ctx, record); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: record.Status, Changed: true}, nil
}

// MarkManualFix sets or clears the needs-review advisory flag with a note.
// The flag overlays the status machine and never blocks transitions.
func (r *Resolver) MarkManualFix(ctx context.Context, leafID int64, flag bool, note string) error {
	_, record, err := r.loadLeaf(ctx, leafID)
	if err != nil {
		return err
	}

	record.NeedsReview = flag
	record.Note = note
	return r.store.SaveMatch(ctx, record)
}

// SelectMapImage stores (or clears, with nil) a curator-chosen map image URL.
func (r *Resolver) SelectMapImage(ctx context.Context, leafID int64, url *string) error {
	_, record, err := r.loadLeaf(ctx, leafID)
	if err != nil {
		return err
	}

	record.MapImageURL = url
	return r.store.SaveMatch(ctx, record)
}

// WriteSuggestions persists a strategy pass's output for a leaf: rejected
// divisions are filtered out so they never resurface, and the status moves to
// suggested or no_candidates unless an acceptance already holds. searchFailed
// distinguishes "every source failed" from "sources found nothing".
func (r *Resolver) WriteSuggestions(ctx context.Context, leafID int64, candidates []model.Candidate, searchFailed bool) (Outcome, error) {
	_, record, err := r.loadLeaf(ctx, leafID)
	if err != nil {
		return Outcome{}, err
	}

	kept := make([]model.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if !record.Rejected(cand.DivisionID) {
			kept = append(kept, cand)
		}
	}

	record.Suggestions = kept
	record.SearchFailed = searchFailed
	if !record.Status.Accepted() {
		switch {
		case len(kept) > 0:
			record.Status = model.StatusSuggested
		case searchFailed:
			// Leave the prior status; a failed search proves nothing.
		default:
			record.Status = model.StatusNoCandidates
		}
	}

	if err := r.store.SaveMatch(ctx, record); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: record.Status, Changed: true}, nil
}

// loadLeaf fetches a node and its match record, materializing a default
// record for untouched leaves.
func (r *Resolver) loadLeaf(ctx context.Context, nodeID int64) (*model.SourceNode, *model.MatchRecord, error) {
	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, nil, err
	}
	if !node.EffectiveLeaf() {
		return nil, nil, fmt.Errorf("node %d: %w", nodeID, common.ErrNotALeaf)
	}

	record, err := r.store.GetMatch(ctx, nodeID)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		record = defaultRecord(node)
	}
	return node, record, nil
}

// loadLeafTx is loadLeaf reading through an open transaction. The store holds
// a single connection, so pool reads would block until the transaction ends.
func (r *Resolver) loadLeafTx(ctx context.Context, tx service.Tx, nodeID int64) (*model.MatchRecord, error) {
	node, err := tx.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !node.EffectiveLeaf() {
		return nil, fmt.Errorf("node %d: %w", nodeID, common.ErrNotALeaf)
	}

	record, err := tx.GetMatch(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = defaultRecord(node)
	}
	return record, nil
}

func defaultRecord(node *model.SourceNode) *model.MatchRecord {
	return &model.MatchRecord{
		NodeID:      node.ID,
		WorldViewID: node.WorldViewID,
		Status:      model.StatusUnmatched,
	}
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func removeCandidate(candidates []model.Candidate, divisionID int64) []model.Candidate {
	out := candidates[:0]
	for _, cand := range candidates {
		if cand.DivisionID != divisionID {
			out = append(out, cand)
		}
	}
	return out
}

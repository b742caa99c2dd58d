// Package coverage reconciles accepted matches against the full reference
// dataset: every division must be reachable from some accepted match through
// the reference hierarchy, or it surfaces as a gap for the curator.
package coverage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/resolver"
	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
)

// AddMemberThresholdKm is the centroid distance below which a gap is
// proposed as a member of the nearest covered region rather than a region of
// its own.
const AddMemberThresholdKm = 150.0

// Analyzer computes coverage gaps and drives their resolution.
type Analyzer struct {
	store    service.Storage
	geo      service.Geometry
	resolver *resolver.Resolver
}

// New creates a coverage analyzer.
func New(store service.Storage, geo service.Geometry, res *resolver.Resolver) *Analyzer {
	return &Analyzer{store: store, geo: geo, resolver: res}
}

// coveredDivision is an accepted division together with the leaf that owns it.
type coveredDivision struct {
	division model.Division
	nodeID   int64
}

// Scan computes the gap set for a world view. Gaps are recomputed from
// scratch on every call; only dismissals persist. The scan is deterministic
// for a fixed accepted-match set.
func (a *Analyzer) Scan(ctx context.Context, worldViewID string) (*model.CoverageReport, error) {
	if _, err := a.store.GetWorldView(ctx, worldViewID); err != nil {
		return nil, err
	}

	anchors, covered, err := a.coveredSet(ctx, worldViewID)
	if err != nil {
		return nil, err
	}

	all, err := a.geo.AllDivisions(ctx)
	if err != nil {
		return nil, err
	}

	dismissed, err := a.store.GetDismissedGaps(ctx, worldViewID)
	if err != nil {
		return nil, err
	}

	report := &model.CoverageReport{
		WorldViewID:    worldViewID,
		TotalDivisions: len(all),
	}

	for _, div := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if covered[div.ID] {
			report.CoveredCount++
			continue
		}
		if dismissed[div.ID] {
			report.DismissedCount++
			continue
		}

		gap := a.propose(div, anchors)
		report.Gaps = append(report.Gaps, gap)
	}

	sort.Slice(report.Gaps, func(i, j int) bool {
		return report.Gaps[i].DivisionID < report.Gaps[j].DivisionID
	})

	slog.Info("Coverage scan complete",
		"world_view_id", worldViewID,
		"total", report.TotalDivisions,
		"covered", report.CoveredCount,
		"gaps", len(report.Gaps),
		"dismissed", report.DismissedCount)
	return report, nil
}

// SuggestGap recomputes the remedy for a single division on demand.
func (a *Analyzer) SuggestGap(ctx context.Context, worldViewID string, divisionID int64) (*model.CoverageGap, error) {
	division, err := a.geo.Division(ctx, divisionID)
	if err != nil {
		return nil, err
	}

	anchors, covered, err := a.coveredSet(ctx, worldViewID)
	if err != nil {
		return nil, err
	}
	if covered[divisionID] {
		return nil, fmt.Errorf("division %d is already covered: %w", divisionID, common.ErrNotFound)
	}

	gap := a.propose(*division, anchors)
	return &gap, nil
}

// Approve commits a gap's proposed remedy through the resolver.
func (a *Analyzer) Approve(ctx context.Context, worldViewID string, gap model.CoverageGap) error {
	switch gap.Remedy {
	case model.RemedyAddMember:
		if gap.TargetNodeID == nil {
			return fmt.Errorf("add_member remedy without target node for division %d", gap.DivisionID)
		}
		return a.resolver.AttachMember(ctx, *gap.TargetNodeID, gap.DivisionID)
	case model.RemedyCreateRegion:
		_, err := a.resolver.CreateRegion(ctx, worldViewID, gap.DivisionID)
		return err
	default:
		return fmt.Errorf("unknown remedy %q", gap.Remedy)
	}
}

// Dismiss permanently silences a gap without resolving it.
func (a *Analyzer) Dismiss(ctx context.Context, worldViewID string, divisionID int64) error {
	return a.store.DismissGap(ctx, worldViewID, divisionID)
}

// Undismiss reactivates a dismissed gap.
func (a *Analyzer) Undismiss(ctx context.Context, worldViewID string, divisionID int64) error {
	return a.store.UndismissGap(ctx, worldViewID, divisionID)
}

// coveredSet returns the accepted anchor divisions (with their owning leaf)
// and the full closure of covered division ids.
func (a *Analyzer) coveredSet(ctx context.Context, worldViewID string) ([]coveredDivision, map[int64]bool, error) {
	records, err := a.store.GetMatches(ctx, worldViewID)
	if err != nil {
		return nil, nil, err
	}
	members, err := a.store.GetMatchMembers(ctx, worldViewID)
	if err != nil {
		return nil, nil, err
	}

	type anchor struct {
		divisionID int64
		nodeID     int64
	}
	var accepted []anchor
	for _, record := range records {
		if record.Excluded || !record.Status.Accepted() {
			continue
		}
		accepted = append(accepted, anchor{divisionID: *record.AcceptedDivisionID, nodeID: record.NodeID})
		for _, memberID := range members[record.NodeID] {
			accepted = append(accepted, anchor{divisionID: memberID, nodeID: record.NodeID})
		}
	}

	covered := make(map[int64]bool)
	anchors := make([]coveredDivision, 0, len(accepted))
	for _, acc := range accepted {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		division, err := a.geo.Division(ctx, acc.divisionID)
		if err != nil {
			return nil, nil, err
		}
		anchors = append(anchors, coveredDivision{division: *division, nodeID: acc.nodeID})

		closure, err := a.geo.Closure(ctx, acc.divisionID)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range closure {
			covered[id] = true
		}
	}

	return anchors, covered, nil
}

// propose picks a remedy for one uncovered division: join the nearest covered
// region when its centroid is close enough, otherwise create a sibling
// region. Advisory only; nothing commits until the curator approves.
func (a *Analyzer) propose(div model.Division, anchors []coveredDivision) model.CoverageGap {
	gap := model.CoverageGap{
		DivisionID:   div.ID,
		DivisionName: div.Name,
		Remedy:       model.RemedyCreateRegion,
	}

	bestKm := math.MaxFloat64
	var bestNode *int64
	for i := range anchors {
		km := haversineKm(div.CentroidLat, div.CentroidLon,
			anchors[i].division.CentroidLat, anchors[i].division.CentroidLon)
		if km < bestKm {
			bestKm = km
			bestNode = &anchors[i].nodeID
		}
	}

	if bestNode != nil {
		gap.DistanceKm = bestKm
		if bestKm <= AddMemberThresholdKm {
			gap.Remedy = model.RemedyAddMember
			gap.TargetNodeID = bestNode
		}
	}
	return gap
}

// haversineKm is the great-circle distance between two centroids.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

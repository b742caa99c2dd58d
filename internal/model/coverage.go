package model

// RemedyKind is the proposed fix for a coverage gap.
type RemedyKind string

// Remedy kinds.
const (
	RemedyAddMember    RemedyKind = "add_member"
	RemedyCreateRegion RemedyKind = "create_region"
)

// CoverageGap is a reference division unreachable from any accepted match.
// Gaps are recomputed on every scan; only the dismissed flag is durable.
type CoverageGap struct {
	DivisionName string     `json:"divisionName"`
	Remedy       RemedyKind `json:"remedy"`
	TargetNodeID *int64     `json:"targetNodeId,omitempty"`
	DivisionID   int64      `json:"divisionId"`
	DistanceKm   float64    `json:"distanceKm"`
	Dismissed    bool       `json:"dismissed"`
}

// CoverageReport is the result of one coverage scan.
type CoverageReport struct {
	WorldViewID    string        `json:"worldViewId"`
	Gaps           []CoverageGap `json:"gaps"`
	TotalDivisions int           `json:"totalDivisions"`
	CoveredCount   int           `json:"coveredCount"`
	DismissedCount int           `json:"dismissedCount"`
}

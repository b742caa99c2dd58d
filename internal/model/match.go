package model

import "time"

// MatchStatus indicates where a leaf sits in the review state machine.
type MatchStatus string

// Match status constants.
const (
	StatusUnmatched     MatchStatus = "unmatched"
	StatusSuggested     MatchStatus = "suggested"
	StatusAutoMatched   MatchStatus = "auto_matched"
	StatusManualMatched MatchStatus = "manual_matched"
	StatusRejected      MatchStatus = "rejected"
	StatusNoCandidates  MatchStatus = "no_candidates"
)

// Accepted reports whether the status carries an accepted division.
func (s MatchStatus) Accepted() bool {
	return s == StatusAutoMatched || s == StatusManualMatched
}

// Candidate is one ranked match suggestion produced by a strategy.
type Candidate struct {
	Name          string  `json:"name,omitempty"`
	Source        string  `json:"source,omitempty"`
	Justification string  `json:"justification,omitempty"`
	DivisionID    int64   `json:"divisionId"`
	Score         float64 `json:"score"`
	RadiusKm      float64 `json:"radiusKm,omitempty"`
}

// MatchRecord is the durable match state for one effective leaf.
//
// Suggestions are an ephemeral cache: strategies may overwrite them at any
// time and no invariant depends on them. RejectedDivisionIDs grows
// monotonically and suppresses re-suggestion. AcceptedDivisionID is non-nil
// iff Status.Accepted().
type MatchRecord struct {
	UpdatedAt           time.Time
	WorldViewID         string
	Status              MatchStatus
	Note                string
	MapImageURL         *string
	AcceptedDivisionID  *int64
	Suggestions         []Candidate
	RejectedDivisionIDs []int64
	NodeID              int64
	NeedsReview         bool
	SearchFailed        bool
	Excluded            bool
}

// Rejected reports whether the given division was previously rejected for
// this leaf.
func (r *MatchRecord) Rejected(divisionID int64) bool {
	for _, id := range r.RejectedDivisionIDs {
		if id == divisionID {
			return true
		}
	}
	return false
}

// Suggested returns the candidate for the given division, or nil.
func (r *MatchRecord) Suggested(divisionID int64) *Candidate {
	for i := range r.Suggestions {
		if r.Suggestions[i].DivisionID == divisionID {
			return &r.Suggestions[i]
		}
	}
	return nil
}

// MatchStats aggregates per-status counts for one world view.
type MatchStats struct {
	ByStatus    map[MatchStatus]int
	TotalLeaves int
	NeedsReview int
	Excluded    int
}

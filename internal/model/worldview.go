package model

import "time"

// WorldView is one imported source tree under curation.
type WorldView struct {
	CreatedAt       time.Time
	ID              string
	Name            string
	ReviewFinalized bool
}

// MatchingPolicy controls the automated matching pass run at import and
// rematch time.
type MatchingPolicy struct {
	AutoAcceptThreshold float64
	MaxSuggestions      int
	UseGeocode          bool
}

// DefaultMatchingPolicy returns the policy used when the caller supplies none.
func DefaultMatchingPolicy() MatchingPolicy {
	return MatchingPolicy{
		AutoAcceptThreshold: 0.92,
		MaxSuggestions:      8,
		UseGeocode:          true,
	}
}

// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// Storage defines the contract for the match state store.
type Storage interface {
	// World view operations
	CreateWorldView(ctx context.Context, view *model.WorldView) error
	GetWorldView(ctx context.Context, id string) (*model.WorldView, error)
	ListWorldViews(ctx context.Context) ([]model.WorldView, error)
	FinalizeReview(ctx context.Context, id string) error

	// Source node operations
	SaveNode(ctx context.Context, node *model.SourceNode) error
	GetNode(ctx context.Context, id int64) (*model.SourceNode, error)
	GetRoot(ctx context.Context, worldViewID string) (*model.SourceNode, error)
	GetChildren(ctx context.Context, nodeID int64) ([]model.SourceNode, error)
	GetDescendants(ctx context.Context, nodeID int64) ([]model.SourceNode, error)
	GetEffectiveLeaves(ctx context.Context, worldViewID string) ([]model.SourceNode, error)
	GetNodes(ctx context.Context, worldViewID string) ([]model.SourceNode, error)

	// Match record operations
	GetMatch(ctx context.Context, nodeID int64) (*model.MatchRecord, error)
	SaveMatch(ctx context.Context, record *model.MatchRecord) error
	GetMatches(ctx context.Context, worldViewID string) ([]model.MatchRecord, error)
	GetMatchStats(ctx context.Context, worldViewID string) (*model.MatchStats, error)

	// Undo log (single slot per world view)
	SaveUndoEntry(ctx context.Context, entry *model.UndoLogEntry) error
	GetUndoEntry(ctx context.Context, worldViewID string) (*model.UndoLogEntry, error)
	ClearUndoEntry(ctx context.Context, worldViewID string) error

	// Coverage state
	DismissGap(ctx context.Context, worldViewID string, divisionID int64) error
	UndismissGap(ctx context.Context, worldViewID string, divisionID int64) error
	GetDismissedGaps(ctx context.Context, worldViewID string) (map[int64]bool, error)
	AddMatchMember(ctx context.Context, nodeID, divisionID int64) error
	GetMatchMembers(ctx context.Context, worldViewID string) (map[int64][]int64, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is the transactional subset of Storage used by multi-record mutations.
type Tx interface {
	Commit() error
	Rollback() error

	GetNode(ctx context.Context, id int64) (*model.SourceNode, error)
	SaveNode(ctx context.Context, node *model.SourceNode) error
	GetMatch(ctx context.Context, nodeID int64) (*model.MatchRecord, error)
	SaveMatch(ctx context.Context, record *model.MatchRecord) error
	SaveUndoEntry(ctx context.Context, entry *model.UndoLogEntry) error
	ClearUndoEntry(ctx context.Context, worldViewID string) error
}

// Geometry is the external geometry service consumed by this engine. It owns
// division records, centroids, and the reference hierarchy; this engine never
// writes through it.
type Geometry interface {
	Division(ctx context.Context, id int64) (*model.Division, error)
	Children(ctx context.Context, id int64) ([]model.Division, error)
	AllDivisions(ctx context.Context) ([]model.Division, error)
	// Closure returns the ancestor/descendant closure of a division,
	// including the division itself.
	Closure(ctx context.Context, id int64) ([]int64, error)
	SearchByName(ctx context.Context, name, ancestorHint string, limit int) ([]model.Candidate, error)
	Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]model.Division, error)
}

// GeocodeResult is a resolved place name.
type GeocodeResult struct {
	DisplayName string
	Lat         float64
	Lon         float64
}

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, name, hint string) (*GeocodeResult, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

package model

// Division is a canonical administrative division owned by the external
// geometry service. Read-only from this engine's perspective.
type Division struct {
	Name            string
	Path            string
	ParentID        *int64
	ID              int64
	CentroidLat     float64
	CentroidLon     float64
	HasSubdivisions bool
}

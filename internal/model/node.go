// Package model defines the core domain models used throughout the application.
package model

import "time"

// SourceNode is one node of an imported source taxonomy. Only leaves (and
// non-leaves whose children were dismissed) carry a MatchRecord.
type SourceNode struct {
	CreatedAt         time.Time
	WorldViewID       string
	Name              string
	Path              string
	ParentID          *int64
	ID                int64
	IsLeaf            bool
	DismissedChildren bool
}

// EffectiveLeaf reports whether the node is a unit of matching: either a real
// leaf, or a non-leaf whose subtree was dismissed.
func (n SourceNode) EffectiveLeaf() bool {
	return n.IsLeaf || n.DismissedChildren
}

// TreeNode is the nested input shape accepted by an import.
type TreeNode struct {
	Name     string     `json:"name"`
	Children []TreeNode `json:"children,omitempty"`
}

package model

import "time"

// UndoKind identifies which subtree reinterpretation wrote the undo slot.
type UndoKind string

// Undo kinds.
const (
	UndoDismissChildren  UndoKind = "dismiss_children"
	UndoHandleAsGrouping UndoKind = "handle_as_grouping"
)

// PriorNodeState captures enough of a node's pre-operation state to reverse
// a subtree reinterpretation exactly.
type PriorNodeState struct {
	Status             MatchStatus `json:"status"`
	AcceptedDivisionID *int64      `json:"acceptedDivisionId,omitempty"`
	NodeID             int64       `json:"nodeId"`
	Excluded           bool        `json:"excluded"`
	DismissedChildren  bool        `json:"dismissedChildren"`
	HadRecord          bool        `json:"hadRecord"`
}

// UndoLogEntry is the single reversible step per world view. Each
// dismiss-children or handle-as-grouping overwrites it; undo consumes it.
// There is deliberately no stack: only the most recent operation is undoable.
type UndoLogEntry struct {
	CreatedAt   time.Time
	WorldViewID string
	Kind        UndoKind
	Prior       []PriorNodeState
	NodeID      int64
}

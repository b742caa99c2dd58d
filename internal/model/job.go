package model

import "time"

// JobKind identifies the one long-running operation a process may own.
type JobKind string

// Job kinds.
const (
	JobImport       JobKind = "import"
	JobRematch      JobKind = "rematch"
	JobCoverageScan JobKind = "coverage_scan"
	JobAIMatch      JobKind = "ai_match"
)

// JobState is the lifecycle phase of a job.
type JobState string

// Job states.
const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

// JobStatus is a snapshot of the single in-flight (or most recently
// finished) long operation.
type JobStatus struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	ID           string
	Kind         JobKind
	State        JobState
	WorldViewID  string
	Error        string
	Processed    int
	Total        int
	Matched      int
	Failed       int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	CancelAsked  bool
}

// Usage is token/cost accounting for one AI call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

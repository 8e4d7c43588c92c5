package model

import "time"

// RunStatus represents the state of an analysis run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// AnalysisRun is the append-only log row for one orchestrator invocation.
// Once Completed it is never mutated; a run that aborts is marked Failed with
// the raw error message.
type AnalysisRun struct {
	ID                string     `json:"id"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Status            RunStatus  `json:"status"`
	TotalAnalyzed     int        `json:"total_analyzed"`
	PatternsDetected  int        `json:"patterns_detected"`
	PatternsUpdated   int        `json:"patterns_updated"`
	CandidatesCreated int        `json:"candidates_created"`
	ExecutionTimeMs   int64      `json:"execution_time_ms"`
	ErrorMessage      string     `json:"error_message,omitempty"`
}

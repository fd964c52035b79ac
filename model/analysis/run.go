// Package analysis defines the analysis run data model.
package analysis

import (
	"time"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether the run finished.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Event types appended by the tracker itself.
const (
	EventRunStarted      = "run_started"
	EventStep            = "step"
	EventToolResult      = "tool_result"
	EventCancelRequested = "cancel_requested"
	EventRunCompleted    = "run_completed"
	EventRunFailed       = "run_failed"
)

// Run is one asynchronous research run.
type Run struct {
	ID              string     `json:"id"`
	Owner           string     `json:"owner"`
	AgentID         string     `json:"agentId,omitempty"`
	Query           string     `json:"query"`
	Model           string     `json:"model,omitempty"`
	MaxSteps        int        `json:"maxSteps"`
	Status          Status     `json:"status"`
	Result          string     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	StepsExecuted   int        `json:"stepsExecuted"`
	CancelRequested bool       `json:"cancelRequested,omitempty"`
	ClaimedBy       string     `json:"claimedBy,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a copy.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Event is one append-only run event.
type Event struct {
	RunID     string                 `json:"runId"`
	Sequence  int                    `json:"sequence"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// StatusView is the compact status payload polled by clients.
type StatusView struct {
	ID              string `json:"id"`
	Status          Status `json:"status"`
	IsFinal         bool   `json:"isFinal"`
	LatestSequence  int    `json:"latestSequence"`
	LatestEventType string `json:"latestEventType,omitempty"`
	StepsExecuted   int    `json:"stepsExecuted"`
	Error           string `json:"error,omitempty"`
}

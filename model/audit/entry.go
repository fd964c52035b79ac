// Package audit defines immutable audit trail entries.
package audit

import (
	"time"
)

// EntityType names the kind of object an entry refers to.
type EntityType string

const (
	EntityApprovalRequest EntityType = "approval_request"
	EntityAnalysisRun     EntityType = "analysis_run"
)

// Kind is the event recorded by an entry.
type Kind string

const (
	KindCreated                      Kind = "created"
	KindDecisionRecorded             Kind = "decision_recorded"
	KindDecisionRejectedUnauthorized Kind = "decision_rejected_unauthorized"
	KindDecisionConflict             Kind = "decision_conflict"
	KindQuorumReached                Kind = "quorum_reached"
	KindOwnerOverride                Kind = "owner_override"
	KindTimedOut                     Kind = "timed_out"
	KindTimeoutConflict              Kind = "timeout_conflict"
	KindEscalated                    Kind = "escalated"
	KindCanceled                     Kind = "canceled"
	KindExecutionDispatched          Kind = "execution_dispatched"
	KindExecutionResult              Kind = "execution_result"
	KindRiskRejected                 Kind = "risk_rejected"
	KindExecutionFailed              Kind = "execution_failed"

	KindRunCreated         Kind = "run_created"
	KindRunClaimed         Kind = "run_claimed"
	KindRunCancelRequested Kind = "run_cancel_requested"
	KindRunCompleted       Kind = "run_completed"
	KindRunFailed          Kind = "run_failed"
	KindRunCanceled        Kind = "run_canceled"
)

// Level grades an entry for operators.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         string                 `json:"id"`
	EntityType EntityType             `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Sequence   int                    `json:"sequence"` // 1-based, per entity
	Kind       Kind                   `json:"kind"`
	Level      Level                  `json:"level"`
	Actor      string                 `json:"actor"`
	Timestamp  time.Time              `json:"timestamp"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
}

// New creates an info level entry.
func New(entityType EntityType, entityID string, kind Kind, actor string, at time.Time, detail map[string]interface{}) *Entry {
	return &Entry{
		EntityType: entityType,
		EntityID:   entityID,
		Kind:       kind,
		Level:      LevelInfo,
		Actor:      actor,
		Timestamp:  at,
		Detail:     detail,
	}
}

// WithLevel sets the entry level.
func (e *Entry) WithLevel(level Level) *Entry {
	e.Level = level
	return e
}

// Clone returns a copy with its own detail map.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Detail != nil {
		c.Detail = make(map[string]interface{}, len(e.Detail))
		for k, v := range e.Detail {
			c.Detail[k] = v
		}
	}
	return &c
}

// Package approval defines the approval request data model shared by the
// resolver, the timeout evaluator and the state machine.
package approval

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a Request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusEscalated Status = "escalated"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether no further transition is accepted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// OpenStatuses lists the states a request can still leave.
func OpenStatuses() []string {
	return []string{string(StatusPending), string(StatusEscalated)}
}

// TimeoutPolicy controls what happens when a request outlives its deadline.
type TimeoutPolicy string

const (
	TimeoutNone       TimeoutPolicy = "none"
	TimeoutAutoReject TimeoutPolicy = "auto_reject"
	TimeoutAutoPause  TimeoutPolicy = "auto_pause"
	TimeoutEscalate   TimeoutPolicy = "escalate"
)

// Valid reports whether p is a known policy.
func (p TimeoutPolicy) Valid() bool {
	switch p {
	case TimeoutNone, TimeoutAutoReject, TimeoutAutoPause, TimeoutEscalate:
		return true
	}
	return false
}

// Channel identifies where a decision came from.
type Channel string

const (
	ChannelDashboard Channel = "dashboard"
	ChannelAdmin     Channel = "admin"
	ChannelTelegram  Channel = "telegram"
)

// Verdict is the approver's answer.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// Valid reports whether v is approve or reject.
func (v Verdict) Valid() bool {
	return v == VerdictApprove || v == VerdictReject
}

// ParseVerdict accepts approve/approved/reject/rejected in any case.
func ParseVerdict(s string) (Verdict, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return VerdictApprove, true
	case "reject", "rejected":
		return VerdictReject, true
	}
	return "", false
}

// Role is the authority an actor holds over a request.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleApprover     Role = "approver"
	RoleUnauthorized Role = "unauthorized"
)

// SystemActor identifies engine-originated transitions.
const SystemActor = "system"

// Decision is the verdict of one actor on one request.
type Decision struct {
	Actor     string    `json:"actor" yaml:"actor"`
	Role      Role      `json:"role" yaml:"role"`
	Verdict   Verdict   `json:"verdict" yaml:"verdict"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Channel   Channel   `json:"channel" yaml:"channel"`
	DecidedAt time.Time `json:"decidedAt" yaml:"decidedAt"`
}

// Request gates a single action behind human approval.
type Request struct {
	ID         string          `json:"id"`
	ActionKind string          `json:"actionKind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RunID      string          `json:"runId,omitempty"` // analysis run that produced the proposal
	Owner      string          `json:"owner"`
	Approvers  []string        `json:"approvers"`

	RequiredQuorum int `json:"requiredQuorum"`
	// RejectQuorum is the number of reject verdicts that rejects the request.
	// Zero means the same as RequiredQuorum.
	RejectQuorum int `json:"rejectQuorum,omitempty"`

	Status                 Status        `json:"status"`
	TimeoutPolicy          TimeoutPolicy `json:"timeoutPolicy"`
	Timeout                time.Duration `json:"timeout,omitempty"` // zero uses the configured base timeout
	EscalationGraceMinutes int           `json:"escalationGraceMinutes,omitempty"`
	Channels               []Channel     `json:"channels"`
	RiskScore              int           `json:"riskScore,omitempty"`

	CreatedAt      time.Time  `json:"createdAt"`
	EscalatedAt    *time.Time `json:"escalatedAt,omitempty"`
	DecidedAt      *time.Time `json:"decidedAt,omitempty"`
	DecidedBy      string     `json:"decidedBy,omitempty"`
	DecisionReason string     `json:"decisionReason,omitempty"`

	Decisions []*Decision `json:"decisions,omitempty"`
	Version   int         `json:"version"`
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = append(json.RawMessage(nil), r.Payload...)
	c.Approvers = append([]string(nil), r.Approvers...)
	c.Channels = append([]Channel(nil), r.Channels...)
	if r.EscalatedAt != nil {
		t := *r.EscalatedAt
		c.EscalatedAt = &t
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	if len(r.Decisions) > 0 {
		c.Decisions = make([]*Decision, len(r.Decisions))
		for i, d := range r.Decisions {
			dc := *d
			c.Decisions[i] = &dc
		}
	}
	return &c
}

// EffectiveRejectQuorum returns the reject threshold.
func (r *Request) EffectiveRejectQuorum() int {
	if r.RejectQuorum > 0 {
		return r.RejectQuorum
	}
	return r.RequiredQuorum
}

// HasApprover reports whether actor is in the assigned approver set.
func (r *Request) HasApprover(actor string) bool {
	for _, a := range r.Approvers {
		if a == actor {
			return true
		}
	}
	return false
}

// HasChannel reports whether channel is an approval channel of r.
func (r *Request) HasChannel(channel Channel) bool {
	for _, c := range r.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// DecisionOf returns the recorded decision of actor or nil.
func (r *Request) DecisionOf(actor string) *Decision {
	for _, d := range r.Decisions {
		if d.Actor == actor {
			return d
		}
	}
	return nil
}

// PutDecision records d, replacing any earlier decision of the same actor.
// It returns the replaced decision.
func (r *Request) PutDecision(d *Decision) *Decision {
	for i, prev := range r.Decisions {
		if prev.Actor == d.Actor {
			r.Decisions[i] = d
			return prev
		}
	}
	r.Decisions = append(r.Decisions, d)
	return nil
}

// ClockStart returns the instant the active deadline is measured from.
func (r *Request) ClockStart() time.Time {
	if r.Status == StatusEscalated && r.EscalatedAt != nil {
		return *r.EscalatedAt
	}
	return r.CreatedAt
}

// DecisionEvent is the channel independent form of a decision submitted by
// any adapter.
type DecisionEvent struct {
	RequestID string  `json:"requestId"`
	Actor     string  `json:"actor"`
	Verdict   Verdict `json:"verdict"`
	Reason    string  `json:"reason,omitempty"`
	Channel   Channel `json:"channel"`
}

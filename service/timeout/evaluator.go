// Package timeout decides when pending approval requests auto-resolve and
// drives that decision from a periodic scan.
package timeout

import (
	"time"

	mapproval "github.com/viant/tradegate/model/approval"
)

// Result of an evaluation.
type Result string

const (
	None Result = "none"
	Fire Result = "fire"
)

const (
	// DefaultBaseTimeout applies when neither the request nor configuration sets one.
	DefaultBaseTimeout = 24 * time.Hour
	// DefaultEscalationGrace is the post-escalation deadline when a request sets none.
	DefaultEscalationGrace = 15 * time.Minute
	minEscalationGrace     = time.Minute
)

// Params is the complete input of Evaluate.
type Params struct {
	Policy    mapproval.TimeoutPolicy
	Since     time.Time // created_at, or escalated_at once escalated
	Base      time.Duration
	Grace     time.Duration
	Escalated bool
}

// Deadline returns the instant the active timer expires. The second value is
// false when the policy never fires.
func (p Params) Deadline() (time.Time, bool) {
	switch p.Policy {
	case mapproval.TimeoutAutoReject, mapproval.TimeoutAutoPause:
		return p.Since.Add(p.Base), true
	case mapproval.TimeoutEscalate:
		if p.Escalated {
			return p.Since.Add(p.Grace), true
		}
		return p.Since.Add(p.Base), true
	}
	return time.Time{}, false
}

// Evaluate returns Fire once now reaches the deadline, None otherwise. It has
// no side effects and can be called repeatedly.
func Evaluate(p Params, now time.Time) Result {
	deadline, ok := p.Deadline()
	if !ok {
		return None
	}
	if now.Before(deadline) {
		return None
	}
	return Fire
}

// ForRequest derives evaluation parameters from request. base is the system
// wide default used when the request carries no override.
func ForRequest(request *mapproval.Request, base time.Duration) Params {
	if request.Timeout > 0 {
		base = request.Timeout
	}
	if base <= 0 {
		base = DefaultBaseTimeout
	}
	return Params{
		Policy:    request.TimeoutPolicy,
		Since:     request.ClockStart(),
		Base:      base,
		Grace:     Grace(request.EscalationGraceMinutes),
		Escalated: request.Status == mapproval.StatusEscalated,
	}
}

// Grace converts minutes into the escalation grace, defaulting to 15 minutes
// and never below one minute.
func Grace(minutes int) time.Duration {
	if minutes <= 0 {
		return DefaultEscalationGrace
	}
	grace := time.Duration(minutes) * time.Minute
	if grace < minEscalationGrace {
		return minEscalationGrace
	}
	return grace
}

// Transition returns the status a firing timeout moves request to.
func Transition(request *mapproval.Request) mapproval.Status {
	switch request.TimeoutPolicy {
	case mapproval.TimeoutAutoReject:
		return mapproval.StatusRejected
	case mapproval.TimeoutAutoPause:
		return mapproval.StatusExpired
	case mapproval.TimeoutEscalate:
		if request.Status == mapproval.StatusEscalated {
			return mapproval.StatusRejected
		}
		return mapproval.StatusEscalated
	}
	return request.Status
}

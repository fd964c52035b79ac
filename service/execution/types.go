// Package execution turns approved requests into broker orders.
//
// Each approved request becomes one Job on a queue. A worker re-checks the
// risk gate against current account state right before submitting, retries
// transport failures with bounded exponential backoff and records exactly one
// terminal Result per request. A job redelivered after its result exists is a
// no-op.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrRiskRejected is returned when the execution time risk gate refuses the action.
	ErrRiskRejected = errors.New("execution: risk rejected")
	// ErrExecutionTransport marks broker or network failures.
	ErrExecutionTransport = errors.New("execution: transport error")
	// ErrExecutionFailed is returned once transport retries are exhausted.
	ErrExecutionFailed = errors.New("execution: failed")
	// ErrBrokerRejected is returned when the broker refused the order.
	ErrBrokerRejected = errors.New("execution: broker rejected")
	// ErrNotApproved is returned for jobs whose request is not approved.
	ErrNotApproved = errors.New("execution: request not approved")
)

// Action is the order an approval request gates.
type Action struct {
	RequestID string          `json:"requestId"`
	Kind      string          `json:"kind"`
	Owner     string          `json:"owner"`
	Payload   json.RawMessage `json:"payload"`
}

// Account is the account state the risk gate evaluates against.
type Account struct {
	Owner     string                 `json:"owner"`
	Positions map[string]float64     `json:"positions,omitempty"`
	Exposure  float64                `json:"exposure,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// AccountSource loads current account state.
type AccountSource interface {
	Account(ctx context.Context, owner string) (*Account, error)
}

// RiskVerdict is the risk gate answer.
type RiskVerdict struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Score  int    `json:"score"`
}

// RiskGate validates an action against account state.
type RiskGate interface {
	Evaluate(ctx context.Context, action *Action, account *Account) (*RiskVerdict, error)
}

// Receipt is the broker's answer to a submitted order.
type Receipt struct {
	Accepted bool   `json:"accepted"`
	OrderID  string `json:"orderId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Broker submits orders. Returned errors are treated as transport failures
// and retried.
type Broker interface {
	Submit(ctx context.Context, action *Action) (*Receipt, error)
}

// Job is the unit of work on the execution queue.
type Job struct {
	Action     Action    `json:"action"`
	Gated      bool      `json:"gated"` // created by an approval; re-checked against the request status
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Status of an execution result.
type Status string

const (
	StatusExecuted       Status = "executed"
	StatusBrokerRejected Status = "broker_rejected"
	StatusRiskRejected   Status = "risk_rejected"
	StatusFailed         Status = "failed"
)

// Result is the single terminal record of a request's execution.
type Result struct {
	RequestID   string    `json:"requestId"`
	Status      Status    `json:"status"`
	OrderID     string    `json:"orderId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RiskScore   int       `json:"riskScore"`
	Attempts    int       `json:"attempts"`
	CompletedAt time.Time `json:"completedAt"`
}

// Err maps the result onto the package errors; executed results yield nil.
func (r *Result) Err() error {
	switch r.Status {
	case StatusRiskRejected:
		return ErrRiskRejected
	case StatusBrokerRejected:
		return ErrBrokerRejected
	case StatusFailed:
		return ErrExecutionFailed
	}
	return nil
}

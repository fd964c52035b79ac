package approval

import (
	"context"
	"encoding/json"
	"time"

	mapproval "github.com/viant/tradegate/model/approval"
	"github.com/viant/tradegate/service/dao"
	"github.com/viant/tradegate/service/rbac"
)

// Store persists approval requests. Update must serialize calls for the same
// request id (per-key lock or transaction), never the whole store.
type Store interface {
	Create(ctx context.Context, request *mapproval.Request) error
	Load(ctx context.Context, id string) (*mapproval.Request, error)
	List(ctx context.Context, parameters ...*dao.Parameter) ([]*mapproval.Request, error)
	Update(ctx context.Context, id string, fn dao.UpdateFunc[mapproval.Request]) (*mapproval.Request, error)
}

// Dispatcher hands approved requests over to execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, request *mapproval.Request) error
}

// Notifier delivers a summary of a new request to its approval channels.
type Notifier interface {
	Notify(ctx context.Context, request *mapproval.Request) error
}

// AgentPauser pauses the agent behind a request that expired under the
// auto_pause policy.
type AgentPauser interface {
	Pause(ctx context.Context, request *mapproval.Request) error
}

// CreateInput describes a new approval request. Zero values fall back to
// the service configuration.
type CreateInput struct {
	ID                     string                  `json:"id,omitempty"`
	ActionKind             string                  `json:"actionKind"`
	Payload                json.RawMessage         `json:"payload,omitempty"`
	RunID                  string                  `json:"runId,omitempty"`
	Owner                  string                  `json:"owner"`
	Approvers              []string                `json:"approvers"`
	RequiredQuorum         int                     `json:"requiredQuorum,omitempty"`
	RejectQuorum           int                     `json:"rejectQuorum,omitempty"`
	TimeoutPolicy          mapproval.TimeoutPolicy `json:"timeoutPolicy,omitempty"`
	Timeout                time.Duration           `json:"timeout,omitempty"`
	EscalationGraceMinutes int                     `json:"escalationGraceMinutes,omitempty"`
	Channels               []mapproval.Channel     `json:"channels,omitempty"`
	RiskScore              int                     `json:"riskScore,omitempty"`
}

// Outcome reports the effect of a decision or cancel call.
type Outcome struct {
	RequestID string           `json:"requestId"`
	Status    mapproval.Status `json:"status"`
	Role      mapproval.Role   `json:"role"`
	IsFinal   bool             `json:"isFinal"`
	// Triggered is true only for the call that moved the request into its
	// terminal state.
	Triggered       bool              `json:"triggered"`
	PreviousVerdict mapproval.Verdict `json:"previousVerdict,omitempty"`
	Tally           rbac.Tally        `json:"tally"`
}

// QueueFilter narrows an approver queue.
type QueueFilter struct {
	Actor    string
	Statuses []mapproval.Status // defaults to pending and escalated
	Channel  mapproval.Channel
	Overdue  bool
	// MineOnly keeps requests where Actor is an assigned approver who has not
	// decided yet.
	MineOnly bool
	Limit    int
}

// QueueItem is a request as seen by one actor.
type QueueItem struct {
	Request   *mapproval.Request `json:"request"`
	Role      mapproval.Role     `json:"role"`
	Tally     rbac.Tally         `json:"tally"`
	Deadline  *time.Time         `json:"deadline,omitempty"`
	Overdue   bool               `json:"overdue"`
	MyVerdict mapproval.Verdict  `json:"myVerdict,omitempty"`
}

// QueueSummary gives SLA counters of an actor's open queue.
type QueueSummary struct {
	PendingCount     int `json:"pendingCount"`
	OverdueCount     int `json:"overdueCount"`
	DueSoonCount     int `json:"dueSoonCount"`
	MinePendingCount int `json:"minePendingCount"`
}

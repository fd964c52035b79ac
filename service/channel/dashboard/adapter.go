// Package dashboard adapts dashboard and admin console submissions to the
// canonical decision entry point.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mapproval "github.com/viant/tradegate/model/approval"
	"github.com/viant/tradegate/service/approval"
	"github.com/viant/tradegate/service/channel"
)

// Submission is a decision posted from the dashboard or the admin console.
type Submission struct {
	RequestID string `json:"requestId"`
	Actor     string `json:"actor"`
	Verdict   string `json:"verdict"`
	Reason    string `json:"reason,omitempty"`
	// IdempotencyKey de-duplicates client retries of one submission.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Adapter is the dashboard/admin channel variant.
type Adapter struct {
	approvals channel.Approvals
	channel   mapproval.Channel
	dedup     *channel.Dedup
}

// New creates an adapter for the dashboard or admin channel.
func New(approvals channel.Approvals, ch mapproval.Channel, dedupCapacity int) (*Adapter, error) {
	if ch != mapproval.ChannelDashboard && ch != mapproval.ChannelAdmin {
		return nil, fmt.Errorf("dashboard adapter does not serve channel %q", ch)
	}
	return &Adapter{approvals: approvals, channel: ch, dedup: channel.NewDedup(dedupCapacity)}, nil
}

// Channel returns the served channel.
func (a *Adapter) Channel() mapproval.Channel { return a.channel }

// Submit records a decision. A repeated idempotency key from the same actor
// returns channel.ErrDuplicateDelivery without touching the request.
func (a *Adapter) Submit(ctx context.Context, submission *Submission) (*approval.Outcome, error) {
	if submission == nil {
		return nil, approval.ErrInvalidDecision
	}
	verdict, ok := mapproval.ParseVerdict(submission.Verdict)
	if !ok {
		return nil, fmt.Errorf("%w: unknown verdict %q", approval.ErrInvalidDecision, submission.Verdict)
	}
	key := ""
	if submission.IdempotencyKey != "" {
		key = submission.Actor + "/" + submission.IdempotencyKey
		if !a.dedup.Mark(key) {
			return nil, channel.ErrDuplicateDelivery
		}
	}
	reason := strings.TrimSpace(submission.Reason)
	if reason == "" {
		reason = channel.DefaultReason(verdict, a.channel)
	}
	outcome, err := a.approvals.Decide(ctx, &mapproval.DecisionEvent{
		RequestID: submission.RequestID,
		Actor:     submission.Actor,
		Verdict:   verdict,
		Reason:    reason,
		Channel:   a.channel,
	})
	if err != nil && key != "" && outcome == nil && !errors.Is(err, approval.ErrNotFound) {
		a.dedup.Forget(key)
	}
	return outcome, err
}

// Queue returns the actor's queue as seen from this channel.
func (a *Adapter) Queue(ctx context.Context, filter *approval.QueueFilter) ([]*approval.QueueItem, error) {
	if filter == nil || filter.Actor == "" {
		return nil, fmt.Errorf("queue actor is required")
	}
	scoped := *filter
	scoped.Channel = a.channel
	return a.approvals.Queue(ctx, &scoped)
}

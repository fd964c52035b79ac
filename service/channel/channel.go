// Package channel defines what decision channel adapters share: the
// canonical decision entry point, delivery de-duplication and per channel
// default reasons. Every adapter translates its native input into a
// mapproval.DecisionEvent and hands it to a Decider; none of them changes
// request state directly.
package channel

import (
	"context"
	"errors"

	mapproval "github.com/viant/tradegate/model/approval"
	"github.com/viant/tradegate/service/approval"
)

var (
	// ErrAuthenticityFailure is returned when a delivery fails verification.
	ErrAuthenticityFailure = errors.New("channel: authenticity check failed")
	// ErrUnlinkedChat is returned when a chat has no linked actor.
	ErrUnlinkedChat = errors.New("channel: chat is not linked")
	// ErrDuplicateDelivery is returned for deliveries already processed.
	ErrDuplicateDelivery = errors.New("channel: duplicate delivery")
)

// Decider is the single decision entry point.
type Decider interface {
	Decide(ctx context.Context, event *mapproval.DecisionEvent) (*approval.Outcome, error)
}

// Viewer reads requests on behalf of an actor.
type Viewer interface {
	Get(ctx context.Context, id string) (*mapproval.Request, error)
	Queue(ctx context.Context, filter *approval.QueueFilter) ([]*approval.QueueItem, error)
}

// Approvals is what adapters need from the approval service.
type Approvals interface {
	Decider
	Viewer
}

// DefaultReason returns the reason recorded when a decision carries none.
func DefaultReason(verdict mapproval.Verdict, channel mapproval.Channel) string {
	if channel != mapproval.ChannelTelegram {
		return ""
	}
	switch verdict {
	case mapproval.VerdictApprove:
		return "Approved from Telegram."
	case mapproval.VerdictReject:
		return "Rejected from Telegram."
	}
	return ""
}

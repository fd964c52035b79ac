// Package rbac resolves an actor's authority over an approval request and
// tallies the verdicts that count towards quorum.
package rbac

import (
	mapproval "github.com/viant/tradegate/model/approval"
)

// Authorize returns the role actor holds for a decision on request submitted
// through channel. The owner may decide from any channel; an approver only
// from one of the request's approval channels.
func Authorize(request *mapproval.Request, actor string, channel mapproval.Channel) mapproval.Role {
	if request == nil || actor == "" {
		return mapproval.RoleUnauthorized
	}
	if actor == request.Owner {
		return mapproval.RoleOwner
	}
	if request.HasApprover(actor) && request.HasChannel(channel) {
		return mapproval.RoleApprover
	}
	return mapproval.RoleUnauthorized
}

// CanView reports whether actor may see the request at all (owner or
// assigned approver, regardless of channel).
func CanView(request *mapproval.Request, actor string) bool {
	if request == nil || actor == "" {
		return false
	}
	return actor == request.Owner || request.HasApprover(actor)
}

// Tally is the verdict count of the currently assigned approvers.
type Tally struct {
	Approve        int `json:"approveCount"`
	Reject         int `json:"rejectCount"`
	Required       int `json:"required"`
	RejectRequired int `json:"rejectRequired"`
}

// Count recomputes the tally from the decision set. Decisions of actors no
// longer assigned are ignored.
func Count(request *mapproval.Request) Tally {
	ret := Tally{Required: request.RequiredQuorum, RejectRequired: request.EffectiveRejectQuorum()}
	for _, d := range request.Decisions {
		if !request.HasApprover(d.Actor) {
			continue
		}
		switch d.Verdict {
		case mapproval.VerdictApprove:
			ret.Approve++
		case mapproval.VerdictReject:
			ret.Reject++
		}
	}
	return ret
}

// Outcome returns the verdict that reached its quorum, if any.
func (t Tally) Outcome() (mapproval.Verdict, bool) {
	if t.Required > 0 && t.Approve >= t.Required {
		return mapproval.VerdictApprove, true
	}
	if t.RejectRequired > 0 && t.Reject >= t.RejectRequired {
		return mapproval.VerdictReject, true
	}
	return "", false
}

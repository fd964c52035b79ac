package approval

import (
	"context"
	"errors"
	"strings"

	mapproval "github.com/viant/tradegate/model/approval"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/rbac"
	"github.com/viant/tradegate/tracing"
)

// Decide records event against its request. It is the single decision entry
// point for every channel.
//
// A decision that completes a quorum, or any owner decision, resolves the
// request; Outcome.Triggered tells the caller it performed that transition.
// Decisions on resolved requests return the current outcome together with
// ErrTerminalStateConflict. Unauthorized actors get ErrUnauthorizedDecision.
// A committed decision whose audit entries could not all be appended returns
// its outcome with ErrAuditIncomplete.
func (s *Service) Decide(ctx context.Context, event *mapproval.DecisionEvent) (outcome *Outcome, err error) {
	if event == nil || strings.TrimSpace(event.RequestID) == "" || strings.TrimSpace(event.Actor) == "" || !event.Verdict.Valid() {
		return nil, ErrInvalidDecision
	}
	ctx, span := tracing.StartSpan(ctx, "approval.decide", "INTERNAL")
	span.WithAttributes(map[string]string{"request.id": event.RequestID, "channel": string(event.Channel)})
	defer func() {
		if isSoft(err) {
			tracing.EndSpan(span, nil)
			return
		}
		tracing.EndSpan(span, err)
	}()

	outcome = &Outcome{RequestID: event.RequestID}
	updated, err := s.update(ctx, event.RequestID, func(request *mapproval.Request, j *journal) error {
		return s.applyDecision(j, request, event, outcome)
	})
	switch {
	case isSoft(err):
		s.logger.Debug("decision not applied", "request_id", event.RequestID, "actor", event.Actor, "reason", err)
		return outcome, err
	case err == nil, errors.Is(err, ErrAuditIncomplete):
	default:
		return nil, err
	}

	if outcome.Triggered {
		s.logger.Info("approval request resolved", "request_id", updated.ID, "status", updated.Status,
			"actor", event.Actor, "role", outcome.Role)
		if updated.Status == mapproval.StatusApproved {
			s.dispatch(ctx, updated)
		}
	}
	return outcome, err
}

func (s *Service) applyDecision(j *journal, request *mapproval.Request, event *mapproval.DecisionEvent, outcome *Outcome) error {
	role := rbac.Authorize(request, event.Actor, event.Channel)
	outcome.Role = role
	outcome.Status = request.Status
	outcome.IsFinal = request.Status.IsTerminal()
	outcome.Tally = rbac.Count(request)

	if role == mapproval.RoleUnauthorized {
		s.recordLevel(j, request, maudit.KindDecisionRejectedUnauthorized, maudit.LevelWarning, event.Actor, map[string]interface{}{
			"verdict": string(event.Verdict),
			"channel": string(event.Channel),
		})
		return ErrUnauthorizedDecision
	}
	if request.Status.IsTerminal() {
		s.record(j, request, maudit.KindDecisionConflict, event.Actor, map[string]interface{}{
			"verdict": string(event.Verdict),
			"reason":  event.Reason,
			"channel": string(event.Channel),
			"role":    string(role),
			"status":  string(request.Status),
		})
		return ErrTerminalStateConflict
	}

	now := s.clock.Now()
	previous := request.PutDecision(&mapproval.Decision{
		Actor:     event.Actor,
		Role:      role,
		Verdict:   event.Verdict,
		Reason:    event.Reason,
		Channel:   event.Channel,
		DecidedAt: now,
	})
	detail := map[string]interface{}{
		"verdict": string(event.Verdict),
		"reason":  event.Reason,
		"channel": string(event.Channel),
		"role":    string(role),
	}
	if previous != nil {
		outcome.PreviousVerdict = previous.Verdict
		detail["previousVerdict"] = string(previous.Verdict)
	}
	s.record(j, request, maudit.KindDecisionRecorded, event.Actor, detail)

	tally := rbac.Count(request)
	outcome.Tally = tally
	switch {
	case role == mapproval.RoleOwner:
		status := verdictStatus(event.Verdict)
		s.record(j, request, maudit.KindOwnerOverride, event.Actor, map[string]interface{}{
			"status":       string(status),
			"reason":       event.Reason,
			"approveCount": tally.Approve,
			"rejectCount":  tally.Reject,
		})
		s.resolve(request, status, event.Actor, event.Reason, now)
		outcome.Triggered = true
	default:
		verdict, reached := tally.Outcome()
		if !reached {
			break
		}
		status := verdictStatus(verdict)
		s.record(j, request, maudit.KindQuorumReached, event.Actor, map[string]interface{}{
			"status":         string(status),
			"approveCount":   tally.Approve,
			"rejectCount":    tally.Reject,
			"required":       tally.Required,
			"rejectRequired": tally.RejectRequired,
		})
		s.resolve(request, status, event.Actor, event.Reason, now)
		outcome.Triggered = true
	}
	request.Version++
	outcome.Status = request.Status
	outcome.IsFinal = request.Status.IsTerminal()
	return nil
}

// Cancel moves an open request to canceled. Only the owner or the system
// actor may cancel.
func (s *Service) Cancel(ctx context.Context, id, actor, reason string) (*Outcome, error) {
	outcome := &Outcome{RequestID: id}
	_, err := s.update(ctx, id, func(request *mapproval.Request, j *journal) error {
		outcome.Status = request.Status
		outcome.IsFinal = request.Status.IsTerminal()
		if actor != request.Owner && actor != mapproval.SystemActor {
			outcome.Role = mapproval.RoleUnauthorized
			s.recordLevel(j, request, maudit.KindDecisionRejectedUnauthorized, maudit.LevelWarning, actor, map[string]interface{}{
				"operation": "cancel",
			})
			return ErrUnauthorizedDecision
		}
		outcome.Role = mapproval.RoleOwner
		if request.Status.IsTerminal() {
			s.record(j, request, maudit.KindDecisionConflict, actor, map[string]interface{}{
				"operation": "cancel",
				"status":    string(request.Status),
			})
			return ErrTerminalStateConflict
		}
		s.record(j, request, maudit.KindCanceled, actor, map[string]interface{}{
			"reason":     reason,
			"fromStatus": string(request.Status),
		})
		s.resolve(request, mapproval.StatusCanceled, actor, reason, s.clock.Now())
		request.Version++
		outcome.Status = request.Status
		outcome.IsFinal = true
		outcome.Triggered = true
		return nil
	})
	switch {
	case isSoft(err):
		return outcome, err
	case err == nil, errors.Is(err, ErrAuditIncomplete):
	default:
		return nil, err
	}
	s.logger.Info("approval request canceled", "request_id", id, "actor", actor)
	return outcome, err
}

// dispatch runs once, after the transition to approved was committed by the
// calling Decide.
func (s *Service) dispatch(ctx context.Context, request *mapproval.Request) {
	if s.dispatcher == nil {
		s.logger.Warn("approved request has no dispatcher", "request_id", request.ID)
		return
	}
	if err := s.audit.Append(ctx, s.entry(request, maudit.KindExecutionDispatched, maudit.LevelInfo, mapproval.SystemActor, map[string]interface{}{
		"actionKind": request.ActionKind,
	})); err != nil {
		s.logger.Error("failed to audit dispatch", "request_id", request.ID, "error", err)
		return
	}
	if err := s.dispatcher.Dispatch(ctx, request.Clone()); err != nil {
		s.logger.Error("failed to dispatch approved request", "request_id", request.ID, "error", err)
		if auditErr := s.audit.Append(ctx, s.entry(request, maudit.KindExecutionFailed, maudit.LevelError, mapproval.SystemActor, map[string]interface{}{
			"error": err.Error(),
			"stage": "enqueue",
		})); auditErr != nil {
			s.logger.Error("failed to audit dispatch failure", "request_id", request.ID, "error", auditErr)
		}
	}
}

func verdictStatus(verdict mapproval.Verdict) mapproval.Status {
	if verdict == mapproval.VerdictApprove {
		return mapproval.StatusApproved
	}
	return mapproval.StatusRejected
}

// IsConflict reports whether err is the informational terminal state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTerminalStateConflict)
}

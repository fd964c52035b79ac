package approval

import (
	"context"
	"errors"

	mapproval "github.com/viant/tradegate/model/approval"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/timeout"
)

// ApplyTimeout re-evaluates the timeout policy of request id inside its
// serialization boundary and applies it when it fires. It returns the status
// after the call and whether this call changed it. A request resolved in the
// meantime is left untouched and the late timeout is recorded as a conflict.
func (s *Service) ApplyTimeout(ctx context.Context, id string) (mapproval.Status, bool, error) {
	var status mapproval.Status
	updated, err := s.update(ctx, id, func(request *mapproval.Request, j *journal) error {
		status = request.Status
		if request.Status.IsTerminal() {
			s.record(j, request, maudit.KindTimeoutConflict, mapproval.SystemActor, map[string]interface{}{
				"status": string(request.Status),
			})
			return errNoChange
		}
		now := s.clock.Now()
		params := timeout.ForRequest(request, s.config.BaseTimeout)
		if timeout.Evaluate(params, now) != timeout.Fire {
			return errNoChange
		}
		deadline, _ := params.Deadline()
		next := timeout.Transition(request)
		switch next {
		case mapproval.StatusEscalated:
			grace := timeout.Grace(request.EscalationGraceMinutes)
			s.recordLevel(j, request, maudit.KindEscalated, maudit.LevelWarning, mapproval.SystemActor, map[string]interface{}{
				"policy":      string(request.TimeoutPolicy),
				"deadline":    deadline,
				"nextExpires": now.Add(grace),
			})
			request.Status = mapproval.StatusEscalated
			request.EscalatedAt = &now
		case mapproval.StatusRejected, mapproval.StatusExpired:
			s.recordLevel(j, request, maudit.KindTimedOut, maudit.LevelWarning, mapproval.SystemActor, map[string]interface{}{
				"policy":    string(request.TimeoutPolicy),
				"deadline":  deadline,
				"status":    string(next),
				"escalated": request.Status == mapproval.StatusEscalated,
			})
			s.resolve(request, next, mapproval.SystemActor, "timeout_policy:"+string(request.TimeoutPolicy), now)
		default:
			return errNoChange
		}
		request.Version++
		status = request.Status
		return nil
	})
	if err != nil && !errors.Is(err, ErrAuditIncomplete) {
		if errors.Is(err, errNoChange) {
			return status, false, nil
		}
		return status, false, err
	}
	if updated == nil {
		return status, false, err
	}
	s.logger.Info("timeout policy fired", "request_id", id, "policy", updated.TimeoutPolicy, "status", updated.Status)
	if updated.Status == mapproval.StatusExpired && updated.TimeoutPolicy == mapproval.TimeoutAutoPause && s.pauser != nil {
		if err := s.pauser.Pause(ctx, updated); err != nil {
			s.logger.Error("failed to pause agent", "request_id", id, "error", err)
		}
	}
	return updated.Status, true, err
}

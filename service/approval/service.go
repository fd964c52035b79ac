package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/viant/tradegate/internal/clock"
	"github.com/viant/tradegate/internal/idgen"
	"github.com/viant/tradegate/internal/keylock"
	mapproval "github.com/viant/tradegate/model/approval"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/audit"
	"github.com/viant/tradegate/service/dao"
)

// Service is the approval request state machine.
type Service struct {
	config     Config
	store      Store
	audit      audit.Log
	dispatcher Dispatcher
	notifiers  []Notifier
	pauser     AgentPauser
	clock      clock.Clock
	logger     *slog.Logger
	locks      *keylock.Locker
}

// New creates the state machine over store, recording to auditLog.
func New(store Store, auditLog audit.Log, config Config, options ...Option) *Service {
	config.init()
	ret := &Service{
		config: config,
		store:  store,
		audit:  auditLog,
		clock:  clock.Real(),
		logger: slog.Default(),
		locks:  keylock.New(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.config }

// Create validates input and stores a new pending request.
func (s *Service) Create(ctx context.Context, input *CreateInput) (*mapproval.Request, error) {
	request, err := s.newRequest(input)
	if err != nil {
		return nil, err
	}
	j := &journal{}
	s.record(j, request, maudit.KindCreated, request.Owner, map[string]interface{}{
		"actionKind":     request.ActionKind,
		"approvers":      request.Approvers,
		"requiredQuorum": request.RequiredQuorum,
		"rejectQuorum":   request.EffectiveRejectQuorum(),
		"timeoutPolicy":  string(request.TimeoutPolicy),
		"channels":       request.Channels,
		"runId":          request.RunID,
	})
	unlock := s.locks.Lock(request.ID)
	if err = s.store.Create(ctx, request); err != nil {
		unlock()
		return nil, fmt.Errorf("failed to store approval request %s: %w", request.ID, err)
	}
	err = s.flush(ctx, j)
	unlock()
	s.logger.Info("approval request created", "request_id", request.ID, "owner", request.Owner,
		"action_kind", request.ActionKind, "quorum", request.RequiredQuorum)

	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, request.Clone()); err != nil {
			s.logger.Warn("approval notification failed", "request_id", request.ID, "error", err)
		}
	}
	return request, err
}

func (s *Service) newRequest(input *CreateInput) (*mapproval.Request, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: nil input", ErrInvalidConfiguration)
	}
	owner := strings.TrimSpace(input.Owner)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidConfiguration)
	}
	if strings.TrimSpace(input.ActionKind) == "" {
		return nil, fmt.Errorf("%w: action kind is required", ErrInvalidConfiguration)
	}
	approvers := uniqueNonEmpty(input.Approvers)
	quorum := input.RequiredQuorum
	if quorum == 0 {
		quorum = s.config.DefaultQuorum
	}
	if quorum < 1 || quorum > len(approvers) {
		return nil, fmt.Errorf("%w: required quorum %d with %d approvers", ErrInvalidConfiguration, quorum, len(approvers))
	}
	rejectQuorum := input.RejectQuorum
	if rejectQuorum == 0 && s.config.SingleRejectRejects {
		rejectQuorum = 1
	}
	if rejectQuorum < 0 || rejectQuorum > len(approvers) {
		return nil, fmt.Errorf("%w: reject quorum %d with %d approvers", ErrInvalidConfiguration, rejectQuorum, len(approvers))
	}
	policy := input.TimeoutPolicy
	if policy == "" {
		policy = s.config.DefaultTimeoutPolicy
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: timeout policy %q", ErrInvalidConfiguration, policy)
	}
	if input.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", ErrInvalidConfiguration)
	}
	grace := input.EscalationGraceMinutes
	if grace <= 0 {
		grace = s.config.EscalationGraceMinutes
	}
	channels := input.Channels
	if len(channels) == 0 {
		channels = s.config.Channels
	}
	id := input.ID
	if id == "" {
		id = idgen.WithPrefix("apr")
	} else if !idgen.IsSafe(id) {
		return nil, fmt.Errorf("%w: invalid request id %q", ErrInvalidConfiguration, id)
	}
	return &mapproval.Request{
		ID:                     id,
		ActionKind:             input.ActionKind,
		Payload:                append([]byte(nil), input.Payload...),
		RunID:                  input.RunID,
		Owner:                  owner,
		Approvers:              approvers,
		RequiredQuorum:         quorum,
		RejectQuorum:           rejectQuorum,
		Status:                 mapproval.StatusPending,
		TimeoutPolicy:          policy,
		Timeout:                input.Timeout,
		EscalationGraceMinutes: grace,
		Channels:               append([]mapproval.Channel(nil), channels...),
		RiskScore:              input.RiskScore,
		CreatedAt:              s.clock.Now(),
		Version:                1,
	}, nil
}

// Get returns the request stored under id.
func (s *Service) Get(ctx context.Context, id string) (*mapproval.Request, error) {
	return s.store.Load(ctx, id)
}

// ListOpen returns pending and escalated requests.
func (s *Service) ListOpen(ctx context.Context) ([]*mapproval.Request, error) {
	return s.store.List(ctx, dao.NewParameter(dao.ParamState, mapproval.OpenStatuses()...))
}

// ListAuditEntries returns the audit trail of a request.
func (s *Service) ListAuditEntries(ctx context.Context, id string) ([]*maudit.Entry, error) {
	return s.audit.List(ctx, id)
}

func (s *Service) resolve(request *mapproval.Request, status mapproval.Status, actor, reason string, at time.Time) {
	request.Status = status
	request.DecidedAt = &at
	request.DecidedBy = actor
	request.DecisionReason = reason
}

// isSoft reports errors that leave the request untouched and come with an
// outcome.
func isSoft(err error) bool {
	return errors.Is(err, ErrTerminalStateConflict) || errors.Is(err, ErrUnauthorizedDecision)
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]bool, len(values))
	ret := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		ret = append(ret, v)
	}
	return ret
}

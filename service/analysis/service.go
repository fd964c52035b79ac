package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/viant/tradegate/internal/clock"
	"github.com/viant/tradegate/internal/idgen"
	manalysis "github.com/viant/tradegate/model/analysis"
	mapproval "github.com/viant/tradegate/model/approval"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/audit"
	"github.com/viant/tradegate/service/event"
	"github.com/viant/tradegate/service/messaging"
	"github.com/viant/tradegate/service/messaging/memory"
)

// Service is the analysis run tracker.
type Service struct {
	config     Config
	store      Store
	audit      audit.Log
	researcher Researcher
	queue      messaging.Queue[Job]
	notifiers  []RunNotifier
	clock      clock.Clock
	logger     *slog.Logger
	newID      func() string
	workerName string

	events *eventLog
	bus    *event.Bus

	tokenMux sync.Mutex
	tokens   map[string]*CancelToken

	workers    []*worker
	workerWg   sync.WaitGroup
	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// New creates a tracker. researcher may be nil when runs are only created
// and observed, never executed, by this process.
func New(store Store, auditLog audit.Log, researcher Researcher, config Config, options ...Option) *Service {
	config.init()
	ret := &Service{
		config:     config,
		store:      store,
		audit:      auditLog,
		researcher: researcher,
		clock:      clock.Real(),
		logger:     slog.Default(),
		newID:      func() string { return idgen.WithPrefix("run") },
		workerName: "worker",
		events:     newEventLog(),
		bus:        event.NewBus(),
		tokens:     map[string]*CancelToken{},
		shutdownCh: make(chan struct{}),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.queue == nil {
		queueConfig := memory.DefaultConfig()
		queueConfig.QueueBuffer = config.QueueBuffer
		ret.queue = memory.NewQueue[Job](queueConfig)
	}
	return ret
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.config }

// Create stores a pending run and enqueues it for a worker.
func (s *Service) Create(ctx context.Context, input *CreateInput) (*manalysis.Run, error) {
	if input == nil || strings.TrimSpace(input.Owner) == "" || strings.TrimSpace(input.Query) == "" {
		return nil, fmt.Errorf("%w: owner and query are required", ErrInvalidRun)
	}
	if input.MaxSteps < 0 {
		return nil, fmt.Errorf("%w: maxSteps must be >= 0", ErrInvalidRun)
	}
	run := &manalysis.Run{
		ID:        s.newID(),
		Owner:     input.Owner,
		AgentID:   input.AgentID,
		Query:     input.Query,
		Model:     input.Model,
		MaxSteps:  input.MaxSteps,
		Status:    manalysis.StatusPending,
		CreatedAt: s.clock.Now(),
	}
	if run.MaxSteps == 0 {
		run.MaxSteps = s.config.DefaultMaxSteps
	}
	if err := s.record(ctx, run.ID, maudit.KindRunCreated, run.Owner, maudit.LevelInfo, map[string]interface{}{
		"query":    run.Query,
		"model":    run.Model,
		"maxSteps": run.MaxSteps,
	}); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, run); err != nil {
		return nil, err
	}
	if err := s.queue.Publish(ctx, &Job{RunID: run.ID}); err != nil {
		return nil, fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
	}
	s.logger.Info("analysis run created", "run_id", run.ID, "owner", run.Owner)
	return run, nil
}

// Get returns the run.
func (s *Service) Get(ctx context.Context, id string) (*manalysis.Run, error) {
	return s.store.Load(ctx, id)
}

// Claim atomically moves a pending run to running on behalf of worker and
// returns the token the run loop must observe.
func (s *Service) Claim(ctx context.Context, id, worker string) (*manalysis.Run, *CancelToken, error) {
	now := s.clock.Now()
	run, err := s.store.Update(ctx, id, func(run *manalysis.Run) error {
		if run.Status != manalysis.StatusPending {
			return ErrAlreadyClaimed
		}
		run.Status = manalysis.StatusRunning
		run.ClaimedBy = worker
		run.StartedAt = &now
		return s.events.append(run.ID, manalysis.EventRunStarted, map[string]interface{}{
			"query":    run.Query,
			"model":    run.Model,
			"maxSteps": run.MaxSteps,
		}, now)
	})
	if err != nil {
		return nil, nil, err
	}
	s.bus.Notify(id)
	token := NewCancelToken()
	s.tokenMux.Lock()
	s.tokens[id] = token
	s.tokenMux.Unlock()
	if err = s.record(ctx, id, maudit.KindRunClaimed, worker, maudit.LevelInfo, nil); err != nil {
		return nil, nil, err
	}
	return run, token, nil
}

// Cancel cancels a pending run immediately and asks a running run to stop at
// its next step boundary.
func (s *Service) Cancel(ctx context.Context, id, actor string) (*manalysis.Run, error) {
	now := s.clock.Now()
	var wasRunning bool
	run, err := s.store.Update(ctx, id, func(run *manalysis.Run) error {
		switch run.Status {
		case manalysis.StatusPending:
			run.Status = manalysis.StatusCanceled
			run.CompletedAt = &now
			return nil
		case manalysis.StatusRunning:
			wasRunning = true
			if run.CancelRequested {
				return nil
			}
			run.CancelRequested = true
			return s.events.append(run.ID, manalysis.EventCancelRequested, map[string]interface{}{"actor": actor}, now)
		}
		return ErrNotCancelable
	})
	if err != nil {
		return nil, err
	}
	s.bus.Notify(id)
	if wasRunning {
		if token := s.token(id); token != nil {
			token.Cancel()
		}
		s.logger.Info("analysis run cancel requested", "run_id", id, "actor", actor)
		return run, s.record(ctx, id, maudit.KindRunCancelRequested, actor, maudit.LevelInfo, nil)
	}
	s.logger.Info("analysis run canceled", "run_id", id, "actor", actor)
	err = s.record(ctx, id, maudit.KindRunCanceled, actor, maudit.LevelInfo, map[string]interface{}{"stage": "pending"})
	s.notify(ctx, run)
	return run, err
}

// Status returns the compact status view of a run.
func (s *Service) Status(ctx context.Context, id string) (*manalysis.StatusView, error) {
	run, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &manalysis.StatusView{
		ID:            run.ID,
		Status:        run.Status,
		IsFinal:       run.Status.IsTerminal(),
		StepsExecuted: run.StepsExecuted,
		Error:         run.Error,
	}
	if latest := s.events.latest(id); latest != nil {
		view.LatestSequence = latest.Sequence
		view.LatestEventType = latest.Type
	}
	return view, nil
}

// ListAuditEntries returns the audit trail of a run.
func (s *Service) ListAuditEntries(ctx context.Context, id string) ([]*maudit.Entry, error) {
	if _, err := s.store.Load(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.List(ctx, id)
}

func (s *Service) token(id string) *CancelToken {
	s.tokenMux.Lock()
	defer s.tokenMux.Unlock()
	return s.tokens[id]
}

func (s *Service) releaseToken(id string) {
	s.tokenMux.Lock()
	defer s.tokenMux.Unlock()
	delete(s.tokens, id)
}

// notify hands a terminal run to every notifier. Failures are logged only.
func (s *Service) notify(ctx context.Context, run *manalysis.Run) {
	for _, notifier := range s.notifiers {
		if err := notifier.NotifyRun(ctx, run.Clone()); err != nil {
			s.logger.Warn("analysis run notification failed", "run_id", run.ID, "status", run.Status, "error", err)
		}
	}
}

func (s *Service) record(ctx context.Context, id string, kind maudit.Kind, actor string, level maudit.Level, detail map[string]interface{}) error {
	if actor == "" {
		actor = mapproval.SystemActor
	}
	entry := maudit.New(maudit.EntityAnalysisRun, id, kind, actor, s.clock.Now(), detail).WithLevel(level)
	if err := s.audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to audit run %s: %w", id, err)
	}
	return nil
}

// IsClaimConflict reports whether err means another worker owns the run.
func IsClaimConflict(err error) bool {
	return errors.Is(err, ErrAlreadyClaimed)
}

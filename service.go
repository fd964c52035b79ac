package tradegate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"github.com/viant/tradegate/internal/clock"
	manalysis "github.com/viant/tradegate/model/analysis"
	mapproval "github.com/viant/tradegate/model/approval"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/policy"
	"github.com/viant/tradegate/service/analysis"
	analysisfs "github.com/viant/tradegate/service/analysis/fs"
	amemory "github.com/viant/tradegate/service/analysis/memory"
	"github.com/viant/tradegate/service/analysis/webhook"
	"github.com/viant/tradegate/service/approval"
	apmemory "github.com/viant/tradegate/service/approval/memory"
	"github.com/viant/tradegate/service/approval/sqlite"
	"github.com/viant/tradegate/service/audit"
	auditfs "github.com/viant/tradegate/service/audit/fs"
	audmemory "github.com/viant/tradegate/service/audit/memory"
	"github.com/viant/tradegate/service/channel/dashboard"
	"github.com/viant/tradegate/service/channel/telegram"
	"github.com/viant/tradegate/service/dao"
	"github.com/viant/tradegate/service/execution"
	"github.com/viant/tradegate/service/execution/paper"
	"github.com/viant/tradegate/service/execution/risk"
	"github.com/viant/tradegate/service/messaging"
	queuefs "github.com/viant/tradegate/service/messaging/fs"
	"github.com/viant/tradegate/service/timeout"
	"github.com/viant/tradegate/tracing"
)

// Service wires the approval engine, execution dispatcher, analysis run
// tracker and decision channels behind one facade.
type Service struct {
	config *Config
	logger *slog.Logger
	clock  clock.Clock

	approvalStore approval.Store
	runStore      analysis.Store
	auditLog      audit.Log
	researcher    analysis.Researcher
	runNotifiers  []analysis.RunNotifier
	broker        execution.Broker
	riskGate      execution.RiskGate
	accounts      execution.AccountSource
	messenger     telegram.Messenger
	links         telegram.LinkStore
	pauser        approval.AgentPauser
	jobQueue      messaging.Queue[execution.Job]
	runQueue      messaging.Queue[analysis.Job]
	closers       []io.Closer
	initErrs      []error

	policy     *policy.Policy
	scorer     *risk.Engine
	approvals  *approval.Service
	dispatcher *execution.Dispatcher
	runs       *analysis.Service
	scanner    *timeout.Scanner
	telegram   *telegram.Handler
	dashboard  *dashboard.Adapter
	admin      *dashboard.Adapter

	mux       sync.Mutex
	started   bool
	scanDone  chan struct{}
	closeOnce sync.Once
}

// New creates the engine. Storage, audit and tracing are selected by the
// configuration unless overridden by options.
func New(options ...Option) (*Service, error) {
	ret := &Service{}
	for _, option := range options {
		option(ret)
	}
	if err := ret.init(); err != nil {
		ret.closeResources()
		return nil, err
	}
	return ret, nil
}

func (s *Service) init() error {
	if len(s.initErrs) > 0 {
		return errors.Join(s.initErrs...)
	}
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.config.Tracing.Enabled {
		if err := tracing.Init(s.config.Tracing.Service, "", s.config.Tracing.Output); err != nil {
			return err
		}
	}
	if err := s.ensureStorage(); err != nil {
		return err
	}
	s.policy = policy.FromConfig(&s.config.Policy)
	s.scorer = risk.New(s.config.Risk)
	if s.riskGate == nil {
		s.riskGate = s.scorer
	}
	if s.broker == nil {
		s.broker = paper.New()
	}
	if s.links == nil {
		s.links = telegram.NewLinks()
	}
	if s.messenger == nil {
		s.messenger = &telegram.LogMessenger{Logger: s.logger}
	}

	dispatcherOptions := []execution.Option{
		execution.WithClock(s.clock),
		execution.WithLogger(s.logger),
		execution.WithFailureHandler(s.alert),
	}
	if s.accounts != nil {
		dispatcherOptions = append(dispatcherOptions, execution.WithAccountSource(s.accounts))
	}
	if s.jobQueue != nil {
		dispatcherOptions = append(dispatcherOptions, execution.WithQueue(s.jobQueue))
	}
	s.dispatcher = execution.New(s.riskGate, s.broker, s.auditLog, s.config.Execution, dispatcherOptions...)

	approvalOptions := []approval.Option{
		approval.WithClock(s.clock),
		approval.WithLogger(s.logger),
		approval.WithDispatcher(s.dispatcher),
		approval.WithNotifiers(telegram.NewNotifier(s.links, s.messenger)),
	}
	if s.pauser != nil {
		approvalOptions = append(approvalOptions, approval.WithAgentPauser(s.pauser))
	}
	s.approvals = approval.New(s.approvalStore, s.auditLog, s.config.Approval, approvalOptions...)
	// Gated jobs re-read the request so only approved requests execute.
	execution.WithRequestReader(s.approvals)(s.dispatcher)

	timeoutConfig := s.config.Timeout
	timeoutConfig.BaseTimeout = s.approvals.Config().BaseTimeout
	s.scanner = timeout.NewScanner(s.approvals, s.clock, s.logger, timeoutConfig)

	runOptions := []analysis.Option{
		analysis.WithClock(s.clock),
		analysis.WithLogger(s.logger),
	}
	if s.runQueue != nil {
		runOptions = append(runOptions, analysis.WithQueue(s.runQueue))
	}
	runNotifiers := s.runNotifiers
	if len(s.config.RunWebhooks.Endpoints) > 0 {
		runNotifiers = append(runNotifiers, webhook.New(s.config.RunWebhooks))
	}
	if len(runNotifiers) > 0 {
		runOptions = append(runOptions, analysis.WithRunNotifiers(runNotifiers...))
	}
	s.runs = analysis.New(s.runStore, s.auditLog, s.researcher, s.config.Analysis, runOptions...)

	s.telegram = telegram.New(s.approvals, s.links, s.config.Telegram.WebhookSecret,
		telegram.WithMessenger(s.messenger),
		telegram.WithLogger(s.logger),
		telegram.WithDedupCapacity(s.config.Telegram.DedupeCapacity))
	var err error
	if s.dashboard, err = dashboard.New(s.approvals, mapproval.ChannelDashboard, s.config.Telegram.DedupeCapacity); err != nil {
		return err
	}
	if s.admin, err = dashboard.New(s.approvals, mapproval.ChannelAdmin, s.config.Telegram.DedupeCapacity); err != nil {
		return err
	}
	return nil
}

func (s *Service) ensureStorage() error {
	if s.auditLog == nil {
		switch s.config.Audit.Driver {
		case DriverFS:
			s.auditLog = auditfs.New(s.config.Audit.BaseURL)
		default:
			s.auditLog = audmemory.New()
		}
	}
	if s.approvalStore == nil {
		switch s.config.Store.Driver {
		case DriverSQLite:
			store, err := sqlite.New(s.config.Store.DSN)
			if err != nil {
				return fmt.Errorf("failed to open approval store: %w", err)
			}
			s.approvalStore = store
			s.closers = append(s.closers, store)
		default:
			s.approvalStore = apmemory.New()
		}
	}
	if s.runStore == nil {
		switch s.config.Runs.Driver {
		case DriverFS:
			s.runStore = analysisfs.New(s.config.Runs.BaseURL)
		default:
			s.runStore = amemory.New()
		}
	}
	if s.config.Queue.Driver == DriverFS {
		jobQueue, err := openQueue[execution.Job](s.config.Queue, "execution")
		if err != nil {
			return err
		}
		s.jobQueue = jobQueue
		s.closers = append(s.closers, closerFunc(jobQueue.Close))
		runQueue, err := openQueue[analysis.Job](s.config.Queue, "analysis")
		if err != nil {
			return err
		}
		s.runQueue = runQueue
		s.closers = append(s.closers, closerFunc(runQueue.Close))
	}
	return nil
}

func openQueue[T any](config QueueConfig, name string) (*queuefs.Queue[T], error) {
	queueConfig := queuefs.DefaultConfig(url.Join(config.BaseURL, name))
	if config.MaxRetries > 0 {
		queueConfig.MaxRetries = config.MaxRetries
	}
	if config.RetryDelay > 0 {
		queueConfig.RetryDelay = config.RetryDelay
	}
	queue, err := queuefs.NewQueue[T](context.Background(), afs.New(), queueConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s queue: %w", name, err)
	}
	return queue, nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// alert surfaces execution failures and risk rejections to operators.
func (s *Service) alert(_ context.Context, result *execution.Result) {
	s.logger.Error("execution needs operator attention",
		"request_id", result.RequestID,
		"status", result.Status,
		"reason", result.Reason,
		"attempts", result.Attempts)
}

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.config }

// Approvals returns the approval state machine.
func (s *Service) Approvals() *approval.Service { return s.approvals }

// Dispatcher returns the execution dispatcher.
func (s *Service) Dispatcher() *execution.Dispatcher { return s.dispatcher }

// Runs returns the analysis run tracker.
func (s *Service) Runs() *analysis.Service { return s.runs }

// Scanner returns the timeout scanner.
func (s *Service) Scanner() *timeout.Scanner { return s.scanner }

// TelegramHandler returns the webhook handler.
func (s *Service) TelegramHandler() http.Handler { return s.telegram }

// Telegram returns the Telegram channel adapter.
func (s *Service) Telegram() *telegram.Handler { return s.telegram }

// Dashboard returns the dashboard channel adapter.
func (s *Service) Dashboard() *dashboard.Adapter { return s.dashboard }

// Admin returns the admin console channel adapter.
func (s *Service) Admin() *dashboard.Adapter { return s.admin }

// CreateApprovalRequest stores a new pending request and notifies its channels.
func (s *Service) CreateApprovalRequest(ctx context.Context, input *approval.CreateInput) (*mapproval.Request, error) {
	return s.approvals.Create(ctx, input)
}

// RecordDecision applies a decision arriving from any channel.
func (s *Service) RecordDecision(ctx context.Context, event *mapproval.DecisionEvent) (*approval.Outcome, error) {
	return s.approvals.Decide(ctx, event)
}

// CancelApprovalRequest cancels an open request.
func (s *Service) CancelApprovalRequest(ctx context.Context, id, actor, reason string) (*approval.Outcome, error) {
	return s.approvals.Cancel(ctx, id, actor, reason)
}

// GetApprovalRequest returns a request by id.
func (s *Service) GetApprovalRequest(ctx context.Context, id string) (*mapproval.Request, error) {
	return s.approvals.Get(ctx, id)
}

// GetQueueForApprover returns the open requests visible to filter.Actor.
func (s *Service) GetQueueForApprover(ctx context.Context, filter *approval.QueueFilter) ([]*approval.QueueItem, error) {
	return s.approvals.Queue(ctx, filter)
}

// QueueSummary returns the SLA counters of actor's queue.
func (s *Service) QueueSummary(ctx context.Context, actor string) (*approval.QueueSummary, error) {
	return s.approvals.Summary(ctx, actor)
}

// ExecutionResult returns the terminal execution record of a request.
func (s *Service) ExecutionResult(ctx context.Context, requestID string) (*execution.Result, error) {
	return s.dispatcher.Result(ctx, requestID)
}

// CreateAnalysisRun stores a pending run and queues it for a worker.
func (s *Service) CreateAnalysisRun(ctx context.Context, input *analysis.CreateInput) (*manalysis.Run, error) {
	return s.runs.Create(ctx, input)
}

// CancelAnalysisRun cancels a pending run or asks a running one to stop at
// its next step boundary.
func (s *Service) CancelAnalysisRun(ctx context.Context, id, actor string) (*manalysis.Run, error) {
	return s.runs.Cancel(ctx, id, actor)
}

// GetRunStatus returns the compact status of a run.
func (s *Service) GetRunStatus(ctx context.Context, id string) (*manalysis.StatusView, error) {
	return s.runs.Status(ctx, id)
}

// StreamRunEvents returns the events of a run after sinceSequence.
func (s *Service) StreamRunEvents(ctx context.Context, id string, sinceSequence int) ([]*manalysis.Event, error) {
	return s.runs.Events(ctx, id, sinceSequence)
}

// SubscribeRunEvents delivers events as they are appended until the run
// reaches a terminal state or ctx is done.
func (s *Service) SubscribeRunEvents(ctx context.Context, id string, sinceSequence int) (<-chan *manalysis.Event, error) {
	return s.runs.Subscribe(ctx, id, sinceSequence)
}

// QueryRuns returns a page of run history.
func (s *Service) QueryRuns(ctx context.Context, query *analysis.Query) (*analysis.Page, error) {
	return s.runs.Query(ctx, query)
}

// ListAuditEntriesFor returns the audit trail of an approval request or an
// analysis run.
func (s *Service) ListAuditEntriesFor(ctx context.Context, id string) ([]*maudit.Entry, error) {
	entries, err := s.auditLog.List(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("audit trail of %s: %w", id, dao.ErrNotFound)
	}
	return entries, nil
}

// Start launches the execution workers, the timeout scanner and, when a
// researcher is configured, the analysis workers. It returns immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.started {
		return fmt.Errorf("service already started")
	}
	if s.researcher != nil {
		if err := s.runs.Start(ctx); err != nil {
			return err
		}
	}
	s.dispatcher.Start(ctx)
	s.scanDone = make(chan struct{})
	go func() {
		defer close(s.scanDone)
		if err := s.scanner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("timeout scanner stopped", "error", err)
		}
	}()
	s.started = true
	s.logger.Info("tradegate started",
		"store", s.config.Store.Driver,
		"audit", s.config.Audit.Driver,
		"policy", s.policy.Mode)
	return nil
}

// Shutdown stops every background component and releases storage. It is safe
// to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.mux.Lock()
		started := s.started
		s.mux.Unlock()
		if started {
			s.scanner.Shutdown()
			<-s.scanDone
			if s.researcher != nil {
				s.runs.Shutdown()
			}
			s.dispatcher.Shutdown()
		}
		err = errors.Join(s.closeResources(), tracing.Shutdown(ctx))
	})
	return err
}

func (s *Service) closeResources() error {
	var errs []error
	for _, closer := range s.closers {
		errs = append(errs, closer.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

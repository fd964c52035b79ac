package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viant/tradegate/internal/clock"
	"github.com/viant/tradegate/internal/keylock"
	mapproval "github.com/viant/tradegate/model/approval"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/audit"
	"github.com/viant/tradegate/service/dao"
	"github.com/viant/tradegate/service/dao/store"
	"github.com/viant/tradegate/service/messaging"
	"github.com/viant/tradegate/service/messaging/memory"
	"github.com/viant/tradegate/tracing"
)

// RequestReader reads approval requests for the pre-execution status check.
type RequestReader interface {
	Get(ctx context.Context, id string) (*mapproval.Request, error)
}

// FailureHandler is told about every result that needs operator attention.
type FailureHandler func(ctx context.Context, result *Result)

// Dispatcher consumes execution jobs.
type Dispatcher struct {
	config    Config
	queue     messaging.Queue[Job]
	results   dao.Store[string, Result]
	audit     audit.Log
	risk      RiskGate
	accounts  AccountSource
	broker    Broker
	requests  RequestReader
	onFailure FailureHandler
	clock     clock.Clock
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	locks      *keylock.Locker
	workerWg   sync.WaitGroup
	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// Option customises the Dispatcher.
type Option func(*Dispatcher)

// WithQueue replaces the in-memory job queue.
func WithQueue(queue messaging.Queue[Job]) Option {
	return func(d *Dispatcher) { d.queue = queue }
}

// WithResultStore replaces the in-memory result store.
func WithResultStore(results dao.Store[string, Result]) Option {
	return func(d *Dispatcher) { d.results = results }
}

// WithAccountSource sets the account state provider for the risk gate.
func WithAccountSource(source AccountSource) Option {
	return func(d *Dispatcher) { d.accounts = source }
}

// WithRequestReader enables the approved-status check for gated jobs.
func WithRequestReader(reader RequestReader) Option {
	return func(d *Dispatcher) { d.requests = reader }
}

// WithFailureHandler sets the operator alert hook.
func WithFailureHandler(fn FailureHandler) Option {
	return func(d *Dispatcher) { d.onFailure = fn }
}

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New creates a Dispatcher submitting through broker after gate approves.
func New(gate RiskGate, broker Broker, auditLog audit.Log, config Config, options ...Option) *Dispatcher {
	config.init()
	ret := &Dispatcher{
		config:     config,
		risk:       gate,
		broker:     broker,
		audit:      auditLog,
		clock:      clock.Real(),
		logger:     slog.Default(),
		sleep:      sleepContext,
		locks:      keylock.New(),
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
	if ret.results == nil {
		ret.results = store.NewMemoryStore[string, Result](
			func(r *Result) string { return r.RequestID },
			func(k string) string { return k })
	}
	return ret
}

// Dispatch enqueues the approved request. It implements approval.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, request *mapproval.Request) error {
	return d.Enqueue(ctx, &Job{
		Action: Action{
			RequestID: request.ID,
			Kind:      request.ActionKind,
			Owner:     request.Owner,
			Payload:   request.Payload,
		},
		Gated: true,
	})
}

// Enqueue publishes job.
func (d *Dispatcher) Enqueue(ctx context.Context, job *Job) error {
	if job == nil || job.Action.RequestID == "" {
		return fmt.Errorf("invalid execution job")
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = d.clock.Now()
	}
	if err := d.queue.Publish(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue execution of %s: %w", job.Action.RequestID, err)
	}
	return nil
}

// Start launches the worker pool and returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.config.Workers; i++ {
		d.workerWg.Add(1)
		go d.work(ctx, i)
	}
}

// Shutdown stops the workers and waits for in-flight jobs.
func (d *Dispatcher) Shutdown() {
	d.closeOnce.Do(func() { close(d.shutdownCh) })
	d.workerWg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.workerWg.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	for {
		message, err := d.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, messaging.ErrClosed) {
				return
			}
			d.logger.Error("failed to consume execution job", "worker", id, "error", err)
			continue
		}
		job := message.T()
		if _, err = d.Execute(ctx, job); err != nil && !isOutcome(err) {
			d.logger.Error("execution job failed", "worker", id, "request_id", job.Action.RequestID, "error", err)
			_ = message.Nack(err)
			continue
		}
		_ = message.Ack()
	}
}

// isOutcome reports errors that describe a recorded result rather than a
// processing failure.
func isOutcome(err error) bool {
	return errors.Is(err, ErrRiskRejected) || errors.Is(err, ErrBrokerRejected) ||
		errors.Is(err, ErrExecutionFailed) || errors.Is(err, ErrNotApproved)
}

// Result returns the recorded result of requestID.
func (d *Dispatcher) Result(ctx context.Context, requestID string) (*Result, error) {
	return d.results.Load(ctx, requestID)
}

// Execute runs job synchronously. A job whose request already has a result
// returns that result without side effects.
func (d *Dispatcher) Execute(ctx context.Context, job *Job) (*Result, error) {
	action := &job.Action
	unlock := d.locks.Lock(action.RequestID)
	defer unlock()

	if existing, err := d.results.Load(ctx, action.RequestID); err == nil {
		d.logger.Debug("execution already recorded", "request_id", action.RequestID, "status", existing.Status)
		return existing, existing.Err()
	} else if !errors.Is(err, dao.ErrNotFound) {
		return nil, err
	}

	if job.Gated && d.requests != nil {
		request, err := d.requests.Get(ctx, action.RequestID)
		if err != nil {
			return nil, err
		}
		if request.Status != mapproval.StatusApproved {
			d.logger.Warn("skipping execution of request that is not approved", "request_id", action.RequestID, "status", request.Status)
			return nil, ErrNotApproved
		}
	}

	verdict := d.checkRisk(ctx, action)
	if !verdict.OK {
		result := &Result{RequestID: action.RequestID, Status: StatusRiskRejected, Reason: verdict.Reason, RiskScore: verdict.Score, CompletedAt: d.clock.Now()}
		if err := d.finish(ctx, result, maudit.KindRiskRejected, maudit.LevelWarning, map[string]interface{}{
			"reason": verdict.Reason,
			"score":  verdict.Score,
		}); err != nil {
			return nil, err
		}
		d.logger.Warn("execution blocked by risk gate", "request_id", action.RequestID, "reason", verdict.Reason, "score", verdict.Score)
		d.alert(ctx, result)
		return result, ErrRiskRejected
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		receipt, err := d.submit(ctx, action, attempt)
		if err == nil {
			return d.recordReceipt(ctx, action, receipt, verdict.Score, attempt)
		}
		lastErr = err
		retry, delay := d.config.shouldRetry(attempt)
		d.logger.Warn("broker submission failed", "request_id", action.RequestID, "attempt", attempt, "retry", retry, "delay", delay, "error", err)
		if !retry {
			result := &Result{RequestID: action.RequestID, Status: StatusFailed, Reason: err.Error(), RiskScore: verdict.Score, Attempts: attempt, CompletedAt: d.clock.Now()}
			if auditErr := d.finish(ctx, result, maudit.KindExecutionFailed, maudit.LevelError, map[string]interface{}{
				"error":    err.Error(),
				"attempts": attempt,
			}); auditErr != nil {
				return nil, auditErr
			}
			d.logger.Error("execution failed", "request_id", action.RequestID, "attempts", attempt, "error", err)
			d.alert(ctx, result)
			return result, fmt.Errorf("%w after %d attempts: %w", ErrExecutionFailed, attempt, lastErr)
		}
		if err = d.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (d *Dispatcher) checkRisk(ctx context.Context, action *Action) *RiskVerdict {
	if d.risk == nil {
		return &RiskVerdict{OK: false, Reason: "no risk gate configured", Score: 100}
	}
	var account *Account
	if d.accounts != nil {
		var err error
		if account, err = d.accounts.Account(ctx, action.Owner); err != nil {
			return &RiskVerdict{OK: false, Reason: "account state unavailable: " + err.Error(), Score: 100}
		}
	}
	verdict, err := d.risk.Evaluate(ctx, action, account)
	if err != nil {
		return &RiskVerdict{OK: false, Reason: "risk evaluation failed: " + err.Error(), Score: 100}
	}
	if verdict == nil {
		return &RiskVerdict{OK: false, Reason: "risk gate returned no verdict", Score: 100}
	}
	return verdict
}

func (d *Dispatcher) submit(ctx context.Context, action *Action, attempt int) (receipt *Receipt, err error) {
	ctx, span := tracing.StartSpan(ctx, "execution.submit", "CLIENT")
	span.WithAttributes(map[string]string{"request.id": action.RequestID, "action.kind": action.Kind, "attempt": fmt.Sprint(attempt)})
	defer func() { tracing.EndSpan(span, err) }()
	receipt, err = d.broker.Submit(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionTransport, err)
	}
	if receipt == nil {
		return nil, fmt.Errorf("%w: empty broker receipt", ErrExecutionTransport)
	}
	return receipt, nil
}

func (d *Dispatcher) recordReceipt(ctx context.Context, action *Action, receipt *Receipt, score, attempts int) (*Result, error) {
	result := &Result{
		RequestID:   action.RequestID,
		Status:      StatusExecuted,
		OrderID:     receipt.OrderID,
		Reason:      receipt.Reason,
		RiskScore:   score,
		Attempts:    attempts,
		CompletedAt: d.clock.Now(),
	}
	level := maudit.LevelInfo
	if !receipt.Accepted {
		result.Status = StatusBrokerRejected
		level = maudit.LevelWarning
	}
	if err := d.finish(ctx, result, maudit.KindExecutionResult, level, map[string]interface{}{
		"accepted": receipt.Accepted,
		"orderId":  receipt.OrderID,
		"reason":   receipt.Reason,
		"attempts": attempts,
	}); err != nil {
		return nil, err
	}
	if !receipt.Accepted {
		d.logger.Warn("broker rejected order", "request_id", action.RequestID, "reason", receipt.Reason)
		d.alert(ctx, result)
		return result, ErrBrokerRejected
	}
	d.logger.Info("order executed", "request_id", action.RequestID, "order_id", receipt.OrderID, "attempts", attempts)
	return result, nil
}

// finish writes the audit entry, then the result that makes redelivery a no-op.
func (d *Dispatcher) finish(ctx context.Context, result *Result, kind maudit.Kind, level maudit.Level, detail map[string]interface{}) error {
	entry := maudit.New(maudit.EntityApprovalRequest, result.RequestID, kind, mapproval.SystemActor, result.CompletedAt, detail).WithLevel(level)
	if err := d.audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to audit execution of %s: %w", result.RequestID, err)
	}
	return d.results.Save(ctx, result)
}

func (d *Dispatcher) alert(ctx context.Context, result *Result) {
	if d.onFailure != nil {
		d.onFailure(ctx, result)
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package execution

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/tradegate/internal/clock"
	mapproval "github.com/viant/tradegate/model/approval"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/audit"
	auditmem "github.com/viant/tradegate/service/audit/memory"
	queuefs "github.com/viant/tradegate/service/messaging/fs"
)

type stubGate struct {
	verdict *RiskVerdict
	err     error
	calls   int
}

func (g *stubGate) Evaluate(context.Context, *Action, *Account) (*RiskVerdict, error) {
	g.calls++
	return g.verdict, g.err
}

type scriptedBroker struct {
	mu      sync.Mutex
	fails   int
	receipt *Receipt
	calls   int
}

func (b *scriptedBroker) Submit(_ context.Context, action *Action) (*Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.fails {
		return nil, errors.New("connection reset")
	}
	if b.receipt != nil {
		return b.receipt, nil
	}
	return &Receipt{Accepted: true, OrderID: "ord-" + action.RequestID}, nil
}

func (b *scriptedBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type stubReader struct {
	status mapproval.Status
}

func (r *stubReader) Get(_ context.Context, id string) (*mapproval.Request, error) {
	return &mapproval.Request{ID: id, Status: r.status}, nil
}

var epoch = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func newTestDispatcher(gate RiskGate, broker Broker, options ...Option) (*Dispatcher, *auditmem.Log, *[]time.Duration) {
	log := auditmem.New()
	options = append([]Option{WithClock(clock.NewFake(epoch))}, options...)
	d := New(gate, broker, log, DefaultConfig(), options...)
	var delays []time.Duration
	d.sleep = func(_ context.Context, delay time.Duration) error {
		delays = append(delays, delay)
		return nil
	}
	return d, log, &delays
}

func newJob(id string) *Job {
	return &Job{Action: Action{RequestID: id, Kind: "order", Owner: "alice", Payload: json.RawMessage(`{"symbol":"AAPL","quantity":1,"price":100}`)}}
}

func TestDispatcher_Execute(t *testing.T) {
	okGate := func() *stubGate { return &stubGate{verdict: &RiskVerdict{OK: true, Score: 20}} }
	testCases := []struct {
		description string
		gate        *stubGate
		broker      *scriptedBroker
		expectErr   error
		expect      Status
		expectKind  maudit.Kind
		expectLevel maudit.Level
		expectCalls int
		expectDelay []time.Duration
	}{
		{
			description: "executed on first attempt",
			gate:        okGate(),
			broker:      &scriptedBroker{},
			expect:      StatusExecuted,
			expectKind:  maudit.KindExecutionResult,
			expectLevel: maudit.LevelInfo,
			expectCalls: 1,
		},
		{
			description: "transport failures retried with backoff",
			gate:        okGate(),
			broker:      &scriptedBroker{fails: 2},
			expect:      StatusExecuted,
			expectKind:  maudit.KindExecutionResult,
			expectLevel: maudit.LevelInfo,
			expectCalls: 3,
			expectDelay: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			description: "retries exhausted",
			gate:        okGate(),
			broker:      &scriptedBroker{fails: 10},
			expectErr:   ErrExecutionFailed,
			expect:      StatusFailed,
			expectKind:  maudit.KindExecutionFailed,
			expectLevel: maudit.LevelError,
			expectCalls: 3,
			expectDelay: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			description: "broker rejection is not retried",
			gate:        okGate(),
			broker:      &scriptedBroker{receipt: &Receipt{Accepted: false, Reason: "market closed"}},
			expectErr:   ErrBrokerRejected,
			expect:      StatusBrokerRejected,
			expectKind:  maudit.KindExecutionResult,
			expectLevel: maudit.LevelWarning,
			expectCalls: 1,
		},
		{
			description: "risk gate refusal blocks submission",
			gate:        &stubGate{verdict: &RiskVerdict{OK: false, Reason: "notional", Score: 95}},
			broker:      &scriptedBroker{},
			expectErr:   ErrRiskRejected,
			expect:      StatusRiskRejected,
			expectKind:  maudit.KindRiskRejected,
			expectLevel: maudit.LevelWarning,
		},
		{
			description: "risk gate error fails closed",
			gate:        &stubGate{err: errors.New("positions unavailable")},
			broker:      &scriptedBroker{},
			expectErr:   ErrRiskRejected,
			expect:      StatusRiskRejected,
			expectKind:  maudit.KindRiskRejected,
			expectLevel: maudit.LevelWarning,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			var alerts []*Result
			d, log, delays := newTestDispatcher(testCase.gate, testCase.broker, WithFailureHandler(func(_ context.Context, r *Result) {
				alerts = append(alerts, r)
			}))
			ctx := context.Background()
			result, err := d.Execute(ctx, newJob("apr_1"))
			if testCase.expectErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, testCase.expectErr), err.Error())
				assert.Len(t, alerts, 1)
			} else {
				require.NoError(t, err)
				assert.Empty(t, alerts)
			}
			require.NotNil(t, result)
			assert.Equal(t, testCase.expect, result.Status)
			assert.Equal(t, testCase.expectCalls, testCase.broker.count())
			assert.Equal(t, testCase.expectDelay, *delays)

			entries, err := log.List(ctx, "apr_1")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, testCase.expectKind, entries[0].Kind)
			assert.Equal(t, testCase.expectLevel, entries[0].Level)

			stored, err := d.Result(ctx, "apr_1")
			require.NoError(t, err)
			assert.Equal(t, result.Status, stored.Status)
		})
	}
}

func TestDispatcher_ExecuteFailureWrapsTransport(t *testing.T) {
	d, _, _ := newTestDispatcher(&stubGate{verdict: &RiskVerdict{OK: true}}, &scriptedBroker{fails: 10})
	_, err := d.Execute(context.Background(), newJob("apr_1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecutionFailed))
	assert.True(t, errors.Is(err, ErrExecutionTransport))
}

func TestDispatcher_NilRiskGateFailsClosed(t *testing.T) {
	broker := &scriptedBroker{}
	d, log, _ := newTestDispatcher(nil, broker)
	ctx := context.Background()

	result, err := d.Execute(ctx, newJob("apr_1"))
	assert.ErrorIs(t, err, ErrRiskRejected)
	require.NotNil(t, result)
	assert.Equal(t, StatusRiskRejected, result.Status)
	assert.Equal(t, 100, result.RiskScore)
	assert.Equal(t, 0, broker.count())
	entries, err := log.List(ctx, "apr_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, maudit.KindRiskRejected, entries[0].Kind)
}

func TestDispatcher_RedeliveryIsNoop(t *testing.T) {
	broker := &scriptedBroker{}
	d, log, _ := newTestDispatcher(&stubGate{verdict: &RiskVerdict{OK: true}}, broker)
	ctx := context.Background()

	first, err := d.Execute(ctx, newJob("apr_1"))
	require.NoError(t, err)
	second, err := d.Execute(ctx, newJob("apr_1"))
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, broker.count())
	entries, _ := log.List(ctx, "apr_1")
	assert.Equal(t, 1, audit.Count(entries, maudit.KindExecutionResult))
}

func TestDispatcher_GatedJobRequiresApproval(t *testing.T) {
	testCases := []struct {
		description string
		status      mapproval.Status
		expectErr   error
	}{
		{description: "approved", status: mapproval.StatusApproved},
		{description: "canceled", status: mapproval.StatusCanceled, expectErr: ErrNotApproved},
		{description: "pending", status: mapproval.StatusPending, expectErr: ErrNotApproved},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			broker := &scriptedBroker{}
			d, _, _ := newTestDispatcher(&stubGate{verdict: &RiskVerdict{OK: true}}, broker, WithRequestReader(&stubReader{status: testCase.status}))
			job := newJob("apr_1")
			job.Gated = true
			_, err := d.Execute(context.Background(), job)
			if testCase.expectErr != nil {
				assert.ErrorIs(t, err, testCase.expectErr)
				assert.Equal(t, 0, broker.count())
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, 1, broker.count())
		})
	}
}

func TestDispatcher_Workers(t *testing.T) {
	broker := &scriptedBroker{}
	d, _, _ := newTestDispatcher(&stubGate{verdict: &RiskVerdict{OK: true}}, broker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Shutdown()

	request := &mapproval.Request{ID: "apr_9", ActionKind: "order", Owner: "alice", Status: mapproval.StatusApproved}
	require.NoError(t, d.Dispatch(ctx, request))
	require.NoError(t, d.Dispatch(ctx, request))

	require.Eventually(t, func() bool {
		result, err := d.Result(ctx, "apr_9")
		return err == nil && result.Status == StatusExecuted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return broker.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestDispatcher_DurableQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	config := queuefs.DefaultConfig(t.TempDir())
	config.PollInterval = 5 * time.Millisecond
	queue, err := queuefs.NewQueue[Job](ctx, afs.New(), config)
	require.NoError(t, err)
	defer queue.Close()

	broker := &scriptedBroker{}
	d, _, _ := newTestDispatcher(&stubGate{verdict: &RiskVerdict{OK: true}}, broker, WithQueue(queue))
	request := &mapproval.Request{ID: "apr_7", ActionKind: "order", Owner: "alice", Status: mapproval.StatusApproved, Payload: json.RawMessage(`{"symbol":"AAPL"}`)}
	require.NoError(t, d.Dispatch(ctx, request))
	pending, err := queue.Count(ctx, queuefs.MessageStatePending)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	d.Start(ctx)
	defer d.Shutdown()
	require.Eventually(t, func() bool {
		completed, err := queue.Count(ctx, queuefs.MessageStateCompleted)
		return err == nil && completed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, broker.count())
	result, err := d.Result(ctx, "apr_7")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, result.Status)
}

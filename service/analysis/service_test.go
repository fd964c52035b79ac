package analysis_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/tradegate/internal/clock"
	manalysis "github.com/viant/tradegate/model/analysis"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/analysis"
	"github.com/viant/tradegate/service/analysis/memory"
	"github.com/viant/tradegate/service/audit"
	auditmem "github.com/viant/tradegate/service/audit/memory"
)

var epoch = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

// scripted returns the given steps in order.
func scripted(steps ...*analysis.Step) analysis.Researcher {
	var mux sync.Mutex
	i := 0
	return analysis.ResearcherFunc(func(context.Context, *manalysis.Run, []*manalysis.Event) (*analysis.Step, error) {
		mux.Lock()
		defer mux.Unlock()
		if i >= len(steps) {
			return &analysis.Step{}, nil
		}
		step := steps[i]
		i++
		return step, nil
	})
}

func newTracker(researcher analysis.Researcher) (*analysis.Service, *auditmem.Log, *clock.Fake) {
	log := auditmem.New()
	clk := clock.NewFake(epoch)
	svc := analysis.New(memory.New(), log, researcher, analysis.DefaultConfig(), analysis.WithClock(clk))
	return svc, log, clk
}

func eventTypes(events []*manalysis.Event) []string {
	var out []string
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestService_Create(t *testing.T) {
	testCases := []struct {
		description string
		input       *analysis.CreateInput
		expectErr   bool
		expectSteps int
	}{
		{description: "defaults", input: &analysis.CreateInput{Owner: "alice", Query: "nifty outlook"}, expectSteps: 8},
		{description: "explicit budget", input: &analysis.CreateInput{Owner: "alice", Query: "nifty outlook", MaxSteps: 3}, expectSteps: 3},
		{description: "missing query", input: &analysis.CreateInput{Owner: "alice"}, expectErr: true},
		{description: "missing owner", input: &analysis.CreateInput{Query: "x"}, expectErr: true},
		{description: "negative budget", input: &analysis.CreateInput{Owner: "alice", Query: "x", MaxSteps: -1}, expectErr: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			svc, log, _ := newTracker(nil)
			run, err := svc.Create(context.Background(), testCase.input)
			if testCase.expectErr {
				assert.ErrorIs(t, err, analysis.ErrInvalidRun)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, manalysis.StatusPending, run.Status)
			assert.Equal(t, testCase.expectSteps, run.MaxSteps)
			entries, _ := log.List(context.Background(), run.ID)
			assert.Equal(t, []maudit.Kind{maudit.KindRunCreated}, audit.Kinds(entries))
		})
	}
}

func TestService_ClaimOnce(t *testing.T) {
	svc, _, _ := newTracker(nil)
	ctx := context.Background()
	run, err := svc.Create(ctx, &analysis.CreateInput{Owner: "alice", Query: "q"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mux sync.Mutex
	claimed, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := svc.Claim(ctx, run.ID, fmt.Sprintf("w-%d", i))
			mux.Lock()
			defer mux.Unlock()
			if err == nil {
				claimed++
			} else if errors.Is(err, analysis.ErrAlreadyClaimed) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, claimed)
	assert.Equal(t, 7, conflicts)
	got, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, manalysis.StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestService_Execute(t *testing.T) {
	testCases := []struct {
		description  string
		researcher   analysis.Researcher
		maxSteps     int
		expect       manalysis.Status
		expectResult string
		expectEvents []string
		expectKind   maudit.Kind
	}{
		{
			description:  "completes on final step",
			researcher:   scripted(&analysis.Step{Type: "tool_result", Payload: map[string]interface{}{"tool": "quotes"}}, &analysis.Step{Final: true, Result: "buy NIFTY"}),
			expect:       manalysis.StatusCompleted,
			expectResult: "buy NIFTY",
			expectEvents: []string{"run_started", "tool_result", "step", "run_completed"},
			expectKind:   maudit.KindRunCompleted,
		},
		{
			description:  "step budget exhausted without result",
			researcher:   scripted(),
			maxSteps:     2,
			expect:       manalysis.StatusFailed,
			expectEvents: []string{"run_started", "step", "step", "run_failed"},
			expectKind:   maudit.KindRunFailed,
		},
		{
			description: "researcher error fails the run",
			researcher: analysis.ResearcherFunc(func(context.Context, *manalysis.Run, []*manalysis.Event) (*analysis.Step, error) {
				return nil, errors.New("model unavailable")
			}),
			expect:       manalysis.StatusFailed,
			expectEvents: []string{"run_started", "run_failed"},
			expectKind:   maudit.KindRunFailed,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			svc, log, _ := newTracker(testCase.researcher)
			ctx := context.Background()
			run, err := svc.Create(ctx, &analysis.CreateInput{Owner: "alice", Query: "q", MaxSteps: testCase.maxSteps})
			require.NoError(t, err)
			require.NoError(t, svc.Execute(ctx, run.ID, "w-0"))

			got, err := svc.Get(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, testCase.expect, got.Status)
			assert.Equal(t, testCase.expectResult, got.Result)
			assert.NotNil(t, got.CompletedAt)

			events, err := svc.Events(ctx, run.ID, 0)
			require.NoError(t, err)
			assert.Equal(t, testCase.expectEvents, eventTypes(events))
			for i, e := range events {
				assert.Equal(t, i+1, e.Sequence)
			}
			entries, _ := log.List(ctx, run.ID)
			assert.Equal(t, 1, audit.Count(entries, testCase.expectKind))

			view, err := svc.Status(ctx, run.ID)
			require.NoError(t, err)
			assert.True(t, view.IsFinal)
			assert.Equal(t, len(events), view.LatestSequence)
			assert.Equal(t, events[len(events)-1].Type, view.LatestEventType)
		})
	}
}

func TestService_CancelPending(t *testing.T) {
	svc, log, _ := newTracker(nil)
	ctx := context.Background()
	run, err := svc.Create(ctx, &analysis.CreateInput{Owner: "alice", Query: "q"})
	require.NoError(t, err)

	canceled, err := svc.Cancel(ctx, run.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, manalysis.StatusCanceled, canceled.Status)

	_, err = svc.Cancel(ctx, run.ID, "alice")
	assert.ErrorIs(t, err, analysis.ErrNotCancelable)

	_, _, err = svc.Claim(ctx, run.ID, "w-0")
	assert.ErrorIs(t, err, analysis.ErrAlreadyClaimed)

	entries, _ := log.List(ctx, run.ID)
	assert.Equal(t, []maudit.Kind{maudit.KindRunCreated, maudit.KindRunCanceled}, audit.Kinds(entries))

	_, err = svc.Cancel(ctx, "run_missing", "alice")
	assert.ErrorIs(t, err, analysis.ErrNotFound)
}

func TestService_CancelRunningAtStepBoundary(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	researcher := analysis.ResearcherFunc(func(context.Context, *manalysis.Run, []*manalysis.Event) (*analysis.Step, error) {
		calls++
		if calls == 1 {
			close(entered)
			<-release
		}
		return &analysis.Step{Payload: map[string]interface{}{"call": calls}}, nil
	})
	svc, log, _ := newTracker(researcher)
	ctx := context.Background()
	run, err := svc.Create(ctx, &analysis.CreateInput{Owner: "alice", Query: "q"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Execute(ctx, run.ID, "w-0") }()
	<-entered

	running, err := svc.Cancel(ctx, run.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, manalysis.StatusRunning, running.Status)
	assert.True(t, running.CancelRequested)

	close(release)
	require.NoError(t, <-done)

	got, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, manalysis.StatusCanceled, got.Status)
	assert.Equal(t, 1, got.StepsExecuted)
	assert.Equal(t, 1, calls)

	events, _ := svc.Events(ctx, run.ID, 0)
	assert.Equal(t, []string{"run_started", "cancel_requested", "step"}, eventTypes(events))

	entries, _ := log.List(ctx, run.ID)
	assert.Equal(t, []maudit.Kind{maudit.KindRunCreated, maudit.KindRunClaimed, maudit.KindRunCancelRequested, maudit.KindRunCanceled}, audit.Kinds(entries))
}

func TestService_StreamAndSubscribe(t *testing.T) {
	svc, _, _ := newTracker(scripted(&analysis.Step{}, &analysis.Step{Final: true, Result: "hold"}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := svc.Create(ctx, &analysis.CreateInput{Owner: "alice", Query: "q"})
	require.NoError(t, err)

	updates, err := svc.Subscribe(ctx, run.ID, 0)
	require.NoError(t, err)
	go func() { _ = svc.Execute(ctx, run.ID, "w-0") }()

	var received []string
	for e := range updates {
		received = append(received, e.Type)
	}
	assert.Equal(t, []string{"run_started", "step", "step", "run_completed"}, received)

	seq, err := svc.Stream(ctx, run.ID, 2)
	require.NoError(t, err)
	for range 2 {
		var replay []string
		for e := range seq {
			replay = append(replay, e.Type)
		}
		assert.Equal(t, []string{"step", "run_completed"}, replay)
	}

	late, err := svc.Subscribe(ctx, run.ID, 3)
	require.NoError(t, err)
	var tail []string
	for e := range late {
		tail = append(tail, e.Type)
	}
	assert.Equal(t, []string{"run_completed"}, tail)
}

func TestService_Workers(t *testing.T) {
	svc, _, _ := newTracker(scripted(&analysis.Step{Final: true, Result: "done"}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	defer svc.Shutdown()

	run, err := svc.Create(ctx, &analysis.CreateInput{Owner: "alice", Query: "q"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		view, err := svc.Status(ctx, run.ID)
		return err == nil && view.IsFinal
	}, 2*time.Second, 10*time.Millisecond)
	got, _ := svc.Get(ctx, run.ID)
	assert.Equal(t, manalysis.StatusCompleted, got.Status)
	assert.Contains(t, got.ClaimedBy, "worker-")
}

func TestService_Query(t *testing.T) {
	svc, _, clk := newTracker(nil)
	ctx := context.Background()
	queries := []string{"foo rally", "bar dip", "Foo breakout", "foo gap", "baz"}
	var ids []string
	for _, q := range queries {
		run, err := svc.Create(ctx, &analysis.CreateInput{Owner: "alice", Query: q, Model: "m1"})
		require.NoError(t, err)
		ids = append(ids, run.ID)
		clk.Advance(time.Minute)
	}
	for _, i := range []int{0, 1, 2} {
		_, err := svc.Cancel(ctx, ids[i], "alice")
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	from := epoch.Add(90 * time.Second)

	testCases := []struct {
		description string
		query       *analysis.Query
		expectIDs   []string
		expectCount int
		expectSize  int
		expectErr   bool
	}{
		{description: "default order newest first", query: &analysis.Query{}, expectIDs: []string{ids[4], ids[3], ids[2], ids[1], ids[0]}, expectCount: 5, expectSize: 20},
		{description: "status and text", query: &analysis.Query{Status: manalysis.StatusCanceled, Text: "FOO"}, expectIDs: []string{ids[2], ids[0]}, expectCount: 2, expectSize: 20},
		{description: "ascending", query: &analysis.Query{Text: "foo", OrderBy: "created_at"}, expectIDs: []string{ids[0], ids[2], ids[3]}, expectCount: 3, expectSize: 20},
		{description: "created range", query: &analysis.Query{CreatedFrom: &from, OrderBy: "created_at", PageSize: 2}, expectIDs: []string{ids[2], ids[3]}, expectCount: 3, expectSize: 2},
		{description: "second page", query: &analysis.Query{OrderBy: "created_at", Page: 2, PageSize: 2}, expectIDs: []string{ids[2], ids[3]}, expectCount: 5, expectSize: 2},
		{description: "page past end", query: &analysis.Query{Page: 9}, expectIDs: nil, expectCount: 5, expectSize: 20},
		{description: "page size capped", query: &analysis.Query{PageSize: 1000}, expectIDs: []string{ids[4], ids[3], ids[2], ids[1], ids[0]}, expectCount: 5, expectSize: 100},
		{description: "completed_at puts unfinished last", query: &analysis.Query{OrderBy: "-completed_at", PageSize: 3}, expectIDs: []string{ids[2], ids[1], ids[0]}, expectCount: 5, expectSize: 3},
		{description: "bad order", query: &analysis.Query{OrderBy: "owner"}, expectErr: true},
		{description: "bad status", query: &analysis.Query{Status: "done"}, expectErr: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			page, err := svc.Query(ctx, testCase.query)
			if testCase.expectErr {
				assert.ErrorIs(t, err, analysis.ErrInvalidQuery)
				return
			}
			require.NoError(t, err)
			var got []string
			for _, run := range page.Results {
				got = append(got, run.ID)
			}
			assert.Equal(t, testCase.expectIDs, got)
			assert.Equal(t, testCase.expectCount, page.Count)
			assert.Equal(t, testCase.expectSize, page.PageSize)
		})
	}
}

type recordingRunNotifier struct {
	mu   sync.Mutex
	runs []*manalysis.Run
	err  error
}

func (n *recordingRunNotifier) NotifyRun(_ context.Context, run *manalysis.Run) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
	return n.err
}

func (n *recordingRunNotifier) statuses() []manalysis.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []manalysis.Status
	for _, r := range n.runs {
		out = append(out, r.Status)
	}
	return out
}

func TestService_RunNotifiers(t *testing.T) {
	testCases := []struct {
		description string
		researcher  analysis.Researcher
		cancel      bool
		notifyErr   error
		expect      []manalysis.Status
	}{
		{description: "completed", researcher: scripted(&analysis.Step{Final: true, Result: "hold"}), expect: []manalysis.Status{manalysis.StatusCompleted}},
		{description: "failed", researcher: scripted(), expect: []manalysis.Status{manalysis.StatusFailed}},
		{description: "canceled while pending", cancel: true, expect: []manalysis.Status{manalysis.StatusCanceled}},
		{description: "notifier error does not fail the run", researcher: scripted(&analysis.Step{Final: true, Result: "hold"}), notifyErr: errors.New("endpoint down"), expect: []manalysis.Status{manalysis.StatusCompleted}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			notifier := &recordingRunNotifier{err: testCase.notifyErr}
			svc := analysis.New(memory.New(), auditmem.New(), testCase.researcher, analysis.DefaultConfig(),
				analysis.WithClock(clock.NewFake(epoch)),
				analysis.WithRunNotifiers(notifier))
			ctx := context.Background()
			run, err := svc.Create(ctx, &analysis.CreateInput{Owner: "alice", Query: "q", MaxSteps: 2})
			require.NoError(t, err)
			assert.Empty(t, notifier.statuses())

			if testCase.cancel {
				_, err = svc.Cancel(ctx, run.ID, "alice")
			} else {
				err = svc.Execute(ctx, run.ID, "w-0")
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.expect, notifier.statuses())
			assert.Equal(t, run.ID, notifier.runs[0].ID)
			assert.NotNil(t, notifier.runs[0].CompletedAt)

			_, err = svc.Cancel(ctx, run.ID, "alice")
			assert.ErrorIs(t, err, analysis.ErrNotCancelable)
			assert.Len(t, notifier.statuses(), 1)
		})
	}
}

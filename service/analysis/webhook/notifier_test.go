package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	manalysis "github.com/viant/tradegate/model/analysis"
)

type delivery struct {
	header http.Header
	body   []byte
}

type receiver struct {
	mu         sync.Mutex
	deliveries []delivery
	failFirst  int
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{header: req.Header.Clone(), body: body})
	if len(r.deliveries) <= r.failFirst {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

func newNotifier(config Config) (*Notifier, *[]time.Duration) {
	n := New(config)
	var delays []time.Duration
	n.sleep = func(_ context.Context, delay time.Duration) error {
		delays = append(delays, delay)
		return nil
	}
	return n, &delays
}

func finishedRun(status manalysis.Status) *manalysis.Run {
	completed := time.Date(2024, 6, 3, 14, 5, 0, 0, time.UTC)
	return &manalysis.Run{ID: "run_1", Owner: "ana", Query: "momentum", Status: status, Result: "buy AAPL", StepsExecuted: 3, CompletedAt: &completed}
}

func TestNotifier_NotifyRun(t *testing.T) {
	rcv := &receiver{}
	server := httptest.NewServer(rcv)
	defer server.Close()

	n, _ := newNotifier(Config{Endpoints: []Endpoint{{Name: "ops", URL: server.URL, Secret: "k3y", Headers: map[string]string{"X-Team": "desk"}}}})
	require.NoError(t, n.NotifyRun(context.Background(), finishedRun(manalysis.StatusCompleted)))
	require.Equal(t, 1, rcv.count())

	got := rcv.deliveries[0]
	assert.Equal(t, EventCompleted, got.header.Get(HeaderEvent))
	assert.Equal(t, "run_1", got.header.Get(HeaderRunID))
	assert.Equal(t, "desk", got.header.Get("X-Team"))
	assert.Equal(t, Sign("k3y", got.body), got.header.Get(HeaderSignature))

	payload := &Payload{}
	require.NoError(t, json.Unmarshal(got.body, payload))
	assert.Equal(t, EventCompleted, payload.Event)
	assert.Equal(t, "buy AAPL", payload.Result)
	assert.Equal(t, 3, payload.StepsExecuted)
}

func TestNotifier_Filtering(t *testing.T) {
	testCases := []struct {
		description string
		endpoint    Endpoint
		status      manalysis.Status
		expect      int
	}{
		{description: "all events", endpoint: Endpoint{}, status: manalysis.StatusFailed, expect: 1},
		{description: "subscribed event", endpoint: Endpoint{EventTypes: []string{EventCanceled}}, status: manalysis.StatusCanceled, expect: 1},
		{description: "unsubscribed event", endpoint: Endpoint{EventTypes: []string{EventCompleted}}, status: manalysis.StatusFailed, expect: 0},
		{description: "other owner", endpoint: Endpoint{Owner: "bo"}, status: manalysis.StatusCompleted, expect: 0},
		{description: "same owner", endpoint: Endpoint{Owner: "ana"}, status: manalysis.StatusCompleted, expect: 1},
		{description: "not terminal", endpoint: Endpoint{}, status: manalysis.StatusRunning, expect: 0},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			rcv := &receiver{}
			server := httptest.NewServer(rcv)
			defer server.Close()
			endpoint := testCase.endpoint
			endpoint.URL = server.URL
			n, _ := newNotifier(Config{Endpoints: []Endpoint{endpoint}})
			require.NoError(t, n.NotifyRun(context.Background(), finishedRun(testCase.status)))
			assert.Equal(t, testCase.expect, rcv.count())
			if testCase.expect > 0 {
				assert.Empty(t, rcv.deliveries[0].header.Get(HeaderSignature))
			}
		})
	}
}

func TestNotifier_Retries(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		rcv := &receiver{failFirst: 2}
		server := httptest.NewServer(rcv)
		defer server.Close()
		n, delays := newNotifier(Config{Endpoints: []Endpoint{{URL: server.URL}}, MaxAttempts: 3, RetryDelay: time.Second})
		require.NoError(t, n.NotifyRun(context.Background(), finishedRun(manalysis.StatusCompleted)))
		assert.Equal(t, 3, rcv.count())
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
	})

	t.Run("gives up", func(t *testing.T) {
		rcv := &receiver{failFirst: 10}
		server := httptest.NewServer(rcv)
		defer server.Close()
		n, _ := newNotifier(Config{Endpoints: []Endpoint{{Name: "flaky", URL: server.URL}}, MaxAttempts: 2})
		err := n.NotifyRun(context.Background(), finishedRun(manalysis.StatusFailed))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "flaky")
		assert.Contains(t, err.Error(), "HTTP 502")
		assert.Equal(t, 2, rcv.count())
	})
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Endpoints: []Endpoint{{Name: "missing url"}}}.Validate())
	assert.Error(t, Config{MaxAttempts: -1}.Validate())
}

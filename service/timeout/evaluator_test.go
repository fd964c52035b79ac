package timeout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	mapproval "github.com/viant/tradegate/model/approval"
)

func TestEvaluate(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	type testCase struct {
		name   string
		params Params
		now    time.Time
		expect Result
	}
	testCases := []testCase{
		{name: "none policy never fires", params: Params{Policy: mapproval.TimeoutNone, Since: created, Base: time.Hour}, now: created.Add(100 * time.Hour), expect: None},
		{name: "auto reject before deadline", params: Params{Policy: mapproval.TimeoutAutoReject, Since: created, Base: time.Hour}, now: created.Add(59 * time.Minute), expect: None},
		{name: "auto reject at deadline", params: Params{Policy: mapproval.TimeoutAutoReject, Since: created, Base: time.Hour}, now: created.Add(time.Hour), expect: Fire},
		{name: "auto pause after deadline", params: Params{Policy: mapproval.TimeoutAutoPause, Since: created, Base: time.Hour}, now: created.Add(2 * time.Hour), expect: Fire},
		{name: "escalate first deadline uses base", params: Params{Policy: mapproval.TimeoutEscalate, Since: created, Base: time.Hour, Grace: 15 * time.Minute}, now: created.Add(30 * time.Minute), expect: None},
		{name: "escalated uses grace", params: Params{Policy: mapproval.TimeoutEscalate, Since: created, Base: time.Hour, Grace: 15 * time.Minute, Escalated: true}, now: created.Add(16 * time.Minute), expect: Fire},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, Evaluate(tc.params, tc.now))
			assert.Equal(t, tc.expect, Evaluate(tc.params, tc.now), "evaluation must be repeatable")
		})
	}
}

func TestForRequest_EscalationTimeline(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	request := &mapproval.Request{
		Status:                 mapproval.StatusPending,
		TimeoutPolicy:          mapproval.TimeoutEscalate,
		Timeout:                60 * time.Minute,
		EscalationGraceMinutes: 15,
		CreatedAt:              created,
	}
	at61 := created.Add(61 * time.Minute)
	assert.Equal(t, Fire, Evaluate(ForRequest(request, DefaultBaseTimeout), at61))
	assert.Equal(t, mapproval.StatusEscalated, Transition(request))

	request.Status = mapproval.StatusEscalated
	request.EscalatedAt = &at61
	assert.Equal(t, None, Evaluate(ForRequest(request, DefaultBaseTimeout), created.Add(70*time.Minute)))
	assert.Equal(t, Fire, Evaluate(ForRequest(request, DefaultBaseTimeout), created.Add(77*time.Minute)))
	assert.Equal(t, mapproval.StatusRejected, Transition(request))
}

func TestForRequest_Defaults(t *testing.T) {
	request := &mapproval.Request{TimeoutPolicy: mapproval.TimeoutAutoReject}
	params := ForRequest(request, 0)
	assert.Equal(t, DefaultBaseTimeout, params.Base)
	assert.Equal(t, DefaultEscalationGrace, params.Grace)

	params = ForRequest(request, 10*time.Minute)
	assert.Equal(t, 10*time.Minute, params.Base)
}

func TestTransition(t *testing.T) {
	assert.Equal(t, mapproval.StatusRejected, Transition(&mapproval.Request{TimeoutPolicy: mapproval.TimeoutAutoReject, Status: mapproval.StatusPending}))
	assert.Equal(t, mapproval.StatusExpired, Transition(&mapproval.Request{TimeoutPolicy: mapproval.TimeoutAutoPause, Status: mapproval.StatusPending}))
	assert.Equal(t, mapproval.StatusPending, Transition(&mapproval.Request{TimeoutPolicy: mapproval.TimeoutNone, Status: mapproval.StatusPending}))
}

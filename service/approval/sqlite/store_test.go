package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/tradegate/internal/clock"
	mapproval "github.com/viant/tradegate/model/approval"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/approval"
	"github.com/viant/tradegate/service/approval/sqlite"
	"github.com/viant/tradegate/service/audit"
	auditmem "github.com/viant/tradegate/service/audit/memory"
	"github.com/viant/tradegate/service/dao"
)

func newStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "approvals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	request := &mapproval.Request{ID: "r1", Owner: "olivia", Approvers: []string{"a"}, RequiredQuorum: 1, Status: mapproval.StatusPending, CreatedAt: created, Version: 1}
	require.NoError(t, store.Create(ctx, request))
	assert.ErrorIs(t, store.Create(ctx, request), dao.ErrAlreadyExists)
	require.NoError(t, store.Create(ctx, &mapproval.Request{ID: "r2", Owner: "zed", Status: mapproval.StatusApproved, CreatedAt: created.Add(time.Second), Version: 1}))

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, created, loaded.CreatedAt)
	assert.Equal(t, []string{"a"}, loaded.Approvers)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)

	open, err := store.List(ctx, dao.NewParameter(dao.ParamState, mapproval.OpenStatuses()...))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "r1", open[0].ID)

	owned, err := store.List(ctx, dao.NewParameter(dao.ParamOwner, "zed"))
	require.NoError(t, err)
	require.Len(t, owned, 1)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_UpdateRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Create(ctx, &mapproval.Request{ID: "r1", Owner: "o", Status: mapproval.StatusPending, Version: 1}))

	abort := errors.New("abort")
	_, err := store.Update(ctx, "r1", func(r *mapproval.Request) error {
		r.Status = mapproval.StatusApproved
		return abort
	})
	assert.ErrorIs(t, err, abort)
	loaded, _ := store.Load(ctx, "r1")
	assert.Equal(t, mapproval.StatusPending, loaded.Status)

	updated, err := store.Update(ctx, "r1", func(r *mapproval.Request) error {
		r.Status = mapproval.StatusCanceled
		r.Version++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	loaded, _ = store.Load(ctx, "r1")
	assert.Equal(t, mapproval.StatusCanceled, loaded.Status)

	_, err = store.Update(ctx, "missing", func(r *mapproval.Request) error { return nil })
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

type countingDispatcher struct {
	mu sync.Mutex
	n  int
}

func (d *countingDispatcher) Dispatch(context.Context, *mapproval.Request) error {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
	return nil
}

func TestStore_ConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	auditLog := auditmem.New()
	dispatcher := &countingDispatcher{}
	service := approval.New(newStore(t), auditLog, approval.DefaultConfig(),
		approval.WithClock(clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))),
		approval.WithDispatcher(dispatcher))

	approvers := []string{"a1", "a2", "a3", "a4"}
	request, err := service.Create(ctx, &approval.CreateInput{ActionKind: "place_order", Owner: "o", Approvers: approvers, RequiredQuorum: 3})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, actor := range approvers {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, _ = service.Decide(ctx, &mapproval.DecisionEvent{RequestID: request.ID, Actor: actor, Verdict: mapproval.VerdictApprove, Channel: mapproval.ChannelDashboard})
		}(actor)
	}
	wg.Wait()

	stored, err := service.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, mapproval.StatusApproved, stored.Status)
	assert.Len(t, stored.Decisions, 3)
	assert.Equal(t, 1, dispatcher.n)
	entries, _ := auditLog.List(ctx, request.ID)
	assert.Equal(t, 1, audit.Count(entries, maudit.KindExecutionDispatched))
	assert.Equal(t, 1, audit.Count(entries, maudit.KindQuorumReached))
}

package fs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	manalysis "github.com/viant/tradegate/model/analysis"
	"github.com/viant/tradegate/service/analysis/fs"
	"github.com/viant/tradegate/service/dao"
)

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	baseURL := t.TempDir()
	store := fs.New(baseURL)
	created := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

	run := &manalysis.Run{ID: "run-1", Owner: "ana", Query: "momentum in AAPL", MaxSteps: 5, Status: manalysis.StatusPending, CreatedAt: created}
	require.NoError(t, store.Create(ctx, run))
	assert.ErrorIs(t, store.Create(ctx, run), dao.ErrAlreadyExists)
	require.NoError(t, store.Create(ctx, &manalysis.Run{ID: "run-2", Owner: "bo", Status: manalysis.StatusCompleted, CreatedAt: created.Add(time.Second)}))

	loaded, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "momentum in AAPL", loaded.Query)
	assert.Equal(t, created, loaded.CreatedAt)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)

	testCases := []struct {
		description string
		parameters  []*dao.Parameter
		expect      []string
	}{
		{description: "all", expect: []string{"run-1", "run-2"}},
		{description: "by state", parameters: []*dao.Parameter{dao.NewParameter(dao.ParamState, string(manalysis.StatusPending))}, expect: []string{"run-1"}},
		{description: "by owner", parameters: []*dao.Parameter{dao.NewParameter(dao.ParamOwner, "bo")}, expect: []string{"run-2"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			runs, err := store.List(ctx, testCase.parameters...)
			require.NoError(t, err)
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, testCase.expect, ids)
		})
	}

	reopened, err := fs.New(baseURL).Load(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, manalysis.StatusCompleted, reopened.Status)
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	store := fs.New(t.TempDir())
	require.NoError(t, store.Create(ctx, &manalysis.Run{ID: "run-1", Owner: "ana", Status: manalysis.StatusPending}))

	updated, err := store.Update(ctx, "run-1", func(r *manalysis.Run) error {
		r.Status = manalysis.StatusRunning
		r.ClaimedBy = "worker-1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, manalysis.StatusRunning, updated.Status)

	_, err = store.Update(ctx, "run-1", func(r *manalysis.Run) error {
		r.Status = manalysis.StatusFailed
		return errors.New("abandon")
	})
	assert.Error(t, err)
	loaded, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, manalysis.StatusRunning, loaded.Status)

	_, err = store.Update(ctx, "missing", func(r *manalysis.Run) error { return nil })
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store := fs.New(t.TempDir())
	require.NoError(t, store.Create(ctx, &manalysis.Run{ID: "run-1", Owner: "ana", Status: manalysis.StatusRunning}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "run-1", func(r *manalysis.Run) error {
				r.StepsExecuted++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	loaded, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.StepsExecuted)
}

func TestStore_RejectsUnsafeID(t *testing.T) {
	ctx := context.Background()
	store := fs.New(t.TempDir())
	assert.ErrorIs(t, store.Create(ctx, &manalysis.Run{ID: "../escaped"}), dao.ErrInvalidID)
	_, err := store.Load(ctx, "a/b")
	assert.ErrorIs(t, err, dao.ErrInvalidID)
}

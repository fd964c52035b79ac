package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/audit"
)

func TestLog_AppendAndList(t *testing.T) {
	ctx := context.Background()
	log := New()
	now := time.Now()

	require.NoError(t, log.Append(ctx, maudit.New(maudit.EntityApprovalRequest, "r1", maudit.KindCreated, "alice", now, nil)))
	require.NoError(t, log.Append(ctx, maudit.New(maudit.EntityApprovalRequest, "r1", maudit.KindDecisionRecorded, "bob", now, map[string]interface{}{"verdict": "approve"})))
	require.NoError(t, log.Append(ctx, maudit.New(maudit.EntityApprovalRequest, "r2", maudit.KindCreated, "alice", now, nil)))

	entries, err := log.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []maudit.Kind{maudit.KindCreated, maudit.KindDecisionRecorded}, audit.Kinds(entries))
	assert.Equal(t, 1, entries[0].Sequence)
	assert.Equal(t, 2, entries[1].Sequence)
	assert.NotEmpty(t, entries[0].ID)

	entries[1].Detail["verdict"] = "reject"
	again, _ := log.List(ctx, "r1")
	assert.Equal(t, "approve", again[1].Detail["verdict"])

	assert.ErrorIs(t, log.Append(ctx, &maudit.Entry{EntityID: "r1"}), audit.ErrInvalidEntry)
}

func TestLog_ConcurrentSequence(t *testing.T) {
	ctx := context.Background()
	log := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = log.Append(ctx, maudit.New(maudit.EntityAnalysisRun, "run", maudit.KindRunCreated, "system", time.Now(), nil))
		}()
	}
	wg.Wait()
	entries, _ := log.List(ctx, "run")
	require.Len(t, entries, 20)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Sequence)
	}
}

package memory

import (
	"context"
	"sync"

	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/audit"
)

// Log keeps audit entries in memory, grouped by entity id.
type Log struct {
	mu      sync.RWMutex
	entries map[string][]*maudit.Entry
}

// New creates an empty in-memory audit log.
func New() *Log {
	return &Log{entries: make(map[string][]*maudit.Entry)}
}

// Append stores a copy of entry.
func (l *Log) Append(_ context.Context, entry *maudit.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := audit.Prepare(entry, len(l.entries[entry.EntityID])+1); err != nil {
		return err
	}
	l.entries[entry.EntityID] = append(l.entries[entry.EntityID], entry.Clone())
	return nil
}

// List returns copies of the entries recorded for entityID.
func (l *Log) List(_ context.Context, entityID string) ([]*maudit.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src := l.entries[entityID]
	ret := make([]*maudit.Entry, len(src))
	for i, e := range src {
		ret[i] = e.Clone()
	}
	return ret, nil
}

var _ audit.Log = (*Log)(nil)

// Package fs stores audit entries as individual JSON objects on any viant/afs
// supported storage (local file system, mem://, s3://, gs://).
//
// Layout: <baseURL>/<entityID>/<sequence>.json. An entry is written once and
// never rewritten.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/tradegate/internal/idgen"
	"github.com/viant/tradegate/internal/keylock"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/audit"
)

// Log implements audit.Log on top of afs.
type Log struct {
	baseURL string
	fs      afs.Service
	locks   *keylock.Locker

	mu   sync.Mutex
	next map[string]int
}

// New creates a Log rooted at baseURL.
func New(baseURL string) *Log {
	return &Log{
		baseURL: strings.TrimRight(baseURL, "/"),
		fs:      afs.New(),
		locks:   keylock.New(),
		next:    make(map[string]int),
	}
}

// Append writes entry to <baseURL>/<entityID>/<sequence>.json.
func (l *Log) Append(ctx context.Context, entry *maudit.Entry) error {
	if entry == nil || !idgen.IsSafe(entry.EntityID) {
		return audit.ErrInvalidEntry
	}
	unlock := l.locks.Lock(entry.EntityID)
	defer unlock()

	sequence, err := l.nextSequence(ctx, entry.EntityID)
	if err != nil {
		return err
	}
	if err = audit.Prepare(entry, sequence); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	location := l.entryURL(entry.EntityID, sequence)
	if exists, _ := l.fs.Exists(ctx, location); exists {
		return fmt.Errorf("audit entry %s already exists", location)
	}
	if err = l.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write audit entry %s: %w", location, err)
	}
	l.mu.Lock()
	l.next[entry.EntityID] = sequence + 1
	l.mu.Unlock()
	return nil
}

// List reads all entries of entityID ordered by sequence.
func (l *Log) List(ctx context.Context, entityID string) ([]*maudit.Entry, error) {
	if !idgen.IsSafe(entityID) {
		return nil, fmt.Errorf("%w: entity id %q", audit.ErrInvalidEntry, entityID)
	}
	dir := url.Join(l.baseURL, entityID)
	exists, err := l.fs.Exists(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to check audit location %s: %w", dir, err)
	}
	if !exists {
		return []*maudit.Entry{}, nil
	}
	objects, err := l.fs.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries %s: %w", dir, err)
	}
	ret := make([]*maudit.Entry, 0, len(objects))
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := l.fs.Download(ctx, object)
		if err != nil {
			return nil, fmt.Errorf("failed to read audit entry %s: %w", object.URL(), err)
		}
		entry := &maudit.Entry{}
		if err = json.Unmarshal(data, entry); err != nil {
			return nil, fmt.Errorf("failed to decode audit entry %s: %w", object.URL(), err)
		}
		ret = append(ret, entry)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Sequence < ret[j].Sequence })
	return ret, nil
}

func (l *Log) nextSequence(ctx context.Context, entityID string) (int, error) {
	l.mu.Lock()
	sequence, ok := l.next[entityID]
	l.mu.Unlock()
	if ok {
		return sequence, nil
	}
	existing, err := l.List(ctx, entityID)
	if err != nil {
		return 0, err
	}
	if n := len(existing); n > 0 {
		return existing[n-1].Sequence + 1, nil
	}
	return 1, nil
}

func (l *Log) entryURL(entityID string, sequence int) string {
	return url.Join(l.baseURL, entityID, fmt.Sprintf("%010d.json", sequence))
}

var _ audit.Log = (*Log)(nil)

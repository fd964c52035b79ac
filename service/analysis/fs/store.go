// Package fs persists analysis runs as JSON objects on any viant/afs
// supported storage, one <baseURL>/<runID>.json per run.
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
	manalysis "github.com/viant/tradegate/model/analysis"
	"github.com/viant/tradegate/service/analysis"
	"github.com/viant/tradegate/service/dao"
)

// Store implements analysis.Store on top of afs. A base URL must be owned by
// one process at a time.
type Store struct {
	baseURL string
	fs      afs.Service
	locks   *keylock.Locker
	mu      sync.Mutex
}

// New creates a Store rooted at baseURL.
func New(baseURL string) *Store {
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		fs:      afs.New(),
		locks:   keylock.New(),
	}
}

// Create stores run when its id is unused.
func (s *Store) Create(ctx context.Context, run *manalysis.Run) error {
	if run == nil {
		return dao.ErrNilEntity
	}
	if !idgen.IsSafe(run.ID) {
		return dao.ErrInvalidID
	}
	unlock := s.locks.Lock(run.ID)
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exists, _ := s.fs.Exists(ctx, s.runURL(run.ID)); exists {
		return dao.ErrAlreadyExists
	}
	return s.save(ctx, run)
}

// Load returns the run stored under id.
func (s *Store) Load(ctx context.Context, id string) (*manalysis.Run, error) {
	if !idgen.IsSafe(id) {
		return nil, dao.ErrInvalidID
	}
	location := s.runURL(id)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check run %s: %w", id, err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	run := &manalysis.Run{}
	if err = json.Unmarshal(data, run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return run, nil
}

// List returns the runs accepted by parameters ordered by creation time.
func (s *Store) List(ctx context.Context, parameters ...*dao.Parameter) ([]*manalysis.Run, error) {
	if exists, _ := s.fs.Exists(ctx, s.baseURL); !exists {
		return []*manalysis.Run{}, nil
	}
	objects, err := s.fs.List(ctx, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs %s: %w", s.baseURL, err)
	}
	ret := make([]*manalysis.Run, 0, len(objects))
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			return nil, fmt.Errorf("failed to read run %s: %w", object.URL(), err)
		}
		run := &manalysis.Run{}
		if err = json.Unmarshal(data, run); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", object.URL(), err)
		}
		if analysis.MatchRun(run, parameters) {
			ret = append(ret, run)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].CreatedAt.Before(ret[j].CreatedAt) })
	return ret, nil
}

// Update applies fn to the stored run and writes it back when fn succeeds.
// Updates of one run are serialized.
func (s *Store) Update(ctx context.Context, id string, fn dao.UpdateFunc[manalysis.Run]) (*manalysis.Run, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = fn(run); err != nil {
		return nil, err
	}
	run.ID = id
	if err = s.save(ctx, run); err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

func (s *Store) save(ctx context.Context, run *manalysis.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}
	if err = s.fs.Upload(ctx, s.runURL(run.ID), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) runURL(id string) string {
	return url.Join(s.baseURL, id+".json")
}

var _ analysis.Store = (*Store)(nil)

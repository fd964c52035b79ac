package store

import (
	"context"
	"sync"

	"github.com/viant/tradegate/internal/keylock"
	"github.com/viant/tradegate/service/dao"
)

// MemoryStore is a generic in-memory implementation of dao.Store.
// It keeps entities of type *T mapped by a comparable key K obtained from the
// keySelector function.
//
// Values handed in and out are copied with the configured cloner so callers
// never share memory with the store; Update runs its callback under a lock
// scoped to the key, never a store-wide one.
type MemoryStore[K comparable, T any] struct {
	mu          sync.RWMutex
	records     map[K]*T
	keySelector func(*T) K
	clone       func(*T) *T
	matches     func(*T, []*dao.Parameter) bool
	locks       *keylock.Locker
	keyString   func(K) string
}

// Option customises a MemoryStore.
type Option[K comparable, T any] func(*MemoryStore[K, T])

// WithCloner sets the deep copy function. Without it values are copied
// shallowly.
func WithCloner[K comparable, T any](fn func(*T) *T) Option[K, T] {
	return func(s *MemoryStore[K, T]) { s.clone = fn }
}

// WithMatcher sets the List filter.
func WithMatcher[K comparable, T any](fn func(*T, []*dao.Parameter) bool) Option[K, T] {
	return func(s *MemoryStore[K, T]) { s.matches = fn }
}

// NewMemoryStore creates a new MemoryStore. keyString renders a key for the
// per-key lock table.
func NewMemoryStore[K comparable, T any](keySelector func(*T) K, keyString func(K) string, options ...Option[K, T]) *MemoryStore[K, T] {
	ret := &MemoryStore[K, T]{
		records:     make(map[K]*T),
		keySelector: keySelector,
		keyString:   keyString,
		locks:       keylock.New(),
		clone: func(t *T) *T {
			c := *t
			return &c
		},
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Create stores v only when its key is unused.
func (s *MemoryStore[K, T]) Create(_ context.Context, v *T) error {
	if v == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return dao.ErrAlreadyExists
	}
	s.records[key] = s.clone(v)
	return nil
}

// Save stores or overwrites a record.
func (s *MemoryStore[K, T]) Save(_ context.Context, v *T) error {
	if v == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = s.clone(v)
	return nil
}

// Load returns a copy of the record stored under key.
func (s *MemoryStore[K, T]) Load(_ context.Context, key K) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return s.clone(v), nil
}

// Delete removes a record.
func (s *MemoryStore[K, T]) Delete(_ context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// List returns copies of the stored records accepted by the matcher.
func (s *MemoryStore[K, T]) List(_ context.Context, parameters ...*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*T, 0, len(s.records))
	for _, v := range s.records {
		if s.matches != nil && !s.matches(v, parameters) {
			continue
		}
		out = append(out, s.clone(v))
	}
	return out, nil
}

// Update loads the record, applies fn to a copy and stores the copy when fn
// succeeds. Updates of one key are serialized.
func (s *MemoryStore[K, T]) Update(ctx context.Context, key K, fn dao.UpdateFunc[T]) (*T, error) {
	unlock := s.locks.Lock(s.keyString(key))
	defer unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err = fn(current); err != nil {
		return nil, err
	}
	if err = s.Save(ctx, current); err != nil {
		return nil, err
	}
	return s.clone(current), nil
}

var _ dao.Store[string, struct{ ID string }] = (*MemoryStore[string, struct{ ID string }])(nil)

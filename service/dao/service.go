package dao

import (
	"context"
)

// Service is a generic keyed repository.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}

// UpdateFunc mutates the supplied copy of an entity. Returning a non-nil error
// abandons the update; the stored entity stays untouched.
type UpdateFunc[T any] func(t *T) error

// Updater performs read-modify-write cycles serialized per key. Two Update
// calls on the same key never interleave, calls on different keys do not
// block each other.
type Updater[K comparable, T any] interface {
	Update(ctx context.Context, id K, fn UpdateFunc[T]) (*T, error)
}

// Store combines Service and Updater.
type Store[K comparable, T any] interface {
	Service[K, T]
	Updater[K, T]
}

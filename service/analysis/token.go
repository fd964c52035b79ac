package analysis

import "sync"

// CancelToken carries a cooperative cancellation request to a run loop.
type CancelToken struct {
	done chan struct{}
	once sync.Once
}

// NewCancelToken creates an untripped token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel trips the token; repeated calls are no-ops.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Done is closed once the token is tripped.
func (t *CancelToken) Done() <-chan struct{} { return t.done }

// Canceled reports whether Cancel was called.
func (t *CancelToken) Canceled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns ErrRunCanceled once tripped.
func (t *CancelToken) Err() error {
	if t.Canceled() {
		return ErrRunCanceled
	}
	return nil
}

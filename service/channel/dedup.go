package channel

import (
	"container/list"
	"sync"
)

// DefaultDedupCapacity bounds remembered delivery keys.
const DefaultDedupCapacity = 10000

// Dedup remembers the most recent delivery keys; the oldest key is evicted
// once capacity is reached.
type Dedup struct {
	mux      sync.Mutex
	capacity int
	order    *list.List
	seen     map[string]*list.Element
}

// NewDedup creates a set holding up to capacity keys.
func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Dedup{capacity: capacity, order: list.New(), seen: map[string]*list.Element{}}
}

// Mark records key and reports whether it was new.
func (d *Dedup) Mark(key string) bool {
	d.mux.Lock()
	defer d.mux.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = d.order.PushBack(key)
	if d.order.Len() > d.capacity {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}
	return true
}

// Forget drops key so a failed delivery can be retried.
func (d *Dedup) Forget(key string) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if e, ok := d.seen[key]; ok {
		d.order.Remove(e)
		delete(d.seen, key)
	}
}

// Len returns the number of remembered keys.
func (d *Dedup) Len() int {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.order.Len()
}

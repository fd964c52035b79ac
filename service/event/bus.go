// Package event provides in-process change notifications keyed by topic.
package event

import "sync"

// Bus wakes watchers of a topic. Signals coalesce: a watcher that has not
// drained its channel sees a single pending wake-up however many
// notifications arrived meanwhile.
type Bus struct {
	mux      sync.Mutex
	watchers map[string]map[*Watcher]struct{}
}

// Watcher receives wake-ups for one topic on C.
type Watcher struct {
	C     <-chan struct{}
	ch    chan struct{}
	topic string
	bus   *Bus
	once  sync.Once
}

// NewBus creates a bus.
func NewBus() *Bus {
	return &Bus{watchers: map[string]map[*Watcher]struct{}{}}
}

// Watch registers a watcher on topic. Callers must Stop it.
func (b *Bus) Watch(topic string) *Watcher {
	ch := make(chan struct{}, 1)
	w := &Watcher{C: ch, ch: ch, topic: topic, bus: b}
	b.mux.Lock()
	defer b.mux.Unlock()
	set, ok := b.watchers[topic]
	if !ok {
		set = map[*Watcher]struct{}{}
		b.watchers[topic] = set
	}
	set[w] = struct{}{}
	return w
}

// Notify wakes every watcher of topic without blocking.
func (b *Bus) Notify(topic string) {
	b.mux.Lock()
	defer b.mux.Unlock()
	for w := range b.watchers[topic] {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of watchers of topic.
func (b *Bus) Len(topic string) int {
	b.mux.Lock()
	defer b.mux.Unlock()
	return len(b.watchers[topic])
}

// Stop unregisters the watcher.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		w.bus.mux.Lock()
		defer w.bus.mux.Unlock()
		set := w.bus.watchers[w.topic]
		delete(set, w)
		if len(set) == 0 {
			delete(w.bus.watchers, w.topic)
		}
	})
}

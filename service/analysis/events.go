package analysis

import (
	"context"
	"iter"
	"sync"
	"time"

	manalysis "github.com/viant/tradegate/model/analysis"
)

// eventLog keeps the append-only events of every run. Appends for one run
// happen under that run's store update, which orders them.
type eventLog struct {
	mux   sync.RWMutex
	byRun map[string][]*manalysis.Event
}

func newEventLog() *eventLog {
	return &eventLog{byRun: map[string][]*manalysis.Event{}}
}

func (l *eventLog) append(runID, eventType string, payload map[string]interface{}, at time.Time) error {
	l.mux.Lock()
	defer l.mux.Unlock()
	events := l.byRun[runID]
	l.byRun[runID] = append(events, &manalysis.Event{
		RunID:     runID,
		Sequence:  len(events) + 1,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: at,
	})
	return nil
}

// since returns copies of the events with Sequence > sequence.
func (l *eventLog) since(runID string, sequence int) []*manalysis.Event {
	l.mux.RLock()
	defer l.mux.RUnlock()
	events := l.byRun[runID]
	if sequence < 0 {
		sequence = 0
	}
	if sequence >= len(events) {
		return nil
	}
	out := make([]*manalysis.Event, 0, len(events)-sequence)
	for _, e := range events[sequence:] {
		c := *e
		out = append(out, &c)
	}
	return out
}

func (l *eventLog) latest(runID string) *manalysis.Event {
	l.mux.RLock()
	defer l.mux.RUnlock()
	events := l.byRun[runID]
	if len(events) == 0 {
		return nil
	}
	c := *events[len(events)-1]
	return &c
}

// Events returns the run events after sinceSequence in emission order.
func (s *Service) Events(ctx context.Context, runID string, sinceSequence int) ([]*manalysis.Event, error) {
	if _, err := s.store.Load(ctx, runID); err != nil {
		return nil, err
	}
	return s.events.since(runID, sinceSequence), nil
}

// Stream returns a finite, restartable sequence of the events recorded so
// far after sinceSequence. Every iteration reads the log afresh.
func (s *Service) Stream(ctx context.Context, runID string, sinceSequence int) (iter.Seq[*manalysis.Event], error) {
	if _, err := s.store.Load(ctx, runID); err != nil {
		return nil, err
	}
	return func(yield func(*manalysis.Event) bool) {
		for _, e := range s.events.since(runID, sinceSequence) {
			if !yield(e) {
				return
			}
		}
	}, nil
}

// Subscribe delivers events after sinceSequence as they are appended. The
// channel closes once the run is terminal and every event was delivered, or
// when ctx is done.
func (s *Service) Subscribe(ctx context.Context, runID string, sinceSequence int) (<-chan *manalysis.Event, error) {
	if _, err := s.store.Load(ctx, runID); err != nil {
		return nil, err
	}
	watcher := s.bus.Watch(runID)
	out := make(chan *manalysis.Event)
	go func() {
		defer close(out)
		defer watcher.Stop()
		last := sinceSequence
		for {
			run, err := s.store.Load(ctx, runID)
			if err != nil {
				s.logger.Warn("subscription stopped", "run_id", runID, "error", err)
				return
			}
			for _, e := range s.events.since(runID, last) {
				select {
				case out <- e:
					last = e.Sequence
				case <-ctx.Done():
					return
				}
			}
			// status was read before the events, so nothing follows a terminal read
			if run.Status.IsTerminal() {
				return
			}
			select {
			case <-watcher.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

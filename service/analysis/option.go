package analysis

import (
	"log/slog"

	"github.com/viant/tradegate/internal/clock"
	"github.com/viant/tradegate/service/messaging"
)

// Option customises the Service.
type Option func(*Service)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithQueue replaces the in-memory run queue.
func WithQueue(queue messaging.Queue[Job]) Option {
	return func(s *Service) { s.queue = queue }
}

// WithRunNotifiers adds notifiers invoked once per run on its terminal
// transition.
func WithRunNotifiers(notifiers ...RunNotifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, notifiers...) }
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithWorkerName sets the prefix recorded as ClaimedBy.
func WithWorkerName(name string) Option {
	return func(s *Service) { s.workerName = name }
}

package approval

import (
	"log/slog"

	"github.com/viant/tradegate/internal/clock"
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

// WithDispatcher sets the component receiving approved requests.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithNotifiers adds channel notifiers invoked for every new request.
func WithNotifiers(notifiers ...Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, notifiers...) }
}

// WithAgentPauser sets the hook called when auto_pause expires a request.
func WithAgentPauser(p AgentPauser) Option {
	return func(s *Service) { s.pauser = p }
}

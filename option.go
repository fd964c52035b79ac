package tradegate

import (
	"log/slog"

	"github.com/viant/tradegate/internal/clock"
	"github.com/viant/tradegate/service/analysis"
	"github.com/viant/tradegate/service/approval"
	"github.com/viant/tradegate/service/audit"
	"github.com/viant/tradegate/service/channel/telegram"
	"github.com/viant/tradegate/service/execution"
	"github.com/viant/tradegate/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises the Service.
type Option func(s *Service)

// WithConfig sets the configuration; DefaultConfig is used otherwise.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock injects the time source shared by every component.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithApprovalStore overrides the store selected by Config.Store.
func WithApprovalStore(store approval.Store) Option {
	return func(s *Service) { s.approvalStore = store }
}

// WithRunStore overrides the in-memory analysis run store.
func WithRunStore(store analysis.Store) Option {
	return func(s *Service) { s.runStore = store }
}

// WithAuditLog overrides the audit log selected by Config.Audit.
func WithAuditLog(log audit.Log) Option {
	return func(s *Service) { s.auditLog = log }
}

// WithResearcher sets the agent research capability executing analysis runs.
// Without it runs are tracked but never executed by this process.
func WithResearcher(researcher analysis.Researcher) Option {
	return func(s *Service) { s.researcher = researcher }
}

// WithRunNotifiers adds notifiers told about every run reaching a terminal
// status, next to the configured run webhooks.
func WithRunNotifiers(notifiers ...analysis.RunNotifier) Option {
	return func(s *Service) { s.runNotifiers = append(s.runNotifiers, notifiers...) }
}

// WithBroker sets the order execution capability; the paper broker is used otherwise.
func WithBroker(broker execution.Broker) Option {
	return func(s *Service) { s.broker = broker }
}

// WithRiskGate overrides the limits based risk engine built from Config.Risk.
func WithRiskGate(gate execution.RiskGate) Option {
	return func(s *Service) { s.riskGate = gate }
}

// WithAccountSource sets where the risk gate reads account state from.
func WithAccountSource(source execution.AccountSource) Option {
	return func(s *Service) { s.accounts = source }
}

// WithMessenger sets the Telegram Bot API client.
func WithMessenger(messenger telegram.Messenger) Option {
	return func(s *Service) { s.messenger = messenger }
}

// WithLinks sets the chat to actor link store.
func WithLinks(links telegram.LinkStore) Option {
	return func(s *Service) { s.links = links }
}

// WithAgentPauser sets the hook called when a request expires under auto_pause.
func WithAgentPauser(pauser approval.AgentPauser) Option {
	return func(s *Service) { s.pauser = pauser }
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The first
// successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		if err := tracing.Init(serviceName, serviceVersion, outputFile); err != nil {
			s.initErrs = append(s.initErrs, err)
		}
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter, for
// example OTLP, Jaeger or Zipkin.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		if err := tracing.InitWithExporter(serviceName, serviceVersion, exporter); err != nil {
			s.initErrs = append(s.initErrs, err)
		}
	}
}

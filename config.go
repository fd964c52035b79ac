package tradegate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viant/afs"
	"github.com/viant/tradegate/policy"
	"github.com/viant/tradegate/service/analysis"
	"github.com/viant/tradegate/service/analysis/webhook"
	"github.com/viant/tradegate/service/approval"
	"github.com/viant/tradegate/service/channel"
	"github.com/viant/tradegate/service/execution"
	"github.com/viant/tradegate/service/execution/risk"
	"github.com/viant/tradegate/service/meta"
	"github.com/viant/tradegate/service/timeout"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverFS     = "fs"
)

// Config is a serialisable representation of the engine configuration. It can
// be populated from JSON, YAML or environment variables. Zero values of nested
// sections inherit their package defaults.
type Config struct {
	Approval  approval.Config  `json:"approval" yaml:"approval"`
	Timeout   timeout.Config   `json:"timeout" yaml:"timeout"`
	Execution execution.Config `json:"execution" yaml:"execution"`
	Analysis  analysis.Config  `json:"analysis" yaml:"analysis"`
	Telegram  TelegramConfig   `json:"telegram" yaml:"telegram"`
	Policy    policy.Config    `json:"policy" yaml:"policy"`
	Risk      risk.Limits      `json:"risk" yaml:"risk"`
	Store     StoreConfig      `json:"store" yaml:"store"`
	Audit     AuditConfig      `json:"audit" yaml:"audit"`
	Runs      RunStoreConfig   `json:"runs" yaml:"runs"`
	Queue     QueueConfig      `json:"queue" yaml:"queue"`
	Tracing   TracingConfig    `json:"tracing" yaml:"tracing"`

	// RunWebhooks receive runs reaching a terminal status.
	RunWebhooks webhook.Config `json:"runWebhooks" yaml:"runWebhooks"`
}

// TelegramConfig configures the Telegram decision channel.
type TelegramConfig struct {
	// WebhookSecret is compared with the X-Telegram-Bot-Api-Secret-Token
	// header; an empty secret rejects every delivery.
	WebhookSecret  string `json:"webhookSecret" yaml:"webhookSecret"`
	DedupeCapacity int    `json:"dedupeCapacity" yaml:"dedupeCapacity"`
}

// StoreConfig selects the approval request store.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// AuditConfig selects the audit log.
type AuditConfig struct {
	Driver  string `json:"driver" yaml:"driver"`
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
}

// RunStoreConfig selects the analysis run store.
type RunStoreConfig struct {
	Driver  string `json:"driver" yaml:"driver"`
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
}

// QueueConfig selects the work queues of the execution dispatcher and the
// analysis workers. The fs driver keeps them under <baseURL>/execution and
// <baseURL>/analysis so queued work survives a restart.
type QueueConfig struct {
	Driver     string        `json:"driver" yaml:"driver"`
	BaseURL    string        `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	MaxRetries int           `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	RetryDelay time.Duration `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty"`
}

// TracingConfig enables OpenTelemetry spans.
type TracingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Service string `json:"service,omitempty" yaml:"service,omitempty"`
	// Output is a file path; empty writes spans to stdout.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// DefaultConfig returns a Config populated with the package defaults. Callers
// may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Approval:  approval.DefaultConfig(),
		Timeout:   timeout.DefaultConfig(),
		Execution: execution.DefaultConfig(),
		Analysis:  analysis.DefaultConfig(),
		Telegram:  TelegramConfig{DedupeCapacity: channel.DefaultDedupCapacity},
		Policy:    policy.Config{Mode: policy.ModeAlways, Threshold: policy.DefaultThreshold},
		Store:     StoreConfig{Driver: DriverMemory},
		Audit:     AuditConfig{Driver: DriverMemory},
		Runs:      RunStoreConfig{Driver: DriverMemory},
		Queue:     QueueConfig{Driver: DriverMemory},
		Tracing:   TracingConfig{Service: "tradegate"},

		RunWebhooks: webhook.DefaultConfig(),
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	errs = append(errs, c.Approval.Validate(), c.Execution.Validate(), c.Analysis.Validate(), c.RunWebhooks.Validate(), c.Policy.Validate())
	if c.Timeout.Interval < 0 {
		errs = append(errs, fmt.Errorf("timeout.interval must be >= 0"))
	}
	if c.Telegram.DedupeCapacity < 0 {
		errs = append(errs, fmt.Errorf("telegram.dedupeCapacity must be >= 0"))
	}
	switch c.Store.Driver {
	case "", DriverMemory:
	case DriverSQLite:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	errs = append(errs,
		validateLocation("audit", c.Audit.Driver, c.Audit.BaseURL),
		validateLocation("runs", c.Runs.Driver, c.Runs.BaseURL),
		validateLocation("queue", c.Queue.Driver, c.Queue.BaseURL))
	if c.Queue.MaxRetries < 0 || c.Queue.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("queue.maxRetries and queue.retryDelay must be >= 0"))
	}
	return errors.Join(errs...)
}

// validateLocation checks a section that is either in memory or on an afs
// base URL.
func validateLocation(section, driver, baseURL string) error {
	switch driver {
	case "", DriverMemory:
		return nil
	case DriverFS:
		if baseURL == "" {
			return fmt.Errorf("%s.baseURL is required for the fs driver", section)
		}
		return nil
	default:
		return fmt.Errorf("%s.driver %q is not supported", section, driver)
	}
}

// LoadConfig reads a YAML or JSON config from any afs supported URL on top of
// DefaultConfig. ${VAR} and ${env.VAR} references are expanded from the environment.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	cfg := DefaultConfig()
	if err := meta.New(afs.New(), "").Load(ctx, URL, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

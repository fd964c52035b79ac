// Package webhook delivers terminal analysis runs to HTTP callback endpoints.
//
// Every delivery is a JSON POST carrying the event type and run id in headers.
// Endpoints with a secret also receive an HMAC-SHA256 signature of the body.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	manalysis "github.com/viant/tradegate/model/analysis"
	"github.com/viant/tradegate/service/analysis"
	"github.com/viant/tradegate/tracing"
)

// Event types.
const (
	EventCompleted = "analysis_run.completed"
	EventFailed    = "analysis_run.failed"
	EventCanceled  = "analysis_run.canceled"
)

// Delivery headers.
const (
	HeaderEvent     = "X-Tradegate-Event"
	HeaderRunID     = "X-Tradegate-Run-Id"
	HeaderSignature = "X-Tradegate-Signature"
)

// Endpoint is one callback receiver.
type Endpoint struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
	// Owner limits deliveries to runs of one owner; empty receives all runs.
	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`
	// EventTypes limits deliveries; empty receives every event type.
	EventTypes []string          `json:"eventTypes,omitempty" yaml:"eventTypes,omitempty"`
	Secret     string            `json:"secret,omitempty" yaml:"secret,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Config configures the notifier.
type Config struct {
	Endpoints   []Endpoint    `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxAttempts int           `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	RetryDelay  time.Duration `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty"`
}

// DefaultConfig returns a configuration without endpoints.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second, MaxAttempts: 3, RetryDelay: 30 * time.Second}
}

// Validate reports endpoints that cannot be delivered to.
func (c Config) Validate() error {
	var errs []error
	for i, endpoint := range c.Endpoints {
		if endpoint.URL == "" {
			errs = append(errs, fmt.Errorf("runWebhooks.endpoints[%d]: url is required", i))
		}
	}
	if c.MaxAttempts < 0 || c.Timeout < 0 || c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("runWebhooks: maxAttempts, timeout and retryDelay must be >= 0"))
	}
	return errors.Join(errs...)
}

// Payload is the delivered body.
type Payload struct {
	Event         string           `json:"event"`
	RunID         string           `json:"runId"`
	Owner         string           `json:"owner"`
	AgentID       string           `json:"agentId,omitempty"`
	Query         string           `json:"query"`
	Status        manalysis.Status `json:"status"`
	Result        string           `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
	StepsExecuted int              `json:"stepsExecuted"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
}

// Notifier implements analysis.RunNotifier.
type Notifier struct {
	config Config
	client *http.Client
	sleep  func(ctx context.Context, delay time.Duration) error
}

// Option customises a Notifier.
type Option func(*Notifier)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) { n.client = client }
}

// New creates a notifier. Zero config values take DefaultConfig values.
func New(config Config, options ...Option) *Notifier {
	defaults := DefaultConfig()
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	ret := &Notifier{config: config, sleep: sleepContext}
	for _, option := range options {
		option(ret)
	}
	if ret.client == nil {
		ret.client = &http.Client{Timeout: config.Timeout}
	}
	return ret
}

// EventType maps a terminal status to its event type.
func EventType(status manalysis.Status) (string, bool) {
	switch status {
	case manalysis.StatusCompleted:
		return EventCompleted, true
	case manalysis.StatusFailed:
		return EventFailed, true
	case manalysis.StatusCanceled:
		return EventCanceled, true
	}
	return "", false
}

// Sign returns the signature header value of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// NotifyRun posts run to every endpoint subscribed to its owner and event.
func (n *Notifier) NotifyRun(ctx context.Context, run *manalysis.Run) error {
	event, ok := EventType(run.Status)
	if !ok {
		return nil
	}
	body, err := json.Marshal(&Payload{
		Event:         event,
		RunID:         run.ID,
		Owner:         run.Owner,
		AgentID:       run.AgentID,
		Query:         run.Query,
		Status:        run.Status,
		Result:        run.Result,
		Error:         run.Error,
		StepsExecuted: run.StepsExecuted,
		CompletedAt:   run.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	var errs []error
	for i := range n.config.Endpoints {
		endpoint := &n.config.Endpoints[i]
		if !endpoint.accepts(run.Owner, event) {
			continue
		}
		if err = n.deliver(ctx, endpoint, event, run.ID, body); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", endpoint.label(), err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) deliver(ctx context.Context, endpoint *Endpoint, event, runID string, body []byte) error {
	var lastErr error
	for attempt := 1; attempt <= n.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := n.sleep(ctx, n.config.RetryDelay*time.Duration(1<<(attempt-2))); err != nil {
				return err
			}
		}
		if lastErr = n.post(ctx, endpoint, event, runID, body, attempt); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", n.config.MaxAttempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, endpoint *Endpoint, event, runID string, body []byte, attempt int) (err error) {
	ctx, span := tracing.StartSpan(ctx, "analysis.webhook", "CLIENT")
	span.WithAttributes(map[string]string{"run.id": runID, "event": event, "endpoint": endpoint.label(), "attempt": fmt.Sprint(attempt)})
	defer func() { tracing.EndSpan(span, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range endpoint.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderRunID, runID)
	if endpoint.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(endpoint.Secret, body))
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	span.SetStatusFromHTTPCode(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (e *Endpoint) accepts(owner, event string) bool {
	if e.Owner != "" && e.Owner != owner {
		return false
	}
	return len(e.EventTypes) == 0 || slices.Contains(e.EventTypes, event)
}

func (e *Endpoint) label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.URL
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ analysis.RunNotifier = (*Notifier)(nil)

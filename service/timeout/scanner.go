package timeout

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/viant/tradegate/internal/clock"
	mapproval "github.com/viant/tradegate/model/approval"
)

// Target is the approval state machine as seen by the scanner.
type Target interface {
	// ListOpen returns pending and escalated requests.
	ListOpen(ctx context.Context) ([]*mapproval.Request, error)
	// ApplyTimeout re-evaluates the request under its own serialization and
	// transitions it when the timeout fires. It reports the resulting status
	// and whether this call moved it.
	ApplyTimeout(ctx context.Context, id string) (mapproval.Status, bool, error)
}

// Config represents scanner configuration.
type Config struct {
	// Interval bounds how stale an expired request can get before it is acted on.
	Interval time.Duration `json:"interval" yaml:"interval"`
	// BatchSize caps the requests handled per scan, earliest deadline first.
	BatchSize int `json:"batchSize" yaml:"batchSize"`
	// BaseTimeout is the system wide deadline for requests without an override.
	BaseTimeout time.Duration `json:"baseTimeout" yaml:"baseTimeout"`
}

// DefaultConfig returns the default scanner configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		BatchSize:   200,
		BaseTimeout: DefaultBaseTimeout,
	}
}

// Summary counts the outcome of one scan.
type Summary struct {
	Scanned   int
	Due       int
	Escalated int
	Rejected  int
	Expired   int
	Skipped   int
	Failed    int
}

// Scanner periodically applies timeout policies to open requests.
type Scanner struct {
	config     Config
	target     Target
	clock      clock.Clock
	logger     *slog.Logger
	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// NewScanner creates a scanner.
func NewScanner(target Target, clk clock.Clock, logger *slog.Logger, config Config) *Scanner {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.BaseTimeout <= 0 {
		config.BaseTimeout = defaults.BaseTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		config:     config,
		target:     target,
		clock:      clk,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Start runs the scan loop until ctx is done or Shutdown is called.
func (s *Scanner) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil {
				s.logger.Error("timeout scan failed", "error", err)
			}
		}
	}
}

// Shutdown stops the scan loop.
func (s *Scanner) Shutdown() {
	s.closeOnce.Do(func() { close(s.shutdownCh) })
}

type dueRequest struct {
	id       string
	deadline time.Time
}

// Scan evaluates every open request once and applies the firing ones.
func (s *Scanner) Scan(ctx context.Context) (*Summary, error) {
	requests, err := s.target.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	summary := &Summary{Scanned: len(requests)}
	var due []dueRequest
	for _, request := range requests {
		if request.Status.IsTerminal() {
			continue
		}
		params := ForRequest(request, s.config.BaseTimeout)
		if Evaluate(params, now) != Fire {
			continue
		}
		deadline, _ := params.Deadline()
		due = append(due, dueRequest{id: request.ID, deadline: deadline})
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	if len(due) > s.config.BatchSize {
		due = due[:s.config.BatchSize]
	}
	summary.Due = len(due)

	for _, item := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		status, moved, err := s.target.ApplyTimeout(ctx, item.id)
		if err != nil {
			s.logger.Error("failed to apply timeout policy", "request_id", item.id, "moved", moved, "error", err)
			if !moved {
				summary.Failed++
				continue
			}
		}
		if !moved {
			summary.Skipped++
			continue
		}
		switch status {
		case mapproval.StatusEscalated:
			summary.Escalated++
		case mapproval.StatusRejected:
			summary.Rejected++
		case mapproval.StatusExpired:
			summary.Expired++
		}
	}
	if summary.Due > 0 {
		s.logger.Info("timeout policy applied",
			"scanned", summary.Scanned, "due", summary.Due, "escalated", summary.Escalated,
			"rejected", summary.Rejected, "expired", summary.Expired, "skipped", summary.Skipped, "failed", summary.Failed)
	}
	return summary, nil
}

package execution

import (
	"fmt"
	"math"
	"time"
)

// Config represents dispatcher configuration
type Config struct {
	// Workers is the number of goroutines consuming jobs
	Workers int `json:"workers" yaml:"workers"`
	// MaxAttempts bounds broker submissions per job
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`
	// BaseDelay is the delay after the first failed attempt
	BaseDelay time.Duration `json:"baseDelay" yaml:"baseDelay"`
	// Multiplier grows the delay per attempt
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
	// MaxDelay caps a single delay
	MaxDelay time.Duration `json:"maxDelay" yaml:"maxDelay"`
	// QueueBuffer sizes the in-memory job queue
	QueueBuffer int `json:"queueBuffer" yaml:"queueBuffer"`
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		QueueBuffer: 100,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("execution.workers must be >= 0")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("execution.maxAttempts must be >= 0")
	}
	if c.Multiplier != 0 && c.Multiplier < 1 {
		return fmt.Errorf("execution.multiplier must be >= 1")
	}
	return nil
}

func (c *Config) init() {
	defaults := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaults.BaseDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = defaults.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.QueueBuffer <= 0 {
		c.QueueBuffer = defaults.QueueBuffer
	}
}

// shouldRetry returns (retry?, delay) after attempts failed submissions.
func (c *Config) shouldRetry(attempts int) (bool, time.Duration) {
	if attempts >= c.MaxAttempts {
		return false, 0
	}
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempts-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return true, time.Duration(delay)
}

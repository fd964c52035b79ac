package analysis

import "fmt"

// Config represents run tracker configuration
type Config struct {
	// Workers is the number of goroutines executing runs
	Workers int `json:"workers" yaml:"workers"`
	// DefaultMaxSteps applies to runs created without a step budget
	DefaultMaxSteps int `json:"defaultMaxSteps" yaml:"defaultMaxSteps"`
	// DefaultPageSize applies to history queries without a page size
	DefaultPageSize int `json:"defaultPageSize" yaml:"defaultPageSize"`
	// MaxPageSize caps history page size
	MaxPageSize int `json:"maxPageSize" yaml:"maxPageSize"`
	// QueueBuffer sizes the in-memory run queue
	QueueBuffer int `json:"queueBuffer" yaml:"queueBuffer"`
}

// DefaultConfig returns the default tracker configuration
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		DefaultMaxSteps: 8,
		DefaultPageSize: 20,
		MaxPageSize:     100,
		QueueBuffer:     100,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workers < 0 || c.DefaultMaxSteps < 0 || c.QueueBuffer < 0 {
		return fmt.Errorf("analysis: negative workers, defaultMaxSteps or queueBuffer")
	}
	if c.MaxPageSize > 0 && c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("analysis.defaultPageSize %d exceeds maxPageSize %d", c.DefaultPageSize, c.MaxPageSize)
	}
	return nil
}

func (c *Config) init() {
	defaults := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.DefaultMaxSteps <= 0 {
		c.DefaultMaxSteps = defaults.DefaultMaxSteps
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = defaults.MaxPageSize
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = defaults.DefaultPageSize
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
	if c.QueueBuffer <= 0 {
		c.QueueBuffer = defaults.QueueBuffer
	}
}

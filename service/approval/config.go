package approval

import (
	"fmt"
	"time"

	mapproval "github.com/viant/tradegate/model/approval"
	"github.com/viant/tradegate/service/timeout"
)

// Config carries defaults applied to new requests.
type Config struct {
	BaseTimeout            time.Duration           `json:"baseTimeout" yaml:"baseTimeout"`
	EscalationGraceMinutes int                     `json:"escalationGraceMinutes" yaml:"escalationGraceMinutes"`
	DefaultQuorum          int                     `json:"defaultQuorum" yaml:"defaultQuorum"`
	DefaultTimeoutPolicy   mapproval.TimeoutPolicy `json:"defaultTimeoutPolicy" yaml:"defaultTimeoutPolicy"`
	Channels               []mapproval.Channel     `json:"channels" yaml:"channels"`
	// SingleRejectRejects makes one reject verdict final unless a request sets
	// its own RejectQuorum.
	SingleRejectRejects bool          `json:"singleRejectRejects" yaml:"singleRejectRejects"`
	DueSoonWindow       time.Duration `json:"dueSoonWindow" yaml:"dueSoonWindow"`
}

// DefaultConfig returns the default approval configuration.
func DefaultConfig() Config {
	return Config{
		BaseTimeout:            timeout.DefaultBaseTimeout,
		EscalationGraceMinutes: 15,
		DefaultQuorum:          1,
		DefaultTimeoutPolicy:   mapproval.TimeoutAutoReject,
		Channels:               []mapproval.Channel{mapproval.ChannelDashboard, mapproval.ChannelAdmin},
		DueSoonWindow:          5 * time.Minute,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BaseTimeout < 0 {
		return fmt.Errorf("approval.baseTimeout must be >= 0")
	}
	if c.DefaultQuorum < 0 {
		return fmt.Errorf("approval.defaultQuorum must be >= 0")
	}
	if c.DefaultTimeoutPolicy != "" && !c.DefaultTimeoutPolicy.Valid() {
		return fmt.Errorf("approval.defaultTimeoutPolicy %q is not supported", c.DefaultTimeoutPolicy)
	}
	return nil
}

func (c *Config) init() {
	defaults := DefaultConfig()
	if c.BaseTimeout <= 0 {
		c.BaseTimeout = defaults.BaseTimeout
	}
	if c.EscalationGraceMinutes <= 0 {
		c.EscalationGraceMinutes = defaults.EscalationGraceMinutes
	}
	if c.DefaultQuorum <= 0 {
		c.DefaultQuorum = defaults.DefaultQuorum
	}
	if c.DefaultTimeoutPolicy == "" {
		c.DefaultTimeoutPolicy = defaults.DefaultTimeoutPolicy
	}
	if len(c.Channels) == 0 {
		c.Channels = defaults.Channels
	}
	if c.DueSoonWindow <= 0 {
		c.DueSoonWindow = defaults.DueSoonWindow
	}
}

// Package policy decides whether a proposed trading action needs human
// approval before it may execute.
//
// A nil *Policy means "always ask", the fail-safe default.
package policy

import (
	"fmt"
	"strings"
)

// Approval modes.
const (
	ModeNone      = "none"       // execute without approval
	ModeAlways    = "always"     // every action needs approval (default)
	ModeRiskBased = "risk_based" // approval when the risk score reaches Threshold
)

// DefaultThreshold is the risk score from which risk_based asks for approval.
const DefaultThreshold = 50

// Policy represents the approval settings of an agent or account.
//
//   - Mode controls the high-level behaviour (none / always / risk_based).
//   - AllowList, BlockList filter action kinds regardless of Mode.
//   - Threshold is only used when Mode==risk_based.
type Policy struct {
	Mode      string   // none / always / risk_based (default = always)
	Threshold int      // risk score requiring approval (default = 50)
	AllowList []string // action kinds allowed (empty => all)
	BlockList []string // action kinds refused
}

// Config represents the declarative, serialisable form of a Policy.
type Config struct {
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	Threshold int      `json:"riskThreshold,omitempty" yaml:"riskThreshold,omitempty"`
	AllowList []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	BlockList []string `json:"block,omitempty" yaml:"block,omitempty"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "", ModeNone, ModeAlways, ModeRiskBased:
	default:
		return fmt.Errorf("policy: unsupported mode %q", c.Mode)
	}
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("policy: riskThreshold %d outside 0..100", c.Threshold)
	}
	return nil
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Mode:      p.Mode,
		Threshold: p.Threshold,
		AllowList: append([]string(nil), p.AllowList...),
		BlockList: append([]string(nil), p.BlockList...),
	}
}

// FromConfig converts a stored Config back to a runtime Policy.
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		Mode:      strings.ToLower(c.Mode),
		Threshold: c.Threshold,
		AllowList: append([]string(nil), c.AllowList...),
		BlockList: append([]string(nil), c.BlockList...),
	}
}

// IsAllowed evaluates AllowList / BlockList by case-insensitive comparison of
// the action kind.
func (p *Policy) IsAllowed(actionKind string) bool {
	if p == nil {
		return true
	}
	normalized := strings.ToLower(actionKind)

	// BlockList has priority.
	for _, b := range p.BlockList {
		if normalized == strings.ToLower(b) {
			return false
		}
	}
	if len(p.AllowList) == 0 {
		return true
	}
	for _, a := range p.AllowList {
		if normalized == strings.ToLower(a) {
			return true
		}
	}
	return false
}

// RequiresApproval reports whether an action with riskScore must be approved.
func (p *Policy) RequiresApproval(riskScore int) bool {
	if p == nil {
		return true
	}
	switch p.Mode {
	case ModeNone:
		return false
	case ModeRiskBased:
		threshold := p.Threshold
		if threshold <= 0 {
			threshold = DefaultThreshold
		}
		return riskScore >= threshold
	}
	return true
}

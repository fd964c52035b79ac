// Package risk provides the default execution risk gate.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/viant/tradegate/service/execution"
)

const (
	// ScoreNoLimits is returned when no limits are configured.
	ScoreNoLimits = 10
	// ScoreWithinLimits is returned for actions that pass every limit.
	ScoreWithinLimits = 20
	// ScoreSymbolNotAllowed is returned for symbols outside the allow list.
	ScoreSymbolNotAllowed = 90
	// ScoreNotionalExceeded is returned for orders above MaxOrderNotional.
	ScoreNotionalExceeded = 95
)

// Limits bounds what the gate lets through.
type Limits struct {
	MaxOrderNotional float64  `json:"maxOrderNotional,omitempty" yaml:"maxOrderNotional,omitempty"`
	AllowedSymbols   []string `json:"allowedSymbols,omitempty" yaml:"allowedSymbols,omitempty"`
	// MaxExposure caps account exposure after the order, zero disables it.
	MaxExposure float64 `json:"maxExposure,omitempty" yaml:"maxExposure,omitempty"`
}

func (l *Limits) empty() bool {
	return l.MaxOrderNotional <= 0 && len(l.AllowedSymbols) == 0 && l.MaxExposure <= 0
}

// Order is the part of an action payload the engine understands.
type Order struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Notional float64 `json:"notional"`
}

// Value returns the order notional, derived from quantity and price when absent.
func (o *Order) Value() float64 {
	if o.Notional > 0 {
		return o.Notional
	}
	return o.Quantity * o.Price
}

// Engine is a limits based RiskGate.
type Engine struct {
	limits  Limits
	allowed map[string]bool
}

// New creates an engine.
func New(limits Limits) *Engine {
	ret := &Engine{limits: limits, allowed: map[string]bool{}}
	for _, symbol := range limits.AllowedSymbols {
		ret.allowed[strings.ToUpper(symbol)] = true
	}
	return ret
}

// ParseOrder decodes payload.
func ParseOrder(payload json.RawMessage) (*Order, error) {
	order := &Order{}
	if len(payload) == 0 {
		return order, nil
	}
	if err := json.Unmarshal(payload, order); err != nil {
		return nil, fmt.Errorf("invalid order payload: %w", err)
	}
	return order, nil
}

// Score rates an action payload without account state, used to pick the
// approval mode before a request exists.
func (e *Engine) Score(payload json.RawMessage) (*execution.RiskVerdict, error) {
	return e.evaluate(payload, nil)
}

// Evaluate implements execution.RiskGate.
func (e *Engine) Evaluate(_ context.Context, action *execution.Action, account *execution.Account) (*execution.RiskVerdict, error) {
	return e.evaluate(action.Payload, account)
}

func (e *Engine) evaluate(payload json.RawMessage, account *execution.Account) (*execution.RiskVerdict, error) {
	if e.limits.empty() {
		return &execution.RiskVerdict{OK: true, Score: ScoreNoLimits}, nil
	}
	order, err := ParseOrder(payload)
	if err != nil {
		return nil, err
	}
	value := order.Value()
	if e.limits.MaxOrderNotional > 0 && value > e.limits.MaxOrderNotional {
		return &execution.RiskVerdict{
			Score:  ScoreNotionalExceeded,
			Reason: fmt.Sprintf("order notional %.2f exceeds limit %.2f", value, e.limits.MaxOrderNotional),
		}, nil
	}
	if len(e.allowed) > 0 && !e.allowed[strings.ToUpper(order.Symbol)] {
		return &execution.RiskVerdict{
			Score:  ScoreSymbolNotAllowed,
			Reason: fmt.Sprintf("symbol %q is not allowed", order.Symbol),
		}, nil
	}
	if e.limits.MaxExposure > 0 && account != nil && account.Exposure+value > e.limits.MaxExposure {
		return &execution.RiskVerdict{
			Score:  ScoreNotionalExceeded,
			Reason: fmt.Sprintf("exposure %.2f would exceed limit %.2f", account.Exposure+value, e.limits.MaxExposure),
		}, nil
	}
	return &execution.RiskVerdict{OK: true, Score: ScoreWithinLimits}, nil
}

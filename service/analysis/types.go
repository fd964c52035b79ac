// Package analysis tracks asynchronous research runs that produce trade
// proposals.
//
// A run moves pending -> running -> completed|failed|canceled. A worker takes
// a run with an atomic claim, then drives the Researcher one step at a time,
// checking the run's CancelToken before every step. Events are append-only
// and numbered per run; appends are refused once the run is terminal.
package analysis

import (
	"context"
	"time"

	manalysis "github.com/viant/tradegate/model/analysis"
	"github.com/viant/tradegate/service/dao"
	"github.com/viant/tradegate/service/dao/criteria"
)

// MatchRun reports whether run satisfies the state and owner parameters.
func MatchRun(run *manalysis.Run, parameters []*dao.Parameter) bool {
	return criteria.FilterByState(string(run.Status), parameters) &&
		criteria.Match(dao.ParamOwner, run.Owner, parameters)
}

// RunNotifier is told when a run reaches a terminal status.
type RunNotifier interface {
	NotifyRun(ctx context.Context, run *manalysis.Run) error
}

// Store persists runs. Update must serialize calls per run id.
type Store interface {
	Create(ctx context.Context, run *manalysis.Run) error
	Load(ctx context.Context, id string) (*manalysis.Run, error)
	List(ctx context.Context, parameters ...*dao.Parameter) ([]*manalysis.Run, error)
	Update(ctx context.Context, id string, fn dao.UpdateFunc[manalysis.Run]) (*manalysis.Run, error)
}

// Step is one unit of research work. Each call to Researcher.Next is one
// external call (model or tool) bounded by cancellation checks.
type Step struct {
	Type    string                 `json:"type,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	// Final marks the step carrying the run result.
	Final  bool   `json:"final,omitempty"`
	Result string `json:"result,omitempty"`
}

// Researcher is the agent research capability.
type Researcher interface {
	Next(ctx context.Context, run *manalysis.Run, history []*manalysis.Event) (*Step, error)
}

// ResearcherFunc adapts a function to Researcher.
type ResearcherFunc func(ctx context.Context, run *manalysis.Run, history []*manalysis.Event) (*Step, error)

// Next implements Researcher.
func (f ResearcherFunc) Next(ctx context.Context, run *manalysis.Run, history []*manalysis.Event) (*Step, error) {
	return f(ctx, run, history)
}

// CreateInput describes a new run.
type CreateInput struct {
	Owner    string `json:"owner"`
	AgentID  string `json:"agentId,omitempty"`
	Query    string `json:"query"`
	Model    string `json:"model,omitempty"`
	MaxSteps int    `json:"maxSteps,omitempty"`
}

// Query filters run history.
type Query struct {
	Owner       string           `json:"owner,omitempty"`
	Status      manalysis.Status `json:"status,omitempty"`
	Text        string           `json:"q,omitempty"`
	CreatedFrom *time.Time       `json:"createdFrom,omitempty"`
	CreatedTo   *time.Time       `json:"createdTo,omitempty"`
	// OrderBy is created_at, started_at or completed_at, optionally prefixed by '-'.
	OrderBy  string `json:"orderBy,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
}

// Page is one page of run history.
type Page struct {
	Count    int              `json:"count"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Results  []*manalysis.Run `json:"results"`
}

// Job is the unit of work on the run queue.
type Job struct {
	RunID string `json:"runId"`
}

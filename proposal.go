package tradegate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/viant/tradegate/internal/idgen"
	mapproval "github.com/viant/tradegate/model/approval"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/policy"
	"github.com/viant/tradegate/service/approval"
	"github.com/viant/tradegate/service/execution"
)

// ErrActionNotAllowed is returned for action kinds the policy refuses outright.
var ErrActionNotAllowed = errors.New("tradegate: action kind not allowed")

// unscoredRisk is assumed when a payload cannot be scored.
const unscoredRisk = 100

// Proposal is a trading action produced by an agent.
type Proposal struct {
	ActionKind     string                  `json:"actionKind"`
	Payload        json.RawMessage         `json:"payload"`
	Owner          string                  `json:"owner"`
	Approvers      []string                `json:"approvers,omitempty"`
	RunID          string                  `json:"runId,omitempty"`
	RequiredQuorum int                     `json:"requiredQuorum,omitempty"`
	RejectQuorum   int                     `json:"rejectQuorum,omitempty"`
	TimeoutPolicy  mapproval.TimeoutPolicy `json:"timeoutPolicy,omitempty"`
	Channels       []mapproval.Channel     `json:"channels,omitempty"`
	// Policy overrides the configured approval policy for this proposal.
	Policy *policy.Config `json:"policy,omitempty"`
}

// ProposalOutcome tells whether a proposal was gated or sent to execution.
type ProposalOutcome struct {
	RequiresApproval bool               `json:"requiresApproval"`
	RiskScore        int                `json:"riskScore"`
	Request          *mapproval.Request `json:"request,omitempty"`
	// ActionID identifies a directly executed action in the audit log and
	// execution results.
	ActionID string `json:"actionId,omitempty"`
}

// SubmitProposal applies the approval policy to proposal: it becomes an
// approval request when approval is required, and an ungated execution job
// otherwise.
func (s *Service) SubmitProposal(ctx context.Context, proposal *Proposal) (*ProposalOutcome, error) {
	if proposal == nil || strings.TrimSpace(proposal.ActionKind) == "" || strings.TrimSpace(proposal.Owner) == "" {
		return nil, fmt.Errorf("%w: proposal requires actionKind and owner", approval.ErrInvalidConfiguration)
	}
	p := s.policy
	if proposal.Policy != nil {
		if err := proposal.Policy.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", approval.ErrInvalidConfiguration, err)
		}
		p = policy.FromConfig(proposal.Policy)
	}
	if !p.IsAllowed(proposal.ActionKind) {
		return nil, fmt.Errorf("%w: %s", ErrActionNotAllowed, proposal.ActionKind)
	}

	score := unscoredRisk
	if verdict, err := s.scorer.Score(proposal.Payload); err != nil {
		s.logger.Warn("proposal risk scoring failed", "action_kind", proposal.ActionKind, "owner", proposal.Owner, "error", err)
	} else if verdict != nil {
		score = verdict.Score
	}

	outcome := &ProposalOutcome{RiskScore: score}
	if p.RequiresApproval(score) {
		request, err := s.approvals.Create(ctx, &approval.CreateInput{
			ActionKind:     proposal.ActionKind,
			Payload:        proposal.Payload,
			RunID:          proposal.RunID,
			Owner:          proposal.Owner,
			Approvers:      proposal.Approvers,
			RequiredQuorum: proposal.RequiredQuorum,
			RejectQuorum:   proposal.RejectQuorum,
			TimeoutPolicy:  proposal.TimeoutPolicy,
			Channels:       proposal.Channels,
			RiskScore:      score,
		})
		if err != nil && !errors.Is(err, approval.ErrAuditIncomplete) {
			return nil, err
		}
		outcome.RequiresApproval = true
		outcome.Request = request
		return outcome, err
	}
	if err := s.executeDirectly(ctx, proposal, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Service) executeDirectly(ctx context.Context, proposal *Proposal, outcome *ProposalOutcome) error {
	outcome.ActionID = idgen.WithPrefix("act")
	entry := maudit.New(maudit.EntityApprovalRequest, outcome.ActionID, maudit.KindExecutionDispatched, mapproval.SystemActor, s.clock.Now(), map[string]interface{}{
		"actionKind": proposal.ActionKind,
		"owner":      proposal.Owner,
		"runId":      proposal.RunID,
		"riskScore":  outcome.RiskScore,
		"gated":      false,
	})
	if err := s.auditLog.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to audit dispatch of %s: %w", outcome.ActionID, err)
	}
	return s.dispatcher.Enqueue(ctx, &execution.Job{
		Action: execution.Action{
			RequestID: outcome.ActionID,
			Kind:      proposal.ActionKind,
			Owner:     proposal.Owner,
			Payload:   proposal.Payload,
		},
	})
}

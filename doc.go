// Package tradegate gates automated trading actions behind human approval.
//
// The engine is made of pluggable service layers:
//
//   - approval  – request state machine with quorum, owner override and audit
//   - timeout   – escalation and expiry of open requests
//   - channel   – dashboard, admin console and Telegram decision adapters
//   - execution – risk re-check and broker submission of approved actions
//   - analysis  – lifecycle of the agent research runs producing proposals
//
// Host applications embed the engine through the Service facade exposed by
// the root package:
//
//	srv, _ := tradegate.New(tradegate.WithConfig(cfg))
//	_ = srv.Start(ctx)
//	out, _ := srv.SubmitProposal(ctx, &tradegate.Proposal{ActionKind: "trade", Owner: "ana", Approvers: []string{"bo"}})
//	_, _ = srv.RecordDecision(ctx, &approval.DecisionEvent{RequestID: out.Request.ID, Actor: "bo", Verdict: approval.VerdictApprove, Channel: approval.ChannelDashboard})
//
// For more details see the individual sub-packages.
package tradegate

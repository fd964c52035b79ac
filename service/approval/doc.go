// Package approval implements the approval request state machine.
//
// A request starts pending and resolves to approved or rejected when one
// verdict reaches its quorum of assigned approvers, when the owner decides,
// or when its timeout policy fires. Escalation re-arms the timeout once before
// falling back to rejection. Terminal states never change again; late
// decisions and timeouts are recorded as conflicts.
//
// Every call that touches a request runs inside Store.Update, which
// serializes work on one request id. Audit entries are appended once the new
// state is committed, so a failed commit leaves no trace in the audit log,
// and the execution dispatcher is invoked only by the call that moved the
// request to approved.
package approval

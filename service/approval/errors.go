package approval

import (
	"errors"

	"github.com/viant/tradegate/service/dao"
)

var (
	// ErrNotFound is returned for unknown request ids.
	ErrNotFound = dao.ErrNotFound

	// ErrUnauthorizedDecision is returned when the actor is neither the owner
	// nor an assigned approver deciding through an approval channel. No state
	// changes.
	ErrUnauthorizedDecision = errors.New("approval: unauthorized decision")

	// ErrTerminalStateConflict is returned together with a non-nil outcome when
	// a decision, cancel or timeout hits an already resolved request. It is
	// informational: the request is left untouched.
	ErrTerminalStateConflict = errors.New("approval: request already resolved")

	// ErrInvalidConfiguration rejects a request creation, e.g. quorum larger
	// than the approver set.
	ErrInvalidConfiguration = errors.New("approval: invalid configuration")

	// ErrInvalidDecision is returned for malformed decision events.
	ErrInvalidDecision = errors.New("approval: invalid decision")

	// ErrAuditIncomplete is returned when a state change was committed but
	// some of its audit entries could not be appended.
	ErrAuditIncomplete = errors.New("approval: audit incomplete")

	errNoChange = errors.New("approval: no change")
)

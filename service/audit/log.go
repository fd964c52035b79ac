// Package audit defines the append-only audit log consumed by every engine
// component. Entries are never mutated or deleted once appended.
package audit

import (
	"context"
	"errors"

	"github.com/viant/tradegate/internal/idgen"
	maudit "github.com/viant/tradegate/model/audit"
)

var (
	// ErrInvalidEntry is returned for entries missing the entity reference or kind.
	ErrInvalidEntry = errors.New("audit: invalid entry")
)

// Log is an append-only audit trail.
type Log interface {
	// Append assigns the entry id and per-entity sequence and persists it.
	Append(ctx context.Context, entry *maudit.Entry) error
	// List returns entries of entityID in sequence order.
	List(ctx context.Context, entityID string) ([]*maudit.Entry, error)
}

// Prepare validates entry and stamps its id and sequence.
func Prepare(entry *maudit.Entry, sequence int) error {
	if entry == nil || entry.EntityID == "" || entry.Kind == "" {
		return ErrInvalidEntry
	}
	if entry.ID == "" {
		entry.ID = idgen.New()
	}
	if entry.Level == "" {
		entry.Level = maudit.LevelInfo
	}
	entry.Sequence = sequence
	return nil
}

// Kinds extracts the kind of each entry, handy for assertions and summaries.
func Kinds(entries []*maudit.Entry) []maudit.Kind {
	ret := make([]maudit.Kind, 0, len(entries))
	for _, e := range entries {
		ret = append(ret, e.Kind)
	}
	return ret
}

// Count returns how many entries have kind.
func Count(entries []*maudit.Entry, kind maudit.Kind) int {
	n := 0
	for _, e := range entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

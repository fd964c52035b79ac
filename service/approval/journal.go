package approval

import (
	"context"
	"errors"
	"fmt"

	mapproval "github.com/viant/tradegate/model/approval"
	maudit "github.com/viant/tradegate/model/audit"
)

// journal collects the audit entries of one request update.
type journal struct {
	entries []*maudit.Entry
}

func (s *Service) record(j *journal, request *mapproval.Request, kind maudit.Kind, actor string, detail map[string]interface{}) {
	s.recordLevel(j, request, kind, maudit.LevelInfo, actor, detail)
}

func (s *Service) recordLevel(j *journal, request *mapproval.Request, kind maudit.Kind, level maudit.Level, actor string, detail map[string]interface{}) {
	j.entries = append(j.entries, s.entry(request, kind, level, actor, detail))
}

func (s *Service) entry(request *mapproval.Request, kind maudit.Kind, level maudit.Level, actor string, detail map[string]interface{}) *maudit.Entry {
	return maudit.New(maudit.EntityApprovalRequest, request.ID, kind, actor, s.clock.Now(), detail).WithLevel(level)
}

// update applies fn inside the store's serialization boundary. The entries fn
// journals are appended once the update committed or ended with a soft
// outcome; an update that failed to commit leaves no entries. The request
// lock is held until the entries are appended so the audit order follows the
// commit order.
func (s *Service) update(ctx context.Context, id string, fn func(request *mapproval.Request, j *journal) error) (*mapproval.Request, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	j := &journal{}
	updated, err := s.store.Update(ctx, id, func(request *mapproval.Request) error {
		j.entries = j.entries[:0]
		return fn(request, j)
	})
	if err != nil && !isSoft(err) && !errors.Is(err, errNoChange) {
		return nil, err
	}
	if flushErr := s.flush(ctx, j); flushErr != nil {
		return updated, errors.Join(err, flushErr)
	}
	return updated, err
}

// flush appends the journaled entries in order. A failure leaves the
// committed state in place and is reported as ErrAuditIncomplete.
func (s *Service) flush(ctx context.Context, j *journal) error {
	for i, entry := range j.entries {
		if err := s.audit.Append(ctx, entry); err != nil {
			s.logger.Error("failed to append audit entry after commit", "request_id", entry.EntityID, "kind", entry.Kind,
				"unwritten", len(j.entries)-i, "error", err)
			return fmt.Errorf("%w: %s entry for %s: %w", ErrAuditIncomplete, entry.Kind, entry.EntityID, err)
		}
	}
	return nil
}

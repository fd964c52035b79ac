package approval

import (
	"context"
	"sort"
	"time"

	mapproval "github.com/viant/tradegate/model/approval"
	"github.com/viant/tradegate/service/dao"
	"github.com/viant/tradegate/service/rbac"
	"github.com/viant/tradegate/service/timeout"
)

// Queue returns the requests filter.Actor may act on, oldest first.
func (s *Service) Queue(ctx context.Context, filter *QueueFilter) ([]*QueueItem, error) {
	if filter == nil || filter.Actor == "" {
		return nil, ErrUnauthorizedDecision
	}
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []mapproval.Status{mapproval.StatusPending, mapproval.StatusEscalated}
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	requests, err := s.store.List(ctx, dao.NewParameter(dao.ParamState, names...))
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	items := make([]*QueueItem, 0, len(requests))
	for _, request := range requests {
		if !rbac.CanView(request, filter.Actor) {
			continue
		}
		if filter.Channel != "" && !request.HasChannel(filter.Channel) {
			continue
		}
		item := s.queueItem(request, filter.Actor, now)
		if filter.Overdue && !item.Overdue {
			continue
		}
		if filter.MineOnly && (!request.HasApprover(filter.Actor) || item.MyVerdict != "") {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Request.CreatedAt.Equal(items[j].Request.CreatedAt) {
			return items[i].Request.ID < items[j].Request.ID
		}
		return items[i].Request.CreatedAt.Before(items[j].Request.CreatedAt)
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

// Summary returns SLA counters over the open queue of actor.
func (s *Service) Summary(ctx context.Context, actor string) (*QueueSummary, error) {
	items, err := s.Queue(ctx, &QueueFilter{Actor: actor})
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	ret := &QueueSummary{}
	for _, item := range items {
		ret.PendingCount++
		switch {
		case item.Overdue:
			ret.OverdueCount++
		case item.Deadline != nil && item.Deadline.Sub(now) <= s.config.DueSoonWindow:
			ret.DueSoonCount++
		}
		if item.Request.HasApprover(actor) && item.MyVerdict == "" {
			ret.MinePendingCount++
		}
	}
	return ret, nil
}

func (s *Service) queueItem(request *mapproval.Request, actor string, now time.Time) *QueueItem {
	item := &QueueItem{
		Request: request,
		Role:    mapproval.RoleApprover,
		Tally:   rbac.Count(request),
	}
	if actor == request.Owner {
		item.Role = mapproval.RoleOwner
	}
	if d := request.DecisionOf(actor); d != nil {
		item.MyVerdict = d.Verdict
	}
	if deadline, ok := timeout.ForRequest(request, s.config.BaseTimeout).Deadline(); ok {
		item.Deadline = &deadline
		item.Overdue = !now.Before(deadline)
	}
	return item
}

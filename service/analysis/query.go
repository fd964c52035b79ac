package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	manalysis "github.com/viant/tradegate/model/analysis"
	"github.com/viant/tradegate/service/dao"
)

const defaultOrderBy = "-created_at"

// Query returns one page of run history.
func (s *Service) Query(ctx context.Context, query *Query) (*Page, error) {
	if query == nil {
		query = &Query{}
	}
	if query.Status != "" && !query.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidQuery, query.Status)
	}
	less, err := orderBy(query.OrderBy)
	if err != nil {
		return nil, err
	}
	page, pageSize := s.pagination(query)

	var parameters []*dao.Parameter
	if query.Status != "" {
		parameters = append(parameters, dao.NewParameter(dao.ParamState, string(query.Status)))
	}
	if query.Owner != "" {
		parameters = append(parameters, dao.NewParameter(dao.ParamOwner, query.Owner))
	}
	runs, err := s.store.List(ctx, parameters...)
	if err != nil {
		return nil, err
	}
	text := strings.ToLower(strings.TrimSpace(query.Text))
	var matched []*manalysis.Run
	for _, run := range runs {
		if query.CreatedFrom != nil && run.CreatedAt.Before(*query.CreatedFrom) {
			continue
		}
		if query.CreatedTo != nil && run.CreatedAt.After(*query.CreatedTo) {
			continue
		}
		if text != "" && !containsText(run, text) {
			continue
		}
		matched = append(matched, run)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if less(matched[i], matched[j]) {
			return true
		}
		if less(matched[j], matched[i]) {
			return false
		}
		return matched[i].ID < matched[j].ID
	})

	ret := &Page{Count: len(matched), Page: page, PageSize: pageSize, Results: []*manalysis.Run{}}
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return ret, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	ret.Results = matched[start:end]
	return ret, nil
}

func (s *Service) pagination(query *Query) (int, int) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = s.config.DefaultPageSize
	}
	if pageSize > s.config.MaxPageSize {
		pageSize = s.config.MaxPageSize
	}
	return page, pageSize
}

func containsText(run *manalysis.Run, text string) bool {
	for _, field := range []string{run.Query, run.Model, run.Result} {
		if strings.Contains(strings.ToLower(field), text) {
			return true
		}
	}
	return false
}

// orderBy returns a strict ordering for the named timestamp. Runs without
// the timestamp sort last in either direction.
func orderBy(spec string) (func(a, b *manalysis.Run) bool, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = defaultOrderBy
	}
	descending := strings.HasPrefix(spec, "-")
	field := strings.TrimPrefix(spec, "-")
	var value func(r *manalysis.Run) *time.Time
	switch field {
	case "created_at":
		value = func(r *manalysis.Run) *time.Time { return &r.CreatedAt }
	case "started_at":
		value = func(r *manalysis.Run) *time.Time { return r.StartedAt }
	case "completed_at":
		value = func(r *manalysis.Run) *time.Time { return r.CompletedAt }
	default:
		return nil, fmt.Errorf("%w: unsupported order_by %q", ErrInvalidQuery, spec)
	}
	return func(a, b *manalysis.Run) bool {
		x, y := value(a), value(b)
		switch {
		case x == nil && y == nil:
			return false
		case x == nil:
			return false
		case y == nil:
			return true
		}
		if descending {
			return x.After(*y)
		}
		return x.Before(*y)
	}, nil
}

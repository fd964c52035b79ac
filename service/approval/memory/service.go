// Package memory provides an in-process approval.Store.
package memory

import (
	mapproval "github.com/viant/tradegate/model/approval"
	"github.com/viant/tradegate/service/approval"
	"github.com/viant/tradegate/service/dao"
	"github.com/viant/tradegate/service/dao/criteria"
	"github.com/viant/tradegate/service/dao/store"
)

func requestKey(r *mapproval.Request) string { return r.ID }

func keyString(k string) string { return k }

func matches(r *mapproval.Request, parameters []*dao.Parameter) bool {
	return criteria.FilterByState(string(r.Status), parameters) &&
		criteria.Match(dao.ParamOwner, r.Owner, parameters)
}

// New returns a memory backed approval store. Updates are serialized per
// request id.
func New() approval.Store {
	return store.NewMemoryStore[string, mapproval.Request](requestKey, keyString,
		store.WithCloner[string, mapproval.Request]((*mapproval.Request).Clone),
		store.WithMatcher[string, mapproval.Request](matches),
	)
}

// Package memory provides an in-process analysis.Store.
package memory

import (
	manalysis "github.com/viant/tradegate/model/analysis"
	"github.com/viant/tradegate/service/analysis"
	"github.com/viant/tradegate/service/dao/store"
)

// New returns a memory backed run store.
func New() analysis.Store {
	return store.NewMemoryStore[string, manalysis.Run](
		func(r *manalysis.Run) string { return r.ID },
		func(k string) string { return k },
		store.WithCloner[string, manalysis.Run]((*manalysis.Run).Clone),
		store.WithMatcher[string, manalysis.Run](analysis.MatchRun),
	)
}

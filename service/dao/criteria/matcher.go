package criteria

import (
	"github.com/viant/tradegate/service/dao"
)

// Match reports whether value satisfies the parameter named name. A missing
// parameter matches everything. The parameter value may be a string or a
// []string (any-of).
func Match(name, value string, parameters []*dao.Parameter) bool {
	p := dao.Lookup(name, parameters)
	if p == nil {
		return true
	}
	switch actual := p.Value.(type) {
	case string:
		return value == actual
	case []string:
		for _, s := range actual {
			if value == s {
				return true
			}
		}
		return false
	}
	return true
}

// FilterByState matches the State parameter.
func FilterByState(state string, parameters []*dao.Parameter) bool {
	return Match(dao.ParamState, state, parameters)
}

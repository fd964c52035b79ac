package dao

// Well known parameter names understood by the stores in this module.
const (
	ParamState = "State"
	ParamOwner = "Owner"
)

// Parameter narrows List results.
type Parameter struct {
	Name  string
	Value interface{}
}

func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}

// Lookup returns the first parameter with the given name.
func Lookup(name string, parameters []*Parameter) *Parameter {
	for _, p := range parameters {
		if p != nil && p.Name == name {
			return p
		}
	}
	return nil
}

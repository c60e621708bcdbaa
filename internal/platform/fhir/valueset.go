package fhir

// ValueSet is the result of a $expand operation.
type ValueSet struct {
	ResourceType string             `json:"resourceType"`
	ID           string             `json:"id,omitempty"`
	URL          string             `json:"url,omitempty"`
	Expansion    *ValueSetExpansion `json:"expansion,omitempty"`
}

type ValueSetExpansion struct {
	Total    *int               `json:"total,omitempty"`
	Contains []ValueSetContains `json:"contains,omitempty"`
}

// ValueSetContains is one code in an expansion. Entries may nest.
type ValueSetContains struct {
	System   string             `json:"system,omitempty"`
	Code     string             `json:"code,omitempty"`
	Display  string             `json:"display,omitempty"`
	Abstract bool               `json:"abstract,omitempty"`
	Contains []ValueSetContains `json:"contains,omitempty"`
}

// Codings flattens the expansion. Abstract entries and entries without a
// code are grouping nodes and are not returned.
func (vs *ValueSet) Codings() []Coding {
	if vs == nil || vs.Expansion == nil {
		return nil
	}
	var out []Coding
	var walk func(items []ValueSetContains)
	walk = func(items []ValueSetContains) {
		for _, c := range items {
			if c.Code != "" && !c.Abstract {
				out = append(out, Coding{System: c.System, Code: c.Code, Display: c.Display})
			}
			if len(c.Contains) > 0 {
				walk(c.Contains)
			}
		}
	}
	walk(vs.Expansion.Contains)
	return out
}

// Matches reports whether two codings denote the same concept. Codes must be
// equal; systems are compared only when both sides carry one.
func Matches(a, b Coding) bool {
	if a.Code == "" || a.Code != b.Code {
		return false
	}
	if a.System != "" && b.System != "" {
		return a.System == b.System
	}
	return true
}

// ContainsCoding reports whether c matches any member of set.
func ContainsCoding(set []Coding, c Coding) bool {
	for _, m := range set {
		if Matches(m, c) {
			return true
		}
	}
	return false
}

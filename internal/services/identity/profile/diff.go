package profile

import "reflect"

// Change is the outcome of comparing proposed values with stored ones.
type Change struct {
	Fields   []string
	Previous map[string]any
	New      map[string]any
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool {
	return len(c.Fields) == 0
}

func (c *Change) add(field string, previous, next any) {
	if c.Previous == nil {
		c.Previous = map[string]any{}
		c.New = map[string]any{}
	}
	c.Fields = append(c.Fields, field)
	c.Previous[field] = previous
	c.New[field] = next
}

// diff keeps only proposals that differ from current.
func diff(current map[string]any, proposals []proposed) Change {
	var change Change
	for _, p := range proposals {
		previous := current[p.field]
		if valuesEqual(previous, p.value) {
			continue
		}
		change.add(p.field, previous, p.value)
	}
	return change
}

// valuesEqual compares stored and proposed values. Empty strings and empty
// lists equal a missing value and lists compare element by element.
func valuesEqual(a, b any) bool {
	a, b = blankToNil(a), blankToNil(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	la, aList := asList(a)
	lb, bList := asList(b)
	if aList || bList {
		if !aList || !bList || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !valuesEqual(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func blankToNil(v any) any {
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	if list, ok := asList(v); ok && len(list) == 0 {
		return nil
	}
	return v
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

package storage

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Snapshot is a document read from the store.
type Snapshot struct {
	Path string
	Data map[string]any
}

// ID returns the last path segment.
func (s *Snapshot) ID() string {
	_, id := SplitPath(s.Path)
	return id
}

// DataTo decodes the document into v using its json tags.
func (s *Snapshot) DataTo(v any) error {
	raw, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s: %w", s.Path, err)
	}
	return nil
}

// Encode converts a struct or map into the generic document form every
// backend stores. Times become RFC 3339 strings and numbers become float64.
func Encode(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for key, value := range m {
			normalized, err := EncodeValue(value)
			if err != nil {
				return nil, fmt.Errorf("encode field %s: %w", key, err)
			}
			out[key] = normalized
		}
		return out, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

// EncodeValue normalizes a single field value. Increment and DeleteField
// transforms pass through untouched.
func EncodeValue(v any) (any, error) {
	switch v.(type) {
	case IncrementValue, DeleteFieldValue:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MergeInto deep-merges src into dst, replacing non-map values.
func MergeInto(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			MergeInto(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}

// CloneData deep-copies a document map.
func CloneData(data map[string]any) map[string]any {
	out := maps.Clone(data)
	for key, value := range out {
		switch typed := value.(type) {
		case map[string]any:
			out[key] = CloneData(typed)
		case []any:
			out[key] = append([]any(nil), typed...)
		}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// ApplyUpdates applies already-encoded updates to data in place.
func ApplyUpdates(data map[string]any, updates []Update) error {
	for _, update := range updates {
		parts := strings.Split(update.Path, ".")
		target := data
		for _, part := range parts[:len(parts)-1] {
			next, ok := target[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				target[part] = next
			}
			target = next
		}
		leaf := parts[len(parts)-1]
		if inc, ok := update.Value.(IncrementValue); ok {
			current, numeric := target[leaf].(float64)
			if !numeric && target[leaf] != nil {
				return fmt.Errorf("increment non-numeric field %s", update.Path)
			}
			target[leaf] = current + float64(inc.By)
			continue
		}
		if _, ok := update.Value.(DeleteFieldValue); ok {
			delete(target, leaf)
			continue
		}
		target[leaf] = update.Value
	}
	return nil
}

// EncodeUpdates normalizes update values for storage.
func EncodeUpdates(updates []Update) ([]Update, error) {
	out := make([]Update, 0, len(updates))
	for _, update := range updates {
		if strings.TrimSpace(update.Path) == "" {
			return nil, fmt.Errorf("update path is required")
		}
		value, err := EncodeValue(update.Value)
		if err != nil {
			return nil, fmt.Errorf("encode update %s: %w", update.Path, err)
		}
		out = append(out, Update{Path: update.Path, Value: value})
	}
	return out, nil
}

// Lookup returns the value at a dotted field path.
func Lookup(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Matches reports whether data satisfies every equality filter. Filter values
// must already be encoded.
func Matches(data map[string]any, filters []Filter) bool {
	for _, filter := range filters {
		value, ok := Lookup(data, filter.Field)
		if !ok || CompareValues(value, filter.Value) != 0 {
			return false
		}
	}
	return true
}

// CompareValues orders two encoded values. Strings that parse as RFC 3339
// timestamps compare chronologically; missing values sort first.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case string:
		if bv, ok := b.(string); ok {
			at, aErr := time.Parse(time.RFC3339Nano, av)
			bt, bErr := time.Parse(time.RFC3339Nano, bv)
			if aErr == nil && bErr == nil {
				return at.Compare(bt)
			}
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// SortSnapshots orders snapshots by field. Ties keep path order so results
// are deterministic.
func SortSnapshots(snapshots []*Snapshot, field string, descending bool) {
	if field == "" {
		return
	}
	sortFunc := func(a, b *Snapshot) int {
		av, _ := Lookup(a.Data, field)
		bv, _ := Lookup(b.Data, field)
		result := CompareValues(av, bv)
		if descending {
			result = -result
		}
		if result == 0 {
			return strings.Compare(a.Path, b.Path)
		}
		return result
	}
	slices.SortStableFunc(snapshots, sortFunc)
}

// OrderAndLimit sorts snapshots for q and then truncates them to q.Limit.
// The limit must come after the chronological sort, since stored timestamps
// do not order lexically.
func OrderAndLimit(snapshots []*Snapshot, q Query) []*Snapshot {
	SortSnapshots(snapshots, q.OrderBy, q.Descending)
	if q.Limit > 0 && len(snapshots) > q.Limit {
		snapshots = snapshots[:q.Limit]
	}
	return snapshots
}

// EncodeFilters normalizes filter values so they compare equal to stored
// fields.
func EncodeFilters(filters []Filter) ([]Filter, error) {
	out := make([]Filter, 0, len(filters))
	for _, filter := range filters {
		value, err := EncodeValue(filter.Value)
		if err != nil {
			return nil, fmt.Errorf("encode filter %s: %w", filter.Field, err)
		}
		out = append(out, Filter{Field: filter.Field, Value: value})
	}
	return out, nil
}

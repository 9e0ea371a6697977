package scim

import "strings"

// ApplyDelta merges a modification delta into a resource in map form:
// nil or empty-string values clear, nested maps merge recursively, and
// multi-value arrays fold entry by entry honoring delete markers.
// Connectors that materialize full resources can apply gateway deltas
// with this before writing back to their store.
func ApplyDelta(resource, delta Attributes) {
	applyDeltaMap(resource, delta)
}

func applyDeltaMap(resource, delta map[string]any) {
	for key, value := range delta {
		switch v := value.(type) {
		case nil:
			delete(resource, key)
		case string:
			if v == "" {
				delete(resource, key)
			} else {
				resource[key] = v
			}
		case map[string]any:
			current, _ := resource[key].(map[string]any)
			if current == nil {
				current = make(map[string]any)
			}
			applyDeltaMap(current, v)
			if len(current) == 0 {
				delete(resource, key)
			} else {
				resource[key] = current
			}
		case []any:
			if IsMultiValueType(key) {
				merged := mergeMultiValueDelta(resource[key], v)
				if len(merged) == 0 {
					delete(resource, key)
				} else {
					resource[key] = merged
				}
			} else {
				resource[key] = v
			}
		default:
			resource[key] = value
		}
	}
}

// mergeMultiValueDelta folds delta entries into a typed multi-value
// array. Entries match by type (falling back to value); a delete marker
// removes its match, anything else merges or appends.
func mergeMultiValueDelta(current any, updates []any) []any {
	entries, _ := current.([]any)

	indexOf := func(entry map[string]any) int {
		typ, _ := entry["type"].(string)
		val, hasVal := entry["value"]
		for i, raw := range entries {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if typ != "" {
				if mTyp, _ := m["type"].(string); mTyp == typ {
					return i
				}
				continue
			}
			if hasVal && m["value"] == val {
				return i
			}
		}
		return -1
	}

	for _, raw := range updates {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		idx := indexOf(entry)

		if op, _ := entry["operation"].(string); strings.EqualFold(op, OperationDelete) {
			if idx >= 0 {
				entries = append(entries[:idx], entries[idx+1:]...)
			}
			continue
		}

		if idx >= 0 {
			target := entries[idx].(map[string]any)
			for k, v := range entry {
				target[k] = v
			}
		} else {
			entries = append(entries, entry)
		}
	}
	return entries
}

package scim

import (
	"reflect"
	"strings"
)

// ReplaceEngine converts a PUT body into the minimal delta that makes the
// stored resource equal to the desired one. PUT semantics are full
// replacement: attributes present on the current resource but absent from
// the body are cleared, unless soft-sync mode is on, in which case the PUT
// only merges what the body carries.
type ReplaceEngine struct {
	softSync bool
}

func NewReplaceEngine(softSync bool) *ReplaceEngine {
	return &ReplaceEngine{softSync: softSync}
}

// protectedAttributes are never blanked by a replace: a PUT body that
// omits them keeps the stored value, since an IdP wiping its own naming
// key is always a sender bug.
var protectedAttributes = map[string]bool{
	"username":    true,
	"displayname": true,
}

// skippedAttributes are managed by the gateway or immutable and never
// enter a replace delta.
var skippedAttributes = map[string]bool{
	"id":      true,
	"schemas": true,
	"meta":    true,
	"groups":  true,
	"members": true,
}

// Diff computes the connector delta that transforms current into desired.
// Equal attributes are omitted. Cleared attributes map to the empty
// string; cleared multi-value entries become delete markers.
func (re *ReplaceEngine) Diff(current, desired Attributes) Attributes {
	current = NormalizeMultiValues(current)
	desired = NormalizeMultiValues(desired)

	delta := make(Attributes)

	for key, want := range desired {
		if skippedAttributes[strings.ToLower(key)] {
			continue
		}
		have, exists := current[key]
		if exists && attributesEqual(have, want) {
			continue
		}
		if isBlank(want) {
			if protectedAttributes[strings.ToLower(key)] {
				continue
			}
			if !exists || isBlank(have) {
				continue
			}
			delta[key] = ""
			continue
		}
		if IsMultiValueType(key) {
			delta[key] = diffMultiValue(have, want)
			continue
		}
		delta[key] = want
	}

	if re.softSync {
		return delta
	}

	// Full replacement: clear what the body no longer carries
	for key, have := range current {
		lower := strings.ToLower(key)
		if skippedAttributes[lower] || protectedAttributes[lower] {
			continue
		}
		if _, exists := desired[key]; exists {
			continue
		}
		if isBlank(have) {
			continue
		}
		if IsMultiValueType(key) {
			delta[key] = deleteMarkersFor(have)
			continue
		}
		delta[key] = ""
	}

	return delta
}

// MembershipDiff returns the member additions and removals that transform
// the current member set into the desired one. Both directions are
// symmetric differences keyed by member id.
func MembershipDiff(current, desired []MemberRef) (add, remove []MemberRef) {
	haveSet := make(map[string]MemberRef, len(current))
	for _, m := range current {
		haveSet[m.Value] = m
	}
	wantSet := make(map[string]MemberRef, len(desired))
	for _, m := range desired {
		wantSet[m.Value] = m
	}

	for _, m := range desired {
		if _, ok := haveSet[m.Value]; !ok {
			add = append(add, m)
		}
	}
	for _, m := range current {
		if _, ok := wantSet[m.Value]; !ok {
			remove = append(remove, m)
		}
	}
	return add, remove
}

// diffMultiValue merges the desired entries with delete markers for the
// current entries whose type disappeared.
func diffMultiValue(have, want any) any {
	wantArr, ok := want.([]any)
	if !ok {
		return want
	}
	haveArr, _ := have.([]any)

	wantTypes := make(map[string]bool)
	for _, entry := range wantArr {
		if m, ok := entry.(map[string]any); ok {
			typ, _ := m["type"].(string)
			wantTypes[typ] = true
		}
	}

	out := make([]any, 0, len(wantArr))
	out = append(out, wantArr...)
	for _, entry := range haveArr {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := m["type"].(string)
		if wantTypes[typ] {
			continue
		}
		marker := map[string]any{"operation": OperationDelete}
		if typ != "" {
			marker["type"] = typ
		}
		if v, ok := m["value"]; ok {
			marker["value"] = v
		}
		out = append(out, marker)
	}
	return out
}

// deleteMarkersFor builds delete markers for every current entry of a
// multi-value attribute that the replacement dropped entirely.
func deleteMarkersFor(have any) any {
	haveArr, ok := have.([]any)
	if !ok {
		return ""
	}
	markers := make([]any, 0, len(haveArr))
	for _, entry := range haveArr {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		marker := map[string]any{"operation": OperationDelete}
		if typ, ok := m["type"].(string); ok && typ != "" {
			marker["type"] = typ
		}
		if v, ok := m["value"]; ok {
			marker["value"] = v
		}
		markers = append(markers, marker)
	}
	if len(markers) == 0 {
		return ""
	}
	return markers
}

func attributesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// isBlank reports whether a value counts as "not set" for diff purposes.
func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

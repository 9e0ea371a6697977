package scim

import "strings"

// multiValueTypes enumerates the attribute names the resource schema marks
// as multi-valued. groups, roles and members are handled separately by the
// orchestrator and are deliberately absent.
var multiValueTypes = map[string]bool{
	"emails":           true,
	"phonenumbers":     true,
	"ims":              true,
	"photos":           true,
	"addresses":        true,
	"entitlements":     true,
	"x509certificates": true,
}

// IsMultiValueType reports whether name is a schema-declared multi-valued
// attribute type.
func IsMultiValueType(name string) bool {
	return multiValueTypes[strings.ToLower(name)]
}

// MultiValueTypes returns the declared multi-value attribute names in their
// canonical spelling.
func MultiValueTypes() []string {
	return []string{"emails", "phoneNumbers", "ims", "photos", "addresses", "entitlements", "x509Certificates"}
}

// NormalizeMultiValues converts the flat single-object shorthand some
// connectors use, e.g. {"emails": {"work": {"value": ...}}}, into the
// canonical typed-array shape [{"type":"work","value":...}, ...].
// Attributes already in array form pass through unchanged, which makes the
// conversion idempotent.
func NormalizeMultiValues(obj Attributes) Attributes {
	if obj == nil {
		return nil
	}
	out := make(Attributes, len(obj))
	for key, val := range obj {
		if !IsMultiValueType(key) {
			out[key] = val
			continue
		}
		switch v := val.(type) {
		case map[string]any:
			arr := make([]any, 0, len(v))
			for typ, entry := range v {
				entryMap, ok := entry.(map[string]any)
				if !ok {
					// a bare value keyed by type, e.g. {"work": "a@b.c"}
					entryMap = map[string]any{"value": entry}
				} else {
					entryMap = cloneMap(entryMap)
				}
				if _, has := entryMap["type"]; !has && typ != "" {
					entryMap["type"] = typ
				}
				arr = append(arr, entryMap)
			}
			out[key] = arr
		default:
			out[key] = val
		}
	}
	return out
}

// FlattenMultiValues converts canonical typed arrays back to the
// type-keyed object shorthand for connectors that decline arrays. Entries
// without a type are keyed by the empty string; later entries of the same
// type win.
func FlattenMultiValues(obj Attributes) Attributes {
	if obj == nil {
		return nil
	}
	out := make(Attributes, len(obj))
	for key, val := range obj {
		if !IsMultiValueType(key) {
			out[key] = val
			continue
		}
		arr, ok := val.([]any)
		if !ok {
			out[key] = val
			continue
		}
		flat := make(map[string]any, len(arr))
		for _, entry := range arr {
			entryMap, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			typ, _ := entryMap["type"].(string)
			flat[typ] = cloneMap(entryMap)
		}
		out[key] = flat
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

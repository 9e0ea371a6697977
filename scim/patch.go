package scim

import (
	"fmt"
	"regexp"
	"strings"
)

// OperationDelete is the marker connectors receive inside a multi-value
// entry that should be removed rather than merged.
const OperationDelete = "delete"

// ModifyRequest is the normalized form of a PATCH request: a connector
// delta plus explicit membership changes, which are dispatched separately
// so connectors never diff member lists themselves.
type ModifyRequest struct {
	Delta       Attributes
	GroupAdd    []MemberRef
	GroupRemove []MemberRef
}

// IsEmpty reports whether the request carries no change at all.
func (m *ModifyRequest) IsEmpty() bool {
	return len(m.Delta) == 0 && len(m.GroupAdd) == 0 && len(m.GroupRemove) == 0
}

// valuePathRe matches the filtered multi-value path form
// attr[type eq "work"] with an optional trailing sub-attribute.
var valuePathRe = regexp.MustCompile(`^([A-Za-z][\w$-]*)\[\s*(\w+)\s+eq\s+"([^"]*)"\s*\](?:\.([\w$-]+))?$`)

// NormalizePatch converts a PATCH body into a ModifyRequest. Both wire
// dialects are accepted: a SCIM 2.0 PatchOp (detected by its schema URN or
// an Operations list) and the SCIM 1.1 style partial resource, where the
// body is simply the subset of attributes to merge.
//
// In the resulting delta, empty-string or nil values clear an attribute
// and multi-value entries carrying {"operation":"delete"} are removed.
func NormalizePatch(body map[string]any, resource ResourceType) (*ModifyRequest, *SCIMError) {
	if body == nil {
		return nil, ErrInvalidSyntax("empty request body")
	}

	req := &ModifyRequest{Delta: make(Attributes)}

	if isPatchOp(body) {
		ops, ok := body["Operations"].([]any)
		if !ok || len(ops) == 0 {
			return nil, ErrInvalidSyntax("PatchOp carries no Operations")
		}
		for i, raw := range ops {
			op, ok := raw.(map[string]any)
			if !ok {
				return nil, ErrInvalidSyntax(fmt.Sprintf("operation %d is not an object", i))
			}
			if err := applyPatchOperation(req, op, resource); err != nil {
				return nil, err
			}
		}
	} else {
		applyFlatMerge(req, body, resource)
	}

	req.Delta = NormalizeMultiValues(req.Delta)
	return req, nil
}

func isPatchOp(body map[string]any) bool {
	if _, hasOps := body["Operations"]; hasOps {
		return true
	}
	if schemas, ok := body["schemas"].([]any); ok {
		for _, s := range schemas {
			if str, ok := s.(string); ok && str == SchemaPatchOp {
				return true
			}
		}
	}
	return false
}

func applyPatchOperation(req *ModifyRequest, op map[string]any, resource ResourceType) *SCIMError {
	opName := strings.ToLower(fmt.Sprintf("%v", op["op"]))
	path, _ := op["path"].(string)
	value := op["value"]

	switch opName {
	case "add", "replace", "remove":
	default:
		return ErrInvalidValue(fmt.Sprintf("unsupported patch op %q", opName))
	}

	// No path: the value object is merged attribute by attribute
	if path == "" {
		if opName == "remove" {
			return ErrNoTarget("remove requires a path")
		}
		valueMap, ok := value.(map[string]any)
		if !ok {
			return ErrInvalidValue("pathless operation requires an object value")
		}
		applyFlatMerge(req, valueMap, resource)
		return nil
	}

	if isMembershipPath(path, resource) {
		return applyMembershipOperation(req, opName, value)
	}

	if m := valuePathRe.FindStringSubmatch(path); m != nil {
		return applyValuePathOperation(req, opName, m, value)
	}

	if opName == "remove" {
		setDottedPath(req.Delta, path, "")
		return nil
	}
	setDottedPath(req.Delta, path, value)
	return nil
}

// isMembershipPath reports whether the patch path manipulates group
// membership: "members" on a Group, "groups" on a User.
func isMembershipPath(path string, resource ResourceType) bool {
	base := strings.ToLower(strings.SplitN(path, "[", 2)[0])
	base = strings.SplitN(base, ".", 2)[0]
	switch resource {
	case ResourceGroups:
		return base == "members"
	case ResourceUsers:
		return base == "groups"
	}
	return false
}

func applyMembershipOperation(req *ModifyRequest, opName string, value any) *SCIMError {
	refs, err := memberRefsFromValue(value)
	if err != nil {
		return err
	}
	switch opName {
	case "remove":
		req.GroupRemove = append(req.GroupRemove, refs...)
	default:
		for _, ref := range refs {
			// 1.1-era payloads flag removals inline instead of using remove
			if ref.Type == OperationDelete {
				ref.Type = ""
				req.GroupRemove = append(req.GroupRemove, ref)
			} else {
				req.GroupAdd = append(req.GroupAdd, ref)
			}
		}
	}
	return nil
}

func applyValuePathOperation(req *ModifyRequest, opName string, match []string, value any) *SCIMError {
	attr, typeField, typeValue, sub := match[1], match[2], match[3], match[4]

	entry := map[string]any{typeField: typeValue}
	switch opName {
	case "remove":
		if sub != "" {
			entry[sub] = ""
		} else {
			entry["operation"] = OperationDelete
		}
	default:
		if sub != "" {
			entry[sub] = value
		} else if valueMap, ok := value.(map[string]any); ok {
			for k, v := range valueMap {
				entry[k] = v
			}
		} else {
			return ErrInvalidValue(fmt.Sprintf("value for %s must be an object", attr))
		}
	}

	existing, _ := req.Delta[attr].([]any)
	req.Delta[attr] = append(existing, entry)
	return nil
}

// applyFlatMerge folds a partial resource body into the request. Identity
// and read-only attributes are skipped; membership lists are converted to
// explicit add/remove sets.
func applyFlatMerge(req *ModifyRequest, body map[string]any, resource ResourceType) {
	for key, value := range body {
		switch strings.ToLower(key) {
		case "schemas", "id", "meta":
			continue
		}
		if isMembershipPath(key, resource) {
			// best effort: a malformed members list is dropped, the rest
			// of the merge still applies
			if refs, err := memberRefsFromValue(value); err == nil {
				for _, ref := range refs {
					if ref.Type == OperationDelete {
						ref.Type = ""
						req.GroupRemove = append(req.GroupRemove, ref)
					} else {
						req.GroupAdd = append(req.GroupAdd, ref)
					}
				}
			}
			continue
		}
		setDottedPath(req.Delta, key, value)
	}
}

// memberRefsFromValue accepts the member list shapes seen on the wire:
// a list of {value,display} objects, a single object, or a bare id string.
func memberRefsFromValue(value any) ([]MemberRef, *SCIMError) {
	var items []any
	switch v := value.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	case string:
		return []MemberRef{{Value: v}}, nil
	case nil:
		return nil, nil
	default:
		return nil, ErrInvalidValue("membership value must be an object or list")
	}

	refs := make([]MemberRef, 0, len(items))
	for _, item := range items {
		switch entry := item.(type) {
		case string:
			refs = append(refs, MemberRef{Value: entry})
		case map[string]any:
			ref := MemberRef{}
			if v, ok := entry["value"].(string); ok {
				ref.Value = v
			}
			if v, ok := entry["display"].(string); ok {
				ref.Display = v
			}
			if v, ok := entry["$ref"].(string); ok {
				ref.Ref = v
			}
			if v, ok := entry["operation"].(string); ok && strings.EqualFold(v, OperationDelete) {
				ref.Type = OperationDelete
			} else if v, ok := entry["type"].(string); ok {
				ref.Type = v
			}
			if ref.Value == "" {
				return nil, ErrInvalidValue("member reference without value")
			}
			refs = append(refs, ref)
		default:
			return nil, ErrInvalidValue("member reference must be an object or id string")
		}
	}
	return refs, nil
}

// setDottedPath writes value under a possibly dotted attribute path,
// creating nested maps as needed: "name.givenName" becomes
// {"name": {"givenName": value}}. Schema-URN prefixes (which contain dots
// themselves) are kept as a single key.
func setDottedPath(delta Attributes, path string, value any) {
	if strings.HasPrefix(path, "urn:") {
		if idx := strings.LastIndex(path, ":"); idx >= 0 && !strings.Contains(path[idx:], ".") {
			delta[path] = value
			return
		}
	}

	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		delta[path] = normalizeClear(value)
		return
	}

	cursor := map[string]any(delta)
	for _, part := range parts[:len(parts)-1] {
		next, ok := cursor[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cursor[part] = next
		}
		cursor = next
	}
	cursor[parts[len(parts)-1]] = normalizeClear(value)
}

// normalizeClear maps nil to the empty-string clear convention.
func normalizeClear(value any) any {
	if value == nil {
		return ""
	}
	return value
}

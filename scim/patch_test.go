package scim

import (
	"encoding/json"
	"reflect"
	"testing"
)

func mustDecode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		t.Fatalf("decode test body: %v", err)
	}
	return body
}

func TestNormalizePatchV2Operations(t *testing.T) {
	body := mustDecode(t, `{
		"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
		"Operations": [
			{"op": "replace", "path": "displayName", "value": "Babs Jensen"},
			{"op": "replace", "path": "name.givenName", "value": "Barbara"},
			{"op": "remove", "path": "title"},
			{"op": "add", "value": {"nickName": "Babs"}}
		]
	}`)

	req, scimErr := NormalizePatch(body, ResourceUsers)
	if scimErr != nil {
		t.Fatalf("NormalizePatch() error = %v", scimErr)
	}

	if got := req.Delta["displayName"]; got != "Babs Jensen" {
		t.Errorf("displayName = %v, want Babs Jensen", got)
	}
	name, ok := req.Delta["name"].(map[string]any)
	if !ok || name["givenName"] != "Barbara" {
		t.Errorf("name.givenName = %v, want Barbara", req.Delta["name"])
	}
	if got := req.Delta["title"]; got != "" {
		t.Errorf("removed title should clear with empty string, got %v", got)
	}
	if got := req.Delta["nickName"]; got != "Babs" {
		t.Errorf("pathless add nickName = %v, want Babs", got)
	}
}

func TestNormalizePatchValuePath(t *testing.T) {
	body := mustDecode(t, `{
		"Operations": [
			{"op": "replace", "path": "emails[type eq \"work\"].value", "value": "babs@work.example"},
			{"op": "remove", "path": "phoneNumbers[type eq \"mobile\"]"}
		]
	}`)

	req, scimErr := NormalizePatch(body, ResourceUsers)
	if scimErr != nil {
		t.Fatalf("NormalizePatch() error = %v", scimErr)
	}

	emails, ok := req.Delta["emails"].([]any)
	if !ok || len(emails) != 1 {
		t.Fatalf("emails delta = %v, want one entry", req.Delta["emails"])
	}
	entry := emails[0].(map[string]any)
	if entry["type"] != "work" || entry["value"] != "babs@work.example" {
		t.Errorf("emails entry = %v", entry)
	}

	phones, ok := req.Delta["phoneNumbers"].([]any)
	if !ok || len(phones) != 1 {
		t.Fatalf("phoneNumbers delta = %v, want one entry", req.Delta["phoneNumbers"])
	}
	marker := phones[0].(map[string]any)
	if marker["type"] != "mobile" || marker["operation"] != OperationDelete {
		t.Errorf("phoneNumbers delete marker = %v", marker)
	}
}

func TestNormalizePatchGroupMembers(t *testing.T) {
	body := mustDecode(t, `{
		"Operations": [
			{"op": "add", "path": "members", "value": [{"value": "u1", "display": "One"}]},
			{"op": "remove", "path": "members", "value": [{"value": "u2"}]}
		]
	}`)

	req, scimErr := NormalizePatch(body, ResourceGroups)
	if scimErr != nil {
		t.Fatalf("NormalizePatch() error = %v", scimErr)
	}

	if len(req.Delta) != 0 {
		t.Errorf("membership ops should not land in the delta, got %v", req.Delta)
	}
	if len(req.GroupAdd) != 1 || req.GroupAdd[0].Value != "u1" || req.GroupAdd[0].Display != "One" {
		t.Errorf("GroupAdd = %v", req.GroupAdd)
	}
	if len(req.GroupRemove) != 1 || req.GroupRemove[0].Value != "u2" {
		t.Errorf("GroupRemove = %v", req.GroupRemove)
	}
}

func TestNormalizePatchV1FlatMerge(t *testing.T) {
	body := mustDecode(t, `{
		"id": "ignore-me",
		"schemas": ["urn:scim:schemas:core:1.0"],
		"displayName": "Babs",
		"title": null,
		"members": [
			{"value": "u1"},
			{"value": "u2", "operation": "delete"}
		]
	}`)

	req, scimErr := NormalizePatch(body, ResourceGroups)
	if scimErr != nil {
		t.Fatalf("NormalizePatch() error = %v", scimErr)
	}

	if _, ok := req.Delta["id"]; ok {
		t.Error("id must never enter the delta")
	}
	if _, ok := req.Delta["schemas"]; ok {
		t.Error("schemas must never enter the delta")
	}
	if got := req.Delta["displayName"]; got != "Babs" {
		t.Errorf("displayName = %v", got)
	}
	if got := req.Delta["title"]; got != "" {
		t.Errorf("null should normalize to empty-string clear, got %v", got)
	}
	if len(req.GroupAdd) != 1 || req.GroupAdd[0].Value != "u1" {
		t.Errorf("GroupAdd = %v", req.GroupAdd)
	}
	if len(req.GroupRemove) != 1 || req.GroupRemove[0].Value != "u2" {
		t.Errorf("GroupRemove = %v", req.GroupRemove)
	}
	if req.GroupRemove[0].Type != "" {
		t.Errorf("inline delete marker must not leak into the ref type, got %q", req.GroupRemove[0].Type)
	}
}

func TestNormalizePatchUserGroups(t *testing.T) {
	body := mustDecode(t, `{
		"Operations": [
			{"op": "add", "path": "groups", "value": [{"value": "g1"}]}
		]
	}`)

	req, scimErr := NormalizePatch(body, ResourceUsers)
	if scimErr != nil {
		t.Fatalf("NormalizePatch() error = %v", scimErr)
	}
	if len(req.GroupAdd) != 1 || req.GroupAdd[0].Value != "g1" {
		t.Errorf("GroupAdd = %v", req.GroupAdd)
	}
}

func TestNormalizePatchExtensionURN(t *testing.T) {
	body := mustDecode(t, `{
		"Operations": [
			{"op": "replace", "path": "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User:department", "value": "Tooling"}
		]
	}`)

	req, scimErr := NormalizePatch(body, ResourceUsers)
	if scimErr != nil {
		t.Fatalf("NormalizePatch() error = %v", scimErr)
	}
	if got := req.Delta["urn:ietf:params:scim:schemas:extension:enterprise:2.0:User:department"]; got != "Tooling" {
		t.Errorf("extension path should stay one key, delta = %v", req.Delta)
	}
}

func TestNormalizePatchErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty operations", `{"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"]}`},
		{"unsupported op", `{"Operations": [{"op": "move", "path": "x", "value": 1}]}`},
		{"pathless remove", `{"Operations": [{"op": "remove"}]}`},
		{"pathless non-object value", `{"Operations": [{"op": "add", "value": "x"}]}`},
		{"member without value", `{"Operations": [{"op": "add", "path": "members", "value": [{"display": "no id"}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := mustDecode(t, tt.body)
			if _, scimErr := NormalizePatch(body, ResourceGroups); scimErr == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestModifyRequestIsEmpty(t *testing.T) {
	empty := &ModifyRequest{Delta: Attributes{}}
	if !empty.IsEmpty() {
		t.Error("fresh request should be empty")
	}
	withDelta := &ModifyRequest{Delta: Attributes{"displayName": "x"}}
	if withDelta.IsEmpty() {
		t.Error("request with delta is not empty")
	}
	withMembers := &ModifyRequest{Delta: Attributes{}, GroupAdd: []MemberRef{{Value: "u1"}}}
	if withMembers.IsEmpty() {
		t.Error("request with membership change is not empty")
	}
}

func TestSetDottedPath(t *testing.T) {
	delta := Attributes{}
	setDottedPath(delta, "name.givenName", "Barbara")
	setDottedPath(delta, "name.familyName", "Jensen")

	want := Attributes{"name": map[string]any{"givenName": "Barbara", "familyName": "Jensen"}}
	if !reflect.DeepEqual(delta, want) {
		t.Errorf("delta = %v, want %v", delta, want)
	}
}

package scim

import (
	"testing"
)

func TestReplaceDiff(t *testing.T) {
	engine := NewReplaceEngine(false)

	current := Attributes{
		"userName":    "bjensen",
		"displayName": "Barbara Jensen",
		"title":       "Engineer",
		"nickName":    "Babs",
	}
	desired := Attributes{
		"userName":    "bjensen",
		"displayName": "Barbara Jensen",
		"title":       "Principal Engineer",
	}

	delta := engine.Diff(current, desired)

	if got := delta["title"]; got != "Principal Engineer" {
		t.Errorf("title = %v, want Principal Engineer", got)
	}
	if got, ok := delta["nickName"]; !ok || got != "" {
		t.Errorf("dropped nickName should clear, got %v present=%v", got, ok)
	}
	if _, ok := delta["userName"]; ok {
		t.Error("unchanged userName must not enter the delta")
	}
}

func TestReplaceDiffSoftSync(t *testing.T) {
	engine := NewReplaceEngine(true)

	current := Attributes{"title": "Engineer", "nickName": "Babs"}
	desired := Attributes{"title": "Principal Engineer"}

	delta := engine.Diff(current, desired)

	if got := delta["title"]; got != "Principal Engineer" {
		t.Errorf("title = %v", got)
	}
	if _, ok := delta["nickName"]; ok {
		t.Error("soft sync must not clear attributes absent from the body")
	}
}

func TestReplaceDiffProtectedAttributes(t *testing.T) {
	engine := NewReplaceEngine(false)

	current := Attributes{"userName": "bjensen", "displayName": "Barbara"}
	desired := Attributes{"title": "Engineer"}

	delta := engine.Diff(current, desired)

	if _, ok := delta["userName"]; ok {
		t.Error("userName must never be blanked by a replace")
	}
	if _, ok := delta["displayName"]; ok {
		t.Error("displayName must never be blanked by a replace")
	}
	if got := delta["title"]; got != "Engineer" {
		t.Errorf("title = %v", got)
	}
}

func TestReplaceDiffSkipsManagedAttributes(t *testing.T) {
	engine := NewReplaceEngine(false)

	current := Attributes{"id": "1", "title": "Engineer"}
	desired := Attributes{
		"id":      "different",
		"schemas": []any{"urn:ietf:params:scim:schemas:core:2.0:User"},
		"meta":    map[string]any{"version": "x"},
		"groups":  []any{map[string]any{"value": "g1"}},
		"title":   "Engineer",
	}

	delta := engine.Diff(current, desired)
	if len(delta) != 0 {
		t.Errorf("managed attributes must not enter the delta, got %v", delta)
	}
}

func TestReplaceDiffMultiValue(t *testing.T) {
	engine := NewReplaceEngine(false)

	current := Attributes{
		"emails": []any{
			map[string]any{"type": "work", "value": "old@work.example"},
			map[string]any{"type": "home", "value": "babs@home.example"},
		},
	}
	desired := Attributes{
		"emails": []any{
			map[string]any{"type": "work", "value": "new@work.example"},
		},
	}

	delta := engine.Diff(current, desired)

	entries, ok := delta["emails"].([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("emails delta = %v, want 2 entries", delta["emails"])
	}

	first := entries[0].(map[string]any)
	if first["type"] != "work" || first["value"] != "new@work.example" {
		t.Errorf("replacement entry = %v", first)
	}
	marker := entries[1].(map[string]any)
	if marker["type"] != "home" || marker["operation"] != OperationDelete {
		t.Errorf("dropped home email should carry a delete marker, got %v", marker)
	}
}

func TestReplaceDiffDroppedMultiValue(t *testing.T) {
	engine := NewReplaceEngine(false)

	current := Attributes{
		"emails": []any{map[string]any{"type": "work", "value": "a@b.c"}},
	}
	desired := Attributes{"title": "Engineer"}

	delta := engine.Diff(current, desired)

	markers, ok := delta["emails"].([]any)
	if !ok || len(markers) != 1 {
		t.Fatalf("emails delta = %v", delta["emails"])
	}
	if markers[0].(map[string]any)["operation"] != OperationDelete {
		t.Errorf("dropped multi-value should be delete markers, got %v", markers[0])
	}
}

func TestMembershipDiff(t *testing.T) {
	current := []MemberRef{{Value: "u1"}, {Value: "u2"}}
	desired := []MemberRef{{Value: "u2"}, {Value: "u3", Display: "Three"}}

	add, remove := MembershipDiff(current, desired)

	if len(add) != 1 || add[0].Value != "u3" || add[0].Display != "Three" {
		t.Errorf("add = %v", add)
	}
	if len(remove) != 1 || remove[0].Value != "u1" {
		t.Errorf("remove = %v", remove)
	}
}

func TestMembershipDiffNoChange(t *testing.T) {
	refs := []MemberRef{{Value: "u1"}, {Value: "u2"}}
	add, remove := MembershipDiff(refs, refs)
	if len(add) != 0 || len(remove) != 0 {
		t.Errorf("identical sets should diff empty, add=%v remove=%v", add, remove)
	}
}

package scim

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGenerateETagContentHash(t *testing.T) {
	gen := NewETagGenerator()

	user1 := &User{UserName: "john", Active: Bool(true)}
	user2 := &User{UserName: "john", Active: Bool(true)}
	user3 := &User{UserName: "jane", Active: Bool(true)}

	etag1, err := gen.GenerateETag(user1)
	if err != nil {
		t.Fatalf("GenerateETag() error = %v", err)
	}
	etag2, err := gen.GenerateETag(user2)
	if err != nil {
		t.Fatalf("GenerateETag() error = %v", err)
	}
	etag3, err := gen.GenerateETag(user3)
	if err != nil {
		t.Fatalf("GenerateETag() error = %v", err)
	}

	if etag1 != etag2 {
		t.Errorf("same content should produce the same ETag: %v != %v", etag1, etag2)
	}
	if etag1 == etag3 {
		t.Error("different content should produce different ETags")
	}
	if !strings.HasPrefix(etag1, `W/"`) {
		t.Errorf("ETag should be weak, got %v", etag1)
	}
}

func TestGenerateETagPrefersMetaVersion(t *testing.T) {
	gen := NewETagGenerator()
	user := &User{UserName: "john", Meta: &Meta{Version: "abc123"}}

	etag, err := gen.GenerateETag(user)
	if err != nil {
		t.Fatalf("GenerateETag() error = %v", err)
	}
	if etag != `W/"abc123"` {
		t.Errorf("ETag = %v, want W/\"abc123\"", etag)
	}
}

func TestGenerateETagFromLastModified(t *testing.T) {
	gen := NewETagGenerator()
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	user := &User{UserName: "john", Meta: &Meta{LastModified: &ts}}

	etag, err := gen.GenerateETag(user)
	if err != nil {
		t.Fatalf("GenerateETag() error = %v", err)
	}
	if !strings.Contains(etag, "2026-03-14T09:26:53") {
		t.Errorf("ETag = %v, want timestamp-derived tag", etag)
	}
}

func TestUpdateResourceVersion(t *testing.T) {
	gen := NewETagGenerator()
	user := &User{UserName: "john"}

	etag, err := gen.UpdateResourceVersion(user)
	if err != nil {
		t.Fatalf("UpdateResourceVersion() error = %v", err)
	}
	if user.Meta == nil || user.Meta.Version != etag {
		t.Errorf("meta.version not stamped, meta = %+v", user.Meta)
	}

	// The stamped version must not change the tag it was derived from.
	again, err := gen.GenerateETag(user)
	if err != nil {
		t.Fatalf("GenerateETag() error = %v", err)
	}
	if again != etag {
		t.Errorf("stamping invalidated the tag: %v != %v", again, etag)
	}
}

func TestCheckPreconditions(t *testing.T) {
	gen := NewETagGenerator()
	currentETag := `W/"abc123"`

	tests := []struct {
		name        string
		method      string
		ifMatch     string
		ifNoneMatch string
		wantStatus  int
	}{
		{"no preconditions", http.MethodGet, "", "", 0},
		{"If-Match success", http.MethodPut, `W/"abc123"`, "", 0},
		{"If-Match strong form", http.MethodPut, `"abc123"`, "", 0},
		{"If-Match wildcard", http.MethodPut, "*", "", 0},
		{"If-Match list", http.MethodPut, `W/"zzz", W/"abc123"`, "", 0},
		{"If-Match failure", http.MethodPut, `W/"stale"`, "", http.StatusPreconditionFailed},
		{"If-None-Match GET match", http.MethodGet, "", `W/"abc123"`, http.StatusNotModified},
		{"If-None-Match GET no match", http.MethodGet, "", `W/"other"`, 0},
		{"If-None-Match write match", http.MethodPut, "", `W/"abc123"`, http.StatusPreconditionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/Users/1", nil)
			if tt.ifMatch != "" {
				r.Header.Set("If-Match", tt.ifMatch)
			}
			if tt.ifNoneMatch != "" {
				r.Header.Set("If-None-Match", tt.ifNoneMatch)
			}

			scimErr := gen.CheckPreconditions(r, currentETag)
			if tt.wantStatus == 0 {
				if scimErr != nil {
					t.Fatalf("CheckPreconditions() = %v, want nil", scimErr)
				}
				return
			}
			if scimErr == nil || scimErr.Status != tt.wantStatus {
				t.Errorf("CheckPreconditions() = %v, want status %d", scimErr, tt.wantStatus)
			}
		})
	}
}

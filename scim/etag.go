package scim

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ETagGenerator derives weak entity tags for SCIM resources.
type ETagGenerator struct{}

func NewETagGenerator() *ETagGenerator {
	return &ETagGenerator{}
}

// GenerateETag computes a weak ETag for a resource. The meta version and
// last-modified timestamp are preferred when present. Resources without
// meta are hashed over their content, so the tag changes whenever the
// resource does.
func (eg *ETagGenerator) GenerateETag(resource any) (string, error) {
	if meta := extractMeta(resource); meta != nil {
		if meta.Version != "" {
			return formatETag(meta.Version), nil
		}
		if meta.LastModified != nil {
			return formatETag(meta.LastModified.UTC().Format(time.RFC3339Nano)), nil
		}
	}

	hash, err := eg.contentHash(resource)
	if err != nil {
		return "", fmt.Errorf("generate etag: %w", err)
	}
	return formatETag(hash), nil
}

// contentHash hashes the JSON form of the resource, excluding meta.version
// so that stamping a version does not immediately invalidate the tag it
// was derived from.
func (eg *ETagGenerator) contentHash(resource any) (string, error) {
	data, err := json.Marshal(resource)
	if err != nil {
		return "", err
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		// Not an object, hash the raw bytes
		sum := sha256.Sum256(data)
		return fmt.Sprintf("%x", sum[:8]), nil
	}

	if meta, ok := m["meta"].(map[string]any); ok {
		delete(meta, "version")
		if len(meta) == 0 {
			delete(m, "meta")
		}
	}

	canonical, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", sum[:8]), nil
}

// UpdateResourceVersion stamps the current ETag into meta.version.
func (eg *ETagGenerator) UpdateResourceVersion(resource any) (string, error) {
	etag, err := eg.GenerateETag(resource)
	if err != nil {
		return "", err
	}

	if user, ok := resource.(*User); ok {
		if user.Meta == nil {
			user.Meta = &Meta{}
		}
		user.Meta.Version = etag
		return etag, nil
	}
	if group, ok := resource.(*Group); ok {
		if group.Meta == nil {
			group.Meta = &Meta{}
		}
		group.Meta.Version = etag
		return etag, nil
	}
	if obj, ok := resource.(Object); ok {
		meta, _ := obj["meta"].(map[string]any)
		if meta == nil {
			meta = make(map[string]any)
			obj["meta"] = meta
		}
		meta["version"] = etag
	}

	return etag, nil
}

// CheckPreconditions evaluates If-Match and If-None-Match against the
// current ETag of the resource. It returns a *SCIMError with status 412
// when If-Match fails, and a sentinel 304 status when If-None-Match
// matches on a read.
func (eg *ETagGenerator) CheckPreconditions(r *http.Request, currentETag string) *SCIMError {
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		if !etagMatches(ifMatch, currentETag) {
			return ErrInvalidVersion("resource version mismatch")
		}
	}

	if ifNoneMatch := r.Header.Get("If-None-Match"); ifNoneMatch != "" {
		if etagMatches(ifNoneMatch, currentETag) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				return &SCIMError{Status: http.StatusNotModified}
			}
			return ErrInvalidVersion("resource version matches If-None-Match")
		}
	}

	return nil
}

// etagMatches compares a client-supplied header value (possibly a
// comma-separated list, possibly "*") against the current tag. Weak
// prefixes are ignored for comparison.
func etagMatches(headerValue, currentETag string) bool {
	current := normalizeETag(currentETag)
	for _, candidate := range strings.Split(headerValue, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if normalizeETag(candidate) == current {
			return true
		}
	}
	return false
}

func normalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

func formatETag(value string) string {
	return fmt.Sprintf(`W/"%s"`, normalizeETag(value))
}

func extractMeta(resource any) *Meta {
	switch v := resource.(type) {
	case *User:
		return v.Meta
	case User:
		return v.Meta
	case *Group:
		return v.Meta
	case Group:
		return v.Meta
	case Object:
		return metaFromMap(v)
	case map[string]any:
		return metaFromMap(v)
	default:
		return nil
	}
}

func metaFromMap(m map[string]any) *Meta {
	raw, ok := m["meta"].(map[string]any)
	if !ok {
		return nil
	}
	meta := &Meta{}
	if v, ok := raw["version"].(string); ok {
		meta.Version = v
	}
	if lm, ok := raw["lastModified"].(string); ok {
		if t, err := time.Parse(time.RFC3339, lm); err == nil {
			meta.LastModified = &t
		}
	}
	if meta.Version == "" && meta.LastModified == nil {
		return nil
	}
	return meta
}

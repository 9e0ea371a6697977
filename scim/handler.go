package scim

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	SchemaListResponse = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	SchemaError        = "urn:ietf:params:scim:api:messages:2.0:Error"
	SchemaUser         = "urn:ietf:params:scim:schemas:core:2.0:User"
	SchemaGroup        = "urn:ietf:params:scim:schemas:core:2.0:Group"
	SchemaPatchOp      = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	SchemaBulkRequest  = "urn:ietf:params:scim:api:messages:2.0:BulkRequest"
	SchemaBulkResponse = "urn:ietf:params:scim:api:messages:2.0:BulkResponse"
)

// Handler holds helpers shared across SCIM endpoints: response encoding,
// query parsing and resource location building.
type Handler struct {
	baseURL string
}

// NewHandler creates a new SCIM handler
func NewHandler(baseURL string) *Handler {
	return &Handler{
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// WriteError writes a SCIM error response
func (h *Handler) WriteError(w http.ResponseWriter, status int, detail string, scimType string) {
	w.Header().Set("Content-Type", "application/scim+json")
	w.WriteHeader(status)

	err := ErrorResponse{
		Schemas:  []string{SchemaError},
		Status:   strconv.Itoa(status),
		Detail:   detail,
		ScimType: scimType,
	}

	json.NewEncoder(w).Encode(err)
}

// WriteSCIMError writes a *SCIMError, handling 304 (no body) as a special
// case.
func (h *Handler) WriteSCIMError(w http.ResponseWriter, err *SCIMError) {
	if err.Status == http.StatusNotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.WriteError(w, err.Status, err.Detail, err.ScimType)
}

// WriteJSON writes a successful JSON response
func (h *Handler) WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/scim+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ParseQueryParams extracts SCIM query parameters from the request.
// StartIndex and Count stay zero when the client did not send them, so
// callers can distinguish "unset" from an explicit value. Returns an
// error if both attributes and excludedAttributes are specified
// (RFC 7644 Section 3.9).
func (h *Handler) ParseQueryParams(r *http.Request) (QueryParams, error) {
	params := QueryParams{
		SortOrder: "ascending",
	}

	if filter := r.URL.Query().Get("filter"); filter != "" {
		params.Filter = filter
	}

	hasAttributes := false
	if attrs := r.URL.Query().Get("attributes"); attrs != "" {
		params.Attributes = strings.Split(attrs, ",")
		for i := range params.Attributes {
			params.Attributes[i] = strings.TrimSpace(params.Attributes[i])
		}
		hasAttributes = true
	}

	hasExcluded := false
	if excludedAttr := r.URL.Query().Get("excludedAttributes"); excludedAttr != "" {
		params.ExcludedAttr = strings.Split(excludedAttr, ",")
		for i := range params.ExcludedAttr {
			params.ExcludedAttr[i] = strings.TrimSpace(params.ExcludedAttr[i])
		}
		hasExcluded = true
	}

	// RFC 7644 Section 3.9: attributes and excludedAttributes are mutually exclusive
	if hasAttributes && hasExcluded {
		return params, fmt.Errorf("attributes and excludedAttributes are mutually exclusive")
	}

	if startIndex := r.URL.Query().Get("startIndex"); startIndex != "" {
		if idx, err := strconv.Atoi(startIndex); err == nil && idx > 0 {
			params.StartIndex = idx
		}
	}

	if count := r.URL.Query().Get("count"); count != "" {
		if c, err := strconv.Atoi(count); err == nil && c > 0 {
			params.Count = c
		}
	}

	if sortBy := r.URL.Query().Get("sortBy"); sortBy != "" {
		params.SortBy = sortBy
	}

	if sortOrder := r.URL.Query().Get("sortOrder"); sortOrder != "" {
		params.SortOrder = strings.ToLower(sortOrder)
	}

	return params, nil
}

// GetResourceLocation returns the location URL for a resource. The
// default tenant is omitted from the path so single-tenant deployments
// keep flat URLs.
func (h *Handler) GetResourceLocation(tenant string, resourceType ResourceType, id string) string {
	if tenant == "" || tenant == DefaultTenant {
		return fmt.Sprintf("%s/%s/%s", h.baseURL, resourceType, id)
	}
	return fmt.Sprintf("%s/%s/%s/%s", h.baseURL, tenant, resourceType, id)
}

// DecodeBody decodes a JSON request body into dst, mapping failures to a
// SCIM invalidSyntax error.
func DecodeBody(r *http.Request, dst any) *SCIMError {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return ErrInvalidSyntax("invalid request body: " + err.Error())
	}
	return nil
}

package scim

import (
	"encoding/json"
	"strings"
	"time"
)

// ResourceType identifies one of the resource families the gateway serves.
type ResourceType int

const (
	ResourceUsers ResourceType = iota
	ResourceGroups
	ResourceServicePlans
	ResourceAppRoles
	ResourceGeneric
	ResourceBulk
	ResourceSchemas
	ResourceResourceTypes
	ResourceServiceProviderConfig
)

func (rt ResourceType) String() string {
	switch rt {
	case ResourceUsers:
		return "Users"
	case ResourceGroups:
		return "Groups"
	case ResourceServicePlans:
		return "ServicePlans"
	case ResourceAppRoles:
		return "AppRoles"
	case ResourceGeneric:
		return "api"
	case ResourceBulk:
		return "Bulk"
	case ResourceSchemas:
		return "Schemas"
	case ResourceResourceTypes:
		return "ResourceTypes"
	case ResourceServiceProviderConfig:
		return "ServiceProviderConfig"
	}
	return "unknown"
}

// ParseResourceType maps a URL path segment to a ResourceType. Matching is
// case-insensitive since IdPs disagree on casing.
func ParseResourceType(segment string) (ResourceType, bool) {
	switch strings.ToLower(segment) {
	case "users":
		return ResourceUsers, true
	case "groups":
		return ResourceGroups, true
	case "serviceplans":
		return ResourceServicePlans, true
	case "approles":
		return ResourceAppRoles, true
	case "api":
		return ResourceGeneric, true
	case "bulk":
		return ResourceBulk, true
	case "schemas":
		return ResourceSchemas, true
	case "resourcetypes":
		return ResourceResourceTypes, true
	case "serviceproviderconfig", "serviceproviderconfigs":
		return ResourceServiceProviderConfig, true
	}
	return 0, false
}

// DefaultTenant is the baseEntity used when the request path carries no
// tenant prefix.
const DefaultTenant = "undefined"

// QueryDescriptor is the normalized output of filter translation. Either the
// simple Attribute/Operator/Value triple or RawFilter is populated for a
// filtered query; all of them are empty for "list everything". The gateway
// leaves StartIndex and Count zero and paginates after sorting, so connectors
// see them only when a caller drives them directly.
type QueryDescriptor struct {
	Attribute  string
	Operator   string
	Value      string
	RawFilter  string
	StartIndex int
	Count      int
}

// IsSimple reports whether the descriptor carries a plain triple the
// connector can resolve without a filter parser.
func (q QueryDescriptor) IsSimple() bool {
	return q.Attribute != ""
}

// IsEmpty reports whether the descriptor selects everything.
func (q QueryDescriptor) IsEmpty() bool {
	return q.Attribute == "" && q.RawFilter == ""
}

// FilterExpr renders the descriptor back to a SCIM filter expression, or ""
// for an unfiltered query.
func (q QueryDescriptor) FilterExpr() string {
	if q.RawFilter != "" {
		return q.RawFilter
	}
	if q.Attribute == "" {
		return ""
	}
	return q.Attribute + " " + q.Operator + ` "` + q.Value + `"`
}

// Attributes is the map form of a resource or of a modification delta. In a
// delta, a key mapped to an empty string (or nil) clears the attribute.
type Attributes map[string]any

// Object is a schemaless resource, used for ServicePlans, AppRoles and the
// generic /api passthrough.
type Object map[string]any

// ID returns the object's id attribute if present.
func (o Object) ID() string {
	if v, ok := o["id"].(string); ok {
		return v
	}
	return ""
}

// Meta contains metadata about a SCIM resource
type Meta struct {
	ResourceType string     `json:"resourceType"`
	Created      *time.Time `json:"created,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
	Location     string     `json:"location,omitempty"`
	Version      string     `json:"version,omitempty"`
}

// User represents a SCIM User resource
type User struct {
	ID               string            `json:"id"`
	ExternalID       string            `json:"externalId,omitempty"`
	Meta             *Meta             `json:"meta,omitempty"`
	Schemas          []string          `json:"schemas"`
	UserName         string            `json:"userName,omitempty"`
	Name             *Name             `json:"name,omitempty"`
	DisplayName      string            `json:"displayName,omitempty"`
	NickName         string            `json:"nickName,omitempty"`
	ProfileURL       string            `json:"profileUrl,omitempty"`
	Title            string            `json:"title,omitempty"`
	UserType         string            `json:"userType,omitempty"`
	PreferredLang    string            `json:"preferredLanguage,omitempty"`
	Locale           string            `json:"locale,omitempty"`
	Timezone         string            `json:"timezone,omitempty"`
	Active           *bool             `json:"active,omitempty"`
	Password         string            `json:"password,omitempty"`
	Emails           []Email           `json:"emails,omitempty"`
	PhoneNumbers     []PhoneNumber     `json:"phoneNumbers,omitempty"`
	IMs              []IM              `json:"ims,omitempty"`
	Photos           []Photo           `json:"photos,omitempty"`
	Addresses        []Address         `json:"addresses,omitempty"`
	Groups           []GroupRef        `json:"groups,omitempty"`
	Entitlements     []Entitlement     `json:"entitlements,omitempty"`
	Roles            []Role            `json:"roles,omitempty"`
	X509Certificates []X509Certificate `json:"x509Certificates,omitempty"`
	EnterpriseUser   map[string]any    `json:"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User,omitempty"`
}

// Name represents a user's name components
type Name struct {
	Formatted       string `json:"formatted,omitempty"`
	FamilyName      string `json:"familyName,omitempty"`
	GivenName       string `json:"givenName,omitempty"`
	MiddleName      string `json:"middleName,omitempty"`
	HonorificPrefix string `json:"honorificPrefix,omitempty"`
	HonorificSuffix string `json:"honorificSuffix,omitempty"`
}

// MultiValuedAttribute represents a generic multi-valued SCIM attribute
type MultiValuedAttribute[T any] struct {
	Value   T       `json:"value"`
	Type    string  `json:"type,omitempty"`
	Primary Boolean `json:"primary,omitempty"`
	Display string  `json:"display,omitempty"`
}

// Boolean tolerates string-encoded booleans on the wire.
type Boolean bool

func (b *Boolean) UnmarshalJSON(data []byte) error {
	var val any
	if err := json.Unmarshal(data, &val); err != nil {
		return err
	}
	switch v := val.(type) {
	case bool:
		*b = Boolean(v)
		return nil
	case string:
		if strings.EqualFold(v, "true") {
			*b = Boolean(true)
		} else if strings.EqualFold(v, "false") {
			*b = Boolean(false)
		}
		return nil
	default:
		return nil
	}
}

func (b Boolean) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}

// Email represents an email address
type Email = MultiValuedAttribute[string]

// PhoneNumber represents a phone number
type PhoneNumber = MultiValuedAttribute[string]

// IM represents an instant messaging address
type IM = MultiValuedAttribute[string]

// Photo represents a photo URL
type Photo = MultiValuedAttribute[string]

// Address represents a physical mailing address
type Address struct {
	Formatted     string `json:"formatted,omitempty"`
	StreetAddress string `json:"streetAddress,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Country       string `json:"country,omitempty"`
	Type          string `json:"type,omitempty"`
	Primary       bool   `json:"primary,omitempty"`
}

// GroupRef represents a group reference carried on a user
type GroupRef struct {
	Value   string `json:"value"`
	Ref     string `json:"$ref,omitempty"`
	Display string `json:"display,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Entitlement represents an entitlement
type Entitlement = MultiValuedAttribute[string]

// Role represents a role
type Role = MultiValuedAttribute[string]

// X509Certificate represents an X.509 certificate
type X509Certificate = MultiValuedAttribute[string]

// Group represents a SCIM Group resource
type Group struct {
	ID          string      `json:"id"`
	ExternalID  string      `json:"externalId,omitempty"`
	Meta        *Meta       `json:"meta,omitempty"`
	Schemas     []string    `json:"schemas"`
	DisplayName string      `json:"displayName"`
	Members     []MemberRef `json:"members,omitempty"`
}

// MemberRef represents a reference to a group member
type MemberRef struct {
	Value   string `json:"value"`
	Ref     string `json:"$ref,omitempty"`
	Type    string `json:"type,omitempty"`
	Display string `json:"display,omitempty"`
}

// ListResponse represents a SCIM list response with generic resource type
type ListResponse[T any] struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []T      `json:"Resources"`
}

// ErrorResponse is the SCIM wire form of an error
type ErrorResponse struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	Detail   string   `json:"detail,omitempty"`
	ScimType string   `json:"scimType,omitempty"`
}

// PatchOp represents a SCIM 2.0 PATCH request body
type PatchOp struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// PatchOperation represents a single SCIM PATCH operation
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// QueryParams represents query parameters for list operations. StartIndex
// and Count are zero when the client did not send them; the list handlers
// fill in the server's page size before paginating.
type QueryParams struct {
	Filter       string
	Attributes   []string
	ExcludedAttr []string
	StartIndex   int
	Count        int
	SortBy       string
	SortOrder    string
}

// Bool returns a pointer to the given bool value
func Bool(b bool) *bool {
	return &b
}

// ToAttributes converts a typed resource to its map form.
func ToAttributes(resource any) (Attributes, error) {
	data, err := json.Marshal(resource)
	if err != nil {
		return nil, err
	}
	var m Attributes
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

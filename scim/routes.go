package scim

import (
	"fmt"
	"strings"
)

// Route describes a resolved SCIM request path: the tenant it targets,
// the protocol version prefix (if any), the resource collection and an
// optional resource id.
type Route struct {
	Tenant   string
	Version  string
	Resource ResourceType
	ID       string
}

// reservedSegments are first path segments that can never be a tenant
// name. A leading segment outside this set is treated as the tenant.
var reservedSegments = map[string]bool{
	"users":                  true,
	"groups":                 true,
	"serviceplans":           true,
	"approles":               true,
	"bulk":                   true,
	"schemas":                true,
	"resourcetypes":          true,
	"serviceproviderconfig":  true,
	"serviceproviderconfigs": true,
	"oauth":                  true,
	".well-known":            true,
	"logger":                 true,
	"ping":                   true,
	"api":                    true,
	"pub":                    true,
	"metrics":                true,
	"v1":                     true,
	"v2":                     true,
}

// ResolveRoute parses a request path of the form
//
//	/[tenant/][v1|v2/]Resource[/id]
//
// Every prefix is optional: /Users/bjensen, /v2/Users/bjensen and
// /customerA/v2/Users/bjensen all resolve to the Users collection, the
// latter under tenant "customerA". Requests without a tenant segment
// resolve to the default tenant.
func ResolveRoute(path string) (Route, error) {
	route := Route{Tenant: DefaultTenant}

	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return route, fmt.Errorf("empty path")
	}
	parts := strings.Split(trimmed, "/")

	// Optional tenant: any unreserved first segment
	if !reservedSegments[strings.ToLower(parts[0])] {
		route.Tenant = parts[0]
		parts = parts[1:]
		if len(parts) == 0 {
			return route, fmt.Errorf("missing resource in path %q", path)
		}
	}

	// Optional version prefix
	switch strings.ToLower(parts[0]) {
	case "v1", "v2":
		route.Version = strings.ToLower(parts[0])
		parts = parts[1:]
		if len(parts) == 0 {
			return route, fmt.Errorf("missing resource in path %q", path)
		}
	}

	rt, ok := ParseResourceType(parts[0])
	if !ok {
		return route, fmt.Errorf("unknown resource %q", parts[0])
	}
	route.Resource = rt
	parts = parts[1:]

	if len(parts) > 0 {
		// Ids may themselves contain slashes (connector-assigned DNs)
		route.ID = strings.Join(parts, "/")
	}

	return route, nil
}

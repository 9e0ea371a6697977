package scim

import (
	"testing"
)

func TestResolveRoute(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    Route
		wantErr bool
	}{
		{
			name: "users collection",
			path: "/Users",
			want: Route{Tenant: DefaultTenant, Resource: ResourceUsers},
		},
		{
			name: "user by id",
			path: "/Users/bjensen",
			want: Route{Tenant: DefaultTenant, Resource: ResourceUsers, ID: "bjensen"},
		},
		{
			name: "versioned users",
			path: "/v2/Users/bjensen",
			want: Route{Tenant: DefaultTenant, Version: "v2", Resource: ResourceUsers, ID: "bjensen"},
		},
		{
			name: "v1 groups",
			path: "/v1/Groups",
			want: Route{Tenant: DefaultTenant, Version: "v1", Resource: ResourceGroups},
		},
		{
			name: "tenant users",
			path: "/customerA/Users",
			want: Route{Tenant: "customerA", Resource: ResourceUsers},
		},
		{
			name: "tenant versioned user",
			path: "/customerA/v2/Users/bjensen",
			want: Route{Tenant: "customerA", Version: "v2", Resource: ResourceUsers, ID: "bjensen"},
		},
		{
			name: "id containing slashes",
			path: "/Users/cn=Barbara Jensen/ou=people/dc=example",
			want: Route{Tenant: DefaultTenant, Resource: ResourceUsers, ID: "cn=Barbara Jensen/ou=people/dc=example"},
		},
		{
			name: "case insensitive resource",
			path: "/users/bjensen",
			want: Route{Tenant: DefaultTenant, Resource: ResourceUsers, ID: "bjensen"},
		},
		{
			name: "service plans",
			path: "/ServicePlans",
			want: Route{Tenant: DefaultTenant, Resource: ResourceServicePlans},
		},
		{
			name: "app roles with tenant",
			path: "/customerB/AppRoles",
			want: Route{Tenant: "customerB", Resource: ResourceAppRoles},
		},
		{
			name: "bulk",
			path: "/Bulk",
			want: Route{Tenant: DefaultTenant, Resource: ResourceBulk},
		},
		{
			name: "tenant bulk",
			path: "/customerA/v2/Bulk",
			want: Route{Tenant: "customerA", Version: "v2", Resource: ResourceBulk},
		},
		{
			name: "service provider config",
			path: "/ServiceProviderConfig",
			want: Route{Tenant: DefaultTenant, Resource: ResourceServiceProviderConfig},
		},
		{
			name: "legacy service provider configs",
			path: "/ServiceProviderConfigs",
			want: Route{Tenant: DefaultTenant, Resource: ResourceServiceProviderConfig},
		},
		{
			name: "schemas by urn",
			path: "/Schemas/urn:ietf:params:scim:schemas:core:2.0:User",
			want: Route{Tenant: DefaultTenant, Resource: ResourceSchemas, ID: "urn:ietf:params:scim:schemas:core:2.0:User"},
		},
		{
			name: "generic api",
			path: "/api/devices/42",
			want: Route{Tenant: DefaultTenant, Resource: ResourceGeneric, ID: "devices/42"},
		},
		{
			name:    "empty path",
			path:    "/",
			wantErr: true,
		},
		{
			name:    "tenant without resource",
			path:    "/customerA",
			wantErr: true,
		},
		{
			name:    "unknown resource",
			path:    "/Widgets",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveRoute(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveRoute(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("ResolveRoute(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

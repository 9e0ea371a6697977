package scim

import "context"

// Connector is the fixed contract a backend adapter implements. The gateway
// owns everything protocol-shaped; connectors translate these calls to one
// external system (REST API, SQL database, directory service).
//
// Connectors must be safe for concurrent use. They signal a duplicate key
// either with a *SCIMError carrying status 409 or with a plain error whose
// message ends in "#409".
//
// Query handling: connectors resolve the QueryDescriptor as far as their
// backend allows. A simple triple (Attribute/Operator/Value) should be
// translated natively; a RawFilter may be rejected with an error when the
// backend cannot evaluate it. The attrs slice is an optimization hint only.
type Connector interface {
	Name() string

	Users(ctx context.Context, tenant string, q QueryDescriptor, attrs []string) ([]*User, error)
	CreateUser(ctx context.Context, tenant string, user *User) (*User, error)
	// ModifyUser applies a normalized attribute delta: nested maps merge,
	// empty-string or nil values clear, multi-value entries carrying
	// {"operation":"delete"} are removed.
	ModifyUser(ctx context.Context, tenant, id string, delta Attributes) error
	DeleteUser(ctx context.Context, tenant, id string) error

	Groups(ctx context.Context, tenant string, q QueryDescriptor, attrs []string) ([]*Group, error)
	CreateGroup(ctx context.Context, tenant string, group *Group) (*Group, error)
	ModifyGroup(ctx context.Context, tenant, id string, delta Attributes) error
	DeleteGroup(ctx context.Context, tenant, id string) error

	// ModifyGroupMembers assigns and revokes group memberships. Both slices
	// may be handled in any order; the gateway never mixes an add and a
	// remove for the same member in one call.
	ModifyGroupMembers(ctx context.Context, tenant, id string, add, remove []MemberRef) error
}

// ServicePlanProvider is an optional capability for backends that expose
// subscription service plans.
type ServicePlanProvider interface {
	ServicePlans(ctx context.Context, tenant string, q QueryDescriptor, attrs []string) ([]Object, error)
}

// AppRoleProvider is an optional capability for backends that expose
// application roles.
type AppRoleProvider interface {
	AppRoles(ctx context.Context, tenant string, q QueryDescriptor, attrs []string) ([]Object, error)
}

// ObjectProvider is an optional capability serving the generic /api
// passthrough for non-SCIM object models.
type ObjectProvider interface {
	Objects(ctx context.Context, tenant string, q QueryDescriptor) ([]Object, error)
	CreateObject(ctx context.Context, tenant string, obj Object) (Object, error)
	ModifyObject(ctx context.Context, tenant, id string, obj Object) error
	DeleteObject(ctx context.Context, tenant, id string) error
}

// AuthPassThrough is an optional capability letting the backend validate the
// raw Authorization header itself. It backs the pass-through authentication
// strategy.
type AuthPassThrough interface {
	ValidateAuth(ctx context.Context, tenant, authorization string) error
}

// InlineGroups marks connectors that populate user.groups themselves, so the
// gateway skips the reverse members.value lookup.
type InlineGroups interface {
	InlinesGroups() bool
}

// Registry resolves the connector serving a tenant.
type Registry interface {
	Get(tenant string) (Connector, bool)
	List() []string
}

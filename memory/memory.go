// Package memory implements a tenant-aware in-memory connector, used for
// examples, tests and as the reference connector implementation.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/idgateway/scimgw/scim"
)

// Connector keeps all resources in per-tenant maps. All methods are safe
// for concurrent use.
type Connector struct {
	name string

	mu      sync.RWMutex
	tenants map[string]*store
}

type store struct {
	users        map[string]*scim.User
	groups       map[string]*scim.Group
	objects      map[string]scim.Object
	servicePlans []scim.Object
	appRoles     []scim.Object
}

// New creates an empty in-memory connector.
func New(name string) *Connector {
	return &Connector{
		name:    name,
		tenants: make(map[string]*store),
	}
}

// Name returns the connector name
func (c *Connector) Name() string {
	return c.name
}

// SeedServicePlans installs the service plans served for a tenant.
func (c *Connector) SeedServicePlans(tenant string, plans []scim.Object) {
	c.mu.Lock()
	c.tenant(tenant).servicePlans = plans
	c.mu.Unlock()
}

// SeedAppRoles installs the app roles served for a tenant.
func (c *Connector) SeedAppRoles(tenant string, roles []scim.Object) {
	c.mu.Lock()
	c.tenant(tenant).appRoles = roles
	c.mu.Unlock()
}

// tenant returns the store for a tenant, creating it on first use. The
// caller must hold the write lock, or the read lock when the tenant is
// known to exist.
func (c *Connector) tenant(name string) *store {
	if name == "" {
		name = scim.DefaultTenant
	}
	st, ok := c.tenants[name]
	if !ok {
		st = &store{
			users:   make(map[string]*scim.User),
			groups:  make(map[string]*scim.Group),
			objects: make(map[string]scim.Object),
		}
		c.tenants[name] = st
	}
	return st
}

// Users returns the users matching the query. Simple triples and raw
// filters are both evaluated locally with the filter parser; paging is
// applied after a deterministic id sort.
func (c *Connector) Users(ctx context.Context, tenant string, q scim.QueryDescriptor, attrs []string) ([]*scim.User, error) {
	c.mu.Lock()
	st := c.tenant(tenant)
	c.mu.Unlock()

	matcher, err := compileMatcher(q)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	matched := make([]*scim.User, 0, len(st.users))
	for _, user := range st.users {
		if matcher(user) {
			matched = append(matched, cloneUser(user))
		}
	}
	c.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return page(matched, q), nil
}

// CreateUser stores a new user. A duplicate userName signals a conflict
// with the "#409" error-name convention.
func (c *Connector) CreateUser(ctx context.Context, tenant string, user *scim.User) (*scim.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tenant(tenant)

	for _, existing := range st.users {
		if user.UserName != "" && existing.UserName == user.UserName {
			return nil, fmt.Errorf("userName %s already exists%s", user.UserName, scim.ConflictSuffix)
		}
	}

	stored := cloneUser(user)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now()
	stored.Meta = &scim.Meta{
		ResourceType: "User",
		Created:      &now,
		LastModified: &now,
	}
	stored.Groups = nil

	st.users[stored.ID] = stored
	return cloneUser(stored), nil
}

// ModifyUser applies an attribute delta to a stored user.
func (c *Connector) ModifyUser(ctx context.Context, tenant, id string, delta scim.Attributes) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tenant(tenant)

	user, ok := st.users[id]
	if !ok {
		return scim.ErrNotFound("User", id)
	}

	attrs, err := scim.ToAttributes(user)
	if err != nil {
		return err
	}
	scim.ApplyDelta(attrs, delta)

	updated := &scim.User{}
	if err := fromAttributes(attrs, updated); err != nil {
		return err
	}
	updated.ID = id
	now := time.Now()
	if updated.Meta == nil {
		updated.Meta = &scim.Meta{ResourceType: "User", Created: user.Meta.Created}
	}
	updated.Meta.LastModified = &now

	st.users[id] = updated
	return nil
}

// DeleteUser removes a user.
func (c *Connector) DeleteUser(ctx context.Context, tenant, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tenant(tenant)

	if _, ok := st.users[id]; !ok {
		return scim.ErrNotFound("User", id)
	}
	delete(st.users, id)
	return nil
}

// Groups returns the groups matching the query.
func (c *Connector) Groups(ctx context.Context, tenant string, q scim.QueryDescriptor, attrs []string) ([]*scim.Group, error) {
	c.mu.Lock()
	st := c.tenant(tenant)
	c.mu.Unlock()

	matcher, err := compileMatcher(q)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	matched := make([]*scim.Group, 0, len(st.groups))
	for _, group := range st.groups {
		if matcher(group) {
			matched = append(matched, cloneGroup(group))
		}
	}
	c.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return page(matched, q), nil
}

// CreateGroup stores a new group.
func (c *Connector) CreateGroup(ctx context.Context, tenant string, group *scim.Group) (*scim.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tenant(tenant)

	for _, existing := range st.groups {
		if group.DisplayName != "" && existing.DisplayName == group.DisplayName {
			return nil, fmt.Errorf("displayName %s already exists%s", group.DisplayName, scim.ConflictSuffix)
		}
	}

	stored := cloneGroup(group)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now()
	stored.Meta = &scim.Meta{
		ResourceType: "Group",
		Created:      &now,
		LastModified: &now,
	}

	st.groups[stored.ID] = stored
	return cloneGroup(stored), nil
}

// ModifyGroup applies an attribute delta to a stored group. Membership
// changes go through ModifyGroupMembers instead.
func (c *Connector) ModifyGroup(ctx context.Context, tenant, id string, delta scim.Attributes) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tenant(tenant)

	group, ok := st.groups[id]
	if !ok {
		return scim.ErrNotFound("Group", id)
	}

	attrs, err := scim.ToAttributes(group)
	if err != nil {
		return err
	}
	delete(delta, "members")
	scim.ApplyDelta(attrs, delta)

	updated := &scim.Group{}
	if err := fromAttributes(attrs, updated); err != nil {
		return err
	}
	updated.ID = id
	updated.Members = group.Members
	now := time.Now()
	if updated.Meta == nil {
		updated.Meta = &scim.Meta{ResourceType: "Group", Created: group.Meta.Created}
	}
	updated.Meta.LastModified = &now

	st.groups[id] = updated
	return nil
}

// DeleteGroup removes a group.
func (c *Connector) DeleteGroup(ctx context.Context, tenant, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tenant(tenant)

	if _, ok := st.groups[id]; !ok {
		return scim.ErrNotFound("Group", id)
	}
	delete(st.groups, id)
	return nil
}

// ModifyGroupMembers assigns and revokes members on a group. Adding an
// existing member or removing an absent one is a no-op.
func (c *Connector) ModifyGroupMembers(ctx context.Context, tenant, id string, add, remove []scim.MemberRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tenant(tenant)

	group, ok := st.groups[id]
	if !ok {
		return scim.ErrNotFound("Group", id)
	}

	present := make(map[string]int, len(group.Members))
	for i, m := range group.Members {
		present[m.Value] = i
	}

	for _, m := range add {
		if _, exists := present[m.Value]; exists {
			continue
		}
		group.Members = append(group.Members, m)
		present[m.Value] = len(group.Members) - 1
	}

	if len(remove) > 0 {
		drop := make(map[string]bool, len(remove))
		for _, m := range remove {
			drop[m.Value] = true
		}
		kept := group.Members[:0]
		for _, m := range group.Members {
			if !drop[m.Value] {
				kept = append(kept, m)
			}
		}
		group.Members = kept
	}

	now := time.Now()
	group.Meta.LastModified = &now
	return nil
}

// ServicePlans implements scim.ServicePlanProvider.
func (c *Connector) ServicePlans(ctx context.Context, tenant string, q scim.QueryDescriptor, attrs []string) ([]scim.Object, error) {
	c.mu.Lock()
	st := c.tenant(tenant)
	c.mu.Unlock()
	return filterObjects(st.servicePlans, q)
}

// AppRoles implements scim.AppRoleProvider.
func (c *Connector) AppRoles(ctx context.Context, tenant string, q scim.QueryDescriptor, attrs []string) ([]scim.Object, error) {
	c.mu.Lock()
	st := c.tenant(tenant)
	c.mu.Unlock()
	return filterObjects(st.appRoles, q)
}

// Objects implements scim.ObjectProvider.
func (c *Connector) Objects(ctx context.Context, tenant string, q scim.QueryDescriptor) ([]scim.Object, error) {
	c.mu.Lock()
	st := c.tenant(tenant)
	c.mu.Unlock()

	c.mu.RLock()
	all := make([]scim.Object, 0, len(st.objects))
	for _, obj := range st.objects {
		all = append(all, obj)
	}
	c.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })
	return filterObjects(all, q)
}

// CreateObject implements scim.ObjectProvider.
func (c *Connector) CreateObject(ctx context.Context, tenant string, obj scim.Object) (scim.Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tenant(tenant)

	if obj.ID() == "" {
		obj["id"] = uuid.New().String()
	}
	st.objects[obj.ID()] = obj
	return obj, nil
}

// ModifyObject implements scim.ObjectProvider.
func (c *Connector) ModifyObject(ctx context.Context, tenant, id string, obj scim.Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tenant(tenant)

	existing, ok := st.objects[id]
	if !ok {
		return scim.ErrNotFound("object", id)
	}
	for k, v := range obj {
		if k == "id" {
			continue
		}
		existing[k] = v
	}
	return nil
}

// DeleteObject implements scim.ObjectProvider.
func (c *Connector) DeleteObject(ctx context.Context, tenant, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tenant(tenant)

	if _, ok := st.objects[id]; !ok {
		return scim.ErrNotFound("object", id)
	}
	delete(st.objects, id)
	return nil
}

// ---- helpers ----

// compileMatcher turns a QueryDescriptor into a predicate over resources,
// reusing the SCIM filter parser for both simple triples and raw filters.
func compileMatcher(q scim.QueryDescriptor) (func(any) bool, error) {
	expr := q.FilterExpr()
	if expr == "" {
		return func(any) bool { return true }, nil
	}
	filter, err := scim.NewFilterParser(expr).Parse()
	if err != nil {
		return nil, scim.ErrInvalidFilter(err.Error())
	}
	return filter.Matches, nil
}

func page[T any](resources []T, q scim.QueryDescriptor) []T {
	return scim.ApplyPagination(resources, q.StartIndex, q.Count)
}

func filterObjects(objects []scim.Object, q scim.QueryDescriptor) ([]scim.Object, error) {
	matcher, err := compileMatcher(q)
	if err != nil {
		return nil, err
	}
	matched := make([]scim.Object, 0, len(objects))
	for _, obj := range objects {
		if matcher(map[string]any(obj)) {
			matched = append(matched, obj)
		}
	}
	return page(matched, q), nil
}

func fromAttributes(attrs scim.Attributes, dst any) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func cloneUser(user *scim.User) *scim.User {
	if user == nil {
		return nil
	}
	data, _ := json.Marshal(user)
	clone := &scim.User{}
	json.Unmarshal(data, clone)
	return clone
}

func cloneGroup(group *scim.Group) *scim.Group {
	if group == nil {
		return nil
	}
	data, _ := json.Marshal(group)
	clone := &scim.Group{}
	json.Unmarshal(data, clone)
	return clone
}

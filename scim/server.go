package scim

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// membershipConcurrency bounds parallel group-membership calls against a
// connector during modify, replace and delete fan-outs.
const membershipConcurrency = 5

// discardLogger returns a no-op logger that discards all output
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ServerOptions tunes protocol behavior.
type ServerOptions struct {
	// SoftSync makes PUT merge instead of replace: attributes missing from
	// the body are kept rather than cleared.
	SoftSync bool
	// GroupMemberOfUser routes user group changes through ModifyUser
	// instead of ModifyGroupMembers, for backends that store membership on
	// the user object.
	GroupMemberOfUser bool
	// BulkMaxOperations caps the operations accepted in one bulk request.
	BulkMaxOperations int
	// PageSize overrides the default page size applied when a request
	// paginates without an explicit count.
	PageSize int
}

// Server is the protocol engine: it resolves routes, translates filters,
// orchestrates connector calls and shapes SCIM responses. One Server
// serves all tenants through the connector registry.
type Server struct {
	handler  *Handler
	registry Registry
	etagGen  *ETagGenerator
	replacer *ReplaceEngine
	logger   *slog.Logger
	opts     ServerOptions
}

// NewServer creates a new SCIM server. Pass nil for logger to disable
// logging.
func NewServer(baseURL string, registry Registry, logger *slog.Logger, opts ServerOptions) *Server {
	if logger == nil {
		logger = discardLogger()
	}
	if opts.BulkMaxOperations <= 0 {
		opts.BulkMaxOperations = DefaultBulkMaxOperations
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	return &Server{
		handler:  NewHandler(baseURL),
		registry: registry,
		etagGen:  NewETagGenerator(),
		replacer: NewReplaceEngine(opts.SoftSync),
		logger:   logger,
		opts:     opts,
	}
}

// ServeHTTP resolves the route and dispatches to the resource handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := ResolveRoute(r.URL.Path)
	if err != nil {
		s.handler.WriteError(w, http.StatusNotFound, err.Error(), "")
		return
	}

	// Discovery endpoints need no connector
	switch route.Resource {
	case ResourceSchemas, ResourceResourceTypes, ResourceServiceProviderConfig:
		if r.Method != http.MethodGet {
			s.handler.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		s.handleDiscovery(w, route)
		return
	}

	conn, ok := s.registry.Get(route.Tenant)
	if !ok {
		s.logger.Warn("no connector for tenant", "tenant", route.Tenant, "path", r.URL.Path)
		s.handler.WriteError(w, http.StatusNotFound, "no connector configured for "+route.Tenant, "")
		return
	}

	switch route.Resource {
	case ResourceUsers:
		s.handleUsers(w, r, route, conn)
	case ResourceGroups:
		s.handleGroups(w, r, route, conn)
	case ResourceServicePlans, ResourceAppRoles:
		s.handleReadOnlyObjects(w, r, route, conn)
	case ResourceBulk:
		s.handleBulk(w, r, route, conn)
	case ResourceGeneric:
		s.handleAPI(w, r, route, conn)
	default:
		s.handler.WriteError(w, http.StatusNotFound, "unknown resource", "")
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	switch {
	case route.ID == "" && r.Method == http.MethodGet:
		s.listUsers(w, r, route, conn)
	case route.ID == "" && r.Method == http.MethodPost:
		s.postUser(w, r, route, conn)
	case route.ID != "" && r.Method == http.MethodGet:
		s.getUser(w, r, route, conn)
	case route.ID != "" && r.Method == http.MethodPut:
		s.putUser(w, r, route, conn)
	case route.ID != "" && r.Method == http.MethodPatch:
		s.patchUser(w, r, route, conn)
	case route.ID != "" && r.Method == http.MethodDelete:
		s.removeUser(w, r, route, conn)
	default:
		s.handler.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	switch {
	case route.ID == "" && r.Method == http.MethodGet:
		s.listGroups(w, r, route, conn)
	case route.ID == "" && r.Method == http.MethodPost:
		s.postGroup(w, r, route, conn)
	case route.ID != "" && r.Method == http.MethodGet:
		s.getGroup(w, r, route, conn)
	case route.ID != "" && r.Method == http.MethodPut:
		s.putGroup(w, r, route, conn)
	case route.ID != "" && r.Method == http.MethodPatch:
		s.patchGroup(w, r, route, conn)
	case route.ID != "" && r.Method == http.MethodDelete:
		s.removeGroup(w, r, route, conn)
	default:
		s.handler.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

// ---- user operations ----
//
// Each operation exists in two layers: a core method that speaks values
// and errors (shared with the bulk engine), and an HTTP method that
// parses the request and shapes the response.

// QueryUsers resolves a filtered user query: the filter is translated,
// disjunction branches fan out with bounded concurrency, results are
// unioned by id and groups are back-filled.
func (s *Server) QueryUsers(ctx context.Context, conn Connector, tenant string, params QueryParams) ([]*User, *SCIMError) {
	qs, err := TranslateFilter(params.Filter)
	if err != nil {
		if scimErr, ok := err.(*SCIMError); ok {
			return nil, scimErr
		}
		return nil, ErrInvalidFilter(err.Error())
	}

	users, err := ResolveUnion(ctx, qs, func(u *User) string { return u.ID },
		func(ctx context.Context, q QueryDescriptor) ([]*User, error) {
			return conn.Users(ctx, tenant, q, params.Attributes)
		})
	if err != nil {
		return nil, WrapConnectorError("query users", err)
	}

	if wantsGroups(params.Attributes, params.ExcludedAttr) {
		if err := s.backfillGroups(ctx, conn, tenant, users); err != nil {
			return nil, WrapConnectorError("resolve user groups", err)
		}
	}
	for _, u := range users {
		s.stampUser(tenant, u)
	}
	return users, nil
}

// GetUser fetches one user by id, or 404.
func (s *Server) GetUser(ctx context.Context, conn Connector, tenant, id string, attrs []string) (*User, *SCIMError) {
	q := QueryDescriptor{Attribute: "id", Operator: "eq", Value: id}
	users, err := conn.Users(ctx, tenant, q, attrs)
	if err != nil {
		return nil, WrapConnectorError("get user", err)
	}
	// An id must match exactly one user; several matches mean the
	// connector's id attribute is not unique, which is as unresolvable as
	// zero matches.
	if len(users) != 1 || users[0] == nil {
		return nil, ErrNotFound("User", id)
	}
	user := users[0]
	if err := s.backfillGroups(ctx, conn, tenant, []*User{user}); err != nil {
		return nil, WrapConnectorError("resolve user groups", err)
	}
	s.stampUser(tenant, user)
	return user, nil
}

// CreateUser creates a user and returns its stored representation. When
// the connector does not echo an id, the user is re-fetched by its unique
// attribute so the response always carries one.
func (s *Server) CreateUser(ctx context.Context, conn Connector, tenant string, user *User) (*User, *SCIMError) {
	if user.UserName == "" && user.ExternalID == "" {
		return nil, ErrInvalidValue("userName or externalId is required")
	}

	// Memberships supplied at creation time are assigned through the
	// groups once the id is known, unless the connector stores them on
	// the user object.
	var initialGroups []GroupRef
	if !s.opts.GroupMemberOfUser && len(user.Groups) > 0 {
		initialGroups = user.Groups
		user.Groups = nil
	}

	created, err := conn.CreateUser(ctx, tenant, user)
	if err != nil {
		return nil, WrapConnectorError("create user", err)
	}
	if created == nil {
		created = user
	}

	if created.ID == "" {
		attr, value := "userName", user.UserName
		if value == "" {
			attr, value = "externalId", user.ExternalID
		}
		q := QueryDescriptor{Attribute: attr, Operator: "eq", Value: value}
		fetched, err := conn.Users(ctx, tenant, q, nil)
		if err != nil {
			return nil, WrapConnectorError("fetch created user", err)
		}
		if len(fetched) == 0 || fetched[0] == nil || fetched[0].ID == "" {
			return nil, ErrInternalServer("connector returned no id for created user")
		}
		created = fetched[0]
	}

	if len(initialGroups) > 0 {
		if err := s.applyUserMemberships(ctx, conn, tenant, created.ID, groupRefsToMembers(initialGroups), nil); err != nil {
			return nil, WrapConnectorError("assign initial memberships", err)
		}
		created.Groups = initialGroups
	}

	s.stampUser(tenant, created)
	s.logger.Info("user created", "tenant", tenant, "id", created.ID)
	return created, nil
}

// ModifyUser applies a normalized PATCH: the attribute delta goes to the
// connector in one call, membership changes fan out in parallel, one
// ModifyGroupMembers call per affected group. Membership failures are
// aggregated, not short-circuited, so unrelated groups still converge.
func (s *Server) ModifyUser(ctx context.Context, conn Connector, tenant, id string, req *ModifyRequest) *SCIMError {
	if req.IsEmpty() {
		return nil
	}

	delta := req.Delta
	if s.opts.GroupMemberOfUser && (len(req.GroupAdd) > 0 || len(req.GroupRemove) > 0) {
		delta = withGroupDelta(delta, req.GroupAdd, req.GroupRemove)
	}

	if len(delta) > 0 {
		if err := conn.ModifyUser(ctx, tenant, id, delta); err != nil {
			return WrapConnectorError("modify user", err)
		}
	}

	if !s.opts.GroupMemberOfUser {
		if err := s.applyUserMemberships(ctx, conn, tenant, id, req.GroupAdd, req.GroupRemove); err != nil {
			return WrapConnectorError("modify user memberships", err)
		}
	}
	return nil
}

// ReplaceUser implements PUT: diff the stored user against the body and
// apply only the attributes that changed. Full-replacement clearing is
// suppressed in soft-sync mode.
func (s *Server) ReplaceUser(ctx context.Context, conn Connector, tenant, id string, desired *User) *SCIMError {
	current, scimErr := s.GetUser(ctx, conn, tenant, id, nil)
	if scimErr != nil {
		return scimErr
	}

	curAttrs, err := ToAttributes(current)
	if err != nil {
		return ErrInternalServer("encode current user: " + err.Error())
	}
	desAttrs, err := ToAttributes(desired)
	if err != nil {
		return ErrInvalidSyntax("encode replacement user: " + err.Error())
	}

	delta := s.replacer.Diff(curAttrs, desAttrs)
	add, remove := MembershipDiff(groupRefsToMembers(current.Groups), groupRefsToMembers(desired.Groups))
	if s.opts.SoftSync {
		remove = nil
	}

	return s.ModifyUser(ctx, conn, tenant, id, &ModifyRequest{
		Delta:       delta,
		GroupAdd:    add,
		GroupRemove: remove,
	})
}

// DeleteUser revokes the user's group memberships best-effort, then
// deletes the user. Membership cleanup failures are logged, not fatal:
// the delete must still go through.
func (s *Server) DeleteUser(ctx context.Context, conn Connector, tenant, id string) *SCIMError {
	if !s.connectorInlinesGroups(conn) {
		q := QueryDescriptor{Attribute: "members.value", Operator: "eq", Value: id}
		groups, err := conn.Groups(ctx, tenant, q, []string{"id", "displayName"})
		if err != nil {
			s.logger.Warn("membership lookup before delete failed", "tenant", tenant, "id", id, "error", err)
		}
		member := []MemberRef{{Value: id}}
		for _, g := range groups {
			if g == nil {
				continue
			}
			if err := conn.ModifyGroupMembers(ctx, tenant, g.ID, nil, member); err != nil {
				s.logger.Warn("membership revoke before delete failed", "tenant", tenant, "group", g.ID, "user", id, "error", err)
			}
		}
	}

	if err := conn.DeleteUser(ctx, tenant, id); err != nil {
		return WrapConnectorError("delete user", err)
	}
	s.logger.Info("user deleted", "tenant", tenant, "id", id)
	return nil
}

// ---- group operations ----

func (s *Server) QueryGroups(ctx context.Context, conn Connector, tenant string, params QueryParams) ([]*Group, *SCIMError) {
	qs, err := TranslateFilter(params.Filter)
	if err != nil {
		if scimErr, ok := err.(*SCIMError); ok {
			return nil, scimErr
		}
		return nil, ErrInvalidFilter(err.Error())
	}

	groups, err := ResolveUnion(ctx, qs, func(g *Group) string { return g.ID },
		func(ctx context.Context, q QueryDescriptor) ([]*Group, error) {
			return conn.Groups(ctx, tenant, q, params.Attributes)
		})
	if err != nil {
		return nil, WrapConnectorError("query groups", err)
	}
	for _, g := range groups {
		s.stampGroup(tenant, g)
	}
	return groups, nil
}

func (s *Server) GetGroup(ctx context.Context, conn Connector, tenant, id string, attrs []string) (*Group, *SCIMError) {
	q := QueryDescriptor{Attribute: "id", Operator: "eq", Value: id}
	groups, err := conn.Groups(ctx, tenant, q, attrs)
	if err != nil {
		return nil, WrapConnectorError("get group", err)
	}
	if len(groups) != 1 || groups[0] == nil {
		return nil, ErrNotFound("Group", id)
	}
	group := groups[0]
	s.stampGroup(tenant, group)
	return group, nil
}

func (s *Server) CreateGroup(ctx context.Context, conn Connector, tenant string, group *Group) (*Group, *SCIMError) {
	if group.DisplayName == "" && group.ExternalID == "" {
		return nil, ErrInvalidValue("displayName or externalId is required")
	}

	members := group.Members
	group.Members = nil

	created, err := conn.CreateGroup(ctx, tenant, group)
	if err != nil {
		return nil, WrapConnectorError("create group", err)
	}
	if created == nil {
		created = group
	}

	if created.ID == "" {
		attr, value := "displayName", group.DisplayName
		if value == "" {
			attr, value = "externalId", group.ExternalID
		}
		q := QueryDescriptor{Attribute: attr, Operator: "eq", Value: value}
		fetched, err := conn.Groups(ctx, tenant, q, nil)
		if err != nil {
			return nil, WrapConnectorError("fetch created group", err)
		}
		if len(fetched) == 0 || fetched[0] == nil || fetched[0].ID == "" {
			return nil, ErrInternalServer("connector returned no id for created group")
		}
		created = fetched[0]
	}

	if len(members) > 0 {
		if err := conn.ModifyGroupMembers(ctx, tenant, created.ID, members, nil); err != nil {
			return nil, WrapConnectorError("assign initial members", err)
		}
		created.Members = members
	}

	s.stampGroup(tenant, created)
	s.logger.Info("group created", "tenant", tenant, "id", created.ID)
	return created, nil
}

func (s *Server) ModifyGroup(ctx context.Context, conn Connector, tenant, id string, req *ModifyRequest) *SCIMError {
	if req.IsEmpty() {
		return nil
	}
	if len(req.Delta) > 0 {
		if err := conn.ModifyGroup(ctx, tenant, id, req.Delta); err != nil {
			return WrapConnectorError("modify group", err)
		}
	}
	if len(req.GroupAdd) > 0 || len(req.GroupRemove) > 0 {
		if err := conn.ModifyGroupMembers(ctx, tenant, id, req.GroupAdd, req.GroupRemove); err != nil {
			return WrapConnectorError("modify group members", err)
		}
	}
	return nil
}

func (s *Server) ReplaceGroup(ctx context.Context, conn Connector, tenant, id string, desired *Group) *SCIMError {
	current, scimErr := s.GetGroup(ctx, conn, tenant, id, nil)
	if scimErr != nil {
		return scimErr
	}

	curAttrs, err := ToAttributes(current)
	if err != nil {
		return ErrInternalServer("encode current group: " + err.Error())
	}
	desAttrs, err := ToAttributes(desired)
	if err != nil {
		return ErrInvalidSyntax("encode replacement group: " + err.Error())
	}

	delta := s.replacer.Diff(curAttrs, desAttrs)
	add, remove := MembershipDiff(current.Members, desired.Members)
	if s.opts.SoftSync {
		remove = nil
	}

	return s.ModifyGroup(ctx, conn, tenant, id, &ModifyRequest{
		Delta:       delta,
		GroupAdd:    add,
		GroupRemove: remove,
	})
}

func (s *Server) DeleteGroup(ctx context.Context, conn Connector, tenant, id string) *SCIMError {
	if err := conn.DeleteGroup(ctx, tenant, id); err != nil {
		return WrapConnectorError("delete group", err)
	}
	s.logger.Info("group deleted", "tenant", tenant, "id", id)
	return nil
}

// ---- shared orchestration helpers ----

func (s *Server) connectorInlinesGroups(conn Connector) bool {
	ig, ok := conn.(InlineGroups)
	return ok && ig.InlinesGroups()
}

// backfillGroups populates user.groups via the reverse membership query,
// one bounded-parallel lookup per user. Connectors that inline groups
// skip it.
func (s *Server) backfillGroups(ctx context.Context, conn Connector, tenant string, users []*User) error {
	if len(users) == 0 || s.connectorInlinesGroups(conn) {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(membershipConcurrency)
	for _, user := range users {
		user := user
		if user == nil || user.ID == "" || len(user.Groups) > 0 {
			continue
		}
		g.Go(func() error {
			q := QueryDescriptor{Attribute: "members.value", Operator: "eq", Value: user.ID}
			groups, err := conn.Groups(ctx, tenant, q, []string{"id", "displayName"})
			if err != nil {
				return err
			}
			refs := make([]GroupRef, 0, len(groups))
			for _, grp := range groups {
				if grp == nil {
					continue
				}
				refs = append(refs, GroupRef{
					Value:   grp.ID,
					Display: grp.DisplayName,
					Type:    "direct",
				})
			}
			user.Groups = refs
			return nil
		})
	}
	return g.Wait()
}

// applyUserMemberships adds and removes one user across many groups in
// parallel. Errors are collected per group and aggregated.
func (s *Server) applyUserMemberships(ctx context.Context, conn Connector, tenant, userID string, add, remove []MemberRef) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	member := []MemberRef{{Value: userID}}

	var mu sync.Mutex
	var merr *multierror.Error

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(membershipConcurrency)

	apply := func(groupID string, assign bool) {
		g.Go(func() error {
			var err error
			if assign {
				err = conn.ModifyGroupMembers(ctx, tenant, groupID, member, nil)
			} else {
				err = conn.ModifyGroupMembers(ctx, tenant, groupID, nil, member)
			}
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
			return nil
		})
	}

	for _, ref := range add {
		apply(ref.Value, true)
	}
	for _, ref := range remove {
		apply(ref.Value, false)
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return merr.ErrorOrNil()
}

// withGroupDelta folds membership changes into the user delta for
// group-member-of-user backends.
func withGroupDelta(delta Attributes, add, remove []MemberRef) Attributes {
	if delta == nil {
		delta = make(Attributes)
	}
	entries := make([]any, 0, len(add)+len(remove))
	for _, ref := range add {
		entries = append(entries, map[string]any{"value": ref.Value, "display": ref.Display})
	}
	for _, ref := range remove {
		entries = append(entries, map[string]any{"value": ref.Value, "operation": OperationDelete})
	}
	delta["groups"] = entries
	return delta
}

func groupRefsToMembers(refs []GroupRef) []MemberRef {
	out := make([]MemberRef, 0, len(refs))
	for _, ref := range refs {
		out = append(out, MemberRef{Value: ref.Value, Display: ref.Display})
	}
	return out
}

// wantsGroups reports whether the projection still needs user.groups
// resolved. Skipping the reverse lookup when groups are projected away
// saves one connector query per user.
func wantsGroups(attributes, excluded []string) bool {
	for _, attr := range excluded {
		if strings.EqualFold(strings.SplitN(attr, ".", 2)[0], "groups") {
			return false
		}
	}
	if len(attributes) == 0 {
		return true
	}
	for _, attr := range attributes {
		if strings.EqualFold(strings.SplitN(attr, ".", 2)[0], "groups") {
			return true
		}
	}
	return false
}

func (s *Server) stampUser(tenant string, user *User) {
	if user == nil {
		return
	}
	if len(user.Schemas) == 0 {
		user.Schemas = []string{SchemaUser}
	}
	if user.Meta == nil {
		user.Meta = &Meta{}
	}
	user.Meta.ResourceType = "User"
	if user.ID != "" {
		user.Meta.Location = s.handler.GetResourceLocation(tenant, ResourceUsers, user.ID)
	}
	s.etagGen.UpdateResourceVersion(user)
}

func (s *Server) stampGroup(tenant string, group *Group) {
	if group == nil {
		return
	}
	if len(group.Schemas) == 0 {
		group.Schemas = []string{SchemaGroup}
	}
	if group.Meta == nil {
		group.Meta = &Meta{}
	}
	group.Meta.ResourceType = "Group"
	if group.ID != "" {
		group.Meta.Location = s.handler.GetResourceLocation(tenant, ResourceGroups, group.ID)
	}
	s.etagGen.UpdateResourceVersion(group)
}

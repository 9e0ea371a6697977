package scim

import (
	"context"
	"net/http"
)

// HTTP layer: request parsing, preconditions, projection and response
// shaping around the core operations.

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	params, err := s.handler.ParseQueryParams(r)
	if err != nil {
		s.handler.WriteError(w, http.StatusBadRequest, err.Error(), ScimTypeInvalidValue)
		return
	}

	users, scimErr := s.QueryUsers(r.Context(), conn, route.Tenant, params)
	if scimErr != nil {
		s.logListError(scimErr, "Users", route.Tenant)
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if params.Count <= 0 {
		params.Count = s.opts.PageSize
	}
	page, total := ProcessListQuery(users, params)
	writeList(s, w, page, total, params)
}

func (s *Server) postUser(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	var user User
	if scimErr := DecodeBody(r, &user); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	created, scimErr := s.CreateUser(r.Context(), conn, route.Tenant, &user)
	if scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	s.writeCreated(w, created.Meta)
	s.handler.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	params, err := s.handler.ParseQueryParams(r)
	if err != nil {
		s.handler.WriteError(w, http.StatusBadRequest, err.Error(), ScimTypeInvalidValue)
		return
	}

	user, scimErr := s.GetUser(r.Context(), conn, route.Tenant, route.ID, params.Attributes)
	if scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if scimErr := s.etagGen.CheckPreconditions(r, user.Meta.Version); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	s.writeResource(w, user, user.Meta.Version, params)
}

func (s *Server) putUser(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	var desired User
	if scimErr := DecodeBody(r, &desired); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if scimErr := s.checkWritePrecondition(r, conn, route, true); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if scimErr := s.ReplaceUser(r.Context(), conn, route.Tenant, route.ID, &desired); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	s.respondWithUser(w, r, route, conn)
}

func (s *Server) patchUser(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	var body map[string]any
	if scimErr := DecodeBody(r, &body); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	req, scimErr := NormalizePatch(body, ResourceUsers)
	if scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if scimErr := s.checkWritePrecondition(r, conn, route, true); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if scimErr := s.ModifyUser(r.Context(), conn, route.Tenant, route.ID, req); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	s.respondWithUser(w, r, route, conn)
}

func (s *Server) removeUser(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	if scimErr := s.DeleteUser(r.Context(), conn, route.Tenant, route.ID); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondWithUser re-fetches the modified user for the response body. When
// the fetch fails the modification itself already succeeded, so the
// response degrades to 204 instead of surfacing an error.
func (s *Server) respondWithUser(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	user, scimErr := s.GetUser(r.Context(), conn, route.Tenant, route.ID, nil)
	if scimErr != nil {
		s.logger.Warn("re-fetch after modify failed", "tenant", route.Tenant, "id", route.ID, "error", scimErr.Detail)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeResource(w, user, user.Meta.Version, QueryParams{})
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	params, err := s.handler.ParseQueryParams(r)
	if err != nil {
		s.handler.WriteError(w, http.StatusBadRequest, err.Error(), ScimTypeInvalidValue)
		return
	}

	groups, scimErr := s.QueryGroups(r.Context(), conn, route.Tenant, params)
	if scimErr != nil {
		s.logListError(scimErr, "Groups", route.Tenant)
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if params.Count <= 0 {
		params.Count = s.opts.PageSize
	}
	page, total := ProcessListQuery(groups, params)
	writeList(s, w, page, total, params)
}

func (s *Server) postGroup(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	var group Group
	if scimErr := DecodeBody(r, &group); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	created, scimErr := s.CreateGroup(r.Context(), conn, route.Tenant, &group)
	if scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	s.writeCreated(w, created.Meta)
	s.handler.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	params, err := s.handler.ParseQueryParams(r)
	if err != nil {
		s.handler.WriteError(w, http.StatusBadRequest, err.Error(), ScimTypeInvalidValue)
		return
	}

	group, scimErr := s.GetGroup(r.Context(), conn, route.Tenant, route.ID, params.Attributes)
	if scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if scimErr := s.etagGen.CheckPreconditions(r, group.Meta.Version); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	s.writeResource(w, group, group.Meta.Version, params)
}

func (s *Server) putGroup(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	var desired Group
	if scimErr := DecodeBody(r, &desired); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if scimErr := s.checkWritePrecondition(r, conn, route, false); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if scimErr := s.ReplaceGroup(r.Context(), conn, route.Tenant, route.ID, &desired); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	s.respondWithGroup(w, r, route, conn)
}

func (s *Server) patchGroup(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	var body map[string]any
	if scimErr := DecodeBody(r, &body); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	req, scimErr := NormalizePatch(body, ResourceGroups)
	if scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if scimErr := s.checkWritePrecondition(r, conn, route, false); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if scimErr := s.ModifyGroup(r.Context(), conn, route.Tenant, route.ID, req); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	s.respondWithGroup(w, r, route, conn)
}

func (s *Server) removeGroup(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	if scimErr := s.DeleteGroup(r.Context(), conn, route.Tenant, route.ID); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondWithGroup(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	group, scimErr := s.GetGroup(r.Context(), conn, route.Tenant, route.ID, nil)
	if scimErr != nil {
		s.logger.Warn("re-fetch after modify failed", "tenant", route.Tenant, "id", route.ID, "error", scimErr.Detail)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeResource(w, group, group.Meta.Version, QueryParams{})
}

// ---- ServicePlans / AppRoles ----

func (s *Server) handleReadOnlyObjects(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	if r.Method != http.MethodGet {
		s.handler.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	params, err := s.handler.ParseQueryParams(r)
	if err != nil {
		s.handler.WriteError(w, http.StatusBadRequest, err.Error(), ScimTypeInvalidValue)
		return
	}
	if route.ID != "" && params.Filter == "" {
		params.Filter = `id eq "` + route.ID + `"`
	}

	qs, terr := TranslateFilter(params.Filter)
	if terr != nil {
		if scimErr, ok := terr.(*SCIMError); ok {
			s.handler.WriteSCIMError(w, scimErr)
			return
		}
		s.handler.WriteError(w, http.StatusBadRequest, terr.Error(), ScimTypeInvalidFilter)
		return
	}

	var fetch func(ctx context.Context, q QueryDescriptor) ([]Object, error)
	switch route.Resource {
	case ResourceServicePlans:
		provider, ok := conn.(ServicePlanProvider)
		if !ok {
			s.handler.WriteSCIMError(w, ErrNotImplemented("ServicePlans"))
			return
		}
		fetch = func(ctx context.Context, q QueryDescriptor) ([]Object, error) {
			return provider.ServicePlans(ctx, route.Tenant, q, params.Attributes)
		}
	default:
		provider, ok := conn.(AppRoleProvider)
		if !ok {
			s.handler.WriteSCIMError(w, ErrNotImplemented("AppRoles"))
			return
		}
		fetch = func(ctx context.Context, q QueryDescriptor) ([]Object, error) {
			return provider.AppRoles(ctx, route.Tenant, q, params.Attributes)
		}
	}

	objects, err := ResolveUnion(r.Context(), qs, Object.ID, fetch)
	if err != nil {
		s.handler.WriteSCIMError(w, WrapConnectorError("query "+route.Resource.String(), err))
		return
	}

	if route.ID != "" {
		if len(objects) == 0 {
			s.handler.WriteSCIMError(w, ErrNotFound(route.Resource.String(), route.ID))
			return
		}
		s.writeResource(w, objects[0], "", params)
		return
	}

	if params.Count <= 0 {
		params.Count = s.opts.PageSize
	}
	page, total := ProcessListQuery(objects, params)
	writeList(s, w, page, total, params)
}

// ---- generic /api passthrough ----

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	provider, ok := conn.(ObjectProvider)
	if !ok {
		s.handler.WriteSCIMError(w, ErrNotImplemented("api passthrough"))
		return
	}
	ctx := r.Context()

	switch {
	case route.ID == "" && r.Method == http.MethodGet:
		objects, err := provider.Objects(ctx, route.Tenant, QueryDescriptor{})
		if err != nil {
			s.handler.WriteSCIMError(w, WrapConnectorError("query objects", err))
			return
		}
		s.handler.WriteJSON(w, http.StatusOK, BuildListResponse(objects, len(objects), 1))

	case route.ID != "" && r.Method == http.MethodGet:
		q := QueryDescriptor{Attribute: "id", Operator: "eq", Value: route.ID}
		objects, err := provider.Objects(ctx, route.Tenant, q)
		if err != nil {
			s.handler.WriteSCIMError(w, WrapConnectorError("get object", err))
			return
		}
		if len(objects) == 0 {
			s.handler.WriteSCIMError(w, ErrNotFound("object", route.ID))
			return
		}
		s.handler.WriteJSON(w, http.StatusOK, objects[0])

	case route.ID == "" && r.Method == http.MethodPost:
		var obj Object
		if scimErr := DecodeBody(r, &obj); scimErr != nil {
			s.handler.WriteSCIMError(w, scimErr)
			return
		}
		created, err := provider.CreateObject(ctx, route.Tenant, obj)
		if err != nil {
			s.handler.WriteSCIMError(w, WrapConnectorError("create object", err))
			return
		}
		s.handler.WriteJSON(w, http.StatusCreated, created)

	case route.ID != "" && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		var obj Object
		if scimErr := DecodeBody(r, &obj); scimErr != nil {
			s.handler.WriteSCIMError(w, scimErr)
			return
		}
		if err := provider.ModifyObject(ctx, route.Tenant, route.ID, obj); err != nil {
			s.handler.WriteSCIMError(w, WrapConnectorError("modify object", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case route.ID != "" && r.Method == http.MethodDelete:
		if err := provider.DeleteObject(ctx, route.Tenant, route.ID); err != nil {
			s.handler.WriteSCIMError(w, WrapConnectorError("delete object", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.handler.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

// ---- response shaping ----

// checkWritePrecondition enforces If-Match on writes against the current
// resource version. Without an If-Match header the write proceeds.
func (s *Server) checkWritePrecondition(r *http.Request, conn Connector, route Route, isUser bool) *SCIMError {
	if r.Header.Get("If-Match") == "" && r.Header.Get("If-None-Match") == "" {
		return nil
	}

	var version string
	if isUser {
		user, scimErr := s.GetUser(r.Context(), conn, route.Tenant, route.ID, nil)
		if scimErr != nil {
			return scimErr
		}
		version = user.Meta.Version
	} else {
		group, scimErr := s.GetGroup(r.Context(), conn, route.Tenant, route.ID, nil)
		if scimErr != nil {
			return scimErr
		}
		version = group.Meta.Version
	}
	return s.etagGen.CheckPreconditions(r, version)
}

// writeResource writes a single resource, applying attribute projection
// and the ETag header.
func (s *Server) writeResource(w http.ResponseWriter, resource any, etag string, params QueryParams) {
	selector := NewAttributeSelector(params.Attributes, params.ExcludedAttr)
	projected, err := selector.FilterResource(resource)
	if err != nil {
		s.handler.WriteError(w, http.StatusInternalServerError, "project resource: "+err.Error(), "")
		return
	}
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	s.handler.WriteJSON(w, http.StatusOK, projected)
}

// writeList writes a list envelope, applying attribute projection per
// resource. A free function because methods cannot be generic.
func writeList[T any](s *Server, w http.ResponseWriter, resources []T, total int, params QueryParams) {
	selector := NewAttributeSelector(params.Attributes, params.ExcludedAttr)
	projected := make([]any, 0, len(resources))
	for _, res := range resources {
		p, err := selector.FilterResource(res)
		if err != nil {
			s.handler.WriteError(w, http.StatusInternalServerError, "project resource: "+err.Error(), "")
			return
		}
		projected = append(projected, p)
	}
	s.handler.WriteJSON(w, http.StatusOK, BuildListResponse(projected, total, params.StartIndex))
}

func (s *Server) writeCreated(w http.ResponseWriter, meta *Meta) {
	if meta == nil {
		return
	}
	if meta.Location != "" {
		w.Header().Set("Location", meta.Location)
	}
	if meta.Version != "" {
		w.Header().Set("ETag", meta.Version)
	}
}

func (s *Server) logListError(scimErr *SCIMError, resource, tenant string) {
	if scimErr.Status >= http.StatusInternalServerError {
		s.logger.Error("list "+resource+" failed", "tenant", tenant, "error", scimErr.Detail)
	}
}

package scim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// DefaultBulkMaxOperations caps a bulk request when no limit is
// configured.
const DefaultBulkMaxOperations = 1000

// bulkIDPrefix marks a reference to the resource created by another
// operation in the same request.
const bulkIDPrefix = "bulkId:"

// BulkRequest represents a SCIM bulk request
type BulkRequest struct {
	Schemas      []string        `json:"schemas"`
	FailOnErrors int             `json:"failOnErrors,omitempty"`
	Operations   []BulkOperation `json:"Operations"`
}

// BulkResponse represents a SCIM bulk response
type BulkResponse struct {
	Schemas    []string                `json:"schemas"`
	Operations []BulkOperationResponse `json:"Operations"`
}

// BulkOperation represents a single bulk operation
type BulkOperation struct {
	Method  string         `json:"method"`
	BulkID  string         `json:"bulkId,omitempty"`
	Version string         `json:"version,omitempty"`
	Path    string         `json:"path"`
	Data    map[string]any `json:"data,omitempty"`
}

// BulkOperationResponse represents a bulk operation response
type BulkOperationResponse struct {
	Method   string `json:"method,omitempty"`
	BulkID   string `json:"bulkId,omitempty"`
	Version  string `json:"version,omitempty"`
	Location string `json:"location,omitempty"`
	Response any    `json:"response,omitempty"`
	Status   string `json:"status"`
}

// handleBulk validates, orders and executes a bulk request. Operations
// referencing another operation's bulkId run after it regardless of
// request order; a reference cycle rejects the whole request before any
// side effect.
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request, route Route, conn Connector) {
	if r.Method != http.MethodPost {
		s.handler.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	var bulkReq BulkRequest
	if scimErr := DecodeBody(r, &bulkReq); scimErr != nil {
		s.handler.WriteSCIMError(w, scimErr)
		return
	}

	if !slices.Contains(bulkReq.Schemas, SchemaBulkRequest) {
		s.handler.WriteError(w, http.StatusBadRequest, "missing bulk request schema", ScimTypeInvalidValue)
		return
	}

	if len(bulkReq.Operations) > s.opts.BulkMaxOperations {
		s.handler.WriteSCIMError(w, ErrTooMany(
			fmt.Sprintf("bulk request carries %d operations, limit is %d", len(bulkReq.Operations), s.opts.BulkMaxOperations)))
		return
	}

	graph, bulkIDToIndex, err := buildDependencyGraph(bulkReq.Operations)
	if err != nil {
		s.handler.WriteError(w, http.StatusBadRequest, err.Error(), ScimTypeInvalidValue)
		return
	}

	order, cycle := topologicalOrder(graph, len(bulkReq.Operations))
	if cycle != nil {
		s.handler.WriteSCIMError(w, ErrConflict(
			"circular bulkId reference: "+strings.Join(cycleBulkIDs(cycle, bulkIDToIndex), ", ")))
		return
	}

	responses := s.executeBulk(r.Context(), conn, route, bulkReq, order)

	s.handler.WriteJSON(w, http.StatusOK, BulkResponse{
		Schemas:    []string{SchemaBulkResponse},
		Operations: responses,
	})
}

// executeBulk runs the operations in dependency order, resolving bulkId
// placeholders as their targets materialize. Responses come back in
// request order; operations skipped by failOnErrors are omitted.
func (s *Server) executeBulk(ctx context.Context, conn Connector, route Route, bulkReq BulkRequest, order []int) []BulkOperationResponse {
	indexed := make([]*BulkOperationResponse, len(bulkReq.Operations))
	bulkIDMap := make(map[string]string)
	errorCount := 0

	for _, idx := range order {
		op := bulkReq.Operations[idx]

		path := op.Path
		for bulkID, resourceID := range bulkIDMap {
			path = strings.ReplaceAll(path, bulkIDPrefix+bulkID, resourceID)
		}
		if op.Data != nil {
			if replaced, ok := resolveBulkIDs(op.Data, bulkIDMap).(map[string]any); ok {
				op.Data = replaced
			}
		}

		resp := s.executeBulkOperation(ctx, conn, route, op, path, bulkIDMap)
		indexed[idx] = &resp

		if status, _ := strconv.Atoi(resp.Status); status >= http.StatusBadRequest {
			errorCount++
			if bulkReq.FailOnErrors > 0 && errorCount >= bulkReq.FailOnErrors {
				break
			}
		}
	}

	responses := make([]BulkOperationResponse, 0, len(indexed))
	for _, resp := range indexed {
		if resp != nil {
			responses = append(responses, *resp)
		}
	}
	return responses
}

func (s *Server) executeBulkOperation(ctx context.Context, conn Connector, route Route, op BulkOperation, path string, bulkIDMap map[string]string) BulkOperationResponse {
	resp := BulkOperationResponse{Method: op.Method, BulkID: op.BulkID}

	opRoute, err := ResolveRoute(path)
	if err != nil {
		return bulkError(resp, ErrInvalidPath("bulk operation path: "+err.Error()))
	}
	if opRoute.Tenant == DefaultTenant {
		opRoute.Tenant = route.Tenant
	}

	if unresolved := strings.Contains(path, bulkIDPrefix); unresolved {
		return bulkError(resp, ErrInvalidValue("unresolved bulkId reference in path "+path))
	}

	switch strings.ToUpper(op.Method) {
	case http.MethodPost:
		return s.bulkCreate(ctx, conn, opRoute, op, bulkIDMap)
	case http.MethodPut:
		return s.bulkReplace(ctx, conn, opRoute, op)
	case http.MethodPatch:
		return s.bulkPatch(ctx, conn, opRoute, op)
	case http.MethodDelete:
		return s.bulkDelete(ctx, conn, opRoute, op)
	}
	return bulkError(resp, ErrInvalidValue("unsupported bulk method "+op.Method))
}

func (s *Server) bulkCreate(ctx context.Context, conn Connector, route Route, op BulkOperation, bulkIDMap map[string]string) BulkOperationResponse {
	resp := BulkOperationResponse{Method: op.Method, BulkID: op.BulkID}

	switch route.Resource {
	case ResourceUsers:
		var user User
		if scimErr := decodeBulkData(op.Data, &user); scimErr != nil {
			return bulkError(resp, scimErr)
		}
		created, scimErr := s.CreateUser(ctx, conn, route.Tenant, &user)
		if scimErr != nil {
			return bulkError(resp, scimErr)
		}
		if op.BulkID != "" {
			bulkIDMap[op.BulkID] = created.ID
		}
		resp.Status = "201"
		resp.Location = created.Meta.Location
		resp.Version = created.Meta.Version
		return resp

	case ResourceGroups:
		var group Group
		if scimErr := decodeBulkData(op.Data, &group); scimErr != nil {
			return bulkError(resp, scimErr)
		}
		created, scimErr := s.CreateGroup(ctx, conn, route.Tenant, &group)
		if scimErr != nil {
			return bulkError(resp, scimErr)
		}
		if op.BulkID != "" {
			bulkIDMap[op.BulkID] = created.ID
		}
		resp.Status = "201"
		resp.Location = created.Meta.Location
		resp.Version = created.Meta.Version
		return resp
	}
	return bulkError(resp, ErrInvalidPath("bulk create supports Users and Groups only"))
}

func (s *Server) bulkReplace(ctx context.Context, conn Connector, route Route, op BulkOperation) BulkOperationResponse {
	resp := BulkOperationResponse{Method: op.Method, BulkID: op.BulkID}
	if route.ID == "" {
		return bulkError(resp, ErrInvalidPath("bulk replace requires a resource id"))
	}

	switch route.Resource {
	case ResourceUsers:
		var user User
		if scimErr := decodeBulkData(op.Data, &user); scimErr != nil {
			return bulkError(resp, scimErr)
		}
		if scimErr := s.ReplaceUser(ctx, conn, route.Tenant, route.ID, &user); scimErr != nil {
			return bulkError(resp, scimErr)
		}
	case ResourceGroups:
		var group Group
		if scimErr := decodeBulkData(op.Data, &group); scimErr != nil {
			return bulkError(resp, scimErr)
		}
		if scimErr := s.ReplaceGroup(ctx, conn, route.Tenant, route.ID, &group); scimErr != nil {
			return bulkError(resp, scimErr)
		}
	default:
		return bulkError(resp, ErrInvalidPath("bulk replace supports Users and Groups only"))
	}

	resp.Status = "200"
	resp.Location = s.handler.GetResourceLocation(route.Tenant, route.Resource, route.ID)
	return resp
}

func (s *Server) bulkPatch(ctx context.Context, conn Connector, route Route, op BulkOperation) BulkOperationResponse {
	resp := BulkOperationResponse{Method: op.Method, BulkID: op.BulkID}
	if route.ID == "" {
		return bulkError(resp, ErrInvalidPath("bulk patch requires a resource id"))
	}

	req, scimErr := NormalizePatch(op.Data, route.Resource)
	if scimErr != nil {
		return bulkError(resp, scimErr)
	}

	switch route.Resource {
	case ResourceUsers:
		scimErr = s.ModifyUser(ctx, conn, route.Tenant, route.ID, req)
	case ResourceGroups:
		scimErr = s.ModifyGroup(ctx, conn, route.Tenant, route.ID, req)
	default:
		return bulkError(resp, ErrInvalidPath("bulk patch supports Users and Groups only"))
	}
	if scimErr != nil {
		return bulkError(resp, scimErr)
	}

	resp.Status = "204"
	return resp
}

func (s *Server) bulkDelete(ctx context.Context, conn Connector, route Route, op BulkOperation) BulkOperationResponse {
	resp := BulkOperationResponse{Method: op.Method, BulkID: op.BulkID}
	if route.ID == "" {
		return bulkError(resp, ErrInvalidPath("bulk delete requires a resource id"))
	}

	var scimErr *SCIMError
	switch route.Resource {
	case ResourceUsers:
		scimErr = s.DeleteUser(ctx, conn, route.Tenant, route.ID)
	case ResourceGroups:
		scimErr = s.DeleteGroup(ctx, conn, route.Tenant, route.ID)
	default:
		return bulkError(resp, ErrInvalidPath("bulk delete supports Users and Groups only"))
	}
	if scimErr != nil {
		return bulkError(resp, scimErr)
	}

	resp.Status = "204"
	return resp
}

func bulkError(resp BulkOperationResponse, scimErr *SCIMError) BulkOperationResponse {
	resp.Status = strconv.Itoa(scimErr.Status)
	resp.Response = ErrorResponse{
		Schemas:  []string{SchemaError},
		Status:   resp.Status,
		Detail:   scimErr.Detail,
		ScimType: scimErr.ScimType,
	}
	return resp
}

func decodeBulkData(data map[string]any, dst any) *SCIMError {
	raw, err := json.Marshal(data)
	if err != nil {
		return ErrInvalidSyntax("invalid operation data")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return ErrInvalidSyntax("invalid operation data: " + err.Error())
	}
	return nil
}

// extractBulkIDReferences recursively collects the bulkIds an operation's
// data refers to.
func extractBulkIDReferences(data any) []string {
	var references []string

	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			if key == "value" {
				if strVal, ok := val.(string); ok {
					if after, found := strings.CutPrefix(strVal, bulkIDPrefix); found {
						references = append(references, after)
					}
				}
			}
			references = append(references, extractBulkIDReferences(val)...)
		}
	case []any:
		for _, item := range v {
			references = append(references, extractBulkIDReferences(item)...)
		}
	}

	return references
}

// buildDependencyGraph maps each operation index to the indices it
// depends on, both through data references and through bulkId
// placeholders in the path. Duplicate bulkIds are an error.
func buildDependencyGraph(operations []BulkOperation) (map[int][]int, map[string]int, error) {
	bulkIDToIndex := make(map[string]int)
	for i, op := range operations {
		if op.BulkID != "" {
			if _, exists := bulkIDToIndex[op.BulkID]; exists {
				return nil, nil, fmt.Errorf("duplicate bulkId: %s", op.BulkID)
			}
			bulkIDToIndex[op.BulkID] = i
		}
	}

	graph := make(map[int][]int)
	for i, op := range operations {
		references := extractBulkIDReferences(op.Data)
		if idx := strings.Index(op.Path, bulkIDPrefix); idx >= 0 {
			ref := op.Path[idx+len(bulkIDPrefix):]
			if slash := strings.IndexByte(ref, '/'); slash >= 0 {
				ref = ref[:slash]
			}
			references = append(references, ref)
		}
		for _, bulkID := range references {
			if depIndex, exists := bulkIDToIndex[bulkID]; exists && depIndex != i {
				graph[i] = append(graph[i], depIndex)
			}
			// References to unknown bulkIds fail during execution
		}
	}

	return graph, bulkIDToIndex, nil
}

// topologicalOrder returns an execution order in which every operation
// runs after its dependencies, preferring request order among ready
// operations. A cycle returns (nil, members-of-cycle).
func topologicalOrder(graph map[int][]int, numOps int) ([]int, []int) {
	remaining := make(map[int]int, numOps) // index -> unmet dependency count
	dependents := make(map[int][]int)
	for i := 0; i < numOps; i++ {
		remaining[i] = len(graph[i])
		for _, dep := range graph[i] {
			dependents[dep] = append(dependents[dep], i)
		}
	}

	order := make([]int, 0, numOps)
	done := make([]bool, numOps)
	for len(order) < numOps {
		progressed := false
		for i := 0; i < numOps; i++ {
			if done[i] || remaining[i] > 0 {
				continue
			}
			order = append(order, i)
			done[i] = true
			progressed = true
			for _, dependent := range dependents[i] {
				remaining[dependent]--
			}
		}
		if !progressed {
			var cycle []int
			for i := 0; i < numOps; i++ {
				if !done[i] {
					cycle = append(cycle, i)
				}
			}
			return nil, cycle
		}
	}

	return order, nil
}

func cycleBulkIDs(cycle []int, bulkIDToIndex map[string]int) []string {
	ids := make([]string, 0, len(cycle))
	for _, idx := range cycle {
		for bulkID, mapped := range bulkIDToIndex {
			if mapped == idx {
				ids = append(ids, bulkID)
				break
			}
		}
	}
	slices.Sort(ids)
	return ids
}

// resolveBulkIDs replaces bulkId placeholder values with the ids of
// already-created resources.
func resolveBulkIDs(data any, bulkIDMap map[string]string) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			if key == "value" {
				if strVal, ok := val.(string); ok {
					if after, found := strings.CutPrefix(strVal, bulkIDPrefix); found {
						if resourceID, exists := bulkIDMap[after]; exists {
							result[key] = resourceID
							continue
						}
					}
				}
			}
			result[key] = resolveBulkIDs(val, bulkIDMap)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = resolveBulkIDs(item, bulkIDMap)
		}
		return result
	default:
		return v
	}
}

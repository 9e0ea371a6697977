package auth

import (
	"context"

	"github.com/idgateway/scimgw/scim"
)

// PassThroughStrategy forwards the raw Authorization header to the
// tenant's connector, for backends that own their own credential
// validation (typically when the gateway fronts another API gateway).
type PassThroughStrategy struct {
	registry scim.Registry
}

func NewPassThroughStrategy(registry scim.Registry) *PassThroughStrategy {
	return &PassThroughStrategy{registry: registry}
}

func (s *PassThroughStrategy) Name() string { return "passthrough" }

func (s *PassThroughStrategy) Authenticate(ctx context.Context, req Request) (bool, error) {
	if req.Authorization == "" {
		return false, nil
	}
	conn, ok := s.registry.Get(req.Tenant)
	if !ok {
		return false, nil
	}
	validator, ok := conn.(scim.AuthPassThrough)
	if !ok {
		return false, nil
	}
	if err := validator.ValidateAuth(ctx, req.Tenant, req.Authorization); err != nil {
		return false, nil
	}
	return true, nil
}

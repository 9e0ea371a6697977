package auth

import (
	"context"

	"github.com/idgateway/scimgw/oauth"
)

// TokenValidator verifies a gateway-issued access token and returns its
// stored grant. *oauth.Issuer satisfies it.
type TokenValidator interface {
	Validate(token string) (oauth.Record, error)
}

// OAuthStrategy accepts bearer tokens minted by the gateway's own
// /oauth/token endpoint.
type OAuthStrategy struct {
	validator TokenValidator
}

func NewOAuthStrategy(validator TokenValidator) *OAuthStrategy {
	return &OAuthStrategy{validator: validator}
}

func (s *OAuthStrategy) Name() string { return "oauth" }

func (s *OAuthStrategy) Authenticate(_ context.Context, req Request) (bool, error) {
	token, ok := bearerToken(req.Authorization)
	if !ok || !looksLikeJWT(token) {
		return false, nil
	}

	rec, err := s.validator.Validate(token)
	if err != nil {
		// Not our token, or expired; another strategy may still match
		return false, nil
	}
	if !rec.AllowsTenant(req.Tenant) {
		return false, ErrForbidden
	}
	if rec.ReadOnly && req.Write {
		return false, ErrForbidden
	}
	return true, nil
}

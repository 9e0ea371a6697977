package oauth

import (
	"encoding/json"
	"net/http"
)

// openIDConfiguration is the subset of OpenID Provider metadata IdPs
// probe before talking to the token endpoint.
type openIDConfiguration struct {
	Issuer                           string   `json:"issuer"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
}

// HandleOpenIDConfiguration serves /.well-known/openid-configuration.
func (i *Issuer) HandleOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(openIDConfiguration{
		Issuer:                           i.issuer,
		TokenEndpoint:                    i.issuer + "/oauth/token",
		JWKSURI:                          i.issuer + "/.well-known/jwks.json",
		GrantTypesSupported:              []string{"client_credentials", "refresh_token"},
		TokenEndpointAuthMethods:         []string{"client_secret_basic", "client_secret_post"},
		ResponseTypesSupported:           []string{"token"},
		IDTokenSigningAlgValuesSupported: []string{"HS256"},
	})
}

// HandleJWKS serves /.well-known/jwks.json. Tokens are HMAC-signed, so
// there is no public key to publish; the endpoint exists because IdP
// discovery probes it and chokes on a 404.
func (i *Issuer) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"keys": []any{}})
}

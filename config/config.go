// Package config defines the gateway configuration model, its YAML/env
// loader and validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("config validation failed with %d errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Config represents the gateway configuration
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Auth    AuthConfig    `yaml:"auth"`
	SCIM    SCIMConfig    `yaml:"scim"`
}

// GatewayConfig represents gateway-specific configuration
type GatewayConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	Port        int           `yaml:"port"`
	TLS         *TLSConfig    `yaml:"tls,omitempty"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

// TLSConfig holds the certificate pair for HTTPS serving
type TLSConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// AuthConfig enumerates credentials per strategy. Every populated list
// activates its strategy; all active strategies race per request.
type AuthConfig struct {
	Basic        []BasicAuthConfig  `yaml:"basic,omitempty"`
	BearerTokens []BearerAuthConfig `yaml:"bearerTokens,omitempty"`
	JWT          []JWTAuthConfig    `yaml:"jwt,omitempty"`
	OAuthClients []OAuthClient      `yaml:"oauthClients,omitempty"`
	PassThrough  bool               `yaml:"passThrough,omitempty"`
	// BruteForceThreshold is the consecutive-failure count after which
	// further attempts from a peer are delayed. BruteForceDelay defaults
	// to five seconds under the gateway's idle timeout.
	BruteForceThreshold int           `yaml:"bruteForceThreshold,omitempty"`
	BruteForceDelay     time.Duration `yaml:"bruteForceDelay,omitempty"`
}

type BasicAuthConfig struct {
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	ReadOnly bool     `yaml:"readOnly,omitempty"`
	Tenants  []string `yaml:"tenants,omitempty"`
}

type BearerAuthConfig struct {
	Token    string   `yaml:"token"`
	ReadOnly bool     `yaml:"readOnly,omitempty"`
	Tenants  []string `yaml:"tenants,omitempty"`
}

type JWTAuthConfig struct {
	Secret   string   `yaml:"secret,omitempty"`
	JWKSURL  string   `yaml:"jwksURL,omitempty"`
	Issuer   string   `yaml:"issuer,omitempty"`
	Audience string   `yaml:"audience,omitempty"`
	ReadOnly bool     `yaml:"readOnly,omitempty"`
	Tenants  []string `yaml:"tenants,omitempty"`
}

type OAuthClient struct {
	ClientID      string        `yaml:"clientID"`
	ClientSecret  string        `yaml:"clientSecret"`
	ReadOnly      bool          `yaml:"readOnly,omitempty"`
	Tenants       []string      `yaml:"tenants,omitempty"`
	TokenLifetime time.Duration `yaml:"tokenLifetime,omitempty"`
}

// SCIMConfig tunes protocol behavior
type SCIMConfig struct {
	// SoftSync makes PUT merge instead of replace
	SoftSync bool `yaml:"softSync,omitempty"`
	// GroupMemberOfUser stores membership on the user object
	GroupMemberOfUser bool `yaml:"groupMemberOfUser,omitempty"`
	BulkMaxOperations int  `yaml:"bulkMaxOperations,omitempty"`
	PageSize          int  `yaml:"pageSize,omitempty"`
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	var errors ValidationErrors

	if c.Gateway.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "gateway.baseURL",
			Message: "baseURL cannot be empty",
		})
	} else {
		parsedURL, err := url.Parse(c.Gateway.BaseURL)
		if err != nil {
			errors = append(errors, ValidationError{
				Field:   "gateway.baseURL",
				Message: fmt.Sprintf("invalid URL format: %v", err),
			})
		} else {
			if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
				errors = append(errors, ValidationError{
					Field:   "gateway.baseURL",
					Message: fmt.Sprintf("invalid URL scheme '%s': must be http or https", parsedURL.Scheme),
				})
			}
			if parsedURL.Host == "" {
				errors = append(errors, ValidationError{
					Field:   "gateway.baseURL",
					Message: "URL must include a host (e.g., http://localhost:8880)",
				})
			}
		}
	}

	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "gateway.port",
			Message: fmt.Sprintf("invalid port %d: must be between 0 and 65535", c.Gateway.Port),
		})
	}

	if c.Gateway.TLS != nil {
		if c.Gateway.TLS.CertFile == "" {
			errors = append(errors, ValidationError{
				Field:   "gateway.tls.certFile",
				Message: "certFile is required when TLS is configured",
			})
		}
		if c.Gateway.TLS.KeyFile == "" {
			errors = append(errors, ValidationError{
				Field:   "gateway.tls.keyFile",
				Message: "keyFile is required when TLS is configured",
			})
		}
	}

	errors = append(errors, c.Auth.validate()...)

	if c.SCIM.BulkMaxOperations < 0 {
		errors = append(errors, ValidationError{
			Field:   "scim.bulkMaxOperations",
			Message: "must not be negative",
		})
	}
	if c.SCIM.PageSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "scim.pageSize",
			Message: "must not be negative",
		})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (a *AuthConfig) validate() ValidationErrors {
	var errors ValidationErrors

	for i, basic := range a.Basic {
		if basic.Username == "" || basic.Password == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("auth.basic[%d]", i),
				Message: "username and password are required",
			})
		}
	}

	for i, bearer := range a.BearerTokens {
		if bearer.Token == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("auth.bearerTokens[%d].token", i),
				Message: "token cannot be empty",
			})
		}
	}

	for i, jwtCfg := range a.JWT {
		if jwtCfg.Secret == "" && jwtCfg.JWKSURL == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("auth.jwt[%d]", i),
				Message: "either secret or jwksURL is required",
			})
		}
		if jwtCfg.Secret != "" && jwtCfg.JWKSURL != "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("auth.jwt[%d]", i),
				Message: "secret and jwksURL are mutually exclusive",
			})
		}
	}

	clientIDs := make(map[string]bool)
	for i, client := range a.OAuthClients {
		if client.ClientID == "" || client.ClientSecret == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("auth.oauthClients[%d]", i),
				Message: "clientID and clientSecret are required",
			})
			continue
		}
		if clientIDs[client.ClientID] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("auth.oauthClients[%d].clientID", i),
				Message: fmt.Sprintf("duplicate clientID: %s", client.ClientID),
			})
		}
		clientIDs[client.ClientID] = true
	}

	return errors
}

// HasCredentials reports whether any authentication strategy is
// configured. A gateway without credentials refuses to start rather than
// serving identities unauthenticated.
func (a *AuthConfig) HasCredentials() bool {
	return len(a.Basic) > 0 || len(a.BearerTokens) > 0 || len(a.JWT) > 0 ||
		len(a.OAuthClients) > 0 || a.PassThrough
}

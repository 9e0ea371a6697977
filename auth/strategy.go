// Package auth implements the gateway's authentication strategies and the
// dispatcher that races them per request.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrForbidden marks a definitive denial: the caller proved who they are
// but is not allowed this request. It aborts the strategy race instead of
// letting another strategy grant access.
var ErrForbidden = errors.New("forbidden")

// Request carries what a strategy needs to decide: the raw Authorization
// header, the tenant the request targets and whether it mutates state.
type Request struct {
	Authorization string
	Tenant        string
	Write         bool
}

// Strategy authenticates one credential family. Authenticate returns
// (true, nil) on a match, (false, nil) when the credential is not of this
// family or simply wrong, and (false, err) for a definitive denial or an
// infrastructure failure.
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context, req Request) (bool, error)
}

// BasicCredential is one configured basic-auth user.
type BasicCredential struct {
	Username string
	Password string
	ReadOnly bool
	Tenants  []string
}

// BasicStrategy validates HTTP Basic credentials against a fixed list.
type BasicStrategy struct {
	credentials []BasicCredential
}

func NewBasicStrategy(credentials []BasicCredential) *BasicStrategy {
	return &BasicStrategy{credentials: credentials}
}

func (s *BasicStrategy) Name() string { return "basic" }

func (s *BasicStrategy) Authenticate(_ context.Context, req Request) (bool, error) {
	username, password, ok := decodeBasic(req.Authorization)
	if !ok {
		return false, nil
	}

	for _, cred := range s.credentials {
		usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(cred.Username)) == 1
		passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(cred.Password)) == 1
		if !usernameMatch || !passwordMatch {
			continue
		}
		if !tenantAllowed(cred.Tenants, req.Tenant) {
			return false, ErrForbidden
		}
		if cred.ReadOnly && req.Write {
			return false, ErrForbidden
		}
		return true, nil
	}
	return false, nil
}

// BearerCredential is one configured static bearer token.
type BearerCredential struct {
	Token    string
	ReadOnly bool
	Tenants  []string
}

// BearerStrategy validates static bearer tokens.
type BearerStrategy struct {
	credentials []BearerCredential
}

func NewBearerStrategy(credentials []BearerCredential) *BearerStrategy {
	return &BearerStrategy{credentials: credentials}
}

func (s *BearerStrategy) Name() string { return "bearer" }

func (s *BearerStrategy) Authenticate(_ context.Context, req Request) (bool, error) {
	token, ok := bearerToken(req.Authorization)
	if !ok {
		return false, nil
	}

	for _, cred := range s.credentials {
		if subtle.ConstantTimeCompare([]byte(token), []byte(cred.Token)) != 1 {
			continue
		}
		if !tenantAllowed(cred.Tenants, req.Tenant) {
			return false, ErrForbidden
		}
		if cred.ReadOnly && req.Write {
			return false, ErrForbidden
		}
		return true, nil
	}
	return false, nil
}

func decodeBasic(authorization string) (username, password string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(authorization, prefix) {
		return "", "", false
	}
	payload, err := base64.StdEncoding.DecodeString(authorization[len(prefix):])
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(payload), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func bearerToken(authorization string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return "", false
	}
	token := strings.TrimSpace(authorization[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// tenantAllowed reports whether a credential scoped to tenants covers the
// requested tenant. No scope means all tenants.
func tenantAllowed(tenants []string, tenant string) bool {
	if len(tenants) == 0 {
		return true
	}
	for _, t := range tenants {
		if t == tenant {
			return true
		}
	}
	return false
}

package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/idgateway/scimgw/oauth"
	"github.com/idgateway/scimgw/scim"
)

type stubValidator struct {
	rec oauth.Record
	err error
}

func (v stubValidator) Validate(string) (oauth.Record, error) { return v.rec, v.err }

func TestOAuthStrategy(t *testing.T) {
	const jwtShaped = "Bearer aaa.bbb.ccc"

	tests := []struct {
		name      string
		validator stubValidator
		req       Request
		wantOK    bool
		wantErr   error
	}{
		{
			name:      "valid token",
			validator: stubValidator{rec: oauth.Record{ClientID: "provisioning"}},
			req:       Request{Authorization: jwtShaped, Write: true},
			wantOK:    true,
		},
		{
			name:      "validator rejects",
			validator: stubValidator{err: errors.New("token not active")},
			req:       Request{Authorization: jwtShaped},
			wantOK:    false,
		},
		{
			name:      "opaque token skipped",
			validator: stubValidator{rec: oauth.Record{}},
			req:       Request{Authorization: "Bearer opaque"},
			wantOK:    false,
		},
		{
			name:      "tenant not granted",
			validator: stubValidator{rec: oauth.Record{Tenants: []string{"customerA"}}},
			req:       Request{Authorization: jwtShaped, Tenant: "customerB"},
			wantOK:    false,
			wantErr:   ErrForbidden,
		},
		{
			name:      "read only client writing",
			validator: stubValidator{rec: oauth.Record{ReadOnly: true}},
			req:       Request{Authorization: jwtShaped, Write: true},
			wantOK:    false,
			wantErr:   ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy := NewOAuthStrategy(tt.validator)
			ok, err := strategy.Authenticate(context.Background(), tt.req)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type passThroughConnector struct {
	scim.Connector
	err  error
	seen string
}

func (c *passThroughConnector) ValidateAuth(_ context.Context, _, authorization string) error {
	c.seen = authorization
	return c.err
}

type stubRegistry struct {
	conns map[string]scim.Connector
}

func (r stubRegistry) Get(tenant string) (scim.Connector, bool) {
	conn, ok := r.conns[tenant]
	return conn, ok
}

func (r stubRegistry) List() []string {
	tenants := make([]string, 0, len(r.conns))
	for tenant := range r.conns {
		tenants = append(tenants, tenant)
	}
	return tenants
}

func TestPassThroughStrategy(t *testing.T) {
	conn := &passThroughConnector{}
	strategy := NewPassThroughStrategy(stubRegistry{conns: map[string]scim.Connector{
		"customerA": conn,
	}})

	ok, err := strategy.Authenticate(context.Background(), Request{
		Authorization: "Bearer backend-owned-token",
		Tenant:        "customerA",
	})
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Bearer backend-owned-token", conn.seen)

	// Backend rejection is a soft miss, not a definitive denial.
	conn.err = errors.New("invalid token")
	ok, err = strategy.Authenticate(context.Background(), Request{
		Authorization: "Bearer backend-owned-token",
		Tenant:        "customerA",
	})
	assert.NoError(t, err)
	assert.False(t, ok)

	// Unknown tenant and empty header never match.
	ok, _ = strategy.Authenticate(context.Background(), Request{
		Authorization: "Bearer x", Tenant: "customerB",
	})
	assert.False(t, ok)
	ok, _ = strategy.Authenticate(context.Background(), Request{Tenant: "customerA"})
	assert.False(t, ok)
}

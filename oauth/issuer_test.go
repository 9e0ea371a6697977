package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issuerURL = "http://localhost:8880"

func newTestIssuer(clients ...Client) (*Issuer, *MemoryStore) {
	store := NewMemoryStore()
	return NewIssuer(issuerURL, clients, store, nil), store
}

func postToken(issuer *Issuer, form url.Values, basic [2]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basic[0] != "" {
		req.SetBasicAuth(basic[0], basic[1])
	}
	rec := httptest.NewRecorder()
	issuer.HandleToken(rec, req)
	return rec
}

func TestClientCredentialsGrant(t *testing.T) {
	issuer, store := newTestIssuer(Client{ID: "provisioning", Secret: "s3cret", Tenants: []string{"customerA"}})

	rec := postToken(issuer, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"provisioning"},
		"client_secret": {"s3cret"},
	}, [2]string{})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Bearer", body.TokenType)
	assert.Equal(t, int64(DefaultTokenLifetime.Seconds()), body.ExpiresIn)
	assert.NotEmpty(t, body.AccessToken)

	stored, ok := store.Get(CorrelationSubject("s3cret"))
	require.True(t, ok)
	assert.Equal(t, "provisioning", stored.ClientID)
	assert.Equal(t, []string{"customerA"}, stored.Tenants)

	// The minted token round-trips through Validate.
	validated, err := issuer.Validate(body.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "provisioning", validated.ClientID)
}

func TestClientCredentialsBasicAuth(t *testing.T) {
	issuer, _ := newTestIssuer(Client{ID: "provisioning", Secret: "s3cret"})

	rec := postToken(issuer, url.Values{
		"grant_type": {"client_credentials"},
	}, [2]string{"provisioning", "s3cret"})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshTokenGrantMintsFreshToken(t *testing.T) {
	issuer, _ := newTestIssuer(Client{ID: "provisioning", Secret: "s3cret"})

	rec := postToken(issuer, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"provisioning"},
		"client_secret": {"s3cret"},
	}, [2]string{})

	require.Equal(t, http.StatusOK, rec.Code)
	var body tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, err := issuer.Validate(body.AccessToken)
	assert.NoError(t, err)
}

func TestTokenEndpointErrors(t *testing.T) {
	issuer, _ := newTestIssuer(Client{ID: "provisioning", Secret: "s3cret"})

	tests := []struct {
		name       string
		form       url.Values
		basic      [2]string
		wantStatus int
		wantError  string
	}{
		{
			name:       "unsupported grant",
			form:       url.Values{"grant_type": {"password"}, "client_id": {"provisioning"}, "client_secret": {"s3cret"}},
			wantStatus: http.StatusBadRequest,
			wantError:  "unsupported_grant_type",
		},
		{
			name:       "missing credentials",
			form:       url.Values{"grant_type": {"client_credentials"}},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name:       "unknown client",
			form:       url.Values{"grant_type": {"client_credentials"}, "client_id": {"nobody"}, "client_secret": {"s3cret"}},
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_client",
		},
		{
			name:       "wrong secret",
			form:       url.Values{"grant_type": {"client_credentials"}},
			basic:      [2]string{"provisioning", "wrong"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postToken(issuer, tt.form, tt.basic)
			assert.Equal(t, tt.wantStatus, rec.Code)
			var body tokenError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body.Error)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

// recordingThrottle captures throttle calls for assertion.
type recordingThrottle struct {
	delays   []string
	failures []string
	resets   []string
}

func (r *recordingThrottle) Delay(ctx context.Context, peer string) { r.delays = append(r.delays, peer) }
func (r *recordingThrottle) RecordFailure(peer string)              { r.failures = append(r.failures, peer) }
func (r *recordingThrottle) Reset(peer string)                      { r.resets = append(r.resets, peer) }

func TestTokenEndpointThrottlesBadCredentials(t *testing.T) {
	issuer, _ := newTestIssuer(Client{ID: "provisioning", Secret: "s3cret"})
	throttle := &recordingThrottle{}
	issuer.SetThrottle(throttle)

	rec := postToken(issuer, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"provisioning"},
		"client_secret": {"wrong"},
	}, [2]string{})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The delay runs before authentication, the failure is recorded after.
	require.Len(t, throttle.delays, 1)
	require.Len(t, throttle.failures, 1)
	assert.Equal(t, throttle.delays[0], throttle.failures[0])
	assert.Empty(t, throttle.resets)

	rec = postToken(issuer, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"provisioning"},
		"client_secret": {"s3cret"},
	}, [2]string{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, throttle.delays, 2)
	assert.Len(t, throttle.failures, 1)
	assert.Equal(t, []string{throttle.delays[0]}, throttle.resets)
}

func TestTokenEndpointMethodNotAllowed(t *testing.T) {
	issuer, _ := newTestIssuer()
	req := httptest.NewRequest(http.MethodGet, "/oauth/token", nil)
	rec := httptest.NewRecorder()
	issuer.HandleToken(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestValidateRejectsRevokedToken(t *testing.T) {
	issuer, store := newTestIssuer(Client{ID: "provisioning", Secret: "s3cret"})

	token, _, err := issuer.issue(issuer.clients["provisioning"])
	require.NoError(t, err)

	// Restart semantics: the store forgets, the signature alone is not
	// enough.
	store.Evict(CorrelationSubject("s3cret"))
	_, err = issuer.Validate(token)
	assert.Error(t, err)
}

func TestValidateRejectsForeignToken(t *testing.T) {
	issuer, _ := newTestIssuer(Client{ID: "provisioning", Secret: "s3cret"})
	other, _ := newTestIssuer(Client{ID: "provisioning", Secret: "different"})

	token, _, err := other.issue(other.clients["provisioning"])
	require.NoError(t, err)

	_, err = issuer.Validate(token)
	assert.Error(t, err)
}

func TestIssueHonorsClientLifetime(t *testing.T) {
	issuer, store := newTestIssuer(Client{ID: "shortlived", Secret: "pw", Lifetime: 2 * time.Minute})

	_, expiresIn, err := issuer.issue(issuer.clients["shortlived"])
	require.NoError(t, err)
	assert.Equal(t, int64(120), expiresIn)

	rec, ok := store.Get(CorrelationSubject("pw"))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), rec.ExpireAt, 5*time.Second)
}

func TestCorrelationSubjectStable(t *testing.T) {
	a := CorrelationSubject("s3cret")
	b := CorrelationSubject("s3cret")
	c := CorrelationSubject("other")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

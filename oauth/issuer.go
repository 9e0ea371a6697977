package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenLifetime applies when a client carries no explicit
// lifetime.
const DefaultTokenLifetime = time.Hour

// Throttle delays repeat offenders before their credentials are checked.
// The gateway shares one throttle between the SCIM auth dispatcher and the
// token endpoint, so failed guesses against either count against the peer.
type Throttle interface {
	Delay(ctx context.Context, peer string)
	RecordFailure(peer string)
	Reset(peer string)
}

// Client is a configured OAuth client-credentials client.
type Client struct {
	ID       string
	Secret   string
	ReadOnly bool
	Tenants  []string
	Lifetime time.Duration
}

// Issuer implements the client-credentials grant. Tokens are HS256 JWTs
// signed with the owning client's secret; the subject is a stable HMAC
// correlation of that secret, which doubles as the store key, so a token
// can be traced to its client without ever writing the secret anywhere.
type Issuer struct {
	clients  map[string]Client // by client id
	subjects map[string]Client // by correlation subject
	store    Store
	issuer   string
	logger   *slog.Logger
	throttle Throttle
	now      func() time.Time
}

// NewIssuer creates an issuer for the given clients. issuerURL becomes
// the iss and aud claim of minted tokens.
func NewIssuer(issuerURL string, clients []Client, store Store, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	byID := make(map[string]Client, len(clients))
	bySubject := make(map[string]Client, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
		bySubject[CorrelationSubject(c.Secret)] = c
	}
	return &Issuer{
		clients:  byID,
		subjects: bySubject,
		store:    store,
		issuer:   issuerURL,
		logger:   logger,
		now:      time.Now,
	}
}

// SetThrottle installs a brute-force throttle around client
// authentication on the token endpoint.
func (i *Issuer) SetThrottle(t Throttle) {
	i.throttle = t
}

// CorrelationSubject derives the stable token subject for a client
// secret: HMAC-SHA256 keyed and fed with the secret itself.
func CorrelationSubject(secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// tokenResponse is the RFC 6749 success body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// tokenError is the RFC 6749 error body.
type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HandleToken serves POST /oauth/token. Supported grants are
// client_credentials and refresh_token; the latter is an alias that
// simply mints a fresh token, since tokens are short-lived and volatile.
func (i *Issuer) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeTokenError(w, http.StatusMethodNotAllowed, "invalid_request", "POST required")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "client_credentials", "refresh_token":
	default:
		writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}
	if clientID == "" || clientSecret == "" {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "client credentials required")
		return
	}

	peer := peerHost(r)
	if i.throttle != nil {
		i.throttle.Delay(r.Context(), peer)
	}

	client, found := i.clients[clientID]
	if !found || subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
		if i.throttle != nil {
			i.throttle.RecordFailure(peer)
		}
		i.logger.Warn("token request with bad client credentials", "client_id", clientID)
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		writeTokenError(w, http.StatusUnauthorized, "invalid_client", "")
		return
	}
	if i.throttle != nil {
		i.throttle.Reset(peer)
	}

	token, expiresIn, err := i.issue(client)
	if err != nil {
		i.logger.Error("token signing failed", "client_id", clientID, "error", err)
		writeTokenError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	i.logger.Info("access token issued", "client_id", clientID, "expires_in", expiresIn)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
	})
}

func (i *Issuer) issue(client Client) (string, int64, error) {
	lifetime := client.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}

	now := i.now()
	subject := CorrelationSubject(client.Secret)
	expireAt := now.Add(lifetime)

	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{i.issuer},
		ExpiresAt: jwt.NewNumericDate(expireAt),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(client.Secret))
	if err != nil {
		return "", 0, err
	}

	i.store.Put(subject, Record{
		ClientID: client.ID,
		ExpireAt: expireAt,
		ReadOnly: client.ReadOnly,
		Tenants:  client.Tenants,
	})

	return signed, int64(lifetime.Seconds()), nil
}

// Validate verifies a bearer token minted by this issuer and returns its
// store record. The subject claim identifies the client whose secret
// verifies the signature; the token must also still be live in the store.
func (i *Issuer) Validate(tokenString string) (Record, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		subject, err := t.Claims.GetSubject()
		if err != nil || subject == "" {
			return nil, fmt.Errorf("token without subject")
		}
		client, ok := i.subjects[subject]
		if !ok {
			return nil, fmt.Errorf("unknown token subject")
		}
		return []byte(client.Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithAudience(i.issuer))
	if err != nil {
		return Record{}, err
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return Record{}, err
	}
	rec, ok := i.store.Get(subject)
	if !ok {
		return Record{}, fmt.Errorf("token not active")
	}
	return rec, nil
}

func peerHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(tokenError{Error: code, ErrorDescription: description})
}

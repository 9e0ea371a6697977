package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures one accepted third-party JWT issuer. Either Secret
// (HS256) or JWKSURL (RS256 with key discovery) must be set.
type JWTConfig struct {
	Secret   string
	JWKSURL  string
	Issuer   string
	Audience string
	ReadOnly bool
	Tenants  []string
}

// JWTStrategy validates bearer JWTs signed by external issuers.
type JWTStrategy struct {
	configs []JWTConfig
	keys    *jwksCache
}

func NewJWTStrategy(configs []JWTConfig) *JWTStrategy {
	return &JWTStrategy{
		configs: configs,
		keys:    newJWKSCache(http.DefaultClient),
	}
}

func (s *JWTStrategy) Name() string { return "jwt" }

func (s *JWTStrategy) Authenticate(ctx context.Context, req Request) (bool, error) {
	tokenString, ok := bearerToken(req.Authorization)
	if !ok {
		return false, nil
	}
	// Only JWT-shaped bearer tokens belong to this strategy
	if !looksLikeJWT(tokenString) {
		return false, nil
	}

	for _, cfg := range s.configs {
		if err := s.validate(ctx, tokenString, cfg); err != nil {
			continue
		}
		if !tenantAllowed(cfg.Tenants, req.Tenant) {
			return false, ErrForbidden
		}
		if cfg.ReadOnly && req.Write {
			return false, ErrForbidden
		}
		return true, nil
	}
	return false, nil
}

func (s *JWTStrategy) validate(ctx context.Context, tokenString string, cfg JWTConfig) error {
	opts := []jwt.ParserOption{}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	keyfunc := func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if cfg.Secret == "" {
				return nil, fmt.Errorf("HMAC token but no shared secret configured")
			}
			return []byte(cfg.Secret), nil
		case *jwt.SigningMethodRSA:
			if cfg.JWKSURL == "" {
				return nil, fmt.Errorf("RSA token but no jwks url configured")
			}
			kid, _ := t.Header["kid"].(string)
			return s.keys.publicKey(ctx, cfg.JWKSURL, kid)
		}
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}

	_, err := jwt.Parse(tokenString, keyfunc, opts...)
	return err
}

func looksLikeJWT(token string) bool {
	dots := 0
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			dots++
		}
	}
	return dots == 2
}

// jwksCache caches RSA public keys fetched from JWKS endpoints. An
// unknown kid triggers one refresh; signing-key rotation therefore heals
// on the next request.
type jwksCache struct {
	client *http.Client

	mu      sync.Mutex
	keys    map[string]map[string]*rsa.PublicKey // url -> kid -> key
	fetched map[string]time.Time
}

const jwksMinRefreshInterval = time.Minute

func newJWKSCache(client *http.Client) *jwksCache {
	return &jwksCache{
		client:  client,
		keys:    make(map[string]map[string]*rsa.PublicKey),
		fetched: make(map[string]time.Time),
	}
}

func (c *jwksCache) publicKey(ctx context.Context, url, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	if key, ok := c.keys[url][kid]; ok {
		c.mu.Unlock()
		return key, nil
	}
	lastFetch := c.fetched[url]
	c.mu.Unlock()

	if time.Since(lastFetch) < jwksMinRefreshInterval {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	if err := c.refresh(ctx, url); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.keys[url][kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}

func (c *jwksCache) refresh(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		key, err := rsaKeyFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = key
	}

	c.mu.Lock()
	c.keys[url] = keys
	c.fetched[url] = time.Now()
	c.mu.Unlock()
	return nil
}

func rsaKeyFromJWK(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

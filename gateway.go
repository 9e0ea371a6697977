// Package scimgw is a SCIM 2.0 protocol gateway. It terminates SCIM
// HTTP traffic, normalizes v1.1 and v2.0 dialects, and forwards
// simplified operations to pluggable identity connectors.
package scimgw

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/idgateway/scimgw/auth"
	"github.com/idgateway/scimgw/config"
	"github.com/idgateway/scimgw/connector"
	"github.com/idgateway/scimgw/oauth"
	"github.com/idgateway/scimgw/scim"
	"github.com/idgateway/scimgw/stream"
)

// Gateway ties together configuration, authentication, the SCIM server,
// and the connector registry behind a single HTTP handler.
type Gateway struct {
	config     *config.Config
	registry   *connector.Registry
	server     *scim.Server
	issuer     *oauth.Issuer
	dispatcher *auth.Dispatcher
	broker     *stream.Broker
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger
	tokenStore oauth.Store

	initialized bool
}

// New creates a gateway from the given configuration. Connectors are
// registered with RegisterConnector before Initialize.
func New(cfg *config.Config) *Gateway {
	return &Gateway{
		config:     cfg,
		registry:   connector.NewRegistry(),
		broker:     stream.NewBroker(),
		tokenStore: oauth.NewMemoryStore(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger replaces the gateway logger. Must be called before
// Initialize to take effect on all components.
func (g *Gateway) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// SetTokenStore replaces the OAuth token store, for deployments that
// persist issued tokens. Must be called before Initialize.
func (g *Gateway) SetTokenStore(store oauth.Store) {
	if store != nil {
		g.tokenStore = store
	}
}

// RegisterConnector binds a connector to a tenant. An empty tenant
// registers the default tenant.
func (g *Gateway) RegisterConnector(tenant string, conn scim.Connector) error {
	return g.registry.Register(tenant, conn)
}

// Broker exposes the log stream broker so callers can feed it their
// slog output. See NewStreamingLogger.
func (g *Gateway) Broker() *stream.Broker {
	return g.broker
}

// Initialize validates configuration and builds the HTTP handler chain.
func (g *Gateway) Initialize() error {
	if err := g.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !g.config.Auth.HasCredentials() {
		return fmt.Errorf("no authentication methods configured, refusing to start an open gateway")
	}
	if len(g.registry.List()) == 0 {
		return fmt.Errorf("no connectors registered")
	}

	// One throttle covers both the SCIM endpoints and the token endpoint,
	// so credential guessing against either counts against the peer.
	throttle := auth.NewFailureThrottle(g.config.Auth.BruteForceThreshold, g.bruteForceDelay())
	g.issuer = oauth.NewIssuer(g.config.Gateway.BaseURL, oauthClients(g.config.Auth.OAuthClients), g.tokenStore, g.logger)
	g.issuer.SetThrottle(throttle)
	g.dispatcher = auth.NewDispatcher(g.buildStrategies(), throttle, g.logger)

	g.server = scim.NewServer(g.config.Gateway.BaseURL, g.registry, g.logger, scim.ServerOptions{
		SoftSync:          g.config.SCIM.SoftSync,
		GroupMemberOfUser: g.config.SCIM.GroupMemberOfUser,
		BulkMaxOperations: g.config.SCIM.BulkMaxOperations,
		PageSize:          g.config.SCIM.PageSize,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "hello")
	})
	mux.Handle("/logger", g.broker)
	mux.HandleFunc("/oauth/token", g.issuer.HandleToken)
	mux.HandleFunc("/.well-known/openid-configuration", g.issuer.HandleOpenIDConfiguration)
	mux.HandleFunc("/.well-known/jwks.json", g.issuer.HandleJWKS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/pub/api/", http.StripPrefix("/pub", g.server))
	mux.Handle("/", g.authMiddleware(g.server))

	g.handler = LoggingMiddleware(g.logger)(MetricsMiddleware()(mux))
	g.initialized = true

	g.logger.Info("gateway initialized",
		"baseURL", g.config.Gateway.BaseURL,
		"tenants", g.registry.List(),
	)
	return nil
}

// Handler returns the gateway's HTTP handler. Initialize must have been
// called first.
func (g *Gateway) Handler() (http.Handler, error) {
	if !g.initialized {
		return nil, fmt.Errorf("gateway not initialized")
	}
	return g.handler, nil
}

// Start runs the gateway's HTTP server on the configured port. It
// blocks until the server stops.
func (g *Gateway) Start() error {
	if !g.initialized {
		if err := g.Initialize(); err != nil {
			return err
		}
	}
	if g.config.Gateway.Port <= 0 {
		return fmt.Errorf("no port configured")
	}

	g.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", g.config.Gateway.Port),
		Handler:     g.handler,
		IdleTimeout: g.config.Gateway.IdleTimeout,
	}

	if g.config.Gateway.TLS != nil {
		g.logger.Info("starting gateway with TLS", "addr", g.httpServer.Addr)
		return g.httpServer.ListenAndServeTLS(g.config.Gateway.TLS.CertFile, g.config.Gateway.TLS.KeyFile)
	}
	g.logger.Info("starting gateway", "addr", g.httpServer.Addr)
	return g.httpServer.ListenAndServe()
}

// Shutdown gracefully stops a running gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.httpServer == nil {
		return nil
	}
	return g.httpServer.Shutdown(ctx)
}

func (g *Gateway) buildStrategies() []auth.Strategy {
	var strategies []auth.Strategy

	if len(g.config.Auth.Basic) > 0 {
		creds := make([]auth.BasicCredential, 0, len(g.config.Auth.Basic))
		for _, c := range g.config.Auth.Basic {
			creds = append(creds, auth.BasicCredential{
				Username: c.Username,
				Password: c.Password,
				ReadOnly: c.ReadOnly,
				Tenants:  c.Tenants,
			})
		}
		strategies = append(strategies, auth.NewBasicStrategy(creds))
	}

	if len(g.config.Auth.BearerTokens) > 0 {
		creds := make([]auth.BearerCredential, 0, len(g.config.Auth.BearerTokens))
		for _, c := range g.config.Auth.BearerTokens {
			creds = append(creds, auth.BearerCredential{
				Token:    c.Token,
				ReadOnly: c.ReadOnly,
				Tenants:  c.Tenants,
			})
		}
		strategies = append(strategies, auth.NewBearerStrategy(creds))
	}

	if len(g.config.Auth.JWT) > 0 {
		configs := make([]auth.JWTConfig, 0, len(g.config.Auth.JWT))
		for _, c := range g.config.Auth.JWT {
			configs = append(configs, auth.JWTConfig{
				Secret:   c.Secret,
				JWKSURL:  c.JWKSURL,
				Issuer:   c.Issuer,
				Audience: c.Audience,
				ReadOnly: c.ReadOnly,
				Tenants:  c.Tenants,
			})
		}
		strategies = append(strategies, auth.NewJWTStrategy(configs))
	}

	if len(g.config.Auth.OAuthClients) > 0 {
		strategies = append(strategies, auth.NewOAuthStrategy(g.issuer))
	}

	if g.config.Auth.PassThrough {
		strategies = append(strategies, auth.NewPassThroughStrategy(g.registry))
	}

	return strategies
}

func oauthClients(configs []config.OAuthClient) []oauth.Client {
	clients := make([]oauth.Client, 0, len(configs))
	for _, c := range configs {
		clients = append(clients, oauth.Client{
			ID:       c.ClientID,
			Secret:   c.ClientSecret,
			ReadOnly: c.ReadOnly,
			Tenants:  c.Tenants,
			Lifetime: c.TokenLifetime,
		})
	}
	return clients
}

func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := scim.DefaultTenant
		if route, err := scim.ResolveRoute(r.URL.Path); err == nil {
			tenant = route.Tenant
		}

		req := auth.Request{
			Authorization: r.Header.Get("Authorization"),
			Tenant:        tenant,
			Write:         isWriteMethod(r.Method),
		}

		ok, err := g.dispatcher.Authenticate(r.Context(), peerAddr(r), req)
		if err != nil {
			w.Header().Set("Content-Type", "text/plain")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="scimgw"`)
			w.Header().Set("Content-Type", "text/plain")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isWriteMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// bruteForceDelay resolves the throttle delay: the configured value, or
// five seconds under the server's idle timeout so a throttled peer's
// connection is dropped before the delayed response would land.
func (g *Gateway) bruteForceDelay() time.Duration {
	if d := g.config.Auth.BruteForceDelay; d > 0 {
		return d
	}
	if idle := g.config.Gateway.IdleTimeout; idle > 5*time.Second {
		return idle - 5*time.Second
	}
	return time.Second
}

func peerAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// NewStreamingLogger builds a JSON slog logger that writes to out and
// mirrors every record to the broker for live streaming on /logger.
func NewStreamingLogger(out io.Writer, broker *stream.Broker, level slog.Level) *slog.Logger {
	var w io.Writer = out
	if broker != nil {
		w = io.MultiWriter(out, broker)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

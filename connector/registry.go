// Package connector provides the registry mapping tenants to their
// backend connectors.
package connector

import (
	"fmt"
	"sync"

	"github.com/idgateway/scimgw/scim"
)

// Registry is a concurrency-safe tenant-to-connector map. It satisfies
// scim.Registry.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]scim.Connector
}

func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]scim.Connector),
	}
}

// Register binds a connector to a tenant. Registering the default tenant
// serves requests without a tenant path prefix.
func (r *Registry) Register(tenant string, conn scim.Connector) error {
	if tenant == "" {
		tenant = scim.DefaultTenant
	}
	if conn == nil {
		return fmt.Errorf("nil connector for tenant %s", tenant)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[tenant]; exists {
		return fmt.Errorf("tenant %s already registered", tenant)
	}
	r.connectors[tenant] = conn
	return nil
}

// Unregister removes a tenant's connector.
func (r *Registry) Unregister(tenant string) {
	r.mu.Lock()
	delete(r.connectors, tenant)
	r.mu.Unlock()
}

// Get returns the connector serving a tenant.
func (r *Registry) Get(tenant string) (scim.Connector, bool) {
	if tenant == "" {
		tenant = scim.DefaultTenant
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connectors[tenant]
	return conn, ok
}

// List returns the registered tenant names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenants := make([]string, 0, len(r.connectors))
	for tenant := range r.connectors {
		tenants = append(tenants, tenant)
	}
	return tenants
}

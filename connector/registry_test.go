package connector

import (
	"testing"

	"github.com/idgateway/scimgw/memory"
	"github.com/idgateway/scimgw/scim"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	conn := memory.New("memory")

	if err := r.Register("customerA", conn); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	got, ok := r.Get("customerA")
	if !ok || got != scim.Connector(conn) {
		t.Errorf("Get(customerA) = %v, %v", got, ok)
	}
	if _, ok := r.Get("customerB"); ok {
		t.Error("Get(customerB) = true, want false")
	}
}

func TestRegisterDefaultTenant(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", memory.New("memory")); err != nil {
		t.Fatalf("Register(\"\") error: %v", err)
	}

	// Both spellings of the default tenant resolve to the same connector.
	if _, ok := r.Get(""); !ok {
		t.Error("Get(\"\") = false")
	}
	if _, ok := r.Get(scim.DefaultTenant); !ok {
		t.Errorf("Get(%q) = false", scim.DefaultTenant)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("customerA", memory.New("one")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("customerA", memory.New("two")); err == nil {
		t.Error("duplicate Register() = nil, want error")
	}
}

func TestRegisterNilConnector(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("customerA", nil); err == nil {
		t.Error("Register(nil) = nil, want error")
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("customerA", memory.New("memory")); err != nil {
		t.Fatal(err)
	}
	r.Unregister("customerA")
	if _, ok := r.Get("customerA"); ok {
		t.Error("Get after Unregister = true")
	}
}

func TestList(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", memory.New("a")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("customerA", memory.New("b")); err != nil {
		t.Fatal(err)
	}

	tenants := r.List()
	if len(tenants) != 2 {
		t.Fatalf("List() = %v, want 2 tenants", tenants)
	}
	seen := map[string]bool{}
	for _, tenant := range tenants {
		seen[tenant] = true
	}
	if !seen[scim.DefaultTenant] || !seen["customerA"] {
		t.Errorf("List() = %v", tenants)
	}
}

package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	store := NewMemoryStore()
	store.Put("subj", Record{ClientID: "provisioning", ExpireAt: time.Now().Add(time.Hour)})

	rec, ok := store.Get("subj")
	require.True(t, ok)
	assert.Equal(t, "provisioning", rec.ClientID)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestMemoryStoreLazyEviction(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	store.Put("live", Record{ClientID: "a", ExpireAt: now.Add(time.Hour)})
	store.Put("dead", Record{ClientID: "b", ExpireAt: now.Add(time.Minute)})
	require.Equal(t, 2, store.Len())

	store.now = func() time.Time { return now.Add(30 * time.Minute) }

	_, ok := store.Get("dead")
	assert.False(t, ok)
	_, ok = store.Get("live")
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreEvict(t *testing.T) {
	store := NewMemoryStore()
	store.Put("subj", Record{ExpireAt: time.Now().Add(time.Hour)})
	store.Evict("subj")
	_, ok := store.Get("subj")
	assert.False(t, ok)
}

func TestRecordExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, Record{}.Expired(now))
	assert.False(t, Record{ExpireAt: now.Add(time.Second)}.Expired(now))
	assert.True(t, Record{ExpireAt: now.Add(-time.Second)}.Expired(now))
}

func TestRecordAllowsTenant(t *testing.T) {
	assert.True(t, Record{}.AllowsTenant("anything"))
	assert.True(t, Record{Tenants: []string{"a", "b"}}.AllowsTenant("a"))
	assert.False(t, Record{Tenants: []string{"a"}}.AllowsTenant("c"))
}

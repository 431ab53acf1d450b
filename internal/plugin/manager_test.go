package plugin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapkit/synapd/internal/database"
	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
)

func managerFixture(t *testing.T) (*Manager, *Registry, *database.DB, *[]event.Envelope) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := testRegistry()
	var mu sync.Mutex
	published := &[]event.Envelope{}
	m := NewManager(db, registry, func(env event.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		*published = append(*published, env)
		return nil
	})
	return m, registry, db, published
}

func staticFactory(p Plugin) Factory {
	return func(context.Context, Config) (Plugin, error) { return p, nil }
}

func TestBootstrapInstallsActivePlugins(t *testing.T) {
	m, registry, _, published := managerFixture(t)

	p := newMockPlugin("core.alpha")
	require.NoError(t, m.RegisterFactory("core.alpha", staticFactory(p)))
	m.Bootstrap(context.Background())

	manifests := registry.ListPlugins()
	require.Len(t, manifests, 1)
	assert.Equal(t, "core.alpha", manifests[0].ID)

	// Installation announces itself.
	require.NotEmpty(t, *published)
	assert.Equal(t, event.KindConfigUpdated, (*published)[0].Event.Data.Kind())
}

func TestBootstrapSkipsInactivePlugin(t *testing.T) {
	m, registry, db, _ := managerFixture(t)
	ctx := context.Background()

	require.NoError(t, db.SaveSettings(ctx, database.Settings{PluginID: "core.off", IsActive: false}))
	require.NoError(t, m.RegisterFactory("core.off", staticFactory(newMockPlugin("core.off"))))
	m.Bootstrap(ctx)

	assert.Empty(t, registry.ListPlugins())
}

func TestBootstrapRejectsBadSealWithoutAffectingOthers(t *testing.T) {
	m, registry, _, _ := managerFixture(t)

	bad := newMockPlugin("core.bad")
	bad.seal = 0xDEADBEEF
	good := newMockPlugin("core.good")

	require.NoError(t, m.RegisterFactory("core.bad", staticFactory(bad)))
	require.NoError(t, m.RegisterFactory("core.good", staticFactory(good)))
	m.Bootstrap(context.Background())

	manifests := registry.ListPlugins()
	require.Len(t, manifests, 1)
	assert.Equal(t, "core.good", manifests[0].ID)
}

func TestBootstrapSkipsPluginWhoseInitFails(t *testing.T) {
	m, registry, _, _ := managerFixture(t)

	failing := newMockPlugin("core.failing")
	failing.initErr = assert.AnError
	fine := newMockPlugin("core.fine")

	require.NoError(t, m.RegisterFactory("core.failing", staticFactory(failing)))
	require.NoError(t, m.RegisterFactory("core.fine", staticFactory(fine)))
	m.Bootstrap(context.Background())

	manifests := registry.ListPlugins()
	require.Len(t, manifests, 1)
	assert.Equal(t, "core.fine", manifests[0].ID)
}

func TestBootstrapEffectiveIsIntersection(t *testing.T) {
	m, registry, db, _ := managerFixture(t)
	ctx := context.Background()

	p := newMockPlugin("core.scoped")
	p.required = []permission.Permission{permission.NetworkAccess, permission.VisionRead}
	require.NoError(t, db.SaveSettings(ctx, database.Settings{
		PluginID: "core.scoped",
		IsActive: true,
		// VisionRead allowed but not required by anyone else; FileRead
		// allowed but not required — only the overlap becomes effective.
		AllowedPermissions: []permission.Permission{permission.VisionRead, permission.FileRead},
	}))

	require.NoError(t, m.RegisterFactory("core.scoped", staticFactory(p)))
	m.Bootstrap(ctx)

	effective := registry.EffectivePermissions("core.scoped")
	assert.Equal(t, []permission.Permission{permission.VisionRead}, effective)
}

func TestGrantPermissionIsIdempotentAndPersisted(t *testing.T) {
	m, registry, db, _ := managerFixture(t)
	ctx := context.Background()

	p := newMockPlugin("core.net")
	require.NoError(t, m.RegisterFactory("core.net", staticFactory(p)))
	m.Bootstrap(ctx)

	require.NoError(t, m.GrantPermission(ctx, "core.net", permission.NetworkAccess))
	require.NoError(t, m.GrantPermission(ctx, "core.net", permission.NetworkAccess))

	effective := registry.EffectivePermissions("core.net")
	assert.Equal(t, []permission.Permission{permission.NetworkAccess}, effective)

	settings, err := db.PluginSettings(ctx, "core.net")
	require.NoError(t, err)
	assert.Equal(t, []permission.Permission{permission.NetworkAccess}, settings.AllowedPermissions)

	// Exactly one injection despite the double grant.
	caps := p.injectedCaps()
	require.Len(t, caps, 1)
	assert.Equal(t, permission.NetworkAccess, caps[0].Permission())
	_, isNetwork := caps[0].(NetworkCapability)
	assert.True(t, isNetwork)
}

func TestGrantThenRevokeLeavesNoResidue(t *testing.T) {
	m, registry, db, _ := managerFixture(t)
	ctx := context.Background()

	p := newMockPlugin("core.tmp")
	require.NoError(t, m.RegisterFactory("core.tmp", staticFactory(p)))
	m.Bootstrap(ctx)

	require.NoError(t, m.GrantPermission(ctx, "core.tmp", permission.FileWrite))
	require.NoError(t, m.RevokePermission(ctx, "core.tmp", permission.FileWrite))

	assert.Empty(t, registry.EffectivePermissions("core.tmp"))
	settings, err := db.PluginSettings(ctx, "core.tmp")
	require.NoError(t, err)
	assert.Empty(t, settings.AllowedPermissions)
}

func TestRevokeDisarmsIssuedNetworkHandle(t *testing.T) {
	m, _, db, _ := managerFixture(t)
	ctx := context.Background()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)
	backendURL, _ := url.Parse(backend.URL)

	p := newMockPlugin("core.webber")
	require.NoError(t, m.RegisterFactory("core.webber", staticFactory(p)))
	m.Bootstrap(ctx)
	require.NoError(t, db.SetConfig(ctx, "core.webber", "allowed_hosts", backendURL.Hostname()))

	require.NoError(t, m.GrantPermission(ctx, "core.webber", permission.NetworkAccess))
	caps := p.injectedCaps()
	require.Len(t, caps, 1)
	network := caps[0].(NetworkCapability)

	req, _ := http.NewRequest(http.MethodGet, backend.URL, nil)
	resp, err := network.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, m.RevokePermission(ctx, "core.webber", permission.NetworkAccess))

	_, err = network.Do(req)
	require.Error(t, err, "calls through the stale handle must fail after revoke")
}

func TestUpdateConfigValidatesKeyAndPublishes(t *testing.T) {
	m, _, _, published := managerFixture(t)
	ctx := context.Background()

	assert.Error(t, m.UpdateConfig(ctx, "core.a", "bad key!", "v", "admin"))
	assert.Error(t, m.UpdateConfig(ctx, "core.a", "", "v", "admin"))

	require.NoError(t, m.UpdateConfig(ctx, "core.a", "api_url", "https://example", "admin"))
	value, ok, err := m.GetConfig(ctx, "core.a", "api_url")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://example", value)

	var sawUpdate bool
	for _, env := range *published {
		if data, ok := env.Event.Data.(event.ConfigUpdated); ok && data.Key == "api_url" {
			sawUpdate = true
		}
	}
	assert.True(t, sawUpdate, "config write must publish ConfigUpdated")
}

type countingCache struct {
	mu     sync.Mutex
	values map[string]string
	hits   int
}

func (c *countingCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *countingCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

func (c *countingCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

func TestGetConfigUsesCache(t *testing.T) {
	m, _, _, _ := managerFixture(t)
	ctx := context.Background()

	cache := &countingCache{values: make(map[string]string)}
	m.SetConfigCache(cache)

	require.NoError(t, m.UpdateConfig(ctx, "core.c", "model", "ks22", "admin"))

	for i := 0; i < 3; i++ {
		_, ok, err := m.GetConfig(ctx, "core.c", "model")
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.GreaterOrEqual(t, cache.hits, 2, "repeat reads must come from the cache")

	// Writes invalidate.
	require.NoError(t, m.UpdateConfig(ctx, "core.c", "model", "ks23", "admin"))
	value, ok, err := m.GetConfig(ctx, "core.c", "model")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ks23", value)
}

func TestSafeHTTPClientWhitelist(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)
	backendURL, _ := url.Parse(backend.URL)

	client := NewSafeHTTPClient("core.x", []string{" " + backendURL.Hostname() + " ", "API.Example.COM"})

	req, _ := http.NewRequest(http.MethodGet, backend.URL, nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	denied, _ := http.NewRequest(http.MethodGet, "http://evil.example.net/", nil)
	_, err = client.Do(denied)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestScopedStoreRoundTrip(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	store := NewScopedStore("core.mem", db)
	type entry struct {
		Value int `json:"value"`
	}

	require.NoError(t, store.Save(ctx, "k1", entry{Value: 42}))
	var got entry
	require.NoError(t, store.Load(ctx, "k1", &got))
	assert.Equal(t, 42, got.Value)

	other := NewScopedStore("core.other", db)
	var stolen entry
	assert.Error(t, other.Load(ctx, "k1", &stolen), "namespaces must not leak across plugins")
}

func TestDispatchTimeoutUsesConfiguredDeadline(t *testing.T) {
	registry := NewRegistry(5, 10, 50*time.Millisecond, nil)
	slow := newMockPlugin("slow.one")
	slow.delay = time.Second
	require.NoError(t, registry.Register(slow))

	out := make(chan event.Envelope, 1)
	start := time.Now()
	registry.DispatchEvent(context.Background(), notify("x"), out)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

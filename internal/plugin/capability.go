package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/synapkit/synapd/pkg/permission"
	pkgplugin "github.com/synapkit/synapd/pkg/plugin"
)

// revocable is implemented by capability handles the manager can disarm on
// revoke. A disarmed handle fails every call with a permission-denied
// error; plugins holding stale handles cannot keep using the facility.
type revocable interface {
	revoke()
}

// SafeHTTPClient is the NetworkAccess capability: an HTTP client whose
// targets are restricted to the plugin's declared host whitelist. Hosts are
// matched lowercased and exactly; membership lookup is O(1).
type SafeHTTPClient struct {
	pluginID string
	hosts    map[string]struct{}
	client   *http.Client
	revoked  atomic.Bool
}

// NewSafeHTTPClient builds the capability for one plugin. hosts may be
// empty, in which case every request is refused until the whitelist is
// configured.
func NewSafeHTTPClient(pluginID string, hosts []string) *SafeHTTPClient {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return &SafeHTTPClient{
		pluginID: pluginID,
		hosts:    set,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Permission implements Capability.
func (c *SafeHTTPClient) Permission() permission.Permission { return permission.NetworkAccess }

// Do performs the request if the target host is whitelisted.
func (c *SafeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.revoked.Load() {
		return nil, fmt.Errorf("plugin %s: network access: %w", c.pluginID, pkgplugin.ErrCapabilityRevoked)
	}
	host := strings.ToLower(req.URL.Hostname())
	if _, ok := c.hosts[host]; !ok {
		return nil, fmt.Errorf("plugin %s: host %q not in whitelist: permission denied", c.pluginID, host)
	}
	return c.client.Do(req)
}

func (c *SafeHTTPClient) revoke() { c.revoked.Store(true) }

// kvStore is the narrow persistence surface scoped stores need.
type kvStore interface {
	SetData(ctx context.Context, pluginID, key string, value []byte) error
	GetData(ctx context.Context, pluginID, key string) ([]byte, error)
	DeleteData(ctx context.Context, pluginID, key string) error
	ListData(ctx context.Context, pluginID, prefix string) ([]Entry, error)
}

// scopedStore binds a DataStore to one plugin's namespace. Keys from other
// plugins are unreachable by construction.
type scopedStore struct {
	pluginID string
	kv       kvStore
}

// NewScopedStore returns the DataStore handed to a plugin at init.
func NewScopedStore(pluginID string, kv kvStore) DataStore {
	return &scopedStore{pluginID: pluginID, kv: kv}
}

func (s *scopedStore) Save(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("plugin %s: save %q: %w", s.pluginID, key, err)
	}
	return s.kv.SetData(ctx, s.pluginID, key, encoded)
}

func (s *scopedStore) Load(ctx context.Context, key string, dest any) error {
	raw, err := s.kv.GetData(ctx, s.pluginID, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (s *scopedStore) Delete(ctx context.Context, key string) error {
	return s.kv.DeleteData(ctx, s.pluginID, key)
}

func (s *scopedStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	return s.kv.ListData(ctx, s.pluginID, prefix)
}

// storeCapability is the handle behind MemoryRead/MemoryWrite.
type storeCapability struct {
	perm  permission.Permission
	store DataStore
}

func (c *storeCapability) Permission() permission.Permission { return c.perm }
func (c *storeCapability) Store() DataStore                  { return c.store }

// grantToken is the capability for permissions with no kernel-side handle
// (InputControl, AdminAccess, …). It carries only the permission tag so
// the plugin can observe the grant.
type grantToken struct {
	perm permission.Permission
}

func (g grantToken) Permission() permission.Permission { return g.perm }

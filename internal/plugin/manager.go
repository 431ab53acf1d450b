package plugin

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/synapkit/synapd/internal/database"
	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
)

// Store is the persistence surface the manager needs. *database.DB
// implements it; tests substitute lighter fakes.
type Store interface {
	SetData(ctx context.Context, pluginID, key string, value []byte) error
	GetData(ctx context.Context, pluginID, key string) ([]byte, error)
	DeleteData(ctx context.Context, pluginID, key string) error
	ListData(ctx context.Context, pluginID, prefix string) ([]Entry, error)

	PluginSettings(ctx context.Context, pluginID string) (database.Settings, error)
	SaveSettings(ctx context.Context, settings database.Settings) error

	GetConfig(ctx context.Context, pluginID, key string) (string, bool, error)
	SetConfig(ctx context.Context, pluginID, key, value string) error
	PluginConfigs(ctx context.Context, pluginID string) (map[string]string, error)

	AppendAudit(ctx context.Context, eventType, subject, detail, actor string) error
}

// ConfigCache is an optional read-through cache for plugin configuration.
type ConfigCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Delete(ctx context.Context, key string)
}

// Manager bootstraps plugins from factories, persists their settings and
// configuration, and administers the permission lifecycle.
type Manager struct {
	store    Store
	registry *Registry
	cache    ConfigCache

	// submit enqueues a kernel event; nil in narrow unit tests.
	submit func(event.Envelope) error

	factoryMu sync.Mutex
	factories map[string]Factory

	handleMu sync.Mutex
	handles  map[string]map[permission.Permission]Capability
}

// NewManager wires a manager to its registry and store.
func NewManager(store Store, registry *Registry, submit func(event.Envelope) error) *Manager {
	return &Manager{
		store:     store,
		registry:  registry,
		submit:    submit,
		factories: make(map[string]Factory),
		handles:   make(map[string]map[permission.Permission]Capability),
	}
}

// SetConfigCache installs an optional configuration cache.
func (m *Manager) SetConfigCache(cache ConfigCache) { m.cache = cache }

// RegisterFactory adds a named plugin constructor. The name doubles as the
// plugin instance id at bootstrap.
func (m *Manager) RegisterFactory(name string, factory Factory) error {
	m.factoryMu.Lock()
	defer m.factoryMu.Unlock()
	if _, exists := m.factories[name]; exists {
		return fmt.Errorf("factory %q already registered", name)
	}
	m.factories[name] = factory
	return nil
}

// Bootstrap constructs and installs every registered factory's plugin. A
// failing plugin is logged and skipped; it never takes the kernel or its
// siblings down.
func (m *Manager) Bootstrap(ctx context.Context) {
	m.factoryMu.Lock()
	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	m.factoryMu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		if err := m.bootstrapOne(ctx, name); err != nil {
			log.Printf("plugin %s not installed: %v", name, err)
		}
	}
}

func (m *Manager) bootstrapOne(ctx context.Context, name string) error {
	m.factoryMu.Lock()
	factory := m.factories[name]
	m.factoryMu.Unlock()

	settings, err := m.store.PluginSettings(ctx, name)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if !settings.IsActive {
		log.Printf("plugin %s is inactive, skipping", name)
		return nil
	}

	values, err := m.store.PluginConfigs(ctx, name)
	if err != nil {
		return fmt.Errorf("read configs: %w", err)
	}

	p, err := factory(ctx, Config{ID: name, Values: values})
	if err != nil {
		return fmt.Errorf("construct: %w", err)
	}

	manifest := p.Manifest()
	if !manifest.Sealed() {
		_ = m.store.AppendAudit(ctx, "PLUGIN_REJECTED", name,
			fmt.Sprintf("integrity seal %#x does not match the kernel", manifest.MagicSeal), "")
		return fmt.Errorf("manifest seal %#x: %w", manifest.MagicSeal, ErrSealMismatch)
	}

	effective := intersect(manifest.RequiredPermissions, settings.AllowedPermissions)

	var network NetworkCapability
	if containsPermission(effective, permission.NetworkAccess) {
		network = m.networkCapability(ctx, manifest.ID)
	}

	rt := RuntimeContext{
		EffectivePermissions: effective,
		Store:                NewScopedStore(manifest.ID, m.store),
		Emit:                 m.emitFor(manifest.ID),
	}
	if err := p.OnInit(ctx, rt, network); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	if err := m.registry.Register(p); err != nil {
		return err
	}
	for _, perm := range effective {
		m.registry.UpdateEffectivePermissions(ctx, manifest.ID, perm, m.capabilityFor(ctx, manifest.ID, perm))
	}

	log.Printf("plugin %s v%s installed (%d effective permissions)",
		manifest.ID, manifest.Version, len(effective))
	m.publish(event.System(event.ConfigUpdated{PluginID: manifest.ID}))
	return nil
}

// emitFor builds the outbound event sender handed to one plugin.
func (m *Manager) emitFor(pluginID string) func(event.Data) error {
	return func(data event.Data) error {
		env := event.System(data)
		env.Issuer = pluginID
		if m.submit == nil {
			return nil
		}
		return m.submit(env)
	}
}

func (m *Manager) publish(env event.Envelope) {
	if m.submit == nil {
		return
	}
	if err := m.submit(env); err != nil {
		log.Printf("publish %s failed: %v", env.Event.Data.Kind(), err)
	}
}

// --- Permission lifecycle ---

// GrantPermission persists the grant (union semantics), updates the
// registry's effective set and notifies the plugin with the newly available
// capability. Granting an already-held permission is a no-op.
func (m *Manager) GrantPermission(ctx context.Context, pluginID string, perm permission.Permission) error {
	if !perm.Valid() {
		return fmt.Errorf("unknown permission %q", perm)
	}

	settings, err := m.store.PluginSettings(ctx, pluginID)
	if err != nil {
		return err
	}
	if !containsPermission(settings.AllowedPermissions, perm) {
		settings.AllowedPermissions = append(settings.AllowedPermissions, perm)
		if err := m.store.SaveSettings(ctx, settings); err != nil {
			return err
		}
	}

	handle := m.capabilityFor(ctx, pluginID, perm)
	if added := m.registry.UpdateEffectivePermissions(ctx, pluginID, perm, handle); added {
		_ = m.store.AppendAudit(ctx, "PERMISSION_GRANTED", pluginID, string(perm), "")
	}
	return nil
}

// RevokePermission is the inverse of GrantPermission. A revocable issued
// handle (the NetworkAccess client) is disarmed, so calls through stale
// references to it fail from now on. MemoryRead/MemoryWrite store handles
// and grant tokens are not disarmed: a DataStore obtained through a store
// handle keeps working after the revoke.
func (m *Manager) RevokePermission(ctx context.Context, pluginID string, perm permission.Permission) error {
	if !perm.Valid() {
		return fmt.Errorf("unknown permission %q", perm)
	}

	settings, err := m.store.PluginSettings(ctx, pluginID)
	if err != nil {
		return err
	}
	kept := settings.AllowedPermissions[:0]
	for _, p := range settings.AllowedPermissions {
		if p != perm {
			kept = append(kept, p)
		}
	}
	settings.AllowedPermissions = kept
	if err := m.store.SaveSettings(ctx, settings); err != nil {
		return err
	}

	if removed := m.registry.RemoveEffectivePermission(pluginID, perm); removed {
		_ = m.store.AppendAudit(ctx, "PERMISSION_REVOKED", pluginID, string(perm), "")
	}

	m.handleMu.Lock()
	if perms := m.handles[pluginID]; perms != nil {
		if handle, ok := perms[perm]; ok {
			if r, ok := handle.(revocable); ok {
				r.revoke()
			}
			delete(perms, perm)
		}
	}
	m.handleMu.Unlock()
	return nil
}

// capabilityFor returns the (cached) capability handle backing one grant.
func (m *Manager) capabilityFor(ctx context.Context, pluginID string, perm permission.Permission) Capability {
	m.handleMu.Lock()
	defer m.handleMu.Unlock()

	perms := m.handles[pluginID]
	if perms == nil {
		perms = make(map[permission.Permission]Capability)
		m.handles[pluginID] = perms
	}
	if handle, ok := perms[perm]; ok {
		return handle
	}

	var handle Capability
	switch perm {
	case permission.NetworkAccess:
		handle = m.networkCapabilityLocked(ctx, pluginID)
	case permission.MemoryRead, permission.MemoryWrite:
		handle = &storeCapability{perm: perm, store: NewScopedStore(pluginID, m.store)}
	default:
		handle = grantToken{perm: perm}
	}
	perms[perm] = handle
	return handle
}

func (m *Manager) networkCapability(ctx context.Context, pluginID string) NetworkCapability {
	handle := m.capabilityFor(ctx, pluginID, permission.NetworkAccess)
	network, _ := handle.(NetworkCapability)
	return network
}

// networkCapabilityLocked builds the whitelist-constrained client. The
// whitelist comes from the plugin's allowed_hosts config value.
func (m *Manager) networkCapabilityLocked(ctx context.Context, pluginID string) *SafeHTTPClient {
	var hosts []string
	if value, ok, err := m.store.GetConfig(ctx, pluginID, "allowed_hosts"); err == nil && ok {
		hosts = strings.Split(value, ",")
	}
	return NewSafeHTTPClient(pluginID, hosts)
}

// --- Configuration API ---

// GetConfig reads one configuration value, through the cache when present.
func (m *Manager) GetConfig(ctx context.Context, pluginID, key string) (string, bool, error) {
	cacheKey := pluginID + "\x00" + key
	if m.cache != nil {
		if value, ok := m.cache.Get(ctx, cacheKey); ok {
			return value, true, nil
		}
	}
	value, ok, err := m.store.GetConfig(ctx, pluginID, key)
	if err != nil || !ok {
		return "", ok, err
	}
	if m.cache != nil {
		m.cache.Set(ctx, cacheKey, value)
	}
	return value, true, nil
}

// UpdateConfig writes one value through to the store and publishes a
// ConfigUpdated event.
func (m *Manager) UpdateConfig(ctx context.Context, pluginID, key, value, actor string) error {
	if !validConfigKey(key) {
		return fmt.Errorf("invalid config key %q", key)
	}
	if err := m.store.SetConfig(ctx, pluginID, key, value); err != nil {
		return err
	}
	if m.cache != nil {
		m.cache.Delete(ctx, pluginID+"\x00"+key)
	}
	_ = m.store.AppendAudit(ctx, "CONFIG_UPDATED", pluginID, key, actor)
	m.publish(event.System(event.ConfigUpdated{PluginID: pluginID, Key: key}))
	return nil
}

// FetchPluginConfigs bulk-reads every configuration value for a plugin.
func (m *Manager) FetchPluginConfigs(ctx context.Context, pluginID string) (map[string]string, error) {
	return m.store.PluginConfigs(ctx, pluginID)
}

// validConfigKey accepts the usual config key alphabet: alphanumerics,
// underscore, hyphen and dot. Everything else (whitespace, control
// characters) is rejected before it reaches the store.
func validConfigKey(key string) bool {
	if key == "" || len(key) > 100 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

func intersect(required, allowed []permission.Permission) []permission.Permission {
	var out []permission.Permission
	for _, p := range required {
		if containsPermission(allowed, p) {
			out = append(out, p)
		}
	}
	return out
}

func containsPermission(list []permission.Permission, p permission.Permission) bool {
	for _, have := range list {
		if have == p {
			return true
		}
	}
	return false
}

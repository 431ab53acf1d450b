package plugin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/synapkit/synapd/internal/metrics"
	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
)

// ErrSealMismatch is returned when a manifest does not carry the kernel's
// integrity seal.
var ErrSealMismatch = errors.New("plugin integrity seal mismatch")

// ErrAlreadyRegistered is returned for duplicate plugin ids.
var ErrAlreadyRegistered = errors.New("plugin id already registered")

// ErrNotRegistered is returned for unknown plugin ids.
var ErrNotRegistered = errors.New("plugin not registered")

// derivedSubmitTimeout bounds the blocking fallback when the event channel
// is full; past it the derived event is dropped in favor of progress.
const derivedSubmitTimeout = 250 * time.Millisecond

// Instance pairs a plugin with the state captured at registration. The
// manifest and roles are read once so a plugin cannot change its story
// after installation.
type Instance struct {
	Plugin   Plugin
	Manifest Manifest
	Roles    RoleSet
}

// Registry owns the installed plugin instances, their effective permission
// sets, and the event fan-out. Reads vastly outnumber writes; a RWMutex
// guards both maps and dispatch works on a snapshot so concurrent grants or
// registrations never reorder an in-flight fan-out.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Instance       // string id -> instance
	perms   map[string]*permission.Set // derived id -> effective set

	maxDepth      uint32
	maxFanOut     int
	pluginTimeout time.Duration

	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(maxDepth uint32, maxFanOut int, pluginTimeout time.Duration, m *metrics.Metrics) *Registry {
	if maxDepth == 0 {
		maxDepth = 5
	}
	if maxFanOut <= 0 {
		maxFanOut = 10
	}
	if pluginTimeout <= 0 {
		pluginTimeout = 5 * time.Second
	}
	if m == nil {
		m = metrics.NewForTest()
	}
	return &Registry{
		plugins:       make(map[string]*Instance),
		perms:         make(map[string]*permission.Set),
		maxDepth:      maxDepth,
		maxFanOut:     maxFanOut,
		pluginTimeout: pluginTimeout,
		metrics:       m,
	}
}

// Register installs a plugin. The manifest must carry the kernel seal, the
// id must be unused, and any declared tool schemas must compile.
func (r *Registry) Register(p Plugin) error {
	manifest := p.Manifest()
	if manifest.ID == "" {
		return errors.New("plugin manifest has empty id")
	}
	if !manifest.Sealed() {
		return fmt.Errorf("plugin %q reports seal %#x: %w", manifest.ID, manifest.MagicSeal, ErrSealMismatch)
	}
	for _, tool := range manifest.ProvidedTools {
		if len(tool.InputSchema) == 0 {
			continue
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.InputSchema)); err != nil {
			return fmt.Errorf("plugin %q tool %q: invalid input schema: %w", manifest.ID, tool.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[manifest.ID]; exists {
		return fmt.Errorf("plugin %q: %w", manifest.ID, ErrAlreadyRegistered)
	}
	r.plugins[manifest.ID] = &Instance{
		Plugin:   p,
		Manifest: manifest,
		Roles:    p.Roles(),
	}
	return nil
}

// Unregister removes a plugin and its permission state.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[id]; !exists {
		return fmt.Errorf("plugin %q: %w", id, ErrNotRegistered)
	}
	delete(r.plugins, id)
	delete(r.perms, DeriveID(id))
	return nil
}

// Get returns the instance for a plugin id.
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.plugins[id]
	return inst, ok
}

// ListPlugins returns every installed manifest, ordered by id.
func (r *Registry) ListPlugins() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifests := make([]Manifest, 0, len(r.plugins))
	for _, inst := range r.plugins {
		manifests = append(manifests, inst.Manifest)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ID < manifests[j].ID })
	return manifests
}

// Engine returns the reasoning role of a plugin, if it fulfils one.
func (r *Registry) Engine(id string) (ReasoningEngine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.plugins[id]
	if !ok || inst.Roles.Reasoning == nil {
		return nil, false
	}
	return inst.Roles.Reasoning, true
}

// FindMemory returns the first plugin (by id order) providing Memory.
func (r *Registry) FindMemory() (MemoryProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if mem := r.plugins[id].Roles.Memory; mem != nil {
			return mem, true
		}
	}
	return nil, false
}

// WebContributors returns all plugins that add HTTP routes, by id order.
func (r *Registry) WebContributors() []WebContributor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []WebContributor
	for _, id := range ids {
		if web := r.plugins[id].Roles.Web; web != nil {
			out = append(out, web)
		}
	}
	return out
}

// EffectivePermissions returns a plugin's current effective set.
func (r *Registry) EffectivePermissions(id string) []permission.Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perms[DeriveID(id)].Slice()
}

// HasPermission reports whether a plugin currently holds p.
func (r *Registry) HasPermission(id string, p permission.Permission) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perms[DeriveID(id)].Contains(p)
}

// UpdateEffectivePermissions adds perm to a plugin's effective set
// (add-only, idempotent) and reports whether it was newly added. When newly
// added and handle is non-nil, the plugin is notified through
// OnCapabilityInjected; repeat grants notify nothing.
func (r *Registry) UpdateEffectivePermissions(ctx context.Context, id string, perm permission.Permission, handle Capability) bool {
	r.mu.Lock()
	key := DeriveID(id)
	set, ok := r.perms[key]
	if !ok {
		set = permission.NewSet()
		r.perms[key] = set
	}
	added := set.Add(perm)
	inst := r.plugins[id]
	r.mu.Unlock()

	if added && handle != nil && inst != nil {
		if err := safeInject(ctx, inst.Plugin, handle); err != nil {
			log.Printf("plugin %s: capability injection for %s failed: %v", id, perm, err)
		}
	}
	return added
}

// RemoveEffectivePermission deletes perm from a plugin's effective set and
// reports whether it was present.
func (r *Registry) RemoveEffectivePermission(id string, perm permission.Permission) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perms[DeriveID(id)].Remove(perm)
}

// safeInject runs OnCapabilityInjected under a panic boundary.
func safeInject(ctx context.Context, p Plugin, handle Capability) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in OnCapabilityInjected: %v", rec)
		}
	}()
	return p.OnCapabilityInjected(ctx, handle)
}

// DispatchEvent fans one envelope out to every installed plugin and
// collects derived events onto out. It returns when all per-plugin tasks
// have completed or timed out.
//
// The cascade guard runs first: an envelope at or past the depth limit is
// dropped before any plugin sees it. This is the only cycle breaker for
// plugins that emit events at each other.
func (r *Registry) DispatchEvent(ctx context.Context, env event.Envelope, out chan<- event.Envelope) {
	if env.Depth >= r.maxDepth {
		r.metrics.CascadeDrops.Inc()
		log.Printf("event %s dropped at cascade depth %d (limit %d)",
			env.Event.Data.Kind(), env.Depth, r.maxDepth)
		return
	}

	// Snapshot under the read lock: a concurrent registration becomes
	// eligible for the next envelope, never a partially-dispatched one.
	r.mu.RLock()
	snapshot := make([]*Instance, 0, len(r.plugins))
	for _, inst := range r.plugins {
		snapshot = append(snapshot, inst)
	}
	r.mu.RUnlock()
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Manifest.ID < snapshot[j].Manifest.ID
	})

	var fanOut atomic.Int64
	var wg sync.WaitGroup
	for _, inst := range snapshot {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			r.invokeSupervised(ctx, inst, env, out, &fanOut)
		}(inst)
	}
	wg.Wait()

	if n := fanOut.Load(); n > int64(r.maxFanOut) {
		r.metrics.FanOutExceeded.Inc()
		log.Printf("event %s produced %d derived events (advisory ceiling %d)",
			env.Event.Data.Kind(), n, r.maxFanOut)
	}
}

type onEventResult struct {
	derived event.Data
	err     error
}

// invokeSupervised runs one plugin's OnEvent under a panic boundary and the
// per-plugin deadline. No outcome here affects sibling plugins.
func (r *Registry) invokeSupervised(ctx context.Context, inst *Instance, env event.Envelope, out chan<- event.Envelope, fanOut *atomic.Int64) {
	id := inst.Manifest.ID

	cctx, cancel := context.WithTimeout(ctx, r.pluginTimeout)
	defer cancel()

	done := make(chan onEventResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.metrics.PluginErrors.WithLabelValues(id).Inc()
				log.Printf("plugin %s panicked in OnEvent: %v", id, rec)
				done <- onEventResult{}
			}
		}()
		derived, err := inst.Plugin.OnEvent(cctx, env.Event)
		done <- onEventResult{derived: derived, err: err}
	}()

	var res onEventResult
	select {
	case res = <-done:
	case <-cctx.Done():
		// The plugin ignored its deadline; abandon it and move on.
		r.metrics.PluginTimeouts.WithLabelValues(id).Inc()
		log.Printf("plugin %s exceeded the %s on-event deadline", id, r.pluginTimeout)
		return
	}

	if res.err != nil {
		r.metrics.PluginErrors.WithLabelValues(id).Inc()
		log.Printf("plugin %s on-event error: %v", id, res.err)
		return
	}
	if res.derived == nil {
		return
	}

	fanOut.Add(1)
	r.submitDerived(env.Derived(id, res.derived), out)
}

// submitDerived puts a derived envelope on the channel: non-blocking fast
// path, then a bounded blocking fallback, then drop. The kernel prefers
// progress over unbounded queueing.
func (r *Registry) submitDerived(derived event.Envelope, out chan<- event.Envelope) {
	select {
	case out <- derived:
		return
	default:
	}

	timer := time.NewTimer(derivedSubmitTimeout)
	defer timer.Stop()
	select {
	case out <- derived:
	case <-timer.C:
		r.metrics.EventsDropped.WithLabelValues("channel_full").Inc()
		log.Printf("derived event %s from %s dropped: channel full",
			derived.Event.Data.Kind(), derived.Issuer)
	}
}

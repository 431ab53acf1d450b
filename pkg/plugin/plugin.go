// Package plugin defines the contract between the synapd kernel and its
// plugins: the lifecycle callbacks the kernel invokes, the manifest plugins
// self-describe with, the optional role interfaces, and the capability
// handles that mediate access to sensitive facilities.
//
// Plugins run in-process by default; out-of-process plugins are adapted by
// a bridge plugin that speaks JSON-RPC over stdio and presents this same
// interface to the kernel. The kernel does not care which runtime backs a
// plugin.
package plugin

import (
	"context"

	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
)

// Plugin is the surface every plugin must expose.
type Plugin interface {
	// Manifest returns the plugin's immutable descriptor. Called before
	// installation; a manifest without the kernel's MagicSeal is refused.
	Manifest() Manifest

	// OnInit is called once after construction and before any event
	// delivery. network is non-nil only when NetworkAccess is effective at
	// init time. An error aborts this plugin's installation.
	OnInit(ctx context.Context, rt RuntimeContext, network NetworkCapability) error

	// OnEvent is called for every event dispatched to the plugin. A non-nil
	// return value is re-injected into the kernel as a derived event with
	// advanced cascade depth. Errors are logged at the dispatch boundary and
	// never affect sibling plugins.
	OnEvent(ctx context.Context, ev *event.Event) (event.Data, error)

	// OnCapabilityInjected is called whenever the set of capabilities the
	// plugin may use changes, e.g. a permission was just granted. Must be
	// idempotent.
	OnCapabilityInjected(ctx context.Context, cap Capability) error

	// Roles returns the optional role handles this plugin fulfils. A nil
	// field means the role is not provided. The kernel queries roles only
	// through this set, never through type identity.
	Roles() RoleSet
}

// RuntimeContext carries what a plugin may use at and after init.
type RuntimeContext struct {
	// EffectivePermissions is the plugin's effective set at init time.
	EffectivePermissions []permission.Permission

	// Store is the plugin's private key-value namespace.
	Store DataStore

	// Emit submits a spontaneous event to the kernel's ingress. It never
	// blocks indefinitely; a saturated kernel returns an error.
	Emit func(data event.Data) error
}

// HasPermission reports whether p was effective at init time.
func (rt RuntimeContext) HasPermission(p permission.Permission) bool {
	for _, have := range rt.EffectivePermissions {
		if have == p {
			return true
		}
	}
	return false
}

// Config is the constructor input for a plugin factory.
type Config struct {
	// ID is the instance id the kernel assigns (usually the factory name).
	ID string

	// Values are the persisted configuration values for this plugin.
	Values map[string]string
}

// Factory constructs a plugin instance from persisted configuration.
type Factory func(ctx context.Context, cfg Config) (Plugin, error)

// Base provides no-op defaults for the optional callbacks. Embed it so a
// plugin only implements what it needs.
type Base struct{}

func (Base) OnInit(context.Context, RuntimeContext, NetworkCapability) error { return nil }

func (Base) OnEvent(context.Context, *event.Event) (event.Data, error) { return nil, nil }

func (Base) OnCapabilityInjected(context.Context, Capability) error { return nil }

func (Base) Roles() RoleSet { return RoleSet{} }

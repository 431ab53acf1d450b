package plugin

import (
	"net/http"

	"github.com/synapkit/synapd/pkg/permission"
)

// Capability is a handle mediating access to a sensitive facility. After a
// revoke, calls through a stale NetworkCapability fail with
// ErrCapabilityRevoked. A DataStore obtained through a StoreCapability is
// not disarmed by a revoke and keeps working.
type Capability interface {
	Permission() permission.Permission
}

// NetworkCapability is the handle behind permission.NetworkAccess: an HTTP
// client constrained to the plugin's declared host whitelist.
type NetworkCapability interface {
	Capability

	// Do performs the request if the target host is whitelisted and the
	// capability has not been revoked.
	Do(req *http.Request) (*http.Response, error)
}

// StoreCapability is the handle behind MemoryRead/MemoryWrite: the plugin's
// private data namespace.
type StoreCapability interface {
	Capability

	Store() DataStore
}

// VisionCapability is a handle type for permission.VisionRead. The kernel's
// manager does not issue one: a VisionRead grant reaches the plugin as a
// handle that carries only the permission.
type VisionCapability interface {
	Capability

	Provider() VisionProvider
}

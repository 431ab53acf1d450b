package plugin

import "errors"

// ErrNoSuchKey is returned by DataStore.Load for absent keys.
var ErrNoSuchKey = errors.New("no such key")

// ErrCapabilityRevoked is returned by calls through a capability handle
// whose backing permission has been revoked.
var ErrCapabilityRevoked = errors.New("capability revoked")

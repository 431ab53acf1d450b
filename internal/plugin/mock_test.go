package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
)

// mockPlugin is the standard test plugin: it records received events and
// optionally panics, delays, or answers with a derived event.
type mockPlugin struct {
	Base

	id          string
	seal        uint32
	required    []permission.Permission
	shouldPanic bool
	delay       time.Duration
	respond     func(ev *event.Event) event.Data
	roles       RoleSet

	mu       sync.Mutex
	received []*event.Event
	injected []Capability
	initErr  error
}

func newMockPlugin(id string) *mockPlugin {
	return &mockPlugin{id: id, seal: MagicSeal}
}

func (m *mockPlugin) Manifest() Manifest {
	return Manifest{
		ID:                  m.id,
		Name:                "Mock",
		Version:             "0.0.0",
		Category:            CategoryTool,
		ServiceType:         ServiceSkill,
		IsActive:            true,
		IsConfigured:        true,
		MagicSeal:           m.seal,
		SDKVersion:          "1.0.0",
		RequiredPermissions: m.required,
	}
}

func (m *mockPlugin) OnInit(context.Context, RuntimeContext, NetworkCapability) error {
	return m.initErr
}

func (m *mockPlugin) OnEvent(ctx context.Context, ev *event.Event) (event.Data, error) {
	m.mu.Lock()
	m.received = append(m.received, ev)
	m.mu.Unlock()

	if m.shouldPanic {
		panic("intentional test panic")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.respond != nil {
		return m.respond(ev), nil
	}
	return nil, nil
}

func (m *mockPlugin) OnCapabilityInjected(_ context.Context, handle Capability) error {
	m.mu.Lock()
	m.injected = append(m.injected, handle)
	m.mu.Unlock()
	return nil
}

func (m *mockPlugin) Roles() RoleSet { return m.roles }

func (m *mockPlugin) events() []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*event.Event, len(m.received))
	copy(out, m.received)
	return out
}

func (m *mockPlugin) injectedCaps() []Capability {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Capability, len(m.injected))
	copy(out, m.injected)
	return out
}

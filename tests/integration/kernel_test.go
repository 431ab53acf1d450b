// Integration tests exercising the assembled kernel: registry, manager,
// processor and built-in plugins wired together the way synapd boots them.
package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapkit/synapd/internal/agent"
	"github.com/synapkit/synapd/internal/database"
	kernelevent "github.com/synapkit/synapd/internal/event"
	"github.com/synapkit/synapd/internal/metrics"
	"github.com/synapkit/synapd/internal/plugin"
	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
	pkgplugin "github.com/synapkit/synapd/pkg/plugin"
	"github.com/synapkit/synapd/plugins/kvmem"
)

type kernel struct {
	db        *database.DB
	registry  *plugin.Registry
	manager   *plugin.Manager
	processor *kernelevent.Processor
	history   *kernelevent.History
	broker    *kernelevent.Broker
}

func startKernel(t *testing.T, maxDepth uint32) *kernel {
	t.Helper()

	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := metrics.NewForTest()
	registry := plugin.NewRegistry(maxDepth, 10, time.Second, m)
	history := kernelevent.NewHistory(1000, 24*time.Hour)
	broker := kernelevent.NewBroker()

	var processor *kernelevent.Processor
	manager := plugin.NewManager(db, registry, func(env event.Envelope) error {
		return processor.Submit(env)
	})
	processor = kernelevent.NewProcessor(1000, registry, manager, history, broker, m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go processor.Run(ctx)

	return &kernel{
		db:        db,
		registry:  registry,
		manager:   manager,
		processor: processor,
		history:   history,
		broker:    broker,
	}
}

// pingPlugin answers TO_<own id> notifications with TO_<target>.
type pingPlugin struct {
	pkgplugin.Base
	id     string
	target string
}

func (p *pingPlugin) Manifest() pkgplugin.Manifest {
	return pkgplugin.Manifest{
		ID: p.id, Name: "Ping", Version: "1.0",
		Category: pkgplugin.CategoryTool, ServiceType: pkgplugin.ServiceReasoning,
		IsActive: true, IsConfigured: true,
		MagicSeal: pkgplugin.MagicSeal, SDKVersion: pkgplugin.SDKVersion,
	}
}

func (p *pingPlugin) OnEvent(_ context.Context, ev *event.Event) (event.Data, error) {
	if data, ok := ev.Data.(event.SystemNotification); ok {
		if data.Text == "TO_"+p.id {
			return event.SystemNotification{Text: "TO_" + p.target}, nil
		}
	}
	return nil, nil
}

func TestEventCascadingProtection(t *testing.T) {
	k := startKernel(t, 10)

	require.NoError(t, k.registry.Register(&pingPlugin{id: "plugin.a", target: "plugin.b"}))
	require.NoError(t, k.registry.Register(&pingPlugin{id: "plugin.b", target: "plugin.a"}))

	sub := k.broker.Subscribe()
	defer k.broker.Unsubscribe(sub)

	// Seed the ping-pong at depth 0.
	require.NoError(t, k.processor.Submit(event.System(event.SystemNotification{Text: "TO_plugin.a"})))

	count := 0
	timeout := time.After(3 * time.Second)
loop:
	for {
		select {
		case <-sub:
			count++
			if count > 100 {
				break loop // safety break if protection fails
			}
		case <-timeout:
			break loop
		}
	}

	t.Logf("total events broadcast: %d", count)
	assert.Less(t, count, 50, "cascade depth limit must stop the ping-pong")
	assert.GreaterOrEqual(t, count, 5, "the cascade should run until the depth limit")
}

// panicPlugin panics on every event.
type panicPlugin struct {
	pkgplugin.Base
}

func (p *panicPlugin) Manifest() pkgplugin.Manifest {
	return pkgplugin.Manifest{
		ID: "panic.plugin", Name: "Panic", Version: "1.0",
		Category: pkgplugin.CategoryTool, ServiceType: pkgplugin.ServiceSkill,
		IsActive: true, IsConfigured: true,
		MagicSeal: pkgplugin.MagicSeal, SDKVersion: pkgplugin.SDKVersion,
	}
}

func (p *panicPlugin) OnEvent(context.Context, *event.Event) (event.Data, error) {
	panic("boom")
}

// recorderPlugin stores every event it sees.
type recorderPlugin struct {
	pkgplugin.Base
	mu   sync.Mutex
	seen []*event.Event
}

func (p *recorderPlugin) Manifest() pkgplugin.Manifest {
	return pkgplugin.Manifest{
		ID: "recorder.plugin", Name: "Recorder", Version: "1.0",
		Category: pkgplugin.CategoryTool, ServiceType: pkgplugin.ServiceSkill,
		IsActive: true, IsConfigured: true,
		MagicSeal: pkgplugin.MagicSeal, SDKVersion: pkgplugin.SDKVersion,
	}
}

func (p *recorderPlugin) OnEvent(_ context.Context, ev *event.Event) (event.Data, error) {
	p.mu.Lock()
	p.seen = append(p.seen, ev)
	p.mu.Unlock()
	return nil, nil
}

func (p *recorderPlugin) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func TestPanicIsolationEndToEnd(t *testing.T) {
	k := startKernel(t, 5)

	recorder := &recorderPlugin{}
	require.NoError(t, k.registry.Register(&panicPlugin{}))
	require.NoError(t, k.registry.Register(recorder))

	require.NoError(t, k.processor.Submit(event.System(event.SystemNotification{Text: "first"})))
	require.Eventually(t, func() bool { return recorder.count() == 1 },
		time.Second, 5*time.Millisecond,
		"recorder must receive the event despite the panicking sibling")

	// The kernel still accepts and routes further events.
	require.NoError(t, k.processor.Submit(event.System(event.SystemNotification{Text: "second"})))
	require.Eventually(t, func() bool { return recorder.count() == 2 },
		time.Second, 5*time.Millisecond)
}

// badSealPlugin reports a foreign integrity seal.
type badSealPlugin struct {
	pkgplugin.Base
}

func (p *badSealPlugin) Manifest() pkgplugin.Manifest {
	return pkgplugin.Manifest{
		ID: "bad.seal", Name: "BadSeal", Version: "1.0",
		Category: pkgplugin.CategoryTool, ServiceType: pkgplugin.ServiceSkill,
		IsActive: true, IsConfigured: true,
		MagicSeal: 0xDEADBEEF, SDKVersion: pkgplugin.SDKVersion,
	}
}

func TestBootstrapRejectsForeignSeal(t *testing.T) {
	k := startKernel(t, 5)

	require.NoError(t, k.manager.RegisterFactory("bad.seal", func(context.Context, pkgplugin.Config) (pkgplugin.Plugin, error) {
		return &badSealPlugin{}, nil
	}))
	require.NoError(t, k.manager.RegisterFactory("recorder.plugin", func(context.Context, pkgplugin.Config) (pkgplugin.Plugin, error) {
		return &recorderPlugin{}, nil
	}))

	k.manager.Bootstrap(context.Background())

	manifests := k.registry.ListPlugins()
	require.Len(t, manifests, 1, "bootstrap completes without the unsealed plugin")
	assert.Equal(t, "recorder.plugin", manifests[0].ID)
}

// injectionPlugin flips a flag when it receives a network capability.
type injectionPlugin struct {
	pkgplugin.Base
	mu     sync.Mutex
	hasNet bool
}

func (p *injectionPlugin) Manifest() pkgplugin.Manifest {
	return pkgplugin.Manifest{
		ID: "inject.watcher", Name: "Injection Watcher", Version: "1.0",
		Category: pkgplugin.CategoryTool, ServiceType: pkgplugin.ServiceSkill,
		IsActive: true, IsConfigured: true,
		MagicSeal: pkgplugin.MagicSeal, SDKVersion: pkgplugin.SDKVersion,
		RequiredPermissions: []permission.Permission{permission.NetworkAccess},
	}
}

func (p *injectionPlugin) OnCapabilityInjected(_ context.Context, handle pkgplugin.Capability) error {
	if _, ok := handle.(pkgplugin.NetworkCapability); ok {
		p.mu.Lock()
		p.hasNet = true
		p.mu.Unlock()
	}
	return nil
}

func (p *injectionPlugin) networkInjected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasNet
}

func TestPermissionGrantedEventInjectsCapability(t *testing.T) {
	k := startKernel(t, 5)

	watcher := &injectionPlugin{}
	require.NoError(t, k.manager.RegisterFactory("inject.watcher", func(context.Context, pkgplugin.Config) (pkgplugin.Plugin, error) {
		return watcher, nil
	}))
	k.manager.Bootstrap(context.Background())

	require.Empty(t, k.registry.EffectivePermissions("inject.watcher"),
		"nothing allowed yet: required ∩ allowed is empty")

	// A PermissionGranted event drives the manager's grant path.
	require.NoError(t, k.processor.Submit(event.System(event.PermissionGranted{
		PluginID:   "inject.watcher",
		Permission: permission.NetworkAccess,
	})))

	require.Eventually(t, watcher.networkInjected, 100*time.Millisecond, 2*time.Millisecond,
		"the network capability must arrive within 100ms")
	assert.True(t, k.registry.HasPermission("inject.watcher", permission.NetworkAccess))
}

func TestMessageThoughtResponseLoop(t *testing.T) {
	k := startKernel(t, 5)
	ctx := context.Background()

	require.NoError(t, k.db.SaveAgent(ctx, database.Agent{
		ID: "agent.main", Name: "Main", Status: "online",
		DefaultEngineID:      kvmem.ID,
		RequiredCapabilities: `["Reasoning","Memory"]`,
		Metadata:             `{}`,
		Enabled:              true,
	}))

	systemHandler := agent.NewSystemHandler("agent.main", k.registry, k.db, nil, 10)
	require.NoError(t, k.manager.RegisterFactory(agent.SystemHandlerID, systemHandler.Factory()))
	require.NoError(t, k.manager.RegisterFactory(kvmem.ID, kvmem.New))
	k.manager.Bootstrap(ctx)

	sub := k.broker.Subscribe()
	defer k.broker.Unsubscribe(sub)

	userMsg := event.NewMessage(event.Source{Kind: event.SourceUser, ID: "u1", Name: "User"}, "ping the mind")
	require.NoError(t, k.processor.Submit(event.System(event.MessageReceived{Message: userMsg})))

	// Expect the full loop on the broadcast stream: MessageReceived →
	// ThoughtRequested → ThoughtResponse → MessageReceived (agent).
	var sawThought, sawResponse, sawAgentReply bool
	timeout := time.After(3 * time.Second)
	for !(sawThought && sawResponse && sawAgentReply) {
		select {
		case msg := <-sub:
			if msg.Event == nil {
				continue
			}
			switch data := msg.Event.Data.(type) {
			case event.ThoughtRequested:
				sawThought = true
				assert.Equal(t, kvmem.ID, data.EngineID)
			case event.ThoughtResponse:
				sawResponse = true
				assert.Contains(t, data.Content, "ping the mind")
			case event.MessageReceived:
				if data.Message.Source.Kind == event.SourceAgent {
					sawAgentReply = true
				}
			}
		case <-timeout:
			t.Fatalf("loop incomplete: thought=%v response=%v reply=%v",
				sawThought, sawResponse, sawAgentReply)
		}
	}

	// And memory recalls the conversation chronologically.
	memory, ok := k.registry.FindMemory()
	require.True(t, ok)
	require.Eventually(t, func() bool {
		recalled, err := memory.Recall(ctx, "agent.main", "", 10)
		return err == nil && len(recalled) >= 2
	}, time.Second, 10*time.Millisecond)

	recalled, err := memory.Recall(ctx, "agent.main", "", 10)
	require.NoError(t, err)
	assert.Equal(t, "ping the mind", recalled[0].Content, "user message first (oldest)")
}

func TestDerivedEventsObserveStrictlyGreaterDepth(t *testing.T) {
	k := startKernel(t, 4)

	require.NoError(t, k.registry.Register(&pingPlugin{id: "plugin.a", target: "plugin.a"}))

	sub := k.broker.Subscribe()
	defer k.broker.Unsubscribe(sub)

	require.NoError(t, k.processor.Submit(event.System(event.SystemNotification{Text: "TO_plugin.a"})))

	// Record-then-dispatch: the envelope at the depth limit is still
	// recorded and broadcast, but never dispatched — so depths 0..4 appear
	// on the stream and the cascade ends there.
	count := 0
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case <-sub:
			count++
		case <-timeout:
			break loop
		}
	}
	assert.Equal(t, 5, count, "depth limit 4 dispatches depths 0 through 3")
}

func TestHistoryReflectsDequeueOrder(t *testing.T) {
	k := startKernel(t, 5)

	for i := 0; i < 5; i++ {
		require.NoError(t, k.processor.Submit(event.System(event.SystemNotification{
			Text: fmt.Sprintf("ordered %d", i),
		})))
	}

	require.Eventually(t, func() bool { return k.history.Len() == 5 },
		time.Second, 5*time.Millisecond)

	recent := k.history.Recent(0)
	for i, ev := range recent {
		assert.Equal(t, fmt.Sprintf("ordered %d", i), ev.Data.(event.SystemNotification).Text)
	}
}

// Package kvmem is the built-in memory provider: persistent key-value
// message storage with chronological recall. It doubles as a trivial
// reasoning engine for smoke-testing the think loop without a model.
package kvmem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
	"github.com/synapkit/synapd/pkg/plugin"
)

// ID is the plugin's stable identifier.
const ID = "core.kvmem"

// recallScanCap bounds how many stored entries one recall will load.
const recallScanCap = 500

// Plugin implements Memory and Reasoning over the kernel data store.
type Plugin struct {
	plugin.Base

	instanceID string

	mu    sync.RWMutex
	store plugin.DataStore
}

// New is the factory registered with the plugin manager.
func New(_ context.Context, cfg plugin.Config) (plugin.Plugin, error) {
	return &Plugin{instanceID: cfg.ID}, nil
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:           ID,
		Name:         "KV Memory",
		Description:  "Persistent key-value memory with chronological recall.",
		Version:      "0.2.0",
		Category:     plugin.CategoryMemory,
		ServiceType:  plugin.ServiceMemory,
		Tags:         []string{"#MEMORY"},
		IsActive:     true,
		IsConfigured: true,
		MagicSeal:    plugin.MagicSeal,
		SDKVersion:   plugin.SDKVersion,
		RequiredPermissions: []permission.Permission{
			permission.MemoryRead,
			permission.MemoryWrite,
		},
		ProvidedCapabilities: []string{"Reasoning", "Memory"},
	}
}

func (p *Plugin) OnInit(_ context.Context, rt plugin.RuntimeContext, _ plugin.NetworkCapability) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store = rt.Store
	return nil
}

func (p *Plugin) OnEvent(ctx context.Context, ev *event.Event) (event.Data, error) {
	thought, ok := ev.Data.(event.ThoughtRequested)
	if !ok || thought.EngineID != ID {
		return nil, nil
	}

	content, err := p.Think(ctx, thought.Agent, thought.Message, thought.Context)
	if err != nil {
		return nil, err
	}
	return event.ThoughtResponse{
		AgentID:         thought.Agent.ID,
		EngineID:        ID,
		Content:         content,
		SourceMessageID: thought.Message.ID,
	}, nil
}

func (p *Plugin) Roles() plugin.RoleSet {
	return plugin.RoleSet{Reasoning: p, Memory: p}
}

// EngineName implements ReasoningEngine.
func (p *Plugin) EngineName() string { return "KV-Mind" }

// Think implements ReasoningEngine with a canned echo reply.
func (p *Plugin) Think(_ context.Context, _ event.AgentRef, message event.Message, _ []event.Message) (string, error) {
	return fmt.Sprintf("KV received: %q.", message.Content), nil
}

// ProviderName implements MemoryProvider.
func (p *Plugin) ProviderName() string { return "KV-Storage" }

// memKey builds a per-agent key that sorts by time: the zero-padded
// nanosecond timestamp keeps the store's descending key order equal to
// reverse-chronological order; the uuid suffix breaks ties.
func memKey(agentID string, msg event.Message) string {
	return fmt.Sprintf("mem:%s:%020d:%s", agentID, msg.CreatedAt.UnixNano(), uuid.NewString()[:8])
}

// Store implements MemoryProvider.
func (p *Plugin) Store(ctx context.Context, agentID string, message event.Message) error {
	store, err := p.dataStore()
	if err != nil {
		return err
	}
	return store.Save(ctx, memKey(agentID, message), message)
}

// Recall implements MemoryProvider. Results are chronological: the store
// returns newest-first, the newest limit entries are kept, then the slice
// is reversed so callers read oldest-first.
func (p *Plugin) Recall(ctx context.Context, agentID, query string, limit int) ([]event.Message, error) {
	store, err := p.dataStore()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	entries, err := store.List(ctx, "mem:"+agentID+":")
	if err != nil {
		return nil, err
	}
	if len(entries) > recallScanCap {
		entries = entries[:recallScanCap]
	}

	queryLower := strings.ToLower(query)
	var messages []event.Message
	for _, entry := range entries {
		var msg event.Message
		if err := json.Unmarshal(entry.Value, &msg); err != nil {
			log.Printf("kvmem: undecodable entry %s: %v", entry.Key, err)
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(msg.Content), queryLower) {
			continue
		}
		messages = append(messages, msg)
		if len(messages) >= limit {
			break
		}
	}

	// Newest-first → oldest-first for the engine's context window.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (p *Plugin) dataStore() (plugin.DataStore, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.store == nil {
		return nil, errors.New("kvmem: store not initialized")
	}
	return p.store, nil
}

// Package agent hosts the kernel's system handler: the built-in plugin
// that turns user messages into thought requests for an agent's reasoning
// engine and turns thought responses back into agent messages. It is
// installed like any other plugin and participates in the normal cascade.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/synapkit/synapd/internal/database"
	"github.com/synapkit/synapd/internal/plugin"
	"github.com/synapkit/synapd/pkg/event"
	pkgplugin "github.com/synapkit/synapd/pkg/plugin"
)

// SystemHandlerID is the well-known id of the kernel's system handler.
const SystemHandlerID = "core.system"

// Registry is the lookup surface the handler needs from the plugin kernel.
type Registry interface {
	FindMemory() (plugin.MemoryProvider, bool)
}

// Store reads and updates agent records.
type Store interface {
	AgentByID(ctx context.Context, id string) (database.Agent, error)
	Agents(ctx context.Context) ([]database.Agent, error)
	SetAgentStatus(ctx context.Context, id, status string) error
}

// SystemHandler routes conversation events for one agent.
type SystemHandler struct {
	pkgplugin.Base

	agentID         string
	fallbackEngines []string
	contextLimit    int
	registry        Registry
	store           Store
}

// NewSystemHandler builds the handler for agentID. When the agent record
// names no default engine, the first entry of fallbackEngines is used; the
// remaining entries are never consulted.
func NewSystemHandler(agentID string, registry Registry, store Store, fallbackEngines []string, contextLimit int) *SystemHandler {
	if contextLimit <= 0 {
		contextLimit = 10
	}
	return &SystemHandler{
		agentID:         agentID,
		fallbackEngines: fallbackEngines,
		contextLimit:    contextLimit,
		registry:        registry,
		store:           store,
	}
}

// Factory adapts the handler to the plugin manager's bootstrap path.
func (h *SystemHandler) Factory() plugin.Factory {
	return func(context.Context, plugin.Config) (plugin.Plugin, error) { return h, nil }
}

func (h *SystemHandler) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:           SystemHandlerID,
		Name:         "System Handler",
		Description:  "Routes messages between users, memory and reasoning engines.",
		Version:      "1.0.0",
		Category:     plugin.CategoryTool,
		ServiceType:  plugin.ServiceSkill,
		IsActive:     true,
		IsConfigured: true,
		MagicSeal:    plugin.MagicSeal,
		SDKVersion:   pkgplugin.SDKVersion,
	}
}

func (h *SystemHandler) OnEvent(ctx context.Context, ev *event.Event) (event.Data, error) {
	switch data := ev.Data.(type) {
	case event.MessageReceived:
		return h.onMessage(ctx, data.Message)
	case event.ThoughtResponse:
		return h.onThought(ctx, data)
	case event.AgentPowerChanged:
		return nil, h.onPower(ctx, data)
	}
	return nil, nil
}

// onMessage turns a user message into a thought request. Messages issued
// by agents are stored but never re-trigger thinking; that asymmetry is
// what keeps the message/response cycle from looping.
func (h *SystemHandler) onMessage(ctx context.Context, msg event.Message) (event.Data, error) {
	h.remember(ctx, msg)

	if msg.Source.Kind != event.SourceUser {
		return nil, nil
	}

	record, err := h.store.AgentByID(ctx, h.agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", h.agentID, err)
	}
	if !record.Enabled {
		return nil, nil
	}

	engineID := record.DefaultEngineID
	if engineID == "" && len(h.fallbackEngines) > 0 {
		engineID = h.fallbackEngines[0]
	}
	if engineID == "" {
		log.Printf("agent %s has no reasoning engine configured", h.agentID)
		return nil, nil
	}

	return event.ThoughtRequested{
		Agent: event.AgentRef{
			ID:              record.ID,
			Name:            record.Name,
			DefaultEngineID: engineID,
		},
		EngineID: engineID,
		Message:  msg,
		Context:  h.recall(ctx),
	}, nil
}

// onThought converts an engine reply into an agent-sourced message. The
// reply is remembered when the derived MessageReceived comes back through
// dispatch, so it is not stored here.
func (h *SystemHandler) onThought(_ context.Context, thought event.ThoughtResponse) (event.Data, error) {
	if thought.AgentID != h.agentID {
		return nil, nil
	}
	reply := event.NewMessage(event.Source{Kind: event.SourceAgent, ID: thought.AgentID}, thought.Content)
	return event.MessageReceived{Message: reply}, nil
}

func (h *SystemHandler) onPower(ctx context.Context, data event.AgentPowerChanged) error {
	if data.AgentID != h.agentID {
		return nil
	}
	status := "offline"
	if data.Online {
		status = "online"
	}
	return h.store.SetAgentStatus(ctx, data.AgentID, status)
}

func (h *SystemHandler) remember(ctx context.Context, msg event.Message) {
	memory, ok := h.registry.FindMemory()
	if !ok {
		return
	}
	if err := memory.Store(ctx, h.agentID, msg); err != nil {
		log.Printf("memory store for agent %s failed: %v", h.agentID, err)
	}
}

// recall returns the agent's recent context, oldest first.
func (h *SystemHandler) recall(ctx context.Context) []event.Message {
	memory, ok := h.registry.FindMemory()
	if !ok {
		return nil
	}
	history, err := memory.Recall(ctx, h.agentID, "", h.contextLimit)
	if err != nil {
		log.Printf("memory recall for agent %s failed: %v", h.agentID, err)
		return nil
	}
	return history
}

// RequiredCapabilities decodes an agent record's capability list.
func RequiredCapabilities(record database.Agent) []string {
	var caps []string
	if err := json.Unmarshal([]byte(record.RequiredCapabilities), &caps); err != nil {
		return nil
	}
	return caps
}

// Package scriptmind is a reasoning engine backed by an embedded
// JavaScript interpreter. The reply logic lives in the plugin's "script"
// config value — a JS program defining think(agent, message, context) —
// so behavior can be changed at runtime without rebuilding the kernel.
package scriptmind

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/plugin"
)

// ID is the plugin's stable identifier.
const ID = "core.scriptmind"

// thinkBudget bounds a single script evaluation.
const thinkBudget = 2 * time.Second

// defaultScript answers with a plain echo so a fresh install can think.
const defaultScript = `
function think(agent, message, context) {
	return agent.name + " heard: " + message.content;
}
`

// ErrInterrupted is returned when a script exceeds its time budget.
var ErrInterrupted = errors.New("script interrupted")

// Plugin runs one configured script per instance.
type Plugin struct {
	plugin.Base

	instanceID string

	mu     sync.Mutex
	source string
}

// New is the factory registered with the plugin manager.
func New(_ context.Context, cfg plugin.Config) (plugin.Plugin, error) {
	source := cfg.Values["script"]
	if source == "" {
		source = defaultScript
	}

	// Fail construction on scripts that do not even parse; runtime errors
	// surface per-think.
	if _, err := goja.Compile("think.js", source, true); err != nil {
		return nil, fmt.Errorf("scriptmind: script does not compile: %w", err)
	}

	return &Plugin{instanceID: cfg.ID, source: source}, nil
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:                   ID,
		Name:                 "Script Mind",
		Description:          "JavaScript-scriptable reasoning engine.",
		Version:              "0.1.0",
		Category:             plugin.CategoryReasoning,
		ServiceType:          plugin.ServiceReasoning,
		Tags:                 []string{"#REASONING", "#SCRIPT"},
		IsActive:             true,
		IsConfigured:         true,
		MagicSeal:            plugin.MagicSeal,
		SDKVersion:           plugin.SDKVersion,
		RequiredConfigKeys:   []string{"script"},
		ProvidedCapabilities: []string{"Reasoning"},
	}
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
	return plugin.RoleSet{Reasoning: p}
}

// SetScript swaps the script source at runtime (config updates).
func (p *Plugin) SetScript(source string) error {
	if _, err := goja.Compile("think.js", source, true); err != nil {
		return err
	}
	p.mu.Lock()
	p.source = source
	p.mu.Unlock()
	return nil
}

// EngineName implements ReasoningEngine.
func (p *Plugin) EngineName() string { return "Script-Mind" }

// Think evaluates the configured script's think() with plain-object views
// of the agent, message and context. Each call gets a fresh VM; scripts
// cannot retain state across thoughts.
func (p *Plugin) Think(ctx context.Context, agent event.AgentRef, message event.Message, history []event.Message) (string, error) {
	p.mu.Lock()
	source := p.source
	p.mu.Unlock()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	// Interrupt on deadline or caller cancellation.
	timer := time.AfterFunc(thinkBudget, func() { vm.Interrupt(ErrInterrupted) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	if _, err := vm.RunScript("think.js", source); err != nil {
		return "", fmt.Errorf("scriptmind: script failed: %w", err)
	}

	thinkValue := vm.Get("think")
	if thinkValue == nil || goja.IsUndefined(thinkValue) || goja.IsNull(thinkValue) {
		return "", errors.New("scriptmind: script defines no think()")
	}
	var think func(agent, message, context goja.Value) (string, error)
	if err := vm.ExportTo(thinkValue, &think); err != nil {
		return "", fmt.Errorf("scriptmind: script defines no think(): %w", err)
	}

	result, err := think(
		vm.ToValue(jsAgent(agent)),
		vm.ToValue(jsMessage(message)),
		vm.ToValue(jsHistory(history)),
	)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return "", fmt.Errorf("scriptmind: %w", ErrInterrupted)
		}
		return "", fmt.Errorf("scriptmind: think() failed: %w", err)
	}
	return result, nil
}

func jsAgent(agent event.AgentRef) map[string]any {
	return map[string]any{
		"id":   agent.ID,
		"name": agent.Name,
	}
}

func jsMessage(msg event.Message) map[string]any {
	return map[string]any{
		"id":      msg.ID.String(),
		"content": msg.Content,
		"source":  string(msg.Source.Kind),
		"author":  msg.Source.Name,
	}
}

func jsHistory(history []event.Message) []map[string]any {
	out := make([]map[string]any, len(history))
	for i, msg := range history {
		out[i] = jsMessage(msg)
	}
	return out
}

// Package pybridge runs a Python (or other whitelisted interpreter)
// process as an out-of-process plugin and adapts it to the kernel's plugin
// contract over the stdio JSON-RPC bridge.
package pybridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/synapkit/synapd/internal/bridge"
	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
	"github.com/synapkit/synapd/pkg/plugin"
)

// ID is the plugin's stable identifier.
const ID = "bridge.python"

// restartCooldown is the minimum gap between child restarts so a
// crash-looping script cannot spin the kernel.
const restartCooldown = 30 * time.Second

// Plugin proxies events to the child process.
type Plugin struct {
	plugin.Base

	instanceID string
	command    string
	scriptPath string

	mu          sync.Mutex
	transport   *bridge.Transport
	lastRestart time.Time
	restarts    int
}

// New validates the command and script policy up front; a plugin whose
// script escapes the base directory never constructs.
func New(_ context.Context, cfg plugin.Config) (plugin.Plugin, error) {
	command := cfg.Values["command"]
	if command == "" {
		command = "python3"
	}
	if err := bridge.ValidateCommand(command); err != nil {
		return nil, err
	}

	scriptsDir := cfg.Values["scripts_dir"]
	if scriptsDir == "" {
		scriptsDir = "scripts"
	}
	scriptName := cfg.Values["script_path"]
	if scriptName == "" {
		scriptName = "bridge_main.py"
	}
	resolved, err := bridge.ResolveScriptPath(scriptsDir, scriptName)
	if err != nil {
		return nil, err
	}

	return &Plugin{
		instanceID: cfg.ID,
		command:    command,
		scriptPath: resolved,
	}, nil
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:                   ID,
		Name:                 "Python Bridge",
		Description:          "Runs a Python script as an out-of-process reasoning engine.",
		Version:              "0.1.0",
		Category:             plugin.CategoryBridge,
		ServiceType:          plugin.ServiceBridge,
		Tags:                 []string{"#BRIDGE"},
		IsActive:             true,
		IsConfigured:         true,
		MagicSeal:            plugin.MagicSeal,
		SDKVersion:           plugin.SDKVersion,
		RequiredConfigKeys:   []string{"script_path"},
		RequiredPermissions:  []permission.Permission{permission.ProcessExecution},
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

// EngineName implements ReasoningEngine.
func (p *Plugin) EngineName() string { return "Python-Bridge" }

// Think forwards the request to the child's "think" method.
func (p *Plugin) Think(ctx context.Context, agent event.AgentRef, message event.Message, history []event.Message) (string, error) {
	transport, err := p.ensureProcess(ctx)
	if err != nil {
		return "", err
	}

	result, err := transport.Call(ctx, "think", map[string]any{
		"agent":   agent,
		"message": message,
		"context": history,
	})
	if err != nil {
		return "", err
	}

	var reply struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(result, &reply); err != nil {
		return "", fmt.Errorf("pybridge: undecodable think result: %w", err)
	}
	return reply.Content, nil
}

// ensureProcess starts or restarts the child, respecting the cooldown.
func (p *Plugin) ensureProcess(ctx context.Context) (*bridge.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.transport != nil && !p.transport.Closed() {
		return p.transport, nil
	}
	p.transport = nil
	return p.spawnLocked(ctx)
}

func (p *Plugin) spawnLocked(ctx context.Context) (*bridge.Transport, error) {
	if !p.lastRestart.IsZero() && time.Since(p.lastRestart) < restartCooldown {
		return nil, fmt.Errorf("pybridge: child restarted %s ago, cooling down", time.Since(p.lastRestart).Round(time.Second))
	}

	transport, err := bridge.Spawn(ctx, p.command, p.scriptPath)
	if err != nil {
		return nil, err
	}
	p.transport = transport
	p.lastRestart = time.Now()
	p.restarts++
	log.Printf("pybridge: child started (restart %d)", p.restarts-1)
	return transport, nil
}

// Restart tears the child down; the next call respawns it after the
// cooldown.
func (p *Plugin) Restart() {
	p.mu.Lock()
	transport := p.transport
	p.transport = nil
	p.mu.Unlock()
	if transport != nil {
		_ = transport.Close()
	}
}

// Close terminates the child process. Called by the kernel at shutdown.
func (p *Plugin) Close() error {
	p.mu.Lock()
	transport := p.transport
	p.transport = nil
	p.mu.Unlock()
	if transport != nil {
		return transport.Close()
	}
	return nil
}

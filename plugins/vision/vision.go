// Package vision is the screen-capture producer. Capture is gated on the
// VisionRead permission: without it every capture request is refused, and
// a later grant unlocks the plugin through capability injection.
package vision

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
	"github.com/synapkit/synapd/pkg/plugin"
)

// ID is the plugin's stable identifier.
const ID = "vision.screen"

// CaptureAction is the HAL action name that triggers a capture.
const CaptureAction = "capture_screen"

// Plugin produces vision frames on request.
type Plugin struct {
	plugin.Base

	instanceID string

	mu      sync.RWMutex
	granted bool
}

// New is the factory registered with the plugin manager.
func New(_ context.Context, cfg plugin.Config) (plugin.Plugin, error) {
	return &Plugin{instanceID: cfg.ID}, nil
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:                   ID,
		Name:                 "Screen Vision",
		Description:          "Screen capture and analysis module.",
		Version:              "0.1.0",
		Category:             plugin.CategoryVision,
		ServiceType:          plugin.ServiceVision,
		Tags:                 []string{"#TOOL", "#VISION"},
		IsActive:             true,
		IsConfigured:         true,
		MagicSeal:            plugin.MagicSeal,
		SDKVersion:           plugin.SDKVersion,
		RequiredPermissions:  []permission.Permission{permission.VisionRead},
		ProvidedCapabilities: []string{"Vision"},
	}
}

func (p *Plugin) OnInit(_ context.Context, rt plugin.RuntimeContext, _ plugin.NetworkCapability) error {
	granted := rt.HasPermission(permission.VisionRead)
	p.mu.Lock()
	p.granted = granted
	p.mu.Unlock()
	if !granted {
		log.Printf("vision.screen: VisionRead not granted, captures will be refused")
	}
	return nil
}

// OnCapabilityInjected unlocks capture once VisionRead arrives. Repeat
// injections are no-ops.
func (p *Plugin) OnCapabilityInjected(_ context.Context, handle plugin.Capability) error {
	if handle.Permission() != permission.VisionRead {
		return nil
	}
	p.mu.Lock()
	p.granted = true
	p.mu.Unlock()
	return nil
}

func (p *Plugin) OnEvent(ctx context.Context, ev *event.Event) (event.Data, error) {
	action, ok := ev.Data.(event.ActionRequested)
	if !ok || action.Action.Name != CaptureAction {
		return nil, nil
	}

	frame, err := p.Capture(ctx)
	if err != nil {
		return nil, err
	}
	return event.VisionUpdated{Data: frame}, nil
}

func (p *Plugin) Roles() plugin.RoleSet {
	return plugin.RoleSet{Vision: p}
}

// Capture implements VisionProvider. Real platform capture lives behind
// this surface; the in-tree build produces a synthetic frame.
func (p *Plugin) Capture(context.Context) (event.VisionData, error) {
	p.mu.RLock()
	granted := p.granted
	p.mu.RUnlock()
	if !granted {
		return event.VisionData{}, fmt.Errorf("vision.screen: VisionRead permission required for screen capture")
	}

	return event.VisionData{
		CapturedAt: time.Now().UTC(),
		Elements: []event.DetectedElement{
			{
				Label:      "Submit Button",
				Bounds:     [4]int{100, 200, 50, 20},
				Confidence: 0.99,
			},
		},
		ImageRef: "memory://synthetic-frame",
	}, nil
}

// Package event defines the typed event model the kernel routes between
// plugins: the Event envelope, the closed set of Data variants, and the
// JSON encoding used on the wire (HTTP ingress, SSE/WebSocket streams).
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/synapkit/synapd/pkg/permission"
)

// Kind discriminates the Data variants.
type Kind string

const (
	KindMessageReceived    Kind = "MessageReceived"
	KindThoughtRequested   Kind = "ThoughtRequested"
	KindThoughtResponse    Kind = "ThoughtResponse"
	KindActionRequested    Kind = "ActionRequested"
	KindVisionUpdated      Kind = "VisionUpdated"
	KindGazeUpdated        Kind = "GazeUpdated"
	KindSystemNotification Kind = "SystemNotification"
	KindAgentPowerChanged  Kind = "AgentPowerChanged"
	KindConfigUpdated      Kind = "ConfigUpdated"
	KindPermissionGranted  Kind = "PermissionGranted"
	KindPermissionRevoked  Kind = "PermissionRevoked"
)

// Data is the closed sum of event payloads. Variants the processor does not
// specifically transform pass through as plain history items.
type Data interface {
	Kind() Kind
}

// Event is the unit routed through the kernel.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   uuid.UUID `json:"trace_id"`
	Data      Data      `json:"data"`
}

// New builds an event with a fresh id and trace id.
func New(data Data) *Event {
	return &Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		TraceID:   uuid.New(),
		Data:      data,
	}
}

// WithTrace builds an event that continues an existing trace.
func WithTrace(traceID uuid.UUID, data Data) *Event {
	ev := New(data)
	ev.TraceID = traceID
	return ev
}

// Envelope wraps an event with routing metadata. Depth counts derived-event
// hops from the original ingress; the dispatcher compares it strictly
// against the configured maximum before any fan-out.
type Envelope struct {
	Event         *Event     `json:"event"`
	Issuer        string     `json:"issuer,omitempty"`
	CorrelationID *uuid.UUID `json:"correlation_id,omitempty"`
	Depth         uint32     `json:"depth"`
}

// System wraps data as a depth-zero envelope with no issuer.
func System(data Data) Envelope {
	return Envelope{Event: New(data)}
}

// Derived builds the envelope for a derived event: depth advances by one,
// the trace id is preserved and the emitting plugin becomes the issuer.
func (e Envelope) Derived(issuer string, data Data) Envelope {
	return Envelope{
		Event:         WithTrace(e.Event.TraceID, data),
		Issuer:        issuer,
		CorrelationID: e.CorrelationID,
		Depth:         e.Depth + 1,
	}
}

// SourceKind identifies who authored a message.
type SourceKind string

const (
	SourceUser   SourceKind = "user"
	SourceAgent  SourceKind = "agent"
	SourceSystem SourceKind = "system"
)

// Source identifies the author of a Message.
type Source struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id"`
	Name string     `json:"name,omitempty"`
}

// Message is a chat message moving through the system.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Source    Source    `json:"source"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(source Source, content string) Message {
	return Message{
		ID:        uuid.New(),
		Source:    source,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// AgentRef carries the agent fields reasoning engines need.
type AgentRef struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DefaultEngineID string `json:"default_engine_id,omitempty"`
}

// DetectedElement is one recognized item in a vision frame.
type DetectedElement struct {
	Label      string            `json:"label"`
	Bounds     [4]int            `json:"bounds"` // x, y, w, h
	Confidence float64           `json:"confidence"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// VisionData is a captured and analyzed frame.
type VisionData struct {
	CapturedAt time.Time         `json:"captured_at"`
	Elements   []DetectedElement `json:"elements"`
	ImageRef   string            `json:"image_ref,omitempty"`
}

// Action names a requested hardware or UI operation.
type Action struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// MessageReceived carries an inbound chat message.
type MessageReceived struct {
	Message Message `json:"message"`
}

func (MessageReceived) Kind() Kind { return KindMessageReceived }

// ThoughtRequested asks a reasoning engine to produce a reply.
type ThoughtRequested struct {
	Agent    AgentRef  `json:"agent"`
	EngineID string    `json:"engine_id"`
	Message  Message   `json:"message"`
	Context  []Message `json:"context,omitempty"`
}

func (ThoughtRequested) Kind() Kind { return KindThoughtRequested }

// ThoughtResponse is a reasoning engine's reply.
type ThoughtResponse struct {
	AgentID         string    `json:"agent_id"`
	EngineID        string    `json:"engine_id"`
	Content         string    `json:"content"`
	SourceMessageID uuid.UUID `json:"source_message_id"`
}

func (ThoughtResponse) Kind() Kind { return KindThoughtResponse }

// ActionRequested asks a HAL-capable plugin to perform an action.
type ActionRequested struct {
	Requester string `json:"requester"`
	Action    Action `json:"action"`
}

func (ActionRequested) Kind() Kind { return KindActionRequested }

// VisionUpdated publishes a fresh vision frame.
type VisionUpdated struct {
	Data VisionData `json:"data"`
}

func (VisionUpdated) Kind() Kind { return KindVisionUpdated }

// GazeUpdated publishes a gaze-tracking sample.
type GazeUpdated struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Target string  `json:"target,omitempty"`
}

func (GazeUpdated) Kind() Kind { return KindGazeUpdated }

// SystemNotification is a free-form kernel announcement.
type SystemNotification struct {
	Text string `json:"text"`
}

func (SystemNotification) Kind() Kind { return KindSystemNotification }

// AgentPowerChanged reports an agent going online or offline.
type AgentPowerChanged struct {
	AgentID string `json:"agent_id"`
	Online  bool   `json:"online"`
}

func (AgentPowerChanged) Kind() Kind { return KindAgentPowerChanged }

// ConfigUpdated reports a plugin configuration change.
type ConfigUpdated struct {
	PluginID string `json:"plugin_id"`
	Key      string `json:"key,omitempty"`
}

func (ConfigUpdated) Kind() Kind { return KindConfigUpdated }

// PermissionGranted reports an administrative grant. The processor reacts
// by wiring the matching capability into the plugin.
type PermissionGranted struct {
	PluginID   string                `json:"plugin_id"`
	Permission permission.Permission `json:"permission"`
}

func (PermissionGranted) Kind() Kind { return KindPermissionGranted }

// PermissionRevoked reports an administrative revocation.
type PermissionRevoked struct {
	PluginID   string                `json:"plugin_id"`
	Permission permission.Permission `json:"permission"`
}

func (PermissionRevoked) Kind() Kind { return KindPermissionRevoked }

package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The wire form tags each Data variant with its kind so external callers
// and stream subscribers can decode without knowing Go types:
//
//	{"id":"…","timestamp":"…","trace_id":"…","data":{"type":"SystemNotification","payload":{…}}}

type wireEvent struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   uuid.UUID `json:"trace_id"`
	Data      wireData  `json:"data"`
}

type wireData struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (e *Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		TraceID:   e.TraceID,
		Data:      wireData{Type: e.Data.Kind(), Payload: payload},
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(raw []byte) error {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	data, err := DecodeData(w.Data.Type, w.Data.Payload)
	if err != nil {
		return err
	}
	e.ID = w.ID
	e.Timestamp = w.Timestamp
	e.TraceID = w.TraceID
	e.Data = data
	return nil
}

// DecodeData decodes a tagged payload into its concrete variant. Unknown
// kinds are rejected; the sum type is closed.
func DecodeData(kind Kind, payload json.RawMessage) (Data, error) {
	var data Data
	switch kind {
	case KindMessageReceived:
		data = &MessageReceived{}
	case KindThoughtRequested:
		data = &ThoughtRequested{}
	case KindThoughtResponse:
		data = &ThoughtResponse{}
	case KindActionRequested:
		data = &ActionRequested{}
	case KindVisionUpdated:
		data = &VisionUpdated{}
	case KindGazeUpdated:
		data = &GazeUpdated{}
	case KindSystemNotification:
		data = &SystemNotification{}
	case KindAgentPowerChanged:
		data = &AgentPowerChanged{}
	case KindConfigUpdated:
		data = &ConfigUpdated{}
	case KindPermissionGranted:
		data = &PermissionGranted{}
	case KindPermissionRevoked:
		data = &PermissionRevoked{}
	default:
		return nil, fmt.Errorf("unknown event type %q", kind)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, data); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
	}
	return deref(data), nil
}

// deref returns the value form so variants compare and switch cleanly.
func deref(d Data) Data {
	switch v := d.(type) {
	case *MessageReceived:
		return *v
	case *ThoughtRequested:
		return *v
	case *ThoughtResponse:
		return *v
	case *ActionRequested:
		return *v
	case *VisionUpdated:
		return *v
	case *GazeUpdated:
		return *v
	case *SystemNotification:
		return *v
	case *AgentPowerChanged:
		return *v
	case *ConfigUpdated:
		return *v
	case *PermissionGranted:
		return *v
	case *PermissionRevoked:
		return *v
	}
	return d
}

package main

import (
	"encoding/json"
	"fmt"
)

// Event is anything the daemon loop consumes from IPC or from main.
type Event interface {
	eventMarker()
}

// ContentChange is one edit within a text document change.
type ContentChange struct {
	RangeLength int `json:"range_length"`
}

// TextChanged mirrors an editor document-change notification.
type TextChanged struct {
	Changes []ContentChange `json:"changes"`
}

// Magnitude sums the edits: a pure insertion counts as one, a replacement
// or deletion counts as the length of the replaced range.
func (t TextChanged) Magnitude() float64 {
	var total float64
	for _, c := range t.Changes {
		if c.RangeLength <= 0 {
			total++
			continue
		}
		total += float64(c.RangeLength)
	}
	return total
}

// EditActivity carries a pre-computed magnitude.
type EditActivity struct {
	Magnitude float64 `json:"magnitude"`
}

// FocusChanged reports the editor window gaining or losing focus.
type FocusChanged struct {
	Focused bool `json:"focused"`
}

// User intents. RequestStart with autostart set comes from the daemon
// itself, never from IPC.
type (
	RequestStart struct {
		autostart bool
	}
	RequestStop   struct{}
	RequestToggle struct{}
)

// RequestStatus asks the loop for a snapshot. Reply must be buffered.
type RequestStatus struct {
	Reply chan StateSnapshot `json:"-"`
}

func (TextChanged) eventMarker()   {}
func (EditActivity) eventMarker()  {}
func (FocusChanged) eventMarker()  {}
func (RequestStart) eventMarker()  {}
func (RequestStop) eventMarker()   {}
func (RequestToggle) eventMarker() {}
func (RequestStatus) eventMarker() {}

// StateSnapshot is the daemon state reported to status requests and to
// websocket clients on connect.
type StateSnapshot struct {
	State        string         `json:"state"`
	Speed        float64        `json:"speed"`
	Volume       int            `json:"volume"`
	Focused      bool           `json:"focused"`
	AutoPaused   bool           `json:"auto_paused"`
	GracePending bool           `json:"grace_pending"`
	Status       statusItem     `json:"status"`
	Config       SamplingConfig `json:"config"`
}

// EventEnvelope wraps an event with a type discriminator.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	eventTextChanged  = "text_changed"
	eventEdit         = "edit"
	eventFocusChanged = "focus_changed"
	eventStart        = "start"
	eventStop         = "stop"
	eventToggle       = "toggle"
	eventStatus       = "status"
)

// UnmarshalEvent decodes a JSON envelope into a concrete Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case eventTextChanged:
		return decodeData[TextChanged](env)
	case eventEdit:
		ev, err := decodeData[EditActivity](env)
		if err != nil {
			return nil, err
		}
		if ev.Magnitude < 0 {
			return nil, fmt.Errorf("edit: magnitude must be >= 0, got %v", ev.Magnitude)
		}
		return ev, nil
	case eventFocusChanged:
		return decodeData[FocusChanged](env)
	case eventStart:
		return RequestStart{}, nil
	case eventStop:
		return RequestStop{}, nil
	case eventToggle:
		return RequestToggle{}, nil
	case eventStatus:
		return RequestStatus{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

func decodeData[T Event](env EventEnvelope) (T, error) {
	var ev T
	if len(env.Data) == 0 {
		return ev, fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return ev, nil
}

// MarshalEvent encodes an Event into its JSON envelope.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope
	var payload any

	switch e := e.(type) {
	case TextChanged:
		env.Type, payload = eventTextChanged, e
	case EditActivity:
		env.Type, payload = eventEdit, e
	case FocusChanged:
		env.Type, payload = eventFocusChanged, e
	case RequestStart:
		env.Type = eventStart
	case RequestStop:
		env.Type = eventStop
	case RequestToggle:
		env.Type = eventToggle
	case RequestStatus:
		env.Type = eventStatus
	default:
		return nil, fmt.Errorf("unknown event type: %T", e)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

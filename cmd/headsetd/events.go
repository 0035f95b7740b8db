package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events - inputs to the reducer
// ============================================================================
// Adapters (evdev, MPRIS, manual trigger, IPC, HTTP) never touch DaemonState.
// They describe what they saw as an Event and hand it to the daemon loop, which
// stamps it (TimedEvent) and reduces it. Delivery order is processing order.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// TimedEvent wraps a payload event with the time the daemon loop received it.
// Payload types stay free of timestamps so they can be decoded from IPC as-is.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// CandidatePressed is a "possible button press" observed by one adapter,
// before debouncing.
type CandidatePressed struct {
	Source string `json:"source"`
}

func (CandidatePressed) eventMarker() {}

// ClearDebugLog empties the debug log (leaving the clearance marker).
type ClearDebugLog struct{}

func (ClearDebugLog) eventMarker() {}

// DebugNote appends a free-form diagnostic line to the debug log.
type DebugNote struct {
	Message string `json:"message"`
}

func (DebugNote) eventMarker() {}

// SupportProbed reports the result of the one-shot transport capability probe.
type SupportProbed struct {
	Supported bool `json:"supported"`
}

func (SupportProbed) eventMarker() {}

// ToneFailed is emitted by the effects layer when the beep could not be played.
type ToneFailed struct {
	Err error
}

func (ToneFailed) eventMarker() {}

// RequestStateSnapshot asks the daemon loop for a StateSnapshot.
// The reply is delivered by the effects layer (non-blocking send), so Reply should
// be buffered.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support (IPC wire format)
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event.
// Only payload events that external clients may send are accepted.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "simulate":
		return CandidatePressed{Source: manualTriggerSource}, nil

	case "candidate":
		var ev CandidatePressed
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal CandidatePressed: %w", err)
		}
		if ev.Source == "" {
			return nil, fmt.Errorf("candidate: source must not be empty")
		}
		return ev, nil

	case "clear_debug":
		return ClearDebugLog{}, nil

	case "note":
		var ev DebugNote
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal DebugNote: %w", err)
		}
		return ev, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case CandidatePressed:
		if e.Source == manualTriggerSource {
			env.Type = "simulate"
			break
		}
		env.Type = "candidate"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal CandidatePressed: %w", err)
		}
		env.Data = data

	case ClearDebugLog:
		env.Type = "clear_debug"

	case DebugNote:
		env.Type = "note"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal DebugNote: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}

package callkit

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

// StatusEventType identifies an out-of-band call status event delivered on
// the push channel or synthesized from a status poll.
type StatusEventType string

const (
	StatusEventRinging  StatusEventType = "call.ringing"
	StatusEventActive   StatusEventType = "call.active"
	StatusEventEnded    StatusEventType = "call.ended"
	StatusEventDeclined StatusEventType = "call.declined"
	StatusEventMissed   StatusEventType = "call.missed"
)

// SessionStatus is the authoritative state reported by the signaling
// service's status query.
type SessionStatus string

const (
	SessionStatusRinging  SessionStatus = "RINGING"
	SessionStatusActive   SessionStatus = "ACTIVE"
	SessionStatusEnded    SessionStatus = "ENDED"
	SessionStatusDeclined SessionStatus = "DECLINED"
	SessionStatusMissed   SessionStatus = "MISSED"
)

// Event converts a polled status into the equivalent push event so both
// producers feed the controller's one terminal-transition handler.
func (s SessionStatus) Event(room string) (StatusEvent, bool) {
	switch s {
	case SessionStatusEnded:
		return StatusEvent{Type: StatusEventEnded, Room: room}, true
	case SessionStatusDeclined:
		return StatusEvent{Type: StatusEventDeclined, Room: room}, true
	case SessionStatusMissed:
		return StatusEvent{Type: StatusEventMissed, Room: room}, true
	}
	return StatusEvent{}, false
}

// StatusEvent is one asynchronous call status observation. Room may be empty,
// which means the event applies to whatever session the receiver currently
// holds. No ordering or delivery guarantee is assumed.
type StatusEvent struct {
	EventID string
	Type    StatusEventType
	Room    string
}

// Terminal reports whether the event forces the session into Terminated.
func (e StatusEvent) Terminal() bool {
	switch e.Type {
	case StatusEventEnded, StatusEventDeclined, StatusEventMissed:
		return true
	}
	return false
}

// AppliesTo reports whether the event targets the session identified by room.
func (e StatusEvent) AppliesTo(room string) bool {
	return e.Room == "" || e.Room == room
}

func validStatusEventType(t StatusEventType) bool {
	switch t {
	case StatusEventRinging, StatusEventActive, StatusEventEnded, StatusEventDeclined, StatusEventMissed:
		return true
	}
	return false
}

func (e StatusEvent) toMap() map[string]any {
	m := map[string]any{
		"type": string(e.Type),
	}
	if e.EventID != "" {
		m["event_id"] = e.EventID
	}
	if e.Room != "" {
		m["room"] = e.Room
	}
	return m
}

func (e *StatusEvent) fromMap(raw map[string]any) error {
	v, ok := raw["type"].(string)
	if !ok {
		return errors.New("missing type")
	}
	if !validStatusEventType(StatusEventType(v)) {
		return fmt.Errorf("unknown event type: %s", v)
	}
	e.Type = StatusEventType(v)
	if v, ok := raw["event_id"].(string); ok {
		e.EventID = v
	} else {
		e.EventID = ""
	}
	if v, ok := raw["room"].(string); ok {
		e.Room = v
	} else {
		e.Room = ""
	}
	return nil
}

func (e StatusEvent) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	return sonic.Marshal(e.toMap())
}

func (e *StatusEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	return e.fromMap(raw)
}

func (e StatusEvent) MarshalYAML() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	return yaml.MarshalWithOptions(e.toMap(), yaml.UseJSONMarshaler())
}

func (e *StatusEvent) UnmarshalYAML(data []byte) error {
	var raw map[string]any
	if err := yaml.UnmarshalWithOptions(data, &raw, yaml.UseJSONUnmarshaler()); err != nil {
		return err
	}
	return e.fromMap(raw)
}

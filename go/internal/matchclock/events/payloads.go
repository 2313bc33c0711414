package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/touchline/go/internal/models"
)

// Message payloads shared by the clock engine and the coordinator. Commands flow
// coordinator -> engine, events flow engine -> coordinator. Payloads are JSON so that
// nothing mutable is shared between the two sides.

// CommandType identifies a command sent to the clock engine
type CommandType string

const (
	CommandStart     CommandType = "START"
	CommandPause     CommandType = "PAUSE"
	CommandResume    CommandType = "RESUME"
	CommandSetMinute CommandType = "SET_MINUTE"
	CommandStop      CommandType = "STOP"
)

// Command is the envelope for every message sent to the engine
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartPayload is the payload for a START command
type StartPayload struct {
	MatchID               string `json:"match_id"`
	RunID                 string `json:"run_id"`
	InitialMinute         int    `json:"initial_minute"`
	InitialElapsedSeconds int    `json:"initial_elapsed_seconds"`
}

// SetMinutePayload is the payload for a SET_MINUTE command. Minute is a pointer so a
// missing field can be told apart from minute zero.
type SetMinutePayload struct {
	Minute *int `json:"minute"`
}

// NewStartCommand builds a START command
func NewStartCommand(p StartPayload) Command {
	return newCommand(CommandStart, p)
}

// NewPauseCommand builds a PAUSE command
func NewPauseCommand() Command {
	return newCommand(CommandPause, nil)
}

// NewResumeCommand builds a RESUME command
func NewResumeCommand() Command {
	return newCommand(CommandResume, nil)
}

// NewSetMinuteCommand builds a SET_MINUTE command
func NewSetMinuteCommand(minute int) Command {
	return newCommand(CommandSetMinute, SetMinutePayload{Minute: &minute})
}

// NewStopCommand builds a STOP command
func NewStopCommand() Command {
	return newCommand(CommandStop, nil)
}

func newCommand(t CommandType, payload any) Command {
	cmd := Command{Type: t}
	if payload != nil {
		// payload structs only hold strings and ints
		cmd.Payload, _ = json.Marshal(payload)
	}
	return cmd
}

// ParseStartPayload decodes and validates a START payload
func ParseStartPayload(cmd Command) (StartPayload, error) {
	var p StartPayload
	if len(cmd.Payload) == 0 {
		return p, fmt.Errorf("START payload is required")
	}
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal START payload: %w", err)
	}
	if p.MatchID == "" {
		return p, fmt.Errorf("START payload missing match_id")
	}
	if p.InitialMinute < 0 || p.InitialElapsedSeconds < 0 {
		return p, fmt.Errorf("START payload has negative initial clock (minute=%d, elapsed=%d)",
			p.InitialMinute, p.InitialElapsedSeconds)
	}
	return p, nil
}

// ParseSetMinutePayload decodes and validates a SET_MINUTE payload
func ParseSetMinutePayload(cmd Command) (int, error) {
	var p SetMinutePayload
	if len(cmd.Payload) == 0 {
		return 0, fmt.Errorf("SET_MINUTE payload is required")
	}
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return 0, fmt.Errorf("failed to unmarshal SET_MINUTE payload: %w", err)
	}
	if p.Minute == nil {
		return 0, fmt.Errorf("SET_MINUTE payload missing minute")
	}
	if *p.Minute < 0 {
		return 0, fmt.Errorf("SET_MINUTE minute must be >= 0, got %d", *p.Minute)
	}
	return *p.Minute, nil
}

// EventType identifies an event emitted by the clock engine
type EventType string

const (
	EventTypeTick     EventType = "TICK"
	EventTypePersist  EventType = "PERSIST"
	EventTypeHalfTime EventType = "HALF_TIME"
	EventTypeError    EventType = "ERROR"
)

// Event is the envelope for every message emitted by the engine
type Event struct {
	Type      EventType       `json:"type"`
	MatchID   string          `json:"match_id,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// TickPayload carries the fields that changed this tick. Absent fields mean no update.
type TickPayload struct {
	CurrentMinute  *int  `json:"current_minute,omitempty"`
	ElapsedSeconds *int  `json:"elapsed_seconds,omitempty"`
	IsHalfTime     *bool `json:"is_half_time,omitempty"`
}

// PersistPayload asks the coordinator to write a full snapshot. Final marks the last
// snapshot of a run, emitted by STOP.
type PersistPayload struct {
	State models.TimerState `json:"state"`
	Final bool              `json:"final,omitempty"`
}

// HalfTimePayload is emitted once per upward crossing of minute 45
type HalfTimePayload struct {
	CurrentMinute int `json:"current_minute"`
}

// ErrorPayload reports a rejected command
type ErrorPayload struct {
	Error   string      `json:"error"`
	Command CommandType `json:"command,omitempty"`
}

// NewEvent marshals payload into an event envelope
func NewEvent(t EventType, matchID, runID string, ts time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{
		Type:      t,
		MatchID:   matchID,
		RunID:     runID,
		Timestamp: ts,
		Data:      data,
	}, nil
}

// UnknownEventError is returned by ParseEventPayload for an event type it has no
// payload for.
type UnknownEventError struct {
	Type EventType
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event type: %s", e.Type)
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event Event) (interface{}, error) {
	switch event.Type {
	case EventTypeTick:
		var payload TickPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePersist:
		var payload PersistPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeHalfTime:
		var payload HalfTimePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, &UnknownEventError{Type: event.Type}
	}
}

// IntPtr and BoolPtr build optional tick fields
func IntPtr(v int) *int { return &v }

func BoolPtr(v bool) *bool { return &v }

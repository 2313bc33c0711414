package gateway

import (
	"encoding/json"
	"time"
)

// MessageType identifies a message pushed to websocket clients
type MessageType string

const (
	MessageTypeState    MessageType = "state"
	MessageTypeHalfTime MessageType = "half_time"
)

// ClientMessageType identifies a message sent by websocket clients
type ClientMessageType string

const (
	// ClientMessageForeground is sent by a display surface when it comes back to the
	// foreground, so the clock can be checked for drift.
	ClientMessageForeground ClientMessageType = "foreground"
	ClientMessagePing       ClientMessageType = "ping"
)

// TimerMessage is the envelope for every message pushed to websocket clients
type TimerMessage struct {
	Type      MessageType     `json:"type"`
	MatchID   string          `json:"match_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// HalfTimeData is the payload of a half_time message
type HalfTimeData struct {
	CurrentMinute int `json:"current_minute"`
}

// ClientMessage is a message received from a websocket client
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
}

func newTimerMessage(t MessageType, matchID string, ts time.Time, data any) (*TimerMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &TimerMessage{Type: t, MatchID: matchID, Timestamp: ts, Data: raw}, nil
}

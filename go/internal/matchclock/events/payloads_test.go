package events

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseStartPayload(t *testing.T) {
	cmd := NewStartCommand(StartPayload{MatchID: "g1", RunID: "r1", InitialMinute: 3, InitialElapsedSeconds: 200})
	p, err := ParseStartPayload(cmd)
	if err != nil {
		t.Fatalf("ParseStartPayload: %v", err)
	}
	if p.MatchID != "g1" || p.InitialElapsedSeconds != 200 || p.InitialMinute != 3 {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestParseStartPayloadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"missing payload", Command{Type: CommandStart}, "required"},
		{"missing match id", NewStartCommand(StartPayload{}), "match_id"},
		{"negative elapsed", NewStartCommand(StartPayload{MatchID: "g1", InitialElapsedSeconds: -1}), "negative"},
		{"garbage", Command{Type: CommandStart, Payload: json.RawMessage(`{"match_id":5}`)}, "unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStartPayload(tt.cmd)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("got err %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseSetMinutePayload(t *testing.T) {
	m, err := ParseSetMinutePayload(NewSetMinuteCommand(0))
	if err != nil || m != 0 {
		t.Fatalf("SET_MINUTE 0: got (%d, %v)", m, err)
	}
	if _, err := ParseSetMinutePayload(Command{Type: CommandSetMinute, Payload: json.RawMessage(`{}`)}); err == nil {
		t.Fatal("expected missing minute to be rejected")
	}
	if _, err := ParseSetMinutePayload(NewSetMinuteCommand(-4)); err == nil {
		t.Fatal("expected negative minute to be rejected")
	}
}

func TestTickPayloadOmitsAbsentFields(t *testing.T) {
	ev, err := NewEvent(EventTypeTick, "g1", "r1", time.Now(), TickPayload{ElapsedSeconds: IntPtr(61)})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if strings.Contains(string(ev.Data), "current_minute") || strings.Contains(string(ev.Data), "is_half_time") {
		t.Fatalf("absent fields leaked into payload: %s", ev.Data)
	}

	parsed, err := ParseEventPayload(ev)
	if err != nil {
		t.Fatalf("ParseEventPayload: %v", err)
	}
	tick := parsed.(TickPayload)
	if tick.CurrentMinute != nil || tick.IsHalfTime != nil || tick.ElapsedSeconds == nil || *tick.ElapsedSeconds != 61 {
		t.Fatalf("unexpected tick payload: %+v", tick)
	}
}

func TestParseEventPayloadUnknownType(t *testing.T) {
	_, err := ParseEventPayload(Event{Type: "BOGUS", Data: json.RawMessage(`{}`)})
	var unknown *UnknownEventError
	if !errors.As(err, &unknown) || unknown.Type != "BOGUS" {
		t.Fatalf("got %v, want UnknownEventError", err)
	}
}

func TestParseEventPayloadPersistFinal(t *testing.T) {
	ev, err := NewEvent(EventTypePersist, "g1", "r1", time.Now(), PersistPayload{Final: true})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	parsed, err := ParseEventPayload(ev)
	if err != nil {
		t.Fatalf("ParseEventPayload: %v", err)
	}
	if p, ok := parsed.(PersistPayload); !ok || !p.Final {
		t.Fatalf("parsed = %#v, want final PersistPayload", parsed)
	}

	ev, _ = NewEvent(EventTypePersist, "g1", "r1", time.Now(), PersistPayload{})
	if strings.Contains(string(ev.Data), "final") {
		t.Fatalf("periodic snapshot carries final flag: %s", ev.Data)
	}
}

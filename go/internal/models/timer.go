package models

import (
	"time"
)

const (
	// HalfTimeStartMinute is the first minute of the half-time window.
	HalfTimeStartMinute = 45
	// HalfTimeEndMinute is the first minute past the half-time window.
	HalfTimeEndMinute = 90
)

// TimerState is the persisted clock record for a single match.
type TimerState struct {
	MatchID        string     `json:"match_id"`
	CurrentMinute  int        `json:"current_minute"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	IsRunning      bool       `json:"is_running"`
	IsHalfTime     bool       `json:"is_half_time"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// MinuteFor returns the match minute for an elapsed second count.
func MinuteFor(elapsedSeconds int) int {
	return elapsedSeconds / 60
}

// IsHalfTimeMinute reports whether minute falls inside [45, 90).
func IsHalfTimeMinute(minute int) bool {
	return minute >= HalfTimeStartMinute && minute < HalfTimeEndMinute
}

// SetElapsed sets ElapsedSeconds and re-derives CurrentMinute and IsHalfTime from it.
func (s *TimerState) SetElapsed(elapsedSeconds int) {
	s.ElapsedSeconds = elapsedSeconds
	s.CurrentMinute = MinuteFor(elapsedSeconds)
	s.IsHalfTime = IsHalfTimeMinute(s.CurrentMinute)
}

// Valid reports whether the derived fields agree with ElapsedSeconds.
func (s *TimerState) Valid() bool {
	if s.MatchID == "" || s.ElapsedSeconds < 0 {
		return false
	}
	return s.CurrentMinute == MinuteFor(s.ElapsedSeconds) &&
		s.IsHalfTime == IsHalfTimeMinute(s.CurrentMinute)
}

// Clone returns a deep copy so the record can cross goroutines without sharing pointers.
func (s TimerState) Clone() TimerState {
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.PausedAt != nil {
		t := *s.PausedAt
		s.PausedAt = &t
	}
	return s
}

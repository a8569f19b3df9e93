// Package events publishes the tracker's outbound event stream: session
// lifecycle, day rollovers, sync outcomes and user-visible notices. UI
// consumers (status indicators, settings front ends) subscribe to the
// AMQP queue instead of polling the HTTP API.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event types carried on the stream.
const (
	TypeWorkStarted   = "work_started"
	TypeWorkEnded     = "work_ended"
	TypeDayRollover   = "day_rollover"
	TypeSyncCompleted = "sync_completed"
	TypeNotice        = "notice"
)

// Notice levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event is one message on the stream. Data carries the type-specific
// payload; Message is set for notices only.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func FromJSON(raw []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(raw, &e)
	return e, err
}

// Publisher is the outbound side of the stream. Publishing is best
// effort; failures are logged by implementations, never surfaced to the
// engine or the coordinator.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Notify(ctx context.Context, level, message string)
}

// Nop is the publisher used when AMQP is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event)         {}
func (Nop) Notify(context.Context, string, string) {}

// WorkStarted builds the event for a newly opened session.
func WorkStarted(sessionID, date string, startedAt time.Time) Event {
	return Event{
		Type:      TypeWorkStarted,
		Timestamp: time.Now(),
		Data:      map[string]any{"session_id": sessionID, "date": date, "started_at": startedAt},
	}
}

// WorkEnded builds the event for a closed session with its frozen figures.
func WorkEnded(sessionID, date string, incomeCents int64, workedMinutes int) Event {
	return Event{
		Type:      TypeWorkEnded,
		Timestamp: time.Now(),
		Data: map[string]any{
			"session_id":     sessionID,
			"date":           date,
			"income_cents":   incomeCents,
			"worked_minutes": workedMinutes,
		},
	}
}

// DayRollover builds the event emitted when the live day is archived.
func DayRollover(oldDate, newDate string) Event {
	return Event{
		Type:      TypeDayRollover,
		Timestamp: time.Now(),
		Data:      map[string]any{"archived_date": oldDate, "new_date": newDate},
	}
}

// SyncCompleted builds the event for one finished sync attempt.
func SyncCompleted(provider string, success bool) Event {
	return Event{
		Type:      TypeSyncCompleted,
		Timestamp: time.Now(),
		Data:      map[string]any{"provider": provider, "success": success},
	}
}

// Notice builds a user-visible notification.
func Notice(level, message string) Event {
	return Event{
		Type:      TypeNotice,
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}
}

// Package events publishes series lifecycle notifications.
//
// Events are emitted after an operation has been persisted. Delivery is
// at-most-once: a failed publish is reported to the caller, which logs it;
// the operation itself is never rolled back.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type Type string

const (
	SeriesCreated     Type = "series.created"
	SeriesUpdated     Type = "series.updated"
	SeriesRegenerated Type = "series.regenerated"
	SeriesDeleted     Type = "series.deleted"
	YearExtended      Type = "year.extended"
	YearDeleted       Type = "year.deleted"
)

// Event is the message body. Count is the number of records the operation
// created, deleted or detached.
type Event struct {
	Type      Type      `json:"type"`
	SeriesID  string    `json:"series_id,omitempty"`
	Year      int       `json:"year,omitempty"`
	Count     int       `json:"count"`
	Warning   string    `json:"warning,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New stamps the event with the current time.
func New(t Type, seriesID string, year, count int) Event {
	return Event{Type: t, SeriesID: seriesID, Year: year, Count: count, Timestamp: time.Now().UTC()}
}

// RoutingKey is the topic routing key, e.g. "series.created".
func (e Event) RoutingKey() string { return string(e.Type) }

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func FromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// =============================================================================
// IN-PROCESS PUBLISHERS
// =============================================================================

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Memory keeps published events in order; handy for tests and dev mode.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the published event types in order.
func (m *Memory) Types() []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Type, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

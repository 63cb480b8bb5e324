// Package events fans heartbeat, supervisor and maintenance job
// notifications out to in-process subscribers such as the SSE stream.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies what happened.
type EventType string

const (
	HeartbeatSucceeded EventType = "HEARTBEAT_SUCCEEDED"
	HeartbeatFailed    EventType = "HEARTBEAT_FAILED"
	SupervisorChanged  EventType = "SUPERVISOR_CHANGED"
	JobStarted         EventType = "JOB_STARTED"
	JobCompleted       EventType = "JOB_COMPLETED"
	JobFailed          EventType = "JOB_FAILED"
)

// AllTypes lists every event type the bus carries.
func AllTypes() []EventType {
	return []EventType{
		HeartbeatSucceeded,
		HeartbeatFailed,
		SupervisorChanged,
		JobStarted,
		JobCompleted,
		JobFailed,
	}
}

// Event is one notification delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data,omitempty"`
}

// UnmarshalJSON decodes Data into the concrete type matching Type.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*alias
	}{
		alias: (*alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if len(aux.Data) == 0 || string(aux.Data) == "null" {
		e.Data = nil
		return nil
	}

	var payload EventData
	switch e.Type {
	case HeartbeatSucceeded, HeartbeatFailed:
		payload = &HeartbeatData{}
	case SupervisorChanged:
		payload = &SupervisorData{}
	case JobStarted, JobCompleted, JobFailed:
		payload = &JobStatusData{}
	default:
		payload = &GenericEventData{Type: e.Type}
	}
	if err := json.Unmarshal(aux.Data, payload); err != nil {
		return err
	}
	e.Data = payload
	return nil
}

// Handler receives events. It runs on the emitter's goroutine and must not block.
type Handler func(*Event)

// Bus is a synchronous publish/subscribe hub keyed by event type.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType]map[uint64]Handler
	next uint64

	now func() time.Time
	log zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType]map[uint64]Handler),
		now:  time.Now,
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers h for t and returns a function that removes it.
func (b *Bus) Subscribe(t EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	if b.subs[t] == nil {
		b.subs[t] = make(map[uint64]Handler)
	}
	b.subs[t][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[t], id)
		})
	}
}

// Subscribers returns the number of handlers registered for t.
func (b *Bus) Subscribers(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

// Emit stamps data and delivers it to every subscriber of its type.
// A panicking handler is logged and does not affect the others.
func (b *Bus) Emit(module string, data EventData) {
	if data == nil {
		return
	}
	ev := &Event{
		Type:      data.EventType(),
		Module:    module,
		Timestamp: b.now(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Type]))
	for _, h := range b.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(ev.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(ev)
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ideastake/ledgerbeat/internal/events"
)

const (
	streamBuffer    = 100
	streamKeepAlive = 30 * time.Second
)

// EventsStreamHandler streams bus events to clients as Server-Sent Events.
type EventsStreamHandler struct {
	bus       *events.Bus
	keepAlive time.Duration
	log       zerolog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// NewEventsStreamHandler creates the handler for GET /api/events/stream.
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus:       bus,
		keepAlive: streamKeepAlive,
		log:       log.With().Str("component", "events_stream").Logger(),
		closing:   make(chan struct{}),
	}
}

// Close ends every open stream. Streams opened afterwards return at once.
func (h *EventsStreamHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// ServeHTTP streams until the client disconnects. The optional types query
// parameter is a comma separated list of event types to receive.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	types, err := parseEventTypes(r.URL.Query().Get("types"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Handlers run on the emitter's goroutine, so a slow client drops events
	// instead of stalling the heartbeat.
	ch := make(chan *events.Event, streamBuffer)
	forward := func(ev *events.Event) {
		select {
		case ch <- ev:
		default:
			h.log.Warn().Str("event_type", string(ev.Type)).Msg("Event channel full, dropping event")
		}
	}
	for _, t := range types {
		unsubscribe := h.bus.Subscribe(t, forward)
		defer unsubscribe()
	}

	h.log.Info().Int("types", len(types)).Msg("Client connected to event stream")

	h.send(w, "connected", map[string]interface{}{
		"message": "Connected to ledgerbeat event stream",
	})
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Msg("Client disconnected from event stream")
			return
		case <-h.closing:
			return
		case ev := <-ch:
			h.send(w, "", ev)
			flusher.Flush()
		case now := <-keepAlive.C:
			h.send(w, "keepalive", map[string]interface{}{
				"timestamp": now.UTC().Format(time.RFC3339),
			})
			flusher.Flush()
		}
	}
}

// send writes one SSE message. A non-empty name sets the event field;
// bus events use the default message event.
func (h *EventsStreamHandler) send(w http.ResponseWriter, name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		data = []byte(`{"error":"failed to encode event"}`)
	}
	if name != "" {
		fmt.Fprintf(w, "event: %s\n", name)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func parseEventTypes(raw string) ([]events.EventType, error) {
	all := events.AllTypes()
	if strings.TrimSpace(raw) == "" {
		return all, nil
	}

	known := make(map[events.EventType]bool, len(all))
	for _, t := range all {
		known[t] = true
	}

	seen := make(map[events.EventType]bool)
	var out []events.EventType
	for _, part := range strings.Split(raw, ",") {
		t := events.EventType(strings.ToUpper(strings.TrimSpace(part)))
		if t == "" || seen[t] {
			continue
		}
		if !known[t] {
			return nil, &ValidationError{Field: "types", Message: fmt.Sprintf("unknown event type %q", part)}
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return all, nil
	}
	return out, nil
}

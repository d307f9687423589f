package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/accent-engine/internal/events"
)

// EventSource is satisfied by *events.Bus.
type EventSource interface {
	Subscribe(filter events.Filter) (<-chan events.Envelope, func())
	ReplaySince(lastEventID string, filter events.Filter) []events.Envelope
}

type EventsHandler struct {
	bus       EventSource
	keepalive time.Duration
}

func NewEventsHandler(bus EventSource) *EventsHandler {
	return &EventsHandler{bus: bus, keepalive: 15 * time.Second}
}

// StreamEvents opens an SSE connection and pushes filtered pipeline events.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter := events.Filter{
		Types:    QueryStringList(r, "types"),
		Analyses: QueryStringList(r, "analyses"),
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.bus.Subscribe(filter)
	defer cancel()

	// Replay missed events if Last-Event-ID is provided
	lastEventID := r.Header.Get("Last-Event-ID")
	seen := map[string]bool{}
	if lastEventID != "" {
		for _, e := range h.bus.ReplaySince(lastEventID, filter) {
			writeSSE(w, e.ID, e.Type, e.Data)
			seen[e.ID] = true
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if seen[e.ID] {
				continue
			}
			writeSSE(w, e.ID, e.Type, e.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, id, event string, data []byte) {
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

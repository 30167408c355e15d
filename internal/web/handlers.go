package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cjeanneret/PrusaCam/internal/debug"
	"github.com/cjeanneret/PrusaCam/internal/logic/gate"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Tracker     *Tracker
	Toggle      *gate.Toggle
	Metrics     http.Handler

	heartbeat time.Duration
}

// NewHandlers creates handlers with the given dependencies.
// toggle is nil when no switch is wired; POST /gate/toggle then returns
// 409 Conflict.
// If metrics is nil, GET /metrics returns 404.
func NewHandlers(broadcaster *StatusBroadcaster, tracker *Tracker, toggle *gate.Toggle, metrics http.Handler) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Tracker:     tracker,
		Toggle:      toggle,
		Metrics:     metrics,
		heartbeat:   30 * time.Second,
	}
}

// HandleStatus returns the tracker snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Tracker.Snapshot())
}

// HandleToggle requests a gate polarity flip, applied on the next tick.
func (h *Handlers) HandleToggle(w http.ResponseWriter, r *http.Request) {
	if h.Toggle == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "disabled", "error": "no gate switch configured"})
		return
	}
	h.Toggle.Request()
	debug.Info("Gate polarity toggle requested over HTTP from %s", r.RemoteAddr)
	if h.Broadcaster != nil {
		h.Broadcaster.Broadcast("info", "gate polarity toggle requested")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

// HandleMetrics serves Prometheus metrics if configured.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		http.NotFound(w, r)
		return
	}
	h.Metrics.ServeHTTP(w, r)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

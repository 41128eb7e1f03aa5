package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/property-etl/internal/etl"
)

// ProgressHandler serves the live run progress
type ProgressHandler struct {
	Tracker *etl.Tracker
	// Interval between stream updates; one second when zero.
	Interval time.Duration
}

// HealthResponse is the /health body
type HealthResponse struct {
	Status string `json:"status"`
	Stage  string `json:"stage"`
	RunID  string `json:"run_id,omitempty"`
}

// ProgressEvent is one server-sent event on the progress stream
type ProgressEvent struct {
	Type      string       `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Progress  etl.Progress `json:"progress"`
}

// Health reports liveness and the current stage. A failed run is reported
// as 503 so probes notice it.
func (h *ProgressHandler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.Tracker.Snapshot()
	resp := HealthResponse{Status: "ok", Stage: snap.Stage, RunID: snap.RunID}

	status := http.StatusOK
	if snap.Stage == etl.StageFailed {
		resp.Status = "failed"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetProgress returns the current progress snapshot
func (h *ProgressHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Tracker.Snapshot())
}

// StreamProgress pushes progress snapshots as Server-Sent Events until the
// run finishes or the client goes away.
func (h *ProgressHandler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	interval := h.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()
	var last time.Time
	for {
		snap := h.Tracker.Snapshot()
		if !snap.Updated.Equal(last) {
			last = snap.Updated
			h.sendEvent(w, flusher, "progress", snap)
		}
		if snap.Stage == etl.StageDone || snap.Stage == etl.StageFailed {
			h.sendEvent(w, flusher, "complete", snap)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *ProgressHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, snap etl.Progress) {
	data, err := json.Marshal(ProgressEvent{Type: eventType, Timestamp: time.Now(), Progress: snap})
	if err != nil {
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

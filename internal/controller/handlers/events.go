package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"scenepipe/internal/logger"
	"scenepipe/internal/notify"
	"scenepipe/internal/pipeline"
	"scenepipe/internal/store"
	"scenepipe/pkg/api"
)

// keepAliveInterval is how often an idle event stream gets a comment line.
const keepAliveInterval = 15 * time.Second

// StreamEvents handles GET /jobs/{id}/events as a text/event-stream.
// The stream ends after the job's terminal event or when the client leaves.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.httpError(w, "Event streaming disabled", http.StatusNotFound)
		return
	}

	jobID := r.PathValue("id")
	if _, err := h.orch.Status(jobID); err != nil {
		h.domainError(w, r, err)
		return
	}

	ctx := r.Context()
	log := logger.FromContext(logger.WithJobID(ctx, jobID), h.logger)
	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := make(chan []byte, 32)
	if err := h.events.Subscribe(ctx, ch, jobID); err != nil {
		log.Warn("event subscription failed", "error", err)
		return
	}
	defer func() {
		// ctx is usually done by now; the hub still needs to hear about it.
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		h.events.Unsubscribe(uctx, ch, jobID)
	}()

	// The job may have finished before the subscription took effect.
	if st, err := h.orch.Status(jobID); err == nil && st.Status.Terminal() {
		writeTerminal(w, st)
		_ = rc.Flush()
		return
	}
	_ = rc.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case msg := <-ch:
			var ev api.Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				log.Warn("dropping malformed event", "error", err)
				continue
			}
			if err := writeEvent(w, ev.Event, msg); err != nil {
				return
			}
			_ = rc.Flush()
			if ev.Event == notify.EventJobCompleted || ev.Event == notify.EventJobFailed {
				return
			}
		}
	}
}

// writeTerminal replays the final state of a finished job.
func writeTerminal(w http.ResponseWriter, st pipeline.JobStatus) {
	name := notify.EventJobCompleted
	if st.Status == store.JobStatusFailed {
		name = notify.EventJobFailed
	}
	ts := st.StartedAt
	if st.FinishedAt != nil {
		ts = *st.FinishedAt
	}
	payload, _ := json.Marshal(api.Event{
		Event:     name,
		JobID:     st.ID,
		ProjectID: st.ProjectID,
		Percent:   st.Percent,
		Message:   st.Error,
		Timestamp: ts,
	})
	_ = writeEvent(w, name, payload)
}

func writeEvent(w http.ResponseWriter, name string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

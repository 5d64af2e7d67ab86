package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/service"
	"github.com/go-chi/chi/v5"
)

const keepAliveInterval = 15 * time.Second

type SSEHandler struct {
	eventBus *service.EventBus
	markers  MarkerService
}

func NewSSEHandler(eventBus *service.EventBus, markers MarkerService) *SSEHandler {
	return &SSEHandler{
		eventBus: eventBus,
		markers:  markers,
	}
}

// snapshotEvent describes the current state of job as an event.
func snapshotEvent(job *domain.MarkerJob) service.MarkerEvent {
	return service.MarkerEvent{
		Type:      "marker.snapshot",
		ContentID: job.ContentID,
		JobID:     job.ID,
		Status:    job.Status,
		Attempt:   job.Attempts,
		ErrorKind: job.ErrorKind,
		Message:   job.ErrorMessage,
		At:        job.UpdatedAt,
	}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sendStatus(w http.ResponseWriter, event service.MarkerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	sseWrite(w, "status", string(data))
	return nil
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Events streams marker status for a content item until its latest job
// settles or the client disconnects.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contentID := chi.URLParam(r, "contentID")

		// Subscribe first so no transition slips between snapshot and stream.
		ch := h.eventBus.Subscribe(contentID)
		defer h.eventBus.Unsubscribe(contentID, ch)

		jobs, err := h.markers.ListJobs(r.Context(), contentID, 1)
		if err != nil || len(jobs) == 0 {
			http.Error(w, "No marker job for content", http.StatusNotFound)
			return
		}
		job := jobs[0]

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		_ = sendStatus(w, snapshotEvent(job))

		// Let client close connection when terminal
		if job.Status.IsTerminal() {
			<-r.Context().Done()
			return
		}

		ctx := r.Context()
		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-ch:
				if !ok {
					return
				}
				_ = sendStatus(w, event)

				if event.Status.IsTerminal() {
					<-ctx.Done()
					return
				}
			}
		}
	}
}

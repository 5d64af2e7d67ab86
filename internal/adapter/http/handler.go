package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const maxRequestBytes = 64 << 10

type MarkerService interface {
	Trigger(ctx context.Context, req service.TriggerRequest) (*domain.MarkerJob, error)
	GetJob(ctx context.Context, id string) (*domain.MarkerJob, error)
	ListJobs(ctx context.Context, contentID string, limit int) ([]*domain.MarkerJob, error)
}

type VideoResolver interface {
	Resolve(ctx context.Context, contentID string, now time.Time) (service.Resolution, error)
}

type Handlers struct {
	markers  MarkerService
	resolver VideoResolver
	now      func() time.Time
	log      zerolog.Logger
}

func NewHandlers(markers MarkerService, resolver VideoResolver, log zerolog.Logger) *Handlers {
	return &Handlers{
		markers:  markers,
		resolver: resolver,
		now:      time.Now,
		log:      log,
	}
}

type jobResponse struct {
	JobID       string              `json:"job_id"`
	ContentID   string              `json:"content_id"`
	Status      domain.MarkerStatus `json:"status"`
	Attempts    int                 `json:"attempts"`
	MaxAttempts int                 `json:"max_attempts"`
	ArtifactURL string              `json:"artifact_url,omitempty"`
	ErrorKind   domain.ErrorKind    `json:"error_kind,omitempty"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func newJobResponse(job *domain.MarkerJob) jobResponse {
	return jobResponse{
		JobID:       job.ID,
		ContentID:   job.ContentID,
		Status:      job.Status,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		ArtifactURL: job.ArtifactURL,
		ErrorKind:   job.ErrorKind,
		Error:       job.ErrorMessage,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// TriggerMarker accepts a generation request. A new job answers 202; a
// reused ready job answers 200.
func (h *Handlers) TriggerMarker() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

		var req service.TriggerRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: "invalid request body",
				Kind:  string(domain.ErrorKindInvalidInput),
			})
			return
		}

		job, err := h.markers.Trigger(r.Context(), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		status := http.StatusAccepted
		if job.Status == domain.MarkerStatusReady {
			status = http.StatusOK
		}
		writeJSON(w, status, newJobResponse(job))
	}
}

func (h *Handlers) GetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := h.markers.GetJob(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newJobResponse(job))
	}
}

func (h *Handlers) ListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
				return
			}
			limit = n
		}

		jobs, err := h.markers.ListJobs(r.Context(), chi.URLParam(r, "contentID"), limit)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out := make([]jobResponse, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, newJobResponse(job))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ResolveVideo answers which video a content item plays. The optional at
// query parameter is an RFC3339 instant and defaults to now.
func (h *Handlers) ResolveVideo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at := h.now()
		if raw := r.URL.Query().Get("at"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "at must be an RFC3339 timestamp"})
				return
			}
			at = t
		}

		res, err := h.resolver.Resolve(r.Context(), chi.URLParam(r, "contentID"), at)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var me *domain.MarkerError
	switch {
	case errors.As(err, &me) && me.Kind == domain.ErrorKindInvalidInput:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: me.Detail(), Kind: string(me.Kind)})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrJobInProgress), errors.Is(err, domain.ErrMarkerNotReady):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

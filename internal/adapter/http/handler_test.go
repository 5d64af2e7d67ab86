package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/infrastructure/logger"
	"github.com/bnema/arpipe/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarkers struct {
	trigger  func(ctx context.Context, req service.TriggerRequest) (*domain.MarkerJob, error)
	jobs     map[string]*domain.MarkerJob
	listErr  error
	lastList struct {
		contentID string
		limit     int
	}
}

func (f *fakeMarkers) Trigger(ctx context.Context, req service.TriggerRequest) (*domain.MarkerJob, error) {
	return f.trigger(ctx, req)
}

func (f *fakeMarkers) GetJob(_ context.Context, id string) (*domain.MarkerJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return job, nil
}

func (f *fakeMarkers) ListJobs(_ context.Context, contentID string, limit int) ([]*domain.MarkerJob, error) {
	f.lastList.contentID = contentID
	f.lastList.limit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*domain.MarkerJob
	for _, job := range f.jobs {
		if job.ContentID == contentID {
			out = append(out, job)
		}
	}
	return out, nil
}

type resolverFunc func(ctx context.Context, contentID string, now time.Time) (service.Resolution, error)

func (f resolverFunc) Resolve(ctx context.Context, contentID string, now time.Time) (service.Resolution, error) {
	return f(ctx, contentID, now)
}

func newTestServer(markers *fakeMarkers, resolver VideoResolver) *Server {
	return NewServer(markers, resolver, service.NewEventBus(), logger.Nop())
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestTriggerMarker(t *testing.T) {
	pending := &domain.MarkerJob{ID: "job-1", ContentID: "c1", Status: domain.MarkerStatusPending, MaxAttempts: 3}
	ready := &domain.MarkerJob{ID: "job-0", ContentID: "c1", Status: domain.MarkerStatusReady, ArtifactURL: "https://cdn.example/c1/targets.mind"}

	tests := []struct {
		name       string
		body       string
		job        *domain.MarkerJob
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "new job is accepted",
			body:       `{"content_id":"c1","source_image_path":"/src/c1.png"}`,
			job:        pending,
			wantStatus: http.StatusAccepted,
			wantBody:   `"status":"pending"`,
		},
		{
			name:       "ready job is reused",
			body:       `{"content_id":"c1","source_image_path":"/src/c1.png"}`,
			job:        ready,
			wantStatus: http.StatusOK,
			wantBody:   `"artifact_url":"https://cdn.example/c1/targets.mind"`,
		},
		{
			name:       "invalid input",
			body:       `{"content_id":"","source_image_path":"/src/c1.png"}`,
			err:        domain.NewMarkerError(domain.ErrorKindInvalidInput, "content id", errors.New("must not be empty")),
			wantStatus: http.StatusBadRequest,
			wantBody:   `"kind":"invalid_input"`,
		},
		{
			name:       "job already running",
			body:       `{"content_id":"c1","source_image_path":"/src/c1.png"}`,
			err:        fmt.Errorf("%w: c1", domain.ErrJobInProgress),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "malformed body",
			body:       `{"content_id":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `"error":"invalid request body"`,
		},
		{
			name:       "unknown field",
			body:       `{"content_id":"c1","source":"x"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "storage failure",
			body:       `{"content_id":"c1","source_image_path":"/src/c1.png"}`,
			err:        errors.New("database is locked"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `"error":"internal error"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got service.TriggerRequest
			markers := &fakeMarkers{trigger: func(_ context.Context, req service.TriggerRequest) (*domain.MarkerJob, error) {
				got = req
				return tt.job, tt.err
			}}

			rec := serve(newTestServer(markers, nil), http.MethodPost, "/api/v1/markers", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
			if tt.job != nil {
				assert.Equal(t, "c1", got.ContentID)
				assert.Equal(t, "/src/c1.png", got.SourceImagePath)
			}
		})
	}
}

func TestTriggerMarker_PassesOptions(t *testing.T) {
	var got service.TriggerRequest
	markers := &fakeMarkers{trigger: func(_ context.Context, req service.TriggerRequest) (*domain.MarkerJob, error) {
		got = req
		return &domain.MarkerJob{ID: "j", ContentID: req.ContentID, Status: domain.MarkerStatusPending}, nil
	}}

	body := `{"content_id":"c1","source_image_path":"/src/c1.png","max_features":500,"regenerate":true,"flow":"standalone"}`
	rec := serve(newTestServer(markers, nil), http.MethodPost, "/api/v1/markers", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 500, got.MaxFeatures)
	assert.True(t, got.Regenerate)
	assert.Equal(t, domain.ObjectFlowStandalone, got.Flow)
	assert.Empty(t, got.OutputDir, "output dir is server configuration")
}

func TestGetJob(t *testing.T) {
	markers := &fakeMarkers{jobs: map[string]*domain.MarkerJob{
		"job-1": {
			ID:           "job-1",
			ContentID:    "c1",
			Status:       domain.MarkerStatusFailed,
			Attempts:     3,
			MaxAttempts:  3,
			ErrorKind:    domain.ErrorKindCompilationFailure,
			ErrorMessage: "exit status 1: boom",
		},
	}}
	s := newTestServer(markers, nil)

	rec := serve(s, http.MethodGet, "/api/v1/markers/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job-1", body.JobID)
	assert.Equal(t, domain.MarkerStatusFailed, body.Status)
	assert.Equal(t, domain.ErrorKindCompilationFailure, body.ErrorKind)
	assert.Equal(t, "exit status 1: boom", body.Error)
	assert.Equal(t, 3, body.Attempts)

	rec = serve(s, http.MethodGet, "/api/v1/markers/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	markers := &fakeMarkers{jobs: map[string]*domain.MarkerJob{
		"job-1": {ID: "job-1", ContentID: "c1", Status: domain.MarkerStatusReady},
	}}
	s := newTestServer(markers, nil)

	rec := serve(s, http.MethodGet, "/api/v1/contents/c1/marker/jobs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", markers.lastList.contentID)
	assert.Equal(t, 5, markers.lastList.limit)

	var body []jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "job-1", body[0].JobID)

	rec = serve(s, http.MethodGet, "/api/v1/contents/c1/marker/jobs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveVideo(t *testing.T) {
	at := time.Date(2024, 12, 26, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		query      string
		res        service.Resolution
		err        error
		wantStatus int
		wantBody   []string
	}{
		{
			name:  "selected video",
			query: "?at=2024-12-26T10:00:00Z",
			res: service.Resolution{
				ContentID: "c1",
				VideoID:   "V2",
				VideoURL:  "https://videos.example/V2.mp4",
				Reason:    domain.ReasonDailyCycle,
				Date:      domain.Date{Year: 2024, Month: 12, Day: 26},
			},
			wantStatus: http.StatusOK,
			wantBody:   []string{`"selected_video_url":"https://videos.example/V2.mp4"`, `"selection_reason":"daily_cycle"`},
		},
		{
			name:       "no active video",
			query:      "?at=2024-12-26T10:00:00Z",
			res:        service.Resolution{ContentID: "c1", Reason: domain.ReasonNoActiveVideo},
			wantStatus: http.StatusOK,
			wantBody:   []string{`"selection_reason":"no_active_video"`},
		},
		{
			name:       "marker not ready",
			query:      "?at=2024-12-26T10:00:00Z",
			err:        fmt.Errorf("%w: c1", domain.ErrMarkerNotReady),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "unknown content",
			query:      "?at=2024-12-26T10:00:00Z",
			err:        fmt.Errorf("%w: content c1", domain.ErrNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "bad timestamp",
			query:      "?at=yesterday",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAt time.Time
			resolver := resolverFunc(func(_ context.Context, contentID string, now time.Time) (service.Resolution, error) {
				assert.Equal(t, "c1", contentID)
				gotAt = now
				return tt.res, tt.err
			})

			rec := serve(newTestServer(&fakeMarkers{}, resolver), http.MethodGet, "/api/v1/contents/c1/video"+tt.query, "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			for _, want := range tt.wantBody {
				assert.Contains(t, rec.Body.String(), want)
			}
			if tt.wantStatus != http.StatusBadRequest {
				assert.True(t, at.Equal(gotAt))
			}
		})
	}
}

func TestResolveVideo_DefaultsToNow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotAt time.Time
	s := newTestServer(&fakeMarkers{}, resolverFunc(func(_ context.Context, _ string, at time.Time) (service.Resolution, error) {
		gotAt = at
		return service.Resolution{Reason: domain.ReasonNoActiveVideo}, nil
	}))
	s.handlers.now = func() time.Time { return now }

	rec := serve(s, http.MethodGet, "/api/v1/contents/c1/video", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, now, gotAt)
}

func TestServer_HealthAndHeaders(t *testing.T) {
	rec := serve(newTestServer(&fakeMarkers{}, nil), http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestServer_UnknownRoute(t *testing.T) {
	rec := serve(newTestServer(&fakeMarkers{}, nil), http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(newTestServer(&fakeMarkers{}, nil), http.MethodGet, "/api/v1/markers", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

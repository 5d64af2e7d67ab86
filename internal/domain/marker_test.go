package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMarkerJob(t *testing.T) {
	now := time.Date(2024, 12, 25, 9, 0, 0, 0, time.UTC)
	job := NewMarkerJob("content-1", "/src/portrait.jpg", "/out", 800, 3, now)

	assert.NotEmpty(t, job.ID, "ID should be generated")
	assert.Equal(t, MarkerStatusPending, job.Status)
	assert.Equal(t, ObjectFlowContent, job.Flow)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, now, job.CreatedAt)
}

func TestMarkerJob_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    MarkerStatus
		to      MarkerStatus
		wantErr error
	}{
		{name: "pending to processing", from: MarkerStatusPending, to: MarkerStatusProcessing},
		{name: "processing retry", from: MarkerStatusProcessing, to: MarkerStatusProcessing},
		{name: "processing to ready", from: MarkerStatusProcessing, to: MarkerStatusReady},
		{name: "processing to failed", from: MarkerStatusProcessing, to: MarkerStatusFailed},
		{name: "processing never returns to pending", from: MarkerStatusProcessing, to: MarkerStatusPending, wantErr: ErrInvalidTransition},
		{name: "pending cannot jump to ready", from: MarkerStatusPending, to: MarkerStatusReady, wantErr: ErrInvalidTransition},
		{name: "ready is terminal", from: MarkerStatusReady, to: MarkerStatusProcessing, wantErr: ErrJobTerminal},
		{name: "failed is terminal", from: MarkerStatusFailed, to: MarkerStatusProcessing, wantErr: ErrJobTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &MarkerJob{ID: "job", Status: tt.from}
			err := job.Transition(tt.to, time.Now())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, job.Status, "status must not change on rejected transition")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.to, job.Status)
		})
	}
}

func TestMarkerJob_BeginAttemptCountsAttempts(t *testing.T) {
	job := NewMarkerJob("c", "/in.jpg", "/out", 500, 3, time.Now())

	require.NoError(t, job.BeginAttempt(time.Now()))
	require.NoError(t, job.BeginAttempt(time.Now()))

	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, MarkerStatusProcessing, job.Status)
}

func TestMarkerJob_BeginAttemptStopsAtCeiling(t *testing.T) {
	job := NewMarkerJob("c", "/in.jpg", "/out", 500, 2, time.Now())
	require.NoError(t, job.BeginAttempt(time.Now()))
	require.NoError(t, job.BeginAttempt(time.Now()))

	err := job.BeginAttempt(time.Now())

	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, MarkerStatusProcessing, job.Status)
}

func TestMarkerJob_CanRetry(t *testing.T) {
	job := &MarkerJob{Attempts: 2, MaxAttempts: 3}

	assert.True(t, job.CanRetry(ErrorKindCompilationFailure))
	assert.True(t, job.CanRetry(ErrorKindUploadFailure))
	assert.False(t, job.CanRetry(ErrorKindInvalidInput), "invalid input is fatal")
	assert.False(t, job.CanRetry(ErrorKindValidationFailure), "validation failure is fatal")

	job.Attempts = 3
	assert.False(t, job.CanRetry(ErrorKindCompilationTimeout), "ceiling reached")
}

func TestMarkerJob_MarkFailedRecordsLastError(t *testing.T) {
	job := NewMarkerJob("c", "/in.jpg", "/out", 500, 3, time.Now())
	require.NoError(t, job.BeginAttempt(time.Now()))

	cause := NewMarkerError(ErrorKindCompilationFailure, "exit status 1: bad image", nil)
	require.NoError(t, job.MarkFailed(cause, time.Now()))

	assert.Equal(t, MarkerStatusFailed, job.Status)
	assert.Equal(t, ErrorKindCompilationFailure, job.ErrorKind)
	assert.Equal(t, "exit status 1: bad image", job.ErrorMessage)

	last := job.LastError()
	require.NotNil(t, last)
	assert.Equal(t, ErrorKindCompilationFailure, last.Kind)
}

func TestMarkerJob_MarkReadyClearsError(t *testing.T) {
	job := NewMarkerJob("c", "/in.jpg", "/out", 500, 3, time.Now())
	require.NoError(t, job.BeginAttempt(time.Now()))
	job.RecordFailure(NewMarkerError(ErrorKindUploadFailure, "", errors.New("connection reset")), time.Now())

	err := job.MarkReady(&MarkerArtifact{Path: "/out/c/targets.mind", URL: "https://cdn/c/targets.mind"}, time.Now())

	require.NoError(t, err)
	assert.Equal(t, MarkerStatusReady, job.Status)
	assert.Equal(t, "https://cdn/c/targets.mind", job.ArtifactURL)
	assert.Empty(t, job.ErrorKind)
	assert.Nil(t, job.LastError())
}

func TestKindOf(t *testing.T) {
	wrapped := errors.Join(errors.New("outer"), NewMarkerError(ErrorKindArtifactNotFound, "missing", nil))

	assert.Equal(t, ErrorKindArtifactNotFound, KindOf(wrapped))
	assert.Equal(t, ErrorKindCompilationFailure, KindOf(errors.New("unclassified")))
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "content-9/targets.mind", ObjectName(ObjectFlowContent, "content-9", ".mind"))
	assert.Equal(t, "content-9/targets.mind", ObjectName(ObjectFlowContent, "content-9", ""))

	standalone := ObjectName(ObjectFlowStandalone, "content-9", "mind")
	assert.True(t, strings.HasPrefix(standalone, "markers/mindar_targets/"))
	assert.True(t, strings.HasSuffix(standalone, ".mind"))
	assert.NotEqual(t, standalone, ObjectName(ObjectFlowStandalone, "content-9", "mind"), "standalone names are unique")
}

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MarkerStatus string

const (
	MarkerStatusPending    MarkerStatus = "pending"
	MarkerStatusProcessing MarkerStatus = "processing"
	MarkerStatusReady      MarkerStatus = "ready"
	MarkerStatusFailed     MarkerStatus = "failed"
)

// IsTerminal reports whether no further transition may occur from s.
func (s MarkerStatus) IsTerminal() bool {
	return s == MarkerStatusReady || s == MarkerStatusFailed
}

var markerTransitions = map[MarkerStatus][]MarkerStatus{
	MarkerStatusPending:    {MarkerStatusProcessing},
	MarkerStatusProcessing: {MarkerStatusProcessing, MarkerStatusReady, MarkerStatusFailed},
}

// ObjectFlow selects the artifact object naming convention.
type ObjectFlow string

const (
	// ObjectFlowContent stores the artifact as <contentID>/targets.<ext>.
	ObjectFlowContent ObjectFlow = "content"
	// ObjectFlowStandalone stores the artifact under markers/mindar_targets/<uuid>.<ext>.
	ObjectFlowStandalone ObjectFlow = "standalone"
)

// ObjectName builds the object key for an artifact with the given extension.
func ObjectName(flow ObjectFlow, contentID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "mind"
	}
	if flow == ObjectFlowStandalone {
		return fmt.Sprintf("markers/mindar_targets/%s.%s", uuid.NewString(), ext)
	}
	return fmt.Sprintf("%s/targets.%s", contentID, ext)
}

type ArtifactMetadata struct {
	SizeBytes     int64     `json:"size_bytes"`
	FormatTag     string    `json:"format_tag"`
	FeaturePoints int       `json:"feature_points,omitempty"`
	Checksum      string    `json:"checksum,omitempty"`
	ExtractedAt   time.Time `json:"extracted_at"`
}

// MarkerArtifact is the compiled output of a successful MarkerJob.
type MarkerArtifact struct {
	JobID     string           `json:"job_id"`
	ContentID string           `json:"content_id"`
	Path      string           `json:"path"`
	URL       string           `json:"url"`
	Metadata  ArtifactMetadata `json:"metadata"`
}

// MarkerJob is one generation attempt lifecycle for a content item.
type MarkerJob struct {
	ID              string       `json:"id"`
	ContentID       string       `json:"content_id"`
	SourceImagePath string       `json:"source_image_path"`
	OutputDir       string       `json:"output_dir"`
	MaxFeatures     int          `json:"max_features"`
	Flow            ObjectFlow   `json:"flow"`
	OutputPath      string       `json:"output_path,omitempty"`
	ArtifactURL     string       `json:"artifact_url,omitempty"`
	Attempts        int          `json:"attempts"`
	MaxAttempts     int          `json:"max_attempts"`
	Status          MarkerStatus `json:"status"`
	ErrorKind       ErrorKind    `json:"error_kind,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	Regenerate      bool         `json:"regenerate"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func NewMarkerJob(contentID, sourceImagePath, outputDir string, maxFeatures, maxAttempts int, now time.Time) *MarkerJob {
	return &MarkerJob{
		ID:              uuid.NewString(),
		ContentID:       contentID,
		SourceImagePath: sourceImagePath,
		OutputDir:       outputDir,
		MaxFeatures:     maxFeatures,
		Flow:            ObjectFlowContent,
		MaxAttempts:     maxAttempts,
		Status:          MarkerStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Transition moves the job to status to, enforcing the state machine.
func (j *MarkerJob) Transition(to MarkerStatus, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobTerminal, j.ID, j.Status)
	}
	for _, allowed := range markerTransitions[j.Status] {
		if allowed == to {
			j.Status = to
			j.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
}

// BeginAttempt enters processing and counts the attempt. A job whose budget
// is spent, such as one recovered after a crash during its last attempt,
// gets ErrAttemptsExhausted and is left unchanged.
func (j *MarkerJob) BeginAttempt(now time.Time) error {
	if j.MaxAttempts > 0 && j.Attempts >= j.MaxAttempts && !j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s used %d of %d", ErrAttemptsExhausted, j.ID, j.Attempts, j.MaxAttempts)
	}
	if err := j.Transition(MarkerStatusProcessing, now); err != nil {
		return err
	}
	j.Attempts++
	return nil
}

// RecordFailure stores the last error without changing status.
func (j *MarkerJob) RecordFailure(err error, now time.Time) {
	j.ErrorKind = KindOf(err)
	j.ErrorMessage = err.Error()
	var me *MarkerError
	if errors.As(err, &me) {
		j.ErrorMessage = me.Detail()
	}
	j.UpdatedAt = now
}

// CanRetry reports whether a failure of kind may consume another attempt.
func (j *MarkerJob) CanRetry(kind ErrorKind) bool {
	return kind.Retryable() && j.Attempts < j.MaxAttempts
}

func (j *MarkerJob) MarkReady(artifact *MarkerArtifact, now time.Time) error {
	if err := j.Transition(MarkerStatusReady, now); err != nil {
		return err
	}
	j.OutputPath = artifact.Path
	j.ArtifactURL = artifact.URL
	j.ErrorKind = ""
	j.ErrorMessage = ""
	return nil
}

func (j *MarkerJob) MarkFailed(err error, now time.Time) error {
	j.RecordFailure(err, now)
	return j.Transition(MarkerStatusFailed, now)
}

// LastError rebuilds the classified error recorded on the job, or nil.
func (j *MarkerJob) LastError() *MarkerError {
	if j.ErrorKind == "" {
		return nil
	}
	return &MarkerError{Kind: j.ErrorKind, Message: j.ErrorMessage}
}

// MarkerTask is an entry of the durable marker task queue.
type MarkerTask struct {
	ID           int64
	JobID        string
	Status       TaskStatus
	RunAt        time.Time
	ErrorMessage string
	CreatedAt    time.Time
	ClaimedAt    *time.Time
}

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

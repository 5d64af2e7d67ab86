package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/infrastructure/logger"
	"github.com/bnema/arpipe/internal/infrastructure/tracing"
	"github.com/bnema/arpipe/internal/port"
	"github.com/bnema/arpipe/internal/validation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// stderrTailBytes bounds how much compiler stderr is kept on a failed job.
const stderrTailBytes = 512

type MarkerConfig struct {
	OutputDir        string
	MaxFeatures      int
	CompileTimeout   time.Duration
	MaxAttempts      int
	MinArtifactBytes int64
	MaxArtifactBytes int64
	Bucket           string
	// BucketOverrides maps an artifact content type to the bucket it is
	// uploaded to instead of Bucket.
	BucketOverrides map[string]string
	ContentType     string
	ArtifactExt     string
	// LeaseRetryDelay is how long a queued task waits when another worker
	// holds the content lease.
	LeaseRetryDelay time.Duration
}

func (c MarkerConfig) withDefaults() MarkerConfig {
	if c.MaxFeatures <= 0 {
		c.MaxFeatures = 800
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = 2 * time.Minute
	}
	if c.ContentType == "" {
		c.ContentType = "application/octet-stream"
	}
	if c.ArtifactExt == "" {
		c.ArtifactExt = "mind"
	}
	if c.Bucket == "" {
		c.Bucket = "markers"
	}
	if c.LeaseRetryDelay <= 0 {
		c.LeaseRetryDelay = 5 * time.Second
	}
	return c
}

// BucketFor returns the bucket artifacts of contentType are stored in.
func (c MarkerConfig) BucketFor(contentType string) string {
	if b, ok := c.BucketOverrides[contentType]; ok && b != "" {
		return b
	}
	return c.Bucket
}

type MarkerDeps struct {
	Jobs      port.MarkerJobStore
	Contents  port.ContentStore
	Queue     port.TaskQueue
	Compiler  port.MarkerCompiler
	Artifacts port.ArtifactStore
	Metadata  port.MetadataExtractor
	Locker    port.ContentLocker
	Events    EventPublisher
	Clock     port.Clock
	Backoff   *Backoff
	Log       zerolog.Logger
}

// MarkerService owns the marker job state machine. Jobs run either through
// the task queue (Trigger then Process) or inline (Generate).
type MarkerService struct {
	jobs      port.MarkerJobStore
	contents  port.ContentStore
	queue     port.TaskQueue
	compiler  port.MarkerCompiler
	artifacts port.ArtifactStore
	meta      port.MetadataExtractor
	locker    port.ContentLocker
	events    EventPublisher
	clock     port.Clock
	backoff   *Backoff
	cfg       MarkerConfig
	log       zerolog.Logger
}

func NewMarkerService(deps MarkerDeps, cfg MarkerConfig) *MarkerService {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	backoff := deps.Backoff
	if backoff == nil {
		backoff = NewBackoff(2*time.Second, time.Minute)
	}
	return &MarkerService{
		jobs:      deps.Jobs,
		contents:  deps.Contents,
		queue:     deps.Queue,
		compiler:  deps.Compiler,
		artifacts: deps.Artifacts,
		meta:      deps.Metadata,
		locker:    deps.Locker,
		events:    deps.Events,
		clock:     clock,
		backoff:   backoff,
		cfg:       cfg.withDefaults(),
		log:       deps.Log.With().Str("component", "marker").Logger(),
	}
}

type TriggerRequest struct {
	ContentID       string            `json:"content_id"`
	SourceImagePath string            `json:"source_image_path"`
	MaxFeatures     int               `json:"max_features,omitempty"`
	Regenerate      bool              `json:"regenerate,omitempty"`
	Flow            domain.ObjectFlow `json:"flow,omitempty"`
	// OutputDir overrides the configured output root.
	OutputDir string `json:"-"`
}

type GenerateResult struct {
	JobID        string                  `json:"job_id"`
	ArtifactPath string                  `json:"artifact_path"`
	ArtifactURL  string                  `json:"artifact_url"`
	Metadata     domain.ArtifactMetadata `json:"metadata"`
	Status       domain.MarkerStatus     `json:"status"`
}

// Outcome tells the queue what to do with the task that ran a job.
type Outcome struct {
	Job *domain.MarkerJob
	// RetryAt is set when the task should run again.
	RetryAt time.Time
	Reason  string
}

func (o Outcome) Retry() bool {
	return !o.RetryAt.IsZero()
}

// Trigger records a pending job and enqueues it. When the latest job for
// the content is ready and Regenerate is unset, that job is returned and
// nothing is enqueued.
func (s *MarkerService) Trigger(ctx context.Context, req TriggerRequest) (*domain.MarkerJob, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	existing, err := s.reusable(ctx, req)
	if err != nil || existing != nil {
		return existing, err
	}
	if err := checkSource(req.SourceImagePath); err != nil {
		return nil, err
	}

	job := s.newJob(req)
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create marker job: %w", err)
	}
	s.logJob(job).Info().Msg("marker job created")
	s.publish(job)

	if _, err := s.queue.Enqueue(ctx, job.ID, s.clock.Now()); err != nil {
		return job, fmt.Errorf("enqueue marker job: %w", err)
	}
	return job, nil
}

// Generate runs a job to completion in the caller's goroutine, sleeping
// between retries. A terminal failure is returned as *domain.MarkerError.
func (s *MarkerService) Generate(ctx context.Context, req TriggerRequest) (*GenerateResult, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.TryLock(req.ContentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	existing, err := s.reusable(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resultFor(ctx, existing)
	}
	if err := checkSource(req.SourceImagePath); err != nil {
		return nil, err
	}

	job := s.newJob(req)
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create marker job: %w", err)
	}
	s.logJob(job).Info().Msg("marker job created")
	s.publish(job)

	for {
		artifact, err := s.attempt(ctx, job)
		if err == nil {
			return &GenerateResult{
				JobID:        job.ID,
				ArtifactPath: artifact.Path,
				ArtifactURL:  artifact.URL,
				Metadata:     artifact.Metadata,
				Status:       job.Status,
			}, nil
		}

		var failure *domain.MarkerError
		if !errors.As(err, &failure) {
			return nil, err
		}
		retry, err := s.settle(ctx, job, failure)
		if err != nil {
			return nil, err
		}
		if !retry {
			return nil, failure
		}

		delay := s.backoff.Duration(job.Attempts)
		s.logJob(job).Debug().Dur("delay", delay).Msg("waiting before retry")
		if err := s.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Process runs one attempt of a queued job.
func (s *MarkerService) Process(ctx context.Context, jobID string) (Outcome, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load marker job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		return Outcome{Job: job}, nil
	}

	unlock, err := s.locker.TryLock(job.ContentID)
	if errors.Is(err, domain.ErrJobInProgress) {
		return Outcome{
			Job:     job,
			RetryAt: s.clock.Now().Add(s.cfg.LeaseRetryDelay),
			Reason:  "content lease held",
		}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = unlock() }()

	_, err = s.attempt(ctx, job)
	if err == nil {
		return Outcome{Job: job}, nil
	}

	var failure *domain.MarkerError
	if !errors.As(err, &failure) {
		return Outcome{}, err
	}
	retry, err := s.settle(ctx, job, failure)
	if err != nil {
		return Outcome{}, err
	}
	if !retry {
		return Outcome{Job: job}, nil
	}
	return Outcome{
		Job:     job,
		RetryAt: s.clock.Now().Add(s.backoff.Duration(job.Attempts)),
		Reason:  failure.Error(),
	}, nil
}

func (s *MarkerService) GetJob(ctx context.Context, id string) (*domain.MarkerJob, error) {
	return s.jobs.GetJob(ctx, id)
}

func (s *MarkerService) ListJobs(ctx context.Context, contentID string, limit int) ([]*domain.MarkerJob, error) {
	return s.jobs.ListJobs(ctx, contentID, limit)
}

func (s *MarkerService) normalize(req TriggerRequest) (TriggerRequest, error) {
	if err := validation.ValidateContentID(req.ContentID); err != nil {
		return req, domain.NewMarkerError(domain.ErrorKindInvalidInput, "content id", err)
	}
	if strings.TrimSpace(req.SourceImagePath) == "" {
		return req, domain.NewMarkerError(domain.ErrorKindInvalidInput, "source image path is required", nil)
	}
	if req.MaxFeatures < 0 {
		return req, domain.NewMarkerError(domain.ErrorKindInvalidInput, fmt.Sprintf("max features must be positive, got %d", req.MaxFeatures), nil)
	}
	if req.MaxFeatures == 0 {
		req.MaxFeatures = s.cfg.MaxFeatures
	}
	switch req.Flow {
	case "":
		req.Flow = domain.ObjectFlowContent
	case domain.ObjectFlowContent, domain.ObjectFlowStandalone:
	default:
		return req, domain.NewMarkerError(domain.ErrorKindInvalidInput, fmt.Sprintf("unknown object flow %q", req.Flow), nil)
	}
	if req.OutputDir == "" {
		req.OutputDir = s.cfg.OutputDir
	}
	if req.OutputDir == "" {
		return req, domain.NewMarkerError(domain.ErrorKindInvalidInput, "output directory is required", nil)
	}
	return req, nil
}

// reusable returns the latest ready job when it satisfies req, and rejects
// the request when a job is still running.
func (s *MarkerService) reusable(ctx context.Context, req TriggerRequest) (*domain.MarkerJob, error) {
	latest, err := s.jobs.LatestJob(ctx, req.ContentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest marker job: %w", err)
	}
	switch {
	case !latest.Status.IsTerminal():
		return nil, fmt.Errorf("%w: %s (job %s)", domain.ErrJobInProgress, req.ContentID, latest.ID)
	case latest.Status == domain.MarkerStatusReady && !req.Regenerate:
		return latest, nil
	default:
		return nil, nil
	}
}

func checkSource(path string) error {
	if _, err := validation.CheckSourceImage(path); err != nil {
		return domain.NewMarkerError(domain.ErrorKindInvalidInput, "", err)
	}
	return nil
}

func (s *MarkerService) newJob(req TriggerRequest) *domain.MarkerJob {
	job := domain.NewMarkerJob(req.ContentID, req.SourceImagePath, req.OutputDir, req.MaxFeatures, s.cfg.MaxAttempts, s.clock.Now())
	job.Flow = req.Flow
	job.Regenerate = req.Regenerate
	return job
}

func (s *MarkerService) resultFor(ctx context.Context, job *domain.MarkerJob) (*GenerateResult, error) {
	res := &GenerateResult{
		JobID:        job.ID,
		ArtifactPath: job.OutputPath,
		ArtifactURL:  job.ArtifactURL,
		Status:       job.Status,
	}
	content, err := s.contents.GetContent(ctx, job.ContentID)
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	if content.Artifact != nil && content.Artifact.JobID == job.ID {
		res.Metadata = content.Artifact.Metadata
	}
	return res, nil
}

// attempt runs one compile/validate/upload pass. Pipeline failures come
// back as *domain.MarkerError; any other error means the attempt could not
// be recorded or was cancelled, and the job is left as persisted.
func (s *MarkerService) attempt(ctx context.Context, job *domain.MarkerJob) (artifact *domain.MarkerArtifact, err error) {
	ctx, span := tracing.StartSpan(ctx, "marker.attempt",
		attribute.String("content_id", job.ContentID),
		attribute.String("job_id", job.ID),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if err := job.BeginAttempt(s.clock.Now()); err != nil {
		if errors.Is(err, domain.ErrAttemptsExhausted) {
			return nil, interruptedFailure(job)
		}
		return nil, err
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist attempt: %w", err)
	}
	span.SetAttributes(attribute.Int("attempt", job.Attempts))
	s.logJob(job).Info().Msg("marker attempt started")
	s.publish(job)

	if err := checkSource(job.SourceImagePath); err != nil {
		return nil, err
	}

	// Each job compiles into its own directory; the artifact of the job it
	// supersedes stays untouched until CompleteJob commits.
	outDir := jobOutputDir(job)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, domain.NewMarkerError(domain.ErrorKindInvalidInput, "create output directory", err)
	}
	outPath := filepath.Join(outDir, "targets."+strings.TrimPrefix(s.cfg.ArtifactExt, "."))
	if err := os.Remove(outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, domain.NewMarkerError(domain.ErrorKindInvalidInput, "remove stale artifact", err)
	}

	result, err := s.compile(ctx, job, outPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, domain.NewMarkerError(domain.ErrorKindArtifactNotFound, "compiler produced no output at "+outPath, nil)
	}
	if !s.meta.Validate(outPath, s.cfg.MinArtifactBytes, s.cfg.MaxArtifactBytes) {
		return nil, domain.NewMarkerError(domain.ErrorKindValidationFailure,
			fmt.Sprintf("artifact size %d outside [%d, %d] bytes", info.Size(), s.cfg.MinArtifactBytes, s.cfg.MaxArtifactBytes), nil)
	}

	url, err := s.upload(ctx, job, outPath)
	if err != nil {
		return nil, err
	}

	meta := s.meta.Extract(outPath)
	if meta.FeaturePoints == 0 {
		meta.FeaturePoints = result.FeaturePoints
	}
	artifact = &domain.MarkerArtifact{
		JobID:     job.ID,
		ContentID: job.ContentID,
		Path:      outPath,
		URL:       url,
		Metadata:  meta,
	}
	previous := s.currentArtifact(ctx, job.ContentID)
	if err := job.MarkReady(artifact, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.jobs.CompleteJob(ctx, job, artifact); err != nil {
		return nil, fmt.Errorf("persist ready job: %w", err)
	}
	s.pruneSuperseded(job, previous)

	s.logJob(job).Info().
		Str("artifact_url", url).
		Int64("size_bytes", meta.SizeBytes).
		Int("feature_points", meta.FeaturePoints).
		Msg("marker ready")
	s.publish(job)
	return artifact, nil
}

// interruptedFailure classifies a job whose last allowed attempt never
// reported back. The kind of the last recorded failure is kept.
func interruptedFailure(job *domain.MarkerJob) *domain.MarkerError {
	kind := job.ErrorKind
	if kind == "" {
		kind = domain.ErrorKindCompilationFailure
	}
	return domain.NewMarkerError(kind, fmt.Sprintf("attempt %d of %d was interrupted", job.Attempts, job.MaxAttempts), nil)
}

func jobOutputDir(job *domain.MarkerJob) string {
	return filepath.Join(job.OutputDir, job.ContentID, job.ID)
}

func (s *MarkerService) currentArtifact(ctx context.Context, contentID string) *domain.MarkerArtifact {
	content, err := s.contents.GetContent(ctx, contentID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Err(err).Str("content_id", contentID).Msg("load content before supersede")
		}
		return nil
	}
	return content.Artifact
}

// pruneSuperseded removes the compile directory of the artifact job just
// replaced. Only per-job directories are removed.
func (s *MarkerService) pruneSuperseded(job *domain.MarkerJob, previous *domain.MarkerArtifact) {
	if previous == nil || previous.JobID == "" || previous.JobID == job.ID || previous.Path == "" {
		return
	}
	dir := filepath.Dir(previous.Path)
	if filepath.Base(dir) != previous.JobID {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logJob(job).Warn().Err(err).Str("path", dir).Msg("remove superseded artifact")
	}
}

func (s *MarkerService) compile(ctx context.Context, job *domain.MarkerJob, outPath string) (result *port.CompileResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "marker.compile", attribute.String("content_id", job.ContentID))
	defer func() { tracing.EndSpan(span, err) }()

	result, err = s.compiler.Compile(ctx, port.CompileRequest{
		InputPath:   job.SourceImagePath,
		OutputPath:  outPath,
		MaxFeatures: job.MaxFeatures,
		Timeout:     s.cfg.CompileTimeout,
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, domain.ErrCompilationTimeout):
		return nil, domain.NewMarkerError(domain.ErrorKindCompilationTimeout, "", err)
	case errors.Is(err, domain.ErrCompilerUnavailable):
		return nil, domain.NewMarkerError(domain.ErrorKindCompilationFailure, "", err)
	default:
		return nil, domain.NewMarkerError(domain.ErrorKindInvalidInput, "compile request", err)
	}

	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
	if result.ExitCode != 0 {
		stderr := logger.Tail(result.Stderr, stderrTailBytes)
		s.logJob(job).Warn().Int("exit_code", result.ExitCode).Str("stderr", stderr).Msg("compiler exited with error")
		return nil, domain.NewMarkerError(domain.ErrorKindCompilationFailure,
			fmt.Sprintf("exit status %d: %s", result.ExitCode, stderr), nil)
	}
	return result, nil
}

func (s *MarkerService) upload(ctx context.Context, job *domain.MarkerJob, path string) (url string, err error) {
	ctx, span := tracing.StartSpan(ctx, "marker.upload", attribute.String("content_id", job.ContentID))
	defer func() { tracing.EndSpan(span, err) }()

	contentType := s.cfg.ContentType
	objectName := domain.ObjectName(job.Flow, job.ContentID, s.cfg.ArtifactExt)
	url, err = s.artifacts.Upload(ctx, path, s.cfg.BucketFor(contentType), objectName, contentType)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.NewMarkerError(domain.ErrorKindUploadFailure, objectName, err)
	}
	return url, nil
}

// settle records a failed attempt and reports whether the job may retry.
func (s *MarkerService) settle(ctx context.Context, job *domain.MarkerJob, failure *domain.MarkerError) (bool, error) {
	now := s.clock.Now()
	if job.CanRetry(failure.Kind) {
		job.RecordFailure(failure, now)
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			return false, fmt.Errorf("persist failed attempt: %w", err)
		}
		s.logJob(job).Warn().Str("error_kind", string(failure.Kind)).Str("error", failure.Detail()).Msg("marker attempt failed, will retry")
		s.publish(job)
		return true, nil
	}

	if err := job.MarkFailed(failure, now); err != nil {
		return false, err
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return false, fmt.Errorf("persist failed job: %w", err)
	}
	s.logJob(job).Error().Str("error_kind", string(failure.Kind)).Str("error", failure.Detail()).Msg("marker job failed")
	s.publish(job)
	return false, nil
}

func (s *MarkerService) logJob(job *domain.MarkerJob) *zerolog.Logger {
	l := s.log.With().
		Str("content_id", job.ContentID).
		Str("job_id", job.ID).
		Int("attempt", job.Attempts).
		Str("status", string(job.Status)).
		Logger()
	return &l
}

func (s *MarkerService) publish(job *domain.MarkerJob) {
	if s.events == nil {
		return
	}
	s.events.Publish(job.ContentID, MarkerEvent{
		Type:      "status",
		ContentID: job.ContentID,
		JobID:     job.ID,
		Status:    job.Status,
		Attempt:   job.Attempts,
		ErrorKind: job.ErrorKind,
		Message:   job.ErrorMessage,
		At:        job.UpdatedAt,
	})
}

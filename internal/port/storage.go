package port

import (
	"context"

	"github.com/bnema/arpipe/internal/domain"
)

type MarkerJobStore interface {
	// CreateJob inserts job unless another non-terminal job exists for the
	// same content, in which case it returns domain.ErrJobInProgress.
	CreateJob(ctx context.Context, job *domain.MarkerJob) error
	GetJob(ctx context.Context, id string) (*domain.MarkerJob, error)
	LatestJob(ctx context.Context, contentID string) (*domain.MarkerJob, error)
	ListJobs(ctx context.Context, contentID string, limit int) ([]*domain.MarkerJob, error)
	// UpdateJob persists status, attempts and last error. Terminal rows are
	// never rewritten.
	UpdateJob(ctx context.Context, job *domain.MarkerJob) error
	// CompleteJob marks job ready and supersedes the content's artifact in
	// one transaction.
	CompleteJob(ctx context.Context, job *domain.MarkerJob, artifact *domain.MarkerArtifact) error
}

type ContentStore interface {
	GetContent(ctx context.Context, id string) (*domain.Content, error)
	SaveContent(ctx context.Context, c *domain.Content) error
}

type RotationStore interface {
	ListVideos(ctx context.Context, contentID string) ([]domain.Video, error)
	SaveVideo(ctx context.Context, v *domain.Video) error
	DeleteVideo(ctx context.Context, contentID, videoID string) error
	SetDefaultVideo(ctx context.Context, contentID, videoID string) error
	ListRules(ctx context.Context, contentID string) ([]domain.RotationRule, error)
	SaveRule(ctx context.Context, r *domain.RotationRule) error
	DeleteRule(ctx context.Context, contentID, ruleID string) error
	// RotationVersion changes whenever any process edits the videos, rules
	// or timezone of contentID.
	RotationVersion(ctx context.Context, contentID string) (int64, error)
}

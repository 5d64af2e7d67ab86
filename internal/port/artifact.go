package port

import (
	"context"
	"time"

	"github.com/bnema/arpipe/internal/domain"
)

// ArtifactStore uploads a local file and returns its public retrieval URL.
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, bucket, objectName, contentType string) (string, error)
}

type MetadataExtractor interface {
	Extract(path string) domain.ArtifactMetadata
	Validate(path string, minBytes, maxBytes int64) bool
}

// ContentLocker grants the per-content lease that serializes marker jobs.
type ContentLocker interface {
	// TryLock returns domain.ErrJobInProgress when the lease is held elsewhere.
	TryLock(contentID string) (unlock func() error, err error)
}

type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

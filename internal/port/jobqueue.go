package port

import (
	"context"
	"time"

	"github.com/bnema/arpipe/internal/domain"
)

// TaskQueue is the durable queue feeding marker workers. Tasks become
// claimable once their run-at time has passed.
type TaskQueue interface {
	Enqueue(ctx context.Context, jobID string, runAt time.Time) (*domain.MarkerTask, error)
	// Claim returns nil, nil when no task is due.
	Claim(ctx context.Context, now time.Time) (*domain.MarkerTask, error)
	Complete(ctx context.Context, taskID int64) error
	Fail(ctx context.Context, taskID int64, errMsg string) error
	Reschedule(ctx context.Context, taskID int64, runAt time.Time, reason string) error
	ResetStalled(ctx context.Context) error
	RequeueOrphans(ctx context.Context, now time.Time) (int, error)
}

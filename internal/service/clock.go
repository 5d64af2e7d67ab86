package service

import (
	"context"
	"time"

	"github.com/bnema/arpipe/internal/port"
)

type realClock struct{}

// SystemClock returns the wall clock in UTC.
func SystemClock() port.Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package workflow

import (
	"context"
	"time"

	"github.com/songzhibin97/clinic-intake/types"
)

// Submitter is the external call a workflow awaits on submission, e.g. the
// booking commit. It must either commit the whole record or nothing.
type Submitter interface {
	Submit(ctx context.Context, record types.IntakeRecord) error
}

// SubmitterFunc is a function adapter for Submitter.
type SubmitterFunc func(ctx context.Context, record types.IntakeRecord) error

// Submit implements the Submitter interface.
func (f SubmitterFunc) Submit(ctx context.Context, record types.IntakeRecord) error {
	return f(ctx, record)
}

// WithLatency delays next by d. Cancelling ctx during the delay aborts the
// call before next runs. A nil next only waits.
func WithLatency(d time.Duration, next Submitter) Submitter {
	return SubmitterFunc(func(ctx context.Context, record types.IntakeRecord) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if next == nil {
			return nil
		}
		return next.Submit(ctx, record)
	})
}

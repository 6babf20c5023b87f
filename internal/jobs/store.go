package jobs

import (
	"context"
	"time"
)

// Store persists ingest jobs. Implementations must make every status change
// conditional on the current status.
type Store interface {
	// Create inserts a queued job. It returns a *DuplicateActiveJobError
	// carrying the in-flight job when one exists for the same key.
	Create(ctx context.Context, nj NewJob) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	// Claim moves queued -> processing. It returns the current job with
	// ErrAlreadyClaimed when the job is not queued.
	Claim(ctx context.Context, id string) (*Job, error)
	// ReportProgress raises progress on a processing job. It returns the
	// current job with ErrInvalidTransition when the job is not processing.
	ReportProgress(ctx context.Context, id string, progress int) (*Job, error)
	// Complete and Fail move an active job to a terminal status. applied is
	// false when the job already held the same terminal status. A job
	// holding the other terminal status yields ErrProtocolViolation.
	Complete(ctx context.Context, id string, res Result) (job *Job, applied bool, err error)
	Fail(ctx context.Context, id string, reason string) (job *Job, applied bool, err error)

	RecordDispatch(ctx context.Context, id string) error
	ListRedispatchable(ctx context.Context, maxAttempts int, olderThan time.Time, limit int) ([]*Job, error)
	FailUndispatched(ctx context.Context, maxAttempts int, olderThan time.Time, reason string) ([]*Job, error)
	FailStaleProcessing(ctx context.Context, olderThan time.Time, reason string) ([]*Job, error)
	// ListCompleted lists jobs completed at or after since, newest first. An
	// empty userID lists every user's jobs.
	ListCompleted(ctx context.Context, since time.Time, userID string, limit int) ([]*Job, error)
	// SetStreamStatus updates the supplementary transcode-provider status on
	// every job carrying cfUID, terminal or not.
	SetStreamStatus(ctx context.Context, cfUID, cfStatus string) (int64, error)
}

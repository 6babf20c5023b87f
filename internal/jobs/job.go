// Package jobs is the durable record of ingest jobs and their state machine:
//
//	queued -> processing -> {completed, failed}
//
// Every transition is a compare-and-swap on the current status. Terminal
// jobs never change status again; repeating the stored terminal outcome is a
// no-op and proposing the other one is a protocol violation.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"thirdcoast.systems/carrot/internal/urlnorm"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Active() bool {
	return s == StatusQueued || s == StatusProcessing
}

var (
	ErrNotFound           = errors.New("job not found")
	ErrDuplicateActiveJob = errors.New("an active job already exists for this url")
	ErrAlreadyClaimed     = errors.New("job already claimed")
	ErrProtocolViolation  = errors.New("conflicting terminal outcome")
	ErrInvalidTransition  = errors.New("invalid job status transition")
)

// DuplicateActiveJobError is returned by Store.Create when an in-flight job
// exists for the same (user, normalized url). It matches ErrDuplicateActiveJob.
type DuplicateActiveJobError struct {
	Existing *Job
}

func (e *DuplicateActiveJobError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateActiveJob, e.Existing.ID)
}

func (e *DuplicateActiveJobError) Is(target error) bool {
	return target == ErrDuplicateActiveJob
}

type Job struct {
	ID               string             `json:"id"`
	UserID           string             `json:"userId"`
	PostID           string             `json:"postId,omitempty"`
	SourceURL        string             `json:"sourceUrl"`
	NormalizedURL    string             `json:"normalizedUrl"`
	SourceType       urlnorm.SourceType `json:"sourceType"`
	Status           Status             `json:"status"`
	Progress         int                `json:"progress"`
	ResultMediaURL   string             `json:"resultMediaUrl,omitempty"`
	ResultVideoURL   string             `json:"resultVideoUrl,omitempty"`
	ThumbnailURL     string             `json:"thumbnailUrl,omitempty"`
	Title            string             `json:"title,omitempty"`
	Channel          string             `json:"channel,omitempty"`
	Error            string             `json:"error,omitempty"`
	StorageKey       string             `json:"-"`
	DurationSec      float64            `json:"durationSec,omitempty"`
	Width            int                `json:"width,omitempty"`
	Height           int                `json:"height,omitempty"`
	CfUID            string             `json:"cfUid,omitempty"`
	CfStatus         string             `json:"cfStatus,omitempty"`
	DispatchAttempts int                `json:"-"`
	LastDispatchedAt *time.Time         `json:"-"`
	CompletedAt      *time.Time         `json:"completedAt,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// MediaURL is the URL a completed job's media is served from, preferring the
// playable video rendition.
func (j *Job) MediaURL() string {
	if j.ResultVideoURL != "" {
		return j.ResultVideoURL
	}
	return j.ResultMediaURL
}

type NewJob struct {
	UserID        string
	PostID        string
	SourceURL     string
	NormalizedURL string
	SourceType    urlnorm.SourceType
	// StoragePrefix, when set, gives the job the blob key <prefix><id>.mp4
	// for the worker to upload to.
	StoragePrefix string
}

func (nj NewJob) storageKey(id string) string {
	if nj.StoragePrefix == "" {
		return ""
	}
	return nj.StoragePrefix + id + ".mp4"
}

// Result is what a worker reports for a completed job.
type Result struct {
	MediaURL     string
	VideoURL     string
	ThumbnailURL string
	Title        string
	Channel      string
	DurationSec  float64
	Width        int
	Height       int
	CfUID        string
	CfStatus     string
}

// HasMedia reports whether the result carries something to serve.
func (r Result) HasMedia() bool {
	return r.MediaURL != "" || r.VideoURL != ""
}

var errRetryTransition = errors.New("job changed concurrently")

// resolveTerminal decides the outcome of a terminal transition whose
// compare-and-swap did not apply, given the job's current state.
func resolveTerminal(current *Job, target Status) error {
	switch {
	case current.Status == target:
		return nil
	case current.Status.Terminal():
		return fmt.Errorf("%w: job %s is %s, refusing %s", ErrProtocolViolation, current.ID, current.Status, target)
	default:
		return errRetryTransition
	}
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

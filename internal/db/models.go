package db

import (
	"time"
)

type IngestJob struct {
	ID               string
	UserID           string
	PostID           *string
	SourceURL        string
	NormalizedURL    string
	SourceType       string
	Status           string
	Progress         int32
	ResultMediaURL   *string
	ResultVideoURL   *string
	ThumbnailURL     *string
	Title            *string
	Channel          *string
	Error            *string
	StorageKey       *string
	DurationSec      *float64
	Width            *int32
	Height           *int32
	CfUID            *string
	CfStatus         *string
	DispatchAttempts int32
	LastDispatchedAt *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type MediaAsset struct {
	ID          string
	UserID      string
	JobID       *string
	Type        string
	URL         string
	StoragePath *string
	ThumbURL    *string
	ThumbPath   *string
	Title       *string
	DurationSec *float64
	Width       *int32
	Height      *int32
	Source      string
	CfUID       *string
	CfStatus    *string
	Hidden      bool
	Labels      []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type VideoVariant struct {
	ID           string
	MediaAssetID string
	UserID       string
	StartSec     float64
	EndSec       float64
	Status       string
	OutputURL    *string
	OutputPath   *string
	Error        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Post struct {
	ID                     string
	UserID                 string
	AudioURL               *string
	VideoURL               *string
	ThumbnailURL           *string
	TranscriptionStatus    *string
	AudioTranscription     *string
	TranscriptionAttempt   int32
	TranscriptionStartedAt *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

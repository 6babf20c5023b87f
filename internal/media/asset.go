// Package media keeps the per-user media library built from completed ingest
// jobs and uploads, and the trimmed clips (variants) derived from its videos.
package media

import (
	"errors"
	"path"
	"strings"
	"time"
)

type Type string

const (
	TypeVideo Type = "video"
	TypeImage Type = "image"
	TypeGIF   Type = "gif"
	TypeAudio Type = "audio"
)

func (t Type) Valid() bool {
	switch t {
	case TypeVideo, TypeImage, TypeGIF, TypeAudio:
		return true
	}
	return false
}

type Source string

const (
	SourceUpload   Source = "upload"
	SourceExternal Source = "external"
)

var (
	ErrNotFound       = errors.New("media not found")
	ErrForbidden      = errors.New("media belongs to another user")
	ErrAlreadyExists  = errors.New("media asset already exists")
	ErrInvalidVariant = errors.New("invalid variant")
	// ErrVariantNotPending is returned when a variant transition expects a
	// pending variant and finds another status.
	ErrVariantNotPending = errors.New("variant is not pending")
	ErrVariantConflict   = errors.New("conflicting variant outcome")
	ErrInvalidUpload     = errors.New("invalid upload")
)

type Asset struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	JobID       string    `json:"jobId,omitempty"`
	Type        Type      `json:"type"`
	URL         string    `json:"url"`
	StoragePath string    `json:"storagePath,omitempty"`
	ThumbURL    string    `json:"thumbUrl,omitempty"`
	ThumbPath   string    `json:"thumbPath,omitempty"`
	Title       string    `json:"title,omitempty"`
	DurationSec float64   `json:"durationSec,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Source      Source    `json:"source"`
	CfUID       string    `json:"cfUid,omitempty"`
	CfStatus    string    `json:"cfStatus,omitempty"`
	Hidden      bool      `json:"hidden"`
	Labels      []string  `json:"labels"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type NewAsset struct {
	UserID      string
	JobID       string
	Type        Type
	URL         string
	StoragePath string
	ThumbURL    string
	ThumbPath   string
	Title       string
	DurationSec float64
	Width       int
	Height      int
	Source      Source
	CfUID       string
	CfStatus    string
	Labels      []string
}

// Patch lists the owner-editable fields. Nil fields are left unchanged.
type Patch struct {
	Title  *string   `json:"title"`
	Hidden *bool     `json:"hidden"`
	Labels *[]string `json:"labels"`
}

const (
	SortNewest   = "newest"
	SortOldest   = "oldest"
	SortAZ       = "az"
	SortDuration = "duration"

	DefaultListLimit = 60
	MaxListLimit     = 200
)

type Filter struct {
	Type          Type
	Query         string
	Label         string
	IncludeHidden bool
	Sort          string
	Limit         int
}

// normalized applies defaults and pulls a "#label" or "label:x" term out of
// the free-text query.
func (f Filter) normalized() Filter {
	if !f.Type.Valid() {
		f.Type = ""
	}
	switch f.Sort {
	case SortOldest, SortAZ, SortDuration:
	default:
		f.Sort = SortNewest
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}

	var text []string
	for _, term := range strings.Fields(f.Query) {
		lower := strings.ToLower(term)
		switch {
		case f.Label == "" && strings.HasPrefix(lower, "#") && len(lower) > 1:
			f.Label = lower[1:]
		case f.Label == "" && strings.HasPrefix(lower, "label:") && len(lower) > len("label:"):
			f.Label = lower[len("label:"):]
		default:
			text = append(text, term)
		}
	}
	f.Query = strings.Join(text, " ")
	f.Label = strings.ToLower(strings.TrimSpace(f.Label))
	return f
}

// NormalizeLabels trims, lower-cases and de-duplicates labels, keeping the
// first occurrence order.
func NormalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := map[string]bool{}
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "#")))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

var extTypes = map[string]Type{
	".mp3": TypeAudio, ".m4a": TypeAudio, ".wav": TypeAudio, ".ogg": TypeAudio,
	".opus": TypeAudio, ".flac": TypeAudio, ".aac": TypeAudio,
	".gif": TypeGIF,
	".jpg": TypeImage, ".jpeg": TypeImage, ".png": TypeImage, ".webp": TypeImage,
}

// TypeForURL guesses the asset type from the URL path's extension,
// defaulting to video.
func TypeForURL(rawURL string) Type {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if t, ok := extTypes[strings.ToLower(path.Ext(p))]; ok {
		return t
	}
	return TypeVideo
}

// TypeForContentType maps a MIME type to an asset type.
func TypeForContentType(contentType string) (Type, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case ct == "image/gif":
		return TypeGIF, true
	case strings.HasPrefix(ct, "image/"):
		return TypeImage, true
	case strings.HasPrefix(ct, "video/"):
		return TypeVideo, true
	case strings.HasPrefix(ct, "audio/"):
		return TypeAudio, true
	}
	return "", false
}

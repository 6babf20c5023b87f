package media

import "time"

type VariantStatus string

const (
	VariantPending   VariantStatus = "pending"
	VariantReady     VariantStatus = "ready"
	VariantFailed    VariantStatus = "failed"
	VariantCancelled VariantStatus = "cancelled"
)

type Variant struct {
	ID           string        `json:"id"`
	MediaAssetID string        `json:"mediaAssetId"`
	UserID       string        `json:"userId"`
	StartSec     float64       `json:"startSec"`
	EndSec       float64       `json:"endSec"`
	Status       VariantStatus `json:"status"`
	OutputURL    string        `json:"outputUrl,omitempty"`
	OutputPath   string        `json:"-"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

type NewVariant struct {
	MediaAssetID string
	UserID       string
	StartSec     float64
	EndSec       float64
	// OutputPrefix, when set, gives the variant the blob key
	// <prefix><id>.mp4.
	OutputPrefix string
}

func (nv NewVariant) outputPath(id string) string {
	if nv.OutputPrefix == "" {
		return ""
	}
	return nv.OutputPrefix + id + ".mp4"
}

// VariantResult is what the worker reports for a trim.
type VariantResult struct {
	VariantID string        `json:"variantId"`
	Status    VariantStatus `json:"status"`
	OutputURL string        `json:"outputUrl"`
	Error     string        `json:"error"`
}

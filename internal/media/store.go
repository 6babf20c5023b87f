package media

import "context"

type Store interface {
	// InsertAsset returns ErrAlreadyExists when the job already has an asset
	// or the user already has one with the same URL.
	InsertAsset(ctx context.Context, na NewAsset) (*Asset, error)
	GetAsset(ctx context.Context, id string) (*Asset, error)
	GetAssetByJob(ctx context.Context, jobID string) (*Asset, error)
	GetAssetByUserURL(ctx context.Context, userID, url string) (*Asset, error)
	ListAssets(ctx context.Context, userID string, f Filter) ([]*Asset, error)
	// UpdateAsset applies p to an asset owned by userID, else ErrNotFound.
	UpdateAsset(ctx context.Context, id, userID string, p Patch) (*Asset, error)
	SetStreamStatus(ctx context.Context, cfUID, cfStatus string) (int64, error)

	InsertVariant(ctx context.Context, nv NewVariant) (*Variant, error)
	GetVariant(ctx context.Context, id string) (*Variant, error)
	// ListVariants lists the asset's variants, newest first, without
	// cancelled ones.
	ListVariants(ctx context.Context, assetID string) ([]*Variant, error)
	// FinishVariant and CancelVariant return ErrVariantNotPending unless the
	// variant is pending.
	FinishVariant(ctx context.Context, id string, status VariantStatus, outputURL, errMsg string) (*Variant, error)
	CancelVariant(ctx context.Context, id string) (*Variant, error)
	// DeleteVariant removes the variant if it still has status expected.
	DeleteVariant(ctx context.Context, id string, expected VariantStatus) (bool, error)
}

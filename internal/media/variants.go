package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"thirdcoast.systems/carrot/internal/dispatch"
)

// CreateVariant records a trim of one of the caller's videos and hands it to
// the worker. A dispatch failure leaves the variant failed rather than
// pending forever.
func (m *Manager) CreateVariant(ctx context.Context, userID, assetID string, startSec, endSec float64) (*Variant, error) {
	parent, err := m.GetMedia(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}
	if parent.Type != TypeVideo {
		return nil, fmt.Errorf("%w: parent is %s, not a video", ErrInvalidVariant, parent.Type)
	}
	if err := validRange(startSec, endSec, parent.DurationSec); err != nil {
		return nil, err
	}

	nv := NewVariant{
		MediaAssetID: parent.ID,
		UserID:       parent.UserID,
		StartSec:     startSec,
		EndSec:       endSec,
	}
	if m.blobs != nil {
		nv.OutputPrefix = m.cfg.VariantPrefix + parent.ID + "/"
	}
	v, err := m.store.InsertVariant(ctx, nv)
	if err != nil {
		return nil, err
	}

	if err := m.dispatchTrim(ctx, parent, v); err != nil {
		slog.Warn("failed to dispatch trim", "variant_id", v.ID, "error", err)
		failed, ferr := m.store.FinishVariant(ctx, v.ID, VariantFailed, "", "could not reach the media worker")
		if ferr != nil && !errors.Is(ferr, ErrVariantNotPending) {
			return nil, ferr
		}
		return failed, nil
	}
	return v, nil
}

func (m *Manager) dispatchTrim(ctx context.Context, parent *Asset, v *Variant) error {
	if m.dispatcher == nil {
		return errors.New("no worker dispatcher configured")
	}
	msg := &dispatch.TrimMessage{
		VariantID:   v.ID,
		SourceURL:   parent.URL,
		StartSec:    v.StartSec,
		EndSec:      v.EndSec,
		CallbackURL: m.cfg.VariantCallbackURL,
	}
	if m.blobs != nil && parent.StoragePath != "" {
		src, err := m.blobs.SignedReadURL(ctx, parent.StoragePath)
		if err != nil {
			return fmt.Errorf("sign source: %w", err)
		}
		msg.SourceURL = src
	}
	if m.blobs != nil && v.OutputPath != "" {
		target, err := m.blobs.WriteTarget(ctx, v.OutputPath, "video/mp4")
		if err != nil {
			return fmt.Errorf("sign output: %w", err)
		}
		msg.Upload = target
	}
	return m.dispatcher.Dispatch(ctx, msg)
}

// GetVariant returns a variant of one of the caller's videos.
func (m *Manager) GetVariant(ctx context.Context, userID, id string) (*Variant, error) {
	v, err := m.store.GetVariant(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := m.GetMedia(ctx, userID, v.MediaAssetID); err != nil {
		return nil, err
	}
	return v, nil
}

func (m *Manager) ListVariants(ctx context.Context, userID, assetID string) ([]*Variant, error) {
	if _, err := m.GetMedia(ctx, userID, assetID); err != nil {
		return nil, err
	}
	vs, err := m.store.ListVariants(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if vs == nil {
		vs = []*Variant{}
	}
	return vs, nil
}

// DeleteVariant removes a variant of one of the caller's videos. A pending
// variant is only marked cancelled; its output is cleaned up when the worker
// reports back. It returns the status the variant was removed from, or
// VariantCancelled.
func (m *Manager) DeleteVariant(ctx context.Context, userID, id string) (VariantStatus, error) {
	v, err := m.GetVariant(ctx, userID, id)
	if err != nil {
		return "", err
	}

	for range 3 {
		switch v.Status {
		case VariantCancelled:
			return VariantCancelled, nil
		case VariantPending:
			cancelled, err := m.store.CancelVariant(ctx, id)
			if err == nil {
				slog.Info("variant cancelled", "variant_id", id, "user_id", userID)
				return VariantCancelled, nil
			}
			if !errors.Is(err, ErrVariantNotPending) {
				return "", err
			}
			// Finished meanwhile; remove it as a finished variant.
			v = cancelled
			continue
		}

		m.deleteOutput(ctx, v)
		deleted, err := m.store.DeleteVariant(ctx, id, v.Status)
		if err != nil {
			return "", err
		}
		if deleted {
			slog.Info("variant deleted", "variant_id", id, "user_id", userID, "status", v.Status)
			return v.Status, nil
		}
		if v, err = m.store.GetVariant(ctx, id); errors.Is(err, ErrNotFound) {
			return VariantCancelled, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("variant %s kept changing while being deleted", id)
}

// FinishVariant applies the worker's trim result. Repeating the stored
// outcome is a no-op; a result for a cancelled variant removes its output
// and row.
func (m *Manager) FinishVariant(ctx context.Context, res VariantResult) (*Variant, error) {
	if res.Status != VariantReady && res.Status != VariantFailed {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidVariant, res.Status)
	}
	if res.Status == VariantReady && res.OutputURL == "" {
		res.Status = VariantFailed
		res.Error = "worker reported ready without an output url"
	}

	v, err := m.store.FinishVariant(ctx, res.VariantID, res.Status, res.OutputURL, res.Error)
	if err == nil {
		slog.Info("variant finished", "variant_id", v.ID, "status", v.Status)
		return v, nil
	}
	if !errors.Is(err, ErrVariantNotPending) {
		return nil, err
	}

	switch v.Status {
	case res.Status:
		return v, nil
	case VariantCancelled:
		m.deleteOutput(ctx, v)
		if _, err := m.store.DeleteVariant(ctx, v.ID, VariantCancelled); err != nil {
			return nil, err
		}
		slog.Info("cancelled variant cleaned up", "variant_id", v.ID)
		return v, nil
	default:
		return v, fmt.Errorf("%w: variant %s is %s, refusing %s", ErrVariantConflict, v.ID, v.Status, res.Status)
	}
}

// deleteOutput removes a variant's blob. Failures are logged and otherwise
// ignored so a stuck blob never blocks removing the row.
func (m *Manager) deleteOutput(ctx context.Context, v *Variant) {
	if m.blobs == nil || v.OutputPath == "" {
		return
	}
	if err := m.blobs.Delete(ctx, v.OutputPath); err != nil {
		slog.Warn("failed to delete variant output", "variant_id", v.ID, "key", v.OutputPath, "error", err)
	}
}

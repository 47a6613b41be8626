// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/scheduling"
)

// Library errors.
var (
	ErrIllegalTransition = errors.New("illegal asset state transition")
	ErrNotReadyable      = errors.New("asset cannot become ready")
	ErrMarkerBounds      = errors.New("marker outside asset duration")
	ErrAssetNotFound     = errors.New("asset not found")
)

// AssetStore is the persistence surface the library drives.
type AssetStore interface {
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	SaveAsset(ctx context.Context, a *models.Asset) error
	ListMarkers(ctx context.Context, assetID uuid.UUID) ([]models.Marker, error)
	AddMarker(ctx context.Context, m *models.Marker) error
	DeleteMarkersByKind(ctx context.Context, assetID uuid.UUID, kind models.MarkerKind) error

	// EpisodesForRef resolves a content reference to its ordered episode
	// assets (series members, single asset, rule result, package members).
	EpisodesForRef(ctx context.Context, ref models.ContentRef) ([]models.Asset, error)
}

// Library wraps the asset store with the lifecycle rules. Planning-only:
// the channel runtime never constructs one.
type Library struct {
	store AssetStore
}

// NewLibrary creates a library over the given store.
func NewLibrary(store AssetStore) *Library {
	return &Library{store: store}
}

// Transition moves an asset to a new lifecycle state, enforcing the legal
// set {new<->enriching, enriching->ready, any->retired, self}.
func (l *Library) Transition(ctx context.Context, id uuid.UUID, to models.AssetState) (*models.Asset, error) {
	a, err := l.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.LegalAssetTransition(a.State, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.State, to)
	}
	if to == models.AssetReady && a.DurationMS <= 0 {
		return nil, fmt.Errorf("%w: duration_ms=%d", ErrNotReadyable, a.DurationMS)
	}
	a.State = to
	if err := l.store.SaveAsset(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Approve sets approved_for_broadcast. Approval is operator-only; the
// enrichment pipeline never calls this. Approving a non-ready asset fails
// because approved implies ready.
func (l *Library) Approve(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	a, err := l.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.State != models.AssetReady {
		return nil, fmt.Errorf("approve asset %s: state is %s, want ready", id, a.State)
	}
	a.ApprovedForBroadcast = true
	if err := l.store.SaveAsset(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Reprobe resets an asset for re-enrichment: state back to new, all
// probe-derived fields and approval cleared, CHAPTER markers deleted.
// Other marker kinds are preserved.
func (l *Library) Reprobe(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	a, err := l.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	a.State = models.AssetNew
	a.DurationMS = 0
	a.VideoCodec = ""
	a.AudioCodec = ""
	a.Container = ""
	a.ApprovedForBroadcast = false
	if err := l.store.SaveAsset(ctx, a); err != nil {
		return nil, err
	}
	if err := l.store.DeleteMarkersByKind(ctx, id, models.MarkerChapter); err != nil {
		return nil, err
	}
	logging.Info().Str("asset", id.String()).Msg("asset reset for re-enrichment")
	return a, nil
}

// AddMarker validates bounds (0 <= start <= end <= duration) and persists.
func (l *Library) AddMarker(ctx context.Context, m *models.Marker) error {
	a, err := l.store.GetAsset(ctx, m.AssetUUID)
	if err != nil {
		return err
	}
	if m.StartMS < 0 || m.EndMS < m.StartMS || m.EndMS > a.DurationMS {
		return fmt.Errorf("%w: [%d, %d] on duration %d", ErrMarkerBounds, m.StartMS, m.EndMS, a.DurationMS)
	}
	return l.store.AddMarker(ctx, m)
}

// ChapterMarkers returns the asset's CHAPTER markers, used by the Tier-1
// compiler to place break boundaries.
func (l *Library) ChapterMarkers(ctx context.Context, assetID uuid.UUID) ([]models.Marker, error) {
	all, err := l.store.ListMarkers(ctx, assetID)
	if err != nil {
		return nil, err
	}
	var chapters []models.Marker
	for _, m := range all {
		if m.Kind == models.MarkerChapter {
			chapters = append(chapters, m)
		}
	}
	return chapters, nil
}

// Episodes implements scheduling.ProgramCatalog: only schedulable assets
// (ready, approved, not deleted) are offered to resolution.
func (l *Library) Episodes(ctx context.Context, ref models.ContentRef) ([]scheduling.Episode, error) {
	assets, err := l.store.EpisodesForRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	var out []scheduling.Episode
	for i := range assets {
		a := &assets[i]
		if !a.Schedulable() {
			continue
		}
		out = append(out, scheduling.Episode{
			AssetUUID:  a.UUID.String(),
			URI:        a.URI,
			Title:      a.Title,
			DurationMS: a.DurationMS,
		})
	}
	return out, nil
}

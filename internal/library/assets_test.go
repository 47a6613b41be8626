// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package library

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/models"
)

type memoryAssetStore struct {
	assets   map[uuid.UUID]*models.Asset
	markers  map[uuid.UUID][]models.Marker
	episodes map[string][]models.Asset
}

func newMemoryAssetStore() *memoryAssetStore {
	return &memoryAssetStore{
		assets:   make(map[uuid.UUID]*models.Asset),
		markers:  make(map[uuid.UUID][]models.Marker),
		episodes: make(map[string][]models.Asset),
	}
}

func (s *memoryAssetStore) GetAsset(_ context.Context, id uuid.UUID) (*models.Asset, error) {
	a, ok := s.assets[id]
	if !ok {
		return nil, ErrAssetNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memoryAssetStore) SaveAsset(_ context.Context, a *models.Asset) error {
	cp := *a
	s.assets[a.UUID] = &cp
	return nil
}

func (s *memoryAssetStore) ListMarkers(_ context.Context, assetID uuid.UUID) ([]models.Marker, error) {
	return s.markers[assetID], nil
}

func (s *memoryAssetStore) AddMarker(_ context.Context, m *models.Marker) error {
	s.markers[m.AssetUUID] = append(s.markers[m.AssetUUID], *m)
	return nil
}

func (s *memoryAssetStore) DeleteMarkersByKind(_ context.Context, assetID uuid.UUID, kind models.MarkerKind) error {
	var kept []models.Marker
	for _, m := range s.markers[assetID] {
		if m.Kind != kind {
			kept = append(kept, m)
		}
	}
	s.markers[assetID] = kept
	return nil
}

func (s *memoryAssetStore) EpisodesForRef(_ context.Context, ref models.ContentRef) ([]models.Asset, error) {
	return s.episodes[ref.Ref], nil
}

func storedAsset(store *memoryAssetStore, state models.AssetState, durationMS int64) *models.Asset {
	a := &models.Asset{
		UUID:       uuid.New(),
		URI:        "file:///media/a.mkv",
		Title:      "A",
		State:      state,
		DurationMS: durationMS,
	}
	store.assets[a.UUID] = a
	return a
}

func TestLegalAssetTransition(t *testing.T) {
	tests := []struct {
		from, to models.AssetState
		want     bool
	}{
		{models.AssetNew, models.AssetEnriching, true},
		{models.AssetEnriching, models.AssetNew, true},
		{models.AssetEnriching, models.AssetReady, true},
		{models.AssetNew, models.AssetReady, false},
		{models.AssetReady, models.AssetEnriching, false},
		{models.AssetReady, models.AssetRetired, true},
		{models.AssetNew, models.AssetRetired, true},
		{models.AssetRetired, models.AssetRetired, true},
		{models.AssetRetired, models.AssetNew, false},
		{models.AssetReady, models.AssetReady, true},
	}
	for _, tt := range tests {
		if got := models.LegalAssetTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("LegalAssetTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionReadyRequiresDuration(t *testing.T) {
	store := newMemoryAssetStore()
	lib := NewLibrary(store)
	ctx := context.Background()

	unprobed := storedAsset(store, models.AssetEnriching, 0)
	if _, err := lib.Transition(ctx, unprobed.UUID, models.AssetReady); !errors.Is(err, ErrNotReadyable) {
		t.Fatalf("got %v, want ErrNotReadyable", err)
	}

	probed := storedAsset(store, models.AssetEnriching, 22*60*1000)
	got, err := lib.Transition(ctx, probed.UUID, models.AssetReady)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.State != models.AssetReady {
		t.Errorf("state = %s, want ready", got.State)
	}
}

func TestTransitionIllegal(t *testing.T) {
	store := newMemoryAssetStore()
	lib := NewLibrary(store)

	a := storedAsset(store, models.AssetNew, 1000)
	if _, err := lib.Transition(context.Background(), a.UUID, models.AssetReady); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("got %v, want ErrIllegalTransition", err)
	}
}

func TestApproveRequiresReady(t *testing.T) {
	store := newMemoryAssetStore()
	lib := NewLibrary(store)
	ctx := context.Background()

	pending := storedAsset(store, models.AssetEnriching, 1000)
	if _, err := lib.Approve(ctx, pending.UUID); err == nil {
		t.Fatal("approving a non-ready asset must fail")
	}

	ready := storedAsset(store, models.AssetReady, 1000)
	got, err := lib.Approve(ctx, ready.UUID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !got.ApprovedForBroadcast {
		t.Error("asset not approved")
	}
}

func TestReprobeResetsAndKeepsNonChapterMarkers(t *testing.T) {
	store := newMemoryAssetStore()
	lib := NewLibrary(store)
	ctx := context.Background()

	a := storedAsset(store, models.AssetReady, 30*60*1000)
	a.ApprovedForBroadcast = true
	a.VideoCodec = "h264"
	store.markers[a.UUID] = []models.Marker{
		{AssetUUID: a.UUID, Kind: models.MarkerChapter, StartMS: 0, EndMS: 0},
		{AssetUUID: a.UUID, Kind: models.MarkerSkip, StartMS: 100, EndMS: 200},
	}

	got, err := lib.Reprobe(ctx, a.UUID)
	if err != nil {
		t.Fatalf("reprobe: %v", err)
	}
	if got.State != models.AssetNew || got.DurationMS != 0 || got.VideoCodec != "" || got.ApprovedForBroadcast {
		t.Errorf("asset not fully reset: %+v", got)
	}

	markers, _ := store.ListMarkers(ctx, a.UUID)
	if len(markers) != 1 || markers[0].Kind != models.MarkerSkip {
		t.Errorf("markers after reprobe: %+v, want only the SKIP marker", markers)
	}
}

func TestAddMarkerBounds(t *testing.T) {
	store := newMemoryAssetStore()
	lib := NewLibrary(store)
	ctx := context.Background()
	a := storedAsset(store, models.AssetReady, 10000)

	tests := []struct {
		name     string
		startMS  int64
		endMS    int64
		wantErr  bool
	}{
		{"inside bounds", 1000, 2000, false},
		{"zero-width at end", 10000, 10000, false},
		{"negative start", -1, 100, true},
		{"end before start", 500, 100, true},
		{"past duration", 9000, 10001, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &models.Marker{AssetUUID: a.UUID, Kind: models.MarkerChapter, StartMS: tt.startMS, EndMS: tt.endMS}
			err := lib.AddMarker(ctx, m)
			if tt.wantErr && !errors.Is(err, ErrMarkerBounds) {
				t.Errorf("got %v, want ErrMarkerBounds", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEpisodesFiltersUnschedulable(t *testing.T) {
	store := newMemoryAssetStore()
	lib := NewLibrary(store)

	schedulable := models.Asset{
		UUID: uuid.New(), URI: "file:///a.mkv", Title: "A",
		State: models.AssetReady, ApprovedForBroadcast: true, DurationMS: 1000,
	}
	unapproved := schedulable
	unapproved.UUID = uuid.New()
	unapproved.ApprovedForBroadcast = false
	deleted := schedulable
	deleted.UUID = uuid.New()
	deleted.IsDeleted = true
	notReady := schedulable
	notReady.UUID = uuid.New()
	notReady.State = models.AssetEnriching

	store.episodes["show-1"] = []models.Asset{schedulable, unapproved, deleted, notReady}

	eps, err := lib.Episodes(context.Background(), models.ContentRef{Type: models.ContentSeries, Ref: "show-1"})
	if err != nil {
		t.Fatalf("episodes: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("episodes = %d, want 1 (only the triple-gated asset)", len(eps))
	}
	if eps[0].AssetUUID != schedulable.UUID.String() {
		t.Errorf("wrong episode survived the gate: %s", eps[0].AssetUUID)
	}
}

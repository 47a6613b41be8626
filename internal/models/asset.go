// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package models

import (
	"time"

	"github.com/google/uuid"
)

// AssetState is the asset lifecycle state.
type AssetState string

const (
	AssetNew       AssetState = "new"
	AssetEnriching AssetState = "enriching"
	AssetReady     AssetState = "ready"
	AssetRetired   AssetState = "retired"
)

// LegalAssetTransition reports whether from -> to is a legal lifecycle
// transition. new and enriching are bidirectional, retired is terminal from
// anywhere, self-transitions are no-ops.
func LegalAssetTransition(from, to AssetState) bool {
	if from == to {
		return true
	}
	if to == AssetRetired {
		return from != AssetRetired
	}
	switch {
	case from == AssetNew && to == AssetEnriching:
		return true
	case from == AssetEnriching && to == AssetNew:
		return true
	case from == AssetEnriching && to == AssetReady:
		return true
	}
	return false
}

// Asset is a content-addressed library entity. CanonicalKey is the
// normalized path (see library.CanonicalKey) and Hash its SHA-256 hex.
//
// DurationMS is contractual truth: measured once by the technical probe at
// ingest and consumed unchanged downstream.
type Asset struct {
	UUID         uuid.UUID  `json:"uuid"`
	CollectionID int64      `json:"collection_id"`
	CanonicalKey string     `json:"canonical_key"`
	Hash         string     `json:"hash"`
	URI          string     `json:"uri"`
	Title        string     `json:"title"`
	State        AssetState `json:"state"`

	DurationMS int64  `json:"duration_ms"`
	VideoCodec string `json:"video_codec,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`
	Container  string `json:"container,omitempty"`

	ApprovedForBroadcast bool `json:"approved_for_broadcast"`

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// CooldownSeconds is the per-asset traffic cooldown window; 0 uses the
	// configured default.
	CooldownSeconds int64 `json:"cooldown_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Schedulable is the triple gate: only a ready, operator-approved,
// non-deleted asset may be scheduled.
func (a *Asset) Schedulable() bool {
	return a.State == AssetReady && a.ApprovedForBroadcast && !a.IsDeleted
}

// MarkerKind classifies an asset marker.
type MarkerKind string

const (
	MarkerChapter MarkerKind = "CHAPTER"
	MarkerSkip    MarkerKind = "SKIP"
	MarkerCredit  MarkerKind = "CREDIT"
)

// Marker is a timed annotation on an asset. Bounds invariant:
// 0 <= StartMS <= EndMS <= asset.DurationMS.
type Marker struct {
	ID        int64      `json:"id"`
	AssetUUID uuid.UUID  `json:"asset_uuid"`
	Kind      MarkerKind `json:"kind"`
	StartMS   int64      `json:"start_ms"`
	EndMS     int64      `json:"end_ms"`
	Label     string     `json:"label,omitempty"`
}

// Source is an external content provider (Plex, filesystem, ...). The
// Ingestible flag is advisory: the source's importer validates ingestibility
// dynamically, the DB flag alone is not authoritative.
type Source struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type" validate:"required"`
	Name       string            `json:"name" validate:"required"`
	Config     map[string]string `json:"config,omitempty"`
	Enrichers  []string          `json:"enrichers,omitempty"`
	Ingestible bool              `json:"ingestible"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Collection groups assets under a source. Full ingest requires both flags;
// targeted ingest requires only importer-validated ingestibility.
type Collection struct {
	ID          int64     `json:"id"`
	SourceID    int64     `json:"source_id"`
	Name        string    `json:"name"`
	SyncEnabled bool      `json:"sync_enabled"`
	Ingestible  bool      `json:"ingestible"`
	CreatedAt   time.Time `json:"created_at"`
}

// EnricherScope restricts where an enricher runs.
type EnricherScope string

const (
	EnricherIngest  EnricherScope = "ingest"
	EnricherPlayout EnricherScope = "playout"
)

// Enricher is a configured metadata/processing step with identity
// "enricher-{type}-{hash}". Type-specific config constraints are enforced
// by library.ValidateEnricherConfig.
type Enricher struct {
	ID        string            `json:"id"`
	Type      string            `json:"type" validate:"required"`
	Scope     EnricherScope     `json:"scope" validate:"required,oneof=ingest playout"`
	Name      string            `json:"name" validate:"required"`
	Config    map[string]string `json:"config,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

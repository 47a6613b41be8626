// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/models"
)

// Source lifecycle errors.
var (
	ErrSourceNotFound     = errors.New("source not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrSyncDisabled       = errors.New("sync disabled for collection; full ingest requires sync_enabled")
	ErrNotIngestible      = errors.New("collection is not ingestible")
	ErrProductionSafety   = errors.New("production safety: source has assets with broadcast history")
)

// Importer is the per-source-type plugin surface. Ingestibility is
// dynamically validated by the importer; the DB flag alone is not
// authoritative.
type Importer interface {
	// Validate checks that the source is currently reachable/ingestible.
	Validate(ctx context.Context, src *models.Source) error
}

// SourceStore is the persistence surface for sources and collections.
// DeleteSource must cascade to path mappings in a single transaction.
type SourceStore interface {
	GetSource(ctx context.Context, id int64) (*models.Source, error)
	ListSources(ctx context.Context, sourceType string) ([]models.Source, error)
	InsertSource(ctx context.Context, src *models.Source) error
	DeleteSource(ctx context.Context, id int64) error
	GetCollection(ctx context.Context, id int64) (*models.Collection, error)
	CollectionsForSource(ctx context.Context, sourceID int64) ([]models.Collection, error)
	AssetsForCollection(ctx context.Context, collectionID int64) ([]models.Asset, error)

	// SourceHasBroadcastHistory reports whether any child asset of the
	// source has ever appeared in a playlog event or as-run log.
	SourceHasBroadcastHistory(ctx context.Context, sourceID int64) (bool, error)
}

// Sources manages the source/collection lifecycle.
type Sources struct {
	store     SourceStore
	importers map[string]Importer
}

// NewSources creates the lifecycle manager. importers maps source type to
// its importer plugin; a missing importer makes the source non-ingestible.
func NewSources(store SourceStore, importers map[string]Importer) *Sources {
	if importers == nil {
		importers = make(map[string]Importer)
	}
	return &Sources{store: store, importers: importers}
}

// DeleteResult reports the outcome of a per-source delete.
type DeleteResult struct {
	SourceID int64  `json:"source_id"`
	Skipped  bool   `json:"skipped"`
	Reason   string `json:"reason,omitempty"`
}

// Delete removes a source and cascades to its path mappings. In production,
// deletion is refused while any child asset has broadcast history, even with
// force set.
func (s *Sources) Delete(ctx context.Context, id int64, force bool) (*DeleteResult, error) {
	if _, err := s.store.GetSource(ctx, id); err != nil {
		return nil, err
	}

	if config.IsProduction() {
		protected, err := s.store.SourceHasBroadcastHistory(ctx, id)
		if err != nil {
			return nil, err
		}
		if protected {
			logging.Warn().Int64("source_id", id).Bool("force", force).
				Msg("source delete refused: broadcast history present")
			return &DeleteResult{SourceID: id, Skipped: true, Reason: "production safety"}, ErrProductionSafety
		}
	}

	if !force {
		// Non-forced deletes still require no broadcast history anywhere.
		protected, err := s.store.SourceHasBroadcastHistory(ctx, id)
		if err != nil {
			return nil, err
		}
		if protected {
			return &DeleteResult{SourceID: id, Skipped: true, Reason: "assets have broadcast history; use --force outside production"}, ErrProductionSafety
		}
	}

	if err := s.store.DeleteSource(ctx, id); err != nil {
		return nil, err
	}
	return &DeleteResult{SourceID: id}, nil
}

// CheckFullIngest validates the gates for a full collection ingest:
// sync_enabled and importer-validated ingestibility.
func (s *Sources) CheckFullIngest(ctx context.Context, collectionID int64) error {
	col, err := s.store.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if !col.SyncEnabled {
		return fmt.Errorf("%w (enable with --sync-enable)", ErrSyncDisabled)
	}
	return s.checkIngestible(ctx, col)
}

// CheckTargetedIngest validates the gate for a targeted ingest: importer-
// validated ingestibility only.
func (s *Sources) CheckTargetedIngest(ctx context.Context, collectionID int64) error {
	col, err := s.store.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	return s.checkIngestible(ctx, col)
}

func (s *Sources) checkIngestible(ctx context.Context, col *models.Collection) error {
	if !col.Ingestible {
		return ErrNotIngestible
	}
	src, err := s.store.GetSource(ctx, col.SourceID)
	if err != nil {
		return err
	}
	imp, ok := s.importers[src.Type]
	if !ok {
		return fmt.Errorf("%w: no importer for source type %q", ErrNotIngestible, src.Type)
	}
	if err := imp.Validate(ctx, src); err != nil {
		return fmt.Errorf("%w: importer validation failed: %v", ErrNotIngestible, err)
	}
	return nil
}

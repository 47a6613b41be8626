// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/traffic"
)

const assetColumns = `uuid, collection_id, canonical_key, hash, uri, title, state,
	duration_ms, video_codec, audio_codec, container,
	approved_for_broadcast, is_deleted, deleted_at, cooldown_seconds, created_at`

// GetAsset looks an asset up by uuid.
func (db *DB) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE uuid = ?`, id.String())
	a, err := scanAsset(row)
	observe("select", "assets", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	return a, err
}

// SaveAsset upserts an asset by uuid.
func (db *DB) SaveAsset(ctx context.Context, a *models.Asset) error {
	start := time.Now()
	var deletedAt any
	if a.DeletedAt != nil {
		deletedAt = a.DeletedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO assets (`+assetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET
			collection_id=excluded.collection_id,
			canonical_key=excluded.canonical_key,
			hash=excluded.hash,
			uri=excluded.uri,
			title=excluded.title,
			state=excluded.state,
			duration_ms=excluded.duration_ms,
			video_codec=excluded.video_codec,
			audio_codec=excluded.audio_codec,
			container=excluded.container,
			approved_for_broadcast=excluded.approved_for_broadcast,
			is_deleted=excluded.is_deleted,
			deleted_at=excluded.deleted_at,
			cooldown_seconds=excluded.cooldown_seconds`,
		a.UUID.String(), a.CollectionID, a.CanonicalKey, a.Hash, a.URI, a.Title, string(a.State),
		a.DurationMS, a.VideoCodec, a.AudioCodec, a.Container,
		a.ApprovedForBroadcast, a.IsDeleted, deletedAt, a.CooldownSeconds,
		a.CreatedAt.UTC().Format(time.RFC3339Nano))
	observe("upsert", "assets", start, err)
	if err != nil {
		return fmt.Errorf("save asset %s: %w", a.UUID, err)
	}
	return nil
}

// ListMarkers returns all markers for an asset ordered by start.
func (db *DB) ListMarkers(ctx context.Context, assetID uuid.UUID) ([]models.Marker, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, asset_uuid, kind, start_ms, end_ms, label
		 FROM markers WHERE asset_uuid = ? ORDER BY start_ms`, assetID.String())
	observe("select", "markers", start, err)
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	defer rows.Close()

	var out []models.Marker
	for rows.Next() {
		var (
			m  models.Marker
			id string
		)
		if err := rows.Scan(&m.ID, &id, &m.Kind, &m.StartMS, &m.EndMS, &m.Label); err != nil {
			return nil, err
		}
		m.AssetUUID, err = uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMarker stores a marker and assigns its id.
func (db *DB) AddMarker(ctx context.Context, m *models.Marker) error {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO markers (asset_uuid, kind, start_ms, end_ms, label) VALUES (?, ?, ?, ?, ?)`,
		m.AssetUUID.String(), string(m.Kind), m.StartMS, m.EndMS, m.Label)
	observe("insert", "markers", start, err)
	if err != nil {
		return fmt.Errorf("add marker: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// DeleteMarkersByKind removes all markers of one kind for an asset.
func (db *DB) DeleteMarkersByKind(ctx context.Context, assetID uuid.UUID, kind models.MarkerKind) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM markers WHERE asset_uuid = ? AND kind = ?`, assetID.String(), string(kind))
	observe("delete", "markers", start, err)
	return err
}

// EpisodesForRef resolves a content reference to its ordered member assets.
// Series, random, and virtual_package references name a collection (by id);
// asset references name a single asset uuid; rule references are a title
// pattern.
func (db *DB) EpisodesForRef(ctx context.Context, ref models.ContentRef) ([]models.Asset, error) {
	switch ref.Type {
	case models.ContentAsset:
		id, err := uuid.Parse(ref.Ref)
		if err != nil {
			return nil, fmt.Errorf("asset ref %q: %w", ref.Ref, err)
		}
		a, err := db.GetAsset(ctx, id)
		if err != nil {
			return nil, err
		}
		return []models.Asset{*a}, nil

	case models.ContentSeries, models.ContentRandom, models.ContentVirtualPackage:
		collectionID, err := strconv.ParseInt(ref.Ref, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("collection ref %q: %w", ref.Ref, err)
		}
		return db.queryAssets(ctx,
			`SELECT `+assetColumns+` FROM assets
			 WHERE collection_id = ? AND is_deleted = 0
			 ORDER BY canonical_key`, collectionID)

	case models.ContentRule:
		return db.queryAssets(ctx,
			`SELECT `+assetColumns+` FROM assets
			 WHERE title LIKE ? AND is_deleted = 0
			 ORDER BY canonical_key`, ref.Ref)

	default:
		return nil, fmt.Errorf("content type %q: %w", ref.Type, ErrNotFound)
	}
}

// AssetsForCollection lists the collection's non-deleted assets in canonical
// order.
func (db *DB) AssetsForCollection(ctx context.Context, collectionID int64) ([]models.Asset, error) {
	return db.queryAssets(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE collection_id = ? AND is_deleted = 0
		 ORDER BY canonical_key`, collectionID)
}

// SpotCandidates implements traffic.SpotSource: schedulable short-form
// assets no longer than the break budget.
func (db *DB) SpotCandidates(ctx context.Context, maxDurationMS int64) ([]traffic.Spot, error) {
	assets, err := db.queryAssets(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE state = 'ready' AND approved_for_broadcast = 1 AND is_deleted = 0
		   AND duration_ms > 0 AND duration_ms <= ?
		 ORDER BY duration_ms DESC`, maxDurationMS)
	if err != nil {
		return nil, err
	}
	spots := make([]traffic.Spot, 0, len(assets))
	for _, a := range assets {
		spots = append(spots, traffic.Spot{
			AssetUUID:       a.UUID.String(),
			URI:             a.URI,
			Title:           a.Title,
			DurationMS:      a.DurationMS,
			SegmentType:     models.SegmentCommercial,
			CooldownSeconds: a.CooldownSeconds,
		})
	}
	return spots, nil
}

func (db *DB) queryAssets(ctx context.Context, query string, args ...any) ([]models.Asset, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	observe("select", "assets", start, err)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAsset(r rowScanner) (*models.Asset, error) {
	var (
		a         models.Asset
		id        string
		state     string
		deletedAt sql.NullString
		createdAt string
	)
	if err := r.Scan(&id, &a.CollectionID, &a.CanonicalKey, &a.Hash, &a.URI, &a.Title, &state,
		&a.DurationMS, &a.VideoCodec, &a.AudioCodec, &a.Container,
		&a.ApprovedForBroadcast, &a.IsDeleted, &deletedAt, &a.CooldownSeconds, &createdAt); err != nil {
		return nil, err
	}
	var err error
	a.UUID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	a.State = models.AssetState(state)
	if deletedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err == nil {
			a.DeletedAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		a.CreatedAt = t
	}
	return &a, nil
}

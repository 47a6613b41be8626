// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/retrovue/retrovue/internal/models"
)

const transmissionColumns = `block_id, channel_slug, broadcast_day, start_utc_ms, end_utc_ms, segments`

// RowCovering returns the transmission row containing the instant, or nil.
func (db *DB) RowCovering(ctx context.Context, channelSlug string, utcMS int64) (*models.TransmissionLogRow, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+transmissionColumns+` FROM transmission_log
		 WHERE channel_slug = ? AND start_utc_ms <= ? AND ? < end_utc_ms
		 ORDER BY start_utc_ms LIMIT 1`, channelSlug, utcMS, utcMS)
	rec, err := scanTransmissionRow(row)
	observe("select", "transmission_log", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// NextRow returns the earliest row starting at or after the instant, or nil.
func (db *DB) NextRow(ctx context.Context, channelSlug string, fromMS int64) (*models.TransmissionLogRow, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+transmissionColumns+` FROM transmission_log
		 WHERE channel_slug = ? AND start_utc_ms >= ?
		 ORDER BY start_utc_ms LIMIT 1`, channelSlug, fromMS)
	rec, err := scanTransmissionRow(row)
	observe("select", "transmission_log", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Frontier returns the farthest end_utc_ms for the channel, 0 when empty.
func (db *DB) Frontier(ctx context.Context, channelSlug string) (int64, error) {
	start := time.Now()
	var frontier sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT MAX(end_utc_ms) FROM transmission_log WHERE channel_slug = ?`,
		channelSlug).Scan(&frontier)
	observe("select", "transmission_log", start, err)
	if err != nil {
		return 0, fmt.Errorf("frontier for %s: %w", channelSlug, err)
	}
	return frontier.Int64, nil
}

// HasBlock reports whether a row exists for the block id.
func (db *DB) HasBlock(ctx context.Context, blockID string) (bool, error) {
	start := time.Now()
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transmission_log WHERE block_id = ?`, blockID).Scan(&n)
	observe("select", "transmission_log", start, err)
	return n > 0, err
}

// UpsertRow writes a transmission row keyed by block_id. Blocks are
// content-stable by construction, so a concurrent double fill reconciles to
// the same row.
func (db *DB) UpsertRow(ctx context.Context, rec *models.TransmissionLogRow) error {
	start := time.Now()
	segments, err := json.Marshal(rec.Segments)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO transmission_log (`+transmissionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(block_id) DO UPDATE SET
			channel_slug=excluded.channel_slug,
			broadcast_day=excluded.broadcast_day,
			start_utc_ms=excluded.start_utc_ms,
			end_utc_ms=excluded.end_utc_ms,
			segments=excluded.segments,
			updated_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		rec.BlockID, rec.ChannelSlug, string(rec.Day), rec.StartUTCMS, rec.EndUTCMS, string(segments))
	observe("upsert", "transmission_log", start, err)
	if err != nil {
		return fmt.Errorf("upsert transmission row %s: %w", rec.BlockID, err)
	}
	return nil
}

// RowsInRange returns rows intersecting [startMS, endMS) ordered by start;
// the horizon window store ingests these on startup.
func (db *DB) RowsInRange(ctx context.Context, channelSlug string, startMS, endMS int64) ([]models.TransmissionLogRow, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+transmissionColumns+` FROM transmission_log
		 WHERE channel_slug = ? AND start_utc_ms < ? AND end_utc_ms > ?
		 ORDER BY start_utc_ms`, channelSlug, endMS, startMS)
	observe("select", "transmission_log", start, err)
	if err != nil {
		return nil, fmt.Errorf("rows in range for %s: %w", channelSlug, err)
	}
	defer rows.Close()

	var out []models.TransmissionLogRow
	for rows.Next() {
		rec, err := scanTransmissionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// SegmentInRow resolves (block_id, segment_index) for evidence enrichment.
func (db *DB) SegmentInRow(ctx context.Context, blockID string, segmentIndex int) (*models.ScheduledSegment, error) {
	start := time.Now()
	var segments string
	err := db.conn.QueryRowContext(ctx,
		`SELECT segments FROM transmission_log WHERE block_id = ?`, blockID).Scan(&segments)
	observe("select", "transmission_log", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block %s: %w", blockID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var segs []models.ScheduledSegment
	if err := json.Unmarshal([]byte(segments), &segs); err != nil {
		return nil, fmt.Errorf("decode segments for %s: %w", blockID, err)
	}
	for i := range segs {
		if segs[i].SegmentIndex == segmentIndex {
			return &segs[i], nil
		}
	}
	return nil, fmt.Errorf("block %s segment %d: %w", blockID, segmentIndex, ErrNotFound)
}

func scanTransmissionRow(r rowScanner) (*models.TransmissionLogRow, error) {
	var (
		rec      models.TransmissionLogRow
		day      string
		segments string
	)
	if err := r.Scan(&rec.BlockID, &rec.ChannelSlug, &day,
		&rec.StartUTCMS, &rec.EndUTCMS, &segments); err != nil {
		return nil, err
	}
	rec.Day = models.BroadcastDay(day)
	if err := json.Unmarshal([]byte(segments), &rec.Segments); err != nil {
		return nil, fmt.Errorf("decode segments for %s: %w", rec.BlockID, err)
	}
	return &rec, nil
}

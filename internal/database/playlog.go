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

	"github.com/retrovue/retrovue/internal/models"
)

// LastPlayed implements traffic.PlayLog: the most recent play instant for
// the asset on the channel, zero time when never played.
func (db *DB) LastPlayed(ctx context.Context, channelID int64, assetUUID string) (time.Time, error) {
	start := time.Now()
	var last string
	err := db.conn.QueryRowContext(ctx,
		`SELECT last_played_utc FROM traffic_play_log WHERE channel_id = ? AND asset_uuid = ?`,
		channelID, assetUUID).Scan(&last)
	observe("select", "traffic_play_log", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, last)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode last_played for %s: %w", assetUUID, err)
	}
	return t, nil
}

// RecordPlay implements traffic.PlayLog: upserts the play instant and bumps
// the count.
func (db *DB) RecordPlay(ctx context.Context, channelID int64, assetUUID string, at time.Time) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO traffic_play_log (channel_id, asset_uuid, last_played_utc, play_count)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(channel_id, asset_uuid) DO UPDATE SET
			last_played_utc=excluded.last_played_utc,
			play_count=play_count+1`,
		channelID, assetUUID, at.UTC().Format(time.RFC3339Nano))
	observe("upsert", "traffic_play_log", start, err)
	return err
}

// RecordAiring implements evidence.AiringRecorder: resolves the asset by
// URI and records the confirmed play. Plays are recorded from execution
// evidence, never at fill time.
func (db *DB) RecordAiring(channelID int64, assetURI string, _ models.SegmentType, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	var assetUUID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT uuid FROM assets WHERE uri = ? LIMIT 1`, assetURI).Scan(&assetUUID)
	observe("select", "assets", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		// Static filler and external spots have no library row; nothing to
		// record against.
		return nil
	}
	if err != nil {
		return err
	}
	return db.RecordPlay(ctx, channelID, assetUUID, at)
}

// ChannelByID implements evidence.ChannelResolver: the wire channel id is
// the channel slug.
func (db *DB) ChannelByID(channelID string) (*models.Channel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.ChannelBySlug(ctx, channelID)
}

// Segment implements evidence.SegmentLookup.
func (db *DB) Segment(blockID string, segmentIndex int) (*models.ScheduledSegment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.SegmentInRow(ctx, blockID, segmentIndex)
}

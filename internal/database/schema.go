// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package database

import (
	"context"
	"fmt"
)

// schemaStatements creates all tables. Statements are idempotent; migration
// beyond IF NOT EXISTS is out of scope for now.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		timezone TEXT NOT NULL,
		day_start_hour INTEGER NOT NULL DEFAULT 6,
		grid_minutes INTEGER NOT NULL DEFAULT 30,
		grid_offsets TEXT NOT NULL DEFAULT '[0]',
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		enrichers TEXT NOT NULL DEFAULT '[]',
		ingestible INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS source_path_mappings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		source_path TEXT NOT NULL,
		local_path TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS collections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		sync_enabled INTEGER NOT NULL DEFAULT 0,
		ingestible INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS assets (
		uuid TEXT PRIMARY KEY,
		collection_id INTEGER NOT NULL REFERENCES collections(id),
		canonical_key TEXT NOT NULL,
		hash TEXT NOT NULL,
		uri TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'new',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		video_codec TEXT NOT NULL DEFAULT '',
		audio_codec TEXT NOT NULL DEFAULT '',
		container TEXT NOT NULL DEFAULT '',
		approved_for_broadcast INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT,
		cooldown_seconds INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_canonical
		ON assets(collection_id, canonical_key) WHERE is_deleted = 0`,

	`CREATE TABLE IF NOT EXISTS markers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_uuid TEXT NOT NULL REFERENCES assets(uuid) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL DEFAULT 0,
		label TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_markers_asset ON markers(asset_uuid, kind)`,

	`CREATE TABLE IF NOT EXISTS enrichers (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		scope TEXT NOT NULL,
		name TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS schedule_plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL REFERENCES channels(id),
		name TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		recurrence TEXT NOT NULL DEFAULT '{}',
		programs TEXT NOT NULL DEFAULT '[]',
		labels TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plans_channel ON schedule_plans(channel_id)`,

	`CREATE TABLE IF NOT EXISTS resolved_schedule_days (
		id TEXT PRIMARY KEY,
		channel_id INTEGER NOT NULL REFERENCES channels(id),
		broadcast_day TEXT NOT NULL,
		plan_id INTEGER NOT NULL DEFAULT 0,
		is_manual_override INTEGER NOT NULL DEFAULT 0,
		supersedes_id TEXT NOT NULL DEFAULT '',
		day_start_utc TEXT NOT NULL,
		slots TEXT NOT NULL DEFAULT '[]',
		sequence_state TEXT NOT NULL DEFAULT '{}',
		resolved_at TEXT NOT NULL,
		UNIQUE(channel_id, broadcast_day)
	)`,

	`CREATE TABLE IF NOT EXISTS compiled_program_logs (
		channel_id INTEGER NOT NULL REFERENCES channels(id),
		broadcast_day TEXT NOT NULL,
		blocks TEXT NOT NULL DEFAULT '[]',
		locked INTEGER NOT NULL DEFAULT 0,
		compiled_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		PRIMARY KEY (channel_id, broadcast_day)
	)`,

	`CREATE TABLE IF NOT EXISTS transmission_log (
		block_id TEXT PRIMARY KEY,
		channel_slug TEXT NOT NULL,
		broadcast_day TEXT NOT NULL,
		start_utc_ms INTEGER NOT NULL,
		end_utc_ms INTEGER NOT NULL,
		segments TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transmission_span
		ON transmission_log(channel_slug, start_utc_ms, end_utc_ms)`,

	`CREATE TABLE IF NOT EXISTS playlog_events (
		id TEXT PRIMARY KEY,
		channel_id INTEGER NOT NULL,
		schedule_day_id TEXT NOT NULL,
		asset_uuid TEXT NOT NULL DEFAULT '',
		start_utc TEXT NOT NULL,
		end_utc TEXT NOT NULL,
		broadcast_day TEXT NOT NULL,
		program_id INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_playlog_day ON playlog_events(channel_id, schedule_day_id)`,

	`CREATE TABLE IF NOT EXISTS sequence_positions (
		channel_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		PRIMARY KEY (channel_id, key)
	)`,

	`CREATE TABLE IF NOT EXISTS traffic_play_log (
		channel_id INTEGER NOT NULL,
		asset_uuid TEXT NOT NULL,
		last_played_utc TEXT NOT NULL,
		play_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (channel_id, asset_uuid)
	)`,
}

func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

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

	"github.com/retrovue/retrovue/internal/horizon"
	"github.com/retrovue/retrovue/internal/models"
)

// SaveCompiledDay upserts the Tier-1 cache entry for (channel, day). A
// locked entry is never overwritten; invalidation must come first.
func (db *DB) SaveCompiledDay(ctx context.Context, log *models.CompiledProgramLog) error {
	start := time.Now()
	blocks, err := json.Marshal(log.Blocks)
	if err != nil {
		return err
	}
	var locked bool
	err = db.conn.QueryRowContext(ctx,
		`SELECT locked FROM compiled_program_logs WHERE channel_id = ? AND broadcast_day = ?`,
		log.ChannelID, string(log.Day)).Scan(&locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		observe("upsert", "compiled_program_logs", start, err)
		return err
	}
	if locked {
		err = fmt.Errorf("compiled day %s/%d is locked", log.Day, log.ChannelID)
		observe("upsert", "compiled_program_logs", start, err)
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO compiled_program_logs (channel_id, broadcast_day, blocks, locked)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(channel_id, broadcast_day) DO UPDATE SET
			blocks=excluded.blocks, locked=excluded.locked,
			compiled_at=strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		log.ChannelID, string(log.Day), string(blocks), log.Locked)
	observe("upsert", "compiled_program_logs", start, err)
	return err
}

// CompiledDay implements horizon.Tier1Source.
func (db *DB) CompiledDay(ctx context.Context, channelID int64, day models.BroadcastDay) (*models.CompiledProgramLog, error) {
	start := time.Now()
	var (
		blocks string
		locked bool
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT blocks, locked FROM compiled_program_logs WHERE channel_id = ? AND broadcast_day = ?`,
		channelID, string(day)).Scan(&blocks, &locked)
	observe("select", "compiled_program_logs", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %d day %s: %w", channelID, day, horizon.ErrNoCompiledDay)
	}
	if err != nil {
		return nil, err
	}
	log := &models.CompiledProgramLog{ChannelID: channelID, Day: day, Locked: locked}
	if err := json.Unmarshal([]byte(blocks), &log.Blocks); err != nil {
		return nil, fmt.Errorf("decode compiled blocks %s/%d: %w", day, channelID, err)
	}
	return log, nil
}

// InvalidateCompiledDay drops the cache entry so a plan revision can
// recompile the day.
func (db *DB) InvalidateCompiledDay(ctx context.Context, channelID int64, day models.BroadcastDay) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM compiled_program_logs WHERE channel_id = ? AND broadcast_day = ?`,
		channelID, string(day))
	observe("delete", "compiled_program_logs", start, err)
	return err
}

// LockCompiledDay marks the entry locked.
func (db *DB) LockCompiledDay(ctx context.Context, channelID int64, day models.BroadcastDay) error {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE compiled_program_logs SET locked = 1 WHERE channel_id = ? AND broadcast_day = ?`,
		channelID, string(day))
	observe("update", "compiled_program_logs", start, err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("compiled day %s/%d: %w", day, channelID, ErrNotFound)
	}
	return nil
}

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
	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/scheduling"
)

// GetDay returns the resolved day for (channel, date), or
// scheduling.ErrNotFound.
func (db *DB) GetDay(ctx context.Context, channelID int64, day models.BroadcastDay) (*models.ResolvedScheduleDay, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, channel_id, broadcast_day, plan_id, is_manual_override, supersedes_id,
			day_start_utc, slots, sequence_state, resolved_at
		 FROM resolved_schedule_days WHERE channel_id = ? AND broadcast_day = ?`,
		channelID, string(day))
	rec, err := scanDay(row)
	observe("select", "resolved_schedule_days", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %d day %s: %w", channelID, day, scheduling.ErrNotFound)
	}
	return rec, err
}

// InsertDay stores a resolved day; the (channel, date) uniqueness constraint
// rejects double resolution.
func (db *DB) InsertDay(ctx context.Context, rec *models.ResolvedScheduleDay) error {
	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertDayTx(ctx, tx, rec); err != nil {
		observe("insert", "resolved_schedule_days", start, err)
		return err
	}
	err = tx.Commit()
	observe("insert", "resolved_schedule_days", start, err)
	return err
}

// ReplaceDay atomically deletes the old record and inserts the replacement
// in one transaction; readers never observe the gap.
func (db *DB) ReplaceDay(ctx context.Context, oldID uuid.UUID, rec *models.ResolvedScheduleDay) error {
	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM resolved_schedule_days WHERE id = ?`, oldID.String())
	if err != nil {
		observe("update", "resolved_schedule_days", start, err)
		return fmt.Errorf("replace day: delete %s: %w", oldID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		observe("update", "resolved_schedule_days", start, sql.ErrNoRows)
		return fmt.Errorf("replace day %s: %w", oldID, ErrNotFound)
	}
	if err := insertDayTx(ctx, tx, rec); err != nil {
		observe("update", "resolved_schedule_days", start, err)
		return err
	}
	err = tx.Commit()
	observe("update", "resolved_schedule_days", start, err)
	return err
}

// DeleteDay removes the resolved day for (channel, date).
func (db *DB) DeleteDay(ctx context.Context, channelID int64, day models.BroadcastDay) error {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM resolved_schedule_days WHERE channel_id = ? AND broadcast_day = ?`,
		channelID, string(day))
	observe("delete", "resolved_schedule_days", start, err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("day %s/%d: %w", day, channelID, ErrNotFound)
	}
	return nil
}

// HasEntriesFor implements scheduling.ExecutionAnchors: a day with playlog
// events is anchored and must not be deleted.
func (db *DB) HasEntriesFor(ctx context.Context, channelID int64, day models.BroadcastDay) (bool, error) {
	start := time.Now()
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM playlog_events pe
		 JOIN resolved_schedule_days d ON d.id = pe.schedule_day_id
		 WHERE d.channel_id = ? AND d.broadcast_day = ?`,
		channelID, string(day)).Scan(&n)
	observe("select", "playlog_events", start, err)
	if err != nil {
		return false, fmt.Errorf("anchor check %s/%d: %w", day, channelID, err)
	}
	return n > 0, nil
}

// InsertPlaylogEvent records a Tier-2 materialization anchored to a
// resolved day.
func (db *DB) InsertPlaylogEvent(ctx context.Context, e *models.PlaylogEvent) error {
	start := time.Now()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO playlog_events
			(id, channel_id, schedule_day_id, asset_uuid, start_utc, end_utc, broadcast_day, program_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.ChannelID, e.ScheduleDayID.String(), e.AssetUUID,
		e.StartUTC.UTC().Format(time.RFC3339Nano), e.EndUTC.UTC().Format(time.RFC3339Nano),
		string(e.Day), e.ProgramID)
	observe("insert", "playlog_events", start, err)
	return err
}

// Position implements scheduling.SequenceStore.
func (db *DB) Position(ctx context.Context, channelID int64, key string) (int, error) {
	start := time.Now()
	var pos int
	err := db.conn.QueryRowContext(ctx,
		`SELECT position FROM sequence_positions WHERE channel_id = ? AND key = ?`,
		channelID, key).Scan(&pos)
	observe("select", "sequence_positions", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return pos, err
}

// SetPosition implements scheduling.SequenceStore.
func (db *DB) SetPosition(ctx context.Context, channelID int64, key string, pos int) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sequence_positions (channel_id, key, position, updated_at)
		 VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		 ON CONFLICT(channel_id, key) DO UPDATE SET
			position=excluded.position, updated_at=excluded.updated_at`,
		channelID, key, pos)
	observe("upsert", "sequence_positions", start, err)
	return err
}

func insertDayTx(ctx context.Context, tx *sql.Tx, rec *models.ResolvedScheduleDay) error {
	slots, err := json.Marshal(rec.Slots)
	if err != nil {
		return err
	}
	seqState, err := json.Marshal(rec.SequenceState)
	if err != nil {
		return err
	}
	supersedes := ""
	if rec.SupersedesID != uuid.Nil {
		supersedes = rec.SupersedesID.String()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO resolved_schedule_days
			(id, channel_id, broadcast_day, plan_id, is_manual_override, supersedes_id,
			 day_start_utc, slots, sequence_state, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.ChannelID, string(rec.Day), rec.PlanID, rec.IsManualOverride,
		supersedes, rec.DayStartUTC.UTC().Format(time.RFC3339Nano),
		string(slots), string(seqState), rec.ResolvedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert day %s/%d: %w", rec.Day, rec.ChannelID, err)
	}
	return nil
}

func scanDay(r rowScanner) (*models.ResolvedScheduleDay, error) {
	var (
		rec        models.ResolvedScheduleDay
		id         string
		day        string
		supersedes string
		dayStart   string
		slots      string
		seqState   string
		resolvedAt string
	)
	if err := r.Scan(&id, &rec.ChannelID, &day, &rec.PlanID, &rec.IsManualOverride,
		&supersedes, &dayStart, &slots, &seqState, &resolvedAt); err != nil {
		return nil, err
	}
	var err error
	rec.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	rec.Day = models.BroadcastDay(day)
	if supersedes != "" {
		rec.SupersedesID, err = uuid.Parse(supersedes)
		if err != nil {
			return nil, err
		}
	}
	if rec.DayStartUTC, err = time.Parse(time.RFC3339Nano, dayStart); err != nil {
		return nil, fmt.Errorf("decode day start: %w", err)
	}
	if err := json.Unmarshal([]byte(slots), &rec.Slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	if err := json.Unmarshal([]byte(seqState), &rec.SequenceState); err != nil {
		return nil, fmt.Errorf("decode sequence state: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, resolvedAt); err == nil {
		rec.ResolvedAt = t
	}
	return &rec, nil
}

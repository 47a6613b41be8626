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

// ErrNotFound marks a lookup miss across the database package.
var ErrNotFound = errors.New("not found")

// InsertChannel stores a channel and assigns its id.
func (db *DB) InsertChannel(ctx context.Context, ch *models.Channel) error {
	start := time.Now()
	offsets, err := json.Marshal(ch.AllowedOffsets())
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO channels (slug, name, timezone, day_start_hour, grid_minutes, grid_offsets)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ch.Slug, ch.Name, ch.Timezone, ch.DayStartHour, ch.GridMinutes, string(offsets))
	observe("insert", "channels", start, err)
	if err != nil {
		return fmt.Errorf("insert channel %s: %w", ch.Slug, err)
	}
	ch.ID, err = res.LastInsertId()
	return err
}

// GetChannel looks a channel up by id.
func (db *DB) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	return db.scanChannel(ctx, `SELECT id, slug, name, timezone, day_start_hour, grid_minutes, grid_offsets
		FROM channels WHERE id = ?`, id)
}

// ChannelBySlug looks a channel up by slug.
func (db *DB) ChannelBySlug(ctx context.Context, slug string) (*models.Channel, error) {
	return db.scanChannel(ctx, `SELECT id, slug, name, timezone, day_start_hour, grid_minutes, grid_offsets
		FROM channels WHERE slug = ?`, slug)
}

// ListChannels returns all channels ordered by slug.
func (db *DB) ListChannels(ctx context.Context) ([]models.Channel, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, slug, name, timezone, day_start_hour, grid_minutes, grid_offsets
		 FROM channels ORDER BY slug`)
	observe("select", "channels", start, err)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		ch, err := scanChannelRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (db *DB) scanChannel(ctx context.Context, query string, arg any) (*models.Channel, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, query, arg)
	ch, err := scanChannelRow(row)
	observe("select", "channels", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %v: %w", arg, ErrNotFound)
	}
	return ch, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannelRow(r rowScanner) (*models.Channel, error) {
	var (
		ch      models.Channel
		offsets string
	)
	if err := r.Scan(&ch.ID, &ch.Slug, &ch.Name, &ch.Timezone,
		&ch.DayStartHour, &ch.GridMinutes, &offsets); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(offsets), &ch.GridOffsets); err != nil {
		return nil, fmt.Errorf("decode grid offsets for %s: %w", ch.Slug, err)
	}
	return &ch, nil
}

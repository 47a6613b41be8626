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

// InsertPlan stores a schedule plan (programs and labels embedded) and
// assigns its id.
func (db *DB) InsertPlan(ctx context.Context, p *models.SchedulePlan) error {
	start := time.Now()
	recurrence, err := json.Marshal(p.Recurrence)
	if err != nil {
		return err
	}
	programs, err := json.Marshal(p.Programs)
	if err != nil {
		return err
	}
	labels, err := json.Marshal(p.Labels)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO schedule_plans (channel_id, name, priority, recurrence, programs, labels)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ChannelID, p.Name, p.Priority, string(recurrence), string(programs), string(labels))
	observe("insert", "schedule_plans", start, err)
	if err != nil {
		return fmt.Errorf("insert plan %s: %w", p.Name, err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetPlan looks a plan up by id.
func (db *DB) GetPlan(ctx context.Context, id int64) (*models.SchedulePlan, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, channel_id, name, priority, recurrence, programs, labels, created_at
		 FROM schedule_plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	observe("select", "schedule_plans", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %d: %w", id, ErrNotFound)
	}
	return p, err
}

// PlansForChannel returns all plans for a channel ordered by priority
// descending then recency; plan selection walks this order.
func (db *DB) PlansForChannel(ctx context.Context, channelID int64) ([]models.SchedulePlan, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, channel_id, name, priority, recurrence, programs, labels, created_at
		 FROM schedule_plans WHERE channel_id = ?
		 ORDER BY priority DESC, created_at DESC`, channelID)
	observe("select", "schedule_plans", start, err)
	if err != nil {
		return nil, fmt.Errorf("plans for channel %d: %w", channelID, err)
	}
	defer rows.Close()

	var out []models.SchedulePlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeletePlan removes a plan by id.
func (db *DB) DeletePlan(ctx context.Context, id int64) error {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx, `DELETE FROM schedule_plans WHERE id = ?`, id)
	observe("delete", "schedule_plans", start, err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanPlan(r rowScanner) (*models.SchedulePlan, error) {
	var (
		p          models.SchedulePlan
		recurrence string
		programs   string
		labels     string
		createdAt  string
	)
	if err := r.Scan(&p.ID, &p.ChannelID, &p.Name, &p.Priority,
		&recurrence, &programs, &labels, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(recurrence), &p.Recurrence); err != nil {
		return nil, fmt.Errorf("decode plan recurrence %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(programs), &p.Programs); err != nil {
		return nil, fmt.Errorf("decode plan programs %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(labels), &p.Labels); err != nil {
		return nil, fmt.Errorf("decode plan labels %d: %w", p.ID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

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

// GetSource looks a source up by id.
func (db *DB) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, type, name, config, enrichers, ingestible, created_at
		 FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	observe("select", "sources", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	return src, err
}

// ListSources returns sources, optionally filtered by type.
func (db *DB) ListSources(ctx context.Context, sourceType string) ([]models.Source, error) {
	start := time.Now()
	query := `SELECT id, type, name, config, enrichers, ingestible, created_at FROM sources`
	args := []any{}
	if sourceType != "" {
		query += ` WHERE type = ?`
		args = append(args, sourceType)
	}
	query += ` ORDER BY id`
	rows, err := db.conn.QueryContext(ctx, query, args...)
	observe("select", "sources", start, err)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// InsertSource stores a source and assigns its id.
func (db *DB) InsertSource(ctx context.Context, src *models.Source) error {
	start := time.Now()
	cfg, err := json.Marshal(src.Config)
	if err != nil {
		return err
	}
	enr, err := json.Marshal(src.Enrichers)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO sources (type, name, config, enrichers, ingestible) VALUES (?, ?, ?, ?, ?)`,
		src.Type, src.Name, string(cfg), string(enr), src.Ingestible)
	observe("insert", "sources", start, err)
	if err != nil {
		return fmt.Errorf("insert source %s: %w", src.Name, err)
	}
	src.ID, err = res.LastInsertId()
	return err
}

// DeleteSource removes the source and its path mappings in one transaction.
func (db *DB) DeleteSource(ctx context.Context, id int64) error {
	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM source_path_mappings WHERE source_id = ?`, id); err != nil {
		observe("delete", "sources", start, err)
		return fmt.Errorf("delete path mappings for source %d: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		observe("delete", "sources", start, err)
		return fmt.Errorf("delete source %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		observe("delete", "sources", start, sql.ErrNoRows)
		return fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	err = tx.Commit()
	observe("delete", "sources", start, err)
	return err
}

// SourceHasBroadcastHistory reports whether any asset under the source ever
// appeared in a playlog event or a transmission row.
func (db *DB) SourceHasBroadcastHistory(ctx context.Context, sourceID int64) (bool, error) {
	start := time.Now()
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM playlog_events pe
		 JOIN assets a ON a.uuid = pe.asset_uuid
		 JOIN collections c ON c.id = a.collection_id
		 WHERE c.source_id = ?`, sourceID).Scan(&n)
	observe("select", "playlog_events", start, err)
	if err != nil {
		return false, fmt.Errorf("broadcast history for source %d: %w", sourceID, err)
	}
	return n > 0, nil
}

// GetCollection looks a collection up by id.
func (db *DB) GetCollection(ctx context.Context, id int64) (*models.Collection, error) {
	start := time.Now()
	var (
		c         models.Collection
		createdAt string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, source_id, name, sync_enabled, ingestible, created_at
		 FROM collections WHERE id = ?`, id).
		Scan(&c.ID, &c.SourceID, &c.Name, &c.SyncEnabled, &c.Ingestible, &createdAt)
	observe("select", "collections", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		c.CreatedAt = t
	}
	return &c, nil
}

// CollectionsForSource lists a source's collections.
func (db *DB) CollectionsForSource(ctx context.Context, sourceID int64) ([]models.Collection, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, source_id, name, sync_enabled, ingestible, created_at
		 FROM collections WHERE source_id = ? ORDER BY id`, sourceID)
	observe("select", "collections", start, err)
	if err != nil {
		return nil, fmt.Errorf("collections for source %d: %w", sourceID, err)
	}
	defer rows.Close()

	var out []models.Collection
	for rows.Next() {
		var (
			c         models.Collection
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Name, &c.SyncEnabled, &c.Ingestible, &createdAt); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			c.CreatedAt = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertCollection stores a collection and assigns its id.
func (db *DB) InsertCollection(ctx context.Context, c *models.Collection) error {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO collections (source_id, name, sync_enabled, ingestible) VALUES (?, ?, ?, ?)`,
		c.SourceID, c.Name, c.SyncEnabled, c.Ingestible)
	observe("insert", "collections", start, err)
	if err != nil {
		return fmt.Errorf("insert collection %s: %w", c.Name, err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// SaveEnricher upserts an enricher by derived id.
func (db *DB) SaveEnricher(ctx context.Context, e *models.Enricher) error {
	start := time.Now()
	cfg, err := json.Marshal(e.Config)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO enrichers (id, type, scope, name, config) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET scope=excluded.scope, name=excluded.name, config=excluded.config`,
		e.ID, e.Type, string(e.Scope), e.Name, string(cfg))
	observe("upsert", "enrichers", start, err)
	return err
}

// ListEnrichers returns all enrichers ordered by id.
func (db *DB) ListEnrichers(ctx context.Context) ([]models.Enricher, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, type, scope, name, config, created_at FROM enrichers ORDER BY id`)
	observe("select", "enrichers", start, err)
	if err != nil {
		return nil, fmt.Errorf("list enrichers: %w", err)
	}
	defer rows.Close()

	var out []models.Enricher
	for rows.Next() {
		var (
			e         models.Enricher
			scope     string
			cfg       string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Type, &scope, &e.Name, &cfg, &createdAt); err != nil {
			return nil, err
		}
		e.Scope = models.EnricherScope(scope)
		if err := json.Unmarshal([]byte(cfg), &e.Config); err != nil {
			return nil, fmt.Errorf("decode enricher config %s: %w", e.ID, err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEnricher removes an enricher by id.
func (db *DB) DeleteEnricher(ctx context.Context, id string) error {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx, `DELETE FROM enrichers WHERE id = ?`, id)
	observe("delete", "enrichers", start, err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("enricher %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanSource(r rowScanner) (*models.Source, error) {
	var (
		src       models.Source
		cfg       string
		enr       string
		createdAt string
	)
	if err := r.Scan(&src.ID, &src.Type, &src.Name, &cfg, &enr, &src.Ingestible, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfg), &src.Config); err != nil {
		return nil, fmt.Errorf("decode source config %d: %w", src.ID, err)
	}
	if err := json.Unmarshal([]byte(enr), &src.Enrichers); err != nil {
		return nil, fmt.Errorf("decode source enrichers %d: %w", src.ID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		src.CreatedAt = t
	}
	return &src, nil
}

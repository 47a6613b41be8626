// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package horizon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/metrics"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/traffic"
)

// ErrNoCompiledDay is returned by Tier1Source when no compiled program log
// exists for the requested (channel, day).
var ErrNoCompiledDay = errors.New("no compiled program log for day")

// Tier1Source supplies compiled program logs.
type Tier1Source interface {
	CompiledDay(ctx context.Context, channelID int64, day models.BroadcastDay) (*models.CompiledProgramLog, error)
}

// TransmissionStore is the Tier-2 persistence surface. UpsertRow keys on
// block_id; concurrent fills of the same block reconcile benignly because
// blocks are content-stable by construction.
type TransmissionStore interface {
	RowCovering(ctx context.Context, channelSlug string, utcMS int64) (*models.TransmissionLogRow, error)
	Frontier(ctx context.Context, channelSlug string) (int64, error)
	HasBlock(ctx context.Context, blockID string) (bool, error)
	UpsertRow(ctx context.Context, row *models.TransmissionLogRow) error
}

// PlaylogConfig carries daemon policy.
type PlaylogConfig struct {
	// Interval between evaluations. Default 30s.
	Interval time.Duration
	// MinHours is the minimum transmission-log depth ahead of now.
	MinHours float64
	// MaxLookaheadDays bounds one evaluation's forward scan.
	MaxLookaheadDays int
}

// PlaylogDaemon maintains the rolling Tier-2 window for one channel:
// it guards against coverage holes, probes the frontier, and lifts Tier-1
// blocks into the transmission log through late-bound traffic fill.
type PlaylogDaemon struct {
	channel *models.Channel
	loc     *time.Location
	tier1   Tier1Source
	store   TransmissionStore
	fill    *traffic.Manager
	clk     clock.Clock
	cfg     PlaylogConfig

	// frontierMS is the monotonic fill frontier (max end_utc_ms observed).
	frontierMS int64
	errCount   int
}

// NewPlaylogDaemon creates the daemon for one channel.
func NewPlaylogDaemon(ch *models.Channel, tier1 Tier1Source, store TransmissionStore, fill *traffic.Manager, clk clock.Clock, cfg PlaylogConfig) (*PlaylogDaemon, error) {
	loc, err := ch.Location()
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MinHours <= 0 {
		cfg.MinHours = 6
	}
	if cfg.MaxLookaheadDays <= 0 {
		cfg.MaxLookaheadDays = 3
	}
	return &PlaylogDaemon{
		channel: ch,
		loc:     loc,
		tier1:   tier1,
		store:   store,
		fill:    fill,
		clk:     clk,
		cfg:     cfg,
	}, nil
}

// Serve implements suture.Service: evaluate at the configured cadence until
// the context is canceled.
func (d *PlaylogDaemon) Serve(ctx context.Context) error {
	logging.Info().Str("channel", d.channel.Slug).Dur("interval", d.cfg.Interval).
		Msg("playlog horizon daemon started")
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("channel", d.channel.Slug).Msg("playlog horizon daemon stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := d.EvaluateOnce(ctx); err != nil {
				d.errCount++
				logging.Error().Err(err).Str("channel", d.channel.Slug).
					Int("error_count", d.errCount).Msg("playlog evaluation failed")
			} else {
				d.errCount = 0
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (d *PlaylogDaemon) String() string {
	return "playlog-daemon-" + d.channel.Slug
}

// EvaluateOnce runs one evaluation pass: coverage-hole guard, frontier
// probe, then extend-to-target. Idempotent when the window is already deep
// enough.
func (d *PlaylogDaemon) EvaluateOnce(ctx context.Context) error {
	now := d.clk.NowUTC()
	nowMS := now.UnixMilli()

	if err := d.guardCoverageHole(ctx, now); err != nil {
		return err
	}

	frontier, err := d.store.Frontier(ctx, d.channel.Slug)
	if err != nil {
		return err
	}
	if frontier > d.frontierMS {
		d.frontierMS = frontier
	}
	depthHours := float64(d.frontierMS-nowMS) / float64(time.Hour.Milliseconds())
	metrics.PlaylogDepthHours.WithLabelValues(d.channel.Slug).Set(depthHours)

	fills, err := d.extendToTarget(ctx, now)
	if err != nil {
		return err
	}

	depthHours = float64(d.frontierMS-nowMS) / float64(time.Hour.Milliseconds())
	if fills == 0 && depthHours < d.cfg.MinHours {
		scanStart := models.BroadcastDayFor(time.UnixMilli(d.frontierMS).UTC(), d.loc, d.channel.DayStartHour)
		logging.Warn().
			Str("invariant", "INV-PLAYLOG-HORIZON-002").
			Str("channel", d.channel.Slug).
			Int64("frontier_ms", d.frontierMS).
			Str("scan_start_bd", string(scanStart)).
			Float64("depth_hours", depthHours).
			Int("error_count", d.errCount).
			Msg("INV-PLAYLOG-HORIZON-002 VIOLATION: zero fills with depth below target")
		metrics.PlaylogHorizonViolations.WithLabelValues(d.channel.Slug).Inc()
	}
	return nil
}

// guardCoverageHole backfills the block containing now when no transmission
// row covers it. Backfill is permitted only while the block has not ended;
// already-past blocks stay unfilled.
func (d *PlaylogDaemon) guardCoverageHole(ctx context.Context, now time.Time) error {
	nowMS := now.UnixMilli()
	row, err := d.store.RowCovering(ctx, d.channel.Slug, nowMS)
	if err != nil {
		return err
	}
	if row != nil {
		return nil
	}

	block, day := d.findBlockCovering(ctx, nowMS)
	if block == nil {
		logging.Warn().
			Str("invariant", "INV-PLAYLOG-COVERAGE-HOLE-001").
			Str("channel", d.channel.Slug).
			Int64("now_ms", nowMS).
			Msg("coverage hole with no tier-1 block containing now")
		return nil
	}
	if nowMS >= block.EndUTCMS {
		return nil
	}

	logging.Info().
		Str("channel", d.channel.Slug).
		Str("block_id", block.BlockID).
		Str("broadcast_day", string(day)).
		Msg("backfilling coverage hole")
	return d.fillAndWrite(ctx, block, day, now)
}

// findBlockCovering scans today's and yesterday's compiled logs for the
// block containing the instant; the previous day handles boundary blocks
// that span the rollover.
func (d *PlaylogDaemon) findBlockCovering(ctx context.Context, utcMS int64) (*models.SegmentedBlock, models.BroadcastDay) {
	day := models.BroadcastDayFor(time.UnixMilli(utcMS).UTC(), d.loc, d.channel.DayStartHour)
	for _, candidate := range []models.BroadcastDay{day, day.Prev()} {
		compiled, err := d.tier1.CompiledDay(ctx, d.channel.ID, candidate)
		if err != nil {
			continue
		}
		for i := range compiled.Blocks {
			if compiled.Blocks[i].Covers(utcMS) {
				return &compiled.Blocks[i], candidate
			}
		}
	}
	return nil, ""
}

// extendToTarget lifts Tier-1 blocks into the transmission log until the
// window is at least MinHours deep, scanning from one day before the
// frontier's broadcast day to catch boundary blocks.
func (d *PlaylogDaemon) extendToTarget(ctx context.Context, now time.Time) (int, error) {
	nowMS := now.UnixMilli()
	targetMS := nowMS + int64(d.cfg.MinHours*float64(time.Hour.Milliseconds()))
	if d.frontierMS >= targetMS {
		return 0, nil
	}

	scanFrom := d.frontierMS
	if scanFrom < nowMS {
		scanFrom = nowMS
	}
	startDay := models.BroadcastDayFor(time.UnixMilli(scanFrom).UTC(), d.loc, d.channel.DayStartHour).Prev()

	fills := 0
	day := startDay
	for i := 0; i <= d.cfg.MaxLookaheadDays; i++ {
		compiled, err := d.tier1.CompiledDay(ctx, d.channel.ID, day)
		if err != nil {
			if !errors.Is(err, ErrNoCompiledDay) {
				return fills, err
			}
			day = day.Next()
			continue
		}
		for bi := range compiled.Blocks {
			block := &compiled.Blocks[bi]
			if block.EndUTCMS <= scanFrom {
				continue
			}
			exists, err := d.store.HasBlock(ctx, block.BlockID)
			if err != nil {
				return fills, err
			}
			if exists {
				if block.EndUTCMS > d.frontierMS {
					d.frontierMS = block.EndUTCMS
				}
				continue
			}
			if err := d.fillAndWrite(ctx, block, compiled.Day, now); err != nil {
				return fills, err
			}
			fills++
			if d.frontierMS >= targetMS {
				return fills, nil
			}
		}
		day = day.Next()
	}
	return fills, nil
}

// fillAndWrite runs late-bound traffic fill on the block and upserts the
// transmission row. The frontier advances monotonically.
func (d *PlaylogDaemon) fillAndWrite(ctx context.Context, block *models.SegmentedBlock, day models.BroadcastDay, now time.Time) error {
	segments, err := d.fill.FillBlock(ctx, d.channel.ID, block, now)
	if err != nil {
		return fmt.Errorf("traffic fill block %s: %w", block.BlockID, err)
	}
	row := &models.TransmissionLogRow{
		BlockID:     block.BlockID,
		ChannelSlug: d.channel.Slug,
		Day:         day,
		StartUTCMS:  block.StartUTCMS,
		EndUTCMS:    block.EndUTCMS,
		Segments:    segments,
	}
	if err := d.store.UpsertRow(ctx, row); err != nil {
		return fmt.Errorf("upsert transmission row %s: %w", block.BlockID, err)
	}
	if block.EndUTCMS > d.frontierMS {
		d.frontierMS = block.EndUTCMS
	}
	metrics.PlaylogFills.WithLabelValues(d.channel.Slug).Inc()
	return nil
}

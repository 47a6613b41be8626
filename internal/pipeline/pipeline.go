// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package pipeline wires the planning stages end to end for one channel:
// plan selection, day resolution, Tier-1 compilation, and late-bound traffic
// fill into the transmission log. It implements the extension protocols the
// horizon manager drives.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/compiler"
	"github.com/retrovue/retrovue/internal/horizon"
	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/scheduling"
	"github.com/retrovue/retrovue/internal/traffic"
)

// Store is the persistence surface the pipeline drives.
type Store interface {
	PlansForChannel(ctx context.Context, channelID int64) ([]models.SchedulePlan, error)
	CompiledDay(ctx context.Context, channelID int64, day models.BroadcastDay) (*models.CompiledProgramLog, error)
	SaveCompiledDay(ctx context.Context, log *models.CompiledProgramLog) error
	Frontier(ctx context.Context, channelSlug string) (int64, error)
	HasBlock(ctx context.Context, blockID string) (bool, error)
	UpsertRow(ctx context.Context, row *models.TransmissionLogRow) error
	RowsInRange(ctx context.Context, channelSlug string, startMS, endMS int64) ([]models.TransmissionLogRow, error)
}

// Config carries pipeline policy.
type Config struct {
	// ExtendStep is how much execution coverage one Extend call targets.
	// Default 1h.
	ExtendStep time.Duration
	// MaxResolveDays caps the forward scan for the EPG window end. Default 60.
	MaxResolveDays int
	// LookaheadDays bounds one Extend call's compiled-day scan. Default 3.
	LookaheadDays int
}

// Pipeline is the per-channel planning pipeline. It implements
// horizon.ScheduleExtender and horizon.ExecutionExtender.
type Pipeline struct {
	channel *models.Channel
	loc     *time.Location
	sched   *scheduling.ScheduleManager
	days    *scheduling.ResolvedScheduleStore
	comp    *compiler.Compiler
	fill    *traffic.Manager
	store   Store
	clk     clock.Clock
	cfg     Config
}

// New creates the pipeline for one channel.
func New(ch *models.Channel, sched *scheduling.ScheduleManager, days *scheduling.ResolvedScheduleStore, comp *compiler.Compiler, fill *traffic.Manager, store Store, clk clock.Clock, cfg Config) (*Pipeline, error) {
	loc, err := ch.Location()
	if err != nil {
		return nil, err
	}
	if cfg.ExtendStep <= 0 {
		cfg.ExtendStep = time.Hour
	}
	if cfg.MaxResolveDays <= 0 {
		cfg.MaxResolveDays = 60
	}
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = 3
	}
	return &Pipeline{
		channel: ch,
		loc:     loc,
		sched:   sched,
		days:    days,
		comp:    comp,
		fill:    fill,
		store:   store,
		clk:     clk,
		cfg:     cfg,
	}, nil
}

// EPGWindowEnd implements horizon.ScheduleExtender: the day-start instant of
// the first broadcast day with no compiled program log.
func (p *Pipeline) EPGWindowEnd(ctx context.Context) (time.Time, error) {
	day, err := p.firstUncompiledDay(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return models.DayStartUTC(day, p.loc, p.channel.DayStartHour)
}

// ExtendDay implements horizon.ScheduleExtender: resolve and compile the
// first uncompiled broadcast day and return the new window end.
func (p *Pipeline) ExtendDay(ctx context.Context) (time.Time, error) {
	day, err := p.firstUncompiledDay(ctx)
	if err != nil {
		return time.Time{}, err
	}

	resolved, err := p.days.Get(ctx, p.channel.ID, day)
	if errors.Is(err, scheduling.ErrNotFound) {
		resolved, err = p.resolveDay(ctx, day)
	}
	if err != nil {
		return time.Time{}, err
	}

	compiled, err := p.comp.CompileDay(ctx, p.channel, resolved)
	if err != nil {
		return time.Time{}, fmt.Errorf("compile day %s for %s: %w", day, p.channel.Slug, err)
	}
	if err := p.store.SaveCompiledDay(ctx, compiled); err != nil {
		return time.Time{}, fmt.Errorf("save compiled day %s for %s: %w", day, p.channel.Slug, err)
	}

	logging.Info().
		Str("channel", p.channel.Slug).
		Str("broadcast_day", string(day)).
		Int("blocks", len(compiled.Blocks)).
		Msg("broadcast day resolved and compiled")
	return models.DayStartUTC(day.Next(), p.loc, p.channel.DayStartHour)
}

// Extend implements horizon.ExecutionExtender: lift compiled blocks past the
// frontier into the transmission log via late-bound traffic fill. Blocks
// straddling the frontier are written but not reported, so a published
// replacement range stays well formed.
func (p *Pipeline) Extend(ctx context.Context, fromUTCMS int64) (*horizon.ExtensionResult, error) {
	now := p.clk.NowUTC()
	targetMS := fromUTCMS + p.cfg.ExtendStep.Milliseconds()
	res := &horizon.ExtensionResult{EndUTCMS: fromUTCMS}

	// Start one day back so a block spanning the day rollover is not missed.
	day := models.BroadcastDayFor(time.UnixMilli(fromUTCMS).UTC(), p.loc, p.channel.DayStartHour).Prev()
	for i := 0; i <= p.cfg.LookaheadDays; i++ {
		compiled, err := p.store.CompiledDay(ctx, p.channel.ID, day)
		if err != nil {
			if !errors.Is(err, horizon.ErrNoCompiledDay) {
				return nil, err
			}
			day = day.Next()
			continue
		}
		for bi := range compiled.Blocks {
			block := &compiled.Blocks[bi]
			if block.EndUTCMS <= fromUTCMS || block.StartUTCMS >= targetMS {
				continue
			}
			if err := p.materialize(ctx, block, compiled.Day, now); err != nil {
				return nil, err
			}
			if block.StartUTCMS < fromUTCMS {
				continue
			}
			res.Entries = append(res.Entries, horizon.WindowEntry{
				BlockID:    block.BlockID,
				ChannelID:  p.channel.ID,
				StartUTCMS: block.StartUTCMS,
				EndUTCMS:   block.EndUTCMS,
			})
			if block.EndUTCMS > res.EndUTCMS {
				res.EndUTCMS = block.EndUTCMS
			}
		}
		day = day.Next()
	}
	return res, nil
}

// Bootstrap seeds the execution window store from persisted transmission
// rows so a restart resumes with the coverage it already wrote.
func (p *Pipeline) Bootstrap(ctx context.Context, window *horizon.ExecutionWindowStore) error {
	nowMS := p.clk.NowUTC().UnixMilli()
	horizonMS := nowMS + 24*time.Hour.Milliseconds()
	rows, err := p.store.RowsInRange(ctx, p.channel.Slug, nowMS, horizonMS)
	if err != nil {
		return fmt.Errorf("bootstrap window for %s: %w", p.channel.Slug, err)
	}
	entries := make([]horizon.WindowEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, horizon.WindowEntry{
			BlockID:    rows[i].BlockID,
			ChannelID:  p.channel.ID,
			StartUTCMS: rows[i].StartUTCMS,
			EndUTCMS:   rows[i].EndUTCMS,
		})
	}
	window.Ingest(entries)
	logging.Info().Str("channel", p.channel.Slug).Int("entries", len(entries)).
		Msg("execution window bootstrapped from transmission log")
	return nil
}

// firstUncompiledDay walks forward from the current broadcast day to the
// first day with no compiled program log.
func (p *Pipeline) firstUncompiledDay(ctx context.Context) (models.BroadcastDay, error) {
	day := models.BroadcastDayFor(p.clk.NowUTC(), p.loc, p.channel.DayStartHour)
	for i := 0; i < p.cfg.MaxResolveDays; i++ {
		_, err := p.store.CompiledDay(ctx, p.channel.ID, day)
		if errors.Is(err, horizon.ErrNoCompiledDay) {
			return day, nil
		}
		if err != nil {
			return "", err
		}
		day = day.Next()
	}
	return day, nil
}

// resolveDay selects the authoritative plan for the day, resolves it, and
// stores the result. A concurrent resolution of the same day is benign.
func (p *Pipeline) resolveDay(ctx context.Context, day models.BroadcastDay) (*models.ResolvedScheduleDay, error) {
	plans, err := p.store.PlansForChannel(ctx, p.channel.ID)
	if err != nil {
		return nil, err
	}
	plan := scheduling.SelectPlan(plans, day, p.loc)
	if plan == nil {
		return nil, fmt.Errorf("channel %s has no active plan on %s", p.channel.Slug, day)
	}

	resolved, err := p.sched.ResolveDay(ctx, p.channel, plan, day)
	if err != nil {
		return nil, fmt.Errorf("resolve day %s for %s: %w", day, p.channel.Slug, err)
	}
	if err := p.days.Store(ctx, resolved); err != nil {
		if !errors.Is(err, scheduling.ErrAlreadyResolved) {
			return nil, err
		}
		return p.days.Get(ctx, p.channel.ID, day)
	}
	return resolved, nil
}

// materialize writes the transmission row for a block if it does not already
// exist, running traffic fill on its break placeholders.
func (p *Pipeline) materialize(ctx context.Context, block *models.SegmentedBlock, day models.BroadcastDay, now time.Time) error {
	exists, err := p.store.HasBlock(ctx, block.BlockID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	segments, err := p.fill.FillBlock(ctx, p.channel.ID, block, now)
	if err != nil {
		return fmt.Errorf("traffic fill block %s: %w", block.BlockID, err)
	}
	return p.store.UpsertRow(ctx, &models.TransmissionLogRow{
		BlockID:     block.BlockID,
		ChannelSlug: p.channel.Slug,
		Day:         day,
		StartUTCMS:  block.StartUTCMS,
		EndUTCMS:    block.EndUTCMS,
		Segments:    segments,
	})
}

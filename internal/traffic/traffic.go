// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package traffic performs late-bound ad and interstitial fill. Ad selection
// is deferred from compile time to the moment a Tier-1 block is lifted into
// the transmission log, so cooldowns and rotation are evaluated against
// fresh play state. Plays are recorded when a segment actually airs (via
// execution evidence), never at fill time.
package traffic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/metrics"
	"github.com/retrovue/retrovue/internal/models"
)

// Spot is one candidate filler/commercial asset offered for a break.
type Spot struct {
	AssetUUID       string
	URI             string
	Title           string
	DurationMS      int64
	SegmentType     models.SegmentType
	CooldownSeconds int64
}

// SpotSource supplies schedulable spot candidates no longer than the given
// duration. The asset library backs this on the planning side.
type SpotSource interface {
	SpotCandidates(ctx context.Context, maxDurationMS int64) ([]Spot, error)
}

// PlayLog is the traffic play history consulted for cooldowns and appended
// to when evidence reports a spot actually aired.
type PlayLog interface {
	// LastPlayed returns the most recent play instant for the asset, or the
	// zero time when it has never played.
	LastPlayed(ctx context.Context, channelID int64, assetUUID string) (time.Time, error)
	RecordPlay(ctx context.Context, channelID int64, assetUUID string, at time.Time) error
}

// Config carries fill policy.
type Config struct {
	// StaticFillerURI replaces placeholders when no spot library is
	// available or no candidate survives the cooldown filter.
	StaticFillerURI string
	// DefaultCooldown applies to spots with no per-asset cooldown.
	DefaultCooldown time.Duration
}

// Manager fills Tier-1 break placeholders into Tier-2-ready segments.
type Manager struct {
	spots   SpotSource
	playLog PlayLog
	cfg     Config
}

// NewManager creates a traffic manager. spots may be nil: every break then
// gets a single static filler segment of the break duration.
func NewManager(spots SpotSource, playLog PlayLog, cfg Config) *Manager {
	return &Manager{spots: spots, playLog: playLog, cfg: cfg}
}

// FillBlock replaces every empty placeholder in the block with real spots.
// The replacement segments for each break sum exactly to the break duration;
// residual time is distributed as zero-or-positive pads interleaved between
// spots. The returned segments are fully resolved and reindexed.
func (m *Manager) FillBlock(ctx context.Context, channelID int64, block *models.SegmentedBlock, now time.Time) ([]models.ScheduledSegment, error) {
	var out []models.ScheduledSegment
	for i := range block.Segments {
		seg := block.Segments[i]
		if !seg.IsPlaceholder() {
			out = append(out, seg)
			continue
		}
		filled, err := m.fillBreak(ctx, channelID, seg.SegmentDurationMS, now)
		if err != nil {
			return nil, fmt.Errorf("fill break in block %s: %w", block.BlockID, err)
		}
		out = append(out, filled...)
	}
	for i := range out {
		out[i].SegmentIndex = i
	}
	return out, nil
}

// fillBreak selects spots for one break of the given duration.
func (m *Manager) fillBreak(ctx context.Context, channelID int64, breakMS int64, now time.Time) ([]models.ScheduledSegment, error) {
	if m.spots == nil {
		metrics.TrafficBreaksFilled.WithLabelValues("static_filler").Inc()
		return []models.ScheduledSegment{m.staticFiller(breakMS)}, nil
	}

	candidates, err := m.spots.SpotCandidates(ctx, breakMS)
	if err != nil {
		return nil, err
	}
	eligible, err := m.filterCooldown(ctx, channelID, candidates, now)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		logging.Debug().Int64("channel_id", channelID).Int64("break_ms", breakMS).
			Msg("no eligible spots; using static filler")
		metrics.TrafficBreaksFilled.WithLabelValues("static_filler").Inc()
		return []models.ScheduledSegment{m.staticFiller(breakMS)}, nil
	}

	// Greedy pack by duration descending, never exceeding the budget.
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].DurationMS > eligible[j].DurationMS })
	var picked []Spot
	remaining := breakMS
	for _, s := range eligible {
		if s.DurationMS <= remaining && s.DurationMS > 0 {
			picked = append(picked, s)
			remaining -= s.DurationMS
		}
	}
	if len(picked) == 0 {
		metrics.TrafficBreaksFilled.WithLabelValues("static_filler").Inc()
		return []models.ScheduledSegment{m.staticFiller(breakMS)}, nil
	}

	metrics.TrafficBreaksFilled.WithLabelValues("spots").Inc()
	return padOut(picked, remaining), nil
}

// padOut interleaves the residual as pads between spots. Each spot gets an
// equal pad share, the final pad absorbs the remainder, and a trailing pad
// (possibly zero-duration) always closes the break.
func padOut(picked []Spot, residualMS int64) []models.ScheduledSegment {
	n := int64(len(picked))
	per := residualMS / n
	last := residualMS - per*(n-1)

	var out []models.ScheduledSegment
	for i, s := range picked {
		segType := s.SegmentType
		if segType == "" {
			segType = models.SegmentFiller
		}
		out = append(out, models.ScheduledSegment{
			SegmentType:       segType,
			AssetURI:          s.URI,
			SegmentDurationMS: s.DurationMS,
			Title:             s.Title,
		})
		padMS := per
		if i == len(picked)-1 {
			padMS = last
		}
		if padMS > 0 || i == len(picked)-1 {
			out = append(out, models.ScheduledSegment{
				SegmentType:       models.SegmentPad,
				AssetURI:          "",
				SegmentDurationMS: padMS,
			})
		}
	}
	return out
}

func (m *Manager) filterCooldown(ctx context.Context, channelID int64, candidates []Spot, now time.Time) ([]Spot, error) {
	var out []Spot
	for _, s := range candidates {
		cooldown := m.cfg.DefaultCooldown
		if s.CooldownSeconds > 0 {
			cooldown = time.Duration(s.CooldownSeconds) * time.Second
		}
		if cooldown > 0 && m.playLog != nil {
			last, err := m.playLog.LastPlayed(ctx, channelID, s.AssetUUID)
			if err != nil {
				return nil, err
			}
			if !last.IsZero() && now.Sub(last) < cooldown {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Manager) staticFiller(breakMS int64) models.ScheduledSegment {
	return models.ScheduledSegment{
		SegmentType:       models.SegmentFiller,
		AssetURI:          m.cfg.StaticFillerURI,
		SegmentDurationMS: breakMS,
	}
}

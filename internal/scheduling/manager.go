// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package scheduling

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/models"
)

// Episode is one playable item of a catalog program.
type Episode struct {
	AssetUUID  string
	URI        string
	Title      string
	DurationMS int64
}

// ProgramCatalog supplies episodes for a content reference. The asset
// library implements this for planning code; runtime playout never sees it.
type ProgramCatalog interface {
	// Episodes returns the ordered episode list for a content reference.
	// An empty slice means the reference resolves to no playable content.
	Episodes(ctx context.Context, ref models.ContentRef) ([]Episode, error)
}

// SequenceStore tracks the per-(channel, program) episode index for
// sequential play. Positions survive process restart when backed by the
// database implementation.
type SequenceStore interface {
	// Position returns the current index for the key (0 when unseen).
	Position(ctx context.Context, channelID int64, key string) (int, error)
	// Advance stores position+1 (callers apply their own modulus).
	SetPosition(ctx context.Context, channelID int64, key string, pos int) error
}

// ScheduleManager resolves plan renderings into ResolvedScheduleDays.
// Resolution is deterministic given (plan, catalog, sequence positions):
// sequential programs pick the episode at the current index and advance,
// random programs pick with an RNG seeded from (channel, day, slot start).
type ScheduleManager struct {
	catalog  ProgramCatalog
	seq      SequenceStore
	clk      clock.Clock
}

// NewScheduleManager creates a schedule manager.
func NewScheduleManager(catalog ProgramCatalog, seq SequenceStore, clk clock.Clock) *ScheduleManager {
	return &ScheduleManager{catalog: catalog, seq: seq, clk: clk}
}

// SelectPlan picks the authoritative plan for a broadcast day: the active
// plan with the highest priority (ties broken by newest).
func SelectPlan(plans []models.SchedulePlan, day models.BroadcastDay, loc *time.Location) *models.SchedulePlan {
	var best *models.SchedulePlan
	for i := range plans {
		p := &plans[i]
		if !p.Recurrence.ActiveOn(day, loc) {
			continue
		}
		if best == nil || p.Priority > best.Priority ||
			(p.Priority == best.Priority && p.CreatedAt.After(best.CreatedAt)) {
			best = p
		}
	}
	return best
}

// ResolveDay renders a plan onto a broadcast day and resolves every slot's
// content. The output tiles [day_start, day_start+24h): program slots first,
// then synthesized gap slots (grid-cell sized, unreferenced content) so the
// compiled day has full coverage. Series and random programs are split per
// grid cell with one episode per cell; asset, rule and virtual_package
// programs keep their full span.
func (m *ScheduleManager) ResolveDay(ctx context.Context, ch *models.Channel, plan *models.SchedulePlan, day models.BroadcastDay) (*models.ResolvedScheduleDay, error) {
	if err := ValidatePlan(plan, ch); err != nil {
		return nil, err
	}
	loc, err := ch.Location()
	if err != nil {
		return nil, err
	}
	dayStart, err := models.DayStartUTC(day, loc, ch.DayStartHour)
	if err != nil {
		return nil, err
	}

	resolved := &models.ResolvedScheduleDay{
		ID:            uuid.New(),
		ChannelID:     ch.ID,
		Day:           day,
		PlanID:        plan.ID,
		DayStartUTC:   dayStart,
		ResolvedAt:    m.clk.NowUTC(),
		SequenceState: make(map[string]int),
	}

	programs := make([]models.Program, len(plan.Programs))
	copy(programs, plan.Programs)
	sort.Slice(programs, func(i, j int) bool { return programs[i].StartMinutes < programs[j].StartMinutes })

	var slots []models.ScheduleSlot
	for i := range programs {
		p := &programs[i]
		progSlots, err := m.resolveProgram(ctx, ch, p, dayStart, day, resolved.SequenceState)
		if err != nil {
			return nil, fmt.Errorf("resolve program %d: %w", p.ID, err)
		}
		slots = append(slots, progSlots...)
	}

	resolved.Slots = fillGaps(slots, dayStart, ch.GridMinutes)

	if err := ValidateScheduleDay(resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

func (m *ScheduleManager) resolveProgram(ctx context.Context, ch *models.Channel, p *models.Program, dayStart time.Time, day models.BroadcastDay, seqState map[string]int) ([]models.ScheduleSlot, error) {
	start := dayStart.Add(time.Duration(p.StartMinutes) * time.Minute)
	end := start.Add(time.Duration(p.DurationMinutes) * time.Minute)

	switch p.Content.Type {
	case models.ContentSeries, models.ContentRandom:
		// One episode per grid cell.
		cell := time.Duration(ch.GridMinutes) * time.Minute
		var out []models.ScheduleSlot
		for cur := start; cur.Before(end); cur = cur.Add(cell) {
			cellEnd := cur.Add(cell)
			if cellEnd.After(end) {
				cellEnd = end
			}
			slot := models.ScheduleSlot{
				ProgramID: p.ID,
				StartUTC:  cur,
				EndUTC:    cellEnd,
				Content:   p.Content,
			}
			if err := m.pickEpisode(ctx, ch, p, &slot, day, seqState); err != nil {
				return nil, err
			}
			out = append(out, slot)
		}
		return out, nil

	case models.ContentAsset, models.ContentRule, models.ContentVirtualPackage:
		slot := models.ScheduleSlot{
			ProgramID: p.ID,
			StartUTC:  start,
			EndUTC:    end,
			Content:   p.Content,
		}
		if err := m.pickEpisode(ctx, ch, p, &slot, day, seqState); err != nil {
			return nil, err
		}
		return []models.ScheduleSlot{slot}, nil

	default:
		return nil, fmt.Errorf("unknown content type %q", p.Content.Type)
	}
}

// pickEpisode resolves a slot's concrete asset from the catalog.
func (m *ScheduleManager) pickEpisode(ctx context.Context, ch *models.Channel, p *models.Program, slot *models.ScheduleSlot, day models.BroadcastDay, seqState map[string]int) error {
	episodes, err := m.catalog.Episodes(ctx, p.Content)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		logging.Debug().
			Str("channel", ch.Slug).
			Str("ref", p.Content.Ref).
			Msg("content reference resolves to no episodes; slot left unfilled")
		return nil
	}

	var idx int
	mode := p.PlayMode
	if mode == "" && p.Content.Type == models.ContentRandom {
		mode = models.PlayRandom
	}
	switch mode {
	case models.PlayRandom:
		idx = seededIndex(ch.ID, day, slot.StartUTC, len(episodes))
	default:
		key := seqKey(p)
		pos, err := m.seq.Position(ctx, ch.ID, key)
		if err != nil {
			return err
		}
		idx = pos % len(episodes)
		if err := m.seq.SetPosition(ctx, ch.ID, key, (pos+1)%len(episodes)); err != nil {
			return err
		}
		seqState[key] = idx
	}

	ep := episodes[idx]
	slot.AssetUUID = ep.AssetUUID
	slot.AssetURI = ep.URI
	slot.AssetDurationMS = ep.DurationMS
	slot.Title = ep.Title
	return nil
}

func seqKey(p *models.Program) string {
	return string(p.Content.Type) + ":" + p.Content.Ref
}

// seededIndex derives a deterministic episode index from
// (channel, broadcast day, slot start).
func seededIndex(channelID int64, day models.BroadcastDay, slotStart time.Time, n int) int {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%d", channelID, day, slotStart.UnixMilli())
	rng := rand.New(rand.NewSource(int64(h.Sum64()))) //nolint:gosec // deterministic scheduling, not crypto
	return rng.Intn(n)
}

// fillGaps tiles the uncovered parts of [dayStart, dayStart+24h) with
// grid-cell-sized slots carrying no content reference. The Tier-1 compiler
// turns these into whole-slot break placeholders.
func fillGaps(slots []models.ScheduleSlot, dayStart time.Time, gridMinutes int) []models.ScheduleSlot {
	boundary := dayStart.Add(24 * time.Hour)
	cell := time.Duration(gridMinutes) * time.Minute

	sort.Slice(slots, func(i, j int) bool { return slots[i].StartUTC.Before(slots[j].StartUTC) })

	var out []models.ScheduleSlot
	cursor := dayStart
	emitGap := func(from, to time.Time) {
		for cur := from; cur.Before(to); cur = cur.Add(cell) {
			end := cur.Add(cell)
			if end.After(to) {
				end = to
			}
			out = append(out, models.ScheduleSlot{StartUTC: cur, EndUTC: end})
		}
	}

	for i := range slots {
		if slots[i].StartUTC.After(cursor) {
			emitGap(cursor, slots[i].StartUTC)
		}
		out = append(out, slots[i])
		if slots[i].EndUTC.After(cursor) {
			cursor = slots[i].EndUTC
		}
	}
	if cursor.Before(boundary) {
		emitGap(cursor, boundary)
	}
	return out
}

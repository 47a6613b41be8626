// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package horizon

import (
	"context"
	"testing"
	"time"

	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/traffic"
)

type fakeTier1 struct {
	days map[models.BroadcastDay]*models.CompiledProgramLog
}

func (f *fakeTier1) CompiledDay(_ context.Context, _ int64, day models.BroadcastDay) (*models.CompiledProgramLog, error) {
	log, ok := f.days[day]
	if !ok {
		return nil, ErrNoCompiledDay
	}
	return log, nil
}

type memoryTransmissionStore struct {
	rows    map[string]*models.TransmissionLogRow
	upserts int
}

func newMemoryTransmissionStore() *memoryTransmissionStore {
	return &memoryTransmissionStore{rows: make(map[string]*models.TransmissionLogRow)}
}

func (s *memoryTransmissionStore) RowCovering(_ context.Context, _ string, utcMS int64) (*models.TransmissionLogRow, error) {
	for _, r := range s.rows {
		if r.Covers(utcMS) {
			return r, nil
		}
	}
	return nil, nil
}

func (s *memoryTransmissionStore) Frontier(_ context.Context, _ string) (int64, error) {
	var end int64
	for _, r := range s.rows {
		if r.EndUTCMS > end {
			end = r.EndUTCMS
		}
	}
	return end, nil
}

func (s *memoryTransmissionStore) HasBlock(_ context.Context, blockID string) (bool, error) {
	_, ok := s.rows[blockID]
	return ok, nil
}

func (s *memoryTransmissionStore) UpsertRow(_ context.Context, row *models.TransmissionLogRow) error {
	s.rows[row.BlockID] = row
	s.upserts++
	return nil
}

func horizonChannel() *models.Channel {
	return &models.Channel{ID: 1, Slug: "retro1", Timezone: "UTC", DayStartHour: 6, GridMinutes: 30}
}

// compiledDayAt builds a full broadcast day of 30m blocks, each a 22m content
// segment plus an 8m break placeholder and a pad.
func compiledDayAt(ch *models.Channel, day models.BroadcastDay) *models.CompiledProgramLog {
	loc, _ := ch.Location()
	dayStart, _ := models.DayStartUTC(day, loc, ch.DayStartHour)
	log := &models.CompiledProgramLog{ChannelID: ch.ID, Day: day}
	for i := 0; i < 48; i++ {
		start := dayStart.Add(time.Duration(i) * 30 * time.Minute)
		startMS := start.UnixMilli()
		endMS := start.Add(30 * time.Minute).UnixMilli()
		log.Blocks = append(log.Blocks, models.SegmentedBlock{
			BlockID:    models.BlockID(ch.Slug, startMS),
			StartUTCMS: startMS,
			EndUTCMS:   endMS,
			Segments: []models.ScheduledSegment{
				{SegmentIndex: 0, SegmentType: models.SegmentContent, AssetURI: "file:///ep.mkv", SegmentDurationMS: 22 * 60 * 1000},
				{SegmentIndex: 1, SegmentType: models.SegmentFiller, AssetURI: "", SegmentDurationMS: 8 * 60 * 1000},
				{SegmentIndex: 2, SegmentType: models.SegmentPad, AssetURI: "", SegmentDurationMS: 0},
			},
		})
	}
	return log
}

func daemonFixture(t *testing.T, now time.Time, days ...models.BroadcastDay) (*PlaylogDaemon, *memoryTransmissionStore, *clock.Fake) {
	t.Helper()
	ch := horizonChannel()
	tier1 := &fakeTier1{days: make(map[models.BroadcastDay]*models.CompiledProgramLog)}
	for _, d := range days {
		tier1.days[d] = compiledDayAt(ch, d)
	}
	store := newMemoryTransmissionStore()
	fill := traffic.NewManager(nil, nil, traffic.Config{StaticFillerURI: "file:///filler.mkv"})
	clk := clock.NewFake(now)
	d, err := NewPlaylogDaemon(ch, tier1, store, fill, clk, PlaylogConfig{
		MinHours:         6,
		MaxLookaheadDays: 3,
	})
	if err != nil {
		t.Fatalf("NewPlaylogDaemon: %v", err)
	}
	return d, store, clk
}

func TestEvaluateOnceFillsToTarget(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d, store, _ := daemonFixture(t, now, "2026-03-01", "2026-03-02")

	if err := d.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("EvaluateOnce: %v", err)
	}

	frontier, _ := store.Frontier(context.Background(), "retro1")
	target := now.Add(6 * time.Hour).UnixMilli()
	if frontier < target {
		t.Errorf("frontier %d below 6h target %d", frontier, target)
	}

	// Every written row is fully resolved: no empty URIs on timed segments.
	for id, row := range store.rows {
		for si := range row.Segments {
			s := &row.Segments[si]
			if s.IsPlaceholder() {
				t.Errorf("row %s segment %d still a placeholder", id, si)
			}
		}
	}
}

func TestEvaluateOnceIdempotentWhenDeep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d, store, _ := daemonFixture(t, now, "2026-03-01", "2026-03-02")
	ctx := context.Background()

	if err := d.EvaluateOnce(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	upserts := store.upserts
	if err := d.EvaluateOnce(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if store.upserts != upserts {
		t.Errorf("second pass wrote %d extra rows; evaluation must be idempotent", store.upserts-upserts)
	}
}

func TestEvaluateOnceBackfillsCoverageHole(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	d, store, _ := daemonFixture(t, now, "2026-03-01")
	ctx := context.Background()

	if err := d.EvaluateOnce(ctx); err != nil {
		t.Fatalf("EvaluateOnce: %v", err)
	}
	row, _ := store.RowCovering(ctx, "retro1", now.UnixMilli())
	if row == nil {
		t.Fatal("no transmission row covers now after evaluation")
	}
	if !row.Covers(now.UnixMilli()) {
		t.Errorf("row [%d, %d) does not cover %d", row.StartUTCMS, row.EndUTCMS, now.UnixMilli())
	}
}

func TestEvaluateOnceNoCompiledDays(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d, store, _ := daemonFixture(t, now) // no compiled days at all

	// Missing Tier-1 coverage is reported, not fatal.
	if err := d.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("EvaluateOnce: %v", err)
	}
	if store.upserts != 0 {
		t.Errorf("wrote %d rows with no compiled source", store.upserts)
	}
}

func TestEvaluateOnceCrossesDayBoundary(t *testing.T) {
	// 03:00 UTC on a channel whose day starts 06:00: the covering broadcast
	// day is the previous date, and the 6h target reaches into the next day.
	now := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	d, store, _ := daemonFixture(t, now, "2026-03-01", "2026-03-02")

	if err := d.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("EvaluateOnce: %v", err)
	}
	frontier, _ := store.Frontier(context.Background(), "retro1")
	if frontier < now.Add(6*time.Hour).UnixMilli() {
		t.Errorf("frontier %d does not reach across the day boundary", frontier)
	}

	// Rows from both broadcast days must be present.
	daysSeen := map[models.BroadcastDay]bool{}
	for _, row := range store.rows {
		daysSeen[row.Day] = true
	}
	if !daysSeen["2026-03-01"] || !daysSeen["2026-03-02"] {
		t.Errorf("days seen = %v, want both sides of the boundary", daysSeen)
	}
}

func TestFrontierMonotonic(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d, _, clk := daemonFixture(t, now, "2026-03-01", "2026-03-02")
	ctx := context.Background()

	if err := d.EvaluateOnce(ctx); err != nil {
		t.Fatalf("EvaluateOnce: %v", err)
	}
	first := d.frontierMS

	clk.Advance(2 * time.Hour)
	if err := d.EvaluateOnce(ctx); err != nil {
		t.Fatalf("EvaluateOnce: %v", err)
	}
	if d.frontierMS < first {
		t.Errorf("frontier moved backwards: %d -> %d", first, d.frontierMS)
	}
}

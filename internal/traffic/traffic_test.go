// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package traffic

import (
	"context"
	"testing"
	"time"

	"github.com/retrovue/retrovue/internal/models"
)

type fakeSpotSource struct {
	spots []Spot
}

func (f *fakeSpotSource) SpotCandidates(_ context.Context, maxDurationMS int64) ([]Spot, error) {
	var out []Spot
	for _, s := range f.spots {
		if s.DurationMS <= maxDurationMS {
			out = append(out, s)
		}
	}
	return out, nil
}

type memoryPlayLog struct {
	plays map[string]time.Time
}

func newMemoryPlayLog() *memoryPlayLog { return &memoryPlayLog{plays: make(map[string]time.Time)} }

func (l *memoryPlayLog) LastPlayed(_ context.Context, _ int64, assetUUID string) (time.Time, error) {
	return l.plays[assetUUID], nil
}

func (l *memoryPlayLog) RecordPlay(_ context.Context, _ int64, assetUUID string, at time.Time) error {
	l.plays[assetUUID] = at
	return nil
}

func spot(id string, durMS int64) Spot {
	return Spot{
		AssetUUID:   id,
		URI:         "file:///spots/" + id + ".mkv",
		Title:       id,
		DurationMS:  durMS,
		SegmentType: models.SegmentCommercial,
	}
}

func blockWithBreak(breakMS int64) *models.SegmentedBlock {
	start := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC).UnixMilli()
	return &models.SegmentedBlock{
		BlockID:    models.BlockID("retro1", start),
		StartUTCMS: start,
		EndUTCMS:   start + 22*60*1000 + breakMS,
		Segments: []models.ScheduledSegment{
			{SegmentIndex: 0, SegmentType: models.SegmentContent, AssetURI: "file:///ep.mkv", SegmentDurationMS: 22 * 60 * 1000},
			{SegmentIndex: 1, SegmentType: models.SegmentFiller, AssetURI: "", SegmentDurationMS: breakMS},
			{SegmentIndex: 2, SegmentType: models.SegmentPad, AssetURI: "", SegmentDurationMS: 0},
		},
	}
}

func segTotal(segs []models.ScheduledSegment) int64 {
	var total int64
	for i := range segs {
		total += segs[i].SegmentDurationMS
	}
	return total
}

func TestFillBlockExactDuration(t *testing.T) {
	src := &fakeSpotSource{spots: []Spot{
		spot("ad-1", 30_000),
		spot("ad-2", 60_000),
		spot("ad-3", 15_000),
	}}
	m := NewManager(src, newMemoryPlayLog(), Config{DefaultCooldown: time.Hour})
	block := blockWithBreak(2 * 60 * 1000)
	now := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)

	segs, err := m.FillBlock(context.Background(), 1, block, now)
	if err != nil {
		t.Fatalf("FillBlock: %v", err)
	}

	if got := segTotal(segs); got != block.DurationMS() {
		t.Fatalf("filled segments total %dms, want exactly %dms", got, block.DurationMS())
	}
	for i := range segs {
		if segs[i].SegmentIndex != i {
			t.Errorf("segment %d has index %d", i, segs[i].SegmentIndex)
		}
		if segs[i].IsPlaceholder() {
			t.Errorf("segment %d is still an unfilled placeholder", i)
		}
	}
}

func TestFillBlockCooldownExcludesRecentPlays(t *testing.T) {
	src := &fakeSpotSource{spots: []Spot{spot("ad-1", 60_000), spot("ad-2", 60_000)}}
	playLog := newMemoryPlayLog()
	m := NewManager(src, playLog, Config{DefaultCooldown: 30 * time.Minute})
	now := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)

	// ad-1 played 10 minutes ago: inside the cooldown window.
	playLog.plays["ad-1"] = now.Add(-10 * time.Minute)

	segs, err := m.FillBlock(context.Background(), 1, blockWithBreak(60_000), now)
	if err != nil {
		t.Fatalf("FillBlock: %v", err)
	}
	for i := range segs {
		if segs[i].AssetURI == "file:///spots/ad-1.mkv" {
			t.Error("spot inside cooldown window was selected")
		}
	}

	// Once the cooldown lapses, ad-1 is eligible again.
	later := now.Add(25 * time.Minute)
	segs, err = m.FillBlock(context.Background(), 1, blockWithBreak(60_000), later)
	if err != nil {
		t.Fatalf("FillBlock: %v", err)
	}
	var sawAd bool
	for i := range segs {
		if segs[i].SegmentType == models.SegmentCommercial {
			sawAd = true
		}
	}
	if !sawAd {
		t.Error("no commercial selected after cooldown lapsed")
	}
}

func TestFillBlockPerAssetCooldownOverridesDefault(t *testing.T) {
	short := spot("ad-short", 60_000)
	short.CooldownSeconds = 60
	src := &fakeSpotSource{spots: []Spot{short}}
	playLog := newMemoryPlayLog()
	m := NewManager(src, playLog, Config{DefaultCooldown: 24 * time.Hour, StaticFillerURI: "file:///filler.mkv"})
	now := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)

	// Played 2 minutes ago: outside the 60s per-asset cooldown even though
	// the default is 24h.
	playLog.plays["ad-short"] = now.Add(-2 * time.Minute)

	segs, err := m.FillBlock(context.Background(), 1, blockWithBreak(60_000), now)
	if err != nil {
		t.Fatalf("FillBlock: %v", err)
	}
	var sawAd bool
	for i := range segs {
		if segs[i].SegmentType == models.SegmentCommercial {
			sawAd = true
		}
	}
	if !sawAd {
		t.Error("per-asset cooldown should have admitted the spot")
	}
}

func TestFillBlockStaticFillerFallback(t *testing.T) {
	t.Run("nil spot source", func(t *testing.T) {
		m := NewManager(nil, nil, Config{StaticFillerURI: "file:///filler.mkv"})
		block := blockWithBreak(90_000)
		segs, err := m.FillBlock(context.Background(), 1, block, time.Now())
		if err != nil {
			t.Fatalf("FillBlock: %v", err)
		}
		if got := segTotal(segs); got != block.DurationMS() {
			t.Fatalf("total %dms, want %dms", got, block.DurationMS())
		}
		var filler *models.ScheduledSegment
		for i := range segs {
			if segs[i].AssetURI == "file:///filler.mkv" {
				filler = &segs[i]
			}
		}
		if filler == nil || filler.SegmentDurationMS != 90_000 {
			t.Errorf("static filler segment: %+v", filler)
		}
	})

	t.Run("all spots cooling down", func(t *testing.T) {
		src := &fakeSpotSource{spots: []Spot{spot("ad-1", 60_000)}}
		playLog := newMemoryPlayLog()
		now := time.Now().UTC()
		playLog.plays["ad-1"] = now.Add(-time.Minute)
		m := NewManager(src, playLog, Config{DefaultCooldown: time.Hour, StaticFillerURI: "file:///filler.mkv"})

		segs, err := m.FillBlock(context.Background(), 1, blockWithBreak(60_000), now)
		if err != nil {
			t.Fatalf("FillBlock: %v", err)
		}
		var sawFiller bool
		for i := range segs {
			if segs[i].AssetURI == "file:///filler.mkv" {
				sawFiller = true
			}
		}
		if !sawFiller {
			t.Error("expected static filler when every spot is cooling down")
		}
	})
}

func TestFillBlockNoPlayRecordingAtFillTime(t *testing.T) {
	src := &fakeSpotSource{spots: []Spot{spot("ad-1", 60_000)}}
	playLog := newMemoryPlayLog()
	m := NewManager(src, playLog, Config{DefaultCooldown: time.Hour})

	if _, err := m.FillBlock(context.Background(), 1, blockWithBreak(60_000), time.Now()); err != nil {
		t.Fatalf("FillBlock: %v", err)
	}
	if len(playLog.plays) != 0 {
		t.Error("fill recorded a play; plays are recorded only when evidence reports airing")
	}
}

func TestPadOutResidualDistribution(t *testing.T) {
	picked := []Spot{spot("a", 30_000), spot("b", 20_000), spot("c", 10_000)}
	segs := padOut(picked, 10_000)

	if got := segTotal(segs); got != 70_000 {
		t.Fatalf("total %dms, want 70000", got)
	}
	// Pads: 3333, 3333, 3334 between/after spots.
	var pads []int64
	for i := range segs {
		if segs[i].SegmentType == models.SegmentPad {
			pads = append(pads, segs[i].SegmentDurationMS)
		}
	}
	if len(pads) != 3 {
		t.Fatalf("pads = %d, want 3", len(pads))
	}
	if pads[0] != 3333 || pads[1] != 3333 || pads[2] != 3334 {
		t.Errorf("pad distribution = %v", pads)
	}
}

// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package runtime

import (
	"context"
	"errors"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/models"
)

type fakeReader struct {
	rows []*models.TransmissionLogRow
	err  error
}

func (f *fakeReader) RowCovering(_ context.Context, _ string, utcMS int64) (*models.TransmissionLogRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.rows {
		if r.Covers(utcMS) {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeReader) NextRow(_ context.Context, _ string, fromMS int64) (*models.TransmissionLogRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	var best *models.TransmissionLogRow
	for _, r := range f.rows {
		if r.StartUTCMS >= fromMS && (best == nil || r.StartUTCMS < best.StartUTCMS) {
			best = r
		}
	}
	return best, nil
}

func runtimeChannel() *models.Channel {
	return &models.Channel{ID: 1, Slug: "retro1", Timezone: "UTC", DayStartHour: 6, GridMinutes: 30}
}

// rowAt builds a block with a 22m content segment, a 7m filler and a 1m
// trailing commercial so boundary sequences have a segment to cross into.
func rowAt(start time.Time) *models.TransmissionLogRow {
	startMS := start.UnixMilli()
	return &models.TransmissionLogRow{
		BlockID:     models.BlockID("retro1", startMS),
		ChannelSlug: "retro1",
		Day:         models.BroadcastDayFor(start, time.UTC, 6),
		StartUTCMS:  startMS,
		EndUTCMS:    startMS + 30*60*1000,
		Segments: []models.ScheduledSegment{
			{SegmentIndex: 0, SegmentType: models.SegmentContent, AssetURI: "file:///ep.mkv", Title: "Episode", SegmentDurationMS: 22 * 60 * 1000},
			{SegmentIndex: 1, SegmentType: models.SegmentFiller, AssetURI: "file:///filler.mkv", SegmentDurationMS: 7 * 60 * 1000},
			{SegmentIndex: 2, SegmentType: models.SegmentCommercial, AssetURI: "file:///ad.mkv", SegmentDurationMS: 60 * 1000},
		},
	}
}

func managerFixture(now time.Time, rows ...*models.TransmissionLogRow) (*Manager, *FakePort, *clock.Fake) {
	port := NewFakePort()
	clk := clock.NewFake(now)
	m := NewManager(runtimeChannel(), &fakeReader{rows: rows}, port, clk, ManagerConfig{
		PreloadWindow: 5 * time.Second,
		GraceTimeout:  10 * time.Second,
	})
	return m, port, clk
}

// tickUntil ticks the manager until the state is reached or attempts run out.
func tickUntil(t *testing.T, m *Manager, want BoundaryState) {
	t.Helper()
	for i := 0; i < 10; i++ {
		if m.State() == want {
			return
		}
		m.Tick(context.Background())
	}
	t.Fatalf("state = %s after 10 ticks, want %s", m.State(), want)
}

func TestJoinMidSegmentReachesLive(t *testing.T) {
	blockStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := blockStart.Add(5 * time.Minute) // 5m into the content segment
	m, port, _ := managerFixture(now, rowAt(blockStart))

	tickUntil(t, m, StateLive)

	previews, switches, _ := port.Snapshot()
	if len(previews) != 1 || len(switches) != 1 {
		t.Fatalf("previews = %d, switches = %d, want 1 each", len(previews), len(switches))
	}
	req := switches[0]
	if req.AssetPath != "file:///ep.mkv" {
		t.Errorf("asset = %q", req.AssetPath)
	}
	// Joining 5m in seeks 5m into the asset.
	if req.StartPTS != 5*60*1000 {
		t.Errorf("seek = %dms, want 300000", req.StartPTS)
	}
	// Remaining duration is the 17m left in the segment.
	if req.DurationSeconds != 17*60 {
		t.Errorf("duration = %gs, want 1020", req.DurationSeconds)
	}
	if req.Metadata["segment_type"] != string(models.SegmentContent) {
		t.Errorf("metadata = %v", req.Metadata)
	}
}

func TestBoundaryWaitsForPreloadWindow(t *testing.T) {
	blockStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Off-air, next row 10 minutes away: far outside the 5s preload window.
	now := blockStart.Add(-10 * time.Minute)
	m, port, clk := managerFixture(now, rowAt(blockStart))

	m.Tick(context.Background())
	if m.State() != StateNone {
		t.Fatalf("state = %s, want NONE while boundary is distant", m.State())
	}

	// Inside the window the sequence starts and the switch waits for the
	// boundary instant.
	clk.Set(blockStart.Add(-3 * time.Second))
	tickUntil(t, m, StateSwitchScheduled)
	m.Tick(context.Background())
	if m.State() != StateSwitchScheduled {
		t.Fatalf("switched before the boundary instant: %s", m.State())
	}

	clk.Set(blockStart)
	m.Tick(context.Background())
	if m.State() != StateLive {
		t.Fatalf("state = %s at boundary, want LIVE", m.State())
	}
	_, switches, _ := port.Snapshot()
	if len(switches) != 1 || switches[0].StartPTS != 0 {
		t.Errorf("switch at boundary should start from offset 0: %+v", switches)
	}
}

func TestNextBoundaryFromLive(t *testing.T) {
	blockStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := blockStart.Add(5 * time.Minute)
	m, port, clk := managerFixture(now, rowAt(blockStart))

	tickUntil(t, m, StateLive)

	// Just before the 22m segment boundary the next sequence begins for the
	// filler segment.
	clk.Set(blockStart.Add(22*time.Minute - 2*time.Second))
	tickUntil(t, m, StateSwitchScheduled)
	clk.Set(blockStart.Add(22 * time.Minute))
	m.Tick(context.Background())
	if m.State() != StateLive {
		t.Fatalf("state = %s after segment boundary, want LIVE", m.State())
	}
	_, switches, _ := port.Snapshot()
	if len(switches) != 2 {
		t.Fatalf("switches = %d, want 2", len(switches))
	}
	if switches[1].AssetPath != "file:///filler.mkv" {
		t.Errorf("second switch asset = %q, want the filler", switches[1].AssetPath)
	}
}

func TestPreviewFailureIsTerminal(t *testing.T) {
	blockStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, port, _ := managerFixture(blockStart.Add(time.Minute), rowAt(blockStart))
	port.FailPreview = errors.New("engine unreachable")

	for i := 0; i < 5; i++ {
		m.Tick(context.Background())
	}
	if m.State() != StateFailedTerminal {
		t.Fatalf("state = %s, want FAILED_TERMINAL", m.State())
	}
	if !strings.Contains(m.FatalReason(), "load preview") {
		t.Errorf("fatal reason = %q", m.FatalReason())
	}

	// Terminal is absorbing: further ticks change nothing.
	m.Tick(context.Background())
	if m.State() != StateFailedTerminal {
		t.Error("left FAILED_TERMINAL")
	}
}

func TestTeardownImmediateWhenStable(t *testing.T) {
	blockStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, port, _ := managerFixture(blockStart.Add(time.Minute), rowAt(blockStart))

	tickUntil(t, m, StateLive)
	m.RequestTeardown(context.Background())

	if m.State() != StateNone {
		t.Fatalf("state = %s after teardown from LIVE, want NONE", m.State())
	}
	_, _, teardowns := port.Snapshot()
	if teardowns != 1 {
		t.Errorf("teardowns = %d, want 1", teardowns)
	}
}

func TestDeferredTeardownRunsWhenSequenceCompletes(t *testing.T) {
	blockStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, port, clk := managerFixture(blockStart.Add(-10*time.Minute), rowAt(blockStart))

	clk.Set(blockStart.Add(-3 * time.Second))
	tickUntil(t, m, StateSwitchScheduled)
	m.RequestTeardown(context.Background())
	if m.State() != StateSwitchScheduled {
		t.Fatalf("state = %s, teardown from a transient state must defer", m.State())
	}

	// The boundary arrives inside the grace window: the in-flight switch
	// completes and the deferred teardown fires from LIVE in the same tick.
	clk.Set(blockStart)
	m.Tick(context.Background())
	if m.State() != StateNone {
		t.Fatalf("state = %s, want NONE after deferred teardown", m.State())
	}
	_, switches, teardowns := port.Snapshot()
	if len(switches) != 1 || teardowns != 1 {
		t.Errorf("switches = %d, teardowns = %d, want 1 each", len(switches), teardowns)
	}
	if m.FatalReason() != "" {
		t.Errorf("fatal reason = %q, deferred teardown is not a failure", m.FatalReason())
	}
}

func TestTeardownGraceTimeout(t *testing.T) {
	blockStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := blockStart.Add(time.Minute)
	m, port, clk := managerFixture(now, rowAt(blockStart))

	// Advance only to PLANNED, then request teardown mid-sequence.
	m.Tick(context.Background())
	if m.State() != StatePlanned {
		t.Fatalf("state = %s, want PLANNED", m.State())
	}
	m.RequestTeardown(context.Background())

	// The in-flight sequence keeps stepping while the teardown is pending.
	m.Tick(context.Background())
	if m.State() != StatePreloadIssued {
		t.Fatalf("state = %s, in-flight sequence must continue while pending", m.State())
	}
	_, _, teardowns := port.Snapshot()
	if teardowns != 0 {
		t.Error("teardown executed from a transient state")
	}

	clk.Advance(11 * time.Second)
	m.Tick(context.Background())
	if m.State() != StateFailedTerminal {
		t.Fatalf("state = %s after grace timeout, want FAILED_TERMINAL", m.State())
	}
	if !strings.Contains(m.FatalReason(), "grace timeout") {
		t.Errorf("fatal reason = %q", m.FatalReason())
	}
}

func TestLastViewerTriggersTeardown(t *testing.T) {
	blockStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, port, _ := managerFixture(blockStart.Add(time.Minute), rowAt(blockStart))
	tickUntil(t, m, StateLive)

	m.ViewerConnected()
	m.ViewerConnected()
	m.ViewerDisconnected(context.Background())
	if _, _, teardowns := port.Snapshot(); teardowns != 0 {
		t.Error("teardown with a viewer still connected")
	}
	m.ViewerDisconnected(context.Background())
	if _, _, teardowns := port.Snapshot(); teardowns != 1 {
		t.Error("last viewer leaving did not tear down")
	}
}

// Feed-time code must stay decoupled from planning: the runtime package may
// read the transmission log only, never the asset library.
func TestNoLibraryImport(t *testing.T) {
	entries, err := os.ReadDir(".")
	if err != nil {
		t.Fatal(err)
	}
	fset := token.NewFileSet()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") || strings.HasSuffix(e.Name(), "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(".", e.Name()), nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", e.Name(), err)
		}
		for _, imp := range f.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if strings.HasSuffix(path, "/internal/library") || strings.HasSuffix(path, "/internal/scheduling") {
				t.Errorf("%s imports %s; feed time reads the transmission log only", e.Name(), path)
			}
		}
	}
}

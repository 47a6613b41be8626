// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/scheduling"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout:  time.Second,
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertTestChannel(t *testing.T, db *DB) *models.Channel {
	t.Helper()
	ch := &models.Channel{
		Slug:         "retro1",
		Name:         "Retro One",
		Timezone:     "UTC",
		DayStartHour: 6,
		GridMinutes:  30,
	}
	if err := db.InsertChannel(context.Background(), ch); err != nil {
		t.Fatalf("insert channel: %v", err)
	}
	return ch
}

// insertTestCollection creates a source + collection pair; assets require a
// real collection row behind the foreign key.
func insertTestCollection(t *testing.T, db *DB) int64 {
	t.Helper()
	ctx := context.Background()
	src := &models.Source{Type: "local", Name: "media", Config: map[string]string{"root": "/media"}}
	if err := db.InsertSource(ctx, src); err != nil {
		t.Fatalf("insert source: %v", err)
	}
	coll := &models.Collection{SourceID: src.ID, Name: "library", SyncEnabled: true, Ingestible: true}
	if err := db.InsertCollection(ctx, coll); err != nil {
		t.Fatalf("insert collection: %v", err)
	}
	return coll.ID
}

func TestChannelRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ch := insertTestChannel(t, db)
	if ch.ID == 0 {
		t.Fatal("insert did not assign an id")
	}

	got, err := db.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if got.Slug != "retro1" || got.DayStartHour != 6 || got.GridMinutes != 30 {
		t.Errorf("round trip = %+v", got)
	}
	if len(got.GridOffsets) == 0 {
		t.Error("grid offsets lost in round trip")
	}

	bySlug, err := db.ChannelBySlug(ctx, "retro1")
	if err != nil || bySlug.ID != ch.ID {
		t.Errorf("ChannelBySlug = %+v, %v", bySlug, err)
	}

	if _, err := db.ChannelBySlug(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing channel error = %v, want ErrNotFound", err)
	}
}

func TestPlanRoundTripAndOrdering(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ch := insertTestChannel(t, db)

	base := &models.SchedulePlan{
		ChannelID: ch.ID,
		Name:      "base",
		Priority:  1,
		Programs: []models.Program{{
			ID:              1,
			StartMinutes:    0,
			DurationMinutes: 30,
			Content:         models.ContentRef{Type: models.ContentSeries, Ref: "1"},
			PlayMode:        models.PlaySequential,
			Label:           "morning",
		}},
		Labels: map[string]string{"morning": "Morning Show"},
	}
	weekend := &models.SchedulePlan{ChannelID: ch.ID, Name: "weekend", Priority: 5}
	for _, p := range []*models.SchedulePlan{base, weekend} {
		if err := db.InsertPlan(ctx, p); err != nil {
			t.Fatalf("insert plan %s: %v", p.Name, err)
		}
	}

	got, err := db.GetPlan(ctx, base.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if len(got.Programs) != 1 || got.Programs[0].Label != "morning" {
		t.Errorf("programs = %+v", got.Programs)
	}
	if got.Labels["morning"] != "Morning Show" {
		t.Errorf("labels = %v", got.Labels)
	}

	plans, err := db.PlansForChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("PlansForChannel: %v", err)
	}
	if len(plans) != 2 || plans[0].Name != "weekend" {
		t.Errorf("plan order = %+v, want highest priority first", plans)
	}

	if _, err := db.GetPlan(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing plan error = %v", err)
	}
	if err := db.DeletePlan(ctx, weekend.ID); err != nil {
		t.Fatalf("DeletePlan: %v", err)
	}
	if err := db.DeletePlan(ctx, weekend.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete error = %v", err)
	}
}

func testDay(ch *models.Channel, day models.BroadcastDay, planID int64) *models.ResolvedScheduleDay {
	dayStart := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	return &models.ResolvedScheduleDay{
		ID:          uuid.New(),
		ChannelID:   ch.ID,
		Day:         day,
		PlanID:      planID,
		DayStartUTC: dayStart,
		Slots: []models.ScheduleSlot{{
			ProgramID: 1,
			StartUTC:  dayStart,
			EndUTC:    dayStart.Add(24 * time.Hour),
			Content:   models.ContentRef{Type: models.ContentSeries, Ref: "1"},
			AssetURI:  "file:///ep.mkv",
			Title:     "Episode",
		}},
		SequenceState: map[string]int{"series:1": 3},
		ResolvedAt:    dayStart,
	}
}

func TestDayUniquePerDate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ch := insertTestChannel(t, db)

	rec := testDay(ch, "2026-03-01", 0)
	if err := db.InsertDay(ctx, rec); err != nil {
		t.Fatalf("InsertDay: %v", err)
	}
	// The (channel, date) uniqueness constraint rejects a second record.
	if err := db.InsertDay(ctx, testDay(ch, "2026-03-01", 0)); err == nil {
		t.Error("second insert for the same date accepted")
	}

	got, err := db.GetDay(ctx, ch.ID, "2026-03-01")
	if err != nil {
		t.Fatalf("GetDay: %v", err)
	}
	if got.ID != rec.ID || len(got.Slots) != 1 || got.SequenceState["series:1"] != 3 {
		t.Errorf("round trip = %+v", got)
	}
	if _, err := db.GetDay(ctx, ch.ID, "2026-03-02"); !errors.Is(err, scheduling.ErrNotFound) {
		t.Errorf("missing day error = %v, want scheduling.ErrNotFound", err)
	}
}

func TestReplaceDaySwapsAtomically(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ch := insertTestChannel(t, db)

	orig := testDay(ch, "2026-03-01", 0)
	if err := db.InsertDay(ctx, orig); err != nil {
		t.Fatalf("InsertDay: %v", err)
	}
	repl := testDay(ch, "2026-03-01", 0)
	repl.IsManualOverride = true
	repl.SupersedesID = orig.ID
	if err := db.ReplaceDay(ctx, orig.ID, repl); err != nil {
		t.Fatalf("ReplaceDay: %v", err)
	}

	got, err := db.GetDay(ctx, ch.ID, "2026-03-01")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != repl.ID || !got.IsManualOverride || got.SupersedesID != orig.ID {
		t.Errorf("replacement = %+v", got)
	}

	// Replacing a record that no longer exists fails cleanly.
	if err := db.ReplaceDay(ctx, orig.ID, testDay(ch, "2026-03-02", 0)); !errors.Is(err, ErrNotFound) {
		t.Errorf("replace of missing record = %v", err)
	}
}

func TestSequencePositions(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ch := insertTestChannel(t, db)

	pos, err := db.Position(ctx, ch.ID, "series:1")
	if err != nil || pos != 0 {
		t.Fatalf("unseen position = (%d, %v), want 0", pos, err)
	}
	if err := db.SetPosition(ctx, ch.ID, "series:1", 4); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPosition(ctx, ch.ID, "series:1", 5); err != nil {
		t.Fatal(err)
	}
	pos, err = db.Position(ctx, ch.ID, "series:1")
	if err != nil || pos != 5 {
		t.Errorf("position = (%d, %v), want 5", pos, err)
	}
}

func transmissionRow(blockID string, startMS int64) *models.TransmissionLogRow {
	return &models.TransmissionLogRow{
		BlockID:     blockID,
		ChannelSlug: "retro1",
		Day:         "2026-03-01",
		StartUTCMS:  startMS,
		EndUTCMS:    startMS + 30*60*1000,
		Segments: []models.ScheduledSegment{
			{SegmentIndex: 0, SegmentType: models.SegmentContent, AssetURI: "file:///ep.mkv", SegmentDurationMS: 22 * 60 * 1000},
			{SegmentIndex: 1, SegmentType: models.SegmentCommercial, AssetURI: "file:///ad.mkv", SegmentDurationMS: 8 * 60 * 1000},
		},
	}
}

func TestTransmissionLogQueries(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	for i := int64(0); i < 3; i++ {
		start := base + i*30*60*1000
		if err := db.UpsertRow(ctx, transmissionRow(models.BlockID("retro1", start), start)); err != nil {
			t.Fatalf("UpsertRow: %v", err)
		}
	}

	row, err := db.RowCovering(ctx, "retro1", base+10*60*1000)
	if err != nil || row == nil {
		t.Fatalf("RowCovering = (%v, %v)", row, err)
	}
	if row.StartUTCMS != base {
		t.Errorf("covering row starts at %d, want %d", row.StartUTCMS, base)
	}
	if row, _ := db.RowCovering(ctx, "retro1", base-1); row != nil {
		t.Error("covering row before coverage")
	}

	next, err := db.NextRow(ctx, "retro1", base+31*60*1000)
	if err != nil || next == nil || next.StartUTCMS != base+60*60*1000 {
		t.Errorf("NextRow = (%+v, %v)", next, err)
	}

	frontier, err := db.Frontier(ctx, "retro1")
	if err != nil || frontier != base+90*60*1000 {
		t.Errorf("frontier = (%d, %v), want %d", frontier, err, base+90*60*1000)
	}
	if f, _ := db.Frontier(ctx, "other"); f != 0 {
		t.Errorf("frontier for unknown channel = %d, want 0", f)
	}

	ok, err := db.HasBlock(ctx, models.BlockID("retro1", base))
	if err != nil || !ok {
		t.Errorf("HasBlock = (%v, %v)", ok, err)
	}

	rows, err := db.RowsInRange(ctx, "retro1", base+15*60*1000, base+75*60*1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("rows in range = %d, want 3 intersecting", len(rows))
	}

	seg, err := db.SegmentInRow(ctx, models.BlockID("retro1", base), 1)
	if err != nil {
		t.Fatalf("SegmentInRow: %v", err)
	}
	if seg.SegmentType != models.SegmentCommercial {
		t.Errorf("segment = %+v", seg)
	}
	if _, err := db.SegmentInRow(ctx, models.BlockID("retro1", base), 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing segment error = %v", err)
	}

	// Upserting the same block replaces the row, not duplicates it.
	if err := db.UpsertRow(ctx, transmissionRow(models.BlockID("retro1", base), base)); err != nil {
		t.Fatal(err)
	}
	rows, _ = db.RowsInRange(ctx, "retro1", base, base+90*60*1000)
	if len(rows) != 3 {
		t.Errorf("rows after re-upsert = %d, want 3", len(rows))
	}
}

func TestCompiledDayCacheAndLocking(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ch := insertTestChannel(t, db)

	log := &models.CompiledProgramLog{
		ChannelID: ch.ID,
		Day:       "2026-03-01",
		Blocks: []models.SegmentedBlock{{
			BlockID:    "BLOCK-retro1-100",
			StartUTCMS: 100,
			EndUTCMS:   200,
			Segments: []models.ScheduledSegment{
				{SegmentIndex: 0, SegmentType: models.SegmentContent, AssetURI: "file:///ep.mkv", SegmentDurationMS: 100},
			},
		}},
	}
	if err := db.SaveCompiledDay(ctx, log); err != nil {
		t.Fatalf("SaveCompiledDay: %v", err)
	}
	got, err := db.CompiledDay(ctx, ch.ID, "2026-03-01")
	if err != nil {
		t.Fatalf("CompiledDay: %v", err)
	}
	if len(got.Blocks) != 1 || got.Blocks[0].BlockID != "BLOCK-retro1-100" {
		t.Errorf("round trip = %+v", got)
	}

	if err := db.LockCompiledDay(ctx, ch.ID, "2026-03-01"); err != nil {
		t.Fatalf("LockCompiledDay: %v", err)
	}
	// A locked entry refuses recompilation until invalidated.
	if err := db.SaveCompiledDay(ctx, log); err == nil {
		t.Error("save over a locked compiled day accepted")
	}
	if err := db.InvalidateCompiledDay(ctx, ch.ID, "2026-03-01"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCompiledDay(ctx, log); err != nil {
		t.Errorf("save after invalidation: %v", err)
	}
}

func TestPlayLogRecording(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ch := insertTestChannel(t, db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	last, err := db.LastPlayed(ctx, ch.ID, "spot-1")
	if err != nil || !last.IsZero() {
		t.Fatalf("unseen asset last played = (%v, %v)", last, err)
	}
	if err := db.RecordPlay(ctx, ch.ID, "spot-1", at); err != nil {
		t.Fatal(err)
	}
	later := at.Add(time.Hour)
	if err := db.RecordPlay(ctx, ch.ID, "spot-1", later); err != nil {
		t.Fatal(err)
	}
	last, err = db.LastPlayed(ctx, ch.ID, "spot-1")
	if err != nil || !last.Equal(later) {
		t.Errorf("last played = (%v, %v), want %v", last, err, later)
	}
}

func TestRecordAiringResolvesAssetByURI(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ch := insertTestChannel(t, db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	asset := &models.Asset{
		UUID:                 uuid.New(),
		CollectionID:         insertTestCollection(t, db),
		CanonicalKey:         "/media/spot.mkv",
		URI:                  "file:///media/spot.mkv",
		Title:                "Spot",
		State:                models.AssetReady,
		DurationMS:           30_000,
		ApprovedForBroadcast: true,
		CreatedAt:            at,
	}
	if err := db.SaveAsset(ctx, asset); err != nil {
		t.Fatalf("SaveAsset: %v", err)
	}

	if err := db.RecordAiring(ch.ID, asset.URI, models.SegmentCommercial, at); err != nil {
		t.Fatalf("RecordAiring: %v", err)
	}
	last, err := db.LastPlayed(ctx, ch.ID, asset.UUID.String())
	if err != nil || !last.Equal(at) {
		t.Errorf("airing not recorded: (%v, %v)", last, err)
	}

	// Unknown URIs (static filler) are not an error and record nothing.
	if err := db.RecordAiring(ch.ID, "file:///filler.mkv", models.SegmentFiller, at); err != nil {
		t.Errorf("RecordAiring for unknown uri: %v", err)
	}
}

func TestSpotCandidatesSchedulableOnly(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	collID := insertTestCollection(t, db)
	mk := func(title string, durMS int64, state models.AssetState, approved, deleted bool) {
		a := &models.Asset{
			UUID:                 uuid.New(),
			CollectionID:         collID,
			CanonicalKey:         "/media/" + title,
			URI:                  "file:///media/" + title,
			Title:                title,
			State:                state,
			DurationMS:           durMS,
			ApprovedForBroadcast: approved,
			IsDeleted:            deleted,
			CreatedAt:            at,
		}
		if err := db.SaveAsset(ctx, a); err != nil {
			t.Fatalf("save %s: %v", title, err)
		}
	}
	mk("ok-long", 60_000, models.AssetReady, true, false)
	mk("ok-short", 15_000, models.AssetReady, true, false)
	mk("too-long", 120_000, models.AssetReady, true, false)
	mk("unapproved", 30_000, models.AssetReady, false, false)
	mk("not-ready", 30_000, models.AssetEnriching, true, false)
	mk("deleted", 30_000, models.AssetReady, true, true)

	spots, err := db.SpotCandidates(ctx, 90_000)
	if err != nil {
		t.Fatalf("SpotCandidates: %v", err)
	}
	if len(spots) != 2 {
		t.Fatalf("spots = %d, want the two schedulable ones: %+v", len(spots), spots)
	}
	// Ordered by duration descending for the greedy packer.
	if spots[0].Title != "ok-long" || spots[1].Title != "ok-short" {
		t.Errorf("spot order = %s, %s", spots[0].Title, spots[1].Title)
	}
}

func TestMarkersRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	asset := &models.Asset{
		UUID:         uuid.New(),
		CollectionID: insertTestCollection(t, db),
		CanonicalKey: "/media/ep.mkv",
		URI:          "file:///media/ep.mkv",
		Title:        "Episode",
		State:        models.AssetReady,
		DurationMS:   22 * 60 * 1000,
		CreatedAt:    at,
	}
	if err := db.SaveAsset(ctx, asset); err != nil {
		t.Fatal(err)
	}

	chapter := &models.Marker{AssetUUID: asset.UUID, Kind: models.MarkerChapter, StartMS: 11 * 60 * 1000, EndMS: 11 * 60 * 1000}
	skip := &models.Marker{AssetUUID: asset.UUID, Kind: models.MarkerSkip, StartMS: 0, EndMS: 90 * 1000}
	for _, m := range []*models.Marker{chapter, skip} {
		if err := db.AddMarker(ctx, m); err != nil {
			t.Fatalf("AddMarker: %v", err)
		}
	}

	markers, err := db.ListMarkers(ctx, asset.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(markers) != 2 || markers[0].Kind != models.MarkerSkip {
		t.Errorf("markers = %+v, want skip first by start", markers)
	}

	if err := db.DeleteMarkersByKind(ctx, asset.UUID, models.MarkerChapter); err != nil {
		t.Fatal(err)
	}
	markers, _ = db.ListMarkers(ctx, asset.UUID)
	if len(markers) != 1 || markers[0].Kind != models.MarkerSkip {
		t.Errorf("markers after chapter delete = %+v", markers)
	}
}

func TestExecutionAnchors(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ch := insertTestChannel(t, db)

	rec := testDay(ch, "2026-03-01", 0)
	if err := db.InsertDay(ctx, rec); err != nil {
		t.Fatal(err)
	}
	anchored, err := db.HasEntriesFor(ctx, ch.ID, "2026-03-01")
	if err != nil || anchored {
		t.Fatalf("unanchored day = (%v, %v)", anchored, err)
	}

	ev := &models.PlaylogEvent{
		ChannelID:     ch.ID,
		ScheduleDayID: rec.ID,
		AssetUUID:     uuid.NewString(),
		StartUTC:      rec.DayStartUTC,
		EndUTC:        rec.DayStartUTC.Add(30 * time.Minute),
		Day:           rec.Day,
		ProgramID:     1,
	}
	if err := db.InsertPlaylogEvent(ctx, ev); err != nil {
		t.Fatalf("InsertPlaylogEvent: %v", err)
	}
	anchored, err = db.HasEntriesFor(ctx, ch.ID, "2026-03-01")
	if err != nil || !anchored {
		t.Errorf("anchored day = (%v, %v), want true", anchored, err)
	}
}

func TestSourcesAndCollections(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	src := &models.Source{
		Type:       "plex",
		Name:       "den",
		Config:     map[string]string{"base_url": "http://plex:32400", "token": "secret"},
		Enrichers:  []string{"enricher-ffprobe-00000000"},
		Ingestible: true,
	}
	if err := db.InsertSource(ctx, src); err != nil {
		t.Fatalf("InsertSource: %v", err)
	}
	got, err := db.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.Config["token"] != "secret" || !got.Ingestible || len(got.Enrichers) != 1 {
		t.Errorf("round trip = %+v", got)
	}

	local := &models.Source{Type: "local", Name: "disk", Config: map[string]string{"root": "/media"}}
	if err := db.InsertSource(ctx, local); err != nil {
		t.Fatal(err)
	}
	plexOnly, err := db.ListSources(ctx, "plex")
	if err != nil {
		t.Fatal(err)
	}
	if len(plexOnly) != 1 || plexOnly[0].ID != src.ID {
		t.Errorf("type filter = %+v", plexOnly)
	}
	all, err := db.ListSources(ctx, "")
	if err != nil || len(all) != 2 {
		t.Errorf("ListSources all = %d, %v", len(all), err)
	}

	coll := &models.Collection{SourceID: src.ID, Name: "movies", SyncEnabled: true}
	if err := db.InsertCollection(ctx, coll); err != nil {
		t.Fatal(err)
	}
	colls, err := db.CollectionsForSource(ctx, src.ID)
	if err != nil || len(colls) != 1 || colls[0].Name != "movies" {
		t.Errorf("CollectionsForSource = %+v, %v", colls, err)
	}

	history, err := db.SourceHasBroadcastHistory(ctx, src.ID)
	if err != nil || history {
		t.Errorf("fresh source broadcast history = (%v, %v)", history, err)
	}

	if err := db.DeleteSource(ctx, local.ID); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if err := db.DeleteSource(ctx, local.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v", err)
	}
}

func TestEnricherPersistence(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	e := &models.Enricher{
		ID:     "enricher-tvdb-0a1b2c3d",
		Type:   "tvdb",
		Scope:  models.EnricherIngest,
		Name:   "tvdb metadata",
		Config: map[string]string{"api_key": "0123456789ab", "language": "en"},
	}
	if err := db.SaveEnricher(ctx, e); err != nil {
		t.Fatalf("SaveEnricher: %v", err)
	}
	// Saving again with the same id updates in place.
	e.Name = "tvdb metadata v2"
	if err := db.SaveEnricher(ctx, e); err != nil {
		t.Fatal(err)
	}

	list, err := db.ListEnrichers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "tvdb metadata v2" || list[0].Config["language"] != "en" {
		t.Errorf("enrichers = %+v", list)
	}

	if err := db.DeleteEnricher(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEnricher: %v", err)
	}
	if err := db.DeleteEnricher(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v", err)
	}
}

// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/models"
)

func testChannel() *models.Channel {
	return &models.Channel{
		ID:           1,
		Slug:         "retro1",
		Timezone:     "America/New_York",
		DayStartHour: 6,
		GridMinutes:  30,
	}
}

func seriesProgram(id int64, startMin, durMin int) models.Program {
	return models.Program{
		ID:              id,
		StartMinutes:    startMin,
		DurationMinutes: durMin,
		Content:         models.ContentRef{Type: models.ContentSeries, Ref: "show-1"},
		PlayMode:        models.PlaySequential,
	}
}

func violationTags(t *testing.T, err error) map[string]bool {
	t.Helper()
	if err == nil {
		return nil
	}
	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ViolationError, got %T: %v", err, err)
	}
	tags := make(map[string]bool)
	for _, v := range verr.Violations {
		tags[v.Tag] = true
	}
	return tags
}

func TestValidateProgram(t *testing.T) {
	ch := testChannel()

	tests := []struct {
		name    string
		program models.Program
		wantTag string
	}{
		{"valid grid-aligned", seriesProgram(1, 360, 60), ""},
		{"unknown content type", models.Program{ID: 1, StartMinutes: 0, DurationMinutes: 30,
			Content: models.ContentRef{Type: "mystery", Ref: "x"}}, TagPlanProgram},
		{"zero duration", models.Program{ID: 1, StartMinutes: 0, DurationMinutes: 0,
			Content: models.ContentRef{Type: models.ContentAsset, Ref: "a"}}, TagPlanProgram},
		{"start out of range", models.Program{ID: 1, StartMinutes: 1440, DurationMinutes: 30,
			Content: models.ContentRef{Type: models.ContentAsset, Ref: "a"}}, TagPlanProgram},
		{"duration off grid", models.Program{ID: 1, StartMinutes: 0, DurationMinutes: 45,
			Content: models.ContentRef{Type: models.ContentAsset, Ref: "a"}}, TagPlanGrid},
		{"start off grid", models.Program{ID: 1, StartMinutes: 15, DurationMinutes: 30,
			Content: models.ContentRef{Type: models.ContentAsset, Ref: "a"}}, TagPlanGrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProgram(&tt.program, ch)
			if tt.wantTag == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if tags := violationTags(t, err); !tags[tt.wantTag] {
				t.Errorf("expected violation %s, got %v", tt.wantTag, err)
			}
		})
	}
}

func TestValidateProgramGridOffsets(t *testing.T) {
	ch := testChannel()
	ch.GridOffsets = []int{0, 15}

	p := seriesProgram(1, 15, 30)
	if err := ValidateProgram(&p, ch); err != nil {
		t.Fatalf("offset 15 should align with GridOffsets [0 15]: %v", err)
	}
	p.StartMinutes = 10
	if err := ValidateProgram(&p, ch); err == nil {
		t.Fatal("offset 10 should not align")
	}
}

func TestValidatePlanOverlap(t *testing.T) {
	ch := testChannel()
	plan := &models.SchedulePlan{
		Name:      "morning",
		ChannelID: ch.ID,
		Programs: []models.Program{
			seriesProgram(1, 0, 60),
			seriesProgram(2, 30, 60), // overlaps the first
		},
	}
	if tags := violationTags(t, ValidatePlan(plan, ch)); !tags[TagPlanOverlap] {
		t.Errorf("expected %s violation", TagPlanOverlap)
	}
}

func TestValidatePlan24hBound(t *testing.T) {
	ch := testChannel()
	plan := &models.SchedulePlan{Name: "too-long", ChannelID: ch.ID}
	// 25 hours of non-overlapping programs is impossible inside [0,1440), so
	// stack two 12.5h programs back to back; the duration bound trips first.
	plan.Programs = []models.Program{
		seriesProgram(1, 0, 750),
		seriesProgram(2, 750, 750),
	}
	if tags := violationTags(t, ValidatePlan(plan, ch)); !tags[TagPlanDuration] {
		t.Errorf("expected %s violation", TagPlanDuration)
	}
}

func TestValidatePlanLabelResolution(t *testing.T) {
	ch := testChannel()
	p := seriesProgram(1, 0, 30)
	p.Label = "primetime"
	plan := &models.SchedulePlan{Name: "labeled", ChannelID: ch.ID, Programs: []models.Program{p}}

	if tags := violationTags(t, ValidatePlan(plan, ch)); !tags[TagPlanLabel] {
		t.Errorf("expected %s violation when label set is empty", TagPlanLabel)
	}

	plan.Labels = []string{"primetime"}
	if err := ValidatePlan(plan, ch); err != nil {
		t.Fatalf("label resolves within plan set: %v", err)
	}
}

func dayAt(dayStart time.Time, slots []models.ScheduleSlot) *models.ResolvedScheduleDay {
	return &models.ResolvedScheduleDay{
		ID:          uuid.New(),
		ChannelID:   1,
		Day:         models.BroadcastDay(dayStart.Format(models.BroadcastDayFormat)),
		PlanID:      7,
		DayStartUTC: dayStart,
		Slots:       slots,
	}
}

func contiguousSlots(dayStart time.Time, durations ...time.Duration) []models.ScheduleSlot {
	var out []models.ScheduleSlot
	cur := dayStart
	for _, d := range durations {
		out = append(out, models.ScheduleSlot{
			StartUTC: cur,
			EndUTC:   cur.Add(d),
			Content:  models.ContentRef{Type: models.ContentAsset, Ref: "a"},
		})
		cur = cur.Add(d)
	}
	return out
}

func TestValidateContiguity(t *testing.T) {
	dayStart := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	t.Run("full tiling passes", func(t *testing.T) {
		day := dayAt(dayStart, contiguousSlots(dayStart, 12*time.Hour, 12*time.Hour))
		if err := ValidateContiguity(day, dayStart); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("gap between slots", func(t *testing.T) {
		slots := contiguousSlots(dayStart, 12*time.Hour, 12*time.Hour)
		slots[1].StartUTC = slots[1].StartUTC.Add(time.Minute)
		day := dayAt(dayStart, slots)
		if tags := violationTags(t, ValidateContiguity(day, dayStart)); !tags[TagDayContiguity] {
			t.Error("expected contiguity violation for gap")
		}
	})

	t.Run("short day", func(t *testing.T) {
		day := dayAt(dayStart, contiguousSlots(dayStart, 23*time.Hour))
		if tags := violationTags(t, ValidateContiguity(day, dayStart)); !tags[TagDayContiguity] {
			t.Error("expected contiguity violation for day ending before boundary+24h")
		}
	})

	t.Run("carry-in shifts effective start", func(t *testing.T) {
		effective := dayStart.Add(10 * time.Minute)
		day := dayAt(dayStart, contiguousSlots(effective, 24*time.Hour))
		if err := ValidateContiguity(day, effective); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestValidateSeam(t *testing.T) {
	prevStart := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	nextStart := prevStart.Add(24 * time.Hour)

	// Previous day's last slot runs 20 minutes past the boundary.
	prev := dayAt(prevStart, contiguousSlots(prevStart, 24*time.Hour+20*time.Minute))

	t.Run("next starts inside carry-in", func(t *testing.T) {
		next := dayAt(nextStart, contiguousSlots(nextStart, 24*time.Hour))
		if tags := violationTags(t, ValidateSeam(prev, next)); !tags[TagDaySeam] {
			t.Error("expected seam violation")
		}
	})

	t.Run("next starts at carry-in end", func(t *testing.T) {
		next := dayAt(nextStart, contiguousSlots(nextStart.Add(20*time.Minute), 24*time.Hour))
		if err := ValidateSeam(prev, next); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("no carry-in", func(t *testing.T) {
		cleanPrev := dayAt(prevStart, contiguousSlots(prevStart, 24*time.Hour))
		next := dayAt(nextStart, contiguousSlots(nextStart, 24*time.Hour))
		if err := ValidateSeam(cleanPrev, next); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestValidateScheduleDayDerivation(t *testing.T) {
	dayStart := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	slots := contiguousSlots(dayStart, 24*time.Hour)

	t.Run("plan and override both set", func(t *testing.T) {
		day := dayAt(dayStart, slots)
		day.IsManualOverride = true
		day.SupersedesID = uuid.New()
		if tags := violationTags(t, ValidateScheduleDay(day)); !tags[TagDayDerivation] {
			t.Error("expected derivation violation")
		}
	})

	t.Run("override without supersedes", func(t *testing.T) {
		day := dayAt(dayStart, slots)
		day.PlanID = 0
		day.IsManualOverride = true
		if tags := violationTags(t, ValidateScheduleDay(day)); !tags[TagDayDerivation] {
			t.Error("expected derivation violation")
		}
	})

	t.Run("plan-derived passes", func(t *testing.T) {
		day := dayAt(dayStart, slots)
		if err := ValidateScheduleDay(day); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestValidateScheduleDayVirtualSpan(t *testing.T) {
	dayStart := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	vpSlot := func(start time.Time, dur time.Duration, parentMS int64) models.ScheduleSlot {
		return models.ScheduleSlot{
			StartUTC:        start,
			EndUTC:          start.Add(dur),
			Content:         models.ContentRef{Type: models.ContentVirtualPackage, Ref: "vp-1"},
			AssetDurationMS: parentMS,
		}
	}

	t.Run("within tolerance", func(t *testing.T) {
		day := dayAt(dayStart, []models.ScheduleSlot{
			vpSlot(dayStart, 30*time.Minute, 0),
			vpSlot(dayStart.Add(30*time.Minute), 30*time.Minute, 60*60*1000+1500),
		})
		if err := ValidateScheduleDay(day); err != nil {
			t.Fatalf("delta 1500ms within tolerance: %v", err)
		}
	})

	t.Run("beyond tolerance", func(t *testing.T) {
		day := dayAt(dayStart, []models.ScheduleSlot{
			vpSlot(dayStart, 30*time.Minute, 0),
			vpSlot(dayStart.Add(30*time.Minute), 30*time.Minute, 60*60*1000+5000),
		})
		if tags := violationTags(t, ValidateScheduleDay(day)); !tags[TagDayVirtualSpan] {
			t.Error("expected virtual span violation")
		}
	})
}

func TestValidatePlaylogEvents(t *testing.T) {
	dayID := uuid.New()
	base := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	ev := func(start time.Time, dur time.Duration) models.PlaylogEvent {
		return models.PlaylogEvent{
			ID:            uuid.New(),
			ChannelID:     1,
			ScheduleDayID: dayID,
			AssetUUID:     "asset-1",
			StartUTC:      start,
			EndUTC:        start.Add(dur),
			Day:           "2026-03-01",
		}
	}

	t.Run("sorted non-overlapping passes", func(t *testing.T) {
		events := []models.PlaylogEvent{ev(base, time.Hour), ev(base.Add(time.Hour), time.Hour)}
		if err := ValidatePlaylogEvents(dayID, events); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("overlapping events", func(t *testing.T) {
		events := []models.PlaylogEvent{ev(base, time.Hour), ev(base.Add(30*time.Minute), time.Hour)}
		if tags := violationTags(t, ValidatePlaylogEvents(dayID, events)); !tags[TagPlaylogEvent] {
			t.Error("expected playlog violation for overlap")
		}
	})

	t.Run("wrong schedule day", func(t *testing.T) {
		e := ev(base, time.Hour)
		e.ScheduleDayID = uuid.New()
		if tags := violationTags(t, ValidatePlaylogEvents(dayID, []models.PlaylogEvent{e})); !tags[TagPlaylogEvent] {
			t.Error("expected playlog violation for day mismatch")
		}
	})

	t.Run("missing asset", func(t *testing.T) {
		e := ev(base, time.Hour)
		e.AssetUUID = ""
		if tags := violationTags(t, ValidatePlaylogEvent(&e)); !tags[TagPlaylogEvent] {
			t.Error("expected playlog violation for missing asset")
		}
	})
}

// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package scheduling holds the pure validation layer for plans, resolved
// schedule days and playlog events, plus the ScheduleManager that resolves
// plan renderings into ResolvedScheduleDays and the store that owns their
// one-per-date / atomic-replace lifecycle.
//
// Validators collect every violation before failing so operators see the
// full diagnostic; any violation is fatal to the write operation.
package scheduling

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/models"
)

// Violation tags, logged and surfaced as "{tag}-VIOLATED".
const (
	TagPlanOverlap     = "INV-PLAN-NO-OVERLAP-001"
	TagPlanDuration    = "INV-PLAN-24H-BOUND-001"
	TagPlanGrid        = "INV-PROGRAM-GRID-ALIGN-001"
	TagPlanLabel       = "INV-PLAN-LABEL-RESOLVE-001"
	TagPlanProgram     = "INV-PROGRAM-PARSE-001"
	TagDayContiguity   = "INV-SCHEDULEDAY-CONTIGUITY-001"
	TagDaySeam         = "INV-SCHEDULEDAY-SEAM-NO-OVERLAP-001"
	TagDayDerivation   = "INV-SCHEDULEDAY-DERIVATION-001"
	TagDayVirtualSpan  = "INV-SCHEDULEDAY-VIRTUAL-SPAN-001"
	TagPlaylogEvent    = "INV-PLAYLOG-EVENT-001"
)

// Violation is one structural rule failure.
type Violation struct {
	Tag     string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s-VIOLATED: %s", v.Tag, v.Message)
}

// ViolationError aggregates all violations found by one validation pass.
type ViolationError struct {
	Violations []Violation
}

// Error implements error.
func (e *ViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%d scheduling violation(s): %s", len(e.Violations), strings.Join(msgs, "; "))
}

// Has reports whether any violation carries the given tag.
func (e *ViolationError) Has(tag string) bool {
	for _, v := range e.Violations {
		if v.Tag == tag {
			return true
		}
	}
	return false
}

func violationsOrNil(vs []Violation) error {
	if len(vs) == 0 {
		return nil
	}
	return &ViolationError{Violations: vs}
}

// VirtualToleranceMS is the allowed delta between a virtual package's parent
// duration and the total runtime of its expanded events.
const VirtualToleranceMS = 2000

const minutesPerDay = 24 * 60

// ValidateProgram checks a single program against the owning channel's grid.
func ValidateProgram(p *models.Program, ch *models.Channel) error {
	return violationsOrNil(programViolations(p, ch))
}

func programViolations(p *models.Program, ch *models.Channel) []Violation {
	var vs []Violation

	if !models.ValidContentType(p.Content.Type) {
		vs = append(vs, Violation{TagPlanProgram,
			fmt.Sprintf("program %d: unknown content type %q", p.ID, p.Content.Type)})
	}
	if p.DurationMinutes <= 0 {
		vs = append(vs, Violation{TagPlanProgram,
			fmt.Sprintf("program %d: non-positive duration %d", p.ID, p.DurationMinutes)})
	}
	if p.StartMinutes < 0 || p.StartMinutes >= minutesPerDay {
		vs = append(vs, Violation{TagPlanProgram,
			fmt.Sprintf("program %d: start %d outside [0, 1440)", p.ID, p.StartMinutes)})
	}

	grid := ch.GridMinutes
	if grid > 0 {
		if p.DurationMinutes%grid != 0 {
			vs = append(vs, Violation{TagPlanGrid,
				fmt.Sprintf("program %d: duration %dm not a multiple of grid %dm", p.ID, p.DurationMinutes, grid)})
		}
		aligned := false
		for _, off := range ch.AllowedOffsets() {
			if (p.StartMinutes-off)%grid == 0 {
				aligned = true
				break
			}
		}
		if !aligned {
			vs = append(vs, Violation{TagPlanGrid,
				fmt.Sprintf("program %d: start %dm aligns to no allowed offset of grid %dm", p.ID, p.StartMinutes, grid)})
		}
	}
	return vs
}

// ValidatePlan checks a SchedulePlan: every program parseable and aligned,
// programs non-overlapping in ascending order, total duration within 24h,
// label references resolving within the plan's label set.
func ValidatePlan(plan *models.SchedulePlan, ch *models.Channel) error {
	var vs []Violation

	total := 0
	for i := range plan.Programs {
		vs = append(vs, programViolations(&plan.Programs[i], ch)...)
		total += plan.Programs[i].DurationMinutes
	}
	if total > minutesPerDay {
		vs = append(vs, Violation{TagPlanDuration,
			fmt.Sprintf("plan %q: total program duration %dm exceeds 24h", plan.Name, total)})
	}

	// Scan-line on sorted start times: two intervals overlap iff
	// s1 < e2 and e1 > s2.
	sorted := make([]models.Program, len(plan.Programs))
	copy(sorted, plan.Programs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMinutes < sorted[j].StartMinutes })
	for i := 1; i < len(sorted); i++ {
		prev, cur := &sorted[i-1], &sorted[i]
		if cur.StartMinutes < prev.EndMinutes() {
			vs = append(vs, Violation{TagPlanOverlap,
				fmt.Sprintf("plan %q: programs at %dm and %dm overlap", plan.Name, prev.StartMinutes, cur.StartMinutes)})
		}
	}

	if len(plan.Labels) > 0 || hasLabelRefs(plan) {
		known := make(map[string]bool, len(plan.Labels))
		for _, l := range plan.Labels {
			known[l] = true
		}
		for i := range plan.Programs {
			if l := plan.Programs[i].Label; l != "" && !known[l] {
				vs = append(vs, Violation{TagPlanLabel,
					fmt.Sprintf("plan %q: program label %q not in plan label set", plan.Name, l)})
			}
		}
	}

	return violationsOrNil(vs)
}

func hasLabelRefs(plan *models.SchedulePlan) bool {
	for i := range plan.Programs {
		if plan.Programs[i].Label != "" {
			return true
		}
	}
	return false
}

// ValidateContiguity checks that a day's slots tile the broadcast day: the
// first slot starts at the effective start (boundary or carry-in end), each
// slot's end equals the next slot's start, and the last slot's end reaches
// at least boundary+24h.
func ValidateContiguity(day *models.ResolvedScheduleDay, effectiveStart time.Time) error {
	var vs []Violation

	if len(day.Slots) == 0 {
		vs = append(vs, Violation{TagDayContiguity,
			fmt.Sprintf("day %s: no slots", day.Day)})
		return violationsOrNil(vs)
	}

	if !day.Slots[0].StartUTC.Equal(effectiveStart) {
		vs = append(vs, Violation{TagDayContiguity,
			fmt.Sprintf("day %s: first slot starts %s, effective start is %s",
				day.Day, day.Slots[0].StartUTC.Format(time.RFC3339), effectiveStart.Format(time.RFC3339))})
	}

	for i := 1; i < len(day.Slots); i++ {
		prev, cur := &day.Slots[i-1], &day.Slots[i]
		if !prev.EndUTC.Equal(cur.StartUTC) {
			vs = append(vs, Violation{TagDayContiguity,
				fmt.Sprintf("day %s: slot %d ends %s but slot %d starts %s",
					day.Day, i-1, prev.EndUTC.Format(time.RFC3339), i, cur.StartUTC.Format(time.RFC3339))})
		}
	}

	boundary := day.DayStartUTC.Add(24 * time.Hour)
	if last := day.Slots[len(day.Slots)-1].EndUTC; last.Before(boundary) {
		vs = append(vs, Violation{TagDayContiguity,
			fmt.Sprintf("day %s: last slot ends %s before boundary+24h %s",
				day.Day, last.Format(time.RFC3339), boundary.Format(time.RFC3339))})
	}

	return violationsOrNil(vs)
}

// ValidateSeam checks the boundary between two consecutive days: a carry-in
// slot from the earlier day must end at or before the later day's first slot.
func ValidateSeam(prev, next *models.ResolvedScheduleDay) error {
	if prev == nil || len(next.Slots) == 0 {
		return nil
	}
	carryIn := prev.CarryInEnd()
	if carryIn.IsZero() {
		return nil
	}
	first := next.Slots[0].StartUTC
	if first.Before(carryIn) {
		return &ViolationError{Violations: []Violation{{TagDaySeam,
			fmt.Sprintf("day %s: first slot starts %s inside carry-in from %s ending %s",
				next.Day, first.Format(time.RFC3339), prev.Day, carryIn.Format(time.RFC3339))}}}
	}
	return nil
}

// ValidateScheduleDay checks a resolved day's internal structure: derivation
// traceability, sorted non-overlapping slots, and virtual-package runtime
// tolerance. Contiguity and seam checks run separately at store time, where
// the preceding day is available.
func ValidateScheduleDay(day *models.ResolvedScheduleDay) error {
	var vs []Violation

	hasPlan := day.PlanID != 0
	if hasPlan == day.IsManualOverride {
		vs = append(vs, Violation{TagDayDerivation,
			fmt.Sprintf("day %s: plan_id and is_manual_override must be mutually exclusive", day.Day)})
	}
	if day.IsManualOverride && day.SupersedesID == uuid.Nil {
		vs = append(vs, Violation{TagDayDerivation,
			fmt.Sprintf("day %s: manual override without supersedes_id", day.Day)})
	}

	for i := range day.Slots {
		s := &day.Slots[i]
		if !s.StartUTC.Before(s.EndUTC) {
			vs = append(vs, Violation{TagDayContiguity,
				fmt.Sprintf("day %s: slot %d has start >= end", day.Day, i)})
		}
		if i > 0 && day.Slots[i-1].StartUTC.After(s.StartUTC) {
			vs = append(vs, Violation{TagDayContiguity,
				fmt.Sprintf("day %s: slots not in ascending start order at %d", day.Day, i)})
		}
	}

	vs = append(vs, virtualSpanViolations(day)...)

	return violationsOrNil(vs)
}

// virtualSpanViolations checks that when a virtual package expands into
// multiple consecutive slots, the expanded runtime matches the parent asset
// duration within the tolerance.
func virtualSpanViolations(day *models.ResolvedScheduleDay) []Violation {
	var vs []Violation
	totals := make(map[string]int64)
	parents := make(map[string]int64)
	for i := range day.Slots {
		s := &day.Slots[i]
		if s.Content.Type != models.ContentVirtualPackage || s.Content.Ref == "" {
			continue
		}
		totals[s.Content.Ref] += s.Duration().Milliseconds()
		if s.AssetDurationMS > 0 {
			parents[s.Content.Ref] = s.AssetDurationMS
		}
	}
	for ref, parent := range parents {
		got := totals[ref]
		delta := got - parent
		if delta < 0 {
			delta = -delta
		}
		if delta > VirtualToleranceMS {
			vs = append(vs, Violation{TagDayVirtualSpan,
				fmt.Sprintf("day %s: virtual package %s expands to %dms, parent is %dms (tolerance %dms)",
					day.Day, ref, got, parent, int64(VirtualToleranceMS))})
		}
	}
	return vs
}

// ValidatePlaylogEvent checks a single playlog event.
func ValidatePlaylogEvent(ev *models.PlaylogEvent) error {
	var vs []Violation
	if !ev.StartUTC.Before(ev.EndUTC) {
		vs = append(vs, Violation{TagPlaylogEvent,
			fmt.Sprintf("event %s: start_utc not before end_utc", ev.ID)})
	}
	if ev.AssetUUID == "" {
		vs = append(vs, Violation{TagPlaylogEvent,
			fmt.Sprintf("event %s: asset_uuid missing", ev.ID)})
	}
	if !ev.Day.Valid() {
		vs = append(vs, Violation{TagPlaylogEvent,
			fmt.Sprintf("event %s: broadcast_day %q not YYYY-MM-DD", ev.ID, ev.Day)})
	}
	return violationsOrNil(vs)
}

// ValidatePlaylogEvents checks a day's events as a set: individually valid,
// sorted, non-overlapping, and all tracing to the given schedule day.
func ValidatePlaylogEvents(dayID uuid.UUID, events []models.PlaylogEvent) error {
	var vs []Violation
	for i := range events {
		if err := ValidatePlaylogEvent(&events[i]); err != nil {
			var verr *ViolationError
			if errors.As(err, &verr) {
				vs = append(vs, verr.Violations...)
			}
		}
		if events[i].ScheduleDayID != dayID {
			vs = append(vs, Violation{TagPlaylogEvent,
				fmt.Sprintf("event %s: schedule_day_id mismatch", events[i].ID)})
		}
		if i > 0 {
			prev := &events[i-1]
			if prev.StartUTC.After(events[i].StartUTC) {
				vs = append(vs, Violation{TagPlaylogEvent,
					fmt.Sprintf("event %s: events not sorted by start_utc", events[i].ID)})
			}
			if events[i].StartUTC.Before(prev.EndUTC) {
				vs = append(vs, Violation{TagPlaylogEvent,
					fmt.Sprintf("event %s: overlaps preceding event", events[i].ID)})
			}
		}
	}
	return violationsOrNil(vs)
}

// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package models

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleSlot is one resolved, absolutely-timed slot of a broadcast day.
type ScheduleSlot struct {
	// ProgramID traces the slot to the generating plan program; zero for
	// synthesized gap-filler slots.
	ProgramID int64 `json:"program_id,omitempty"`

	StartUTC time.Time `json:"start_utc"`
	EndUTC   time.Time `json:"end_utc"`

	Content ContentRef `json:"content"`

	// AssetURI and AssetDurationMS are set once content resolution has
	// picked a concrete asset for the slot.
	AssetURI        string `json:"asset_uri,omitempty"`
	AssetUUID       string `json:"asset_uuid,omitempty"`
	AssetDurationMS int64  `json:"asset_duration_ms,omitempty"`

	Title string `json:"title,omitempty"`
}

// Duration returns the slot length.
func (s *ScheduleSlot) Duration() time.Duration {
	return s.EndUTC.Sub(s.StartUTC)
}

// ResolvedScheduleDay is the immutable per-(channel, date) materialization of
// a plan rendering. Invariants (enforced by internal/scheduling):
//
//   - derivation traceable: PlanID != 0 XOR IsManualOverride
//   - one authoritative record per (channel, date); replacement is atomic
//   - immutable: overrides create a new record linked by SupersedesID
//   - slots tile [day_start, day_start+24h) with no gaps or overlaps; the
//     first slot starts at day_start or at the preceding day's carry-in end
type ResolvedScheduleDay struct {
	ID               uuid.UUID    `json:"id"`
	ChannelID        int64        `json:"channel_id"`
	Day              BroadcastDay `json:"day"`
	PlanID           int64        `json:"plan_id,omitempty"`
	IsManualOverride bool         `json:"is_manual_override,omitempty"`
	SupersedesID     uuid.UUID    `json:"supersedes_id,omitempty"`

	// DayStartUTC is the boundary instant of the broadcast day.
	DayStartUTC time.Time      `json:"day_start_utc"`
	Slots       []ScheduleSlot `json:"slots"`

	ResolvedAt time.Time `json:"resolved_at"`

	// SequenceState captures the per-program episode indices observed during
	// resolution, for audit and deterministic re-resolution.
	SequenceState map[string]int `json:"sequence_state,omitempty"`
}

// CarryInEnd returns the end of the last slot if it extends past the day
// boundary + 24h, otherwise the zero time. The next day's first slot must
// begin at or after this instant.
func (d *ResolvedScheduleDay) CarryInEnd() time.Time {
	if len(d.Slots) == 0 {
		return time.Time{}
	}
	boundary := d.DayStartUTC.Add(24 * time.Hour)
	last := d.Slots[len(d.Slots)-1].EndUTC
	if last.After(boundary) {
		return last
	}
	return time.Time{}
}

// EffectiveStart returns the instant the day's first slot must start at:
// the day boundary, or the preceding day's carry-in end when that is later.
func EffectiveStart(dayStart time.Time, prevCarryIn time.Time) time.Time {
	if prevCarryIn.After(dayStart) {
		return prevCarryIn
	}
	return dayStart
}

// PlaylogEvent is a per-event broadcast record tracing one aired (or
// scheduled-to-air) asset back to a Program within a ResolvedScheduleDay.
type PlaylogEvent struct {
	ID            uuid.UUID    `json:"id"`
	ChannelID     int64        `json:"channel_id"`
	ScheduleDayID uuid.UUID    `json:"schedule_day_id"`
	AssetUUID     string       `json:"asset_uuid"`
	StartUTC      time.Time    `json:"start_utc"`
	EndUTC        time.Time    `json:"end_utc"`
	Day           BroadcastDay `json:"broadcast_day"`
	ProgramID     int64        `json:"program_id,omitempty"`
}

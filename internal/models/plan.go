// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package models

import (
	"time"
)

// ContentType tags a program's content reference.
type ContentType string

// Content reference variants. Resolution dispatches on the tag: series
// content picks an episode, asset plays a fixed asset, rule evaluates a
// selection rule, random draws from a seeded RNG, virtual_package expands a
// multi-asset composition.
const (
	ContentSeries         ContentType = "series"
	ContentAsset          ContentType = "asset"
	ContentRule           ContentType = "rule"
	ContentRandom         ContentType = "random"
	ContentVirtualPackage ContentType = "virtual_package"
)

// ValidContentType reports whether t is one of the known tags.
func ValidContentType(t ContentType) bool {
	switch t {
	case ContentSeries, ContentAsset, ContentRule, ContentRandom, ContentVirtualPackage:
		return true
	}
	return false
}

// ContentRef is the tagged content reference carried by a Program.
type ContentRef struct {
	Type ContentType `json:"type"`
	// Ref identifies the referenced entity for the tag: series ID, asset
	// UUID, rule name, random pool name, or virtual package ID.
	Ref string `json:"ref"`
}

// PlayMode controls episode selection for series content.
type PlayMode string

const (
	// PlaySequential advances a persistent per-(channel, program) episode
	// index on every resolution.
	PlaySequential PlayMode = "sequential"
	// PlayRandom picks with a seeded RNG derived from
	// (channel, broadcast_day, slot_time) so resolution stays deterministic.
	PlayRandom PlayMode = "random"
)

// Program is one block assignment inside a SchedulePlan: a start time within
// the 24h schedule, a grid-aligned duration, and a content reference.
// Plan offsets are midnight-anchored: StartMinutes 0 is schedule-time 00:00.
type Program struct {
	ID              int64       `json:"id"`
	StartMinutes    int         `json:"start_minutes"`
	DurationMinutes int         `json:"duration_minutes"`
	Content         ContentRef  `json:"content"`
	PlayMode        PlayMode    `json:"play_mode,omitempty"`
	Label           string      `json:"label,omitempty"`
}

// EndMinutes returns the exclusive end offset of the program.
func (p *Program) EndMinutes() int {
	return p.StartMinutes + p.DurationMinutes
}

// Recurrence restricts which dates a plan renders on. An empty Weekdays set
// means every day. StartDate/EndDate (inclusive, broadcast-day labels) bound
// the active range when non-empty.
type Recurrence struct {
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	StartDate BroadcastDay   `json:"start_date,omitempty"`
	EndDate   BroadcastDay   `json:"end_date,omitempty"`
}

// ActiveOn reports whether the recurrence covers the given broadcast day.
func (r *Recurrence) ActiveOn(day BroadcastDay, loc *time.Location) bool {
	date, err := day.Time(loc)
	if err != nil {
		return false
	}
	if r.StartDate != "" {
		if start, err := r.StartDate.Time(loc); err == nil && date.Before(start) {
			return false
		}
	}
	if r.EndDate != "" {
		if end, err := r.EndDate.Time(loc); err == nil && date.After(end) {
			return false
		}
	}
	if len(r.Weekdays) == 0 {
		return true
	}
	for _, wd := range r.Weekdays {
		if date.Weekday() == wd {
			return true
		}
	}
	return false
}

// SchedulePlan is a declarative, recurring programming spec for one channel.
// A plan always begins at schedule-time 00:00; its programs must not overlap,
// must be grid-aligned to the owning channel, and must total at most 24h.
type SchedulePlan struct {
	ID         int64      `json:"id"`
	ChannelID  int64      `json:"channel_id"`
	Name       string     `json:"name" validate:"required"`
	Priority   int        `json:"priority"`
	Recurrence Recurrence `json:"recurrence"`
	Programs   []Program  `json:"programs"`
	Labels     []string   `json:"labels,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

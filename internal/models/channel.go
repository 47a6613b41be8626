// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package models

import (
	"fmt"
	"time"
)

// Channel is a linear broadcast channel. All broadcast-day arithmetic for a
// channel happens in its configured IANA timezone: the programming day starts
// at DayStartHour local, not midnight and not UTC.
type Channel struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug" validate:"required,lowercase"`
	Name     string `json:"name"`
	Timezone string `json:"timezone" validate:"required"`

	// DayStartHour is the local hour at which the programming day begins.
	// Typical value: 6 (06:00 local).
	DayStartHour int `json:"day_start_hour" validate:"min=0,max=23"`

	// GridMinutes is the grid block size; program starts and durations must
	// align to it. Typical value: 30.
	GridMinutes int `json:"grid_minutes" validate:"min=1,max=1440"`

	// GridOffsets lists the allowed grid start offsets in minutes.
	// Default: [0].
	GridOffsets []int `json:"grid_offsets"`
}

// Location resolves the channel's IANA timezone.
func (c *Channel) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("channel %s: bad timezone %q: %w", c.Slug, c.Timezone, err)
	}
	return loc, nil
}

// AllowedOffsets returns the configured grid offsets, defaulting to [0].
func (c *Channel) AllowedOffsets() []int {
	if len(c.GridOffsets) == 0 {
		return []int{0}
	}
	return c.GridOffsets
}

// BroadcastDay is a programming-day date label, formatted YYYY-MM-DD.
type BroadcastDay string

// BroadcastDayFormat is the canonical date layout for broadcast days.
const BroadcastDayFormat = "2006-01-02"

// Valid reports whether the label parses as YYYY-MM-DD.
func (d BroadcastDay) Valid() bool {
	_, err := time.Parse(BroadcastDayFormat, string(d))
	return err == nil
}

// Time returns the date at local midnight in loc.
func (d BroadcastDay) Time(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(BroadcastDayFormat, string(d), loc)
}

// Next returns the following broadcast day.
func (d BroadcastDay) Next() BroadcastDay {
	t, err := time.Parse(BroadcastDayFormat, string(d))
	if err != nil {
		return d
	}
	return BroadcastDay(t.AddDate(0, 0, 1).Format(BroadcastDayFormat))
}

// Prev returns the preceding broadcast day.
func (d BroadcastDay) Prev() BroadcastDay {
	t, err := time.Parse(BroadcastDayFormat, string(d))
	if err != nil {
		return d
	}
	return BroadcastDay(t.AddDate(0, 0, -1).Format(BroadcastDayFormat))
}

// BroadcastDayFor computes the programming-day label containing t.
// Local times before the day-start hour belong to the previous date.
func BroadcastDayFor(t time.Time, loc *time.Location, dayStartHour int) BroadcastDay {
	local := t.In(loc)
	if local.Hour() < dayStartHour {
		local = local.AddDate(0, 0, -1)
	}
	return BroadcastDay(local.Format(BroadcastDayFormat))
}

// DayStartUTC returns the UTC instant at which the given broadcast day
// begins on a channel with the given timezone and day-start hour.
func DayStartUTC(day BroadcastDay, loc *time.Location, dayStartHour int) (time.Time, error) {
	date, err := day.Time(loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad broadcast day %q: %w", day, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), dayStartHour, 0, 0, 0, loc).UTC(), nil
}

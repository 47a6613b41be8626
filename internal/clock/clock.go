// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package clock is the single time source for RetroVue.
//
// Every component that needs the current time takes a Clock so that horizon
// arithmetic, broadcast-day rollover, and teardown deadlines are testable
// with a Fake. Persisted instants are always UTC epoch-milliseconds; local
// wall-clock values exist only transiently for broadcast-day math in a
// channel's configured IANA timezone.
package clock

import (
	"sync"
	"time"
)

// Clock provides tz-aware time to all subsystems.
type Clock interface {
	// NowUTC returns the current instant in UTC.
	NowUTC() time.Time

	// NowLocal returns the current instant in the given location.
	NowLocal(loc *time.Location) time.Time

	// SecondsSince returns seconds elapsed since past, clamped to 0.0
	// when past is in the future.
	SecondsSince(past time.Time) float64
}

// NowMS returns t as UTC epoch-milliseconds.
func NowMS(c Clock) int64 {
	return c.NowUTC().UnixMilli()
}

// System is the production clock. It captures a monotonic baseline at
// construction and derives wall-clock time from the monotonic delta, so a
// step change of the host clock cannot move scheduled boundaries backwards.
type System struct {
	baseWall time.Time
	baseMono time.Time
}

// NewSystem creates a production clock.
func NewSystem() *System {
	now := time.Now()
	return &System{baseWall: now.Round(0), baseMono: now}
}

// NowUTC implements Clock.
func (s *System) NowUTC() time.Time {
	return s.baseWall.Add(time.Since(s.baseMono)).UTC()
}

// NowLocal implements Clock.
func (s *System) NowLocal(loc *time.Location) time.Time {
	return s.NowUTC().In(loc)
}

// SecondsSince implements Clock.
func (s *System) SecondsSince(past time.Time) float64 {
	d := s.NowUTC().Sub(past)
	if d < 0 {
		return 0.0
	}
	return d.Seconds()
}

// Fake is a controllable clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock pinned at the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now.UTC()}
}

// NowUTC implements Clock.
func (f *Fake) NowUTC() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NowLocal implements Clock.
func (f *Fake) NowLocal(loc *time.Location) time.Time {
	return f.NowUTC().In(loc)
}

// SecondsSince implements Clock.
func (f *Fake) SecondsSince(past time.Time) float64 {
	d := f.NowUTC().Sub(past)
	if d < 0 {
		return 0.0
	}
	return d.Seconds()
}

// Set pins the fake clock to the given instant.
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now.UTC()
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package runtime

// BoundaryState is the per-channel boundary machine state. One boundary
// sequence runs NONE → PLANNED → PRELOAD_ISSUED → SWITCH_SCHEDULED →
// SWITCH_ISSUED → LIVE; subsequent boundaries re-enter at PLANNED from LIVE.
// FAILED_TERMINAL is absorbing.
type BoundaryState int

const (
	StateNone BoundaryState = iota
	StatePlanned
	StatePreloadIssued
	StateSwitchScheduled
	StateSwitchIssued
	StateLive
	StateFailedTerminal
)

func (s BoundaryState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StatePlanned:
		return "PLANNED"
	case StatePreloadIssued:
		return "PRELOAD_ISSUED"
	case StateSwitchScheduled:
		return "SWITCH_SCHEDULED"
	case StateSwitchIssued:
		return "SWITCH_ISSUED"
	case StateLive:
		return "LIVE"
	case StateFailedTerminal:
		return "FAILED_TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// Stable reports whether teardown may proceed immediately from this state.
func (s BoundaryState) Stable() bool {
	return s == StateNone || s == StateLive || s == StateFailedTerminal
}

// legalNext enumerates the allowed transitions. FAILED_TERMINAL is reachable
// from every state and is handled outside this table.
var legalNext = map[BoundaryState][]BoundaryState{
	StateNone:            {StatePlanned},
	StatePlanned:         {StatePreloadIssued},
	StatePreloadIssued:   {StateSwitchScheduled},
	StateSwitchScheduled: {StateSwitchIssued},
	StateSwitchIssued:    {StateLive},
	StateLive:            {StatePlanned, StateNone},
}

// legalTransition reports whether from → to is allowed.
func legalTransition(from, to BoundaryState) bool {
	if to == StateFailedTerminal {
		return true
	}
	for _, n := range legalNext[from] {
		if n == to {
			return true
		}
	}
	return false
}

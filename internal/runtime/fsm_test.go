// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package runtime

import "testing"

func TestLegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		from BoundaryState
		to   BoundaryState
		want bool
	}{
		{"none to planned", StateNone, StatePlanned, true},
		{"planned to preload", StatePlanned, StatePreloadIssued, true},
		{"preload to switch scheduled", StatePreloadIssued, StateSwitchScheduled, true},
		{"switch scheduled to issued", StateSwitchScheduled, StateSwitchIssued, true},
		{"issued to live", StateSwitchIssued, StateLive, true},
		{"live re-enters planned", StateLive, StatePlanned, true},
		{"live to none on teardown", StateLive, StateNone, true},
		{"no skipping preload", StatePlanned, StateSwitchScheduled, false},
		{"no skipping switch", StatePreloadIssued, StateLive, false},
		{"no backwards", StateLive, StateSwitchIssued, false},
		{"none straight to live", StateNone, StateLive, false},
		{"terminal reachable from none", StateNone, StateFailedTerminal, true},
		{"terminal reachable mid-sequence", StateSwitchScheduled, StateFailedTerminal, true},
		{"terminal is absorbing", StateFailedTerminal, StatePlanned, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := legalTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("legalTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStableStates(t *testing.T) {
	stable := map[BoundaryState]bool{
		StateNone:           true,
		StateLive:           true,
		StateFailedTerminal: true,
	}
	for s := StateNone; s <= StateFailedTerminal; s++ {
		if got := s.Stable(); got != stable[s] {
			t.Errorf("%s.Stable() = %v, want %v", s, got, stable[s])
		}
	}
}

func TestStateStrings(t *testing.T) {
	if StatePreloadIssued.String() != "PRELOAD_ISSUED" {
		t.Errorf("PRELOAD_ISSUED renders as %q", StatePreloadIssued.String())
	}
	if BoundaryState(99).String() != "UNKNOWN" {
		t.Errorf("out-of-range state renders as %q", BoundaryState(99).String())
	}
}

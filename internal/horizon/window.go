// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package horizon maintains the two rolling forward windows of the pipeline:
// the EPG window (days of resolved schedule ahead) and the execution window
// (hours of transmission-log coverage ahead). The Manager is the global
// wall-clock-driven policy enforcer; one PlaylogDaemon per channel keeps the
// transmission log filled from Tier 1 via late-bound traffic fill.
package horizon

import (
	"fmt"
	"sort"
	"sync"
)

// WindowEntry is one execution-window element: a transmission block's span.
type WindowEntry struct {
	BlockID    string `json:"block_id"`
	ChannelID  int64  `json:"channel_id"`
	StartUTCMS int64  `json:"start_utc_ms"`
	EndUTCMS   int64  `json:"end_utc_ms"`
}

// SeamViolation records a non-zero delta between adjacent window entries.
type SeamViolation struct {
	LeftBlockID  string `json:"left_block_id"`
	RightBlockID string `json:"right_block_id"`
	DeltaMS      int64  `json:"delta_ms"`
	// Kind is "gap" (delta > 0) or "overlap" (delta < 0).
	Kind string `json:"kind"`
}

// ExecutionWindowStore holds the in-memory execution window with
// atomic-publish semantics: replacement of a range is observed as a single
// transition, partial visibility is forbidden.
type ExecutionWindowStore struct {
	mu         sync.RWMutex
	entries    []WindowEntry
	generation uint64
}

// NewExecutionWindowStore creates an empty window store.
func NewExecutionWindowStore() *ExecutionWindowStore {
	return &ExecutionWindowStore{}
}

// Entries returns a snapshot of the window, sorted by start.
func (s *ExecutionWindowStore) Entries() []WindowEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WindowEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Generation returns the current publish generation.
func (s *ExecutionWindowStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// WindowEnd returns the farthest end_utc_ms, or 0 when empty.
func (s *ExecutionWindowStore) WindowEnd() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var end int64
	for i := range s.entries {
		if s.entries[i].EndUTCMS > end {
			end = s.entries[i].EndUTCMS
		}
	}
	return end
}

// Covering returns the entry containing the instant, or nil.
func (s *ExecutionWindowStore) Covering(utcMS int64) *WindowEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.entries {
		if s.entries[i].StartUTCMS <= utcMS && utcMS < s.entries[i].EndUTCMS {
			e := s.entries[i]
			return &e
		}
	}
	return nil
}

// Ingest merges entries into the window, replacing any entry with the same
// block_id.
func (s *ExecutionWindowStore) Ingest(entries []WindowEntry) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[string]int, len(s.entries))
	for i := range s.entries {
		byID[s.entries[i].BlockID] = i
	}
	for _, e := range entries {
		if i, ok := byID[e.BlockID]; ok {
			s.entries[i] = e
		} else {
			s.entries = append(s.entries, e)
			byID[e.BlockID] = len(s.entries) - 1
		}
	}
	s.sortLocked()
}

// PublishAtomicReplace swaps every entry intersecting
// [rangeStartMS, rangeEndMS) for the replacement set in one transition and
// returns the new generation. Replacement entries must fall inside the
// range.
func (s *ExecutionWindowStore) PublishAtomicReplace(rangeStartMS, rangeEndMS int64, replacement []WindowEntry) (uint64, error) {
	if rangeEndMS <= rangeStartMS {
		return 0, fmt.Errorf("publish_atomic_replace: empty range [%d, %d)", rangeStartMS, rangeEndMS)
	}
	for _, e := range replacement {
		if e.StartUTCMS < rangeStartMS || e.EndUTCMS > rangeEndMS {
			return 0, fmt.Errorf("publish_atomic_replace: entry %s [%d, %d) outside range [%d, %d)",
				e.BlockID, e.StartUTCMS, e.EndUTCMS, rangeStartMS, rangeEndMS)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0:0]
	for _, e := range s.entries {
		if e.EndUTCMS <= rangeStartMS || e.StartUTCMS >= rangeEndMS {
			kept = append(kept, e)
		}
	}
	s.entries = append(kept, replacement...)
	s.sortLocked()
	s.generation++
	return s.generation, nil
}

// SeamScan checks adjacent entry pairs for exact contiguity and returns the
// violations. A zero-length return means continuous coverage.
func (s *ExecutionWindowStore) SeamScan() []SeamViolation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SeamViolation
	for i := 1; i < len(s.entries); i++ {
		left, right := &s.entries[i-1], &s.entries[i]
		delta := right.StartUTCMS - left.EndUTCMS
		if delta == 0 {
			continue
		}
		kind := "gap"
		if delta < 0 {
			kind = "overlap"
		}
		out = append(out, SeamViolation{
			LeftBlockID:  left.BlockID,
			RightBlockID: right.BlockID,
			DeltaMS:      delta,
			Kind:         kind,
		})
	}
	return out
}

// HasEntriesFor reports whether any entry intersects [startMS, endMS).
// The resolved-day store consults this for anchor protection.
func (s *ExecutionWindowStore) HasEntriesFor(startMS, endMS int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.entries {
		if s.entries[i].StartUTCMS < endMS && s.entries[i].EndUTCMS > startMS {
			return true
		}
	}
	return false
}

func (s *ExecutionWindowStore) sortLocked() {
	sort.Slice(s.entries, func(i, j int) bool {
		return s.entries[i].StartUTCMS < s.entries[j].StartUTCMS
	})
}

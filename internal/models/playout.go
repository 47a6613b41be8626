// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package models

import (
	"fmt"
)

// SegmentType classifies a scheduled segment within a block.
type SegmentType string

const (
	SegmentContent    SegmentType = "content"
	SegmentFiller     SegmentType = "filler"
	SegmentCommercial SegmentType = "commercial"
	SegmentPromo      SegmentType = "promo"
	SegmentIdent      SegmentType = "ident"
	SegmentPSA        SegmentType = "psa"
	SegmentPad        SegmentType = "pad"
)

// ScheduledSegment is one playable unit inside a block. In Tier 1, break
// placeholders carry an empty AssetURI; Tier 2 rows are fully resolved and
// may only carry an empty URI on zero-duration pads.
type ScheduledSegment struct {
	SegmentIndex      int         `json:"segment_index"`
	SegmentType       SegmentType `json:"segment_type"`
	AssetURI          string      `json:"asset_uri"`
	AssetStartOffsetMS int64      `json:"asset_start_offset_ms"`
	SegmentDurationMS int64       `json:"segment_duration_ms"`
	Title             string      `json:"title,omitempty"`

	TransitionIn          string `json:"transition_in,omitempty"`
	TransitionInDurationMS int64 `json:"transition_in_duration_ms,omitempty"`
	TransitionOut          string `json:"transition_out,omitempty"`
	TransitionOutDurationMS int64 `json:"transition_out_duration_ms,omitempty"`
}

// IsPlaceholder reports whether the segment is an unfilled break placeholder.
// Tier-1 compilation must not select ads; placeholders are the contract that
// keeps ad selection in the Tier-2 writer.
func (s *ScheduledSegment) IsPlaceholder() bool {
	return s.AssetURI == "" && s.SegmentDurationMS > 0
}

// BlockID derives the stable block identity for a channel block starting at
// the given UTC epoch-ms. Stability across recompiles keeps the Tier-2 join
// idempotent.
func BlockID(channelSlug string, startUTCMS int64) string {
	return fmt.Sprintf("BLOCK-%s-%d", channelSlug, startUTCMS)
}

// SegmentedBlock is one Tier-1 block: the expansion of a single schedule
// slot into content segments plus empty break placeholders and a trailing
// zero-duration pad anchor.
type SegmentedBlock struct {
	BlockID    string             `json:"block_id"`
	StartUTCMS int64              `json:"start_utc_ms"`
	EndUTCMS   int64              `json:"end_utc_ms"`
	Segments   []ScheduledSegment `json:"segments"`
}

// DurationMS returns the block length in milliseconds.
func (b *SegmentedBlock) DurationMS() int64 {
	return b.EndUTCMS - b.StartUTCMS
}

// Covers reports whether the instant falls inside [start, end).
func (b *SegmentedBlock) Covers(utcMS int64) bool {
	return b.StartUTCMS <= utcMS && utcMS < b.EndUTCMS
}

// CompiledProgramLog is the Tier-1 cache for one (channel, broadcast day):
// the ScheduleDay expanded into segmented blocks. Once Locked, regeneration
// requires explicit invalidation (plan revision).
type CompiledProgramLog struct {
	ChannelID int64            `json:"channel_id"`
	Day       BroadcastDay     `json:"broadcast_day"`
	Blocks    []SegmentedBlock `json:"segmented_blocks"`
	Locked    bool             `json:"locked"`
}

// TransmissionLogRow is one Tier-2 materialized playout row. It is the only
// artifact the channel runtime reads at feed time; segments are fully
// resolved (no empty URIs except zero-duration pads).
type TransmissionLogRow struct {
	BlockID     string             `json:"block_id"`
	ChannelSlug string             `json:"channel_slug"`
	Day         BroadcastDay       `json:"broadcast_day"`
	StartUTCMS  int64              `json:"start_utc_ms"`
	EndUTCMS    int64              `json:"end_utc_ms"`
	Segments    []ScheduledSegment `json:"segments"`
}

// Covers reports whether the instant falls inside [start, end).
func (r *TransmissionLogRow) Covers(utcMS int64) bool {
	return r.StartUTCMS <= utcMS && utcMS < r.EndUTCMS
}

// SegmentAt returns the segment active at the instant plus its absolute
// start, or index -1 when the instant is outside the row.
func (r *TransmissionLogRow) SegmentAt(utcMS int64) (idx int, segStartMS int64) {
	if !r.Covers(utcMS) {
		return -1, 0
	}
	cursor := r.StartUTCMS
	for i := range r.Segments {
		next := cursor + r.Segments[i].SegmentDurationMS
		if utcMS < next {
			return i, cursor
		}
		cursor = next
	}
	// Trailing zero-duration pad; report the last segment.
	return len(r.Segments) - 1, cursor
}

// PlayoutRequest is the instruction issued to the playout engine for one
// segment. RetroVue issues instructions and consumes evidence; it never
// renders video.
type PlayoutRequest struct {
	AssetPath       string            `json:"asset_path"`
	StartPTS        int64             `json:"start_pts"`
	DurationSeconds float64           `json:"duration_seconds"`
	StartTimeUTC    string            `json:"start_time_utc"`
	EndTimeUTC      string            `json:"end_time_utc"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

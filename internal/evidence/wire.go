// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package evidence

// EvidenceFromAir is one evidence message from a playout engine. Exactly one
// payload field is set.
type EvidenceFromAir struct {
	Sequence         uint64 `json:"sequence"`
	EventUUID        string `json:"event_uuid"`
	ChannelID        string `json:"channel_id"`
	PlayoutSessionID string `json:"playout_session_id"`

	Hello             *Hello             `json:"hello,omitempty"`
	BlockStart        *BlockStart        `json:"block_start,omitempty"`
	SegmentStart      *SegmentStart      `json:"segment_start,omitempty"`
	SegmentEnd        *SegmentEnd        `json:"segment_end,omitempty"`
	BlockFence        *BlockFence        `json:"block_fence,omitempty"`
	ChannelTerminated *ChannelTerminated `json:"channel_terminated,omitempty"`
}

// Variant names the payload kind, or "" when no payload is set.
func (e *EvidenceFromAir) Variant() string {
	switch {
	case e.Hello != nil:
		return "hello"
	case e.BlockStart != nil:
		return "block_start"
	case e.SegmentStart != nil:
		return "segment_start"
	case e.SegmentEnd != nil:
		return "segment_end"
	case e.BlockFence != nil:
		return "block_fence"
	case e.ChannelTerminated != nil:
		return "channel_terminated"
	default:
		return ""
	}
}

// Hello opens a stream: it identifies the channel and playout session before
// any playout evidence arrives.
type Hello struct {
	EngineVersion string `json:"engine_version,omitempty"`
}

// BlockStart marks entry into a transmission block.
type BlockStart struct {
	BlockID  string `json:"block_id"`
	TickUTCMS int64 `json:"tick_utc_ms"`
}

// SegmentStart marks the first frame of a segment on air.
type SegmentStart struct {
	BlockID         string `json:"block_id"`
	SegmentIndex    int    `json:"segment_index"`
	AssetStartFrame int64  `json:"asset_start_frame"`
	// JoinInProgress marks a mid-segment join; the contiguity check skips
	// the seam into this segment.
	JoinInProgress bool  `json:"join_in_progress,omitempty"`
	TickUTCMS      int64 `json:"tick_utc_ms"`
}

// Terminal statuses carried by SegmentEnd.
const (
	StatusAired     = "AIRED"
	StatusTruncated = "TRUNCATED"
)

// SegmentEnd is the terminal event for a segment.
type SegmentEnd struct {
	BlockID                string `json:"block_id"`
	SegmentIndex           int    `json:"segment_index"`
	EventID                string `json:"event_id"`
	Status                 string `json:"status"`
	AssetStartFrame        int64  `json:"asset_start_frame"`
	AssetEndFrame          int64  `json:"asset_end_frame"`
	ComputedDurationFrames int64  `json:"computed_duration_frames"`
	TickUTCMS              int64  `json:"tick_utc_ms"`
}

// BlockFence marks the engine-side swap at a block boundary. FenceTick is
// authoritative; a differing SwapTick is normalized to it.
type BlockFence struct {
	BlockID   string `json:"block_id"`
	SwapTick  int64  `json:"swap_tick"`
	FenceTick int64  `json:"fence_tick"`
	TickUTCMS int64  `json:"tick_utc_ms"`
}

// ChannelTerminated closes the session.
type ChannelTerminated struct {
	Reason    string `json:"reason,omitempty"`
	TickUTCMS int64  `json:"tick_utc_ms"`
}

// EvidenceAckFromCore acknowledges durable processing of every sequence up
// to and including AckedSequence.
type EvidenceAckFromCore struct {
	ChannelID        string `json:"channel_id"`
	PlayoutSessionID string `json:"playout_session_id"`
	AckedSequence    uint64 `json:"acked_sequence"`
}

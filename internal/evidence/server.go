// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package evidence is the execution evidence server: a bidirectional gRPC
// stream that maps playout evidence to durable as-run logs. An ACK is
// emitted only after the corresponding as-run lines are flushed and fsync'd
// and the durable ack high-water mark is persisted; ACK means durability.
package evidence

import (
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/metrics"
	"github.com/retrovue/retrovue/internal/models"
)

// ChannelResolver resolves the wire channel id to channel metadata; the
// broadcast-day arithmetic for as-run files needs the timezone and day
// start.
type ChannelResolver interface {
	ChannelByID(channelID string) (*models.Channel, error)
}

// SegmentLookup resolves (block_id, segment_index) against the transmission
// log for enrichment.
type SegmentLookup interface {
	Segment(blockID string, segmentIndex int) (*models.ScheduledSegment, error)
}

// AiringRecorder receives confirmed airings for the traffic play history.
type AiringRecorder interface {
	RecordAiring(channelID int64, assetURI string, segType models.SegmentType, at time.Time) error
}

// ServerConfig carries evidence server policy.
type ServerConfig struct {
	AsRunDir string
	AckDir   string
	// FrameRateFPS converts evidence frame counts to durations. Default 30.
	FrameRateFPS float64
}

// Server implements ExecutionEvidenceServer.
type Server struct {
	channels ChannelResolver
	segments SegmentLookup
	plays    AiringRecorder
	acks     *AckStore
	clk      clock.Clock
	cfg      ServerConfig
}

// NewServer creates the evidence server. plays may be nil.
func NewServer(channels ChannelResolver, segments SegmentLookup, plays AiringRecorder, clk clock.Clock, cfg ServerConfig) *Server {
	if cfg.FrameRateFPS <= 0 {
		cfg.FrameRateFPS = 30
	}
	return &Server{
		channels: channels,
		segments: segments,
		plays:    plays,
		acks:     NewAckStore(cfg.AckDir, clk),
		clk:      clk,
		cfg:      cfg,
	}
}

// segStartInfo remembers the most recent segment start per block for echo,
// contiguity, and play recording.
type segStartInfo struct {
	segmentIndex   int
	joinInProgress bool
	segType        models.SegmentType
	assetURI       string
	title          string
	durationMS     int64
}

// streamState is the per-stream processing state. Stream processing is
// sequential, so no locking is needed here.
type streamState struct {
	channel    *models.Channel
	loc        *time.Location
	sessionID  string
	writer     *AsRunWriter
	durableAck uint64

	seenUUID     map[string]struct{}
	lastSegStart map[string]*segStartInfo
	prevTerminal map[string]*SegmentEnd
	terminalSeen map[string]struct{}
}

// EvidenceStream processes one playout session's evidence in send order and
// ACKs each event after it is durable.
func (s *Server) EvidenceStream(stream EvidenceStream) error {
	metrics.EvidenceStreamsActive.Inc()
	defer metrics.EvidenceStreamsActive.Dec()

	st := &streamState{
		seenUUID:     make(map[string]struct{}),
		lastSegStart: make(map[string]*segStartInfo),
		prevTerminal: make(map[string]*SegmentEnd),
		terminalSeen: make(map[string]struct{}),
	}
	defer func() {
		if st.writer != nil {
			if err := st.writer.Close(); err != nil {
				logging.Error().Err(err).Msg("asrun writer close failed")
			}
		}
	}()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.handleEvent(stream, st, ev); err != nil {
			return err
		}
	}
}

func (s *Server) handleEvent(stream EvidenceStream, st *streamState, ev *EvidenceFromAir) error {
	started := time.Now()

	if st.channel == nil {
		ch, err := s.channels.ChannelByID(ev.ChannelID)
		if err != nil {
			return fmt.Errorf("resolve channel %q: %w", ev.ChannelID, err)
		}
		loc, err := ch.Location()
		if err != nil {
			return err
		}
		ack, err := s.acks.Load(ev.ChannelID, ev.PlayoutSessionID)
		if err != nil {
			return err
		}
		st.channel = ch
		st.loc = loc
		st.sessionID = ev.PlayoutSessionID
		st.durableAck = ack
	}

	metrics.EvidenceEvents.WithLabelValues(ev.ChannelID, ev.Variant()).Inc()

	// Intra-stream dedup by event_uuid; cross-stream replay dedup by
	// sequence against the durable ack. Both ACK without re-writing.
	if _, dup := st.seenUUID[ev.EventUUID]; dup {
		metrics.EvidenceDuplicatesDropped.WithLabelValues(ev.ChannelID, "event_uuid").Inc()
		return s.ack(stream, st, ev, started)
	}
	st.seenUUID[ev.EventUUID] = struct{}{}
	if ev.Sequence <= st.durableAck {
		metrics.EvidenceDuplicatesDropped.WithLabelValues(ev.ChannelID, "sequence").Inc()
		return s.ack(stream, st, ev, started)
	}

	rec := s.mapEvent(st, ev)
	if rec != nil {
		if err := s.writeDurable(st, ev, rec); err != nil {
			return err
		}
	}
	if err := s.acks.Update(ev.ChannelID, st.sessionID, ev.Sequence); err != nil {
		return err
	}
	st.durableAck = ev.Sequence
	return s.ack(stream, st, ev, started)
}

func (s *Server) ack(stream EvidenceStream, st *streamState, ev *EvidenceFromAir, started time.Time) error {
	err := stream.Send(&EvidenceAckFromCore{
		ChannelID:        ev.ChannelID,
		PlayoutSessionID: st.sessionID,
		AckedSequence:    st.durableAck,
	})
	metrics.EvidenceAckDuration.Observe(time.Since(started).Seconds())
	return err
}

// mapEvent turns one evidence payload into an as-run record, applying the
// as-run contract guards. A nil return means no line is written (hello,
// rejected events).
func (s *Server) mapEvent(st *streamState, ev *EvidenceFromAir) *AsRunRecord {
	switch {
	case ev.Hello != nil:
		return nil

	case ev.BlockStart != nil:
		p := ev.BlockStart
		return s.record(st, p.TickUTCMS, 0, "BLKSTART", "PROGRAM", ev.EventUUID,
			"block "+p.BlockID, map[string]any{"block_id": p.BlockID})

	case ev.SegmentStart != nil:
		return s.mapSegmentStart(st, ev)

	case ev.SegmentEnd != nil:
		return s.mapSegmentEnd(st, ev)

	case ev.BlockFence != nil:
		p := ev.BlockFence
		tick := p.FenceTick
		if p.SwapTick != p.FenceTick {
			// Fence tick is authoritative; normalize and log the skew.
			logging.Warn().Str("block_id", p.BlockID).
				Int64("swap_tick", p.SwapTick).Int64("fence_tick", p.FenceTick).
				Msg("swap/fence tick mismatch; normalized to fence")
		}
		return s.record(st, p.TickUTCMS, 0, "FENCE", "PROGRAM", ev.EventUUID,
			fmt.Sprintf("block %s fence_tick=%d", p.BlockID, tick),
			map[string]any{"block_id": p.BlockID, "fence_tick": tick})

	case ev.ChannelTerminated != nil:
		p := ev.ChannelTerminated
		return s.record(st, p.TickUTCMS, 0, "TERMINATED", "PROGRAM", ev.EventUUID,
			p.Reason, map[string]any{"reason": p.Reason})

	default:
		logging.Warn().Str("event_uuid", ev.EventUUID).Msg("evidence event with no payload")
		return nil
	}
}

func (s *Server) mapSegmentStart(st *streamState, ev *EvidenceFromAir) *AsRunRecord {
	p := ev.SegmentStart
	info := &segStartInfo{
		segmentIndex:   p.SegmentIndex,
		joinInProgress: p.JoinInProgress,
		segType:        models.SegmentContent,
	}
	notes := fmt.Sprintf("block %s seg %d", p.BlockID, p.SegmentIndex)
	payload := map[string]any{
		"block_id":          p.BlockID,
		"segment_index":     p.SegmentIndex,
		"asset_start_frame": p.AssetStartFrame,
	}
	typ := "PROGRAM"
	if seg, err := s.segments.Segment(p.BlockID, p.SegmentIndex); err != nil {
		logging.Warn().Err(err).Str("block_id", p.BlockID).Int("segment_index", p.SegmentIndex).
			Msg("segment enrichment lookup failed")
	} else if seg != nil {
		info.segType = seg.SegmentType
		info.assetURI = seg.AssetURI
		info.title = seg.Title
		if info.title == "" {
			info.title = path.Base(seg.AssetURI)
		}
		info.durationMS = seg.SegmentDurationMS
		typ = asrunType(seg.SegmentType)
		notes = fmt.Sprintf("block %s seg %d %s", p.BlockID, p.SegmentIndex, info.title)
		payload["segment_type"] = string(seg.SegmentType)
		payload["asset_uri"] = seg.AssetURI
		payload["title"] = info.title
		payload["duration_ms"] = seg.SegmentDurationMS
	}
	st.lastSegStart[p.BlockID] = info
	return s.record(st, p.TickUTCMS, info.durationMS, "SEG_START", typ, ev.EventUUID, notes, payload)
}

func (s *Server) mapSegmentEnd(st *streamState, ev *EvidenceFromAir) *AsRunRecord {
	p := ev.SegmentEnd
	termKey := fmt.Sprintf("%s|%d", p.EventID, p.SegmentIndex)
	if _, dup := st.terminalSeen[termKey]; dup {
		logging.Warn().Str("event_id", p.EventID).Int("segment_index", p.SegmentIndex).
			Msg("duplicate terminal event rejected")
		metrics.EvidenceDuplicatesDropped.WithLabelValues(ev.ChannelID, "terminal").Inc()
		return nil
	}
	if p.ComputedDurationFrames <= 0 {
		logging.Warn().Str("event_id", p.EventID).Int64("frames", p.ComputedDurationFrames).
			Msg("zero-frame terminal event rejected")
		return nil
	}
	st.terminalSeen[termKey] = struct{}{}

	start := st.lastSegStart[p.BlockID]
	segIdx := p.SegmentIndex
	if start != nil {
		// Terminal events echo the most recent segment start's index.
		segIdx = start.segmentIndex
	}
	if prev := st.prevTerminal[p.BlockID]; prev != nil {
		joined := start != nil && start.joinInProgress
		if !joined && prev.AssetEndFrame+1 != p.AssetStartFrame {
			logging.Warn().Str("block_id", p.BlockID).
				Int64("prev_end_frame", prev.AssetEndFrame).
				Int64("start_frame", p.AssetStartFrame).
				Msg("non-contiguous terminal frames within block")
		}
	}
	st.prevTerminal[p.BlockID] = p

	durMS := int64(float64(p.ComputedDurationFrames) / s.cfg.FrameRateFPS * 1000.0)
	typ := "PROGRAM"
	notes := fmt.Sprintf("block %s seg %d frames=%d", p.BlockID, segIdx, p.ComputedDurationFrames)
	if start != nil {
		typ = asrunType(start.segType)
		if start.title != "" {
			notes = fmt.Sprintf("block %s seg %d %s", p.BlockID, segIdx, start.title)
		}
		if s.plays != nil && p.Status == StatusAired &&
			(start.segType == models.SegmentCommercial || start.segType == models.SegmentPromo) {
			at := time.UnixMilli(p.TickUTCMS).UTC()
			if err := s.plays.RecordAiring(st.channel.ID, start.assetURI, start.segType, at); err != nil {
				logging.Error().Err(err).Str("asset_uri", start.assetURI).Msg("record airing failed")
			}
		}
	}
	return s.record(st, p.TickUTCMS, durMS, p.Status, typ, p.EventID, notes, map[string]any{
		"block_id":                 p.BlockID,
		"segment_index":            segIdx,
		"asset_start_frame":        p.AssetStartFrame,
		"asset_end_frame":          p.AssetEndFrame,
		"computed_duration_frames": p.ComputedDurationFrames,
	})
}

// record builds the structured as-run record for an event tick.
func (s *Server) record(st *streamState, tickMS, durMS int64, status, typ, eventID, notes string, payload map[string]any) *AsRunRecord {
	at := time.UnixMilli(tickMS).UTC()
	day := models.BroadcastDayFor(at, st.loc, st.channel.DayStartHour)
	return &AsRunRecord{
		ActualUTC:   at,
		ActualUTCMS: tickMS,
		Actual:      dayRelative(at, day, st.loc),
		DurationMS:  durMS,
		Status:      status,
		Type:        typ,
		EventID:     eventID,
		Notes:       notes,
		Payload:     payload,
	}
}

// writeDurable writes the record to the day's as-run pair and fsyncs. The
// writer rolls when the event's broadcast day changes.
func (s *Server) writeDurable(st *streamState, ev *EvidenceFromAir, rec *AsRunRecord) error {
	day := models.BroadcastDayFor(rec.ActualUTC, st.loc, st.channel.DayStartHour)
	if st.writer != nil && st.writer.Day() != day {
		if err := st.writer.Close(); err != nil {
			return err
		}
		st.writer = nil
	}
	if st.writer == nil {
		w, err := OpenAsRunWriter(s.cfg.AsRunDir, ev.ChannelID, day, s.clk.NowUTC())
		if err != nil {
			return err
		}
		st.writer = w
	}
	if err := st.writer.Write(rec); err != nil {
		return err
	}
	return st.writer.Sync()
}

// asrunType maps a segment type to the fixed-width TYPE column.
func asrunType(st models.SegmentType) string {
	switch st {
	case models.SegmentContent:
		return "PROGRAM"
	case models.SegmentCommercial:
		return "COMMERCL"
	case models.SegmentPromo:
		return "PROMO"
	case models.SegmentIdent:
		return "IDENT"
	case models.SegmentPSA:
		return "PSA"
	case models.SegmentFiller:
		return "FILLER"
	case models.SegmentPad:
		return "PAD"
	default:
		return "PROGRAM"
	}
}

// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package runtime is the per-channel playout runtime: a boundary state
// machine feeding a playout engine from the transmission log. Feed time
// never compiles or fills; the transmission log is the only planning
// artifact this package reads.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/metrics"
	"github.com/retrovue/retrovue/internal/models"
)

// TransmissionReader is the feed-time read surface. The runtime reads rows;
// it never writes them.
type TransmissionReader interface {
	RowCovering(ctx context.Context, channelSlug string, utcMS int64) (*models.TransmissionLogRow, error)
	// NextRow returns the earliest row starting at or after the instant,
	// or nil when none exists.
	NextRow(ctx context.Context, channelSlug string, fromMS int64) (*models.TransmissionLogRow, error)
}

// PlayoutPort is the playout engine control surface.
type PlayoutPort interface {
	LoadPreview(ctx context.Context, req *models.PlayoutRequest) error
	SwitchToLive(ctx context.Context, req *models.PlayoutRequest) error
	Teardown(ctx context.Context) error
}

// ManagerConfig carries per-channel runtime policy.
type ManagerConfig struct {
	// TickInterval between feed evaluations. Default 1s.
	TickInterval time.Duration
	// PreloadWindow before a boundary at which LoadPreview is issued.
	PreloadWindow time.Duration
	// GraceTimeout bounds teardown deferral in transient states.
	GraceTimeout time.Duration
}

// Manager drives playout for one channel.
type Manager struct {
	channel *models.Channel
	store   TransmissionReader
	port    PlayoutPort
	clk     clock.Clock
	cfg     ManagerConfig

	mu    sync.Mutex
	state BoundaryState
	// pending is the request for the boundary currently in flight.
	pending    *models.PlayoutRequest
	switchAtMS int64
	fatal      string

	teardownPending  bool
	teardownDeadline time.Time
	viewerCount      int
}

// NewManager creates the channel runtime manager.
func NewManager(ch *models.Channel, store TransmissionReader, port PlayoutPort, clk clock.Clock, cfg ManagerConfig) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.PreloadWindow <= 0 {
		cfg.PreloadWindow = 5 * time.Second
	}
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = 10 * time.Second
	}
	return &Manager{channel: ch, store: store, port: port, clk: clk, cfg: cfg, state: StateNone}
}

// Serve implements suture.Service: tick at the configured cadence.
func (m *Manager) Serve(ctx context.Context) error {
	logging.Info().Str("channel", m.channel.Slug).Dur("tick", m.cfg.TickInterval).
		Msg("channel manager started")
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("channel", m.channel.Slug).Msg("channel manager stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (m *Manager) String() string { return "channel-manager-" + m.channel.Slug }

// State returns the current boundary state.
func (m *Manager) State() BoundaryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsLive is true iff the boundary state is LIVE; session liveness has no
// other authority.
func (m *Manager) IsLive() bool {
	return m.State() == StateLive
}

// FatalReason returns the terminal failure reason, or "".
// Viewers returns the current viewer count.
func (m *Manager) Viewers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewerCount
}

func (m *Manager) FatalReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

// ViewerConnected bumps the advisory viewer count.
func (m *Manager) ViewerConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewerCount++
}

// ViewerDisconnected decrements the advisory viewer count and requests a
// teardown when the last viewer leaves. The count never forces a kill.
func (m *Manager) ViewerDisconnected(ctx context.Context) {
	m.mu.Lock()
	m.viewerCount--
	last := m.viewerCount <= 0
	m.mu.Unlock()
	if last {
		m.RequestTeardown(ctx)
	}
}

// RequestTeardown tears the session down now when the state is stable, or
// defers it behind the grace timeout when a boundary sequence is in flight.
// Repeated requests while pending are idempotent: the deadline stands.
func (m *Manager) RequestTeardown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Stable() {
		m.executeTeardownLocked(ctx)
		return
	}
	if m.teardownPending {
		return
	}
	m.teardownPending = true
	m.teardownDeadline = m.clk.NowUTC().Add(m.cfg.GraceTimeout)
	metrics.ChannelTeardownsDeferred.WithLabelValues(m.channel.Slug).Inc()
	logging.Info().Str("channel", m.channel.Slug).Str("state", m.state.String()).
		Time("deadline", m.teardownDeadline).Msg("teardown deferred")
}

// Tick runs one feed evaluation. While a teardown is pending no new boundary
// work is started, but a sequence already in flight keeps running; the
// deferred teardown executes as soon as the state is stable, or the grace
// deadline forces FAILED_TERMINAL.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFailedTerminal {
		return
	}
	now := m.clk.NowUTC()
	if m.teardownPending {
		if m.state.Stable() {
			m.executeTeardownLocked(ctx)
			return
		}
		if !now.Before(m.teardownDeadline) {
			m.forceTerminalLocked("grace timeout")
			return
		}
		// Fall through: the in-flight sequence below still progresses.
		// Only planNextBoundaryLocked is withheld, and that branch is
		// unreachable here since its states are stable.
	}

	switch m.state {
	case StateNone, StateLive:
		m.planNextBoundaryLocked(ctx, now)
	case StatePlanned:
		if err := m.port.LoadPreview(ctx, m.pending); err != nil {
			m.forceTerminalLocked(fmt.Sprintf("load preview: %v", err))
			return
		}
		m.transitionLocked(StatePreloadIssued)
	case StatePreloadIssued:
		m.transitionLocked(StateSwitchScheduled)
	case StateSwitchScheduled:
		if now.UnixMilli() >= m.switchAtMS {
			m.transitionLocked(StateSwitchIssued)
			if err := m.port.SwitchToLive(ctx, m.pending); err != nil {
				m.forceTerminalLocked(fmt.Sprintf("switch to live: %v", err))
				return
			}
			m.transitionLocked(StateLive)
		}
	case StateSwitchIssued:
		// Switch completion is synchronous above; reaching here means the
		// transition was interrupted mid-sequence.
		m.transitionLocked(StateLive)
	}

	// A sequence that just completed lands in a stable state; a deferred
	// teardown executes now rather than waiting a tick.
	if m.teardownPending && m.state.Stable() {
		m.executeTeardownLocked(ctx)
	}
}

// planNextBoundaryLocked finds the next segment boundary and, when it is
// inside the preload window, starts a boundary sequence for it.
func (m *Manager) planNextBoundaryLocked(ctx context.Context, now time.Time) {
	nowMS := now.UnixMilli()
	row, err := m.store.RowCovering(ctx, m.channel.Slug, nowMS)
	if err != nil {
		logging.Error().Err(err).Str("channel", m.channel.Slug).Msg("transmission read failed")
		return
	}

	var (
		boundaryMS int64
		next       *models.ScheduledSegment
		nextRow    *models.TransmissionLogRow
	)
	if row == nil {
		// Off-air: join at the next row's start.
		nextRow, err = m.store.NextRow(ctx, m.channel.Slug, nowMS)
		if err != nil || nextRow == nil || len(nextRow.Segments) == 0 {
			return
		}
		boundaryMS = nextRow.StartUTCMS
		next = &nextRow.Segments[0]
	} else {
		idx, segStartMS := row.SegmentAt(nowMS)
		if idx < 0 {
			return
		}
		if m.state == StateNone {
			// Joining mid-segment: the boundary is now, seeking into the
			// active segment.
			boundaryMS = nowMS
			next = &row.Segments[idx]
			m.startBoundaryLocked(row, next, segStartMS, boundaryMS, nowMS)
			return
		}
		boundaryMS = segStartMS + row.Segments[idx].SegmentDurationMS
		if idx+1 < len(row.Segments) {
			next = &row.Segments[idx+1]
			nextRow = row
		} else {
			nextRow, err = m.store.NextRow(ctx, m.channel.Slug, row.EndUTCMS)
			if err != nil || nextRow == nil || len(nextRow.Segments) == 0 {
				return
			}
			boundaryMS = nextRow.StartUTCMS
			next = &nextRow.Segments[0]
		}
	}

	if boundaryMS-nowMS > m.cfg.PreloadWindow.Milliseconds() {
		return
	}
	src := row
	if nextRow != nil {
		src = nextRow
	}
	m.startBoundaryLocked(src, next, boundaryMS, boundaryMS, nowMS)
}

// startBoundaryLocked builds the playout request for the segment and enters
// PLANNED. Effective seek is the authored offset plus how far into the
// segment the join happens.
func (m *Manager) startBoundaryLocked(row *models.TransmissionLogRow, seg *models.ScheduledSegment, segStartMS, boundaryMS, nowMS int64) {
	seekMS := seg.AssetStartOffsetMS
	if d := nowMS - segStartMS; d > 0 {
		seekMS += d
	}
	endMS := segStartMS + seg.SegmentDurationMS
	m.pending = &models.PlayoutRequest{
		AssetPath:       seg.AssetURI,
		StartPTS:        seekMS,
		DurationSeconds: float64(endMS-boundaryMS) / 1000.0,
		StartTimeUTC:    time.UnixMilli(boundaryMS).UTC().Format(time.RFC3339Nano),
		EndTimeUTC:      time.UnixMilli(endMS).UTC().Format(time.RFC3339Nano),
		Metadata: map[string]string{
			"block_id":      row.BlockID,
			"segment_index": fmt.Sprintf("%d", seg.SegmentIndex),
			"segment_type":  string(seg.SegmentType),
			"title":         seg.Title,
		},
	}
	m.switchAtMS = boundaryMS
	m.transitionLocked(StatePlanned)
}

// transitionLocked applies a state change; an illegal transition forces
// FAILED_TERMINAL.
func (m *Manager) transitionLocked(to BoundaryState) {
	if !legalTransition(m.state, to) {
		m.forceTerminalLocked(fmt.Sprintf("illegal transition %s -> %s", m.state, to))
		return
	}
	logging.Debug().Str("channel", m.channel.Slug).
		Str("from", m.state.String()).Str("to", to.String()).Msg("boundary transition")
	m.state = to
	metrics.ChannelBoundaryTransitions.WithLabelValues(m.channel.Slug, to.String()).Inc()
	metrics.ChannelState.WithLabelValues(m.channel.Slug).Set(float64(to))
}

// forceTerminalLocked enters FAILED_TERMINAL: transient timers and the
// pending request are cleared and the scheduler halts for this channel.
func (m *Manager) forceTerminalLocked(reason string) {
	logging.Error().Str("channel", m.channel.Slug).Str("from", m.state.String()).
		Str("reason", reason).Msg("boundary machine failed terminal")
	m.state = StateFailedTerminal
	m.fatal = reason
	m.pending = nil
	m.switchAtMS = 0
	m.teardownPending = false
	metrics.ChannelBoundaryTransitions.WithLabelValues(m.channel.Slug, m.state.String()).Inc()
	metrics.ChannelState.WithLabelValues(m.channel.Slug).Set(float64(m.state))
}

// executeTeardownLocked tears down the playout session from a stable state.
func (m *Manager) executeTeardownLocked(ctx context.Context) {
	m.teardownPending = false
	if err := m.port.Teardown(ctx); err != nil {
		logging.Error().Err(err).Str("channel", m.channel.Slug).Msg("teardown failed")
	}
	if m.state == StateLive {
		m.transitionLocked(StateNone)
	}
	m.pending = nil
	m.switchAtMS = 0
	logging.Info().Str("channel", m.channel.Slug).Msg("playout session torn down")
}

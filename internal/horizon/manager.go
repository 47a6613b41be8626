// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package horizon

import (
	"context"
	"sync"
	"time"

	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/metrics"
)

// ScheduleExtender is the thin EPG protocol the manager drives: it reports
// how far the resolved-and-compiled schedule reaches and extends it one
// broadcast day at a time.
type ScheduleExtender interface {
	EPGWindowEnd(ctx context.Context) (time.Time, error)
	// ExtendDay resolves and compiles the next unresolved day and returns
	// the new window end.
	ExtendDay(ctx context.Context) (time.Time, error)
}

// ExtensionResult is the structured execution-extension result. Legacy
// extenders that return a bare end_utc_ms are adapted at the protocol
// boundary; core code only sees this shape.
type ExtensionResult struct {
	Entries  []WindowEntry
	EndUTCMS int64
}

// ExecutionExtender extends transmission-log coverage from the given
// frontier and reports what was materialized.
type ExecutionExtender interface {
	Extend(ctx context.Context, fromUTCMS int64) (*ExtensionResult, error)
}

// ExtensionAttempt is one audit-log record of an extension attempt.
type ExtensionAttempt struct {
	AttemptID         uint64 `json:"attempt_id"`
	NowUTCMS          int64  `json:"now_utc_ms"`
	WindowEndBeforeMS int64  `json:"window_end_before_ms"`
	WindowEndAfterMS  int64  `json:"window_end_after_ms"`
	ReasonCode        string `json:"reason_code"`
	TriggeredBy       string `json:"triggered_by"`
	Success           bool   `json:"success"`
	ErrorCode         string `json:"error_code,omitempty"`
}

// Extension attempt reason codes.
const (
	ReasonDepth     = "DEPTH_BELOW_TARGET"
	ReasonReadiness = "NEXT_BLOCK_NOT_READY"
	ReasonProactive = "PROACTIVE_THRESHOLD"
)

// maxExtensionDays is the per-pass safety cap on EPG extension.
const maxExtensionDays = 30

// auditLogCap bounds the in-memory extension audit log.
const auditLogCap = 256

// ManagerConfig carries horizon policy.
type ManagerConfig struct {
	// Channel is the slug of the channel this manager watches.
	Channel string
	// Interval between evaluations. Default 10s.
	Interval time.Duration
	// MinEPGDays is the minimum EPG depth ahead of now.
	MinEPGDays float64
	// MinExecutionHours is the minimum execution-window depth.
	MinExecutionHours float64
	// LockedWindowMS freezes [now, now+locked) against mutation; a
	// coverage hole inside it is recorded but cannot be filled.
	LockedWindowMS int64
	// ProactiveThresholdMS triggers an early extension when the window end
	// is within the threshold of now. Zero disables proactive extension.
	ProactiveThresholdMS int64
}

// Manager is the global wall-clock-driven horizon policy enforcer.
type Manager struct {
	sched  ScheduleExtender
	exec   ExecutionExtender
	window *ExecutionWindowStore
	clk    clock.Clock
	cfg    ManagerConfig

	mu        sync.Mutex
	attempts  []ExtensionAttempt
	attemptID uint64
}

// NewManager creates the horizon manager.
func NewManager(sched ScheduleExtender, exec ExecutionExtender, window *ExecutionWindowStore, clk clock.Clock, cfg ManagerConfig) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.MinEPGDays <= 0 {
		cfg.MinEPGDays = 2
	}
	if cfg.MinExecutionHours <= 0 {
		cfg.MinExecutionHours = 4
	}
	return &Manager{sched: sched, exec: exec, window: window, clk: clk, cfg: cfg}
}

// Serve implements suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	logging.Info().Str("channel", m.cfg.Channel).Dur("interval", m.cfg.Interval).Msg("horizon manager started")
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("horizon manager stopped")
			return ctx.Err()
		case <-ticker.C:
			m.EvaluateOnce(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (m *Manager) String() string {
	if m.cfg.Channel == "" {
		return "horizon-manager"
	}
	return "horizon-manager-" + m.cfg.Channel
}

// Attempts returns a snapshot of the extension audit log.
func (m *Manager) Attempts() []ExtensionAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExtensionAttempt, len(m.attempts))
	copy(out, m.attempts)
	return out
}

// EvaluateOnce runs one policy pass: EPG depth, execution depth, next-block
// readiness, seam contiguity, proactive extension. Evaluation never holds a
// long-lived lock across external calls; frontier state is re-read each
// pass. Errors are logged, never fatal: the next tick retries implicitly.
func (m *Manager) EvaluateOnce(ctx context.Context) {
	now := m.clk.NowUTC()
	nowMS := now.UnixMilli()
	extended := false
	unhealthy := false

	// 1. EPG depth.
	epgEnd, err := m.sched.EPGWindowEnd(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("epg window end probe failed")
		unhealthy = true
	} else {
		minDepth := time.Duration(m.cfg.MinEPGDays * float64(24*time.Hour))
		for i := 0; epgEnd.Sub(now) < minDepth && i < maxExtensionDays; i++ {
			next, err := m.sched.ExtendDay(ctx)
			if err != nil {
				logging.Error().Err(err).Time("epg_end", epgEnd).Msg("epg extension failed")
				unhealthy = true
				break
			}
			if !next.After(epgEnd) {
				logging.Warn().Time("epg_end", epgEnd).Msg("epg extension made no progress")
				unhealthy = true
				break
			}
			epgEnd = next
			extended = true
		}
		metrics.EPGDepthDays.WithLabelValues(m.cfg.Channel).Set(epgEnd.Sub(now).Hours() / 24)
	}

	// 2. Execution depth.
	windowEnd := m.window.WindowEnd()
	minExecMS := int64(m.cfg.MinExecutionHours * float64(time.Hour.Milliseconds()))
	if windowEnd-nowMS < minExecMS {
		if m.extendExecution(ctx, nowMS, windowEnd, ReasonDepth) {
			extended = true
		} else {
			unhealthy = true
		}
		windowEnd = m.window.WindowEnd()
	}

	// 3. Next-block readiness.
	if m.window.Covering(nowMS) == nil {
		if m.cfg.LockedWindowMS > 0 {
			// The hole starts at now, inside the locked range; mutation is
			// forbidden there, so the gap can only be recorded.
			logging.Warn().
				Str("invariant", "INV-HORIZON-LOCKED-IMMUTABLE-001").
				Int64("now_ms", nowMS).
				Int64("locked_window_ms", m.cfg.LockedWindowMS).
				Msg("INV-HORIZON-LOCKED-IMMUTABLE-001-VIOLATED: coverage hole inside locked window")
			metrics.HorizonLockedHoles.Inc()
			unhealthy = true
		} else {
			if m.extendExecution(ctx, nowMS, windowEnd, ReasonReadiness) {
				extended = true
			}
			if m.window.Covering(nowMS) == nil {
				logging.Warn().
					Str("invariant", "INV-HORIZON-NEXT-BLOCK-READY-001").
					Int64("now_ms", nowMS).
					Msg("no execution entry covers now after fill attempt")
				unhealthy = true
			}
		}
	}

	// 4. Seam contiguity.
	if seams := m.window.SeamScan(); len(seams) > 0 {
		unhealthy = true
		for _, s := range seams {
			logging.Warn().
				Str("invariant", "INV-HORIZON-CONTINUOUS-COVERAGE-001").
				Str("left", s.LeftBlockID).
				Str("right", s.RightBlockID).
				Int64("delta_ms", s.DeltaMS).
				Str("kind", s.Kind).
				Msg("seam violation between adjacent execution entries")
			metrics.HorizonSeamViolations.WithLabelValues(s.Kind).Inc()
		}
	}

	// 5. Proactive extension via atomic publish.
	windowEnd = m.window.WindowEnd()
	if m.cfg.ProactiveThresholdMS > 0 && windowEnd > 0 && windowEnd-nowMS <= m.cfg.ProactiveThresholdMS {
		if m.extendProactive(ctx, nowMS, windowEnd) {
			extended = true
		} else {
			unhealthy = true
		}
	}

	switch {
	case unhealthy:
		logging.Warn().Str("channel", m.cfg.Channel).Int64("window_end_ms", m.window.WindowEnd()).
			Bool("extended", extended).Msg("horizon evaluation unhealthy")
	case extended:
		logging.Info().Str("channel", m.cfg.Channel).Int64("window_end_ms", m.window.WindowEnd()).
			Msg("horizon extended")
	default:
		logging.Debug().Str("channel", m.cfg.Channel).Int64("window_end_ms", m.window.WindowEnd()).
			Msg("horizon steady")
	}
}

// extendExecution asks the pipeline for more coverage and ingests the
// result. Every attempt lands in the audit log.
func (m *Manager) extendExecution(ctx context.Context, nowMS, windowEnd int64, reason string) bool {
	from := windowEnd
	if from < nowMS {
		from = nowMS
	}
	res, err := m.exec.Extend(ctx, from)
	if err != nil {
		m.recordAttempt(nowMS, windowEnd, m.window.WindowEnd(), reason, false, "EXTEND_FAILED")
		logging.Error().Err(err).Str("reason", reason).Msg("execution extension failed")
		return false
	}
	m.window.Ingest(res.Entries)
	after := m.window.WindowEnd()
	m.recordAttempt(nowMS, windowEnd, after, reason, after > windowEnd, "")
	return after > windowEnd
}

// extendProactive performs one extension published through atomic replace:
// the replacement range [windowEnd, result.end) swaps in as a single
// transition under a fresh generation id.
func (m *Manager) extendProactive(ctx context.Context, nowMS, windowEnd int64) bool {
	res, err := m.exec.Extend(ctx, windowEnd)
	if err != nil {
		m.recordAttempt(nowMS, windowEnd, windowEnd, ReasonProactive, false, "EXTEND_FAILED")
		logging.Error().Err(err).Msg("proactive extension failed")
		return false
	}
	if len(res.Entries) == 0 || res.EndUTCMS <= windowEnd {
		m.recordAttempt(nowMS, windowEnd, windowEnd, ReasonProactive, false, "NO_PROGRESS")
		return false
	}
	gen, err := m.window.PublishAtomicReplace(windowEnd, res.EndUTCMS, res.Entries)
	if err != nil {
		m.recordAttempt(nowMS, windowEnd, windowEnd, ReasonProactive, false, "PUBLISH_REJECTED")
		logging.Warn().Err(err).Msg("atomic publish rejected")
		return false
	}
	m.recordAttempt(nowMS, windowEnd, res.EndUTCMS, ReasonProactive, true, "")
	logging.Info().Uint64("generation_id", gen).Int64("window_end_ms", res.EndUTCMS).
		Msg("proactive extension published")
	return true
}

func (m *Manager) recordAttempt(nowMS, before, after int64, reason string, success bool, errCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attemptID++
	m.attempts = append(m.attempts, ExtensionAttempt{
		AttemptID:         m.attemptID,
		NowUTCMS:          nowMS,
		WindowEndBeforeMS: before,
		WindowEndAfterMS:  after,
		ReasonCode:        reason,
		TriggeredBy:       "horizon-manager",
		Success:           success,
		ErrorCode:         errCode,
	})
	if len(m.attempts) > auditLogCap {
		m.attempts = m.attempts[len(m.attempts)-auditLogCap:]
	}
	metrics.HorizonExtensionAttempts.WithLabelValues(reason, successLabel(success)).Inc()
}

func successLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Horizon Metrics
	EPGDepthDays = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "horizon_epg_depth_days",
			Help: "Resolved-and-compiled schedule depth ahead of now in days",
		},
		[]string{"channel"},
	)

	HorizonExtensionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "horizon_extension_attempts_total",
			Help: "Execution-window extension attempts by reason and result",
		},
		[]string{"reason", "result"},
	)

	HorizonSeamViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "horizon_seam_violations_total",
			Help: "Gaps or overlaps detected between adjacent execution-window entries",
		},
		[]string{"kind"},
	)

	HorizonLockedHoles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "horizon_locked_window_holes_total",
			Help: "Coverage holes detected inside the locked window, which cannot be filled",
		},
	)

	// Playlog (Tier-2) Metrics
	PlaylogDepthHours = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playlog_depth_hours",
			Help: "Transmission-log depth ahead of now in hours",
		},
		[]string{"channel"},
	)

	PlaylogFills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlog_fills_total",
			Help: "Tier-1 blocks lifted into the transmission log via traffic fill",
		},
		[]string{"channel"},
	)

	PlaylogHorizonViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlog_horizon_violations_total",
			Help: "Evaluation passes that made zero fills while depth was below target",
		},
		[]string{"channel"},
	)

	// Traffic Metrics
	TrafficBreaksFilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traffic_breaks_filled_total",
			Help: "Break placeholders filled, by outcome (spots, static_filler)",
		},
		[]string{"outcome"},
	)

	// Channel Runtime Metrics
	ChannelState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "channel_boundary_state",
			Help: "Boundary FSM state (0=none 1=planned 2=preload 3=switch_scheduled 4=switch_issued 5=live 6=failed_terminal)",
		},
		[]string{"channel"},
	)

	ChannelBoundaryTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_boundary_transitions_total",
			Help: "Boundary FSM transitions by target state",
		},
		[]string{"channel", "to"},
	)

	ChannelTeardownsDeferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_teardowns_deferred_total",
			Help: "Teardown requests deferred because a boundary sequence was in flight",
		},
		[]string{"channel"},
	)

	// Evidence Metrics
	EvidenceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_events_total",
			Help: "Execution evidence events received, by event type",
		},
		[]string{"channel", "event_type"},
	)

	EvidenceDuplicatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_duplicates_dropped_total",
			Help: "Evidence events dropped by dedup, by reason (event_uuid, sequence)",
		},
		[]string{"channel", "reason"},
	)

	EvidenceAckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evidence_ack_duration_seconds",
			Help:    "Time from event receipt to durable ACK, fsync included",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	EvidenceStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evidence_streams_active",
			Help: "Open evidence streams",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlite_query_duration_seconds",
			Help:    "Duration of SQLite queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlite_query_errors_total",
			Help: "Failed SQLite queries",
		},
		[]string{"operation", "table"},
	)

	// HTTP API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Active HTTP requests",
		},
	)

	// Application Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "retrovue_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retrovue_uptime_seconds",
			Help: "Process uptime in seconds",
		},
	)
)

// RecordDBQuery records duration and, on error, an error count for one query.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

var startTime = time.Now()

// UpdateUptime refreshes the uptime gauge; callers run it on a ticker.
func UpdateUptime() {
	AppUptime.Set(time.Since(startTime).Seconds())
}

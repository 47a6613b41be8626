// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

/*
Package metrics provides Prometheus metrics collection and export.

Metrics are registered at init via promauto and exposed at the /metrics
endpoint in Prometheus text format.

Horizon metrics track the two rolling windows: horizon_epg_depth_days,
horizon_extension_attempts_total (reason, result), seam violations and
locked-window holes. Per-channel playlog metrics (playlog_depth_hours,
playlog_fills_total, playlog_horizon_violations_total) cover Tier-2
window maintenance.

Channel runtime metrics expose the boundary FSM state and transition
counts; evidence metrics cover event throughput, dedup drops, durable
ACK latency, and open streams.

Database and HTTP metrics follow the usual operation/table and
method/endpoint/status labeling.
*/
package metrics

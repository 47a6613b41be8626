// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/database"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/scheduling"
)

// Handler serves the status API.
type Handler struct {
	db       *database.DB
	registry *Registry
	clk      clock.Clock
	version  string
	started  time.Time
}

// NewHandler creates the API handler.
func NewHandler(db *database.DB, registry *Registry, clk clock.Clock, version string) *Handler {
	return &Handler{
		db:       db,
		registry: registry,
		clk:      clk,
		version:  version,
		started:  time.Now(),
	}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// HealthReady reports readiness: the database must answer a ping.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.db.Ping(r.Context()); err != nil {
		rw.ServiceUnavailable("database unreachable")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}

type channelStatus struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	State       string `json:"state"`
	Viewers     int    `json:"viewers"`
	FatalReason string `json:"fatal_reason,omitempty"`
	WindowEndMS int64  `json:"window_end_ms"`
	Generation  uint64 `json:"generation"`
}

// Status reports the whole deployment: version, uptime, per-channel playout
// state and horizon window depth.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	channels := make([]channelStatus, 0)
	for _, handle := range h.registry.List() {
		cs := channelStatus{
			Slug: handle.Channel.Slug,
			Name: handle.Channel.Name,
		}
		if handle.Runtime != nil {
			cs.State = handle.Runtime.State().String()
			cs.Viewers = handle.Runtime.Viewers()
			cs.FatalReason = handle.Runtime.FatalReason()
		}
		if handle.Window != nil {
			cs.WindowEndMS = handle.Window.WindowEnd()
			cs.Generation = handle.Window.Generation()
		}
		channels = append(channels, cs)
	}
	NewResponseWriter(w, r).Success(map[string]any{
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"now_utc":        h.clk.NowUTC(),
		"channels":       channels,
	})
}

// Channels lists configured channels.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	channels, err := h.db.ListChannels(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(channels)
}

// ChannelGet returns one channel by slug.
func (h *Handler) ChannelGet(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ch, ok := h.channelFromPath(rw, r)
	if !ok {
		return
	}
	rw.Success(ch)
}

// ChannelSchedule returns the resolved schedule day and its compiled blocks
// for ?day= (default: the channel's current broadcast day).
func (h *Handler) ChannelSchedule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ch, ok := h.channelFromPath(rw, r)
	if !ok {
		return
	}
	loc, err := ch.Location()
	if err != nil {
		rw.InternalError("invalid channel timezone")
		return
	}

	day := models.BroadcastDay(r.URL.Query().Get("day"))
	if day == "" {
		day = models.BroadcastDayFor(h.clk.NowUTC(), loc, ch.DayStartHour)
	} else if !day.Valid() {
		rw.BadRequest("day must be YYYY-MM-DD")
		return
	}

	resolved, err := h.db.GetDay(r.Context(), ch.ID, day)
	if err != nil && !errors.Is(err, scheduling.ErrNotFound) {
		rw.DatabaseError(err)
		return
	}
	compiled, err := h.db.CompiledDay(r.Context(), ch.ID, day)
	if err != nil {
		compiled = nil
	}
	if resolved == nil && compiled == nil {
		rw.NotFound("no schedule for day " + string(day))
		return
	}
	rw.Success(map[string]any{
		"channel":  ch.Slug,
		"day":      day,
		"resolved": resolved,
		"compiled": compiled,
	})
}

// ChannelTransmission returns transmission rows in [from_ms, to_ms), default
// the six hours from now.
func (h *Handler) ChannelTransmission(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ch, ok := h.channelFromPath(rw, r)
	if !ok {
		return
	}

	nowMS := h.clk.NowUTC().UnixMilli()
	fromMS, err := queryInt64(r, "from_ms", nowMS)
	if err != nil {
		rw.BadRequest("from_ms must be an integer")
		return
	}
	toMS, err := queryInt64(r, "to_ms", fromMS+6*time.Hour.Milliseconds())
	if err != nil {
		rw.BadRequest("to_ms must be an integer")
		return
	}
	if toMS <= fromMS {
		rw.BadRequest("to_ms must be after from_ms")
		return
	}

	rows, err := h.db.RowsInRange(r.Context(), ch.Slug, fromMS, toMS)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(map[string]any{
		"channel": ch.Slug,
		"from_ms": fromMS,
		"to_ms":   toMS,
		"rows":    rows,
	})
}

// ChannelHorizonAttempts returns the channel's extension audit log.
func (h *Handler) ChannelHorizonAttempts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	slug := chi.URLParam(r, "slug")
	handle := h.registry.Get(slug)
	if handle == nil || handle.Horizon == nil {
		rw.NotFound("no horizon manager for channel " + slug)
		return
	}
	rw.Success(map[string]any{
		"channel":  slug,
		"attempts": handle.Horizon.Attempts(),
	})
}

func (h *Handler) channelFromPath(rw *ResponseWriter, r *http.Request) (*models.Channel, bool) {
	slug := chi.URLParam(r, "slug")
	ch, err := h.db.ChannelBySlug(r.Context(), slug)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("channel " + slug + " not found")
		return nil, false
	}
	if err != nil {
		rw.DatabaseError(err)
		return nil, false
	}
	return ch, true
}

func queryInt64(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

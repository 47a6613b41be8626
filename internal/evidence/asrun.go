// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package evidence

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/models"
)

// asrunVersion is written to every file header.
const asrunVersion = "1"

// AsRunRecord is one as-run entry in its structured form. The fixed-width
// .asrun line and the .jsonl line are both rendered from it.
type AsRunRecord struct {
	ActualUTC   time.Time      `json:"actual_utc"`
	ActualUTCMS int64          `json:"actual_utc_ms"`
	// Actual is broadcast-day-relative HH:MM:SS; hours exceed 23 for events
	// past midnight within the same broadcast day.
	Actual     string         `json:"actual"`
	DurationMS int64          `json:"duration_ms"`
	Status     string         `json:"status"`
	Type       string         `json:"type"`
	EventID    string         `json:"event_id"`
	Notes      string         `json:"notes,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// AsRunWriter appends to the per-(channel, broadcast day) as-run pair:
// <dir>/<channel>/<YYYY-MM-DD>.asrun and .asrun.jsonl. It is single-writer;
// the evidence stream owns it.
type AsRunWriter struct {
	channelID string
	day       models.BroadcastDay
	logID     string

	f   *os.File
	jf  *os.File
	bw  *bufio.Writer
	jbw *bufio.Writer
}

// OpenAsRunWriter opens (creating if needed) the as-run pair for the channel
// and broadcast day. A header block is written when the .asrun file is new.
func OpenAsRunWriter(dir, channelID string, day models.BroadcastDay, nowUTC time.Time) (*AsRunWriter, error) {
	chDir := filepath.Join(dir, channelID)
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		return nil, fmt.Errorf("create asrun dir: %w", err)
	}
	base := filepath.Join(chDir, string(day))
	f, err := os.OpenFile(base+".asrun", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open asrun: %w", err)
	}
	jf, err := os.OpenFile(base+".asrun.jsonl", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open asrun jsonl: %w", err)
	}
	w := &AsRunWriter{
		channelID: channelID,
		day:       day,
		logID:     uuid.NewString(),
		f:         f,
		jf:        jf,
		bw:        bufio.NewWriter(f),
		jbw:       bufio.NewWriter(jf),
	}
	st, err := f.Stat()
	if err != nil {
		w.Close()
		return nil, err
	}
	if st.Size() == 0 {
		if err := w.writeHeader(nowUTC); err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}

// Day returns the broadcast day the writer is bound to.
func (w *AsRunWriter) Day() models.BroadcastDay { return w.day }

func (w *AsRunWriter) writeHeader(nowUTC time.Time) error {
	_, err := fmt.Fprintf(w.bw,
		"# CHANNEL %s\n# DATE %s\n# OPENED_UTC %s\n# ASRUN_LOG_ID %s\n# VERSION %s\n",
		w.channelID, w.day, nowUTC.Format(time.RFC3339), w.logID, asrunVersion)
	return err
}

// Write appends the record to both files. Durability requires a following
// Sync; ACK must not be emitted before it.
func (w *AsRunWriter) Write(rec *AsRunRecord) error {
	_, err := fmt.Fprintf(w.bw, "%-8s %-8s %-10s %-8s %-32s %s\n",
		rec.Actual,
		formatDuration(rec.DurationMS),
		rec.Status,
		rec.Type,
		rec.EventID,
		rec.Notes)
	if err != nil {
		return fmt.Errorf("write asrun line: %w", err)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal asrun record: %w", err)
	}
	if _, err := w.jbw.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write asrun jsonl line: %w", err)
	}
	return nil
}

// Sync flushes both buffers and fsyncs both files.
func (w *AsRunWriter) Sync() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if err := w.jbw.Flush(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	return w.jf.Sync()
}

// Close flushes and releases both file descriptors.
func (w *AsRunWriter) Close() error {
	err1 := w.bw.Flush()
	err2 := w.jbw.Flush()
	err3 := w.f.Close()
	err4 := w.jf.Close()
	for _, err := range []error{err1, err2, err3, err4} {
		if err != nil {
			return err
		}
	}
	return nil
}

// formatDuration renders milliseconds as seconds with two decimals, fitting
// the 8-wide DUR column.
func formatDuration(ms int64) string {
	return fmt.Sprintf("%.2f", float64(ms)/1000.0)
}

// dayRelative renders the instant as broadcast-day-relative HH:MM:SS. The
// base is local midnight of the broadcast-day date, so an event at 01:30 the
// next calendar morning renders as 25:30:00.
func dayRelative(t time.Time, day models.BroadcastDay, loc *time.Location) string {
	midnight, err := day.Time(loc)
	if err != nil {
		return t.UTC().Format("15:04:05")
	}
	d := t.In(loc).Sub(midnight)
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/retrovue/retrovue/internal/clock"
)

// AckStore persists the durable ack high-water mark per
// (channel, playout session). Files live at
// <dir>/<channel_id>/<playout_session_id>.ack with two lines:
//
//	acked_sequence=N
//	updated_utc=...Z
//
// Updates are atomic (tmp + fsync + rename); the in-memory cache is
// populated on first access.
type AckStore struct {
	dir string
	clk clock.Clock

	mu    sync.Mutex
	cache map[string]uint64
}

// NewAckStore creates the store rooted at dir.
func NewAckStore(dir string, clk clock.Clock) *AckStore {
	return &AckStore{dir: dir, clk: clk, cache: make(map[string]uint64)}
}

func (s *AckStore) path(channelID, sessionID string) string {
	return filepath.Join(s.dir, channelID, sessionID+".ack")
}

// Load returns the durable ack for the key, reading from disk on first
// access. A missing file means 0.
func (s *AckStore) Load(channelID, sessionID string) (uint64, error) {
	key := channelID + "/" + sessionID
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, ok := s.cache[key]; ok {
		return seq, nil
	}
	seq, err := readAckFile(s.path(channelID, sessionID))
	if err != nil {
		return 0, err
	}
	s.cache[key] = seq
	return seq, nil
}

// Update persists the new high-water mark. The write is atomic; the cache is
// updated only after the rename lands.
func (s *AckStore) Update(channelID, sessionID string, seq uint64) error {
	key := channelID + "/" + sessionID
	path := s.path(channelID, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ack dir: %w", err)
	}
	body := fmt.Sprintf("acked_sequence=%d\nupdated_utc=%s\n",
		seq, s.clk.NowUTC().Format(time.RFC3339))
	if err := renameio.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("persist ack: %w", err)
	}
	s.mu.Lock()
	s.cache[key] = seq
	s.mu.Unlock()
	return nil
}

func readAckFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read ack file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "acked_sequence="); ok {
			seq, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse ack file %s: %w", path, err)
			}
			return seq, nil
		}
	}
	return 0, fmt.Errorf("ack file %s missing acked_sequence", path)
}

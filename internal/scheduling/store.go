// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/models"
)

// Store errors.
var (
	// ErrNotFound is returned when no resolved day exists for the key.
	ErrNotFound = errors.New("resolved schedule day not found")
	// ErrAlreadyResolved is returned by Store when a record already exists
	// for the (channel, date); use ForceReplace or OperatorOverride.
	ErrAlreadyResolved = errors.New("schedule day already resolved for date")
	// ErrImmutable is returned for any in-place update attempt.
	ErrImmutable = errors.New("resolved schedule days are immutable; create an override")
	// ErrAnchored is returned when deletion is refused because downstream
	// execution artifacts still reference the day.
	ErrAnchored = errors.New("schedule day is referenced by downstream execution artifacts")
)

// DayRecords is the persistence surface the store drives. The database
// implementation maps these onto the resolved_schedule_days table; Replace
// must run delete-old + insert-new in a single transaction.
type DayRecords interface {
	GetDay(ctx context.Context, channelID int64, day models.BroadcastDay) (*models.ResolvedScheduleDay, error)
	InsertDay(ctx context.Context, rec *models.ResolvedScheduleDay) error
	ReplaceDay(ctx context.Context, oldID uuid.UUID, rec *models.ResolvedScheduleDay) error
	DeleteDay(ctx context.Context, channelID int64, day models.BroadcastDay) error
}

// ExecutionAnchors reports whether downstream execution artifacts (playlog
// events, transmission rows) reference a schedule day.
type ExecutionAnchors interface {
	HasEntriesFor(ctx context.Context, channelID int64, day models.BroadcastDay) (bool, error)
}

// ResolvedScheduleStore owns the one-per-(channel, date) lifecycle of
// resolved schedule days. A single store-wide mutex serializes writers;
// reads go straight to committed state.
type ResolvedScheduleStore struct {
	mu      sync.Mutex
	records DayRecords
	anchors ExecutionAnchors
}

// NewResolvedScheduleStore creates a store over the given persistence.
// anchors may be nil, in which case deletion is never anchor-protected.
func NewResolvedScheduleStore(records DayRecords, anchors ExecutionAnchors) *ResolvedScheduleStore {
	return &ResolvedScheduleStore{records: records, anchors: anchors}
}

// Get returns the resolved day or ErrNotFound.
func (s *ResolvedScheduleStore) Get(ctx context.Context, channelID int64, day models.BroadcastDay) (*models.ResolvedScheduleDay, error) {
	return s.records.GetDay(ctx, channelID, day)
}

// Exists reports whether a record exists for the key.
func (s *ResolvedScheduleStore) Exists(ctx context.Context, channelID int64, day models.BroadcastDay) (bool, error) {
	_, err := s.records.GetDay(ctx, channelID, day)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Store inserts a freshly resolved day. It fails with ErrAlreadyResolved if
// a record exists, and runs seam validation against the preceding day plus
// contiguity validation against the computed effective start.
func (s *ResolvedScheduleStore) Store(ctx context.Context, rec *models.ResolvedScheduleDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.records.GetDay(ctx, rec.ChannelID, rec.Day); err == nil {
		return fmt.Errorf("%w: channel %d day %s", ErrAlreadyResolved, rec.ChannelID, rec.Day)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := s.validateAgainstNeighbors(ctx, rec); err != nil {
		return err
	}
	return s.records.InsertDay(ctx, rec)
}

// ForceReplace atomically replaces the existing record for (channel, date).
// Readers observe either the old or the new record, never neither.
func (s *ResolvedScheduleStore) ForceReplace(ctx context.Context, rec *models.ResolvedScheduleDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.records.GetDay(ctx, rec.ChannelID, rec.Day)
	if err != nil {
		return err
	}
	if err := s.validateAgainstNeighbors(ctx, rec); err != nil {
		return err
	}
	return s.records.ReplaceDay(ctx, old.ID, rec)
}

// Update is unconditionally forbidden: resolved days are immutable.
func (s *ResolvedScheduleStore) Update(context.Context, *models.ResolvedScheduleDay) error {
	return ErrImmutable
}

// OperatorOverride installs a manual override: a new record with
// is_manual_override set and supersedes_id pointing at the original, swapped
// in atomically as the authoritative record. The original is retained
// logically for audit via the supersedes link.
func (s *ResolvedScheduleStore) OperatorOverride(ctx context.Context, rec *models.ResolvedScheduleDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.records.GetDay(ctx, rec.ChannelID, rec.Day)
	if err != nil {
		return err
	}

	rec.PlanID = 0
	rec.IsManualOverride = true
	rec.SupersedesID = old.ID
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	if err := s.validateAgainstNeighbors(ctx, rec); err != nil {
		return err
	}
	if err := s.records.ReplaceDay(ctx, old.ID, rec); err != nil {
		return err
	}
	logging.Info().
		Int64("channel_id", rec.ChannelID).
		Str("day", string(rec.Day)).
		Str("supersedes", old.ID.String()).
		Msg("operator override installed")
	return nil
}

// Delete removes the record for (channel, date). Refused with ErrAnchored
// while downstream execution artifacts reference the day.
func (s *ResolvedScheduleStore) Delete(ctx context.Context, channelID int64, day models.BroadcastDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.anchors != nil {
		anchored, err := s.anchors.HasEntriesFor(ctx, channelID, day)
		if err != nil {
			return err
		}
		if anchored {
			return fmt.Errorf("%w: channel %d day %s", ErrAnchored, channelID, day)
		}
	}
	return s.records.DeleteDay(ctx, channelID, day)
}

// validateAgainstNeighbors runs the structural, seam and contiguity checks a
// write must pass: seam against the preceding day when present, contiguity
// against the effective start derived from that seam.
func (s *ResolvedScheduleStore) validateAgainstNeighbors(ctx context.Context, rec *models.ResolvedScheduleDay) error {
	if err := ValidateScheduleDay(rec); err != nil {
		return err
	}

	prev, err := s.records.GetDay(ctx, rec.ChannelID, rec.Day.Prev())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if prev != nil {
		if err := ValidateSeam(prev, rec); err != nil {
			return err
		}
	}

	effective := rec.DayStartUTC
	if prev != nil {
		effective = models.EffectiveStart(rec.DayStartUTC, prev.CarryInEnd())
	}
	return ValidateContiguity(rec, effective)
}

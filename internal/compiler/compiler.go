// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package compiler expands resolved schedule days into Tier-1 compiled
// program logs: per-slot segmented blocks with content segments, empty break
// placeholders, and a zero-duration pad trailer.
//
// Compile time never selects ads. Break placeholders carry an empty
// asset_uri; the Tier-2 writer (internal/traffic via internal/horizon) is
// the only code path that fills them.
package compiler

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/models"
)

// ChapterSource supplies an asset's CHAPTER markers, used to place mid-roll
// break boundaries. The asset library implements this.
type ChapterSource interface {
	ChapterMarkers(ctx context.Context, assetID uuid.UUID) ([]models.Marker, error)
}

// Compiler builds CompiledProgramLogs. Safe for concurrent use.
type Compiler struct {
	chapters ChapterSource
}

// New creates a compiler. chapters may be nil, in which case every break is
// placed at slot end.
func New(chapters ChapterSource) *Compiler {
	return &Compiler{chapters: chapters}
}

// CompileDay expands each slot of the resolved day into one segmented block.
// Block identity derives from (channel slug, absolute start), so recompiling
// an unchanged day yields identical block_ids and the Tier-2 join stays
// idempotent.
func (c *Compiler) CompileDay(ctx context.Context, ch *models.Channel, day *models.ResolvedScheduleDay) (*models.CompiledProgramLog, error) {
	log := &models.CompiledProgramLog{
		ChannelID: ch.ID,
		Day:       day.Day,
	}
	for i := range day.Slots {
		block, err := c.compileSlot(ctx, ch, &day.Slots[i])
		if err != nil {
			return nil, fmt.Errorf("compile day %s slot %d: %w", day.Day, i, err)
		}
		log.Blocks = append(log.Blocks, *block)
	}
	return log, nil
}

// compileSlot emits the block for one slot:
//
//  1. content segment(s) of exactly the episode duration, split at chapter
//     markers when present, with seek offsets following the splits
//  2. break placeholders (asset_uri="") covering the remainder
//  3. a zero-duration pad trailer as a stable anchor
//
// A slot with no resolved asset becomes a single whole-slot placeholder.
func (c *Compiler) compileSlot(ctx context.Context, ch *models.Channel, slot *models.ScheduleSlot) (*models.SegmentedBlock, error) {
	startMS := slot.StartUTC.UnixMilli()
	endMS := slot.EndUTC.UnixMilli()
	block := &models.SegmentedBlock{
		BlockID:    models.BlockID(ch.Slug, startMS),
		StartUTCMS: startMS,
		EndUTCMS:   endMS,
	}
	slotMS := endMS - startMS

	contentMS := slot.AssetDurationMS
	if slot.AssetURI == "" || contentMS <= 0 {
		contentMS = 0
	}
	if contentMS > slotMS {
		// Long-form content spans the whole slot; the surplus belongs to a
		// later slot of the same program (carry handled at resolution).
		contentMS = slotMS
	}
	breakMS := slotMS - contentMS

	idx := 0
	appendSeg := func(s models.ScheduledSegment) {
		s.SegmentIndex = idx
		idx++
		block.Segments = append(block.Segments, s)
	}

	if contentMS > 0 {
		chapters, err := c.chaptersWithin(ctx, slot, contentMS)
		if err != nil {
			return nil, err
		}
		if len(chapters) == 0 || breakMS == 0 {
			appendSeg(models.ScheduledSegment{
				SegmentType:       models.SegmentContent,
				AssetURI:          slot.AssetURI,
				AssetStartOffsetMS: 0,
				SegmentDurationMS: contentMS,
				Title:             slot.Title,
			})
			if breakMS > 0 {
				appendSeg(models.ScheduledSegment{
					SegmentType:       models.SegmentFiller,
					AssetURI:          "",
					SegmentDurationMS: breakMS,
				})
			}
		} else {
			// Split content at chapter markers and spread the break budget
			// across the resulting gaps, remainder on the final break.
			cuts := append(chapters, contentMS)
			gaps := int64(len(cuts))
			per := breakMS / gaps
			rem := breakMS - per*gaps

			var offset int64
			for gi, cut := range cuts {
				segMS := cut - offset
				if segMS <= 0 {
					continue
				}
				appendSeg(models.ScheduledSegment{
					SegmentType:       models.SegmentContent,
					AssetURI:          slot.AssetURI,
					AssetStartOffsetMS: offset,
					SegmentDurationMS: segMS,
					Title:             slot.Title,
				})
				gapMS := per
				if gi == len(cuts)-1 {
					gapMS += rem
				}
				if gapMS > 0 {
					appendSeg(models.ScheduledSegment{
						SegmentType:       models.SegmentFiller,
						AssetURI:          "",
						SegmentDurationMS: gapMS,
					})
				}
				offset = cut
			}
		}
	} else if slotMS > 0 {
		appendSeg(models.ScheduledSegment{
			SegmentType:       models.SegmentFiller,
			AssetURI:          "",
			SegmentDurationMS: slotMS,
		})
	}

	// Zero-duration pad trailer: a stable anchor for evidence mapping.
	appendSeg(models.ScheduledSegment{
		SegmentType:       models.SegmentPad,
		AssetURI:          "",
		SegmentDurationMS: 0,
	})

	return block, nil
}

// chaptersWithin returns the sorted chapter cut points strictly inside
// (0, contentMS).
func (c *Compiler) chaptersWithin(ctx context.Context, slot *models.ScheduleSlot, contentMS int64) ([]int64, error) {
	if c.chapters == nil || slot.AssetUUID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(slot.AssetUUID)
	if err != nil {
		return nil, nil //nolint:nilerr // unparseable asset ref means no chapters
	}
	markers, err := c.chapters.ChapterMarkers(ctx, id)
	if err != nil {
		return nil, err
	}
	var cuts []int64
	for _, m := range markers {
		if m.StartMS > 0 && m.StartMS < contentMS {
			cuts = append(cuts, m.StartMS)
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i] < cuts[j] })
	return cuts, nil
}

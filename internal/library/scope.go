// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package library

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/retrovue/retrovue/internal/models"
)

// ErrScopeNotFound marks a targeted-ingest selector that resolved to no
// asset. Distinct from prerequisite failures so callers can report it
// separately.
var ErrScopeNotFound = errors.New("targeted ingest scope matched no asset")

var seasonEpisodePattern = regexp.MustCompile(`s(\d{1,4})e(\d{1,4})`)

// seasonEpisode extracts the sNNeNN marker from a canonical key.
func seasonEpisode(key string) (season, episode int, ok bool) {
	m := seasonEpisodePattern.FindStringSubmatch(key)
	if m == nil {
		return 0, 0, false
	}
	season, _ = strconv.Atoi(m[1])
	episode, _ = strconv.Atoi(m[2])
	return season, episode, true
}

// ResolveScope resolves a targeted-ingest selector against the collection's
// assets. Title matches case-insensitively as a substring; season and episode
// match the sNNeNN marker in the canonical key (season alone targets the
// whole season). Returns ErrScopeNotFound when nothing matches.
func (s *Sources) ResolveScope(ctx context.Context, collectionID int64, title string, season, episode int) ([]models.Asset, error) {
	assets, err := s.store.AssetsForCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(title)
	var out []models.Asset
	for i := range assets {
		a := &assets[i]
		if a.IsDeleted {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(a.Title), needle) {
			continue
		}
		if season > 0 {
			se, ep, ok := seasonEpisode(a.CanonicalKey)
			if !ok || se != season {
				continue
			}
			if episode > 0 && ep != episode {
				continue
			}
		}
		out = append(out, *a)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: collection %d title=%q season=%d episode=%d",
			ErrScopeNotFound, collectionID, title, season, episode)
	}
	return out, nil
}

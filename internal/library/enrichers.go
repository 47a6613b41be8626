// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package library

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/retrovue/retrovue/internal/models"
)

// EnricherID derives the canonical identity "enricher-{type}-{hash8}" from
// the enricher type and its validated config.
func EnricherID(enricherType string, config map[string]string) string {
	var parts []string
	for k, v := range config {
		parts = append(parts, k+"="+v)
	}
	// Stable hashing regardless of map iteration order.
	sort.Strings(parts)
	hash := KeyHash(enricherType + "|" + strings.Join(parts, "|"))
	return fmt.Sprintf("enricher-%s-%s", enricherType, hash[:8])
}

var crossfadeCurves = map[string]bool{
	"linear": true, "ease-in": true, "ease-out": true, "ease-in-out": true,
}

var watermarkPositions = map[string]bool{
	"top-left": true, "top-right": true, "bottom-left": true, "bottom-right": true, "center": true,
}

// ValidateEnricherConfig enforces the per-type parameter rules:
//
//	tvdb, tmdb:  api_key >= 10 chars, language >= 2 chars
//	watermark:   overlay path exists, position in the known set, opacity in [0,1]
//	crossfade:   duration > 0, curve in {linear, ease-in, ease-out, ease-in-out}
//	ffmpeg, ffprobe: no parameters required
func ValidateEnricherConfig(enricherType string, config map[string]string) error {
	switch enricherType {
	case "tvdb", "tmdb":
		if len(config["api_key"]) < 10 {
			return fmt.Errorf("enricher %s: api_key must be at least 10 characters", enricherType)
		}
		if len(config["language"]) < 2 {
			return fmt.Errorf("enricher %s: language must be at least 2 characters", enricherType)
		}

	case "watermark":
		overlay := config["overlay"]
		if overlay == "" {
			return fmt.Errorf("enricher watermark: overlay path required")
		}
		if _, err := os.Stat(overlay); err != nil {
			return fmt.Errorf("enricher watermark: overlay path %q: %w", overlay, err)
		}
		if !watermarkPositions[config["position"]] {
			return fmt.Errorf("enricher watermark: position %q not one of top-left, top-right, bottom-left, bottom-right, center", config["position"])
		}
		opacity, err := strconv.ParseFloat(config["opacity"], 64)
		if err != nil || opacity < 0.0 || opacity > 1.0 {
			return fmt.Errorf("enricher watermark: opacity %q not in [0.0, 1.0]", config["opacity"])
		}

	case "crossfade":
		dur, err := strconv.ParseFloat(config["duration"], 64)
		if err != nil || dur <= 0 {
			return fmt.Errorf("enricher crossfade: duration must be > 0")
		}
		if !crossfadeCurves[config["curve"]] {
			return fmt.Errorf("enricher crossfade: curve %q not one of linear, ease-in, ease-out, ease-in-out", config["curve"])
		}

	case "ffmpeg", "ffprobe":
		// No parameters required.

	default:
		return fmt.Errorf("unknown enricher type %q", enricherType)
	}
	return nil
}

// NewEnricher validates the config and builds the enricher with its derived
// identity.
func NewEnricher(enricherType, name string, scope models.EnricherScope, config map[string]string) (*models.Enricher, error) {
	if scope != models.EnricherIngest && scope != models.EnricherPlayout {
		return nil, fmt.Errorf("enricher scope %q not one of ingest, playout", scope)
	}
	if err := ValidateEnricherConfig(enricherType, config); err != nil {
		return nil, err
	}
	return &models.Enricher{
		ID:     EnricherID(enricherType, config),
		Type:   enricherType,
		Scope:  scope,
		Name:   name,
		Config: config,
	}, nil
}

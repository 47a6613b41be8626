// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package library is the planning-side asset library: canonical keys, the
// asset lifecycle state machine, markers, enricher configuration rules, and
// the source/collection lifecycle including production-safety deletes.
//
// Import discipline: planning and compilation code may import this package;
// the channel runtime (internal/runtime) must not. A repository test parses
// runtime imports to enforce the rule.
package library

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	uncPattern   = regexp.MustCompile(`^//([^/]+)/`)
	drivePattern = regexp.MustCompile(`^([a-z]):/`)
	multiSlash   = regexp.MustCompile(`/{2,}`)
)

// CanonicalKey normalizes a content path into the stable key assets are
// addressed by. Rules: lowercase everything, backslashes to forward slashes,
// `\\HOST\share` to `//host/share`, `C:\path` to `/c/path`, collapse
// duplicate slashes (preserving a UNC `//` prefix), strip trailing slash.
// The function is idempotent: CanonicalKey(CanonicalKey(x)) == CanonicalKey(x).
func CanonicalKey(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("canonical key: empty path")
	}

	key := strings.ToLower(strings.TrimSpace(path))
	key = strings.ReplaceAll(key, `\`, "/")

	unc := uncPattern.MatchString(key)
	if drivePattern.MatchString(key) {
		key = drivePattern.ReplaceAllString(key, "/$1/")
	}

	if unc {
		key = "//" + multiSlash.ReplaceAllString(strings.TrimLeft(key, "/"), "/")
	} else {
		key = multiSlash.ReplaceAllString(key, "/")
	}

	if len(key) > 1 {
		key = strings.TrimRight(key, "/")
	}
	if key == "" {
		return "", fmt.Errorf("canonical key: path %q normalizes to nothing", path)
	}
	return key, nil
}

// KeyHash returns the SHA-256 hex digest of a canonical key.
func KeyHash(canonicalKey string) string {
	sum := sha256.Sum256([]byte(canonicalKey))
	return hex.EncodeToString(sum[:])
}

// CanonicalKeyAndHash normalizes and hashes in one step. Any failure to
// produce a key is fatal to ingest.
func CanonicalKeyAndHash(path string) (key, hash string, err error) {
	key, err = CanonicalKey(path)
	if err != nil {
		return "", "", err
	}
	return key, KeyHash(key), nil
}

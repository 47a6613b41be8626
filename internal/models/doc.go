// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package models defines the RetroVue scheduling data model: channels and
// broadcast-day arithmetic, declarative schedule plans, resolved schedule
// days, the two playout tiers (compiled program log and transmission log),
// playlog events, and the asset/source/collection/enricher library entities.
//
// The package is intentionally free of persistence and business logic;
// stores and managers live in internal/database, internal/scheduling,
// internal/library, internal/compiler and internal/horizon.
package models

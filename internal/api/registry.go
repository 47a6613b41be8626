// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package api

import (
	"sort"
	"sync"

	"github.com/retrovue/retrovue/internal/horizon"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/runtime"
)

// ChannelHandle bundles the live per-channel components the status API
// reports on.
type ChannelHandle struct {
	Channel *models.Channel
	Runtime *runtime.Manager
	Horizon *horizon.Manager
	Window  *horizon.ExecutionWindowStore
}

// Registry tracks channel handles by slug. Channels register at startup and
// when a channel manager is spawned on demand.
type Registry struct {
	mu     sync.RWMutex
	bySlug map[string]*ChannelHandle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bySlug: make(map[string]*ChannelHandle)}
}

// Add registers or replaces a channel handle.
func (r *Registry) Add(h *ChannelHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySlug[h.Channel.Slug] = h
}

// Get returns the handle for a slug, or nil.
func (r *Registry) Get(slug string) *ChannelHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySlug[slug]
}

// List returns all handles sorted by slug.
func (r *Registry) List() []*ChannelHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ChannelHandle, 0, len(r.bySlug))
	for _, h := range r.bySlug {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel.Slug < out[j].Channel.Slug })
	return out
}

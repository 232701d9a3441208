// Package adapters holds the platform adapter registry and the HTTP plumbing
// shared by the per-platform implementations.
package adapters

import (
	"fmt"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// Registry maps platform tags to their adapters. It is built once at startup
// and injected wherever adapters are needed; there is no ambient global.
type Registry struct {
	adapters map[creator.Platform]creator.Adapter
}

// NewRegistry registers the provided adapters keyed by their platform tag.
func NewRegistry(list ...creator.Adapter) *Registry {
	m := make(map[creator.Platform]creator.Adapter, len(list))
	for _, a := range list {
		m[a.Platform()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for platform, or an error for unknown tags.
func (r *Registry) Get(platform creator.Platform) (creator.Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", platform)
	}
	return a, nil
}

// Platforms lists the registered platform tags.
func (r *Registry) Platforms() []creator.Platform {
	out := make([]creator.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}

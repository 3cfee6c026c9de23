// Package registry holds the live set of sites, keyed by condition id.
// Sites are independent; the registry only routes, it never coordinates.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"SiteLend/internal/site"
)

// ErrSiteNotFound is returned for an unknown condition id.
var ErrSiteNotFound = fmt.Errorf("registry: site not found")

// ErrSiteExists is returned when creating a duplicate site.
var ErrSiteExists = fmt.Errorf("registry: site already exists")

// Registry is a concurrency-safe site map.
type Registry struct {
	mu    sync.RWMutex
	sites map[string]*site.Site
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sites: make(map[string]*site.Site)}
}

// Add registers a site under its condition id.
func (r *Registry) Add(s *site.Site) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sites[s.ConditionID]; ok {
		return fmt.Errorf("%w: %s", ErrSiteExists, s.ConditionID)
	}
	r.sites[s.ConditionID] = s
	return nil
}

// Get returns the site for the condition id.
func (r *Registry) Get(conditionID string) (*site.Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sites[conditionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, conditionID)
	}
	return s, nil
}

// Remove drops a site from the registry. The site itself is untouched.
func (r *Registry) Remove(conditionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sites, conditionID)
}

// Conditions returns all registered condition ids, sorted.
func (r *Registry) Conditions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sites))
	for id := range r.sites {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered sites.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sites)
}

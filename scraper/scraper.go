// Package scraper defines the capability contract every marketplace
// adapter implements, and the registry the ingest runner draws from.
// Adapters share no code beyond this contract; a new marketplace is added
// by implementing the interface and registering it.
package scraper

import (
	"context"
	"sort"
	"sync"

	"pricepulse/models"
)

// Adapter is the fixed capability set of a marketplace integration.
//
// All methods honor the context deadline; a timeout or anti-bot block is
// surfaced as *models.TransientFetchError (retryable), while an unreadable
// page or payload is a *models.ParseError (skip the item, do not retry).
type Adapter interface {
	// Name returns the marketplace identifier, e.g. "amazon".
	Name() string

	// SearchListings fetches one page of listings for a search query.
	SearchListings(ctx context.Context, query string, page int) ([]*models.RawRecord, error)

	// FetchProduct fetches a single listing by its marketplace-native id.
	FetchProduct(ctx context.Context, externalID string) (*models.RawRecord, error)

	// FetchReviews fetches customer reviews for a listing.
	FetchReviews(ctx context.Context, externalID string) ([]*models.RawReview, error)
}

// Registry maps marketplace names to adapter instances.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for its marketplace name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns all registered marketplace names in sorted order, so runs
// iterate adapters deterministically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

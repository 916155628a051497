// Package memory provides an in-memory listing store for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/huurwatch/rental-crawler/internal/listing"
)

// ListingStore keeps listings in a map keyed by content hash.
type ListingStore struct {
	mu       sync.Mutex
	listings map[string]*listing.Listing
}

// NewListingStore creates an empty store.
func NewListingStore() *ListingStore {
	return &ListingStore{listings: make(map[string]*listing.Listing)}
}

// Upsert stores the listing, reporting whether the hash was unseen.
func (s *ListingStore) Upsert(_ context.Context, l *listing.Listing) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.listings[l.ContentHash]
	s.listings[l.ContentHash] = l
	return !exists, nil
}

// Close is a no-op.
func (s *ListingStore) Close() {}

// Len reports the number of stored listings.
func (s *ListingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listings)
}

// All returns every stored listing in no particular order.
func (s *ListingStore) All() []*listing.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*listing.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		out = append(out, l)
	}
	return out
}

// Get returns the listing stored under a hash.
func (s *ListingStore) Get(hash string) (*listing.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[hash]
	return l, ok
}

// Package storage persists normalized listings keyed by content hash.
package storage

import (
	"context"

	"github.com/huurwatch/rental-crawler/internal/listing"
)

// ListingStore upserts listings by their content hash: insert when the hash
// is unseen, update otherwise. The scraping core only produces the key; what
// persistence does with it lives entirely behind this interface.
type ListingStore interface {
	// Upsert stores the listing and reports whether the hash was new.
	Upsert(ctx context.Context, l *listing.Listing) (created bool, err error)
	Close()
}

// Package scraper defines the extraction strategy contract and the per-site
// implementations that project portal responses into normalized listings.
package scraper

import (
	"fmt"
	"sort"
	"sync"

	"github.com/huurwatch/rental-crawler/internal/listing"
)

// Strategy is implemented once per housing portal. Strategies receive decoded
// text only; raw bytes and headers never leave the fetch layer.
type Strategy interface {
	// Source names the portal, used as the listing source tag.
	Source() string
	// BuildSearchURL renders the search URL for a city and page number.
	BuildSearchURL(city string, page int) (string, error)
	// ParseSearchPage extracts listings from a search results payload. A
	// malformed item is skipped, never fatal for the batch.
	ParseSearchPage(text string) ([]*listing.Listing, error)
	// ParseListingPage extracts one listing from a detail page.
	ParseListingPage(text string, url string) (*listing.Listing, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Strategy)
)

// Register adds a strategy under its source name. Called from package init
// in each strategy file.
func Register(s Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Source()] = s
}

// Get returns the strategy registered for a source.
func Get(source string) (Strategy, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[source]
	if !ok {
		return nil, fmt.Errorf("no scraper registered for source %q", source)
	}
	return s, nil
}

// Sources lists the registered source names, sorted.
func Sources() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

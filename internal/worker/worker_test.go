package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/huurwatch/rental-crawler/internal/fetch"
	"github.com/huurwatch/rental-crawler/internal/listing"
	"github.com/huurwatch/rental-crawler/internal/publisher/memory"
	"github.com/huurwatch/rental-crawler/internal/scraper"
	memstore "github.com/huurwatch/rental-crawler/internal/storage/memory"
)

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	fails    map[string]error
	statuses map[string]int
	calls    []string
}

func (f *fakeFetcher) FetchWithFallback(_ context.Context, rawURL string, _ fetch.Options) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if err, ok := f.fails[rawURL]; ok {
		return nil, err
	}
	status := 200
	if s, ok := f.statuses[rawURL]; ok {
		status = s
	}
	return &fetch.Result{URL: rawURL, StatusCode: status, Text: f.pages[rawURL]}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeStrategy emits one listing per comma-separated token in the page body.
type fakeStrategy struct {
	source   string
	parseErr error
}

func (s *fakeStrategy) Source() string { return s.source }

func (s *fakeStrategy) BuildSearchURL(city string, page int) (string, error) {
	return fmt.Sprintf("https://%s.test/search/%s/%d", s.source, city, page), nil
}

func (s *fakeStrategy) ParseSearchPage(text string) ([]*listing.Listing, error) {
	if s.parseErr != nil {
		return nil, s.parseErr
	}
	var out []*listing.Listing
	for _, id := range strings.Split(text, ",") {
		if id == "" {
			continue
		}
		out = append(out, &listing.Listing{
			Source:   s.source,
			SourceID: id,
			URL:      fmt.Sprintf("https://%s.test/woning/%s", s.source, id),
			Title:    "Listing " + id,
			City:     "amsterdam",
		})
	}
	return out, nil
}

func (s *fakeStrategy) ParseListingPage(string, string) (*listing.Listing, error) {
	return nil, errors.New("not used")
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("broker unavailable")
}

func TestWorkerStoresAndPublishesNewListings(t *testing.T) {
	t.Parallel()

	strategy := &fakeStrategy{source: "site-store"}
	scraper.Register(strategy)

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://site-store.test/search/amsterdam/1": "a,b",
		"https://site-store.test/search/amsterdam/2": "c",
		// page 3 is empty, which ends pagination
	}}
	store := memstore.NewListingStore()
	pub := memory.New()

	w := New(fetcher, store, pub, fixedClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, Config{
		Cities:   []string{"amsterdam"},
		MaxPages: 5,
		Topic:    "new-listings",
	}, zap.NewNop())

	counters, err := w.Run(context.Background(), []string{"site-store"})
	require.NoError(t, err)

	require.Equal(t, 3, counters.PagesFetched)
	require.Equal(t, 3, counters.ListingsSeen)
	require.Equal(t, 3, counters.ListingsNew)
	require.Equal(t, 0, counters.ListingsFailed)
	require.Equal(t, 3, store.Len())
	require.Len(t, pub.Messages(), 3)
	require.Equal(t, "new-listings", pub.Messages()[0].Topic)

	payload, ok := pub.Messages()[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "site-store", payload["source"])
	require.NotEmpty(t, payload["content_hash"])
}

func TestWorkerSkipsDuplicateListings(t *testing.T) {
	t.Parallel()

	strategy := &fakeStrategy{source: "site-dup"}
	scraper.Register(strategy)

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://site-dup.test/search/amsterdam/1": "a,a,b",
	}}
	store := memstore.NewListingStore()
	pub := memory.New()

	w := New(fetcher, store, pub, fixedClock{at: time.Now()}, Config{
		Cities:   []string{"amsterdam"},
		MaxPages: 1,
		Topic:    "new-listings",
	}, zap.NewNop())

	counters, err := w.Run(context.Background(), []string{"site-dup"})
	require.NoError(t, err)

	require.Equal(t, 3, counters.ListingsSeen)
	require.Equal(t, 2, counters.ListingsNew)
	require.Equal(t, 2, store.Len())
	require.Len(t, pub.Messages(), 2)
}

func TestWorkerSearchPage404EndsPaginationWithoutError(t *testing.T) {
	t.Parallel()

	scraper.Register(&fakeStrategy{source: "site-404"})

	fetcher := &fakeFetcher{
		pages: map[string]string{
			"https://site-404.test/search/amsterdam/1": "a,b",
		},
		statuses: map[string]int{
			"https://site-404.test/search/amsterdam/2": 404,
		},
	}
	store := memstore.NewListingStore()

	w := New(fetcher, store, nil, fixedClock{at: time.Now()}, Config{
		Cities:   []string{"amsterdam"},
		MaxPages: 5,
	}, zap.NewNop())

	counters, err := w.Run(context.Background(), []string{"site-404"})
	require.NoError(t, err)
	require.Equal(t, 0, counters.PagesFailed)
	require.Equal(t, 2, counters.PagesFetched)
	require.Equal(t, 2, counters.ListingsNew)
	require.Equal(t, 2, fetcher.callCount(), "pagination must stop at the 404 page")
}

func TestWorkerFetchFailureStopsSitePagination(t *testing.T) {
	t.Parallel()

	scraper.Register(&fakeStrategy{source: "site-fail"})
	scraper.Register(&fakeStrategy{source: "site-ok"})

	fetcher := &fakeFetcher{
		pages: map[string]string{
			"https://site-ok.test/search/amsterdam/1": "x",
		},
		fails: map[string]error{
			"https://site-fail.test/search/amsterdam/1": errors.New("connection refused"),
		},
	}
	store := memstore.NewListingStore()

	w := New(fetcher, store, nil, fixedClock{at: time.Now()}, Config{
		Cities:   []string{"amsterdam"},
		MaxPages: 3,
	}, zap.NewNop())

	counters, err := w.Run(context.Background(), []string{"site-fail", "site-ok"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")

	// the failing site stops after its first page; the healthy one still runs
	require.Equal(t, 1, counters.PagesFailed)
	require.Equal(t, 1, counters.ListingsNew)
	require.Equal(t, 1, store.Len())
}

func TestWorkerParseFailureFailsPage(t *testing.T) {
	t.Parallel()

	scraper.Register(&fakeStrategy{source: "site-parse", parseErr: errors.New("unexpected payload")})

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://site-parse.test/search/amsterdam/1": "a",
	}}
	store := memstore.NewListingStore()

	w := New(fetcher, store, nil, fixedClock{at: time.Now()}, Config{
		Cities:   []string{"amsterdam"},
		MaxPages: 3,
	}, zap.NewNop())

	counters, err := w.Run(context.Background(), []string{"site-parse"})
	require.Error(t, err)
	require.Equal(t, 1, counters.PagesFetched)
	require.Equal(t, 1, counters.PagesFailed)
	require.Equal(t, 0, store.Len())
}

func TestWorkerUnknownSiteSkipped(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	w := New(fetcher, memstore.NewListingStore(), nil, fixedClock{at: time.Now()}, Config{
		Cities: []string{"amsterdam"},
	}, zap.NewNop())

	counters, err := w.Run(context.Background(), []string{"no-such-site"})
	require.NoError(t, err)
	require.Equal(t, Counters{}, counters)
	require.Equal(t, 0, fetcher.callCount())
}

func TestWorkerPublishFailureKeepsListing(t *testing.T) {
	t.Parallel()

	scraper.Register(&fakeStrategy{source: "site-pubfail"})

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://site-pubfail.test/search/amsterdam/1": "a",
	}}
	store := memstore.NewListingStore()

	w := New(fetcher, store, failingPublisher{}, fixedClock{at: time.Now()}, Config{
		Cities:   []string{"amsterdam"},
		MaxPages: 1,
		Topic:    "new-listings",
	}, zap.NewNop())

	counters, err := w.Run(context.Background(), []string{"site-pubfail"})
	require.NoError(t, err)
	require.Equal(t, 1, counters.ListingsNew)
	require.Equal(t, 1, store.Len())
}

func TestWorkerSetsScrapedAtFromClock(t *testing.T) {
	t.Parallel()

	scraper.Register(&fakeStrategy{source: "site-clock"})

	at := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://site-clock.test/search/amsterdam/1": "a",
	}}
	store := memstore.NewListingStore()

	w := New(fetcher, store, nil, fixedClock{at: at}, Config{
		Cities:   []string{"amsterdam"},
		MaxPages: 1,
	}, zap.NewNop())

	_, err := w.Run(context.Background(), []string{"site-clock"})
	require.NoError(t, err)

	l := store.All()[0]
	require.Equal(t, at, l.ScrapedAt)
	require.NotEmpty(t, l.ContentHash)
}

// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/huurwatch/rental-crawler/internal/clock"
	"github.com/huurwatch/rental-crawler/internal/fetch"
	"github.com/huurwatch/rental-crawler/internal/listing"
	"github.com/huurwatch/rental-crawler/internal/publisher"
	"github.com/huurwatch/rental-crawler/internal/scraper"
	"github.com/huurwatch/rental-crawler/internal/storage"
	"github.com/huurwatch/rental-crawler/internal/telemetry"
)

// Fetcher is the slice of the fetch client the worker needs.
type Fetcher interface {
	FetchWithFallback(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// Cities are search area slugs passed to each strategy.
	Cities []string
	// MaxPages caps pagination per site and city. Zero means one page.
	MaxPages int
	// Topic is the Pub/Sub topic for newly discovered listings. Empty
	// disables publishing.
	Topic string
}

// Counters accumulates per-run totals.
type Counters struct {
	PagesFetched   int
	PagesFailed    int
	ListingsSeen   int
	ListingsNew    int
	ListingsFailed int
}

// Worker drives the fetch, parse, dedup, persist pipeline for every
// registered site strategy.
type Worker struct {
	fetcher   Fetcher
	store     storage.ListingStore
	publisher publisher.Publisher
	clock     clock.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	fetcher Fetcher,
	store storage.ListingStore,
	pub publisher.Publisher,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &Worker{
		fetcher:   fetcher,
		store:     store,
		publisher: pub,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes one scrape pass over the given sites. Sites that are not
// registered are skipped with a warning; a site failing outright does not
// stop the others. The first error is returned after all sites ran.
func (w *Worker) Run(ctx context.Context, sites []string) (Counters, error) {
	start := w.clock.Now()
	total := Counters{}
	var firstErr error

	if len(sites) == 0 {
		sites = scraper.Sources()
	}

	for _, site := range sites {
		strategy, err := scraper.Get(site)
		if err != nil {
			w.logger.Warn("unknown site skipped", zap.String("site", site))
			continue
		}
		counters, err := w.runSite(ctx, strategy)
		total.add(counters)
		if err != nil {
			w.logger.Error("site scrape failed", zap.String("site", site), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	telemetry.ObserveScrapeRun(w.clock.Now().Sub(start))
	w.logger.Info("scrape run finished",
		zap.Int("pages_fetched", total.PagesFetched),
		zap.Int("listings_seen", total.ListingsSeen),
		zap.Int("listings_new", total.ListingsNew),
		zap.Int("listings_failed", total.ListingsFailed),
	)
	return total, firstErr
}

func (w *Worker) runSite(ctx context.Context, strategy scraper.Strategy) (Counters, error) {
	counters := Counters{}
	source := strategy.Source()
	var firstErr error

	for _, city := range w.cfg.Cities {
		for page := 1; page <= w.cfg.MaxPages; page++ {
			if ctx.Err() != nil {
				return counters, ctx.Err()
			}
			found, err := w.scrapePage(ctx, strategy, city, page, &counters)
			if err != nil {
				counters.PagesFailed++
				w.logger.Error("search page failed",
					zap.String("site", source),
					zap.String("city", city),
					zap.Int("page", page),
					zap.Error(err),
				)
				if firstErr == nil {
					firstErr = err
				}
				break
			}
			if found == 0 {
				break
			}
		}
	}

	telemetry.ObserveListings(source, counters.ListingsSeen, counters.ListingsNew)
	return counters, firstErr
}

// scrapePage fetches one search results page and stores every listing on it.
// It returns how many listings the page held so the caller can stop
// paginating on an empty page.
func (w *Worker) scrapePage(
	ctx context.Context,
	strategy scraper.Strategy,
	city string,
	page int,
	counters *Counters,
) (int, error) {
	searchURL, err := strategy.BuildSearchURL(city, page)
	if err != nil {
		return 0, fmt.Errorf("build search url: %w", err)
	}

	res, err := w.fetcher.FetchWithFallback(ctx, searchURL, fetch.Options{})
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", searchURL, err)
	}
	counters.PagesFetched++
	if res.StatusCode == http.StatusNotFound {
		// Past the last page. The portal 404s instead of serving an empty
		// result list, so this ends pagination rather than failing it.
		return 0, nil
	}
	if res.StatusCode >= 400 {
		return 0, fmt.Errorf("fetch %s: status %d", searchURL, res.StatusCode)
	}

	listings, err := strategy.ParseSearchPage(res.Text)
	if err != nil {
		return 0, fmt.Errorf("parse search page: %w", err)
	}

	for _, l := range listings {
		created, err := w.storeListing(ctx, l)
		if err != nil {
			counters.ListingsFailed++
			w.logger.Warn("listing not stored",
				zap.String("site", l.Source),
				zap.String("url", l.URL),
				zap.Error(err),
			)
			continue
		}
		counters.ListingsSeen++
		if created {
			counters.ListingsNew++
		}
	}
	return len(listings), nil
}

func (w *Worker) storeListing(ctx context.Context, l *listing.Listing) (bool, error) {
	if l.ScrapedAt.IsZero() {
		l.ScrapedAt = w.clock.Now()
	}
	l.Finalize()

	created, err := w.store.Upsert(ctx, l)
	if err != nil {
		return false, fmt.Errorf("upsert listing: %w", err)
	}
	if !created {
		return false, nil
	}

	w.logger.Info("new listing",
		zap.String("site", l.Source),
		zap.String("url", l.URL),
		zap.String("hash", l.ContentHash),
	)
	if err := w.publishNew(ctx, l); err != nil {
		// The listing is persisted; a publish failure only costs the
		// notification.
		w.logger.Warn("publish new listing failed", zap.String("url", l.URL), zap.Error(err))
	}
	return true, nil
}

func (w *Worker) publishNew(ctx context.Context, l *listing.Listing) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"source":       l.Source,
		"source_id":    l.SourceID,
		"url":          l.URL,
		"title":        l.Title,
		"city":         l.City,
		"price":        l.Price,
		"content_hash": l.ContentHash,
		"scraped_at":   l.ScrapedAt.Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

func (c *Counters) add(other Counters) {
	c.PagesFetched += other.PagesFetched
	c.PagesFailed += other.PagesFailed
	c.ListingsSeen += other.ListingsSeen
	c.ListingsNew += other.ListingsNew
	c.ListingsFailed += other.ListingsFailed
}

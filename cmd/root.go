// Package cmd defines the CLI commands for the rental crawler executable.
package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/huurwatch/rental-crawler/internal/clock"
	"github.com/huurwatch/rental-crawler/internal/config"
	"github.com/huurwatch/rental-crawler/internal/fetch"
	"github.com/huurwatch/rental-crawler/internal/logging"
	"github.com/huurwatch/rental-crawler/internal/publisher"
	pubsubpublisher "github.com/huurwatch/rental-crawler/internal/publisher/pubsub"
	"github.com/huurwatch/rental-crawler/internal/storage"
	memorystorage "github.com/huurwatch/rental-crawler/internal/storage/memory"
	"github.com/huurwatch/rental-crawler/internal/storage/postgres"
	"github.com/huurwatch/rental-crawler/internal/telemetry"
	"github.com/huurwatch/rental-crawler/internal/worker"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rental-crawler",
		Short: "Harvests rental property listings from Dutch broker sites.",
		Long: `rental-crawler polls rental listing sites, normalizes what it finds
into a common listing shape, deduplicates by content hash, and stores
new listings in Postgres with optional Pub/Sub notifications.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// pipeline bundles the wired components a crawl needs.
type pipeline struct {
	cfg       config.Config
	logger    *zap.Logger
	worker    *worker.Worker
	store     storage.ListingStore
	publisher publisher.Publisher
}

func (p *pipeline) close() {
	p.store.Close()
	if c, ok := p.publisher.(interface{ Close() error }); ok && c != nil {
		if err := c.Close(); err != nil {
			p.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	_ = p.logger.Sync()
}

// buildOptions carries command-line overrides into pipeline wiring.
type buildOptions struct {
	// dryRun forces the in-memory store and disables publishing.
	dryRun bool
	// cities overrides the configured search cities when non-empty.
	cities []string
}

// buildPipeline loads config and wires the fetch client, store, publisher,
// and worker.
func buildPipeline(ctx context.Context, opts buildOptions) (*pipeline, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	telemetry.Init()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	router := fetch.NewProxyRouter(cfg.Proxy.Enabled, cfg.Proxy.URLs, rng, logger.Named("proxy"))

	client := fetch.NewClient(fetch.Config{
		Timeout:           cfg.Timeout(),
		MaxAntiBotRetries: cfg.HTTP.MaxAntiBotRetry,
		MaxConcurrent:     int64(cfg.HTTP.MaxConcurrent),
		DelayUnit:         cfg.RetryDelayUnit(),
		PerHostRPS:        cfg.HTTP.PerHostRPS,
		PerHostBurst:      cfg.HTTP.PerHostBurst,
	}, router, logger.Named("fetch"))

	var store storage.ListingStore
	if opts.dryRun || cfg.DB.DSN == "" {
		logger.Info("using in-memory listing store")
		store = memorystorage.NewListingStore()
	} else {
		pgStore, err := postgres.NewListingStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			return nil, fmt.Errorf("connect listing store: %w", err)
		}
		store = pgStore
	}

	var pub publisher.Publisher
	topic := cfg.PubSub.TopicName
	if opts.dryRun {
		topic = ""
	}
	if topic != "" {
		psPub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connect publisher: %w", err)
		}
		pub = psPub
	}

	cities := cfg.Crawler.Cities
	if len(opts.cities) > 0 {
		cities = opts.cities
	}
	w := worker.New(client, store, pub, clock.System{}, worker.Config{
		Cities:   cities,
		MaxPages: cfg.Crawler.MaxPages,
		Topic:    topic,
	}, logger.Named("worker"))

	return &pipeline{
		cfg:       cfg,
		logger:    logger,
		worker:    w,
		store:     store,
		publisher: pub,
	}, nil
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	var (
		sites  []string
		cities []string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one scrape pass over the configured sites",
		Long: `Fetches the search pages of every configured site and city once,
stores the listings it finds, and exits. With --dry-run listings stay
in memory and nothing is published.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := buildPipeline(cmd.Context(), buildOptions{dryRun: dryRun, cities: cities})
			if err != nil {
				return err
			}
			defer p.close()

			if len(sites) == 0 {
				sites = p.cfg.Crawler.Sites
			}

			counters, err := p.worker.Run(cmd.Context(), sites)
			p.logger.Info("crawl finished",
				zap.Int("listings_seen", counters.ListingsSeen),
				zap.Int("listings_new", counters.ListingsNew),
				zap.Int("pages_failed", counters.PagesFailed),
			)
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sites, "sites", nil, "sites to scrape (default from config)")
	cmd.Flags().StringSliceVar(&cities, "cities", nil, "cities to search (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "keep listings in memory, skip publishing")

	return cmd
}

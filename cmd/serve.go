package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/huurwatch/rental-crawler/internal/api"
	"github.com/huurwatch/rental-crawler/internal/worker"
)

// runTracker records the outcome of the latest scrape pass for the ops API.
type runTracker struct {
	mu   sync.Mutex
	last api.RunStatus
}

func (t *runTracker) record(started, finished time.Time, counters worker.Counters, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	status := api.RunStatus{
		StartedAt:    started,
		FinishedAt:   finished,
		ListingsSeen: counters.ListingsSeen,
		ListingsNew:  counters.ListingsNew,
		PagesFailed:  counters.PagesFailed,
	}
	if err != nil {
		status.Error = err.Error()
	}
	t.last = status
}

// LastRun implements api.StatusReporter.
func (t *runTracker) LastRun() api.RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func newServeCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the crawl loop with an ops HTTP server",
		Long: `Scrapes the configured sites on a fixed interval and exposes
health, metrics, and last-run status over HTTP until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := buildPipeline(ctx, buildOptions{})
			if err != nil {
				return err
			}
			defer p.close()

			tracker := &runTracker{}
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", p.cfg.Server.Port),
				Handler:           api.NewServer(tracker, p.logger.Named("api")).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				p.logger.Info("ops server started", zap.Int("port", p.cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			runLoop(ctx, p, tracker, interval)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				p.logger.Error("server shutdown error", zap.Error(err))
			}

			select {
			case err := <-serverErr:
				return fmt.Errorf("ops server: %w", err)
			default:
			}
			p.logger.Info("shutdown complete")
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 15*time.Minute, "delay between scrape passes")

	return cmd
}

// runLoop scrapes immediately, then on every interval tick until the context
// is canceled.
func runLoop(ctx context.Context, p *pipeline, tracker *runTracker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		started := time.Now().UTC()
		counters, err := p.worker.Run(ctx, p.cfg.Crawler.Sites)
		tracker.record(started, time.Now().UTC(), counters, err)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("scrape pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

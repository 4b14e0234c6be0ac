package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/config"
	"github.com/BenjaminSRussell/listingharvest/internal/crawler"
	"github.com/BenjaminSRussell/listingharvest/internal/discover"
	"github.com/BenjaminSRussell/listingharvest/internal/export"
	harvesthttp "github.com/BenjaminSRussell/listingharvest/internal/http"
	"github.com/BenjaminSRussell/listingharvest/internal/logging"
	"github.com/BenjaminSRussell/listingharvest/internal/parser"
	"github.com/BenjaminSRussell/listingharvest/internal/seeding"
	"github.com/BenjaminSRussell/listingharvest/internal/storage"
	"github.com/BenjaminSRussell/listingharvest/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var noProgress bool

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Start a new crawl",
	Long: `Crawl the configured catalog start URLs, following pagination and
harvesting every listing detail page into the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}

		closeLog, err := initLogging(settings.Logging)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		results, err := runCrawl(ctx, settings.Config, nil, !noProgress, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		printResults(cmd.OutOrStdout(), "Crawl completed!", results)
		return nil
	},
}

func init() {
	config.RegisterFlags(crawlCmd.Flags())
	crawlCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
}

func initLogging(cfg logging.Config) (func(), error) {
	_, closer, err := logging.Init(cfg)
	if err != nil {
		return nil, err
	}
	return func() { closer.Close() }, nil
}

// runCrawl wires fetcher, sink and crawler for one run and persists the
// run's config and report in the data directory. visited lists detail
// URLs that must not be fetched again.
func runCrawl(ctx context.Context, cfg types.Config, visited []string, showProgress bool, out io.Writer) (*types.Results, error) {
	if err := crawler.ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.Open(cfg.Sink, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	sink := storage.NewBufferedSink(store, cfg.SinkBuffer)

	fetcher := harvesthttp.NewFetcher(cfg,
		harvesthttp.WithLogger(log.Logger.With().Str("component", "fetcher").Logger()),
	)

	opts := []crawler.Option{
		crawler.WithLogger(log.Logger),
		crawler.WithVisited(visited),
	}

	if cfg.SeedSitemaps {
		seeds, err := sitemapSeeds(ctx, cfg, fetcher)
		if err != nil {
			sink.Close()
			return nil, err
		}
		opts = append(opts, crawler.WithSeeds(seeds))
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = newProgressBar(out)
		opts = append(opts, crawler.WithProgress(func(p crawler.Progress) {
			if p.Discovered > 0 {
				bar.ChangeMax(p.Discovered)
				bar.Set(p.Done())
			}
		}, time.Second))
	}

	c, err := crawler.New(cfg, fetcher, sink, opts...)
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("failed to create crawler: %w", err)
	}

	if err := storage.SaveConfig(cfg.DataDir, cfg); err != nil {
		sink.Close()
		return nil, err
	}

	results, crawlErr := c.Crawl(ctx)
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(out)
	}

	closeErr := sink.Close()
	if closeErr != nil {
		log.Error().Err(closeErr).Msg("sink reported write errors")
	}

	var reportErr error
	if results != nil {
		reportErr = errors.Join(
			storage.SaveReport(cfg.DataDir, results),
			export.SaveReportMarkdown(cfg.DataDir, results),
		)
	}

	if crawlErr != nil {
		return results, fmt.Errorf("crawl failed: %w", crawlErr)
	}
	if err := errors.Join(closeErr, reportErr); err != nil {
		return results, err
	}
	return results, nil
}

// sitemapSeeds collects detail URLs from the sitemaps of every start URL's
// site. Each site is only walked once.
func sitemapSeeds(ctx context.Context, cfg types.Config, fetcher *harvesthttp.Fetcher) ([]string, error) {
	d, err := discover.New(discover.WithDetailMarker(cfg.DetailMarker))
	if err != nil {
		return nil, fmt.Errorf("failed to create discoverer: %w", err)
	}

	seeder := seeding.NewSitemapSeeder(fetcher.Client(), fetcher.UserAgent(),
		seeding.WithLogger(log.Logger.With().Str("component", "seeding").Logger()),
	)

	sites := make(map[string]bool)
	var seeds []string
	for _, startURL := range cfg.StartURLs {
		site := parser.Host(startURL)
		if sites[site] {
			continue
		}
		sites[site] = true

		urls, err := seeder.DiscoverFromSitemap(ctx, startURL, d.IsDetail)
		if err != nil {
			if ctx.Err() != nil {
				return seeds, nil
			}
			log.Warn().Err(err).Str("start_url", startURL).Msg("sitemap seeding failed")
			continue
		}
		seeds = append(seeds, urls...)
	}
	return seeds, nil
}

func newProgressBar(out io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("harvesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func printResults(out io.Writer, headline string, results *types.Results) {
	fmt.Fprintln(out, headline)
	fmt.Fprintf(out, "Run: %s\n", results.RunID)
	fmt.Fprintf(out, "Discovered: %d, Processed: %d, Failed: %d, Pending: %d\n",
		results.Discovered, results.Processed, results.Failed, results.Pending)
	fmt.Fprintf(out, "Listings: %d emitted, %d dropped\n", results.Emitted, results.Dropped)
	if results.DepthLimited > 0 {
		fmt.Fprintf(out, "Depth limit reached %d time(s)\n", results.DepthLimited)
	}
	if results.Canceled {
		fmt.Fprintln(out, "Crawl was interrupted; run `listingharvest resume` to continue.")
	}
	for _, h := range results.Retries {
		fmt.Fprintf(out, "  %s: %d retries, %d throttled, %d given up\n", h.Host, h.Retries, h.Throttled, h.GaveUp)
	}
	byStage := crawler.FailuresByStage(results.Failures)
	stages := make([]string, 0, len(byStage))
	for stage := range byStage {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		fmt.Fprintf(out, "  %s failures: %d\n", stage, byStage[stage])
	}
}

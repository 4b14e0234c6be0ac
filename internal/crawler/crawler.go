package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/discover"
	"github.com/BenjaminSRussell/listingharvest/internal/extract"
	"github.com/BenjaminSRussell/listingharvest/internal/normalize"
	"github.com/BenjaminSRussell/listingharvest/internal/parser"
	"github.com/BenjaminSRussell/listingharvest/internal/storage"
	"github.com/BenjaminSRussell/listingharvest/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves a page and parses it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (parser.Document, error)
}

// RetryReporter is implemented by fetchers that track per-host retries.
type RetryReporter interface {
	RetryStats() []types.HostRetries
}

// Crawler is the main crawler engine
type Crawler struct {
	config     types.Config
	fetcher    Fetcher
	sink       storage.Sink
	frontier   *Frontier
	discoverer *discover.Discoverer
	schema     extract.Schema
	normalizer *normalize.Normalizer
	safe       *SafeProcessor
	logger     zerolog.Logger
	runID      string
	seeds      []string

	progress         ProgressFunc
	progressInterval time.Duration

	// Stats
	emitted atomic.Int64
	dropped atomic.Int64
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLogger sets the logger; it is tagged with the run id.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Crawler) {
		c.logger = l
	}
}

// WithRunID sets the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(c *Crawler) {
		c.runID = id
	}
}

// WithVisited marks URLs as already harvested so they are not fetched again.
func WithVisited(urls []string) Option {
	return func(c *Crawler) {
		n := c.frontier.MarkVisited(urls...)
		c.logger.Debug().Int("count", n).Msg("preloaded visited pages")
	}
}

// WithSeeds adds listing URLs found outside the catalog, such as in a
// sitemap. Only allowed detail URLs are enqueued.
func WithSeeds(urls []string) Option {
	return func(c *Crawler) {
		c.seeds = append(c.seeds, urls...)
	}
}

// WithProgress reports crawl progress every interval.
func WithProgress(fn ProgressFunc, interval time.Duration) Option {
	return func(c *Crawler) {
		c.progress = fn
		c.progressInterval = interval
	}
}

// New creates a new crawler instance
func New(config types.Config, fetcher Fetcher, sink storage.Sink, opts ...Option) (*Crawler, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Crawler{
		config:   config,
		fetcher:  fetcher,
		sink:     sink,
		frontier: NewFrontier(config.MaxDepth),
		logger:   log.Logger,
	}
	c.safe = NewSafeProcessor(c)

	for _, opt := range opts {
		opt(c)
	}

	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	c.logger = c.logger.With().Str("component", "crawler").Str("run_id", c.runID).Logger()

	if err := c.buildPipeline(); err != nil {
		return nil, err
	}

	return c, nil
}

// Crawl runs workers until the frontier is exhausted or ctx is canceled.
// Page-level failures never abort the crawl; they are listed in the
// returned results.
func (c *Crawler) Crawl(ctx context.Context) (*types.Results, error) {
	results := &types.Results{
		RunID:     c.runID,
		StartedAt: time.Now().UTC(),
	}

	if seeded := c.seed(); seeded == 0 {
		c.logger.Warn().Msg("no start URL was enqueued")
	}

	c.logger.Info().
		Int("workers", c.config.Workers).
		Int("max_depth", c.config.MaxDepth).
		Int("frontier", c.frontier.Size()).
		Msg("starting crawl")

	stopProgress := c.startProgress(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.config.Workers; i++ {
		worker := i
		g.Go(func() error {
			return c.worker(gctx, worker)
		})
	}
	err := g.Wait()
	stopProgress()

	stats := c.frontier.Stats()
	results.FinishedAt = time.Now().UTC()
	results.Discovered = stats.Discovered
	results.Enqueued = stats.Enqueued
	results.Processed = stats.Processed
	results.Failed = stats.Failed
	results.Pending = stats.Pending
	results.DepthLimited = stats.DepthLimited
	results.Emitted = int(c.emitted.Load())
	results.Dropped = int(c.dropped.Load())
	results.Failures = c.frontier.Failures()
	results.Canceled = ctx.Err() != nil
	if rr, ok := c.fetcher.(RetryReporter); ok {
		results.Retries = rr.RetryStats()
	}

	if err != nil {
		return results, err
	}

	c.logSummary(results)
	return results, nil
}

func (c *Crawler) seed() int {
	seeded := 0
	for _, u := range c.config.StartURLs {
		kind := types.KindCatalog
		if c.discoverer.IsDetail(u) {
			kind = types.KindDetail
		}
		if c.frontier.Add(types.PageRef{URL: u, Kind: kind}) {
			seeded++
		}
	}

	extra := 0
	for _, u := range c.seeds {
		if !c.discoverer.IsDetail(u) || !c.allowed(u) {
			continue
		}
		if c.frontier.Add(types.PageRef{URL: u, Kind: types.KindDetail}) {
			extra++
		}
	}
	if len(c.seeds) > 0 {
		c.logger.Info().Int("offered", len(c.seeds)).Int("enqueued", extra).Msg("seeded listing pages")
	}
	return seeded + extra
}

func (c *Crawler) worker(ctx context.Context, id int) error {
	logger := c.logger.With().Int("worker", id).Logger()

	for {
		ref, err := c.frontier.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrExhausted) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		logger.Debug().Str("url", ref.URL).Str("kind", string(ref.Kind)).Int("depth", ref.Depth).Msg("processing page")
		c.safe.ProcessSafely(ctx, ref)
	}
}

// processPage fetches ref and runs it through the pipeline for its kind.
// Every path ends in exactly one Complete or Fail.
func (c *Crawler) processPage(ctx context.Context, ref types.PageRef) {
	pageCtx, cancel := context.WithTimeout(ctx, c.config.PageTimeout)
	defer cancel()

	doc, err := c.fetcher.Fetch(pageCtx, ref.URL)
	if err != nil {
		c.fail(ctx, ref, types.StageFetch, err)
		return
	}

	switch ref.Kind {
	case types.KindCatalog:
		c.processCatalog(ctx, ref, doc)
	default:
		c.processDetail(ctx, ref, doc)
	}
}

func (c *Crawler) processCatalog(ctx context.Context, ref types.PageRef, doc parser.Document) {
	disc, err := c.discoverer.Discover(doc)
	if err != nil {
		c.fail(ctx, ref, types.StageDiscover, err)
		return
	}

	added := 0
	for _, link := range disc.Listings {
		if !c.allowed(link) {
			continue
		}
		if c.frontier.Add(types.PageRef{URL: link, Kind: types.KindDetail, Depth: ref.Depth, Parent: ref.URL}) {
			added++
		}
	}

	if disc.HasNext && c.allowed(disc.Next) {
		c.frontier.Add(types.PageRef{URL: disc.Next, Kind: types.KindCatalog, Depth: ref.Depth + 1, Parent: ref.URL})
	}

	c.logger.Debug().
		Str("url", ref.URL).
		Int("listings", len(disc.Listings)).
		Int("new_listings", added).
		Str("next", disc.Next).
		Str("strategy", disc.Strategy).
		Msg("catalog page processed")

	c.frontier.Complete(ref)
}

func (c *Crawler) processDetail(ctx context.Context, ref types.PageRef, doc parser.Document) {
	raw, err := extract.Extract(doc, c.schema)
	if err != nil {
		c.fail(ctx, ref, types.StageExtract, err)
		return
	}
	if raw.Get(normalize.FieldPropertyURL).IsAbsent() {
		raw[normalize.FieldPropertyURL] = extract.TextValue(doc.URL())
	}

	rec, err := c.normalizer.Normalize(raw)
	if err != nil {
		var verr *normalize.ValidationError
		if errors.As(err, &verr) {
			c.dropped.Add(1)
			c.frontier.RecordFailure(ref, types.StageValidate, err)
			c.frontier.Complete(ref)
			c.logger.Warn().Str("url", ref.URL).Str("field", verr.Field).Str("reason", verr.Reason).Msg("dropping invalid record")
			return
		}
		c.fail(ctx, ref, types.StageValidate, err)
		return
	}

	if err := c.sink.Emit(ctx, rec); err != nil {
		c.fail(ctx, ref, types.StageSink, err)
		return
	}

	c.emitted.Add(1)
	c.frontier.Complete(ref)
}

// fail records a page failure. A failure caused by global cancellation is
// reported as canceled rather than blamed on the stage.
func (c *Crawler) fail(ctx context.Context, ref types.PageRef, stage string, err error) {
	if ctx.Err() != nil {
		stage = types.StageCanceled
	}
	if c.frontier.Fail(ref, stage, err) {
		c.logger.Warn().Err(err).Str("url", ref.URL).Str("stage", stage).Msg("page failed")
	}
}

// allowed checks a URL against the configured domains.
func (c *Crawler) allowed(rawURL string) bool {
	if len(c.config.AllowedDomains) == 0 {
		return true
	}

	host := parser.Host(rawURL)
	if host == "" {
		return false
	}
	for _, d := range c.config.AllowedDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}

	c.logger.Debug().Str("url", rawURL).Msg("skipping off-domain link")
	return false
}

func (c *Crawler) buildPipeline() error {
	schema, err := extract.LoadSchema(c.config.SchemaFile)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	c.schema = schema

	opts := []discover.Option{
		discover.WithDetailMarker(c.config.DetailMarker),
		discover.WithLinkSelector(c.config.LinkSelector),
	}
	if len(c.config.NextPageSelectors) > 0 {
		opts = append(opts, discover.WithStrategies(discover.StrategiesFromSelectors(c.config.NextPageSelectors)))
	}
	d, err := discover.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to build discoverer: %w", err)
	}
	c.discoverer = d

	c.normalizer = normalize.New(
		normalize.WithCurrency(c.config.Currency),
		normalize.WithRunID(c.runID),
	)

	return nil
}

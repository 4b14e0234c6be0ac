// Package seeding finds listing URLs outside the catalog pagination, in the
// sitemaps a site advertises.
package seeding

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

const (
	defaultMaxSitemaps = 50
	defaultMaxURLs     = 100000
	maxSitemapSize     = 50 * 1024 * 1024
)

// SitemapSeeder walks robots.txt sitemap references and sitemap indexes.
type SitemapSeeder struct {
	client      *http.Client
	userAgent   string
	maxSitemaps int
	maxURLs     int
	logger      zerolog.Logger
}

// Option configures a SitemapSeeder.
type Option func(*SitemapSeeder)

// WithLimits caps how many sitemap documents are fetched and how many URLs
// are returned. Non-positive values keep the defaults.
func WithLimits(maxSitemaps, maxURLs int) Option {
	return func(s *SitemapSeeder) {
		if maxSitemaps > 0 {
			s.maxSitemaps = maxSitemaps
		}
		if maxURLs > 0 {
			s.maxURLs = maxURLs
		}
	}
}

// WithLogger sets the seeder's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *SitemapSeeder) {
		s.logger = l
	}
}

// NewSitemapSeeder creates a seeder that fetches with client.
func NewSitemapSeeder(client *http.Client, userAgent string, opts ...Option) *SitemapSeeder {
	if client == nil {
		client = http.DefaultClient
	}
	s := &SitemapSeeder{
		client:      client,
		userAgent:   userAgent,
		maxSitemaps: defaultMaxSitemaps,
		maxURLs:     defaultMaxURLs,
		logger:      log.Logger.With().Str("component", "seeding").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DiscoverFromSitemap returns the page URLs listed in startURL's site
// sitemaps for which keep returns true, in sitemap order and without
// duplicates. A site without sitemaps yields no URLs and no error.
func (s *SitemapSeeder) DiscoverFromSitemap(ctx context.Context, startURL string, keep func(string) bool) ([]string, error) {
	parsedURL, err := url.Parse(startURL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid start URL %q", startURL)
	}
	root := parsedURL.Scheme + "://" + parsedURL.Host

	queue := s.robotsSitemaps(ctx, root + "/robots.txt")
	if len(queue) == 0 {
		queue = []string{root + "/sitemap.xml"}
	}

	visited := make(map[string]bool)
	seen := make(map[string]bool)
	found := make([]string, 0)

	for len(queue) > 0 && len(visited) < s.maxSitemaps && len(found) < s.maxURLs {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		sitemapURL := queue[0]
		queue = queue[1:]
		if visited[sitemapURL] {
			continue
		}
		visited[sitemapURL] = true

		nested, pages, err := s.fetchSitemap(ctx, sitemapURL)
		if err != nil {
			s.logger.Debug().Err(err).Str("sitemap", sitemapURL).Msg("skipping sitemap")
			continue
		}
		queue = append(queue, nested...)

		for _, page := range pages {
			if seen[page] || (keep != nil && !keep(page)) {
				continue
			}
			seen[page] = true
			found = append(found, page)
			if len(found) >= s.maxURLs {
				break
			}
		}
	}

	s.logger.Info().
		Str("site", root).
		Int("sitemaps", len(visited)).
		Int("urls", len(found)).
		Msg("sitemap discovery finished")

	return found, nil
}

// robotsSitemaps returns the Sitemap: entries of robots.txt.
func (s *SitemapSeeder) robotsSitemaps(ctx context.Context, robotsURL string) []string {
	body, status, err := s.get(ctx, robotsURL)
	if err != nil {
		return nil
	}
	robots, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil
	}
	return robots.Sitemaps
}

// fetchSitemap returns the nested sitemaps of an index and the page URLs
// of a urlset.
func (s *SitemapSeeder) fetchSitemap(ctx context.Context, sitemapURL string) (nested, pages []string, err error) {
	body, status, err := s.get(ctx, sitemapURL)
	if err != nil {
		return nil, nil, err
	}
	if status != http.StatusOK {
		return nil, nil, fmt.Errorf("sitemap returned status %d", status)
	}

	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid sitemap: %w", err)
	}

	nested, err = locs(doc, "//sitemap/loc")
	if err != nil {
		return nil, nil, err
	}
	pages, err = locs(doc, "//url/loc")
	if err != nil {
		return nil, nil, err
	}
	return nested, pages, nil
}

func locs(doc *xmlquery.Node, expr string) ([]string, error) {
	nodes, err := xmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			out = append(out, loc)
		}
	}
	return out, nil
}

// get fetches rawURL, transparently inflating gzip sitemaps.
func (s *SitemapSeeder) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	br := bufio.NewReader(io.LimitReader(resp.Body, maxSitemapSize))
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, resp.StatusCode, err
		}
		defer gz.Close()
		r = io.LimitReader(gz, maxSitemapSize)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// Package http fetches pages politely: robots.txt, a global request rate,
// retries with per-host backoff, and compressed response decoding.
package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/parser"
	"github.com/BenjaminSRussell/listingharvest/internal/types"
	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const defaultMaxBodySize = 10 * 1024 * 1024

var (
	// ErrDisallowed means robots.txt forbids the URL.
	ErrDisallowed = errors.New("blocked by robots.txt")
	// ErrNotHTML means the response is not an HTML document.
	ErrNotHTML = errors.New("response is not HTML")
	// ErrBodyTooLarge means the response body exceeds the size limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// FetchError reports a page that could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	// RetryAfter is the pause the server asked for, if any.
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s failed after %d attempt(s)", e.URL, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves pages and parses them into documents.
type Fetcher struct {
	client       *http.Client
	headers      RequestHeaders
	limiter      *rate.Limiter
	retry        *RetryHandler
	robots       *RobotsCache
	ignoreRobots bool
	maxBodySize  int64
	logger       zerolog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRetryConfig replaces the retry policy; MaxRetries still comes from
// the crawl config.
func WithRetryConfig(rc RetryConfig) FetcherOption {
	return func(f *Fetcher) {
		rc.MaxRetries = f.retry.MaxRetries()
		f.retry = NewRetryHandler(rc)
	}
}

// WithLogger sets the fetcher's logger.
func WithLogger(l zerolog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithMaxBodySize caps the accepted response body size.
func WithMaxBodySize(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBodySize = n
		}
	}
}

// Client returns the underlying HTTP client.
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// UserAgent returns the User-Agent sent with every request.
func (f *Fetcher) UserAgent() string {
	return f.headers.UserAgent
}

// NewFetcher creates a fetcher from the crawl configuration.
func NewFetcher(config types.Config, opts ...FetcherOption) *Fetcher {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	retryConfig := DefaultRetryConfig()
	retryConfig.MaxRetries = config.MaxRetries

	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}

	f := &Fetcher{
		client: &http.Client{
			Timeout: config.PageTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        workers * 2,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headers:      DefaultHeaders(config.UserAgent),
		limiter:      rate.NewLimiter(limit, 1),
		retry:        NewRetryHandler(retryConfig),
		ignoreRobots: config.IgnoreRobots,
		maxBodySize:  defaultMaxBodySize,
		logger:       log.Logger.With().Str("component", "fetcher").Logger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.robots = NewRobotsCache(f.client, f.headers)
	return f
}

// Fetch retrieves rawURL and parses it. Transient failures are retried
// with backoff; the returned error is always a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (parser.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	host := u.Host

	if !f.ignoreRobots && !f.robots.Allowed(ctx, rawURL) {
		return nil, &FetchError{URL: rawURL, Err: ErrDisallowed}
	}

	attempts := 0
	for {
		if err := sleep(ctx, f.nextDelay(host, attempts)); err != nil {
			return nil, &FetchError{URL: rawURL, Attempts: attempts, Err: err}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{URL: rawURL, Attempts: attempts, Err: err}
		}

		attempts++
		doc, fe := f.do(ctx, rawURL)
		if fe == nil {
			f.retry.RecordSuccess(host)
			return doc, nil
		}
		fe.Attempts = attempts

		if ctx.Err() != nil {
			fe.Err = ctx.Err()
			return nil, fe
		}

		if !f.retry.Retryable(fe) || attempts > f.retry.MaxRetries() {
			f.retry.RecordGiveUp(host, fe)
			return nil, fe
		}

		wait := f.retry.RecordFailure(host, fe)
		f.logger.Debug().
			Err(fe.Err).
			Str("url", rawURL).
			Int("status", fe.StatusCode).
			Int("attempt", attempts).
			Dur("wait", wait).
			Msg("retrying request")
	}
}

// nextDelay is the wait before the next attempt: a running host pause
// for the first attempt, the retry delay for later ones.
func (f *Fetcher) nextDelay(host string, attempts int) time.Duration {
	if attempts == 0 {
		return f.retry.Pause(host)
	}
	return f.retry.Delay(host, attempts-1)
}

// RetryStats returns the per-host retry history of this fetcher.
func (f *Fetcher) RetryStats() []types.HostRetries {
	return f.retry.Stats()
}

// do performs one request. Every failure comes back as a *FetchError
// without Attempts set.
func (f *Fetcher) do(ctx context.Context, rawURL string) (parser.Document, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("request creation failed: %w", err)}
	}
	f.headers.ApplyHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("non-200 status: %d", resp.StatusCode),
		}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != "text/html" && mediaType != "application/xhtml+xml") {
			return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrNotHTML, ct)}
		}
	}

	body, err := decodeBody(resp, f.maxBodySize)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
		}
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("body read failed: %w", err)}
	}

	// Resolve relative links against where we ended up after redirects
	pageURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		pageURL = resp.Request.URL.String()
	}

	doc, err := parser.Parse(bytes.NewReader(body), pageURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	return doc, nil
}

func decodeBody(resp *http.Response, limit int64) ([]byte, error) {
	var r io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/types"
	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"
)

const page = `<html><head><title>Listing</title></head><body><span aria-label="Price">120,000</span><a href="/property/details-1.html">x</a></body></html>`

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries=3, got %d", config.MaxRetries)
	}

	if config.InitialBackoff != 1*time.Second {
		t.Errorf("Expected InitialBackoff=1s, got %v", config.InitialBackoff)
	}

	if config.BackoffFactor != 2.0 {
		t.Errorf("Expected BackoffFactor=2.0, got %v", config.BackoffFactor)
	}
}

func TestRetryHandlerRetryable(t *testing.T) {
	rh := NewRetryHandler(DefaultRetryConfig())

	tests := []struct {
		name      string
		err       *FetchError
		retryable bool
	}{
		{"not found", &FetchError{StatusCode: http.StatusNotFound}, false},
		{"forbidden", &FetchError{StatusCode: http.StatusForbidden}, false},
		{"too many requests", &FetchError{StatusCode: http.StatusTooManyRequests}, true},
		{"internal error", &FetchError{StatusCode: http.StatusInternalServerError}, true},
		{"bad gateway", &FetchError{StatusCode: http.StatusBadGateway}, true},
		{"unavailable", &FetchError{StatusCode: http.StatusServiceUnavailable}, true},
		{"gateway timeout", &FetchError{StatusCode: http.StatusGatewayTimeout}, true},
		{"transport error", &FetchError{Err: errors.New("connection reset")}, true},
		{"not html", &FetchError{StatusCode: http.StatusOK, Err: ErrNotHTML}, false},
		{"too large", &FetchError{StatusCode: http.StatusOK, Err: ErrBodyTooLarge}, false},
		{"robots", &FetchError{Err: ErrDisallowed}, false},
	}

	for _, tt := range tests {
		if got := rh.Retryable(tt.err); got != tt.retryable {
			t.Errorf("Retryable(%s) = %v, want %v", tt.name, got, tt.retryable)
		}
	}
}

func TestRetryHandlerDelay(t *testing.T) {
	config := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
	rh := NewRetryHandler(config)

	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{0, 800 * time.Millisecond, 1200 * time.Millisecond},
		{2, 3200 * time.Millisecond, 4800 * time.Millisecond},
		{10, 24 * time.Second, 36 * time.Second},
	}

	for _, tt := range tests {
		delay := rh.Delay("example.com", tt.attempt)
		if delay < tt.min || delay > tt.max {
			t.Errorf("Delay(attempt=%d) = %v, want within [%v, %v]", tt.attempt, delay, tt.min, tt.max)
		}
	}
}

func TestRetryHandlerRecordFailure(t *testing.T) {
	config := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Minute,
		MaxBackoff:     time.Hour,
		BackoffFactor:  2.0,
		MaxRetryAfter:  10 * time.Minute,
	}

	tests := []struct {
		name     string
		err      *FetchError
		min, max time.Duration
	}{
		{"gateway error uses backoff", &FetchError{StatusCode: http.StatusBadGateway}, 48 * time.Second, 72 * time.Second},
		{"throttling doubles backoff", &FetchError{StatusCode: http.StatusTooManyRequests}, 96 * time.Second, 144 * time.Second},
		{"retry-after replaces backoff", &FetchError{StatusCode: http.StatusServiceUnavailable, RetryAfter: 5 * time.Second}, 5 * time.Second, 5 * time.Second},
		{"retry-after is capped", &FetchError{StatusCode: http.StatusTooManyRequests, RetryAfter: time.Hour}, 10 * time.Minute, 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rh := NewRetryHandler(config)
			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			rh.now = func() time.Time { return now }

			wait := rh.RecordFailure("example.com", tt.err)
			if wait < tt.min || wait > tt.max {
				t.Errorf("RecordFailure() = %v, want within [%v, %v]", wait, tt.min, tt.max)
			}
			if pause := rh.Pause("example.com"); pause != wait {
				t.Errorf("Pause() = %v, want %v", pause, wait)
			}
			if delay := rh.Delay("example.com", 0); delay != wait {
				t.Errorf("Delay() during a pause = %v, want %v", delay, wait)
			}

			rh.RecordSuccess("example.com")
			if pause := rh.Pause("example.com"); pause != 0 {
				t.Errorf("Success should end the pause, got %v", pause)
			}
		})
	}
}

func TestRetryHandlerStats(t *testing.T) {
	rh := NewRetryHandler(fastRetry())

	rh.RecordFailure("b.example", &FetchError{StatusCode: http.StatusTooManyRequests})
	rh.RecordFailure("b.example", &FetchError{StatusCode: http.StatusBadGateway})
	rh.RecordGiveUp("b.example", &FetchError{StatusCode: http.StatusBadGateway, Attempts: 3})
	rh.RecordFailure("a.example", &FetchError{Err: errors.New("reset")})
	rh.RecordSuccess("a.example")
	rh.RecordSuccess("quiet.example")

	stats := rh.Stats()
	if len(stats) != 2 {
		t.Fatalf("Expected 2 hosts with retries, got %+v", stats)
	}
	if stats[0].Host != "a.example" || stats[0].Retries != 1 || stats[0].GaveUp != 0 {
		t.Errorf("Unexpected stats for a.example: %+v", stats[0])
	}
	b := stats[1]
	if b.Retries != 2 || b.Throttled != 1 || b.GaveUp != 1 || b.LastStatus != http.StatusBadGateway {
		t.Errorf("Unexpected stats for b.example: %+v", b)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{"0", 0},
		{"-3", 0},
		{"soon", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.value, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestHeaders(t *testing.T) {
	h := DefaultHeaders("")
	if h.UserAgent != DefaultUserAgent {
		t.Errorf("Expected default user agent, got %q", h.UserAgent)
	}
	if got := h.Agent(); got != "ListingHarvestBot" {
		t.Errorf("Agent() = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "https://www.bayut.com/", nil)
	DefaultHeaders("custom-agent").ApplyHeaders(req)
	if req.Header.Get("User-Agent") != "custom-agent" || req.Header.Get("Accept-Encoding") != "gzip, br" {
		t.Errorf("Unexpected headers: %v", req.Header)
	}
}

func fastRetry() RetryConfig {
	return RetryConfig{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}
}

func newTestFetcher(cfg types.Config, opts ...FetcherOption) *Fetcher {
	if cfg.PageTimeout == 0 {
		cfg.PageTimeout = 5 * time.Second
	}
	opts = append([]FetcherOption{WithRetryConfig(fastRetry()), WithLogger(zerolog.Nop())}, opts...)
	return NewFetcher(cfg, opts...)
}

func TestFetcherFetchesAndParses(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	f := newTestFetcher(types.Config{UserAgent: "test-agent"})
	doc, err := f.Fetch(context.Background(), srv.URL+"/to-rent/")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	price, ok, err := doc.QueryText(`//span[@aria-label="Price"]`)
	if err != nil || !ok || price != "120,000" {
		t.Errorf("QueryText() = %q, %v, %v", price, ok, err)
	}
	link, err := doc.ResolveURL("/property/details-1.html")
	if err != nil || link != srv.URL+"/property/details-1.html" {
		t.Errorf("ResolveURL() = %q, %v", link, err)
	}
	if gotUA.Load() != "test-agent" {
		t.Errorf("Expected configured user agent, got %v", gotUA.Load())
	}
}

func TestFetcherDecodesCompressedBodies(t *testing.T) {
	var gz, br bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte(page))
	zw.Close()
	bw := brotli.NewWriter(&br)
	bw.Write([]byte(page))
	bw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/gzip":
			w.Header().Set("Content-Encoding", "gzip")
			w.Write(gz.Bytes())
		case "/br":
			w.Header().Set("Content-Encoding", "br")
			w.Write(br.Bytes())
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(types.Config{IgnoreRobots: true})
	for _, path := range []string{"/gzip", "/br"} {
		doc, err := f.Fetch(context.Background(), srv.URL+path)
		if err != nil {
			t.Errorf("Fetch(%s) error = %v", path, err)
			continue
		}
		if price, ok, _ := doc.QueryText(`//span[@aria-label="Price"]`); !ok || price != "120,000" {
			t.Errorf("Fetch(%s) decoded wrong body: %q", path, price)
		}
	}
}

func TestFetcherRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	f := newTestFetcher(types.Config{IgnoreRobots: true, MaxRetries: 3})
	if _, err := f.Fetch(context.Background(), srv.URL+"/x"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("Expected 3 calls, got %d", got)
	}
}

func TestFetcherHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var first, gap atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			first.Store(time.Now().UnixNano())
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		gap.Store(time.Now().UnixNano() - first.Load())
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	f := newTestFetcher(types.Config{IgnoreRobots: true, MaxRetries: 2})
	if _, err := f.Fetch(context.Background(), srv.URL+"/x"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := time.Duration(gap.Load()); got < 900*time.Millisecond {
		t.Errorf("Expected the retry to wait for Retry-After, waited %v", got)
	}

	stats := f.RetryStats()
	if len(stats) != 1 || stats[0].Retries != 1 || stats[0].Throttled != 1 || stats[0].MaxWait != time.Second {
		t.Errorf("Unexpected retry stats: %+v", stats)
	}
}

func TestFetcherRejectsOversizedBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	f := newTestFetcher(types.Config{IgnoreRobots: true, MaxRetries: 3}, WithMaxBodySize(int64(len(page)-1)))
	_, err := f.Fetch(context.Background(), srv.URL+"/big")

	var fe *FetchError
	if !errors.As(err, &fe) || !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("Expected oversized body FetchError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Oversized bodies should not be retried, server saw %d calls", calls.Load())
	}

	exact := newTestFetcher(types.Config{IgnoreRobots: true}, WithMaxBodySize(int64(len(page))))
	if _, err := exact.Fetch(context.Background(), srv.URL+"/big"); err != nil {
		t.Errorf("Body exactly at the limit should be accepted, got %v", err)
	}
}

func TestFetcherGivesUp(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retries   int
		wantCalls int32
	}{
		{"permanent status is not retried", http.StatusNotFound, 3, 1},
		{"transient status exhausts retries", http.StatusBadGateway, 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f := newTestFetcher(types.Config{IgnoreRobots: true, MaxRetries: tt.retries})
			_, err := f.Fetch(context.Background(), srv.URL+"/x")

			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("Expected *FetchError, got %v", err)
			}
			if fe.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, fe.StatusCode)
			}
			if fe.Attempts != int(tt.wantCalls) || calls.Load() != tt.wantCalls {
				t.Errorf("Expected %d attempts, got %d (server saw %d)", tt.wantCalls, fe.Attempts, calls.Load())
			}

			stats := f.RetryStats()
			if len(stats) != 1 || stats[0].GaveUp != 1 || stats[0].Retries != int(tt.wantCalls)-1 {
				t.Errorf("Unexpected retry stats: %+v", stats)
			}
		})
	}
}

func TestFetcherRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	f := newTestFetcher(types.Config{IgnoreRobots: true, MaxRetries: 3})
	_, err := f.Fetch(context.Background(), srv.URL+"/api")
	if !errors.Is(err, ErrNotHTML) {
		t.Errorf("Expected ErrNotHTML, got %v", err)
	}
}

func TestFetcherHonorsRobots(t *testing.T) {
	var pageCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
			return
		}
		pageCalls.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	f := newTestFetcher(types.Config{})
	_, err := f.Fetch(context.Background(), srv.URL+"/private/listing")
	if !errors.Is(err, ErrDisallowed) {
		t.Errorf("Expected ErrDisallowed, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/public/listing"); err != nil {
		t.Errorf("Fetch() of allowed page error = %v", err)
	}
	if pageCalls.Load() != 1 {
		t.Errorf("Expected only the allowed page to be requested, got %d", pageCalls.Load())
	}

	ignoring := newTestFetcher(types.Config{IgnoreRobots: true})
	if _, err := ignoring.Fetch(context.Background(), srv.URL+"/private/listing"); err != nil {
		t.Errorf("IgnoreRobots fetch error = %v", err)
	}
}

func TestFetcherCanceledContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := newTestFetcher(types.Config{IgnoreRobots: true, MaxRetries: 3})
	_, err := f.Fetch(ctx, srv.URL+"/slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestFetcherRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	f := newTestFetcher(types.Config{IgnoreRobots: true, RateLimit: 20})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background(), srv.URL+"/"); err != nil {
			t.Fatal(err)
		}
	}
	// burst of one, then 50ms per request
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("Expected rate limiting to space requests, took %v", elapsed)
	}
}

package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/parser"
	"github.com/BenjaminSRussell/listingharvest/internal/types"
	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// Bloom filter settings for ~1M URLs with 1% false positive rate
	bloomFilterSize = 1_000_000
	bloomFilterRate = 0.01
)

// ErrExhausted is returned by Next once nothing is pending and no page is in
// flight, so no further work can appear.
var ErrExhausted = errors.New("frontier exhausted")

// FrontierStats is a snapshot of frontier counters.
type FrontierStats struct {
	Discovered   int
	Enqueued     int
	Processed    int
	Failed       int
	Pending      int
	InFlight     int
	Duplicates   int
	DepthLimited int
}

// Frontier tracks every known page and hands out pending ones. Detail pages
// are served before catalog pages; each queue is FIFO.
type Frontier struct {
	mu sync.Mutex

	// Bloom filter as a fast negative check in front of the state map
	seen   *bloom.BloomFilter
	states map[string]types.PageState

	detail  []types.PageRef
	catalog []types.PageRef

	maxDepth int
	inflight int
	failures []types.Failure

	discovered   int
	enqueued     int
	processed    int
	failed       int
	duplicates   int
	depthLimited int

	// closed and replaced on every state change to wake Next callers
	changed chan struct{}
	now     func() time.Time
}

// NewFrontier creates an empty frontier. maxDepth > 0 caps catalog depth.
func NewFrontier(maxDepth int) *Frontier {
	return &Frontier{
		seen:     bloom.NewWithEstimates(bloomFilterSize, bloomFilterRate),
		states:   make(map[string]types.PageState),
		maxDepth: maxDepth,
		changed:  make(chan struct{}),
		now:      time.Now,
	}
}

// Add enqueues ref unless its normalized URL is already known or a catalog
// ref lies beyond the depth cap. It reports whether ref was enqueued.
func (f *Frontier) Add(ref types.PageRef) bool {
	if ref.Key == "" {
		key, err := parser.NormalizeURL(ref.URL)
		if err != nil {
			return false
		}
		ref.Key = key
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.discovered++

	if f.knownLocked(ref.Key) {
		f.duplicates++
		return false
	}

	if ref.Kind == types.KindCatalog && f.maxDepth > 0 && ref.Depth > f.maxDepth {
		f.depthLimited++
		return false
	}

	f.seen.AddString(ref.Key)
	f.states[ref.Key] = types.StateEnqueued
	f.enqueued++

	if ref.Kind == types.KindDetail {
		f.detail = append(f.detail, ref)
	} else {
		f.catalog = append(f.catalog, ref)
	}

	f.notifyLocked()
	return true
}

// Next blocks until a page is available and marks it fetching. It returns
// ErrExhausted when the crawl has run dry, or ctx's error if ctx ends first.
func (f *Frontier) Next(ctx context.Context) (types.PageRef, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.PageRef{}, err
		}

		f.mu.Lock()
		if ref, ok := f.popLocked(); ok {
			f.states[ref.Key] = types.StateFetching
			f.inflight++
			f.mu.Unlock()
			return ref, nil
		}
		if f.inflight == 0 {
			f.mu.Unlock()
			return types.PageRef{}, ErrExhausted
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return types.PageRef{}, ctx.Err()
		case <-changed:
		}
	}
}

// Complete moves a fetching page to processed.
func (f *Frontier) Complete(ref types.PageRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.states[ref.Key] != types.StateFetching {
		return false
	}
	f.states[ref.Key] = types.StateProcessed
	f.processed++
	f.inflight--
	f.notifyLocked()
	return true
}

// Fail moves a fetching page to failed and records why.
func (f *Frontier) Fail(ref types.PageRef, stage string, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.states[ref.Key] != types.StateFetching {
		return false
	}
	f.states[ref.Key] = types.StateFailed
	f.failed++
	f.inflight--
	f.failures = append(f.failures, f.failureLocked(ref, stage, err))
	f.notifyLocked()
	return true
}

// RecordFailure adds a report entry without changing the page's state.
func (f *Frontier) RecordFailure(ref types.PageRef, stage string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, f.failureLocked(ref, stage, err))
}

// MarkVisited records URLs as already processed so they are never
// enqueued. It returns how many new keys were added.
func (f *Frontier) MarkVisited(urls ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	added := 0
	for _, u := range urls {
		key, err := parser.NormalizeURL(u)
		if err != nil || f.knownLocked(key) {
			continue
		}
		f.seen.AddString(key)
		f.states[key] = types.StateProcessed
		added++
	}
	return added
}

// State returns the lifecycle state of rawURL's page.
func (f *Frontier) State(rawURL string) (types.PageState, bool) {
	key, err := parser.NormalizeURL(rawURL)
	if err != nil {
		return types.StateDiscovered, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[key]
	return s, ok
}

// Stats returns current frontier statistics
func (f *Frontier) Stats() FrontierStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return FrontierStats{
		Discovered:   f.discovered,
		Enqueued:     f.enqueued,
		Processed:    f.processed,
		Failed:       f.failed,
		Pending:      len(f.detail) + len(f.catalog),
		InFlight:     f.inflight,
		Duplicates:   f.duplicates,
		DepthLimited: f.depthLimited,
	}
}

// Failures returns the failure report so far.
func (f *Frontier) Failures() []types.Failure {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]types.Failure, len(f.failures))
	copy(out, f.failures)
	return out
}

// Size returns the total number of pending URLs
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.detail) + len(f.catalog)
}

func (f *Frontier) knownLocked(key string) bool {
	if !f.seen.TestString(key) {
		return false
	}
	_, ok := f.states[key]
	return ok
}

func (f *Frontier) popLocked() (types.PageRef, bool) {
	if len(f.detail) > 0 {
		ref := f.detail[0]
		f.detail[0] = types.PageRef{}
		f.detail = f.detail[1:]
		return ref, true
	}
	if len(f.catalog) > 0 {
		ref := f.catalog[0]
		f.catalog[0] = types.PageRef{}
		f.catalog = f.catalog[1:]
		return ref, true
	}
	return types.PageRef{}, false
}

func (f *Frontier) failureLocked(ref types.PageRef, stage string, err error) types.Failure {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return types.Failure{
		URL:    ref.URL,
		Kind:   ref.Kind,
		Stage:  stage,
		Reason: reason,
		At:     f.now().UTC(),
	}
}

func (f *Frontier) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

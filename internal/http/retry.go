package http

import (
	"errors"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/types"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// MaxRetryAfter caps how long a server's Retry-After may pause a host.
	MaxRetryAfter time.Duration
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		MaxRetryAfter:  2 * time.Minute,
	}
}

// RetryHandler decides which failed fetches are retried and keeps a
// per-host pause that every worker fetching from that host honors.
type RetryHandler struct {
	config RetryConfig
	now    func() time.Time

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	consecutive  int
	backoffUntil time.Time
	history      types.HostRetries
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{
		config: config,
		now:    time.Now,
		hosts:  make(map[string]*hostState),
	}
}

// MaxRetries returns how many times a request may be retried.
func (rh *RetryHandler) MaxRetries() int {
	return rh.config.MaxRetries
}

// Retryable reports whether the failed attempt fe may be tried again.
// Transport errors (no status) and throttling or gateway statuses are
// transient; robots refusals, non-HTML and oversized bodies are not.
func (rh *RetryHandler) Retryable(fe *FetchError) bool {
	if errors.Is(fe.Err, ErrNotHTML) || errors.Is(fe.Err, ErrDisallowed) || errors.Is(fe.Err, ErrBodyTooLarge) {
		return false
	}
	if fe.StatusCode == 0 {
		return true
	}

	switch fe.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Delay is how long to wait before attempt number attempt (0-based) on
// host: the host's pause if one is running, else the jittered backoff.
func (rh *RetryHandler) Delay(host string, attempt int) time.Duration {
	if wait := rh.Pause(host); wait > 0 {
		return wait
	}
	return rh.backoff(attempt)
}

// Pause returns how much of host's current pause is left.
func (rh *RetryHandler) Pause(host string) time.Duration {
	rh.mu.Lock()
	defer rh.mu.Unlock()

	st, ok := rh.hosts[host]
	if !ok {
		return 0
	}
	if wait := st.backoffUntil.Sub(rh.now()); wait > 0 {
		return wait
	}
	return 0
}

// backoff is the jittered exponential delay for attempt; it takes no lock.
func (rh *RetryHandler) backoff(attempt int) time.Duration {
	backoff := rh.config.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * rh.config.BackoffFactor)
		if backoff > rh.config.MaxBackoff {
			backoff = rh.config.MaxBackoff
			break
		}
	}

	// ±20%
	jitter := time.Duration(float64(backoff) * 0.2 * (2.0*rand.Float64() - 1.0))
	return backoff + jitter
}

// RecordFailure pauses host after the failed attempt fe, which is about
// to be retried. A Retry-After from the server replaces the computed
// backoff, up to MaxRetryAfter; throttling without one doubles it.
func (rh *RetryHandler) RecordFailure(host string, fe *FetchError) time.Duration {
	rh.mu.Lock()
	defer rh.mu.Unlock()

	st := rh.stateLocked(host)
	st.consecutive++
	st.history.Retries++
	st.history.LastStatus = fe.StatusCode

	throttled := fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode == http.StatusServiceUnavailable
	if throttled {
		st.history.Throttled++
	}

	wait := rh.backoff(st.consecutive - 1)
	switch {
	case fe.RetryAfter > 0:
		wait = fe.RetryAfter
		if rh.config.MaxRetryAfter > 0 && wait > rh.config.MaxRetryAfter {
			wait = rh.config.MaxRetryAfter
		}
	case fe.StatusCode == http.StatusTooManyRequests:
		wait *= 2
	}

	if wait > st.history.MaxWait {
		st.history.MaxWait = wait
	}
	st.backoffUntil = rh.now().Add(wait)
	return wait
}

// RecordGiveUp notes a page abandoned on host after fe.Attempts attempts.
func (rh *RetryHandler) RecordGiveUp(host string, fe *FetchError) {
	rh.mu.Lock()
	defer rh.mu.Unlock()

	st := rh.stateLocked(host)
	st.history.GaveUp++
	if fe.StatusCode != 0 {
		st.history.LastStatus = fe.StatusCode
	}
}

// RecordSuccess ends host's pause.
func (rh *RetryHandler) RecordSuccess(host string) {
	rh.mu.Lock()
	defer rh.mu.Unlock()

	if st, ok := rh.hosts[host]; ok {
		st.consecutive = 0
		st.backoffUntil = time.Time{}
	}
}

func (rh *RetryHandler) stateLocked(host string) *hostState {
	st, ok := rh.hosts[host]
	if !ok {
		st = &hostState{history: types.HostRetries{Host: host}}
		rh.hosts[host] = st
	}
	return st
}

// Stats returns the retry history of every host that needed a retry or
// was given up on, sorted by host.
func (rh *RetryHandler) Stats() []types.HostRetries {
	rh.mu.Lock()
	defer rh.mu.Unlock()

	out := make([]types.HostRetries, 0, len(rh.hosts))
	for _, st := range rh.hosts {
		if st.history.Retries > 0 || st.history.GaveUp > 0 {
			out = append(out, st.history)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// parseRetryAfter reads a Retry-After header given either as seconds or
// as an HTTP date. Unusable values yield 0.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

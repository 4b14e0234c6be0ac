package crawler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/types"
)

const defaultProgressInterval = 5 * time.Second

// Progress is a snapshot of a running crawl.
type Progress struct {
	Discovered int
	Enqueued   int
	Processed  int
	Failed     int
	Pending    int
	InFlight   int
	Emitted    int
	Dropped    int
	Elapsed    time.Duration
}

// Done is the number of pages that reached a final state.
func (p Progress) Done() int {
	return p.Processed + p.Failed
}

// ProgressFunc receives progress snapshots. It is called from a single
// goroutine.
type ProgressFunc func(Progress)

// Snapshot returns current crawl progress.
func (c *Crawler) Snapshot(started time.Time) Progress {
	stats := c.frontier.Stats()
	return Progress{
		Discovered: stats.Discovered,
		Enqueued:   stats.Enqueued,
		Processed:  stats.Processed,
		Failed:     stats.Failed,
		Pending:    stats.Pending,
		InFlight:   stats.InFlight,
		Emitted:    int(c.emitted.Load()),
		Dropped:    int(c.dropped.Load()),
		Elapsed:    time.Since(started),
	}
}

// startProgress starts the periodic reporter. The returned stop function
// waits for the reporter to exit and sends one final snapshot.
func (c *Crawler) startProgress(ctx context.Context) func() {
	if c.progress == nil {
		return func() {}
	}

	interval := c.progressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}

	started := time.Now()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.progress(c.Snapshot(started))
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		c.progress(c.Snapshot(started))
	}
}

// logSummary logs final crawl statistics
func (c *Crawler) logSummary(results *types.Results) {
	event := c.logger.Info().
		Int("discovered", results.Discovered).
		Int("enqueued", results.Enqueued).
		Int("processed", results.Processed).
		Int("failed", results.Failed).
		Int("emitted", results.Emitted).
		Int("dropped", results.Dropped).
		Int("pending", results.Pending).
		Int("depth_limited", results.DepthLimited).
		Bool("canceled", results.Canceled).
		Dur("elapsed", results.FinishedAt.Sub(results.StartedAt))

	if total := results.Processed + results.Failed; total > 0 {
		event = event.Float64("success_rate", float64(results.Processed)/float64(total)*100)
	}
	event.Msg("crawl finished")

	// Log panic statistics if any occurred
	if n := c.safe.PanicCount(); n > 0 {
		c.logger.Warn().Int64("panics", n).Msg("recovered panics during crawl")
	}

	byStage := FailuresByStage(results.Failures)
	stages := make([]string, 0, len(byStage))
	for stage := range byStage {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		c.logger.Warn().Str("stage", stage).Int("count", byStage[stage]).Msg("failures")
	}

	for _, h := range results.Retries {
		c.logger.Info().
			Str("host", h.Host).
			Int("retries", h.Retries).
			Int("throttled", h.Throttled).
			Int("gave_up", h.GaveUp).
			Dur("max_wait", h.MaxWait).
			Msg("host retries")
	}
}

// FailuresByStage counts report entries per stage.
func FailuresByStage(failures []types.Failure) map[string]int {
	counts := make(map[string]int)
	for _, f := range failures {
		counts[f.Stage]++
	}
	return counts
}

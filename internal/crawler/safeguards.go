package crawler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/BenjaminSRussell/listingharvest/internal/types"
)

// SafeProcessor wraps page processing with panic recovery
type SafeProcessor struct {
	c          *Crawler
	panicCount atomic.Int64
}

// NewSafeProcessor creates a safe processor wrapper
func NewSafeProcessor(c *Crawler) *SafeProcessor {
	return &SafeProcessor{
		c: c,
	}
}

// ProcessSafely runs the page pipeline and turns a panic into a page
// failure so one bad page cannot take down its worker.
func (sp *SafeProcessor) ProcessSafely(ctx context.Context, ref types.PageRef) {
	defer func() {
		if r := recover(); r != nil {
			sp.panicCount.Add(1)

			sp.c.logger.Error().
				Str("url", ref.URL).
				Int("depth", ref.Depth).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered panic while processing page")

			sp.c.frontier.Fail(ref, types.StagePanic, fmt.Errorf("panic during processing: %v", r))
		}
	}()

	sp.c.processPage(ctx, ref)
}

// PanicCount returns total number of panics recovered
func (sp *SafeProcessor) PanicCount() int64 {
	return sp.panicCount.Load()
}

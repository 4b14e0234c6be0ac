package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BenjaminSRussell/listingharvest/internal/types"
)

// Sink receives normalized listing records.
type Sink interface {
	Emit(ctx context.Context, rec types.ListingRecord) error
	Close() error
}

// Store is a Sink that can read back what it has written.
type Store interface {
	Sink
	LoadRecords() ([]types.ListingRecord, error)
}

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("sink closed")

// BufferedSink decouples workers from a slow Sink. It holds at most size
// records; when full, Emit blocks until there is room or ctx ends, so a
// slow sink slows the crawl instead of losing records.
type BufferedSink struct {
	next Sink
	ch   chan types.ListingRecord
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
}

// NewBufferedSink starts a writer goroutine draining into next.
func NewBufferedSink(next Sink, size int) *BufferedSink {
	if size < 0 {
		size = 0
	}
	b := &BufferedSink{
		next: next,
		ch:   make(chan types.ListingRecord, size),
		done: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *BufferedSink) run() {
	defer close(b.done)
	for rec := range b.ch {
		if err := b.next.Emit(context.Background(), rec); err != nil {
			b.setErr(err)
		}
	}
}

// Emit queues rec. A write error from the wrapped sink is reported by the
// next Emit or by Close.
func (b *BufferedSink) Emit(ctx context.Context, rec types.ListingRecord) error {
	if err := b.Err(); err != nil {
		return fmt.Errorf("buffered sink: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of buffered records not yet written.
func (b *BufferedSink) Len() int {
	return len(b.ch)
}

// Err returns the first write error of the wrapped sink.
func (b *BufferedSink) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

func (b *BufferedSink) setErr(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

// Close flushes buffered records and closes the wrapped sink.
func (b *BufferedSink) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	<-b.done
	return errors.Join(b.Err(), b.next.Close())
}

// LoadRecords reads back through the wrapped sink when it is a Store.
func (b *BufferedSink) LoadRecords() ([]types.ListingRecord, error) {
	store, ok := b.next.(Store)
	if !ok {
		return nil, fmt.Errorf("sink %T cannot load records", b.next)
	}
	return store.LoadRecords()
}

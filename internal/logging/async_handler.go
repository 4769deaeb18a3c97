package logging

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// asyncQueueSize bounds the shared record queue. 1024 records absorbs
// any realistic burst from the producer and consumer hot paths.
const asyncQueueSize = 1024

// asyncRecord pairs a record with the handler chain it is destined for.
type asyncRecord struct {
	ctx  context.Context
	rec  slog.Record
	next slog.Handler
}

// asyncHandler decouples log emission from log I/O. Handle enqueues and
// never blocks: when the queue is full the record is dropped and a
// counter is bumped. One drain goroutine preserves record order across
// all modules.
type asyncHandler struct {
	queue   chan asyncRecord
	dropped atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

func newAsyncHandler(capacity int) *asyncHandler {
	h := &asyncHandler{
		queue: make(chan asyncRecord, capacity),
		done:  make(chan struct{}),
	}
	go h.drain()
	return h
}

func (h *asyncHandler) drain() {
	defer close(h.done)
	for item := range h.queue {
		_ = item.next.Handle(item.ctx, item.rec)
	}
}

// Close stops the drain goroutine after flushing pending records and
// returns the number of dropped records.
func (h *asyncHandler) Close() uint64 {
	h.once.Do(func() {
		close(h.queue)
	})
	<-h.done
	return h.dropped.Load()
}

// Dropped returns the running count of records lost to a full queue.
func (h *asyncHandler) Dropped() uint64 {
	return h.dropped.Load()
}

// wrap returns a slog.Handler that enqueues records for next.
func (h *asyncHandler) wrap(next slog.Handler, level slog.Leveler) slog.Handler {
	return &asyncFront{sink: h, next: next, level: level}
}

// asyncFront is the per-module entry into the shared async sink.
type asyncFront struct {
	sink  *asyncHandler
	next  slog.Handler
	level slog.Leveler
}

func (f *asyncFront) Enabled(_ context.Context, level slog.Level) bool {
	return level >= f.level.Level()
}

func (f *asyncFront) Handle(ctx context.Context, r slog.Record) error {
	select {
	case f.sink.queue <- asyncRecord{ctx: ctx, rec: r.Clone(), next: f.next}:
	default:
		f.sink.dropped.Add(1)
	}
	return nil
}

func (f *asyncFront) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &asyncFront{sink: f.sink, next: f.next.WithAttrs(attrs), level: f.level}
}

func (f *asyncFront) WithGroup(name string) slog.Handler {
	return &asyncFront{sink: f.sink, next: f.next.WithGroup(name), level: f.level}
}

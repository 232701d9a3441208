package pipeline

import (
	"context"
	"sync"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// FuncSink adapts a per-item callback to the Sink interface.
type FuncSink func(ctx context.Context, c creator.NormalizedCreator) error

// Emit invokes the callback.
func (f FuncSink) Emit(ctx context.Context, c creator.NormalizedCreator) error {
	return f(ctx, c)
}

// EmitBatch invokes the callback once per item.
func (f FuncSink) EmitBatch(ctx context.Context, batch []creator.NormalizedCreator) error {
	for _, c := range batch {
		if err := f(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Batcher groups emitted records into fixed-size batches for progressive
// persistence, forwarding full batches to the wrapped sink. Flush must be
// called after the pipeline run to push the final short batch.
type Batcher struct {
	mu    sync.Mutex
	next  creator.Sink
	size  int
	batch []creator.NormalizedCreator
}

// NewBatcher wraps next with batching of the given size.
func NewBatcher(next creator.Sink, size int) *Batcher {
	if size <= 0 {
		size = 10
	}
	return &Batcher{
		next: next,
		size: size,
	}
}

// Emit buffers c and flushes when the batch fills.
func (b *Batcher) Emit(ctx context.Context, c creator.NormalizedCreator) error {
	b.mu.Lock()
	b.batch = append(b.batch, c)
	var full []creator.NormalizedCreator
	if len(b.batch) >= b.size {
		full = b.batch
		b.batch = nil
	}
	b.mu.Unlock()
	if full == nil {
		return nil
	}
	return b.next.EmitBatch(ctx, full)
}

// EmitBatch forwards an already-built batch unchanged.
func (b *Batcher) EmitBatch(ctx context.Context, batch []creator.NormalizedCreator) error {
	return b.next.EmitBatch(ctx, batch)
}

// Flush pushes any buffered remainder downstream.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	rest := b.batch
	b.batch = nil
	b.mu.Unlock()
	if len(rest) == 0 {
		return nil
	}
	return b.next.EmitBatch(ctx, rest)
}

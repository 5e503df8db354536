package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"gswapcopy/internal/domain"

	"go.uber.org/zap"
)

// Handler processes one activity.
type Handler func(ctx context.Context, a domain.WalletActivity) error

// Stats counts queue traffic.
type Stats struct {
	Queued     int    `json:"queued"`
	Accepted   uint64 `json:"accepted"`
	Duplicates uint64 `json:"duplicates"`
	Rejected   uint64 `json:"rejected_full"`
	Processed  uint64 `json:"processed"`
	Retried    uint64 `json:"retried"`
	Discarded  uint64 `json:"discarded"`
	Abandoned  uint64 `json:"abandoned"`
}

// Processor owns the dedup set, the queue and its single consumer.
type Processor struct {
	logger      *zap.Logger
	dedup       *Deduplicator
	queue       *Queue
	handler     Handler
	interval    time.Duration
	maxAttempts int

	accepted   atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
	processed  atomic.Uint64
	retried    atomic.Uint64
	discarded  atomic.Uint64
	abandoned  atomic.Uint64
}

// Config configures a Processor.
type Config struct {
	ProcessInterval time.Duration
	Capacity        int
	SeenCapacity    int
	MaxAttempts     int
}

// NewProcessor creates a processor delivering activities to handler.
func NewProcessor(logger *zap.Logger, cfg Config, handler Handler) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = 250 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Processor{
		logger:      logger.Named("queue"),
		dedup:       NewDeduplicator(cfg.SeenCapacity),
		queue:       New(cfg.Capacity),
		handler:     handler,
		interval:    cfg.ProcessInterval,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Ingest deduplicates and enqueues activities. It returns how many were
// accepted.
func (p *Processor) Ingest(acts []domain.WalletActivity) int {
	accepted := 0
	for _, a := range acts {
		if p.dedup.Seen(a.ID) {
			p.duplicates.Add(1)
			p.logger.Debug("duplicate activity suppressed", zap.String("id", a.ID))
			continue
		}
		if err := p.queue.Push(a); err != nil {
			p.dedup.Forget(a.ID)
			p.rejected.Add(1)
			p.logger.Error("activity dropped",
				zap.String("id", a.ID),
				zap.String("wallet", a.Wallet),
				zap.Error(err),
			)
			continue
		}
		accepted++
	}
	p.accepted.Add(uint64(accepted))
	return accepted
}

// Run pops at most one item per tick until ctx is cancelled, then abandons
// whatever is still queued.
func (p *Processor) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			p.abandon()
			return
		case <-t.C:
			p.Step(ctx)
		}
	}
}

// Step processes the head item, if any. It reports whether an item was
// taken.
func (p *Processor) Step(ctx context.Context) bool {
	it, ok := p.queue.Pop()
	if !ok {
		return false
	}

	it.Attempts++
	err := p.handler(ctx, it.Activity)
	if err == nil {
		p.processed.Add(1)
		return true
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Shutting down: keep the item so abandon accounts for it.
		p.queue.PushFront(it)
		return true
	}

	if it.Attempts < p.maxAttempts {
		p.retried.Add(1)
		p.logger.Warn("activity processing failed, will retry",
			zap.String("id", it.Activity.ID),
			zap.Int("attempt", it.Attempts),
			zap.Error(err),
		)
		p.queue.PushFront(it)
		return true
	}

	p.discarded.Add(1)
	p.logger.Error("activity discarded after max attempts",
		zap.String("id", it.Activity.ID),
		zap.String("wallet", it.Activity.Wallet),
		zap.Int("attempts", it.Attempts),
		zap.Error(err),
	)
	return true
}

func (p *Processor) abandon() {
	items := p.queue.Drain()
	if len(items) == 0 {
		return
	}
	p.abandoned.Add(uint64(len(items)))
	p.logger.Warn("abandoning queued activities on shutdown", zap.Int("count", len(items)))
}

// Len returns the queue length.
func (p *Processor) Len() int {
	return p.queue.Len()
}

// Stats returns the processor counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Queued:     p.queue.Len(),
		Accepted:   p.accepted.Load(),
		Duplicates: p.duplicates.Load(),
		Rejected:   p.rejected.Load(),
		Processed:  p.processed.Load(),
		Retried:    p.retried.Load(),
		Discarded:  p.discarded.Load(),
		Abandoned:  p.abandoned.Load(),
	}
}

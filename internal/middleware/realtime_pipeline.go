package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, bar *models.Bar) error
}

// RealtimePipeline sits between the stream client and the backend.
// It validates closed bars, suppresses reconnect re-deliveries, and hands
// store writes to a bounded worker pool so a slow upsert never stalls a
// stream read loop. Failed writes are buffered and retried in the
// background.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	workers int
	bufSize int
	workCh  chan *models.Bar
	bufCh   chan *models.Bar
	stopCh  chan struct{}
	started bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	// last accepted bar per (symbol, timeframe); reconnects replay the
	// final closed bar and identical re-deliveries are dropped here. A
	// correction with the same key but different values passes through,
	// the store upsert makes it the surviving row.
	lastSeen map[string]*models.Bar
}

type PipelineOption func(*RealtimePipeline)

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithWorkers sets the store-write worker pool size.
func WithWorkers(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		workers:  4,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]*models.Bar),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.workCh = make(chan *models.Bar, p.bufSize)
	p.bufCh = make(chan *models.Bar, p.bufSize)
	return p
}

// Start launches the write workers and the background flusher for buffered
// bars.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.wg.Add(1)
	go p.flusher(ctx)
}

// worker drains the write queue. On stop it finishes queued bars before
// returning, so Stop waits for every accepted write.
func (p *RealtimePipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			for {
				select {
				case b := <-p.workCh:
					p.deliver(ctx, b)
				default:
					return
				}
			}
		case b := <-p.workCh:
			p.deliver(ctx, b)
		}
	}
}

// flusher retries buffered bars with backoff after downstream failures.
func (p *RealtimePipeline) flusher(ctx context.Context) {
	defer p.wg.Done()
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-p.stopCh:
			return
		case b := <-p.bufCh:
			if b == nil {
				continue
			}
			if err := p.proc.Process(ctx, b); err != nil {
				if backoff < 2*time.Second {
					backoff *= 2
				}
				p.metrics.RecordError("pipeline_flush")
				time.Sleep(backoff)
				// requeue if space; drop otherwise
				select {
				case p.bufCh <- b:
				default:
					p.metrics.RecordError("pipeline_buffer_drop")
				}
			} else {
				backoff = 50 * time.Millisecond
			}
		}
	}
}

// Stop stops the workers and flusher, waiting for in-flight writes.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	p.wg.Wait()
}

// Process validates a bar and hands it to the worker pool. Before Start the
// pool does not exist, so the write runs inline and downstream errors
// surface to the caller.
func (p *RealtimePipeline) Process(ctx context.Context, bar *models.Bar) error {
	if bar == nil {
		p.metrics.RecordError("pipeline_validate")
		return fmt.Errorf("bar nil")
	}
	if !bar.Closed {
		// only closed bars are persisted; drop silently
		p.metrics.RecordError("pipeline_unclosed")
		return nil
	}
	if err := bar.Validate(); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.duplicate(bar) {
		return nil
	}

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		if err := p.proc.Process(ctx, bar); err != nil {
			p.metrics.RecordError("pipeline_process")
			p.buffer(bar)
			return fmt.Errorf("pipeline downstream: %w", err)
		}
		return nil
	}

	select {
	case p.workCh <- bar:
		return nil
	default:
		p.metrics.RecordError("pipeline_queue_full")
		return fmt.Errorf("pipeline queue full")
	}
}

// deliver runs one store write, buffering the bar for retry on failure.
func (p *RealtimePipeline) deliver(ctx context.Context, bar *models.Bar) {
	if bar == nil {
		return
	}
	start := time.Now()
	if err := p.proc.Process(ctx, bar); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.buffer(bar)
		return
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
}

func (p *RealtimePipeline) buffer(bar *models.Bar) {
	select {
	case p.bufCh <- bar:
		p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

// duplicate records bar as last seen and reports whether an identical bar
// with the same key was already accepted.
func (p *RealtimePipeline) duplicate(bar *models.Bar) bool {
	key := bar.Symbol + "|" + bar.Timeframe
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.lastSeen[key]
	p.lastSeen[key] = bar
	if !ok || !prev.OpenTime.Equal(bar.OpenTime) {
		return false
	}
	same := prev.Open.Equal(bar.Open) && prev.High.Equal(bar.High) &&
		prev.Low.Equal(bar.Low) && prev.Close.Equal(bar.Close) &&
		prev.Volume.Equal(bar.Volume)
	if same {
		p.metrics.RecordError("pipeline_duplicate")
	}
	return same
}

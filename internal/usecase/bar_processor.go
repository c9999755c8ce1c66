package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	drepo "MarketPull/internal/domain/repository"
)

// BarProcessor routes closed bars to the configured backend: publish to
// Kafka, or upsert straight into the bar store.
type BarProcessor struct {
	pub     drepo.BarPublisher
	store   drepo.BarStore
	metrics drepo.Metrics
	backend string
}

// NewBarProcessor creates a new BarProcessor instance.
func NewBarProcessor(pub drepo.BarPublisher, store drepo.BarStore, metrics drepo.Metrics, backend string) *BarProcessor {
	return &BarProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
	}
}

// Process routes a single bar to the configured backend.
func (p *BarProcessor) Process(ctx context.Context, bar *models.Bar) error {
	if bar == nil {
		return fmt.Errorf("bar is nil")
	}

	start := time.Now()
	var err error

	switch p.backend {
	case "kafka":
		err = p.pub.Publish(ctx, bar)
	case "clickhouse", "memory":
		err = p.store.Upsert(ctx, bar)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process bar: %w", err)
	}

	p.metrics.RecordMessageSent(p.backend, bar.Symbol)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return nil
}

// ProcessBatch routes multiple bars in a batch.
func (p *BarProcessor) ProcessBatch(ctx context.Context, bars []*models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	start := time.Now()
	var err error

	switch p.backend {
	case "kafka":
		err = p.pub.PublishBatch(ctx, bars)
	case "clickhouse", "memory":
		err = p.store.UpsertBatch(ctx, bars)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	for _, b := range bars {
		p.metrics.RecordMessageSent(p.backend, b.Symbol)
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (p *BarProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}

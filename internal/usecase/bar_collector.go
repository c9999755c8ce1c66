package usecase

import (
	"context"

	"MarketPull/internal/domain/models"
	drepo "MarketPull/internal/domain/repository"
	mid "MarketPull/internal/middleware"
	"MarketPull/internal/service/binance"
)

// BarCollector wires the exchange stream into the pipeline: closed klines
// flow to the backend, tickers update the in-memory board, trades and depth
// only feed metrics.
type BarCollector struct {
	stream  drepo.MarketStream
	pipe    *mid.RealtimePipeline
	proc    *BarProcessor
	board   *TickerBoard
	metrics drepo.Metrics
	kinds   []drepo.StreamKind
}

// NewBarCollector creates a new BarCollector instance.
func NewBarCollector(stream drepo.MarketStream, pipe *mid.RealtimePipeline, proc *BarProcessor, board *TickerBoard, metrics drepo.Metrics) *BarCollector {
	return &BarCollector{
		stream:  stream,
		pipe:    pipe,
		proc:    proc,
		board:   board,
		metrics: metrics,
		kinds:   []drepo.StreamKind{drepo.StreamKline, drepo.StreamTicker, drepo.StreamTrade},
	}
}

// IsConnected reports whether the stream subscriptions are running.
func (c *BarCollector) IsConnected() bool {
	return c.stream.IsRunning()
}

// Start registers handlers and opens the stream subscriptions.
func (c *BarCollector) Start(ctx context.Context) error {
	c.stream.Subscribe(drepo.StreamKline, func(ev drepo.StreamEvent) {
		ke, ok := ev.(binance.KlineEvent)
		if !ok {
			return
		}
		c.handleBar(ctx, ke.Bar)
	})
	c.stream.Subscribe(drepo.StreamTicker, func(ev drepo.StreamEvent) {
		te, ok := ev.(binance.TickerEvent)
		if !ok {
			return
		}
		c.handleTicker(te.Ticker)
	})
	c.stream.Subscribe(drepo.StreamTrade, func(ev drepo.StreamEvent) {
		tr, ok := ev.(binance.TradeEvent)
		if !ok {
			return
		}
		price, _ := tr.Price.Float64()
		c.metrics.RecordLastPrice(tr.Symbol, price)
	})

	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	return c.stream.Start(ctx, c.kinds...)
}

func (c *BarCollector) handleBar(ctx context.Context, bar *models.Bar) {
	if c.pipe != nil {
		_ = c.pipe.Process(ctx, bar)
		return
	}
	_ = c.proc.Process(ctx, bar)
}

func (c *BarCollector) handleTicker(t *models.Ticker) {
	if c.board != nil {
		c.board.Apply(t)
	}
	price, _ := t.LastPrice.Float64()
	c.metrics.RecordLastPrice(t.Symbol, price)
}

// Processor returns the underlying BarProcessor for lifecycle management.
func (c *BarCollector) Processor() *BarProcessor { return c.proc }

// Shutdown stops the pipeline and closes the stream. No bar reaches the
// backend after it returns.
func (c *BarCollector) Shutdown(ctx context.Context) error {
	err := c.stream.Stop()
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return err
}

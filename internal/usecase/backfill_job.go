package usecase

import (
	"context"
	"fmt"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	xlogger "MarketPull/pkg/logger"
	"MarketPull/pkg/queue"
)

// BackfillPayload describes one historical fetch request on the queue.
type BackfillPayload struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Limit     int    `json:"limit"`
}

// BackfillJob pulls historical bars from the exchange and seeds the store.
// Runs on the Redis queue so a burst of symbols does not hammer the
// exchange from the request path.
type BackfillJob struct {
	rest   domrepo.ExchangeREST
	store  domrepo.BarStore
	logger *xlogger.Logger
}

func NewBackfillJob(rest domrepo.ExchangeREST, store domrepo.BarStore, logger *xlogger.Logger) *BackfillJob {
	return &BackfillJob{rest: rest, store: store, logger: logger}
}

func (j *BackfillJob) Name() string { return "bar_backfill" }
func (j *BackfillJob) Type() string { return "backfill" }

func (j *BackfillJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[BackfillPayload](payload)
	if err != nil {
		return fmt.Errorf("backfill payload: %w", err)
	}
	if p.Symbol == "" {
		return fmt.Errorf("backfill payload: symbol required")
	}
	if p.Limit <= 0 {
		p.Limit = 500
	}
	tf := domrepo.NormalizeTimeframe(p.Timeframe)

	bars, err := j.rest.GetCandles(ctx, p.Symbol, tf, p.Limit)
	if err != nil {
		return fmt.Errorf("backfill fetch %s %s: %w", p.Symbol, tf, err)
	}
	if len(bars) == 0 {
		return nil
	}

	ptrs := make([]*models.Bar, len(bars))
	for i := range bars {
		ptrs[i] = &bars[i]
	}
	if err := j.store.UpsertBatch(ctx, ptrs); err != nil {
		return fmt.Errorf("backfill store %s %s: %w", p.Symbol, tf, err)
	}
	if j.logger != nil {
		j.logger.Info("backfill complete",
			xlogger.String("symbol", p.Symbol),
			xlogger.String("timeframe", string(tf)),
			xlogger.Int("bars", len(bars)))
	}
	return nil
}

var _ queue.Job = (*BackfillJob)(nil)

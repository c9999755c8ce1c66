package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/pkg/util"
)

// CandlesUseCase serves historical bars from the store, backfilling from the
// exchange REST API when the store has nothing for the request.
type CandlesUseCase struct {
	store domrepo.BarStore
	rest  domrepo.ExchangeREST
}

func NewCandlesUseCase(store domrepo.BarStore, rest domrepo.ExchangeREST) *CandlesUseCase {
	return &CandlesUseCase{store: store, rest: rest}
}

type GetCandlesParams struct {
	Symbol    string
	From      time.Time
	To        time.Time
	Timeframe domrepo.Timeframe
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string
	Timeframe string
	From      time.Time
	To        time.Time
	Count     int
	Bars      []models.Bar
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if !domrepo.IsValidTimeframe(p.Timeframe) {
		return nil, fmt.Errorf("unsupported timeframe: %s", p.Timeframe)
	}
	if p.To.IsZero() {
		p.To = time.Now()
	}
	if p.From.IsZero() {
		p.From = p.To.Add(-500 * p.Timeframe.Duration())
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	p.From, p.To = util.AlignRange(p.From, p.To, p.Timeframe.Duration())
	if p.Limit <= 0 {
		p.Limit = 500
	}
	if p.Limit > 5000 {
		p.Limit = 5000
	}

	bars, err := uc.store.QueryRange(ctx, p.Symbol, p.Timeframe, p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	if len(bars) == 0 && uc.rest != nil {
		bars, err = uc.backfill(ctx, p)
		if err != nil {
			return nil, err
		}
	}

	return &GetCandlesResult{
		Symbol:    p.Symbol,
		Timeframe: string(p.Timeframe),
		From:      p.From,
		To:        p.To,
		Count:     len(bars),
		Bars:      bars,
	}, nil
}

// backfill fetches bars from the exchange and seeds the store so the next
// request for the same window is served locally.
func (uc *CandlesUseCase) backfill(ctx context.Context, p GetCandlesParams) ([]models.Bar, error) {
	fetched, err := uc.rest.GetCandles(ctx, p.Symbol, p.Timeframe, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("backfill candles: %w", err)
	}

	toStore := make([]*models.Bar, 0, len(fetched))
	inRange := make([]models.Bar, 0, len(fetched))
	for i := range fetched {
		toStore = append(toStore, &fetched[i])
		if fetched[i].OpenTime.Before(p.From) || fetched[i].OpenTime.After(p.To) {
			continue
		}
		inRange = append(inRange, fetched[i])
	}
	if len(toStore) > 0 {
		// best effort; the response does not depend on the seed succeeding
		_ = uc.store.UpsertBatch(ctx, toStore)
	}
	if len(inRange) > p.Limit {
		inRange = inRange[:p.Limit]
	}
	return inRange, nil
}

package usecase

import (
	"context"
	"fmt"
	"time"

	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/services/indicators"
)

// Default indicator windows, matching common charting conventions.
const (
	defaultSMAWindow  = 20
	defaultEMAWindow  = 20
	defaultRSIWindow  = 14
	defaultATRWindow  = 14
	defaultBandWindow = 20
	defaultBandWidth  = 2.0
	macdFast          = 12
	macdSlow          = 26
	macdSignal        = 9
)

// IndicatorsUseCase computes technical indicators over stored bars.
type IndicatorsUseCase struct {
	candles *CandlesUseCase
}

func NewIndicatorsUseCase(candles *CandlesUseCase) *IndicatorsUseCase {
	return &IndicatorsUseCase{candles: candles}
}

type GetIndicatorsParams struct {
	Symbol    string
	Timeframe domrepo.Timeframe
	Limit     int
}

// GetIndicatorsResult carries one point per input bar for every series;
// warm-up points are present but marked invalid.
type GetIndicatorsResult struct {
	Symbol    string
	Timeframe string
	Times     []time.Time
	SMA       []indicators.Point
	EMA       []indicators.Point
	RSI       []indicators.Point
	MACD      indicators.MACDSeries
	Bollinger indicators.BollingerSeries
	ATR       []indicators.Point
	OBV       []indicators.Point
}

func (uc *IndicatorsUseCase) GetIndicators(ctx context.Context, p GetIndicatorsParams) (*GetIndicatorsResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.Limit <= 0 {
		p.Limit = 200
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}

	res, err := uc.candles.GetCandles(ctx, GetCandlesParams{
		Symbol:    p.Symbol,
		Timeframe: p.Timeframe,
		Limit:     p.Limit,
	})
	if err != nil {
		return nil, err
	}
	bars := res.Bars

	closes := indicators.Closes(bars)
	volumes := indicators.Volumes(bars)
	times := make([]time.Time, len(bars))
	for i := range bars {
		times[i] = bars[i].OpenTime
	}

	return &GetIndicatorsResult{
		Symbol:    p.Symbol,
		Timeframe: string(p.Timeframe),
		Times:     times,
		SMA:       indicators.SMA(closes, defaultSMAWindow),
		EMA:       indicators.EMA(closes, defaultEMAWindow),
		RSI:       indicators.RSI(closes, defaultRSIWindow),
		MACD:      indicators.MACD(closes, macdFast, macdSlow, macdSignal),
		Bollinger: indicators.Bollinger(closes, defaultBandWindow, defaultBandWidth),
		ATR:       indicators.ATR(bars, defaultATRWindow),
		OBV:       indicators.OBV(closes, volumes),
	}, nil
}

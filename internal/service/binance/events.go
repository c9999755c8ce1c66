package binance

import (
	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/repository"
)

// Event wrappers attach the stream kind to normalized records so handlers
// can be registered per kind and type-switch on delivery.

// TickerEvent wraps a normalized 24h ticker update.
type TickerEvent struct{ *models.Ticker }

func (e TickerEvent) EventKind() repository.StreamKind { return repository.StreamTicker }
func (e TickerEvent) EventSymbol() string              { return e.Symbol }

// KlineEvent wraps a closed bar. In-progress bar updates are never emitted.
type KlineEvent struct{ *models.Bar }

func (e KlineEvent) EventKind() repository.StreamKind { return repository.StreamKline }
func (e KlineEvent) EventSymbol() string              { return e.Symbol }

// TradeEvent wraps a single execution.
type TradeEvent struct{ *models.Trade }

func (e TradeEvent) EventKind() repository.StreamKind { return repository.StreamTrade }
func (e TradeEvent) EventSymbol() string              { return e.Symbol }

// DepthEvent wraps an order-book snapshot.
type DepthEvent struct{ *models.OrderBookSnapshot }

func (e DepthEvent) EventKind() repository.StreamKind { return repository.StreamDepth }
func (e DepthEvent) EventSymbol() string              { return e.Symbol }

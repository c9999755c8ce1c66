package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents an OHLCV aggregate over a fixed time window.
// Prices and volume are exact decimals; exchange payloads deliver them as
// text and parsing into floats accumulates rounding drift.
type Bar struct {
	Symbol    string
	Timeframe string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	OpenTime  time.Time
	CloseTime time.Time
	Closed    bool
}

// Validate checks the OHLC invariants.
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar symbol empty")
	}
	if b.Timeframe == "" {
		return fmt.Errorf("bar timeframe empty")
	}
	if !b.OpenTime.Before(b.CloseTime) {
		return fmt.Errorf("bar open_time %v not before close_time %v", b.OpenTime, b.CloseTime)
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
		return fmt.Errorf("bar low above open/close")
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return fmt.Errorf("bar high below open/close")
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("bar volume negative")
	}
	return nil
}

// Ticker is the latest 24h snapshot for a symbol. Ephemeral: each message
// supersedes the previous one, only the latest value is ever kept.
type Ticker struct {
	Symbol    string
	LastPrice decimal.Decimal
	Change24h decimal.Decimal // percent
	Volume24h decimal.Decimal
	High24h   decimal.Decimal
	Low24h    decimal.Decimal
	Timestamp time.Time
}

// Trade is a single execution. Immutable once received.
type Trade struct {
	ID         int64
	Symbol     string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	BuyerMaker bool
	Timestamp  time.Time
}

// OrderBookLevel is one price level of an order book side.
type OrderBookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBookSnapshot holds both sides of the book at a point in time.
// Bids are ordered by descending price, asks by ascending price.
type OrderBookSnapshot struct {
	Symbol       string
	Bids         []OrderBookLevel
	Asks         []OrderBookLevel
	Timestamp    time.Time
	LastUpdateID int64
}

// BestBid returns the top bid level, if any.
func (s *OrderBookSnapshot) BestBid() (OrderBookLevel, bool) {
	if len(s.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level, if any.
func (s *OrderBookSnapshot) BestAsk() (OrderBookLevel, bool) {
	if len(s.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return s.Asks[0], true
}

// Crossed reports whether best bid >= best ask, which indicates a corrupt
// snapshot.
func (s *OrderBookSnapshot) Crossed() bool {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// Stats24h is the full 24h rolling statistics for a symbol from the REST API.
type Stats24h struct {
	Symbol        string
	LastPrice     decimal.Decimal
	PriceChange   decimal.Decimal
	ChangePercent decimal.Decimal
	Volume        decimal.Decimal
	QuoteVolume   decimal.Decimal
	High24h       decimal.Decimal
	Low24h        decimal.Decimal
	Open24h       decimal.Decimal
	TradeCount    int64
}

// OrderRequest describes an order to be placed. Price is ignored for market
// orders.
type OrderRequest struct {
	Symbol   string
	Side     string // BUY or SELL
	Type     string // MARKET or LIMIT
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Order is an exchange order as returned by order placement and open-order
// queries.
type Order struct {
	Symbol      string
	OrderID     int64
	Price       decimal.Decimal
	OrigQty     decimal.Decimal
	ExecutedQty decimal.Decimal
	Status      string
	Type        string
	Side        string
	Time        time.Time
}

// Balance is a single asset balance. Total = Free + Locked.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns free plus locked funds.
func (b Balance) Total() decimal.Decimal { return b.Free.Add(b.Locked) }

// Mover is one row of a top gainers/losers/volume ranking.
type Mover struct {
	Symbol        string
	LastPrice     decimal.Decimal
	ChangePercent decimal.Decimal
	QuoteVolume   decimal.Decimal
}

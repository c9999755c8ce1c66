package models

// Requests for market HTTP endpoints. Defined in domain for consistency and reuse.

type CandlesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	TF     string `query:"tf" json:"tf" default:"1m" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}

type IndicatorsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	TF     string `query:"tf" json:"tf" default:"1m" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	Name   string `query:"name" json:"name" validate:"omitempty,oneof=sma ema rsi macd bollinger atr obv"`
	Limit  int    `query:"limit" json:"limit" default:"200" validate:"gte=2,lte=1000"`
}

type RecentRequest struct {
	Symbols string `query:"symbols" json:"symbols" validate:"required"`
	TF      string `query:"tf" json:"tf" default:"1m" validate:"oneof=1m 5m 15m 1h 4h 1d"`
}

type TickerRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type DepthRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	Levels int    `query:"levels" json:"levels" default:"20" validate:"oneof=5 10 20 50 100"`
}

type TradesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type MoversRequest struct {
	Rank  string `query:"rank" json:"rank" default:"gainers" validate:"oneof=gainers losers volume"`
	Limit int    `query:"limit" json:"limit" default:"10" validate:"gte=1,lte=100"`
}

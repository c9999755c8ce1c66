package usecase

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/repository"

	"github.com/shopspring/decimal"
)

type stubExchange struct {
	candles   []models.Bar
	stats     []models.Stats24h
	ticker    *models.Ticker
	tickerErr error
	calls     int
}

func (s *stubExchange) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	s.calls++
	if s.tickerErr != nil {
		return nil, s.tickerErr
	}
	return s.ticker, nil
}

func (s *stubExchange) GetAllTickers(ctx context.Context) ([]models.Ticker, error) {
	if s.ticker == nil {
		return nil, nil
	}
	return []models.Ticker{*s.ticker}, nil
}

func (s *stubExchange) Get24hStats(ctx context.Context, symbol string) (*models.Stats24h, error) {
	return nil, errors.New("not scripted")
}

func (s *stubExchange) GetAll24hStats(ctx context.Context) ([]models.Stats24h, error) {
	return s.stats, nil
}

func (s *stubExchange) GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error) {
	return nil, errors.New("not scripted")
}

func (s *stubExchange) GetCandles(ctx context.Context, symbol string, tf domrepo.Timeframe, limit int) ([]models.Bar, error) {
	s.calls++
	return s.candles, nil
}

func (s *stubExchange) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	return nil, errors.New("not scripted")
}

func (s *stubExchange) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	return nil, errors.New("not scripted")
}

func (s *stubExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return errors.New("not scripted")
}

func (s *stubExchange) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return nil, errors.New("not scripted")
}

func (s *stubExchange) GetBalance(ctx context.Context, asset string) (*models.Balance, error) {
	return nil, errors.New("not scripted")
}

func (s *stubExchange) GetAllBalances(ctx context.Context) ([]models.Balance, error) {
	return nil, errors.New("not scripted")
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func usecaseBar(symbol string, openTime time.Time, close string) models.Bar {
	c := dec(close)
	return models.Bar{
		Symbol:    symbol,
		Timeframe: "1m",
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(1),
		OpenTime:  openTime,
		CloseTime: openTime.Add(time.Minute),
		Closed:    true,
	}
}

func TestGetCandlesServedFromStore(t *testing.T) {
	store := repository.NewMemoryBarStore()
	exch := &stubExchange{}
	uc := NewCandlesUseCase(store, exch)
	ctx := context.Background()

	base := time.Now().Add(-10 * time.Minute).Truncate(time.Minute)
	for i := 0; i < 5; i++ {
		b := usecaseBar("BTCUSDT", base.Add(time.Duration(i)*time.Minute), "100")
		if err := store.Upsert(ctx, &b); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	res, err := uc.GetCandles(ctx, GetCandlesParams{
		Symbol:    "BTCUSDT",
		Timeframe: domrepo.TF1m,
		From:      base,
		To:        base.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if res.Count != 5 {
		t.Fatalf("expected 5 bars from store, got %d", res.Count)
	}
	if exch.calls != 0 {
		t.Fatalf("store hit must not reach the exchange")
	}
}

func TestGetCandlesBackfillsEmptyStore(t *testing.T) {
	store := repository.NewMemoryBarStore()
	base := time.Now().Add(-10 * time.Minute).Truncate(time.Minute)
	exch := &stubExchange{candles: []models.Bar{
		usecaseBar("BTCUSDT", base, "100"),
		usecaseBar("BTCUSDT", base.Add(time.Minute), "101"),
	}}
	uc := NewCandlesUseCase(store, exch)
	ctx := context.Background()

	res, err := uc.GetCandles(ctx, GetCandlesParams{
		Symbol:    "BTCUSDT",
		Timeframe: domrepo.TF1m,
		From:      base,
		To:        base.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("expected 2 backfilled bars, got %d", res.Count)
	}
	if store.Len() != 2 {
		t.Fatalf("backfill must seed the store, have %d", store.Len())
	}

	// second request is served locally
	if _, err := uc.GetCandles(ctx, GetCandlesParams{
		Symbol:    "BTCUSDT",
		Timeframe: domrepo.TF1m,
		From:      base,
		To:        base.Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if exch.calls != 1 {
		t.Fatalf("exchange called %d times, want 1", exch.calls)
	}
}

func TestGetCandlesRejectsBadParams(t *testing.T) {
	uc := NewCandlesUseCase(repository.NewMemoryBarStore(), &stubExchange{})
	ctx := context.Background()

	if _, err := uc.GetCandles(ctx, GetCandlesParams{Timeframe: domrepo.TF1m}); err == nil {
		t.Fatalf("missing symbol should error")
	}
	if _, err := uc.GetCandles(ctx, GetCandlesParams{Symbol: "BTCUSDT", Timeframe: "7m"}); err == nil {
		t.Fatalf("bad timeframe should error")
	}
	now := time.Now()
	if _, err := uc.GetCandles(ctx, GetCandlesParams{
		Symbol: "BTCUSDT", Timeframe: domrepo.TF1m,
		From: now, To: now.Add(-time.Hour),
	}); err == nil {
		t.Fatalf("inverted range should error")
	}
}

func TestBarProcessorRoutesByBackend(t *testing.T) {
	store := repository.NewMemoryBarStore()
	proc := NewBarProcessor(nil, store, nopProcMetrics{}, "memory")
	bar := usecaseBar("BTCUSDT", time.Now().Add(-time.Minute).Truncate(time.Minute), "100")

	if err := proc.Process(context.Background(), &bar); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("memory backend must upsert into the store")
	}

	bad := NewBarProcessor(nil, store, nopProcMetrics{}, "carrier-pigeon")
	if err := bad.Process(context.Background(), &bar); err == nil {
		t.Fatalf("unknown backend should error")
	}
}

type nopProcMetrics struct{}

func (nopProcMetrics) RecordMessageSent(string, string) {}
func (nopProcMetrics) RecordStreamEvent(string, string) {}
func (nopProcMetrics) RecordError(string)               {}
func (nopProcMetrics) RecordLastPrice(string, float64)  {}
func (nopProcMetrics) RecordLatency(string, float64)    {}
func (nopProcMetrics) RecordReconnect(string, string)   {}

func TestTickerBoardPrefersFreshStream(t *testing.T) {
	exch := &stubExchange{}
	board := NewTickerBoard(exch, nil, 30*time.Second)

	board.Apply(&models.Ticker{Symbol: "BTCUSDT", LastPrice: dec("100.5"), Timestamp: time.Now()})
	tick, err := board.GetTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("get ticker: %v", err)
	}
	if got := tick.LastPrice.String(); got != "100.5" {
		t.Fatalf("last price = %s, want 100.5", got)
	}
	if exch.calls != 0 {
		t.Fatalf("fresh board entry must not reach the exchange")
	}
}

func TestTickerBoardFallsBackToExchange(t *testing.T) {
	exch := &stubExchange{ticker: &models.Ticker{
		Symbol: "BTCUSDT", LastPrice: dec("200"), Timestamp: time.Now(),
	}}
	board := NewTickerBoard(exch, nil, 30*time.Second)

	// stale board entry
	board.Apply(&models.Ticker{Symbol: "BTCUSDT", LastPrice: dec("100"), Timestamp: time.Now().Add(-time.Hour)})

	tick, err := board.GetTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("get ticker: %v", err)
	}
	if got := tick.LastPrice.String(); got != "200" {
		t.Fatalf("stale entry must be replaced by exchange value, got %s", got)
	}
}

func TestTickerBoardServesStaleOnExchangeError(t *testing.T) {
	exch := &stubExchange{tickerErr: errors.New("exchange down")}
	board := NewTickerBoard(exch, nil, time.Millisecond)

	board.Apply(&models.Ticker{Symbol: "BTCUSDT", LastPrice: dec("100"), Timestamp: time.Now().Add(-time.Hour)})
	tick, err := board.GetTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("stale value should beat an error: %v", err)
	}
	if got := tick.LastPrice.String(); got != "100" {
		t.Fatalf("last price = %s", got)
	}
}

func TestGetMoversRankings(t *testing.T) {
	exch := &stubExchange{stats: []models.Stats24h{
		{Symbol: "AUSDT", LastPrice: dec("1"), ChangePercent: dec("5.0"), QuoteVolume: dec("100")},
		{Symbol: "BUSDT", LastPrice: dec("2"), ChangePercent: dec("-3.0"), QuoteVolume: dec("900")},
		{Symbol: "CUSDT", LastPrice: dec("3"), ChangePercent: dec("12.5"), QuoteVolume: dec("50")},
		{Symbol: "DBTC", LastPrice: dec("4"), ChangePercent: dec("99.0"), QuoteVolume: dec("9999")},
	}}
	uc := NewMoversUseCase(exch)
	ctx := context.Background()

	gainers, err := uc.GetMovers(ctx, GetMoversParams{Kind: MoversGainers, Limit: 2})
	if err != nil {
		t.Fatalf("gainers: %v", err)
	}
	if len(gainers) != 2 || gainers[0].Symbol != "CUSDT" || gainers[1].Symbol != "AUSDT" {
		t.Fatalf("unexpected gainers: %+v", gainers)
	}

	losers, err := uc.GetMovers(ctx, GetMoversParams{Kind: MoversLosers, Limit: 1})
	if err != nil {
		t.Fatalf("losers: %v", err)
	}
	if len(losers) != 1 || losers[0].Symbol != "BUSDT" {
		t.Fatalf("unexpected losers: %+v", losers)
	}

	volume, err := uc.GetMovers(ctx, GetMoversParams{Kind: MoversVolume, Limit: 1})
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if len(volume) != 1 || volume[0].Symbol != "BUSDT" {
		t.Fatalf("unexpected volume ranking: %+v", volume)
	}

	if _, err := uc.GetMovers(ctx, GetMoversParams{Kind: "sideways"}); err == nil {
		t.Fatalf("unknown kind should error")
	}
}

func TestKafkaBarsHandlerUpserts(t *testing.T) {
	store := repository.NewMemoryBarStore()
	h := NewKafkaBarsHandler("bars", store, nopProcMetrics{})

	bar := usecaseBar("BTCUSDT", time.Now().Add(-time.Minute).Truncate(time.Minute), "100")
	msg := repository.NewBarMessage(&bar)
	payload := `{"symbol":"` + msg.Symbol + `","timeframe":"` + msg.Timeframe + `",` +
		`"open_time":` + itoa(msg.OpenTime) + `,"close_time":` + itoa(msg.CloseTime) + `,` +
		`"open":"` + msg.Open + `","high":"` + msg.High + `","low":"` + msg.Low + `",` +
		`"close":"` + msg.Close + `","volume":"` + msg.Volume + `"}`

	if err := h.Handle(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("handler must upsert the bar")
	}
	// redelivery is harmless
	if err := h.Handle(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("redelivery must not duplicate")
	}

	if err := h.Handle(context.Background(), []byte(`{"symbol":`)); err == nil {
		t.Fatalf("malformed payload should error")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

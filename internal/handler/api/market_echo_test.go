package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/repository"
	"MarketPull/internal/usecase"
	"MarketPull/pkg/cache"
	xlogger "MarketPull/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type stubREST struct {
	candles []models.Bar
	book    *models.OrderBookSnapshot
	err     error
}

func (s *stubREST) GetTicker(context.Context, string) (*models.Ticker, error) {
	return nil, s.err
}
func (s *stubREST) GetAllTickers(context.Context) ([]models.Ticker, error) { return nil, s.err }
func (s *stubREST) Get24hStats(context.Context, string) (*models.Stats24h, error) {
	return nil, s.err
}
func (s *stubREST) GetAll24hStats(context.Context) ([]models.Stats24h, error) { return nil, s.err }
func (s *stubREST) GetOrderBook(context.Context, string, int) (*models.OrderBookSnapshot, error) {
	return s.book, s.err
}
func (s *stubREST) GetCandles(context.Context, string, domrepo.Timeframe, int) ([]models.Bar, error) {
	return s.candles, s.err
}
func (s *stubREST) GetRecentTrades(context.Context, string, int) ([]models.Trade, error) {
	return nil, s.err
}
func (s *stubREST) PlaceOrder(context.Context, models.OrderRequest) (*models.Order, error) {
	return nil, s.err
}
func (s *stubREST) CancelOrder(context.Context, string, int64) error { return s.err }
func (s *stubREST) GetOpenOrders(context.Context, string) ([]models.Order, error) {
	return nil, s.err
}
func (s *stubREST) GetBalance(context.Context, string) (*models.Balance, error) { return nil, s.err }
func (s *stubREST) GetAllBalances(context.Context) ([]models.Balance, error)    { return nil, s.err }

func testHandler(t *testing.T, rest domrepo.ExchangeREST, store domrepo.BarStore, connected func() bool) *MarketEchoHandler {
	t.Helper()
	logger, err := xlogger.New(&xlogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	candles := usecase.NewCandlesUseCase(store, rest)
	return NewMarketEchoHandler(
		logger,
		candles,
		usecase.NewIndicatorsUseCase(candles),
		usecase.NewTickerBoard(rest, nil, 30*time.Second),
		usecase.NewMoversUseCase(rest),
		rest,
		store,
		nil,
		time.Hour,
		connected,
	)
}

func seedBars(t *testing.T, store domrepo.BarStore, symbol string, n int) time.Time {
	t.Helper()
	base := time.Now().Add(-time.Duration(n+1) * time.Minute).Truncate(time.Minute)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(int64(100 + i))
		open := base.Add(time.Duration(i) * time.Minute)
		err := store.Upsert(context.Background(), &models.Bar{
			Symbol: symbol, Timeframe: "1m",
			Open: price, High: price, Low: price, Close: price,
			Volume:   decimal.NewFromInt(1),
			OpenTime: open, CloseTime: open.Add(time.Minute),
			Closed: true,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return base
}

func doRequest(h echo.HandlerFunc, target string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = h(c)
	return rec
}

func TestCandlesEndpoint(t *testing.T) {
	store := repository.NewMemoryBarStore()
	seedBars(t, store, "BTCUSDT", 5)
	h := testHandler(t, &stubREST{}, store, nil)

	rec := doRequest(h.Candles, "/api/candles?symbol=BTCUSDT&tf=1m")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data struct {
			Count int `json:"Count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Count != 5 {
		t.Fatalf("count = %d, want 5", resp.Data.Count)
	}
}

func TestCandlesEndpointRejectsMissingSymbol(t *testing.T) {
	h := testHandler(t, &stubREST{}, repository.NewMemoryBarStore(), nil)
	rec := doRequest(h.Candles, "/api/candles?tf=1m")
	var resp struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Status)
	}
}

func TestIndicatorsEndpointFiltersByName(t *testing.T) {
	store := repository.NewMemoryBarStore()
	seedBars(t, store, "BTCUSDT", 30)
	h := testHandler(t, &stubREST{}, store, nil)

	rec := doRequest(h.Indicators, "/api/indicators?symbol=BTCUSDT&tf=1m&name=rsi")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp.Data["rsi"]; !ok {
		t.Fatalf("rsi series missing: %s", rec.Body.String())
	}
	if _, ok := resp.Data["sma"]; ok {
		t.Fatalf("filtered response must not carry other series")
	}
}

func TestRecentEndpoint(t *testing.T) {
	store := repository.NewMemoryBarStore()
	seedBars(t, store, "BTCUSDT", 3)
	h := testHandler(t, &stubREST{}, store, nil)

	rec := doRequest(h.Recent, "/api/recent?symbols=btcusdt,%20ethusdt&tf=1m")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data struct {
			Rows  []models.Bar `json:"rows"`
			Total int64        `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Total != 3 {
		t.Fatalf("total = %d, want 3", resp.Data.Total)
	}
	for _, b := range resp.Data.Rows {
		if b.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected symbol %q", b.Symbol)
		}
	}
}

func TestRecentEndpointRejectsEmptySymbols(t *testing.T) {
	h := testHandler(t, &stubREST{}, repository.NewMemoryBarStore(), nil)
	rec := doRequest(h.Recent, "/api/recent?symbols=%20,%20&tf=1m")
	var resp struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Status)
	}
}

func TestUpstreamErrorsMapToBadGateway(t *testing.T) {
	rest := &stubREST{err: &domrepo.UpstreamError{Code: -1121, Message: "Invalid symbol.", Status: 400}}
	h := testHandler(t, rest, repository.NewMemoryBarStore(), nil)

	rec := doRequest(h.Depth, "/api/depth?symbol=BTCUSDT&levels=20")
	var resp struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.Status)
	}
}

func TestHealthzDegradedWhenStreamDown(t *testing.T) {
	h := testHandler(t, &stubREST{}, repository.NewMemoryBarStore(), func() bool { return false })
	rec := doRequest(h.Healthz, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	h = testHandler(t, &stubREST{}, repository.NewMemoryBarStore(), func() bool { return true })
	rec = doRequest(h.Healthz, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

type failingCache struct {
	cache.Service
}

func (failingCache) Exists(context.Context, ...string) (bool, error) {
	return false, errors.New("redis unreachable")
}

func TestHealthzReportsCache(t *testing.T) {
	h := testHandler(t, &stubREST{}, repository.NewMemoryBarStore(), func() bool { return true })
	h.cache = cache.NewMemoryCache()
	rec := doRequest(h.Healthz, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["cache"] != "ok" {
		t.Fatalf("cache = %v, want ok", body["cache"])
	}

	h.cache = failingCache{}
	rec = doRequest(h.Healthz, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when cache is down", rec.Code)
	}
}

func TestMapDomainErrPassthrough(t *testing.T) {
	plain := errors.New("boom")
	if got := mapDomainErr(plain); !errors.Is(got, plain) {
		t.Fatalf("plain errors must pass through")
	}
}

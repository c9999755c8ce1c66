// Package binance wraps the Binance spot REST and WebSocket APIs behind the
// domain MarketStream and ExchangeREST interfaces.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/repository"
	"MarketPull/internal/service/ratelimit"
	xhttp "MarketPull/pkg/http"
	xlogger "MarketPull/pkg/logger"

	"github.com/shopspring/decimal"
)

// Default request weights per second Binance allows on the public REST API.
// Conservative: the real budget is 6000 weight/min.
const (
	restBucketKey     = "binance_rest"
	restBucketCap     = 20
	restBucketRefill  = 10 // tokens per second
	limiterRetryDelay = 50 * time.Millisecond
)

// Client implements repository.ExchangeREST against the Binance spot API.
type Client struct {
	baseURL   string
	apiKey    string
	secretKey string
	http      *xhttp.Client
	limiter   *ratelimit.Limiter
	logger    *xlogger.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithCredentials sets the API key pair used for signed endpoints.
func WithCredentials(apiKey, secretKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
		c.secretKey = secretKey
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http = xhttp.NewClient(xhttp.WithTimeout(d))
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *xlogger.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Binance REST client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		limiter: ratelimit.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// binanceError is the structured error payload Binance returns on rejection.
type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// validateSymbol fails fast on malformed symbols before any network call.
// Symbols are upper-case alphanumeric pair names like BTCUSDT.
func validateSymbol(symbol string) error {
	if len(symbol) < 5 || len(symbol) > 20 {
		return fmt.Errorf("invalid symbol %q: length out of range", symbol)
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("invalid symbol %q: must be upper-case alphanumeric", symbol)
		}
	}
	return nil
}

// do executes a GET, passing the rate limiter first and mapping non-2xx
// payloads to UpstreamError. dest is decoded from the JSON body.
func (c *Client) do(ctx context.Context, path string, params url.Values, dest interface{}) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	q := map[string][]string{}
	for k, vs := range params {
		q[k] = vs
	}
	resp, err := c.http.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + path,
		QueryParams: q,
	})
	if err != nil {
		return fmt.Errorf("binance %s: %w", path, err)
	}
	defer resp.Body.Close()

	return c.decode(resp, path, dest)
}

// doSigned executes a signed request with the HMAC-SHA256 signature Binance
// requires for account endpoints.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values, dest interface{}) error {
	if c.apiKey == "" || c.secretKey == "" {
		return fmt.Errorf("binance %s: api credentials not configured", path)
	}
	if err := c.wait(ctx); err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	payload := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(payload))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	resp, err := c.http.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      method,
		URL:         c.baseURL + path,
		Headers:     map[string]string{"X-MBX-APIKEY": c.apiKey},
		QueryParams: params,
	})
	if err != nil {
		return fmt.Errorf("binance %s: %w", path, err)
	}
	defer resp.Body.Close()

	return c.decode(resp, path, dest)
}

func (c *Client) decode(resp *http.Response, path string, dest interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		var be binanceError
		if err := json.Unmarshal(body, &be); err == nil && be.Code != 0 {
			return &repository.UpstreamError{Code: be.Code, Message: be.Msg, Status: resp.StatusCode}
		}
		return &repository.UpstreamError{Message: string(body), Status: resp.StatusCode}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &repository.ParseError{Source: path, Err: err}
	}
	return nil
}

// wait blocks until a limiter token is available or the context expires.
func (c *Client) wait(ctx context.Context) error {
	for !c.limiter.Allow(restBucketKey, restBucketCap, restBucketRefill) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(limiterRetryDelay):
		}
	}
	return nil
}

func parseDecimal(path, field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &repository.ParseError{
			Source: path,
			Err:    fmt.Errorf("field %s: %w", field, err),
		}
	}
	return d, nil
}

type tickerPayload struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	OpenPrice          string `json:"openPrice"`
	CloseTime          int64  `json:"closeTime"`
	Count              int64  `json:"count"`
}

func (p *tickerPayload) toTicker() (*models.Ticker, error) {
	const path = "/api/v3/ticker/24hr"
	last, err := parseDecimal(path, "lastPrice", p.LastPrice)
	if err != nil {
		return nil, err
	}
	change, err := parseDecimal(path, "priceChangePercent", p.PriceChangePercent)
	if err != nil {
		return nil, err
	}
	vol, err := parseDecimal(path, "volume", p.Volume)
	if err != nil {
		return nil, err
	}
	high, err := parseDecimal(path, "highPrice", p.HighPrice)
	if err != nil {
		return nil, err
	}
	low, err := parseDecimal(path, "lowPrice", p.LowPrice)
	if err != nil {
		return nil, err
	}
	return &models.Ticker{
		Symbol:    p.Symbol,
		LastPrice: last,
		Change24h: change,
		Volume24h: vol,
		High24h:   high,
		Low24h:    low,
		Timestamp: time.UnixMilli(p.CloseTime),
	}, nil
}

func (p *tickerPayload) toStats() (*models.Stats24h, error) {
	t, err := p.toTicker()
	if err != nil {
		return nil, err
	}
	const path = "/api/v3/ticker/24hr"
	priceChange, err := parseDecimal(path, "priceChange", p.PriceChange)
	if err != nil {
		return nil, err
	}
	quoteVol, err := parseDecimal(path, "quoteVolume", p.QuoteVolume)
	if err != nil {
		return nil, err
	}
	open, err := parseDecimal(path, "openPrice", p.OpenPrice)
	if err != nil {
		return nil, err
	}
	return &models.Stats24h{
		Symbol:        p.Symbol,
		LastPrice:     t.LastPrice,
		PriceChange:   priceChange,
		ChangePercent: t.Change24h,
		Volume:        t.Volume24h,
		QuoteVolume:   quoteVol,
		High24h:       t.High24h,
		Low24h:        t.Low24h,
		Open24h:       open,
		TradeCount:    p.Count,
	}, nil
}

// GetTicker returns the latest 24h snapshot for one symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}
	var p tickerPayload
	params := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, "/api/v3/ticker/24hr", params, &p); err != nil {
		return nil, err
	}
	return p.toTicker()
}

// GetAllTickers returns latest snapshots for every trading pair.
func (c *Client) GetAllTickers(ctx context.Context) ([]models.Ticker, error) {
	var payloads []tickerPayload
	if err := c.do(ctx, "/api/v3/ticker/24hr", nil, &payloads); err != nil {
		return nil, err
	}
	out := make([]models.Ticker, 0, len(payloads))
	for i := range payloads {
		t, err := payloads[i].toTicker()
		if err != nil {
			// one malformed row does not poison the whole snapshot
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// Get24hStats returns the full rolling statistics for one symbol.
func (c *Client) Get24hStats(ctx context.Context, symbol string) (*models.Stats24h, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}
	var p tickerPayload
	params := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, "/api/v3/ticker/24hr", params, &p); err != nil {
		return nil, err
	}
	return p.toStats()
}

// GetAll24hStats returns rolling statistics for every trading pair.
func (c *Client) GetAll24hStats(ctx context.Context) ([]models.Stats24h, error) {
	var payloads []tickerPayload
	if err := c.do(ctx, "/api/v3/ticker/24hr", nil, &payloads); err != nil {
		return nil, err
	}
	out := make([]models.Stats24h, 0, len(payloads))
	for i := range payloads {
		s, err := payloads[i].toStats()
		if err != nil {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

// GetOrderBook returns an order-book snapshot limited to depth levels.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*models.OrderBookSnapshot, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 20
	}
	var p struct {
		LastUpdateID int64       `json:"lastUpdateId"`
		Bids         [][2]string `json:"bids"`
		Asks         [][2]string `json:"asks"`
	}
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}}
	if err := c.do(ctx, "/api/v3/depth", params, &p); err != nil {
		return nil, err
	}

	snap := &models.OrderBookSnapshot{
		Symbol:       symbol,
		Timestamp:    time.Now(),
		LastUpdateID: p.LastUpdateID,
	}
	var err error
	if snap.Bids, err = parseLevels("/api/v3/depth", p.Bids); err != nil {
		return nil, err
	}
	if snap.Asks, err = parseLevels("/api/v3/depth", p.Asks); err != nil {
		return nil, err
	}
	if snap.Crossed() {
		return nil, &repository.ParseError{Source: "/api/v3/depth", Err: fmt.Errorf("crossed book: best bid >= best ask")}
	}
	return snap, nil
}

func parseLevels(path string, raw [][2]string) ([]models.OrderBookLevel, error) {
	levels := make([]models.OrderBookLevel, 0, len(raw))
	for _, l := range raw {
		price, err := parseDecimal(path, "price", l[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal(path, "quantity", l[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, models.OrderBookLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

// GetCandles returns up to limit historical bars, oldest first. All returned
// bars are closed; Binance's kline endpoint includes the forming bar as the
// last row, which is dropped here.
func (c *Client) GetCandles(ctx context.Context, symbol string, tf repository.Timeframe, limit int) ([]models.Bar, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	var rows [][]json.RawMessage
	params := url.Values{
		"symbol":   {symbol},
		"interval": {string(tf)},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := c.do(ctx, "/api/v3/klines", params, &rows); err != nil {
		return nil, err
	}

	now := time.Now()
	bars := make([]models.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := parseKlineRow(symbol, tf, row)
		if err != nil {
			return nil, err
		}
		// last row may still be forming
		bar.Closed = bar.CloseTime.Before(now)
		if !bar.Closed {
			continue
		}
		bars = append(bars, *bar)
	}
	return bars, nil
}

// parseKlineRow decodes one row of the klines array:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlineRow(symbol string, tf repository.Timeframe, row []json.RawMessage) (*models.Bar, error) {
	const path = "/api/v3/klines"
	if len(row) < 7 {
		return nil, &repository.ParseError{Source: path, Err: fmt.Errorf("kline row has %d fields", len(row))}
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return nil, &repository.ParseError{Source: path, Err: err}
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return nil, &repository.ParseError{Source: path, Err: err}
	}

	fields := make([]decimal.Decimal, 5)
	names := []string{"open", "high", "low", "close", "volume"}
	for i := 0; i < 5; i++ {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return nil, &repository.ParseError{Source: path, Err: err}
		}
		d, err := parseDecimal(path, names[i], s)
		if err != nil {
			return nil, err
		}
		fields[i] = d
	}

	return &models.Bar{
		Symbol:    symbol,
		Timeframe: string(tf),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		OpenTime:  time.UnixMilli(openMs),
		CloseTime: time.UnixMilli(closeMs),
	}, nil
}

// GetRecentTrades returns the most recent executions for a symbol.
func (c *Client) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []struct {
		ID           int64  `json:"id"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		Time         int64  `json:"time"`
		IsBuyerMaker bool   `json:"isBuyerMaker"`
	}
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, "/api/v3/trades", params, &rows); err != nil {
		return nil, err
	}

	trades := make([]models.Trade, 0, len(rows))
	for _, r := range rows {
		price, err := parseDecimal("/api/v3/trades", "price", r.Price)
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal("/api/v3/trades", "qty", r.Qty)
		if err != nil {
			return nil, err
		}
		trades = append(trades, models.Trade{
			ID:         r.ID,
			Symbol:     symbol,
			Price:      price,
			Quantity:   qty,
			BuyerMaker: r.IsBuyerMaker,
			Timestamp:  time.UnixMilli(r.Time),
		})
	}
	return trades, nil
}

type orderPayload struct {
	Symbol      string `json:"symbol"`
	OrderID     int64  `json:"orderId"`
	Price       string `json:"price"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Status      string `json:"status"`
	Type        string `json:"type"`
	Side        string `json:"side"`
	Time        int64  `json:"time"`
}

func (p *orderPayload) toOrder() (*models.Order, error) {
	const path = "/api/v3/order"
	price, err := parseDecimal(path, "price", p.Price)
	if err != nil {
		return nil, err
	}
	orig, err := parseDecimal(path, "origQty", p.OrigQty)
	if err != nil {
		return nil, err
	}
	executed, err := parseDecimal(path, "executedQty", p.ExecutedQty)
	if err != nil {
		return nil, err
	}
	return &models.Order{
		Symbol:      p.Symbol,
		OrderID:     p.OrderID,
		Price:       price,
		OrigQty:     orig,
		ExecutedQty: executed,
		Status:      p.Status,
		Type:        p.Type,
		Side:        p.Side,
		Time:        time.UnixMilli(p.Time),
	}, nil
}

// PlaceOrder submits an order. Limit orders are GTC.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if err := validateSymbol(req.Symbol); err != nil {
		return nil, err
	}
	params := url.Values{
		"symbol":   {req.Symbol},
		"side":     {req.Side},
		"type":     {req.Type},
		"quantity": {req.Quantity.String()},
	}
	if req.Type != "MARKET" {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	var p orderPayload
	if err := c.doSigned(ctx, xhttp.MethodPost, "/api/v3/order", params, &p); err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Info("order placed",
			xlogger.String("symbol", p.Symbol),
			xlogger.Int64("order_id", p.OrderID),
			xlogger.String("side", p.Side))
	}
	return p.toOrder()
}

// CancelOrder cancels an open order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := validateSymbol(symbol); err != nil {
		return err
	}
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	return c.doSigned(ctx, xhttp.MethodDelete, "/api/v3/order", params, nil)
}

// GetOpenOrders lists open orders. Empty symbol means all symbols.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	params := url.Values{}
	if symbol != "" {
		if err := validateSymbol(symbol); err != nil {
			return nil, err
		}
		params.Set("symbol", symbol)
	}
	var payloads []orderPayload
	if err := c.doSigned(ctx, xhttp.MethodGet, "/api/v3/openOrders", params, &payloads); err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(payloads))
	for i := range payloads {
		o, err := payloads[i].toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

type accountPayload struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetBalance returns the balance of one asset, or nil if the asset is
// unknown.
func (c *Client) GetBalance(ctx context.Context, asset string) (*models.Balance, error) {
	balances, err := c.GetAllBalances(ctx)
	if err != nil {
		return nil, err
	}
	for i := range balances {
		if balances[i].Asset == asset {
			return &balances[i], nil
		}
	}
	return nil, nil
}

// GetAllBalances returns all non-zero asset balances.
func (c *Client) GetAllBalances(ctx context.Context) ([]models.Balance, error) {
	var p accountPayload
	if err := c.doSigned(ctx, xhttp.MethodGet, "/api/v3/account", nil, &p); err != nil {
		return nil, err
	}
	const path = "/api/v3/account"
	out := make([]models.Balance, 0, len(p.Balances))
	for _, b := range p.Balances {
		free, err := parseDecimal(path, "free", b.Free)
		if err != nil {
			return nil, err
		}
		locked, err := parseDecimal(path, "locked", b.Locked)
		if err != nil {
			return nil, err
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out = append(out, models.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

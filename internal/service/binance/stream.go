package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/repository"
	xlogger "MarketPull/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// connKey identifies one logical subscription.
type connKey struct {
	symbol string
	kind   repository.StreamKind
}

// StreamConfig holds stream client settings.
type StreamConfig struct {
	BaseURL      string
	Symbols      []string
	Interval     string // kline interval, e.g. "1m"
	DepthLevels  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	PingInterval time.Duration
}

// StreamClient implements repository.MarketStream over Binance per-symbol
// stream topics. Each (symbol, kind) pair runs its own connection goroutine
// with an autonomous reconnect loop; subscribers only ever observe a gap in
// the record sequence.
type StreamClient struct {
	cfg     StreamConfig
	dialer  Dialer
	logger  *xlogger.Logger
	metrics repository.Metrics

	mu       sync.Mutex
	handlers map[repository.StreamKind][]repository.StreamHandler
	running  map[connKey]Conn
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// StreamOption configures StreamClient.
type StreamOption func(*StreamClient)

// WithDialer substitutes the transport dialer.
func WithDialer(d Dialer) StreamOption {
	return func(c *StreamClient) { c.dialer = d }
}

// WithStreamLogger sets the structured logger.
func WithStreamLogger(l *xlogger.Logger) StreamOption {
	return func(c *StreamClient) { c.logger = l }
}

// WithStreamMetrics sets the metrics recorder.
func WithStreamMetrics(m repository.Metrics) StreamOption {
	return func(c *StreamClient) { c.metrics = m }
}

// NewStreamClient creates a Binance stream client.
func NewStreamClient(cfg StreamConfig, opts ...StreamOption) *StreamClient {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = 60 * time.Second
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 20
	}
	c := &StreamClient{
		cfg:      cfg,
		dialer:   wsDialer{},
		handlers: make(map[repository.StreamKind][]repository.StreamHandler),
		running:  make(map[connKey]Conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers a handler for an event kind. Handlers for the same
// kind run in registration order. Safe before or after Start.
func (c *StreamClient) Subscribe(kind repository.StreamKind, h repository.StreamHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], h)
}

// Start opens one connection goroutine per (symbol, kind) pair. Starting an
// already-running pair is a no-op; Start may be called again with more kinds.
func (c *StreamClient) Start(ctx context.Context, kinds ...repository.StreamKind) error {
	if len(kinds) == 0 {
		kinds = []repository.StreamKind{repository.StreamTicker, repository.StreamKline, repository.StreamTrade}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		ctx, c.cancel = context.WithCancel(ctx)
	} else {
		// follow-up Start reuses the original lifetime
		ctx = c.runCtx
	}
	c.runCtx = ctx

	for _, symbol := range c.cfg.Symbols {
		for _, kind := range kinds {
			key := connKey{symbol: strings.ToLower(symbol), kind: kind}
			if _, ok := c.running[key]; ok {
				continue
			}
			c.running[key] = nil
			c.wg.Add(1)
			go c.connLoop(ctx, key)
		}
	}
	return nil
}

// Stop cancels every connection goroutine and waits for in-flight handler
// calls to finish. No handler is invoked after Stop returns.
func (c *StreamClient) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	conns := make([]Conn, 0, len(c.running))
	for _, conn := range c.running {
		if conn != nil {
			conns = append(conns, conn)
		}
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// close live connections to unblock pending reads
	for _, conn := range conns {
		_ = conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.running = make(map[connKey]Conn)
	c.mu.Unlock()
	return nil
}

// IsRunning reports whether any subscription goroutine is active.
func (c *StreamClient) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil && len(c.running) > 0
}

func (c *StreamClient) topicURL(key connKey) string {
	switch key.kind {
	case repository.StreamTicker:
		return fmt.Sprintf("%s/%s@ticker", c.cfg.BaseURL, key.symbol)
	case repository.StreamKline:
		return fmt.Sprintf("%s/%s@kline_%s", c.cfg.BaseURL, key.symbol, c.cfg.Interval)
	case repository.StreamTrade:
		return fmt.Sprintf("%s/%s@trade", c.cfg.BaseURL, key.symbol)
	case repository.StreamDepth:
		return fmt.Sprintf("%s/%s@depth%d@100ms", c.cfg.BaseURL, key.symbol, c.cfg.DepthLevels)
	default:
		return fmt.Sprintf("%s/%s@%s", c.cfg.BaseURL, key.symbol, key.kind)
	}
}

// connLoop is the per-subscription state machine:
// CONNECTING -> STREAMING -> (error) -> BACKOFF -> CONNECTING.
func (c *StreamClient) connLoop(ctx context.Context, key connKey) {
	defer c.wg.Done()

	backoff := c.cfg.BackoffBase
	url := c.topicURL(key)
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dialer.Dial(ctx, url)
		if err != nil {
			c.recordError("stream_connect")
			c.logf(key, "stream connect failed", err)
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		c.mu.Lock()
		c.running[key] = conn
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Info("stream connected",
				xlogger.String("symbol", key.symbol),
				xlogger.String("kind", string(key.kind)))
		}

		stopPing := c.startPing(ctx, conn)
		delivered, err := c.readLoop(ctx, conn, key)
		stopPing()
		_ = conn.Close()

		c.mu.Lock()
		c.running[key] = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if delivered {
			// connection was healthy before it dropped
			backoff = c.cfg.BackoffBase
		}
		if c.metrics != nil {
			c.metrics.RecordReconnect(key.symbol, string(key.kind))
		}
		c.logf(key, "stream dropped, reconnecting", err)
		if !c.sleep(ctx, backoff) {
			return
		}
		backoff = c.nextBackoff(backoff)
	}
}

func (c *StreamClient) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}
	return d
}

func (c *StreamClient) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *StreamClient) startPing(ctx context.Context, conn Conn) func() {
	if c.cfg.PingInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// readLoop consumes messages until a transport error. Returns whether at
// least one record was delivered on this connection.
func (c *StreamClient) readLoop(ctx context.Context, conn Conn, key connKey) (bool, error) {
	delivered := false
	for {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}

		event, err := c.parse(key, msg)
		if err != nil {
			// malformed frame: drop and continue
			c.recordError("stream_parse")
			if c.logger != nil {
				c.logger.Warn("unparseable stream message", xlogger.Error(err))
			}
			continue
		}
		if event == nil {
			continue // filtered (e.g. unclosed kline, control frame)
		}
		c.dispatch(event)
		delivered = true
	}
}

// dispatch fans an event out to the kind's handlers in registration order.
// A panicking handler is recovered so it cannot take down the read loop.
func (c *StreamClient) dispatch(event repository.StreamEvent) {
	c.mu.Lock()
	handlers := c.handlers[event.EventKind()]
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordStreamEvent(string(event.EventKind()), event.EventSymbol())
	}
	for _, h := range handlers {
		c.safeCall(h, event)
	}
}

func (c *StreamClient) safeCall(h repository.StreamHandler, event repository.StreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.recordError("handler_panic")
			if c.logger != nil {
				c.logger.Error("stream handler panic",
					xlogger.String("kind", string(event.EventKind())),
					xlogger.Any("panic", r))
			}
		}
	}()
	h(event)
}

func (c *StreamClient) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
}

func (c *StreamClient) logf(key connKey, msg string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg,
		xlogger.String("symbol", key.symbol),
		xlogger.String("kind", string(key.kind)),
		xlogger.Error(err))
}

// --- message parsing ---

func (c *StreamClient) parse(key connKey, msg []byte) (repository.StreamEvent, error) {
	switch key.kind {
	case repository.StreamTicker:
		return parseTickerMessage(msg)
	case repository.StreamKline:
		return parseKlineMessage(msg)
	case repository.StreamTrade:
		return parseTradeMessage(msg)
	case repository.StreamDepth:
		return parseDepthMessage(key.symbol, msg)
	default:
		return nil, &repository.ParseError{Source: string(key.kind), Err: fmt.Errorf("unknown stream kind")}
	}
}

func streamDecimal(topic, field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &repository.ParseError{Source: topic, Err: fmt.Errorf("field %s: %w", field, err)}
	}
	return d, nil
}

func parseTickerMessage(msg []byte) (repository.StreamEvent, error) {
	var m struct {
		EventType string `json:"e"`
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Last      string `json:"c"`
		ChangePct string `json:"P"`
		Volume    string `json:"v"`
		High      string `json:"h"`
		Low       string `json:"l"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, &repository.ParseError{Source: "ticker", Err: err}
	}
	if m.EventType != "24hrTicker" {
		return nil, nil // subscription ack or other control frame
	}

	t := &models.Ticker{Symbol: m.Symbol, Timestamp: time.UnixMilli(m.EventTime)}
	var err error
	if t.LastPrice, err = streamDecimal("ticker", "c", m.Last); err != nil {
		return nil, err
	}
	if t.Change24h, err = streamDecimal("ticker", "P", m.ChangePct); err != nil {
		return nil, err
	}
	if t.Volume24h, err = streamDecimal("ticker", "v", m.Volume); err != nil {
		return nil, err
	}
	if t.High24h, err = streamDecimal("ticker", "h", m.High); err != nil {
		return nil, err
	}
	if t.Low24h, err = streamDecimal("ticker", "l", m.Low); err != nil {
		return nil, err
	}
	return TickerEvent{t}, nil
}

func parseKlineMessage(msg []byte) (repository.StreamEvent, error) {
	var m struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Kline     struct {
			OpenTime  int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Interval  string `json:"i"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			Closed    bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, &repository.ParseError{Source: "kline", Err: err}
	}
	if m.EventType != "kline" {
		return nil, nil
	}
	// only closed candles are emitted and persisted
	if !m.Kline.Closed {
		return nil, nil
	}

	bar := &models.Bar{
		Symbol:    m.Symbol,
		Timeframe: m.Kline.Interval,
		OpenTime:  time.UnixMilli(m.Kline.OpenTime),
		CloseTime: time.UnixMilli(m.Kline.CloseTime),
		Closed:    true,
	}
	var err error
	if bar.Open, err = streamDecimal("kline", "o", m.Kline.Open); err != nil {
		return nil, err
	}
	if bar.High, err = streamDecimal("kline", "h", m.Kline.High); err != nil {
		return nil, err
	}
	if bar.Low, err = streamDecimal("kline", "l", m.Kline.Low); err != nil {
		return nil, err
	}
	if bar.Close, err = streamDecimal("kline", "c", m.Kline.Close); err != nil {
		return nil, err
	}
	if bar.Volume, err = streamDecimal("kline", "v", m.Kline.Volume); err != nil {
		return nil, err
	}
	return KlineEvent{bar}, nil
}

func parseTradeMessage(msg []byte) (repository.StreamEvent, error) {
	var m struct {
		EventType  string `json:"e"`
		Symbol     string `json:"s"`
		TradeID    int64  `json:"t"`
		Price      string `json:"p"`
		Quantity   string `json:"q"`
		TradeTime  int64  `json:"T"`
		BuyerMaker bool   `json:"m"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, &repository.ParseError{Source: "trade", Err: err}
	}
	if m.EventType != "trade" {
		return nil, nil
	}

	t := &models.Trade{
		ID:         m.TradeID,
		Symbol:     m.Symbol,
		BuyerMaker: m.BuyerMaker,
		Timestamp:  time.UnixMilli(m.TradeTime),
	}
	var err error
	if t.Price, err = streamDecimal("trade", "p", m.Price); err != nil {
		return nil, err
	}
	if t.Quantity, err = streamDecimal("trade", "q", m.Quantity); err != nil {
		return nil, err
	}
	return TradeEvent{t}, nil
}

// parseDepthMessage handles the partial depth stream, which carries no
// symbol field; the symbol comes from the subscription.
func parseDepthMessage(symbol string, msg []byte) (repository.StreamEvent, error) {
	var m struct {
		LastUpdateID int64       `json:"lastUpdateId"`
		Bids         [][2]string `json:"bids"`
		Asks         [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, &repository.ParseError{Source: "depth", Err: err}
	}
	if m.LastUpdateID == 0 && len(m.Bids) == 0 && len(m.Asks) == 0 {
		return nil, nil
	}

	snap := &models.OrderBookSnapshot{
		Symbol:       strings.ToUpper(symbol),
		Timestamp:    time.Now(),
		LastUpdateID: m.LastUpdateID,
	}
	var err error
	if snap.Bids, err = parseStreamLevels(m.Bids); err != nil {
		return nil, err
	}
	if snap.Asks, err = parseStreamLevels(m.Asks); err != nil {
		return nil, err
	}
	if snap.Crossed() {
		return nil, &repository.ParseError{Source: "depth", Err: fmt.Errorf("crossed book: best bid >= best ask")}
	}
	return DepthEvent{snap}, nil
}

func parseStreamLevels(raw [][2]string) ([]models.OrderBookLevel, error) {
	levels := make([]models.OrderBookLevel, 0, len(raw))
	for _, l := range raw {
		price, err := streamDecimal("depth", "price", l[0])
		if err != nil {
			return nil, err
		}
		qty, err := streamDecimal("depth", "quantity", l[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, models.OrderBookLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

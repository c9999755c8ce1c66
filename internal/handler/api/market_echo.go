package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	models "MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/usecase"
	"MarketPull/pkg/cache"
	xhttp "MarketPull/pkg/http"
	xlogger "MarketPull/pkg/logger"
	"MarketPull/pkg/util"

	"github.com/labstack/echo/v4"
)

// MarketEchoHandler exposes the market-data API over Echo.
type MarketEchoHandler struct {
	logger     *xlogger.Logger
	candles    *usecase.CandlesUseCase
	indicators *usecase.IndicatorsUseCase
	board      *usecase.TickerBoard
	movers     *usecase.MoversUseCase
	rest       domrepo.ExchangeREST
	store      domrepo.BarStore
	cache      cache.Service
	maxAge     time.Duration
	connected  func() bool
}

func NewMarketEchoHandler(
	logger *xlogger.Logger,
	candles *usecase.CandlesUseCase,
	indicators *usecase.IndicatorsUseCase,
	board *usecase.TickerBoard,
	movers *usecase.MoversUseCase,
	rest domrepo.ExchangeREST,
	store domrepo.BarStore,
	cacheSvc cache.Service,
	maxAge time.Duration,
	connected func() bool,
) *MarketEchoHandler {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &MarketEchoHandler{
		logger:     logger,
		candles:    candles,
		indicators: indicators,
		board:      board,
		movers:     movers,
		rest:       rest,
		store:      store,
		cache:      cacheSvc,
		maxAge:     maxAge,
		connected:  connected,
	}
}

func (h *MarketEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/candles", h.Candles)
	g.GET("/recent", h.Recent)
	g.GET("/indicators", h.Indicators)
	g.GET("/ticker", h.Ticker)
	g.GET("/tickers", h.Tickers)
	g.GET("/depth", h.Depth)
	g.GET("/trades", h.Trades)
	g.GET("/movers", h.Movers)
	e.GET("/healthz", h.Healthz)
}

func (h *MarketEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, err := parseTimeParam(req.From)
	if err != nil {
		return xhttp.BadRequestResponse(c, xhttp.BadRequestErrorf("invalid from: %v", err))
	}
	to, err := parseTimeParam(req.To)
	if err != nil {
		return xhttp.BadRequestResponse(c, xhttp.BadRequestErrorf("invalid to: %v", err))
	}

	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:    req.Symbol,
		Timeframe: domrepo.NormalizeTimeframe(req.TF),
		From:      from,
		To:        to,
		Limit:     req.Limit,
	})
	if err != nil {
		h.logger.Error("candles usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainErr(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *MarketEchoHandler) Indicators(c echo.Context) error {
	req := &models.IndicatorsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.indicators.GetIndicators(c.Request().Context(), usecase.GetIndicatorsParams{
		Symbol:    req.Symbol,
		Timeframe: domrepo.NormalizeTimeframe(req.TF),
		Limit:     req.Limit,
	})
	if err != nil {
		h.logger.Error("indicators usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainErr(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, filterIndicators(res, req.Name))
}

// Recent serves only bars written within the freshness bound. A symbol set
// with stored but aged-out rows answers with ERR_STALE instead of silently
// serving old data.
func (h *MarketEchoHandler) Recent(c echo.Context) error {
	req := &models.RecentRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols := splitSymbols(req.Symbols)
	if len(symbols) == 0 {
		return xhttp.BadRequestResponse(c, xhttp.BadRequestErrorf("symbols cannot be empty"))
	}

	bars, err := h.store.QueryRecent(c.Request().Context(), symbols, domrepo.NormalizeTimeframe(req.TF), h.maxAge)
	if err != nil {
		h.logger.Error("recent lookup error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainErr(err))
	}
	return xhttp.ListResponse(c, bars, int64(len(bars)))
}

func (h *MarketEchoHandler) Ticker(c echo.Context) error {
	req := &models.TickerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	tick, err := h.board.GetTicker(c.Request().Context(), req.Symbol)
	if err != nil {
		h.logger.Error("ticker lookup error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainErr(err))
	}
	return xhttp.SuccessResponse(c, tick)
}

func (h *MarketEchoHandler) Tickers(c echo.Context) error {
	tickers, err := h.board.GetAllTickers(c.Request().Context())
	if err != nil {
		h.logger.Error("tickers lookup error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainErr(err))
	}
	return xhttp.ListResponse(c, tickers, int64(len(tickers)))
}

func (h *MarketEchoHandler) Depth(c echo.Context) error {
	req := &models.DepthRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, err := h.rest.GetOrderBook(c.Request().Context(), req.Symbol, req.Levels)
	if err != nil {
		h.logger.Error("depth lookup error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainErr(err))
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *MarketEchoHandler) Trades(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	trades, err := h.rest.GetRecentTrades(c.Request().Context(), req.Symbol, req.Limit)
	if err != nil {
		h.logger.Error("trades lookup error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainErr(err))
	}
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

func (h *MarketEchoHandler) Movers(c echo.Context) error {
	req := &models.MoversRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	movers, err := h.movers.GetMovers(c.Request().Context(), usecase.GetMoversParams{
		Kind:  req.Rank,
		Limit: req.Limit,
	})
	if err != nil {
		h.logger.Error("movers usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainErr(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=30")
	return xhttp.ListResponse(c, movers, int64(len(movers)))
}

// Healthz reports process liveness plus stream and store health.
func (h *MarketEchoHandler) Healthz(c echo.Context) error {
	status := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	healthy := true

	if h.connected != nil {
		connected := h.connected()
		status["stream"] = connected
		if !connected {
			healthy = false
		}
	}
	if h.store != nil {
		if err := h.store.Health(c.Request().Context()); err != nil {
			status["store"] = err.Error()
			healthy = false
		} else {
			status["store"] = "ok"
		}
	}
	if h.cache != nil {
		if _, err := h.cache.Exists(c.Request().Context(), "healthz"); err != nil {
			status["cache"] = err.Error()
			healthy = false
		} else {
			status["cache"] = "ok"
		}
	}

	if !healthy {
		status["status"] = "degraded"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// filterIndicators trims the full result down to one requested series.
func filterIndicators(res *usecase.GetIndicatorsResult, name string) interface{} {
	if name == "" {
		return res
	}
	out := map[string]interface{}{
		"symbol":    res.Symbol,
		"timeframe": res.Timeframe,
		"times":     res.Times,
	}
	switch name {
	case "sma":
		out["sma"] = res.SMA
	case "ema":
		out["ema"] = res.EMA
	case "rsi":
		out["rsi"] = res.RSI
	case "macd":
		out["macd"] = res.MACD
	case "bollinger":
		out["bollinger"] = res.Bollinger
	case "atr":
		out["atr"] = res.ATR
	case "obv":
		out["obv"] = res.OBV
	default:
		return res
	}
	return out
}

// splitSymbols parses a comma separated symbol list, uppercased.
func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseTimeParam accepts RFC3339 or unix milliseconds. Empty means unset.
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, ok := util.ParseTime(s); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("want RFC3339 or unix milliseconds, got %q", s)
}

// mapDomainErr converts domain errors into HTTP application errors.
func mapDomainErr(err error) error {
	var ue *domrepo.UpstreamError
	if errors.As(err, &ue) {
		return xhttp.NewAppError("ERR_UPSTREAM", "", ue.Message, http.StatusBadGateway).WithError(err)
	}
	var pe *domrepo.ParseError
	if errors.As(err, &pe) {
		return xhttp.NewAppError("ERR_UPSTREAM_PAYLOAD", "", "exchange returned an unreadable payload", http.StatusBadGateway).WithError(err)
	}
	if errors.Is(err, domrepo.ErrPoolExhausted) {
		return xhttp.NewAppError("ERR_STORE_BUSY", "", "store is overloaded, retry shortly", http.StatusServiceUnavailable).WithError(err)
	}
	if errors.Is(err, domrepo.ErrStale) {
		return xhttp.NewAppError("ERR_STALE", "", "stored data is older than the freshness bound", http.StatusServiceUnavailable).WithError(err)
	}
	var perr *domrepo.PersistenceError
	if errors.As(err, &perr) {
		return xhttp.InternalError("store operation failed").WithError(err)
	}
	return err
}

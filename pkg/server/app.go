package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MarketPull/internal/handler/api"
	"MarketPull/internal/usecase"
	pkgch "MarketPull/pkg/clickhouse"
	"MarketPull/pkg/config"
	xhttp "MarketPull/pkg/http"
	pkgkafka "MarketPull/pkg/kafka"
	applogger "MarketPull/pkg/logger"
	pkgqueue "MarketPull/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	collector  *usecase.BarCollector
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	chClient   *pkgch.Client
	producer   *pkgkafka.Producer
	backfill   *pkgqueue.RedisQueue
	handler    *api.MarketEchoHandler
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	backfill *pkgqueue.RedisQueue,
	handler *api.MarketEchoHandler,
) *App {
	return &App{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		consumer:  consumer,
		kh:        kh,
		chClient:  chClient,
		producer:  producer,
		backfill:  backfill,
		handler:   handler,
	}
}

// kafkaLogPublisher adapts the Kafka producer to the log collector's
// publisher interface. Aggregated logs are unkeyed.
type kafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func (p kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.logger

	// Ship aggregated error logs to Kafka when a log topic is configured.
	if a.producer != nil && a.cfg.Kafka.LogTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          a.cfg.Kafka.LogTopic,
			Publisher:      kafkaLogPublisher{producer: a.producer},
		})
	}

	serverOpts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	}
	if a.cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, xhttp.WithRequestMetrics(l, 2*time.Second))
	}
	a.httpServer = xhttp.NewServer(a.handler, serverOpts...)

	// Start collector (stream subscriptions + pipeline)
	if err := a.collector.Start(ctx); err != nil {
		l.Error("collector start error", applogger.Error(err))
		return err
	}
	l.Info("collector started",
		applogger.Strings("symbols", a.cfg.Binance.Symbols),
		applogger.String("interval", a.cfg.Binance.Interval),
		applogger.String("backend", a.cfg.Backend.Type))

	// Start consumer if configured
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	// Start backfill queue and seed one job per symbol
	if a.backfill != nil {
		if err := a.backfill.Start(); err != nil {
			l.Error("backfill queue start error", applogger.Error(err))
		} else {
			a.seedBackfill(ctx)
		}
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}
	l.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// seedBackfill enqueues a historical backfill job for every configured
// symbol so the store has candles before the first closed kline arrives.
func (a *App) seedBackfill(ctx context.Context) {
	for _, sym := range a.cfg.Binance.Symbols {
		payload := usecase.BackfillPayload{
			Symbol:    sym,
			Timeframe: a.cfg.Binance.Interval,
			Limit:     a.cfg.Queue.BackfillLimit,
		}
		if err := a.backfill.Enqueue(ctx, "backfill", payload); err != nil {
			a.logger.Warn("backfill enqueue failed",
				applogger.String("symbol", sym), applogger.Error(err))
		}
	}
	a.logger.Info("backfill jobs enqueued", applogger.Int("count", len(a.cfg.Binance.Symbols)))
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l := a.logger
	l.Info("shutting down...")

	// Stop collector first so nothing new enters the pipeline.
	if err := a.collector.Shutdown(ctx); err != nil {
		l.Warn("collector stop error", applogger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.backfill != nil {
		if err := a.backfill.Stop(shutdownCtx); err != nil {
			l.Warn("backfill queue stop error", applogger.Error(err))
		}
	}

	// Close processor resources (publisher, store)
	if a.collector != nil {
		a.collector.Processor().Close()
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.RemoveCollector()
	l.Info("shutdown complete")
	return nil
}

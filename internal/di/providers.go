package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"MarketPull/internal/domain/repository"
	"MarketPull/internal/handler/api"
	mid "MarketPull/internal/middleware"
	internalrepo "MarketPull/internal/repository"
	"MarketPull/internal/service/binance"
	"MarketPull/internal/usecase"
	"MarketPull/pkg/cache"
	pkgch "MarketPull/pkg/clickhouse"
	"MarketPull/pkg/config"
	pkgkafka "MarketPull/pkg/kafka"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/metrics"
	pkgqueue "MarketPull/pkg/queue"
	"MarketPull/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	level := "info"
	format := "json"
	if cfg.Environment == "development" {
		level = "debug"
		format = "console"
	}
	return logger.New(&logger.Config{Level: level, Format: format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client when a host is
// configured. Schema setup belongs to the bar store.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.ClickHouse.Host == "" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideBarStore selects the bar store backend. ClickHouse when a client is
// available and the backend asks for it, in-memory otherwise.
func ProvideBarStore(chClient *pkgch.Client, cfg *config.Config, lgr *logger.Logger) (repository.BarStore, error) {
	if chClient == nil || cfg.Backend.Type == "memory" {
		return internalrepo.NewMemoryBarStore(), nil
	}

	store := internalrepo.NewCHBarStore(chClient,
		internalrepo.WithPoolTimeout(cfg.ClickHouse.PoolTimeout),
		internalrepo.WithBarStoreLogger(lgr),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("bar store schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer when brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideBarPublisher creates the Kafka bar publisher.
func ProvideBarPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.BarPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaBarPublisher(producer, cfg.Kafka.Topic)
}

// ProvideKafkaConsumer creates a Kafka consumer for the bars topic. Only the
// kafka backend runs a consumer; direct backends persist in-process.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if cfg.Backend.Type != "kafka" || len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaBarsHandler registers the handler for the bars topic.
func ProvideKafkaBarsHandler(store repository.BarStore, m repository.Metrics, cfg *config.Config) *usecase.KafkaBarsHandler {
	return usecase.NewKafkaBarsHandler(cfg.Kafka.Topic, store, m)
}

// ProvideExchangeREST creates the Binance REST client.
func ProvideExchangeREST(cfg *config.Config, lgr *logger.Logger) repository.ExchangeREST {
	opts := []binance.ClientOption{
		binance.WithRequestTimeout(cfg.Binance.RequestTimeout),
		binance.WithLogger(lgr),
	}
	if cfg.Binance.APIKey != "" {
		opts = append(opts, binance.WithCredentials(cfg.Binance.APIKey, cfg.Binance.SecretKey))
	}
	return binance.NewClient(cfg.Binance.RESTURL, opts...)
}

// ProvideMarketStream creates the Binance WebSocket stream client.
func ProvideMarketStream(cfg *config.Config, lgr *logger.Logger, m repository.Metrics) repository.MarketStream {
	return binance.NewStreamClient(binance.StreamConfig{
		BaseURL:      cfg.Binance.WebSocketURL,
		Symbols:      cfg.Binance.Symbols,
		Interval:     cfg.Binance.Interval,
		DepthLevels:  cfg.Binance.DepthLevels,
		BackoffBase:  cfg.Binance.ReconnectBase,
		BackoffMax:   cfg.Binance.ReconnectMax,
		PingInterval: cfg.Binance.PingInterval,
	},
		binance.WithStreamLogger(lgr),
		binance.WithStreamMetrics(m),
	)
}

// ProvideCache creates the ticker cache. Redis-backed layered cache when
// enabled, nil otherwise; the ticker board treats a nil cache as board-only.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, nil
	}
	host, port, err := splitRedisAddr(cfg.Cache.Redis.Addr)
	if err != nil {
		return nil, err
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc), nil
}

// ProvideBackfillQueue creates the Redis-backed backfill queue. It runs in
// producer-consumer mode so the app can both seed and work off jobs.
func ProvideBackfillQueue(cfg *config.Config, lgr *logger.Logger, rest repository.ExchangeREST, store repository.BarStore) (*pkgqueue.RedisQueue, error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
	q := pkgqueue.NewRedisQueue(lgr, &pkgqueue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		QueueSize:  cfg.Queue.QueueSize,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, client, pkgqueue.ModeProducerConsumer, pkgqueue.WithKeyPrefix("marketpull:backfill"))
	q.RegisterJob(usecase.NewBackfillJob(rest, store, lgr))
	return q, nil
}

// ProvideTickerBoard creates the shared last-price board.
func ProvideTickerBoard(rest repository.ExchangeREST, cacheSvc cache.Service, cfg *config.Config) *usecase.TickerBoard {
	return usecase.NewTickerBoard(rest, cacheSvc, cfg.Cache.TickerTTL)
}

// ProvideCandlesUseCase creates the candle query use case.
func ProvideCandlesUseCase(store repository.BarStore, rest repository.ExchangeREST) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(store, rest)
}

// ProvideIndicatorsUseCase creates the indicator query use case.
func ProvideIndicatorsUseCase(candles *usecase.CandlesUseCase) *usecase.IndicatorsUseCase {
	return usecase.NewIndicatorsUseCase(candles)
}

// ProvideMoversUseCase creates the movers ranking use case.
func ProvideMoversUseCase(rest repository.ExchangeREST) *usecase.MoversUseCase {
	return usecase.NewMoversUseCase(rest)
}

// ProvideBarProcessor creates the bar routing processor.
func ProvideBarProcessor(
	pub repository.BarPublisher,
	store repository.BarStore,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.BarProcessor {
	return usecase.NewBarProcessor(pub, store, m, cfg.Backend.Type)
}

// ProvideBarCollector creates the stream collector with its pipeline.
func ProvideBarCollector(
	stream repository.MarketStream,
	processor *usecase.BarProcessor,
	board *usecase.TickerBoard,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.BarCollector {
	pipe := mid.NewRealtimePipeline(processor, m,
		mid.WithBufferSize(2000),
		mid.WithWorkers(cfg.Queue.Workers),
	)
	return usecase.NewBarCollector(stream, pipe, processor, board, m)
}

// ProvideMarketHandler creates the HTTP API handler.
func ProvideMarketHandler(
	lgr *logger.Logger,
	candles *usecase.CandlesUseCase,
	indicators *usecase.IndicatorsUseCase,
	board *usecase.TickerBoard,
	movers *usecase.MoversUseCase,
	rest repository.ExchangeREST,
	store repository.BarStore,
	cacheSvc cache.Service,
	collector *usecase.BarCollector,
	cfg *config.Config,
) *api.MarketEchoHandler {
	return api.NewMarketEchoHandler(lgr, candles, indicators, board, movers, rest, store, cacheSvc, cfg.Freshness.MaxAge, collector.IsConnected)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaBarsHandler,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	backfill *pkgqueue.RedisQueue,
	handler *api.MarketEchoHandler,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	return server.New(cfg, lgr, collector, consumer, kh, chClient, producer, backfill, handler)
}

func splitRedisAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("redis addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("redis addr %q: %w", addr, err)
	}
	return host, port, nil
}

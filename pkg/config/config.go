package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Backend struct {
		Type         string        `yaml:"type"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		LogTopic     string   `yaml:"log_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		PoolTimeout      time.Duration `yaml:"pool_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Binance struct {
		RESTURL        string        `yaml:"rest_url"`
		WebSocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		SecretKey      string        `yaml:"secret_key"`
		Symbols        []string      `yaml:"symbols"`
		Interval       string        `yaml:"interval"`
		DepthLevels    int           `yaml:"depth_levels"`
		ReconnectBase  time.Duration `yaml:"reconnect_base"`
		ReconnectMax   time.Duration `yaml:"reconnect_max"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"binance"`
	Cache struct {
		TickerTTL time.Duration `yaml:"ticker_ttl"`
		Redis     struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Freshness struct {
		MaxAge time.Duration `yaml:"max_age"`
	} `yaml:"freshness"`
	Queue struct {
		Workers       int           `yaml:"workers"`
		QueueSize     int           `yaml:"queue_size"`
		RetryLimit    int           `yaml:"retry_limit"`
		RetryDelay    time.Duration `yaml:"retry_delay"`
		BackfillLimit int           `yaml:"backfill_limit"`
	} `yaml:"queue"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		c.Binance.SecretKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Binance.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}

	return c, nil
}

// Validate checks if the configuration is valid. Some zero values are filled
// with defaults instead of rejected.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Backend.Type == "" {
		return fmt.Errorf("backend.type is required")
	}
	if c.Backend.Type != "kafka" && c.Backend.Type != "clickhouse" && c.Backend.Type != "memory" {
		return fmt.Errorf("backend.type must be 'kafka', 'clickhouse' or 'memory', got '%s'", c.Backend.Type)
	}
	if len(c.Binance.Symbols) == 0 {
		return fmt.Errorf("binance.symbols cannot be empty")
	}
	if c.Binance.RESTURL == "" {
		return fmt.Errorf("binance.rest_url is required")
	}
	if c.Binance.WebSocketURL == "" {
		return fmt.Errorf("binance.websocket_url is required")
	}
	if c.Binance.Interval == "" {
		c.Binance.Interval = "1m"
	}
	if c.Binance.DepthLevels <= 0 {
		c.Binance.DepthLevels = 20
	}
	if c.Binance.ReconnectBase <= 0 {
		c.Binance.ReconnectBase = 5 * time.Second
	}
	if c.Binance.ReconnectMax < c.Binance.ReconnectBase {
		c.Binance.ReconnectMax = 60 * time.Second
	}
	if c.Cache.TickerTTL <= 0 {
		c.Cache.TickerTTL = 30 * time.Second
	}
	if c.Freshness.MaxAge <= 0 {
		c.Freshness.MaxAge = 5 * time.Minute
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.QueueSize <= 0 {
		c.Queue.QueueSize = 100
	}
	if c.Queue.RetryLimit <= 0 {
		c.Queue.RetryLimit = 3
	}
	if c.Queue.RetryDelay <= 0 {
		c.Queue.RetryDelay = 5 * time.Second
	}
	if c.Queue.BackfillLimit <= 0 {
		c.Queue.BackfillLimit = 500
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"BollingerChart/pkg/logger"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server      Server        `yaml:"server"`
	Logger      logger.Config `yaml:"logger"`
	Metrics     Metrics       `yaml:"metrics"`
	Data        Data          `yaml:"data"`
	Indicator   Indicator     `yaml:"indicator"`
	Cache       Cache         `yaml:"cache"`
	Kafka       Kafka         `yaml:"kafka"`
	ClickHouse  ClickHouse    `yaml:"clickhouse"`
	RateLimit   RateLimit     `yaml:"rate_limit"`
	WebSocket   WebSocket     `yaml:"websocket"`
}

type Server struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	AllowOrigins    []string      `yaml:"allow_origins"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// Data selects where the candle series comes from.
type Data struct {
	Source       string        `yaml:"source" default:"file" validate:"oneof=file url clickhouse"`
	Path         string        `yaml:"path" default:"data/ohlcv.json"`
	URL          string        `yaml:"url" validate:"omitempty,url"`
	Timeout      time.Duration `yaml:"timeout" default:"10s"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" default:"33554432" validate:"gte=1024"`
	Symbol       string        `yaml:"symbol" default:"BTCUSDT"`
	Timeframe    string        `yaml:"timeframe" default:"1d" validate:"oneof=1m 5m 1h 1d"`
	Limit        int           `yaml:"limit" default:"1000" validate:"gte=1,lte=100000"`
}

// Indicator holds the initial Bollinger Bands inputs.
type Indicator struct {
	Length int     `yaml:"length" default:"20" validate:"gte=2"`
	StdDev float64 `yaml:"std_dev" default:"2" validate:"gte=0"`
	Offset int     `yaml:"offset"`
	Source string  `yaml:"source" default:"close" validate:"oneof=open high low close volume"`
}

type Cache struct {
	Type      string        `yaml:"type" default:"memory" validate:"oneof=none memory redis layered"`
	TTL       time.Duration `yaml:"ttl" default:"5m"`
	MaxSize   int           `yaml:"max_size" default:"1000" validate:"gte=1"`
	KeyPrefix string        `yaml:"key_prefix" default:"bb"`
	Cleanup   time.Duration `yaml:"cleanup_interval" default:"1m" validate:"gt=0"`
	Redis     Redis         `yaml:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
}

type Kafka struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"bollinger.bands"`
	RequiredAcks int           `yaml:"required_acks" default:"1" validate:"oneof=-1 0 1"`
	Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
	MaxAttempts  int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
	Async        bool          `yaml:"async"`
	RetryBuffer  int           `yaml:"retry_buffer" default:"64" validate:"gte=1"`
}

type ClickHouse struct {
	Host        string        `yaml:"host" default:"localhost"`
	Port        int           `yaml:"port" default:"9000"`
	Database    string        `yaml:"database" default:"market"`
	User        string        `yaml:"user" default:"default"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout time.Duration `yaml:"read_timeout" default:"30s"`
	UseHTTP     bool          `yaml:"use_http"`
	MaxExecTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

// RateLimit guards the settings endpoints with a per-client token bucket.
type RateLimit struct {
	Enabled      bool    `yaml:"enabled" default:"true"`
	Capacity     int     `yaml:"capacity" default:"10" validate:"gte=1"`
	RefillPerSec float64 `yaml:"refill_per_sec" default:"2" validate:"gt=0"`
}

type WebSocket struct {
	Enabled      bool          `yaml:"enabled" default:"true"`
	SendBuffer   int           `yaml:"send_buffer" default:"16" validate:"gte=1"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
}

// Load reads and parses a YAML configuration file, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes raw YAML over the defaults, so explicit zero values such as
// `enabled: false` are kept. It does not validate.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML, overrides it with environment variables
// and validates the result.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment. getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("BB_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("BB_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BB_SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("BB_LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := getenv("BB_DATA_SOURCE"); v != "" {
		c.Data.Source = v
	}
	if v := getenv("BB_DATA_PATH"); v != "" {
		c.Data.Path = v
	}
	if v := getenv("BB_DATA_URL"); v != "" {
		c.Data.URL = v
	}
	if v := getenv("BB_CACHE_TYPE"); v != "" {
		c.Cache.Type = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	return nil
}

var validate = validator.New()

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Data.Source {
	case "file":
		if c.Data.Path == "" {
			return fmt.Errorf("data.path is required for source 'file'")
		}
	case "url":
		if c.Data.URL == "" {
			return fmt.Errorf("data.url is required for source 'url'")
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if (c.Cache.Type == "redis" || c.Cache.Type == "layered") && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required for cache type '%s'", c.Cache.Type)
	}
	return nil
}

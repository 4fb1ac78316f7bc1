package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required"`
	Log         LogConfig        `yaml:"log"`
	Grid        GridConfig       `yaml:"grid"`
	Exchange    ExchangeConfig   `yaml:"exchange"`
	Supervisor  SupervisorConfig `yaml:"supervisor"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Backend     BackendConfig    `yaml:"backend"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
}

type LogConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format" default:"2006-01-02T15:04:05.000Z07:00"`
}

type GridConfig struct {
	ConfigPath string `yaml:"config_path" default:"config.json" validate:"required"`
	MaxLevels  int    `yaml:"max_levels" default:"5000" validate:"gt=0"`
}

type ExchangeConfig struct {
	Name             string        `yaml:"name" default:"bitfinex" validate:"oneof=bitfinex stub"`
	TickerStream     bool          `yaml:"ticker_stream" default:"true"`
	WebSocketURL     string        `yaml:"websocket_url" default:"wss://api-pub.bitfinex.com/ws/2"`
	RestURL          string        `yaml:"rest_url" default:"https://api-pub.bitfinex.com"`
	PingInterval     time.Duration `yaml:"ping_interval" default:"15s"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" default:"10s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"60s"`
	StubInterval     time.Duration `yaml:"stub_interval" default:"1s"`
}

type SupervisorConfig struct {
	RetryPolicy    string        `yaml:"retry_policy" default:"immediate" validate:"oneof=immediate exponential"`
	BackoffInitial time.Duration `yaml:"backoff_initial" default:"500ms"`
	BackoffMax     time.Duration `yaml:"backoff_max" default:"30s"`
	FlatDirection  bool          `yaml:"flat_direction"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type BackendConfig struct {
	Type         string        `yaml:"type" default:"none" validate:"oneof=none kafka clickhouse"`
	BatchSize    int           `yaml:"batch_size" default:"100" validate:"gt=0"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
}

type PipelineConfig struct {
	MaxRPS     float64 `yaml:"max_rps" default:"50" validate:"gte=0"`
	BufferSize int     `yaml:"buffer_size" default:"1024" validate:"gt=0"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"gridwatch.observations"`
	LogTopic     string        `yaml:"log_topic"`
	RequiredAcks int           `yaml:"required_acks" default:"1"`
	Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer     KafkaProducer `yaml:"producer"`
	Consumer     KafkaConsumer `yaml:"consumer"`
}

type KafkaProducer struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
	Linger       time.Duration `yaml:"linger" default:"10ms"`
	BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
}

type KafkaConsumer struct {
	Enabled     bool          `yaml:"enabled"`
	GroupID     string        `yaml:"group_id" default:"gridwatch-observations"`
	OffsetReset string        `yaml:"auto_offset_reset" default:"earliest" validate:"oneof=earliest latest"`
	Workers     int           `yaml:"workers" default:"4"`
	BufferSize  int           `yaml:"buffer_size" default:"256"`
	RetryMax    int           `yaml:"retry_max" default:"3"`
	BackoffMin  time.Duration `yaml:"backoff_min" default:"100ms"`
	BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
	DLQTopic    string        `yaml:"dlq_topic"`
	MinBytes    int           `yaml:"min_bytes" default:"1"`
	MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"gridwatch"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	Table            string        `yaml:"table" default:"trend_observations"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host" default:"localhost"`
	Port     int           `yaml:"port" default:"6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix" default:"gridwatch"`
	TTL      time.Duration `yaml:"ttl" default:"24h"`
}

// ErrInvalid marks configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

// Default returns a Config populated only from default tags.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads .env (if present), then YAML, then applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GRID_CONFIG_PATH"); v != "" {
		c.Grid.ConfigPath = v
	}
	if v := os.Getenv("EXCHANGE_NAME"); v != "" {
		c.Exchange.Name = v
	}
	if v := os.Getenv("EXCHANGE_WS_URL"); v != "" {
		c.Exchange.WebSocketURL = v
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
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR port: %w", err)
		}
		c.Redis.Host, c.Redis.Port, c.Redis.Enabled = host, p, true
	}
	return nil
}

// Validate checks tag constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Backend.Type == "kafka" {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: kafka.brokers cannot be empty for backend kafka", ErrInvalid)
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("%w: kafka.topic is required for backend kafka", ErrInvalid)
		}
	}
	if c.Kafka.LogTopic != "" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka.log_topic requires kafka.brokers", ErrInvalid)
	}
	if c.Kafka.Consumer.Enabled && !c.ClickHouse.Enabled {
		return fmt.Errorf("%w: kafka.consumer requires clickhouse.enabled", ErrInvalid)
	}
	if c.Supervisor.RetryPolicy == "exponential" && c.Supervisor.BackoffInitial <= 0 {
		return fmt.Errorf("%w: supervisor.backoff_initial must be positive", ErrInvalid)
	}
	return nil
}

// UsesClickHouse reports whether any component needs a ClickHouse connection.
func (c *Config) UsesClickHouse() bool {
	return c.ClickHouse.Enabled || c.Backend.Type == "clickhouse"
}

// RedisAddr returns host:port.
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))
}

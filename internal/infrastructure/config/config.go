package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// ErrInvalid marks configuration that cannot be used to start a process.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Server       ServerConfig       `yaml:"server"`
	Worker       WorkerConfig       `yaml:"worker"`
	Database     DatabaseConfig     `yaml:"database"`
	Broker       BrokerConfig       `yaml:"broker"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Notification NotificationConfig `yaml:"notification"`
	Logging      LogConfig          `yaml:"logging"`
	RateLimit    RateLimitConfig    `yaml:"rateLimit"`
}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Name        string `envconfig:"SERVICE_NAME" yaml:"name"`
	Version     string `envconfig:"SERVICE_VERSION" yaml:"version"`
	Environment string `envconfig:"ENVIRONMENT" yaml:"environment"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" yaml:"port"`
	Host            string        `envconfig:"HOST" yaml:"host"`
	PathBase        string        `envconfig:"PATH_BASE" yaml:"pathBase"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdownTimeout"`
	EmbeddedWorker  bool          `envconfig:"EMBEDDED_WORKER" yaml:"embeddedWorker"`
}

// WorkerConfig holds consumer configuration.
type WorkerConfig struct {
	MetricsPort     string        `envconfig:"WORKER_METRICS_PORT" yaml:"metricsPort"`
	MaxConcurrent   int           `envconfig:"WORKER_MAX_CONCURRENT" yaml:"maxConcurrent"`
	MaxAttempts     int           `envconfig:"WORKER_MAX_ATTEMPTS" yaml:"maxAttempts"`
	RetryInterval   time.Duration `envconfig:"WORKER_RETRY_INTERVAL" yaml:"retryInterval"`
	ProcessingDelay time.Duration `envconfig:"WORKER_PROCESSING_DELAY" yaml:"processingDelay"`
	InboxPath       string        `envconfig:"WORKER_INBOX_PATH" yaml:"inboxPath"`
	// InboxRetention is how long processed message ids are remembered.
	InboxRetention time.Duration `envconfig:"WORKER_INBOX_RETENTION" yaml:"inboxRetention"`
}

// DatabaseConfig holds relational store configuration. An empty URL disables
// persistence.
type DatabaseConfig struct {
	URL            string `envconfig:"DATABASE_URL" yaml:"url"`
	MaxConns       int32  `envconfig:"DATABASE_MAX_CONNS" yaml:"maxConns"`
	MigrateOnStart bool   `envconfig:"DATABASE_MIGRATE" yaml:"migrateOnStart"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// BrokerConfig holds message broker configuration.
type BrokerConfig struct {
	Kind              string   `envconfig:"BROKER_KIND" yaml:"kind"`
	Brokers           []string `envconfig:"BROKER_ADDRS" yaml:"brokers"`
	ConsumerGroup     string   `envconfig:"BROKER_GROUP" yaml:"consumerGroup"`
	OrderQueue        string   `envconfig:"ORDER_QUEUE" yaml:"orderQueue"`
	NotificationQueue string   `envconfig:"NOTIFICATION_QUEUE" yaml:"notificationQueue"`
	DeadLetterQueue   string   `envconfig:"DEAD_LETTER_QUEUE" yaml:"deadLetterQueue"`
	System            string   `envconfig:"MESSAGING_SYSTEM" yaml:"system"`
	LegacyCorrelation bool     `envconfig:"LEGACY_CORRELATION" yaml:"legacyCorrelation"`
	BufferSize        int      `envconfig:"BROKER_BUFFER" yaml:"bufferSize"`
	CompressAbove     int      `envconfig:"COMPRESS_ABOVE" yaml:"compressAbove"`
}

// TracingConfig holds span export configuration.
type TracingConfig struct {
	Enabled     bool    `envconfig:"TRACING_ENABLED" yaml:"enabled"`
	Exporter    string  `envconfig:"TRACING_EXPORTER" yaml:"exporter"`
	Endpoint    string  `envconfig:"OTLP_ENDPOINT" yaml:"endpoint"`
	ZipkinURL   string  `envconfig:"ZIPKIN_URL" yaml:"zipkinUrl"`
	SampleRatio float64 `envconfig:"TRACING_SAMPLE_RATIO" yaml:"sampleRatio"`
}

// NotificationConfig holds outbound notification configuration. An empty
// webhook URL selects the log notifier.
type NotificationConfig struct {
	WebhookURL string        `envconfig:"NOTIFY_WEBHOOK_URL" yaml:"webhookUrl"`
	Timeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" yaml:"timeout"`
	RetryMax   int           `envconfig:"NOTIFY_RETRY_MAX" yaml:"retryMax"`
	RateLimit  float64       `envconfig:"NOTIFY_RATE_LIMIT" yaml:"rateLimit"`
	Sender     string        `envconfig:"NOTIFY_SENDER" yaml:"sender"`
	Recipient  string        `envconfig:"NOTIFY_RECIPIENT" yaml:"recipient"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requestsPerSecond"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled"`
}

// Load builds configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile builds configuration from defaults overlaid with one YAML file.
// Environment variables are not consulted.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return nil
}

// Validate rejects combinations no process can start with.
func (c *Config) Validate() error {
	var problems []string

	if c.Service.Name == "" {
		problems = append(problems, "service name is required")
	}
	switch c.Broker.Kind {
	case "memory":
	case "kafka":
		if len(c.Broker.Brokers) == 0 {
			problems = append(problems, "kafka broker requires at least one address")
		}
		if c.Broker.ConsumerGroup == "" {
			problems = append(problems, "kafka broker requires a consumer group")
		}
	default:
		problems = append(problems, "unknown broker kind "+c.Broker.Kind)
	}
	if c.Broker.OrderQueue == "" || c.Broker.NotificationQueue == "" {
		problems = append(problems, "order and notification queues are required")
	}
	if c.Worker.MaxConcurrent < 1 {
		problems = append(problems, "worker max concurrent must be positive")
	}
	if c.Worker.InboxRetention <= 0 {
		problems = append(problems, "worker inbox retention must be positive")
	}
	if c.Worker.MaxAttempts < 1 {
		problems = append(problems, "worker max attempts must be positive")
	}
	switch c.Tracing.Exporter {
	case "log", "none":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			problems = append(problems, "otlp exporter requires an endpoint")
		}
	case "zipkin":
		if c.Tracing.ZipkinURL == "" {
			problems = append(problems, "zipkin exporter requires a url")
		}
	default:
		problems = append(problems, "unknown tracing exporter "+c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		problems = append(problems, "tracing sample ratio must be within [0,1]")
	}
	if c.Server.PathBase != "" && !strings.HasPrefix(c.Server.PathBase, "/") {
		problems = append(problems, "path base must start with /")
	}

	if len(problems) > 0 {
		return errors.Mark(errors.Newf("%s", strings.Join(problems, "; ")), ErrInvalid)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "orderflow",
			Version:     "dev",
			Environment: "development",
		},
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Worker: WorkerConfig{
			MetricsPort:    "8001",
			MaxConcurrent:  2,
			MaxAttempts:    3,
			RetryInterval:  200 * time.Millisecond,
			InboxRetention: 7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrateOnStart: true,
		},
		Broker: BrokerConfig{
			Kind:              "memory",
			ConsumerGroup:     "orderflow-worker",
			OrderQueue:        "order-queue",
			NotificationQueue: "notification-queue",
			DeadLetterQueue:   "order-queue-error",
			System:            "rabbitmq",
			BufferSize:        64,
			CompressAbove:     4096,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			Exporter:    "log",
			SampleRatio: 1,
		},
		Notification: NotificationConfig{
			Timeout:   5 * time.Second,
			RetryMax:  2,
			RateLimit: 20,
			Sender:    "orders@orderflow.local",
			Recipient: "testing@domain.com",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

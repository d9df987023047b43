// Package config loads the worker configuration: defaults, then an optional YAML file,
// then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	berr "github.com/next-trace/scg-edu-bus/contract/errors"
	"github.com/next-trace/scg-edu-bus/messagebus"
)

// Supported bus kinds.
const (
	KindInMemory = "inmemory"
	KindRabbitMQ = "rabbitmq"
	KindNATS     = "nats"
	KindKafka    = "kafka"
	KindRedis    = "redis"
)

type Config struct {
	ServiceID string
	HTTPPort  int
	LogLevel  string

	BusKind        string
	BusURL         string
	KafkaBrokers   []string
	SubscriptionID string

	ReconnectRetries   int
	ReconnectBase      time.Duration
	RequestTimeout     time.Duration
	RequestAttempts    int
	RequestBackoffBase time.Duration
	RequestMaxBackoff  time.Duration

	IngressBuffer  int
	IngressWorkers int

	DatabaseDriver string
	DatabaseURL    string
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Bus struct {
		Kind                      string   `yaml:"kind"`
		URL                       string   `yaml:"url"`
		KafkaBrokers              []string `yaml:"kafka_brokers"`
		SubscriptionID            string   `yaml:"subscription_id"`
		ReconnectRetries          int      `yaml:"reconnect_retries"`
		ReconnectBaseSeconds      int      `yaml:"reconnect_base_seconds"`
		RequestTimeoutSeconds     int      `yaml:"request_timeout_seconds"`
		RequestAttempts           int      `yaml:"request_attempts"`
		RequestBackoffBaseSeconds int      `yaml:"request_backoff_base_seconds"`
		RequestMaxBackoffSeconds  int      `yaml:"request_max_backoff_seconds"`
	} `yaml:"bus"`
	Ingress struct {
		Buffer  int `yaml:"buffer"`
		Workers int `yaml:"workers"`
	} `yaml:"ingress"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
}

// Default returns the documented defaults.
func Default() Config {
	bus := messagebus.DefaultConfig()

	return Config{
		ServiceID:          "enrollment-worker",
		HTTPPort:           8080,
		LogLevel:           "info",
		BusKind:            KindInMemory,
		SubscriptionID:     "enrollment",
		ReconnectRetries:   bus.ReconnectRetries,
		ReconnectBase:      bus.ReconnectBase,
		RequestTimeout:     bus.RequestTimeout,
		RequestAttempts:    bus.RequestAttempts,
		RequestBackoffBase: bus.RequestBackoffBase,
		RequestMaxBackoff:  bus.RequestMaxBackoff,
		IngressBuffer:      64,
		IngressWorkers:     1,
		DatabaseDriver:     "sqlite",
		DatabaseURL:        "file:enrollment.db?_pragma=busy_timeout(5000)",
	}
}

// Load applies path (when it exists) and the environment on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)

		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (cfg *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", errors.Join(berr.ErrConfigurationInvalid, err))
	}

	setString(&cfg.ServiceID, f.Service.ID)
	setInt(&cfg.HTTPPort, f.Service.HTTPPort)
	setString(&cfg.LogLevel, f.Service.LogLevel)

	setString(&cfg.BusKind, f.Bus.Kind)
	setString(&cfg.BusURL, f.Bus.URL)
	setString(&cfg.SubscriptionID, f.Bus.SubscriptionID)

	if len(f.Bus.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Bus.KafkaBrokers)
	}

	setInt(&cfg.ReconnectRetries, f.Bus.ReconnectRetries)
	setSeconds(&cfg.ReconnectBase, f.Bus.ReconnectBaseSeconds)
	setSeconds(&cfg.RequestTimeout, f.Bus.RequestTimeoutSeconds)
	setInt(&cfg.RequestAttempts, f.Bus.RequestAttempts)
	setSeconds(&cfg.RequestBackoffBase, f.Bus.RequestBackoffBaseSeconds)
	setSeconds(&cfg.RequestMaxBackoff, f.Bus.RequestMaxBackoffSeconds)

	setInt(&cfg.IngressBuffer, f.Ingress.Buffer)
	setInt(&cfg.IngressWorkers, f.Ingress.Workers)

	setString(&cfg.DatabaseDriver, f.Database.Driver)
	setString(&cfg.DatabaseURL, f.Database.URL)

	return nil
}

func (cfg *Config) applyEnv() {
	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)

	cfg.BusKind = strings.ToLower(envOrDefault("BUS_KIND", cfg.BusKind))
	cfg.BusURL = envOrDefault("BUS_URL", cfg.BusURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.SubscriptionID = envOrDefault("BUS_SUBSCRIPTION_ID", cfg.SubscriptionID)

	cfg.ReconnectRetries = envInt("BUS_RECONNECT_RETRIES", cfg.ReconnectRetries)
	cfg.ReconnectBase = envSeconds("BUS_RECONNECT_BASE_SECONDS", cfg.ReconnectBase)
	cfg.RequestTimeout = envSeconds("BUS_REQUEST_TIMEOUT_SECONDS", cfg.RequestTimeout)
	cfg.RequestAttempts = envInt("BUS_REQUEST_ATTEMPTS", cfg.RequestAttempts)
	cfg.RequestBackoffBase = envSeconds("BUS_REQUEST_BACKOFF_BASE_SECONDS", cfg.RequestBackoffBase)
	cfg.RequestMaxBackoff = envSeconds("BUS_REQUEST_MAX_BACKOFF_SECONDS", cfg.RequestMaxBackoff)

	cfg.IngressBuffer = envInt("INGRESS_BUFFER", cfg.IngressBuffer)
	cfg.IngressWorkers = envInt("INGRESS_WORKERS", cfg.IngressWorkers)

	cfg.DatabaseDriver = envOrDefault("DB_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
}

// Validate reports the first inconsistency as ErrConfigurationInvalid.
func (cfg Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", berr.ErrConfigurationInvalid, fmt.Sprintf(format, args...))
	}

	switch cfg.BusKind {
	case KindInMemory:
	case KindKafka:
		if len(cfg.Brokers()) == 0 {
			return invalid("kafka needs KAFKA_BROKERS or BUS_URL")
		}
	case KindRabbitMQ, KindNATS, KindRedis:
		if cfg.BusURL == "" {
			return invalid("%s needs BUS_URL", cfg.BusKind)
		}
	default:
		return invalid("unknown BUS_KIND %q", cfg.BusKind)
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return invalid("unknown DB_DRIVER %q", cfg.DatabaseDriver)
	}

	if cfg.DatabaseURL == "" {
		return invalid("missing DB_URL")
	}

	if cfg.RequestAttempts <= 0 || cfg.ReconnectRetries <= 0 || cfg.IngressBuffer <= 0 || cfg.IngressWorkers <= 0 {
		return invalid("attempts, retries, buffer and workers must be positive")
	}

	return nil
}

// Brokers returns the Kafka seed brokers, falling back to a comma separated BUS_URL.
func (cfg Config) Brokers() []string {
	if len(cfg.KafkaBrokers) > 0 {
		return cfg.KafkaBrokers
	}

	if cfg.BusURL == "" {
		return nil
	}

	return trimNonEmpty(strings.Split(cfg.BusURL, ","))
}

// Bus returns the message bus client policy.
func (cfg Config) Bus() messagebus.Config {
	return messagebus.Config{
		ReconnectRetries:   cfg.ReconnectRetries,
		ReconnectBase:      cfg.ReconnectBase,
		RequestTimeout:     cfg.RequestTimeout,
		RequestAttempts:    cfg.RequestAttempts,
		RequestBackoffBase: cfg.RequestBackoffBase,
		RequestMaxBackoff:  cfg.RequestMaxBackoff,
	}
}

// Level maps LogLevel onto slog, defaulting to info.
func (cfg Config) Level() slog.Level {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setSeconds(dst *time.Duration, v int) {
	if v > 0 {
		*dst = time.Duration(v) * time.Second
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}

	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func envSeconds(name string, fallback time.Duration) time.Duration {
	return time.Duration(envInt(name, int(fallback.Seconds()))) * time.Second
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}

	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

// Package config loads the service configuration from YAML, applies
// defaults and environment overrides, and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lsm/chameleon/internal/dlq"
	"github.com/lsm/chameleon/internal/kafka"
	"github.com/lsm/chameleon/internal/retry"
	"github.com/lsm/chameleon/internal/server"
	"github.com/lsm/chameleon/internal/tracing"
)

// Environment variables that override file values.
const (
	EnvListenAddr   = "CHAMELEON_LISTEN_ADDR"
	EnvMetricsAddr  = "CHAMELEON_METRICS_ADDR"
	EnvLogLevel     = "CHAMELEON_LOG_LEVEL"
	EnvDLQBrokers   = "CHAMELEON_DLQ_BROKERS"
	EnvDLQTopic     = "CHAMELEON_DLQ_TOPIC"
	EnvRateLimitRPS = "CHAMELEON_RATE_LIMIT_RPS"
)

// Defaults.
const (
	DefaultListenAddr   = ":8080"
	DefaultMetricsAddr  = ":9090"
	DefaultMaxBodyBytes = server.DefaultMaxBodyBytes
	DefaultLogLevel     = "info"
	DefaultDLQTopic     = dlq.DefaultTopic
)

// Config is the root service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	DLQ       DLQConfig       `yaml:"dlq"`
	Tracing   tracing.Config  `yaml:"tracing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddr   string `yaml:"listenAddr"`
	MetricsAddr  string `yaml:"metricsAddr"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// RateLimitConfig limits transform requests. RPS of zero disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DLQConfig holds dead-letter publishing settings.
type DLQConfig struct {
	Enabled bool                `yaml:"enabled"`
	Topic   string              `yaml:"topic"`
	Kafka   kafka.ClusterConfig `yaml:"kafka"`
	Retry   retry.Policy        `yaml:"retry"`

	// PublishTimeout bounds each publish attempt.
	PublishTimeout time.Duration `yaml:"publishTimeout"`

	// CreateTopic creates the topic at startup when it does not exist.
	CreateTopic       bool  `yaml:"createTopic"`
	Partitions        int32 `yaml:"partitions"`
	ReplicationFactor int16 `yaml:"replicationFactor"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = DefaultMetricsAddr
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(math.Ceil(c.RateLimit.RPS))
	}
	if c.DLQ.Topic == "" {
		c.DLQ.Topic = DefaultDLQTopic
	}
	if c.DLQ.Retry.MaxAttempts == 0 {
		c.DLQ.Retry = retry.DefaultPolicy()
	}
	if c.DLQ.PublishTimeout == 0 {
		c.DLQ.PublishTimeout = dlq.DefaultPublishTimeout
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvDLQBrokers); v != "" {
		c.DLQ.Kafka.Brokers = kafka.ParseBrokers(v)
		c.DLQ.Enabled = true
	}
	if v := os.Getenv(EnvDLQTopic); v != "" {
		c.DLQ.Topic = v
	}
	if v := os.Getenv(EnvRateLimitRPS); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRateLimitRPS, err)
		}
		c.RateLimit.RPS = rps
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listenAddr is required"))
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.maxBodyBytes must not be negative, got %d", c.Server.MaxBodyBytes))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not valid (must be debug, info, warn or error)", c.Log.Level))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("rateLimit.rps must not be negative, got %g", c.RateLimit.RPS))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rateLimit.burst must not be negative, got %d", c.RateLimit.Burst))
	}
	if c.DLQ.Enabled {
		if err := c.DLQ.Kafka.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("dlq.kafka: %w", err))
		}
		if c.DLQ.Partitions < 0 || c.DLQ.ReplicationFactor < 0 {
			errs = append(errs, errors.New("dlq.partitions and dlq.replicationFactor must not be negative"))
		}
		if err := c.DLQ.Retry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("dlq.retry: %w", err))
		}
		if c.DLQ.PublishTimeout < 0 {
			errs = append(errs, fmt.Errorf("dlq.publishTimeout must not be negative, got %s", c.DLQ.PublishTimeout))
		}
	}

	return errors.Join(errs...)
}

// Parse decodes YAML, then applies environment overrides and defaults.
// The result is not validated.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads and validates the file at path. An empty path yields the
// defaults with environment overrides.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads environment files without overriding variables that are
// already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Loader holds the current configuration and reloads it when the file
// changes.
type Loader struct {
	mu       sync.RWMutex
	cfg      *Config
	path     string
	logger   *slog.Logger
	onChange func(*Config)
}

// NewLoader creates a loader for the file at path.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, logger: logger}
}

// OnChange registers a callback that fires after a successful reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.onChange = fn
}

// Load reads the file and stores the result.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Watch watches the config file's directory and reloads on changes to the
// file. Invalid reloads are logged and the previous config is kept. Blocks
// until done is closed.
func (l *Loader) Watch(done <-chan struct{}) error {
	if l.path == "" {
		return errors.New("watch: no config file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	// Watch the directory: editors commonly replace the file on save.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	l.logger.Info("watching config file", "path", l.path)

	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			l.logger.Info("config change detected", "file", ev.Name, "op", ev.Op)
			cfg, err := l.Load()
			if err != nil {
				l.logger.Error("failed to reload config", "error", err)
				continue
			}
			if l.onChange != nil {
				l.onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("watcher error", "error", err)
		}
	}
}

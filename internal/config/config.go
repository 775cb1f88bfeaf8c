package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the config file
const (
	EnvAPIKey           = "MAILCAST_API_KEY"
	EnvAPIKeyHash       = "MAILCAST_API_KEY_HASH"
	EnvTelegramBotToken = "MAILCAST_TELEGRAM_BOT_TOKEN"
	EnvAMQPURL          = "MAILCAST_AMQP_URL"
	EnvKafkaBrokers     = "MAILCAST_KAFKA_BROKERS"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	Provider  ProviderConfig  `yaml:"provider"`
	DKIM      DKIMConfig      `yaml:"dkim"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"` // EHLO name for the SMTP provider
	BaseURL  string `yaml:"base_url"` // public URL used in tracking links
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig contains scheduled campaign settings
type SchedulerConfig struct {
	Enabled           *bool         `yaml:"enabled"` // default: true
	Interval          time.Duration `yaml:"interval"`
	LockFile          string        `yaml:"lock_file"`
	ResumeInterrupted bool          `yaml:"resume_interrupted"` // restart campaigns left in sending at startup
}

// IsEnabled reports whether the scheduler should run in this process
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// APIConfig contains HTTP control API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	APIKeyHash     string        `yaml:"api_key_hash"`     // bcrypt hash, see "mailcast apikey hash"
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
}

// ProviderConfig contains transport settings shared by all providers.
// Provider credentials live in storage and are managed through the API.
type ProviderConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DKIMConfig contains DKIM signing settings for the SMTP provider
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// NotifyConfig contains completion notification sinks
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	AMQP     AMQPConfig     `yaml:"amqp"`
}

// TelegramConfig contains Telegram bot settings
type TelegramConfig struct {
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Enabled reports whether the Telegram sink is configured
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != ""
}

// KafkaConfig contains Kafka producer settings
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether the Kafka sink is configured
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// AMQPConfig contains AMQP publisher settings
type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// Enabled reports whether the AMQP sink is configured
func (a AMQPConfig) Enabled() bool {
	return a.URL != ""
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // gauge refresh interval, default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file. A .env file next to it or in the
// working directory is loaded into the environment first; secrets from the
// environment override the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads the existing files among paths. Variables already set in the
// environment win.
func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv(EnvAPIKeyHash); v != "" {
		c.API.APIKeyHash = v
	}
	if v := os.Getenv(EnvTelegramBotToken); v != "" {
		c.Notify.Telegram.BotToken = v
	}
	if v := os.Getenv(EnvAMQPURL); v != "" {
		c.Notify.AMQP.URL = v
	}
	if v := os.Getenv(EnvKafkaBrokers); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Notify.Kafka.Brokers = brokers
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/mailcast/mailcast.db"
	}

	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = 60 * time.Second
	}
	if c.Scheduler.LockFile == "" {
		c.Scheduler.LockFile = c.Storage.Path + ".scheduler.lock"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 30 * time.Second
	}

	if c.Notify.Telegram.Timeout == 0 {
		c.Notify.Telegram.Timeout = 10 * time.Second
	}
	if c.Notify.Kafka.Topic == "" {
		c.Notify.Kafka.Topic = "mailcast.campaigns"
	}
	if c.Notify.AMQP.Queue == "" {
		c.Notify.AMQP.Queue = "mailcast.campaigns"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.API.APIKey == "" && c.API.APIKeyHash == "" {
		return fmt.Errorf("api.api_key or api.api_key_hash is required (or set %s)", EnvAPIKey)
	}

	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid server.base_url: %q (must be an absolute http or https URL)", c.Server.BaseURL)
		}
	}

	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval must be at least 1s")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateDKIM(); err != nil {
		return err
	}

	if err := c.validateNotify(); err != nil {
		return err
	}

	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	if !c.DKIM.Enabled {
		return nil
	}

	if c.DKIM.Selector == "" {
		return fmt.Errorf("dkim.selector is required when DKIM is enabled")
	}
	if c.DKIM.KeyFile == "" {
		return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
	}
	if c.DKIM.Domain == "" {
		return fmt.Errorf("dkim.domain is required when DKIM is enabled")
	}

	return nil
}

func (c *Config) validateNotify() error {
	if c.Notify.Telegram.Enabled() && c.Notify.Telegram.ChatID == "" {
		return fmt.Errorf("notify.telegram.chat_id is required when a bot token is set")
	}
	for _, b := range c.Notify.Kafka.Brokers {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("notify.kafka.brokers must not contain empty entries")
		}
	}
	if c.Notify.AMQP.Enabled() {
		u, err := url.Parse(c.Notify.AMQP.URL)
		if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			return fmt.Errorf("invalid notify.amqp.url (must be amqp:// or amqps://)")
		}
	}
	return nil
}

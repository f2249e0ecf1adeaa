package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath        = "HOMEVOICE_CONFIG"
	envBrokerDriver      = "HOMEVOICE_BROKER_DRIVER"
	envCacheDriver       = "HOMEVOICE_CACHE_DRIVER"
	envRabbitHost        = "RABBITMQ_HOST"
	envRabbitPort        = "RABBITMQ_PORT"
	envRabbitUser        = "RABBITMQ_USER"
	envRabbitPassword    = "RABBITMQ_PASSWORD"
	envRabbitVHost       = "RABBITMQ_VHOST"
	envRedisHost         = "REDIS_HOST"
	envRedisPort         = "REDIS_PORT"
	envRedisDB           = "REDIS_ACCOUNT_EVENTS_DB"
	envRedisPassword     = "REDIS_PASSWORD"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envLegacyBotToken    = "BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

const (
	BrokerMemory = "memory"
	BrokerAMQP   = "amqp"

	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheSQLite = "sqlite"
)

// Config is the root runtime configuration shared by the bot and stt processes.
type Config struct {
	Broker   BrokerConfig   `json:"broker" yaml:"broker"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Queues   QueuesConfig   `json:"queues" yaml:"queues"`
	Channels ChannelsConfig `json:"channels" yaml:"channels"`
	STT      STTConfig      `json:"stt" yaml:"stt"`
	Audio    AudioConfig    `json:"audio" yaml:"audio"`
	Worker   WorkerConfig   `json:"worker" yaml:"worker"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
	File      string `json:"file,omitempty" yaml:"file,omitempty"`
}

// BrokerConfig selects the queue transport and its connection settings.
type BrokerConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	VHost    string `json:"vhost" yaml:"vhost"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
	// MaxDeliveries bounds redelivery on the in-process broker.
	MaxDeliveries int `json:"max_deliveries" yaml:"max_deliveries"`
}

// CacheConfig selects the payload cache backend.
type CacheConfig struct {
	Driver            string      `json:"driver" yaml:"driver"`
	Redis             RedisConfig `json:"redis" yaml:"redis"`
	SQLitePath        string      `json:"sqlite_path" yaml:"sqlite_path"`
	PayloadTTLSeconds int         `json:"payload_ttl_seconds" yaml:"payload_ttl_seconds"`
}

// RedisConfig configures the redis cache driver.
type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	DB       int    `json:"db" yaml:"db"`
	Password string `json:"password" yaml:"password"`
}

// QueuesConfig names the three pipeline queues.
type QueuesConfig struct {
	Command string `json:"command" yaml:"command"`
	Success string `json:"success" yaml:"success"`
	Error   string `json:"error" yaml:"error"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allow_from" yaml:"allow_from"`
}

// STTConfig configures the transcription backend.
type STTConfig struct {
	Provider              string `json:"provider" yaml:"provider"`
	Model                 string `json:"model" yaml:"model"`
	Language              string `json:"language,omitempty" yaml:"language,omitempty"`
	BaseURL               string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv             string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	TimeoutSeconds        int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// AudioConfig configures the audio normalizer.
type AudioConfig struct {
	FFmpegPath               string `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	ConversionTimeoutSeconds int    `json:"conversion_timeout_seconds" yaml:"conversion_timeout_seconds"`
	SampleRate               int    `json:"sample_rate" yaml:"sample_rate"`
	Channels                 int    `json:"channels" yaml:"channels"`
}

// WorkerConfig configures the dispatch worker pool.
type WorkerConfig struct {
	Concurrency     int `json:"concurrency" yaml:"concurrency"`
	PublishAttempts int `json:"publish_attempts" yaml:"publish_attempts"`
}

// GatewayConfig configures the bot-side HTTP API.
type GatewayConfig struct {
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port"`
	NotifyErrors  bool   `json:"notify_errors" yaml:"notify_errors"`
	MaxAudioBytes int64  `json:"max_audio_bytes" yaml:"max_audio_bytes"`
}

// Defaults returns a configuration that runs the whole pipeline in one process.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			Driver:        BrokerMemory,
			Host:          "localhost",
			Port:          5672,
			User:          "guest",
			Password:      "guest",
			VHost:         "/",
			Prefetch:      8,
			MaxDeliveries: 5,
		},
		Cache: CacheConfig{
			Driver:            CacheMemory,
			Redis:             RedisConfig{Host: "localhost", Port: 6379},
			SQLitePath:        "homevoice-cache.db",
			PayloadTTLSeconds: 900,
		},
		Queues: QueuesConfig{
			Command: "stt_command",
			Success: "nlu_command",
			Error:   "error_queue",
		},
		STT: STTConfig{
			Provider:              "openai",
			Model:                 "whisper-1",
			RequestTimeoutSeconds: 60,
			TimeoutSeconds:        120,
		},
		Audio: AudioConfig{
			FFmpegPath:               "ffmpeg",
			ConversionTimeoutSeconds: 30,
			SampleRate:               16000,
			Channels:                 1,
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			PublishAttempts: 3,
		},
		Gateway: GatewayConfig{
			Host:          "0.0.0.0",
			Port:          18790,
			MaxAudioBytes: 20 << 20,
		},
	}
}

// PayloadTTL is the expiry applied to staged payloads; zero means none.
func (c CacheConfig) PayloadTTL() time.Duration {
	if c.PayloadTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.PayloadTTLSeconds) * time.Second
}

// Addr returns host:port for the redis driver.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Timeout bounds one transcription call.
func (c STTConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConversionTimeout bounds one ffmpeg invocation.
func (c AudioConfig) ConversionTimeout() time.Duration {
	return time.Duration(c.ConversionTimeoutSeconds) * time.Second
}

// AMQPURL returns the configured URL or assembles one from its parts.
func (c BrokerConfig) AMQPURL() string {
	if value := strings.TrimSpace(c.URL); value != "" {
		return value
	}

	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}

	// The vhost is one path segment, so "/" is sent as %2F.
	return fmt.Sprintf("amqp://%s@%s/%s",
		url.UserPassword(c.User, c.Password).String(),
		net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		url.PathEscape(vhost),
	)
}

// Validate reports the first setting that would prevent the pipeline from starting.
func (c *Config) Validate() error {
	switch c.Broker.Driver {
	case BrokerMemory, BrokerAMQP:
	default:
		return fmt.Errorf("broker.driver %q is not supported", c.Broker.Driver)
	}

	switch c.Cache.Driver {
	case CacheMemory, CacheRedis, CacheSQLite:
	default:
		return fmt.Errorf("cache.driver %q is not supported", c.Cache.Driver)
	}

	if c.Cache.Driver == CacheSQLite && strings.TrimSpace(c.Cache.SQLitePath) == "" {
		return errors.New("cache.sqlite_path is required for the sqlite driver")
	}

	queues := []string{c.Queues.Command, c.Queues.Success, c.Queues.Error}
	for _, name := range queues {
		if strings.TrimSpace(name) == "" {
			return errors.New("queues.command, queues.success and queues.error are required")
		}
	}
	if c.Queues.Command == c.Queues.Success || c.Queues.Command == c.Queues.Error || c.Queues.Success == c.Queues.Error {
		return errors.New("queue names must be distinct")
	}

	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be positive")
	}

	return nil
}

// LoadConfig overlays the resolved config file on Defaults and applies environment overrides.
func LoadConfig() (*Config, error) {
	cfg := Defaults()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := decode(configPath, content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(content, cfg)
	default:
		return json.Unmarshal(content, cfg)
	}
}

// applyEnvOverrides injects deployment settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	setString(&cfg.Broker.Driver, envBrokerDriver)
	setString(&cfg.Cache.Driver, envCacheDriver)

	setString(&cfg.Broker.Host, envRabbitHost)
	setString(&cfg.Broker.User, envRabbitUser)
	setString(&cfg.Broker.Password, envRabbitPassword)
	setString(&cfg.Broker.VHost, envRabbitVHost)
	if err := setInt(&cfg.Broker.Port, envRabbitPort); err != nil {
		return err
	}

	setString(&cfg.Cache.Redis.Host, envRedisHost)
	setString(&cfg.Cache.Redis.Password, envRedisPassword)
	if err := setInt(&cfg.Cache.Redis.Port, envRedisPort); err != nil {
		return err
	}
	if err := setInt(&cfg.Cache.Redis.DB, envRedisDB); err != nil {
		return err
	}

	setString(&cfg.Channels.Telegram.Token, envLegacyBotToken)
	setString(&cfg.Channels.Telegram.Token, envTelegramBotToken)

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	return nil
}

func setString(dst *string, env string) {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		*dst = value
	}
}

func setInt(dst *int, env string) error {
	value := strings.TrimSpace(os.Getenv(env))
	if value == "" {
		return nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", env, err)
	}
	*dst = parsed

	return nil
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is HOMEVOICE_CONFIG first, then cwd-local fallback paths. An empty
// path without error means no file exists and defaults apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}

// Package config provides configuration management for the Mission Control client.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	API     APIConfig     `mapstructure:"api"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Events  EventsConfig  `mapstructure:"events"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the local status server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// APIConfig holds the backend request client configuration.
type APIConfig struct {
	BaseURL       string `mapstructure:"baseUrl"`
	Timeout       int    `mapstructure:"timeout"` // per attempt, in milliseconds
	RetryAttempts int    `mapstructure:"retryAttempts"`
	RetryDelay    int    `mapstructure:"retryDelay"` // in milliseconds
}

// StreamConfig holds the live event stream configuration.
type StreamConfig struct {
	URL              string `mapstructure:"url"`
	ProjectID        int64  `mapstructure:"projectId"`
	InitialDelay     int    `mapstructure:"initialDelay"` // in milliseconds
	MaxDelay         int    `mapstructure:"maxDelay"`     // in milliseconds
	Jitter           int    `mapstructure:"jitter"`       // in milliseconds
	MaxRetries       int    `mapstructure:"maxRetries"`
	BufferSize       int    `mapstructure:"bufferSize"`
	HandshakeTimeout int    `mapstructure:"handshakeTimeout"` // in milliseconds
}

// EventsConfig holds event bus configuration. An empty NATSURL selects the
// in-memory bus.
type EventsConfig struct {
	NATSURL       string `mapstructure:"natsUrl"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
	SubjectPrefix string `mapstructure:"subjectPrefix"`
}

// ArchiveConfig holds the optional message archive configuration.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns the listen address of the status server.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TimeoutDuration returns the per-attempt request timeout.
func (a *APIConfig) TimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Millisecond
}

// RetryDelayDuration returns the base retry delay.
func (a *APIConfig) RetryDelayDuration() time.Duration {
	return time.Duration(a.RetryDelay) * time.Millisecond
}

// InitialDelayDuration returns the first reconnect delay.
func (s *StreamConfig) InitialDelayDuration() time.Duration {
	return time.Duration(s.InitialDelay) * time.Millisecond
}

// MaxDelayDuration returns the reconnect delay ceiling.
func (s *StreamConfig) MaxDelayDuration() time.Duration {
	return time.Duration(s.MaxDelay) * time.Millisecond
}

// JitterDuration returns the upper bound of the random reconnect jitter.
func (s *StreamConfig) JitterDuration() time.Duration {
	return time.Duration(s.Jitter) * time.Millisecond
}

// HandshakeTimeoutDuration returns the WebSocket handshake timeout.
func (s *StreamConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(s.HandshakeTimeout) * time.Millisecond
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("MISSIONCONTROL_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8890)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("api.baseUrl", "http://localhost:8888")
	v.SetDefault("api.timeout", 10000)
	v.SetDefault("api.retryAttempts", 3)
	v.SetDefault("api.retryDelay", 1000)

	v.SetDefault("stream.url", "ws://localhost:8888/ws")
	v.SetDefault("stream.projectId", 0)
	v.SetDefault("stream.initialDelay", 1000)
	v.SetDefault("stream.maxDelay", 30000)
	v.SetDefault("stream.jitter", 1000)
	v.SetDefault("stream.maxRetries", 5)
	v.SetDefault("stream.bufferSize", 100)
	v.SetDefault("stream.handshakeTimeout", 10000)

	// Empty URL means use the in-memory event bus
	v.SetDefault("events.natsUrl", "")
	v.SetDefault("events.clientId", "missioncontrol")
	v.SetDefault("events.maxReconnects", 10)
	v.SetDefault("events.subjectPrefix", "missioncontrol")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "~/.missioncontrol/archive.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix MISSIONCONTROL_ with the key path
// upper-cased and dots replaced by underscores (MISSIONCONTROL_API_BASEURL).
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MISSIONCONTROL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The dashboard historically read these names; keep honouring them.
	_ = v.BindEnv("api.baseUrl", "MISSIONCONTROL_API_BASEURL", "NEXT_PUBLIC_API_URL")
	_ = v.BindEnv("stream.url", "MISSIONCONTROL_STREAM_URL", "NEXT_PUBLIC_WS_URL")
	_ = v.BindEnv("stream.projectId", "MISSIONCONTROL_STREAM_PROJECTID", "MISSIONCONTROL_PROJECT_ID")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/missioncontrol/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all configuration fields are usable.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if !isAbsoluteURL(cfg.API.BaseURL, "http", "https") {
		errs = append(errs, "api.baseUrl must be an absolute http(s) URL")
	}
	if cfg.API.Timeout <= 0 {
		errs = append(errs, "api.timeout must be positive")
	}
	if cfg.API.RetryAttempts < 0 {
		errs = append(errs, "api.retryAttempts must not be negative")
	}
	if cfg.API.RetryDelay < 0 {
		errs = append(errs, "api.retryDelay must not be negative")
	}

	if !isAbsoluteURL(cfg.Stream.URL, "ws", "wss", "http", "https") {
		errs = append(errs, "stream.url must be an absolute ws(s) URL")
	}
	if cfg.Stream.ProjectID < 0 {
		errs = append(errs, "stream.projectId must not be negative")
	}
	if cfg.Stream.InitialDelay <= 0 {
		errs = append(errs, "stream.initialDelay must be positive")
	}
	if cfg.Stream.MaxDelay < cfg.Stream.InitialDelay {
		errs = append(errs, "stream.maxDelay must be at least stream.initialDelay")
	}
	if cfg.Stream.Jitter < 0 {
		errs = append(errs, "stream.jitter must not be negative")
	}
	if cfg.Stream.MaxRetries < 0 {
		errs = append(errs, "stream.maxRetries must not be negative")
	}
	if cfg.Stream.BufferSize <= 0 {
		errs = append(errs, "stream.bufferSize must be positive")
	}

	if cfg.Archive.Enabled && cfg.Archive.Path == "" {
		errs = append(errs, "archive.path is required when archive.enabled is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func isAbsoluteURL(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}

// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (ATELIER_ prefix, runtime override)
//  2. Config file (~/.atelier/config.yaml or an explicit path)
//  3. Default values
//
// Sensitive values (database password, auth token, API keys) are never logged.
// Validation uses sentinel errors so callers can match with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidListenAddr indicates the HTTP listen address is malformed.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidArtifactDir indicates the artifact blob directory is unset.
	ErrInvalidArtifactDir = errors.New("invalid artifact directory")

	// ErrInvalidHistoryWindow indicates the history window bound is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidHeartbeat indicates the SSE heartbeat interval is out of range.
	ErrInvalidHeartbeat = errors.New("invalid heartbeat interval")

	// ErrMissingAPIKey indicates the model API key is required but missing.
	ErrMissingAPIKey = errors.New("missing API key")
)

// Server holds HTTP server settings.
type Server struct {
	Addr        string   `mapstructure:"addr"`
	AuthToken   string   `mapstructure:"auth_token"`   // empty disables bearer auth (dev only)
	CORSOrigins []string `mapstructure:"cors_origins"` // allowed origins, empty = same-origin only
	RateBurst   int      `mapstructure:"rate_burst"`   // per-IP token bucket burst
	TrustProxy  bool     `mapstructure:"trust_proxy"`  // honor X-Forwarded-For
}

// Storage holds PostgreSQL connection settings.
type Storage struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles the pgx connection string.
func (s Storage) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.DBName, s.SSLMode)
}

// Artifacts holds blob storage settings for generated images.
type Artifacts struct {
	Dir     string `mapstructure:"dir"`      // filesystem root for binaries
	BaseURL string `mapstructure:"base_url"` // public prefix, default /api/v1/artifacts
}

// Agent holds agent-loop and tool settings.
type Agent struct {
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	HistoryWindow     int           `mapstructure:"history_window"`     // prior messages fed to the loop
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // SSE keep-alive period
	MaxToolRounds     int           `mapstructure:"max_tool_rounds"`    // function-calling iteration bound
	GenerateEndpoint  string        `mapstructure:"generate_endpoint"`  // image generation tool backend
	AnalyzeEndpoint   string        `mapstructure:"analyze_endpoint"`   // image analysis tool backend
	ScrapeMaxBytes    int64         `mapstructure:"scrape_max_bytes"`
}

// Log holds logging settings.
type Log struct {
	Level string `mapstructure:"level"` // debug|info|warn|error
	JSON  bool   `mapstructure:"json"`
}

// Config is the root configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Storage   Storage   `mapstructure:"storage"`
	Artifacts Artifacts `mapstructure:"artifacts"`
	Agent     Agent     `mapstructure:"agent"`
	Log       Log       `mapstructure:"log"`
}

// Load reads configuration from the given file path (or the default location
// when path is empty), layered under environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ATELIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".atelier"))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			// Missing default file is fine; defaults + env apply.
			var notFound viper.ConfigFileNotFoundError
			if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Secrets and optional endpoints default to empty so AutomaticEnv can
	// still resolve them; viper only consults the environment for keys it
	// already knows about.
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.rate_burst", 60)
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("storage.host", "localhost")
	v.SetDefault("storage.port", 5432)
	v.SetDefault("storage.user", "atelier")
	v.SetDefault("storage.password", "")
	v.SetDefault("storage.dbname", "atelier")
	v.SetDefault("storage.sslmode", "disable")

	v.SetDefault("artifacts.dir", defaultArtifactDir())
	v.SetDefault("artifacts.base_url", "/api/v1/artifacts")

	v.SetDefault("agent.model", "gemini-2.5-flash")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.history_window", 40)
	v.SetDefault("agent.heartbeat_interval", 15*time.Second)
	v.SetDefault("agent.max_tool_rounds", 8)
	v.SetDefault("agent.generate_endpoint", "")
	v.SetDefault("agent.analyze_endpoint", "")
	v.SetDefault("agent.scrape_max_bytes", int64(10<<20))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

func defaultArtifactDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "artifacts"
	}
	return filepath.Join(home, ".atelier", "artifacts")
}

// Validate checks configuration ranges. Returns a sentinel-wrapped error on
// the first violation found.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidListenAddr)
	}
	if c.Storage.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidPostgresHost)
	}
	if c.Storage.Port < 1 || c.Storage.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.Storage.Port)
	}
	if c.Storage.DBName == "" {
		return fmt.Errorf("%w: empty dbname", ErrInvalidPostgresDBName)
	}
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("%w: empty dir", ErrInvalidArtifactDir)
	}
	if c.Agent.HistoryWindow < 1 || c.Agent.HistoryWindow > 1000 {
		return fmt.Errorf("%w: %d (want 1-1000)", ErrInvalidHistoryWindow, c.Agent.HistoryWindow)
	}
	if c.Agent.HeartbeatInterval < time.Second || c.Agent.HeartbeatInterval > 5*time.Minute {
		return fmt.Errorf("%w: %s (want 1s-5m)", ErrInvalidHeartbeat, c.Agent.HeartbeatInterval)
	}
	return nil
}

// SlogLevel maps the configured level string onto slog levels.
// Unknown values fall back to info.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

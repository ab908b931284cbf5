package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Mentor    MentorConfig    `yaml:"mentor"`
	Redis     RedisConfig     `yaml:"redis"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`

	// TrustProxyHeaders keys rate limits on X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type OAuthConfig struct {
	BaseURL         string `yaml:"base_url"`
	AppName         string `yaml:"app_name"`
	AppDisplayName  string `yaml:"app_display_name"`
	AppDescription  string `yaml:"app_description"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	RegisterApp     bool   `yaml:"register_app"`
}

type MentorConfig struct {
	// DefaultMaxStudents applies to mentors without a prime row. -1 is unlimited.
	DefaultMaxStudents int `yaml:"default_max_students"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	AuthPerMinute int    `yaml:"auth_per_minute"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Timeout returns the OAuth request timeout.
func (o OAuthConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long a validated token is trusted without asking the proxy.
func (o OAuthConfig) CacheTTL() time.Duration {
	return time.Duration(o.CacheTTLSeconds) * time.Second
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		OAuth: OAuthConfig{
			AppName:         "njktraining",
			TimeoutSeconds:  10,
			CacheTTLSeconds: 60,
		},
		Mentor: MentorConfig{DefaultMaxStudents: -1},
		Redis:  RedisConfig{AuthPerMinute: 30},
		Log:    LogConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 3},
	}
}

// Load reads config from a YAML file, then applies environment variable overrides.
// Env vars use the prefix NJK_ and underscore-separated paths:
//
//	NJK_SERVER_HOST, NJK_SERVER_PORT, NJK_SERVER_STATIC_DIR, NJK_SERVER_TRUST_PROXY_HEADERS,
//	NJK_DB_HOST, NJK_DB_PORT, NJK_DB_NAME, NJK_DB_USER, NJK_DB_PASSWORD, NJK_DB_SSLMODE,
//	NJK_OAUTH_BASE_URL, NJK_OAUTH_APP_NAME, NJK_OAUTH_CACHE_TTL_SECONDS,
//	NJK_MENTOR_DEFAULT_MAX_STUDENTS, NJK_REDIS_ADDR, NJK_REDIS_PASSWORD,
//	NJK_TAILSCALE_ENABLED, NJK_LOG_LEVEL, NJK_LOG_FILE, NJK_METRICS_ENABLED
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	envString("NJK_SERVER_HOST", &cfg.Server.Host)
	envInt("NJK_SERVER_PORT", &cfg.Server.Port)
	envString("NJK_SERVER_STATIC_DIR", &cfg.Server.StaticDir)
	envBool("NJK_SERVER_TRUST_PROXY_HEADERS", &cfg.Server.TrustProxyHeaders)

	envString("NJK_DB_HOST", &cfg.Database.Host)
	envInt("NJK_DB_PORT", &cfg.Database.Port)
	envString("NJK_DB_NAME", &cfg.Database.Name)
	envString("NJK_DB_USER", &cfg.Database.User)
	envString("NJK_DB_PASSWORD", &cfg.Database.Password)
	envString("NJK_DB_SSLMODE", &cfg.Database.SSLMode)

	envString("NJK_OAUTH_BASE_URL", &cfg.OAuth.BaseURL)
	envString("NJK_OAUTH_APP_NAME", &cfg.OAuth.AppName)
	envInt("NJK_OAUTH_CACHE_TTL_SECONDS", &cfg.OAuth.CacheTTLSeconds)

	envInt("NJK_MENTOR_DEFAULT_MAX_STUDENTS", &cfg.Mentor.DefaultMaxStudents)

	envString("NJK_REDIS_ADDR", &cfg.Redis.Addr)
	envString("NJK_REDIS_PASSWORD", &cfg.Redis.Password)

	envBool("NJK_TAILSCALE_ENABLED", &cfg.Tailscale.Enabled)

	envString("NJK_LOG_LEVEL", &cfg.Log.Level)
	envString("NJK_LOG_FILE", &cfg.Log.File)

	envBool("NJK_METRICS_ENABLED", &cfg.Metrics.Enabled)
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.OAuth.BaseURL == "" {
		return fmt.Errorf("oauth.base_url is required")
	}
	if !strings.HasPrefix(c.OAuth.BaseURL, "http://") && !strings.HasPrefix(c.OAuth.BaseURL, "https://") {
		return fmt.Errorf("oauth.base_url must be an http(s) URL")
	}
	if c.Mentor.DefaultMaxStudents < -1 {
		return fmt.Errorf("mentor.default_max_students must be -1 or greater")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	return nil
}

// Package config loads server configuration from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env     string        `yaml:"env"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Uploads UploadsConfig `yaml:"uploads"`
	Push    PushConfig    `yaml:"push"`
	Admin   AdminConfig   `yaml:"admin"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	EnableScenarios bool     `yaml:"enable_scenarios"`
	TrustProxy      bool     `yaml:"trust_proxy"`
}

// StoreConfig selects persistence: Postgres when DatabaseURL is set, SQLite otherwise.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type SessionConfig struct {
	Secret     string        `yaml:"secret"`
	TTLMinutes int           `yaml:"ttl_minutes"`
	TTL        time.Duration `yaml:"-"`
	CookieName string        `yaml:"cookie_name"`
}

type UploadsConfig struct {
	Dir string `yaml:"dir"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey      string `yaml:"vapid_public_key"`
	PrivateKey     string `yaml:"vapid_private_key"`
	Subject        string `yaml:"subject"`
	TTL            int    `yaml:"ttl"`
	WorkerPoolSize int    `yaml:"worker_pool_size"`
	QueueSize      int    `yaml:"queue_size"`
}

// AdminConfig seeds the global admin account at startup. Registration
// never creates admins.
type AdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Enabled reports whether VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads path (if non-empty), applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Env = getEnv("APP_ENV", c.Env)
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Store.DatabaseURL = getEnv("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Session.Secret = getEnv("SESSION_SECRET", c.Session.Secret)
	c.Uploads.Dir = getEnv("UPLOAD_DIR", c.Uploads.Dir)
	c.Push.PublicKey = getEnv("VAPID_PUBLIC_KEY", c.Push.PublicKey)
	c.Push.PrivateKey = getEnv("VAPID_PRIVATE_KEY", c.Push.PrivateKey)
	c.Admin.Email = getEnv("ADMIN_EMAIL", c.Admin.Email)
	c.Admin.Password = getEnv("ADMIN_PASSWORD", c.Admin.Password)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	if v := os.Getenv("TRUST_PROXY"); v != "" {
		c.Server.TrustProxy, _ = strconv.ParseBool(v)
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Port <= 0 {
		c.Server.Port = 5000
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:5000", "http://localhost:5173"}
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 20
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "hibridge.db"
	}
	if c.Session.TTLMinutes <= 0 {
		c.Session.TTLMinutes = 24 * 60
	}
	c.Session.TTL = time.Duration(c.Session.TTLMinutes) * time.Minute
	if c.Session.CookieName == "" {
		c.Session.CookieName = "hibridge_session"
	}
	if c.Session.Secret == "" && !c.Production() {
		c.Session.Secret = "hibridge-dev-secret"
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "uploads"
	}
	if c.Push.Subject == "" {
		c.Push.Subject = "mailto:admin@hibridge.local"
	}
	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}
	if c.Push.WorkerPoolSize <= 0 {
		c.Push.WorkerPoolSize = 1
	}
	if c.Push.QueueSize <= 0 {
		c.Push.QueueSize = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	// Scenarios load demo data; never on in production.
	if c.Production() {
		c.Server.EnableScenarios = false
	} else if v := os.Getenv("ENABLE_SCENARIOS"); v != "" {
		c.Server.EnableScenarios, _ = strconv.ParseBool(v)
	}
}

// Validate rejects configurations the server must not start with.
func (c Config) Validate() error {
	var errs []error
	if c.Session.Secret == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required in production"))
	} else if c.Production() && len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 characters in production"))
	}
	if c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	if (c.Push.PublicKey == "") != (c.Push.PrivateKey == "") {
		errs = append(errs, errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together"))
	}
	if c.Admin.Email != "" && len(c.Admin.Password) < 8 {
		errs = append(errs, errors.New("ADMIN_PASSWORD must be at least 8 characters"))
	}
	return errors.Join(errs...)
}

// LogLevel maps the configured level name to slog.
func (c Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

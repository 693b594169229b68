// Package config loads service configuration from SCHEDULER_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key.
const EnvPrefix = "SCHEDULER"

// Storage and cache drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	CacheMemory    = "memory"
	CacheRedis     = "redis"
)

// Config captures environment driven configuration values for the scheduler service.
type Config struct {
	HTTPPort int `mapstructure:"HTTP_PORT"`

	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	SQLiteDSN     string `mapstructure:"SQLITE_DSN"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`

	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	JWTIssuer      string        `mapstructure:"JWT_ISSUER"`
	AccessTokenTTL time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	SessionTTL     time.Duration `mapstructure:"SESSION_TTL"`
	RevokeOnReuse  bool          `mapstructure:"REVOKE_ON_REUSE"`
	ReuseGrace     time.Duration `mapstructure:"REUSE_GRACE"`

	SlotDuration       time.Duration `mapstructure:"SLOT_DURATION"`
	SlotPreserveBooked bool          `mapstructure:"SLOT_PRESERVE_BOOKED"`

	CacheDriver      string        `mapstructure:"CACHE_DRIVER"`
	RedisAddr        string        `mapstructure:"REDIS_ADDR"`
	RedisPassword    string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int           `mapstructure:"REDIS_DB"`
	SessionStatusTTL time.Duration `mapstructure:"SESSION_STATUS_TTL"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	MetricsEnabled bool     `mapstructure:"METRICS_ENABLED"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var defaults = map[string]any{
	"HTTP_PORT":            8080,
	"STORAGE_DRIVER":       DriverSQLite,
	"SQLITE_DSN":           "scheduler.db",
	"DATABASE_URL":         "",
	"JWT_SECRET":           "",
	"JWT_ISSUER":           "clinic-scheduler",
	"ACCESS_TOKEN_TTL":     "15m",
	"SESSION_TTL":          "168h",
	"REVOKE_ON_REUSE":      true,
	"REUSE_GRACE":          "30s",
	"SLOT_DURATION":        "1h",
	"SLOT_PRESERVE_BOOKED": false,
	"CACHE_DRIVER":         CacheMemory,
	"REDIS_ADDR":           "localhost:6379",
	"REDIS_PASSWORD":       "",
	"REDIS_DB":             0,
	"SESSION_STATUS_TTL":   "30s",
	"CORS_ORIGINS":         "http://localhost:5173,http://localhost:3000",
	"METRICS_ENABLED":      true,
	"LOG_LEVEL":            "info",
	"LOG_FORMAT":           "json",
}

// Load reads configuration from the process environment. Values in a .env
// file in the working directory are used for variables that are not already
// set.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.CacheDriver = strings.ToLower(strings.TrimSpace(cfg.CacheDriver))
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports missing required values and invalid combinations.
func (c Config) Validate() error {
	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	if c.JWTSecret == "" {
		missing = append(missing, key("JWT_SECRET"))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		invalid = append(invalid, key("HTTP_PORT"))
	}

	switch c.StorageDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLiteDSN) == "" {
			missing = append(missing, key("SQLITE_DSN"))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			missing = append(missing, key("DATABASE_URL"))
		}
	default:
		invalid = append(invalid, key("STORAGE_DRIVER"))
	}

	switch c.CacheDriver {
	case CacheMemory:
	case CacheRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			missing = append(missing, key("REDIS_ADDR"))
		}
	default:
		invalid = append(invalid, key("CACHE_DRIVER"))
	}

	if c.AccessTokenTTL <= 0 {
		invalid = append(invalid, key("ACCESS_TOKEN_TTL"))
	}
	if c.SessionTTL <= 0 || c.SessionTTL < c.AccessTokenTTL {
		invalid = append(invalid, key("SESSION_TTL"))
	}
	if c.ReuseGrace < 0 {
		invalid = append(invalid, key("REUSE_GRACE"))
	}
	if c.SlotDuration <= 0 || c.SlotDuration%time.Minute != 0 {
		invalid = append(invalid, key("SLOT_DURATION"))
	}
	if c.SessionStatusTTL < 0 {
		invalid = append(invalid, key("SESSION_STATUS_TTL"))
	}

	if len(missing) > 0 {
		return fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func key(name string) string {
	return EnvPrefix + "_" + name
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

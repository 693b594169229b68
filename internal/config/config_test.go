package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"HTTP_PORT", "STORAGE_DRIVER", "SQLITE_DSN", "DATABASE_URL", "JWT_SECRET",
	"JWT_ISSUER", "ACCESS_TOKEN_TTL", "SESSION_TTL", "REVOKE_ON_REUSE", "REUSE_GRACE",
	"SLOT_DURATION", "SLOT_PRESERVE_BOOKED", "CACHE_DRIVER", "REDIS_ADDR",
	"REDIS_PASSWORD", "REDIS_DB", "SESSION_STATUS_TTL", "CORS_ORIGINS",
	"METRICS_ENABLED", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv unsets every key for the duration of the test. t.Setenv registers
// the restore; Unsetenv then removes the variable.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(key(k), "")
		require.NoError(t, os.Unsetenv(key(k)))
	}
}

func TestLoad(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_JWT_SECRET", "super-secret")

		cfg, err := LoadFile("")
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.HTTPPort)
		assert.Equal(t, ":8080", cfg.Addr())
		assert.Equal(t, DriverSQLite, cfg.StorageDriver)
		assert.Equal(t, "scheduler.db", cfg.SQLiteDSN)
		assert.Equal(t, "super-secret", cfg.JWTSecret)
		assert.Equal(t, "clinic-scheduler", cfg.JWTIssuer)
		assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
		assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
		assert.True(t, cfg.RevokeOnReuse)
		assert.Equal(t, 30*time.Second, cfg.ReuseGrace)
		assert.Equal(t, time.Hour, cfg.SlotDuration)
		assert.False(t, cfg.SlotPreserveBooked)
		assert.Equal(t, CacheMemory, cfg.CacheDriver)
		assert.Equal(t, 30*time.Second, cfg.SessionStatusTTL)
		assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.CORSOrigins)
		assert.True(t, cfg.MetricsEnabled)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("reads overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_JWT_SECRET", "s")
		t.Setenv("SCHEDULER_HTTP_PORT", "9090")
		t.Setenv("SCHEDULER_STORAGE_DRIVER", "Postgres")
		t.Setenv("SCHEDULER_DATABASE_URL", "postgres://u:p@localhost/db")
		t.Setenv("SCHEDULER_ACCESS_TOKEN_TTL", "5m")
		t.Setenv("SCHEDULER_REVOKE_ON_REUSE", "false")
		t.Setenv("SCHEDULER_REUSE_GRACE", "5s")
		t.Setenv("SCHEDULER_SLOT_DURATION", "30m")
		t.Setenv("SCHEDULER_SLOT_PRESERVE_BOOKED", "true")
		t.Setenv("SCHEDULER_CACHE_DRIVER", "redis")
		t.Setenv("SCHEDULER_REDIS_DB", "2")
		t.Setenv("SCHEDULER_CORS_ORIGINS", "https://a.example, https://b.example")

		cfg, err := LoadFile("")
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.HTTPPort)
		assert.Equal(t, DriverPostgres, cfg.StorageDriver)
		assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
		assert.False(t, cfg.RevokeOnReuse)
		assert.Equal(t, 5*time.Second, cfg.ReuseGrace)
		assert.Equal(t, 30*time.Minute, cfg.SlotDuration)
		assert.True(t, cfg.SlotPreserveBooked)
		assert.Equal(t, CacheRedis, cfg.CacheDriver)
		assert.Equal(t, 2, cfg.RedisDB)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)

		_, err := LoadFile("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SCHEDULER_JWT_SECRET")
	})

	t.Run("errors on postgres without url", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_JWT_SECRET", "s")
		t.Setenv("SCHEDULER_STORAGE_DRIVER", "postgres")

		_, err := LoadFile("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SCHEDULER_DATABASE_URL")
	})

	t.Run("errors on invalid values", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_JWT_SECRET", "s")
		t.Setenv("SCHEDULER_HTTP_PORT", "-1")
		t.Setenv("SCHEDULER_SLOT_DURATION", "90s")
		t.Setenv("SCHEDULER_REUSE_GRACE", "-1s")
		t.Setenv("SCHEDULER_CACHE_DRIVER", "memcached")

		_, err := LoadFile("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SCHEDULER_HTTP_PORT")
		assert.Contains(t, err.Error(), "SCHEDULER_SLOT_DURATION")
		assert.Contains(t, err.Error(), "SCHEDULER_REUSE_GRACE")
		assert.Contains(t, err.Error(), "SCHEDULER_CACHE_DRIVER")
	})

	t.Run("reads dotenv without overriding the environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_HTTP_PORT", "7000")

		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("SCHEDULER_JWT_SECRET=from-file\nSCHEDULER_HTTP_PORT=6000\n"), 0o600))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "from-file", cfg.JWTSecret)
		assert.Equal(t, 7000, cfg.HTTPPort)
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.json")}, env(nil))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "local", cfg.BlobDriver)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout.Duration)
	assert.Equal(t, "firecms.notifications", cfg.NATSSubject)
	assert.Equal(t, 10, cfg.DBMaxConns)
	assert.Equal(t, 30*time.Minute, cfg.DBConnLifetime.Duration)
}

func TestLoad_Layering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"port": "9000",
		"dbUrl": "postgres://json",
		"pageSize": 25,
		"shutdownTimeout": 500,
		"dbMaxConns": 4,
		"logLevel": "debug"
	}`), 0o644))

	cfg, err := Load([]string{"-config", path, "-port", "9100", "-auto-migrate", "yes"}, env(map[string]string{
		"FIRECMS_PORT":             "9050",
		"FIRECMS_DB_URL":           "postgres://env",
		"FIRECMS_SHUTDOWN_TIMEOUT": "1s",
		"FIRECMS_NATS_URL":         "  ",
		"FIRECMS_DB_CONN_LIFETIME": "5m",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "postgres://env", cfg.DBURL)
	assert.Equal(t, 25, cfg.PageSize)
	assert.Equal(t, time.Second, cfg.ShutdownTimeout.Duration)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.AutoMigrate)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 4, cfg.DBMaxConns)
	assert.Equal(t, 5*time.Minute, cfg.DBConnLifetime.Duration)
}

func TestLoad_JSONDurationString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"shutdownTimeout": "750ms"}`), 0o644))
	cfg, err := Load([]string{"-config", path}, env(nil))
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.ShutdownTimeout.Duration)
}

func TestLoad_Invalid(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.json")
	_, err := Load([]string{"-config", missing, "-blob-driver", "ftp"}, env(nil))
	assert.Error(t, err)

	_, err = Load([]string{"-config", missing, "-blob-driver", "s3"}, env(nil))
	assert.ErrorContains(t, err, "S3Bucket")

	_, err = Load([]string{"-config", missing}, env(map[string]string{"FIRECMS_PAGE_SIZE": "many"}))
	assert.ErrorContains(t, err, "FIRECMS_PAGE_SIZE")

	_, err = Load([]string{"-config", missing, "-auto-migrate", "maybe"}, env(nil))
	assert.ErrorContains(t, err, "-auto-migrate")

	_, err = Load([]string{"-config", missing, "-db-max-conns", "0"}, env(nil))
	assert.ErrorContains(t, err, "DBMaxConns")

	_, err = Load([]string{"-config", missing, "-db-conn-lifetime", "0s"}, env(nil))
	assert.ErrorContains(t, err, "dbConnLifetime")

	_, err = Load([]string{"-unknown"}, env(nil))
	assert.Error(t, err)
}

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/loggy"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFromEnv(dir, filepath.Join(dir, ".env"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "beacon.db"), cfg.Database.Path)
	assert.Equal(t, "WAL", cfg.Database.JournalMode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Sync.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, filepath.Join(dir, "media"), cfg.Media.Dir)
	assert.Equal(t, 1920, cfg.Media.MaxDimension)
	assert.True(t, cfg.Server.Enabled)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("BEACON_LOG_LEVEL", "debug")
	t.Setenv("BEACON_SYNC_MAX_ATTEMPTS", "5")
	t.Setenv("BEACON_SERVER_URL", "https://reports.example.com")
	t.Setenv("BEACON_SERVER_DEVICE_NAME", "front-desk-tablet")
	t.Setenv("BEACON_MEDIA_JPEG_QUALITY", "60")

	cfg, err := LoadFromEnv(dir, filepath.Join(dir, ".env"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	assert.Equal(t, "https://reports.example.com", cfg.Server.URL)
	assert.Equal(t, "front-desk-tablet", cfg.Server.DeviceName)
	assert.Equal(t, 60, cfg.Media.JPEGQuality)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		dir := t.TempDir()
		cfg, err := LoadFromEnv(dir, filepath.Join(dir, ".env"))
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid config passes", func(t *testing.T) {
		cfg := valid(t)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("empty database path", func(t *testing.T) {
		cfg := valid(t)
		cfg.Database.Path = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := valid(t)
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero max attempts", func(t *testing.T) {
		cfg := valid(t)
		cfg.Sync.MaxAttempts = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad JPEG quality", func(t *testing.T) {
		cfg := valid(t)
		cfg.Media.JPEGQuality = 101
		assert.Error(t, cfg.Validate())
	})
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("unknown"))
}

func TestTokenObfuscationRoundTrip(t *testing.T) {
	token := "bcn_7f29a4d1e8"

	obfuscated, err := obfuscateToken(token)
	require.NoError(t, err)
	assert.NotEqual(t, token, obfuscated)
	assert.Contains(t, obfuscated, "OBFS:")

	recovered, err := deobfuscateToken(obfuscated)
	require.NoError(t, err)
	assert.Equal(t, token, recovered)

	// Values without the marker pass through untouched
	plain, err := deobfuscateToken("plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", plain)
}

func TestSettingsRepository(t *testing.T) {
	newRepo := func(t *testing.T) (SettingsRepository, sqlmock.Sqlmock) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return NewSQLSettingsRepository(db, loggy.NewNoopLogger()), mock
	}

	t.Run("get setting", func(t *testing.T) {
		repo, mock := newRepo(t)

		mock.ExpectQuery("SELECT value FROM settings").
			WithArgs("sync.device_name").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("front-desk-tablet"))

		value, err := repo.GetSetting(context.Background(), "sync.device_name")
		require.NoError(t, err)
		assert.Equal(t, "front-desk-tablet", value)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get missing setting returns empty", func(t *testing.T) {
		repo, mock := newRepo(t)

		mock.ExpectQuery("SELECT value FROM settings").
			WithArgs("sync.server_url").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		value, err := repo.GetSetting(context.Background(), "sync.server_url")
		require.NoError(t, err)
		assert.Empty(t, value)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set new setting inserts", func(t *testing.T) {
		repo, mock := newRepo(t)

		mock.ExpectQuery("SELECT value FROM settings").
			WithArgs("sync.enabled").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))
		mock.ExpectExec("INSERT INTO settings").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.SetSetting(context.Background(), "sync.enabled", "true")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set existing setting updates", func(t *testing.T) {
		repo, mock := newRepo(t)

		mock.ExpectQuery("SELECT value FROM settings").
			WithArgs("sync.device_name").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("old-name"))
		mock.ExpectExec("UPDATE settings").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.SetSetting(context.Background(), "sync.device_name", "new-name")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

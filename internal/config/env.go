package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// LoadFromEnv loads configuration from environment variables
// Parameters:
// - configDir: Directory containing config files (or empty for default)
// - configFilePath: Path to .env file (or empty for default)
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	// Load empty configuration
	cfg := New()

	// If configDir is empty, use the default
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".beacon")

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	cfg.configDir = configDir

	// Default database, log, and media paths are in the config directory
	cfg.Database.Path = filepath.Join(configDir, "beacon.db")
	defaultLogPath := filepath.Join(configDir, "beacon.log")
	defaultMediaDir := filepath.Join(configDir, "media")

	// Use provided config file path or default
	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	// Check if ENV_FILE_PATH is set to load from a custom .env file
	envFilePath := getEnvString("ENV_FILE_PATH", "")
	if envFilePath != "" {
		// User specified a custom env file path
		err := godotenv.Load(envFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else {
		// Try to load from config directory first
		err := godotenv.Load(configFilePath)
		if err != nil {
			// Then try current directory as fallback
			_ = godotenv.Load() // Ignore errors if file doesn't exist
		}
	}

	// Database Configuration
	cfg.Database = DatabaseConfig{
		Path:            getEnvString("BEACON_DB_PATH", cfg.Database.Path),
		BusyTimeout:     getEnvInt("BEACON_DB_BUSY_TIMEOUT", 5000),
		JournalMode:     getEnvString("BEACON_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("BEACON_DB_SYNCHRONOUS_MODE", "NORMAL"),
		CacheSize:       getEnvInt("BEACON_DB_CACHE_SIZE", -64000), // ~64MB
		ForeignKeys:     getEnvBool("BEACON_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("BEACON_DB_CONN_MAX_LIFE", 5*time.Minute),
		QueryTimeout:    getEnvDuration("BEACON_DB_QUERY_TIMEOUT", 30*time.Second),
	}

	// Logging Configuration
	cfg.Logging = LoggingConfig{
		Level:      getEnvString("BEACON_LOG_LEVEL", "info"),
		Format:     getEnvString("BEACON_LOG_FORMAT", "text"),
		Output:     getEnvString("BEACON_LOG_OUTPUT", defaultLogPath),
		AddSource:  getEnvBool("BEACON_LOG_ADD_SOURCE", true),
		TimeFormat: getEnvString("BEACON_LOG_TIME_FORMAT", time.RFC3339),
	}

	// Server Configuration
	cfg.Server = ServerConfig{
		Enabled:    getEnvBool("BEACON_SERVER_ENABLED", true),
		URL:        getEnvString("BEACON_SERVER_URL", "http://localhost:3000"),
		Token:      getEnvString("BEACON_SERVER_TOKEN", ""),
		Timeout:    getEnvDuration("BEACON_SERVER_TIMEOUT", 30*time.Second),
		DeviceName: getEnvString("BEACON_SERVER_DEVICE_NAME", ""),
		ReporterID: getEnvString("BEACON_SERVER_REPORTER_ID", ""),
	}

	// Sync Configuration
	cfg.Sync = SyncConfig{
		MaxAttempts:  getEnvInt("BEACON_SYNC_MAX_ATTEMPTS", 3),
		ProbeURL:     getEnvString("BEACON_SYNC_PROBE_URL", "https://clients3.google.com/generate_204"),
		ProbeTimeout: getEnvDuration("BEACON_SYNC_PROBE_TIMEOUT", 5*time.Second),
		PollInterval: getEnvDuration("BEACON_SYNC_POLL_INTERVAL", 15*time.Second),
		Debounce:     getEnvDuration("BEACON_SYNC_DEBOUNCE", 2*time.Second),
		UploadRate:   getEnvFloat("BEACON_SYNC_UPLOAD_RATE", 2.0),
		UploadBurst:  getEnvInt("BEACON_SYNC_UPLOAD_BURST", 1),
	}

	// Media Configuration
	cfg.Media = MediaConfig{
		Dir:          getEnvString("BEACON_MEDIA_DIR", defaultMediaDir),
		MaxDimension: getEnvInt("BEACON_MEDIA_MAX_DIMENSION", 1920),
		JPEGQuality:  getEnvInt("BEACON_MEDIA_JPEG_QUALITY", 80),
	}

	// Validate the configuration
	return cfg, cfg.Validate()
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// Global configuration instance
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
// If the configuration has not been initialized, it will return an error
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	Logging   LoggingConfig
	Server    ServerConfig
	Sync      SyncConfig
	Media     MediaConfig
	configDir string // Internal: Directory where config was loaded from
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
	QueryTimeout    time.Duration // Query timeout
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool   // Include source code position in logs
	TimeFormat string // Time format for logs (empty uses RFC3339)
}

// ServerConfig holds configuration for the incident reporting server
type ServerConfig struct {
	Enabled    bool          // Whether syncing to the server is enabled
	URL        string        // Server base URL
	Token      string        // Authentication token
	Timeout    time.Duration // Request timeout
	DeviceName string        // Device name stamped on submissions
	ReporterID string        // Reporter identity stamped on submissions
}

// SyncConfig holds configuration for the sync engine
type SyncConfig struct {
	MaxAttempts   int           // Per-item attempt cap before an item stops retrying
	ProbeURL      string        // URL used to verify internet reachability
	ProbeTimeout  time.Duration // Timeout for a single reachability probe
	PollInterval  time.Duration // How often the monitor re-probes connectivity
	Debounce      time.Duration // Minimum gap between connectivity notifications
	UploadRate    float64       // Media uploads per second
	UploadBurst   int           // Media upload burst size
}

// MediaConfig holds configuration for media handling
type MediaConfig struct {
	Dir          string // App-private directory where queued media files live
	MaxDimension int    // Longest image edge after compression, in pixels
	JPEGQuality  int    // JPEG re-encode quality (1-100)
}

// New returns a new empty Config
func New() *Config {
	return &Config{
		Database: DatabaseConfig{},
		Logging:  LoggingConfig{},
		Server:   ServerConfig{},
		Sync:     SyncConfig{},
		Media:    MediaConfig{},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.validateMedia(); err != nil {
		return fmt.Errorf("media config: %w", err)
	}

	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		// Set to a very high level that won't be triggered
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	// Create the directory if it doesn't exist
	dir := filepath.Dir(c.Database.Path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	// Check if directory is writable
	if err := checkDirectoryWritable(dir); err != nil {
		return fmt.Errorf("database directory: %w", err)
	}

	if c.Database.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive")
	}

	if c.Database.ConnMaxLife <= 0 {
		return fmt.Errorf("connection max life must be positive")
	}

	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}

	return nil
}

func (c *Config) validateLogging() error {
	// Validate logging level
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" && level != "none" {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate format
	format := strings.ToLower(c.Logging.Format)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}

	if c.Sync.ProbeURL == "" {
		return fmt.Errorf("probe URL cannot be empty")
	}

	if c.Sync.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}

	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if c.Sync.UploadRate <= 0 {
		return fmt.Errorf("upload rate must be positive")
	}

	if c.Sync.UploadBurst <= 0 {
		return fmt.Errorf("upload burst must be positive")
	}

	return nil
}

func (c *Config) validateMedia() error {
	if c.Media.Dir == "" {
		return fmt.Errorf("media directory cannot be empty")
	}

	if _, err := os.Stat(c.Media.Dir); os.IsNotExist(err) {
		if err := os.MkdirAll(c.Media.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create media directory: %w", err)
		}
	}

	if c.Media.MaxDimension <= 0 {
		return fmt.Errorf("max dimension must be positive")
	}

	if c.Media.JPEGQuality <= 0 || c.Media.JPEGQuality > 100 {
		return fmt.Errorf("JPEG quality must be between 1 and 100")
	}

	return nil
}

// getEnvString returns a string from the environment variable
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns an int from the environment variable
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool returns a bool from the environment variable
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration returns a time.Duration from the environment variable
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvFloat returns a float64 from the environment variable
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// checkDirectoryWritable tests if a directory is writable
func checkDirectoryWritable(dir string) error {
	// Create a temporary file to test write permissions
	testFile := filepath.Join(dir, fmt.Sprintf("test_write_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}

	// Clean up
	f.Close()
	os.Remove(testFile)

	return nil
}

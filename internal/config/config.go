// Package config provides centralized configuration management for the kline archiver.
// Configuration is loaded from defaults, an optional JSON file, an optional .env file and
// KLINES_* environment variables, in that order, and validated as a whole.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/johnayoung/go-kline-archiver/internal/models"
)

// EnvPrefix is prepended to every environment variable read by the loader.
const EnvPrefix = "KLINES_"

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name"`
	Version    string `json:"version"`
	ConfigPath string `json:"-"`

	// Archive repository access
	Archive ArchiveConfig `json:"archive"`

	// Default period enumeration
	Defaults DefaultsConfig `json:"defaults"`

	// Local output
	Output OutputConfig `json:"output"`

	// Object storage upload
	Publisher PublisherConfig `json:"publisher"`

	// Scheduled runs
	Scheduler SchedulerConfig `json:"scheduler"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics"`

	// Error handling configuration
	ErrorHandling ErrorHandlingConfig `json:"error_handling"`
}

// ArchiveConfig configures the public data repository client
type ArchiveConfig struct {
	BaseURL        string            `json:"base_url"`         // Archive repository root
	SymbolsURLs    map[string]string `json:"symbols_urls"`     // exchangeInfo endpoint per trading type
	TradingType    string            `json:"trading_type"`     // spot, um, cm
	RateLimit      int               `json:"rate_limit"`       // Requests per second
	Timeout        string            `json:"timeout"`          // HTTP request timeout
	VerifyChecksum bool              `json:"verify_checksum"`  // Download and verify the .CHECKSUM sidecar
	UserAgent      string            `json:"user_agent"`       // User-Agent header
}

// DefaultsConfig holds the default period enumeration in its serialised form
type DefaultsConfig struct {
	StartDate       string   `json:"start_date"`        // Earliest monthly period (YYYY-MM-DD)
	EndDate         string   `json:"end_date"`          // Latest period; empty means today
	PeriodStartDate string   `json:"period_start_date"` // First default daily date
	StartYear       int      `json:"start_year"`        // First default year
	Months          []int    `json:"months"`            // Default months
	Intervals       []string `json:"intervals"`         // Default intervals
	DailyIntervals  []string `json:"daily_intervals"`   // Intervals with daily archives
}

// OutputConfig configures where assembled files and temporary archives go
type OutputConfig struct {
	Folder      string `json:"folder"`      // Directory for assembled parquet files
	TempDir     string `json:"temp_dir"`    // Directory for downloaded archives; empty picks /dev/shm or the OS temp dir
	Compression string `json:"compression"` // Parquet compression codec
}

// PublisherConfig configures upload of assembled files
type PublisherConfig struct {
	Type         string `json:"type"`           // none, s3, local
	Bucket       string `json:"bucket"`         // S3 bucket
	Region       string `json:"region"`         // S3 region
	Endpoint     string `json:"endpoint"`       // Custom S3 endpoint (MinIO and friends)
	UsePathStyle bool   `json:"use_path_style"` // Path-style addressing for custom endpoints
	Prefix       string `json:"prefix"`         // Key prefix
	LocalDir     string `json:"local_dir"`      // Destination root for the local publisher
}

// SchedulerConfig configures the cron-driven daily refresh
type SchedulerConfig struct {
	Cron     string   `json:"cron"`     // Cron expression
	Timezone string   `json:"timezone"` // Location used to evaluate the cron expression
	Symbols  []string `json:"symbols"`  // Symbols refreshed on each tick; empty lists all
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level"`          // Log level: debug, info, warn, error
	Format        string            `json:"format"`         // Log format: json, text
	Output        string            `json:"output"`         // Output: stdout, stderr, file
	FilePath      string            `json:"file_path"`      // Log file path
	MaxSize       int               `json:"max_size"`       // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups"`    // Maximum log file backups
	MaxAge        int               `json:"max_age"`        // Maximum log file age in days
	Compress      bool              `json:"compress"`       // Compress old log files
	ContextFields map[string]string `json:"context_fields"` // Additional context fields
}

// MetricsConfig configures run metrics
type MetricsConfig struct {
	Enabled    bool   `json:"enabled"`     // Log a metrics snapshot at the end of each run
	ReportPath string `json:"report_path"` // Optional JSON file receiving the snapshot
}

// ErrorHandlingConfig configures error handling and retry policies
type ErrorHandlingConfig struct {
	RetryPolicy RetryPolicyConfig `json:"retry_policy"` // Policy applied to repository requests
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int      `json:"max_attempts"`     // Maximum attempts including the first
	InitialDelay    string   `json:"initial_delay"`    // Initial delay between retries
	MaxDelay        string   `json:"max_delay"`        // Maximum delay between retries
	BackoffStrategy string   `json:"backoff_strategy"` // Backoff strategy: fixed, exponential, linear
	RetryableErrors []string `json:"retryable_errors"` // Extra retryable error types
	Jitter          bool     `json:"jitter"`           // Add randomness to delays
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envPath    string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		envPath:    ".env",
		logger:     logger,
	}
}

// WithEnvFile sets the .env file read before the environment. An empty path disables it.
func (cm *ConfigManager) WithEnvFile(path string) *ConfigManager {
	cm.envPath = path
	return cm
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority, a .env file fills unset ones)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()
	config.ConfigPath = cm.configPath

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Debug("configuration loaded successfully",
		"config_path", cm.configPath,
		"base_url", config.Archive.BaseURL,
		"publisher", config.Publisher.Type,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadEnvFile exports the variables of an optional .env file. Variables already set win.
func (cm *ConfigManager) loadEnvFile() error {
	if cm.envPath == "" {
		return nil
	}
	if _, err := os.Stat(cm.envPath); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(cm.envPath); err != nil {
		return fmt.Errorf("failed to read %s: %w", cm.envPath, err)
	}
	cm.logger.Debug("loaded environment file", "path", cm.envPath)
	return nil
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

// loadFromEnv loads configuration from KLINES_* environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	var errs []string

	setInt := func(name string, dst *int) {
		if val := getenv(name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if val := getenv(name); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	setString := func(name string, dst *string) {
		if val := getenv(name); val != "" {
			*dst = val
		}
	}
	setList := func(name string, dst *[]string) {
		if val := getenv(name); val != "" {
			*dst = SplitList(val)
		}
	}

	// Archive config
	setString("BASE_URL", &config.Archive.BaseURL)
	setString("TRADING_TYPE", &config.Archive.TradingType)
	setInt("RATE_LIMIT", &config.Archive.RateLimit)
	setString("HTTP_TIMEOUT", &config.Archive.Timeout)
	setBool("CHECKSUM", &config.Archive.VerifyChecksum)

	// Defaults
	setString("START_DATE", &config.Defaults.StartDate)
	setString("END_DATE", &config.Defaults.EndDate)
	setString("PERIOD_START_DATE", &config.Defaults.PeriodStartDate)
	setInt("START_YEAR", &config.Defaults.StartYear)
	setList("INTERVALS", &config.Defaults.Intervals)

	// Output config
	setString("FOLDER", &config.Output.Folder)
	setString("TEMP_DIR", &config.Output.TempDir)

	// Publisher config
	setString("PUBLISHER", &config.Publisher.Type)
	setString("S3_BUCKET", &config.Publisher.Bucket)
	setString("S3_REGION", &config.Publisher.Region)
	setString("S3_ENDPOINT", &config.Publisher.Endpoint)
	setBool("S3_PATH_STYLE", &config.Publisher.UsePathStyle)
	setString("PUBLISH_PREFIX", &config.Publisher.Prefix)
	setString("PUBLISH_DIR", &config.Publisher.LocalDir)

	// Scheduler config
	setString("SCHEDULE", &config.Scheduler.Cron)
	setString("SCHEDULE_TIMEZONE", &config.Scheduler.Timezone)
	setList("SCHEDULE_SYMBOLS", &config.Scheduler.Symbols)

	// Logging config
	setString("LOG_LEVEL", &config.Logging.Level)
	setString("LOG_FORMAT", &config.Logging.Format)
	setString("LOG_OUTPUT", &config.Logging.Output)
	setString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics config
	setBool("METRICS_ENABLED", &config.Metrics.Enabled)
	setString("METRICS_REPORT", &config.Metrics.ReportPath)

	// Retry policy
	setInt("RETRY_ATTEMPTS", &config.ErrorHandling.RetryPolicy.MaxAttempts)
	setString("RETRY_INITIAL_DELAY", &config.ErrorHandling.RetryPolicy.InitialDelay)
	setString("RETRY_MAX_DELAY", &config.ErrorHandling.RetryPolicy.MaxDelay)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values:\n- %s", strings.Join(errs, "\n- "))
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	// Archive
	if config.Archive.BaseURL == "" {
		errors = append(errors, "archive.base_url is required")
	}
	if _, err := models.ParseTradingType(config.Archive.TradingType); err != nil {
		errors = append(errors, "archive.trading_type must be one of: spot, um, cm")
	}
	if config.Archive.RateLimit <= 0 {
		errors = append(errors, "archive.rate_limit must be greater than 0")
	}
	if _, err := time.ParseDuration(config.Archive.Timeout); err != nil {
		errors = append(errors, fmt.Sprintf("archive.timeout is not a valid duration: %v", err))
	}

	// Defaults
	if _, err := config.Defaults.Resolve(time.Now()); err != nil {
		errors = append(errors, fmt.Sprintf("defaults: %v", err))
	}

	// Output
	if config.Output.Folder == "" {
		errors = append(errors, "output.folder is required")
	}
	validCodecs := map[string]bool{"zstd": true, "snappy": true, "gzip": true, "uncompressed": true}
	if !validCodecs[config.Output.Compression] {
		errors = append(errors, "output.compression must be one of: zstd, snappy, gzip, uncompressed")
	}

	// Publisher
	switch config.Publisher.Type {
	case "none":
	case "s3":
		if config.Publisher.Bucket == "" {
			errors = append(errors, "publisher.bucket is required for the s3 publisher")
		}
	case "local":
		if config.Publisher.LocalDir == "" {
			errors = append(errors, "publisher.local_dir is required for the local publisher")
		}
	default:
		errors = append(errors, "publisher.type must be one of: none, s3, local")
	}

	// Scheduler
	if config.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(config.Scheduler.Timezone); err != nil {
			errors = append(errors, fmt.Sprintf("scheduler.timezone is invalid: %v", err))
		}
	}

	// Logging
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}
	if config.Logging.Output == "file" && config.Logging.FilePath == "" {
		errors = append(errors, "logging.file_path is required when logging.output is file")
	}

	// Retry policy
	policy := config.ErrorHandling.RetryPolicy
	if policy.MaxAttempts <= 0 {
		errors = append(errors, "error_handling.retry_policy.max_attempts must be greater than 0")
	}
	if _, err := time.ParseDuration(policy.InitialDelay); err != nil {
		errors = append(errors, fmt.Sprintf("error_handling.retry_policy.initial_delay is not a valid duration: %v", err))
	}
	if _, err := time.ParseDuration(policy.MaxDelay); err != nil {
		errors = append(errors, fmt.Sprintf("error_handling.retry_policy.max_delay is not a valid duration: %v", err))
	}
	validStrategies := map[string]bool{"fixed": true, "linear": true, "exponential": true}
	if !validStrategies[policy.BackoffStrategy] {
		errors = append(errors, "error_handling.retry_policy.backoff_strategy must be one of: fixed, linear, exponential")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig saves the current configuration to the config file
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	if cm.config == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "kline-archiver",
		Version: "1.0.0",
		Archive: ArchiveConfig{
			BaseURL: "https://data.binance.vision/",
			SymbolsURLs: map[string]string{
				string(models.TradingTypeSpot): "https://api.binance.com/api/v3/exchangeInfo",
				string(models.TradingTypeUM):   "https://fapi.binance.com/fapi/v1/exchangeInfo",
				string(models.TradingTypeCM):   "https://dapi.binance.com/dapi/v1/exchangeInfo",
			},
			TradingType:    string(models.TradingTypeSpot),
			RateLimit:      10,
			Timeout:        "60s",
			VerifyChecksum: false,
			UserAgent:      "kline-archiver/1.0",
		},
		Defaults: DefaultsConfig{
			StartDate:       "2017-01-01",
			EndDate:         "",
			PeriodStartDate: "2020-01-01",
			StartYear:       2017,
			Months:          []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
			Intervals:       append([]string(nil), models.Intervals...),
			DailyIntervals:  append([]string(nil), models.DailyIntervals...),
		},
		Output: OutputConfig{
			Folder:      ".",
			TempDir:     "",
			Compression: "zstd",
		},
		Publisher: PublisherConfig{
			Type:   "none",
			Region: "us-east-1",
		},
		Scheduler: SchedulerConfig{
			Cron:     "30 1 * * *",
			Timezone: "UTC",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   "",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "kline-archiver",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		ErrorHandling: ErrorHandlingConfig{
			RetryPolicy: RetryPolicyConfig{
				MaxAttempts:     5,
				InitialDelay:    "1s",
				MaxDelay:        "30s",
				BackoffStrategy: "exponential",
				RetryableErrors: []string{"timeout", "network", "rate_limit", "server_error"},
				Jitter:          true,
			},
		},
	}
}

// SplitList splits a comma or whitespace separated list, dropping empty items.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// HTTPTimeout returns the parsed archive client timeout
func (c *AppConfig) HTTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.Archive.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// String returns a string representation of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

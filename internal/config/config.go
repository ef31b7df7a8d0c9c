// Package config loads chatuploads settings from an optional TOML file, an
// optional .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"

	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// Config holds all application configuration
type Config struct {
	Port        string `toml:"port"`
	DataDir     string `toml:"data_dir"`
	DBPath      string `toml:"db_path"`
	DBType      string `toml:"db_type"`
	DatabaseURL string `toml:"database_url"`
	PGMaxConns  int    `toml:"pg_max_conns"`

	QueueKey        string        `toml:"queue_key"`
	RetryCeiling    int           `toml:"retry_ceiling"`
	RetryDelay      time.Duration `toml:"-"`
	MaxPayloadBytes int64         `toml:"max_payload_bytes"`

	MaxImageSize      int64    `toml:"max_image_size"`
	MaxVideoSize      int64    `toml:"max_video_size"`
	MaxDocumentSize   int64    `toml:"max_document_size"`
	BlockedExtensions []string `toml:"blocked_extensions"`

	CompressImages    bool `toml:"compress_images"`
	ImageQuality      int  `toml:"image_quality"`
	ImageMaxDimension int  `toml:"image_max_dimension"`

	StorageBackend string   `toml:"storage_backend"`
	UploadDir      string   `toml:"upload_dir"`
	PublicURL      string   `toml:"public_url"` // base URL returned for completed uploads
	S3             S3Config `toml:"s3"`

	OrphanWebhookURL      string `toml:"orphan_webhook_url"`
	OrphanWebhookSecret   string `toml:"orphan_webhook_secret"`
	WebhookTimeoutSeconds int    `toml:"webhook_timeout_seconds"`

	CleanupInterval    time.Duration `toml:"-"`
	CompletedRetention time.Duration `toml:"-"` // how long terminal tasks stay visible
	ShutdownTimeout    time.Duration `toml:"-"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// S3Config holds the S3 transport settings.
type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	PathStyle       bool   `toml:"path_style"`
	PartSizeMB      int    `toml:"part_size_mb"`
}

// fileDurations carries the duration keys of the TOML file as strings ("2s", "10m").
type fileDurations struct {
	RetryDelay         string `toml:"retry_delay"`
	CleanupInterval    string `toml:"cleanup_interval"`
	CompletedRetention string `toml:"completed_retention"`
	ShutdownTimeout    string `toml:"shutdown_timeout"`
}

var defaultBlockedExtensions = ".exe,.bat,.cmd,.sh,.ps1,.dll,.so,.msi,.scr,.vbs,.jar,.com,.app,.deb,.rpm"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:       "8080",
		DataDir:    "./data",
		DBType:     DBTypeSQLite,
		PGMaxConns: 10,

		QueueKey:        "upload-queue",
		RetryCeiling:    3,
		RetryDelay:      2 * time.Second,
		MaxPayloadBytes: 2 << 30, // 2GB

		MaxImageSize:      25 << 20,  // 25MB
		MaxVideoSize:      500 << 20, // 500MB
		MaxDocumentSize:   100 << 20, // 100MB
		BlockedExtensions: parseList(defaultBlockedExtensions),

		CompressImages:    true,
		ImageQuality:      80,
		ImageMaxDimension: 2048,

		StorageBackend: StorageFilesystem,
		PublicURL:      "http://localhost:8080",

		WebhookTimeoutSeconds: 10,

		CleanupInterval:    10 * time.Minute,
		CompletedRetention: time.Hour,
		ShutdownTimeout:    30 * time.Second,

		LogLevel:  "info",
		LogFormat: "", // json, or text when stdout is a terminal
	}
}

// Load reads configuration with sensible defaults.
// Order: defaults, CONFIG_FILE (TOML), .env, environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	var d fileDurations
	if err := toml.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	for _, f := range []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"retry_delay", d.RetryDelay, &c.RetryDelay},
		{"cleanup_interval", d.CleanupInterval, &c.CleanupInterval},
		{"completed_retention", d.CompletedRetention, &c.CompletedRetention},
		{"shutdown_timeout", d.ShutdownTimeout, &c.ShutdownTimeout},
	} {
		if f.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(f.value)
		if err != nil {
			return fmt.Errorf("parse config file: %s: %w", f.key, err)
		}
		*f.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.DBType = getEnv("DB_TYPE", c.DBType)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.PGMaxConns = getEnvInt("PG_MAX_CONNS", c.PGMaxConns)

	c.QueueKey = getEnv("QUEUE_KEY", c.QueueKey)
	c.RetryCeiling = getEnvInt("RETRY_CEILING", c.RetryCeiling)
	c.RetryDelay = getEnvDuration("RETRY_DELAY", c.RetryDelay)
	c.MaxPayloadBytes = getEnvInt64("MAX_PAYLOAD_BYTES", c.MaxPayloadBytes)

	c.MaxImageSize = getEnvInt64("MAX_IMAGE_SIZE", c.MaxImageSize)
	c.MaxVideoSize = getEnvInt64("MAX_VIDEO_SIZE", c.MaxVideoSize)
	c.MaxDocumentSize = getEnvInt64("MAX_DOCUMENT_SIZE", c.MaxDocumentSize)
	if v, ok := os.LookupEnv("BLOCKED_EXTENSIONS"); ok {
		c.BlockedExtensions = parseList(v)
	}

	c.CompressImages = getEnvBool("COMPRESS_IMAGES", c.CompressImages)
	c.ImageQuality = getEnvInt("IMAGE_QUALITY", c.ImageQuality)
	c.ImageMaxDimension = getEnvInt("IMAGE_MAX_DIMENSION", c.ImageMaxDimension)

	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.PublicURL = getEnv("PUBLIC_URL", c.PublicURL)
	c.S3.Bucket = getEnv("S3_BUCKET", c.S3.Bucket)
	c.S3.Region = getEnv("S3_REGION", c.S3.Region)
	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.S3.AccessKeyID)
	c.S3.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", c.S3.SecretAccessKey)
	c.S3.PathStyle = getEnvBool("S3_PATH_STYLE", c.S3.PathStyle)
	c.S3.PartSizeMB = getEnvInt("S3_PART_SIZE_MB", c.S3.PartSizeMB)

	c.OrphanWebhookURL = getEnv("ORPHAN_WEBHOOK_URL", c.OrphanWebhookURL)
	c.OrphanWebhookSecret = getEnv("ORPHAN_WEBHOOK_SECRET", c.OrphanWebhookSecret)
	c.WebhookTimeoutSeconds = getEnvInt("WEBHOOK_TIMEOUT_SECONDS", c.WebhookTimeoutSeconds)

	c.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", c.CleanupInterval)
	c.CompletedRetention = getEnvDuration("COMPLETED_RETENTION", c.CompletedRetention)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
}

// normalize fills paths derived from DATA_DIR and canonicalizes enum values.
func (c *Config) normalize() error {
	c.DBType = strings.ToLower(strings.TrimSpace(c.DBType))
	if c.DBType == "postgresql" {
		c.DBType = DBTypePostgres
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")

	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "chatuploads.db")
	}
	if c.UploadDir == "" {
		c.UploadDir = filepath.Join(c.DataDir, "uploads")
	}
	return nil
}

// validate ensures configuration values are sensible
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	switch c.DBType {
	case DBTypeSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DBTypePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_TYPE=postgres")
		}
		if c.PGMaxConns <= 0 {
			return fmt.Errorf("PG_MAX_CONNS must be positive, got %d", c.PGMaxConns)
		}
	default:
		return fmt.Errorf("DB_TYPE must be %q or %q, got %q", DBTypeSQLite, DBTypePostgres, c.DBType)
	}

	if c.QueueKey == "" {
		return fmt.Errorf("QUEUE_KEY cannot be empty")
	}

	if c.RetryCeiling < 0 {
		return fmt.Errorf("RETRY_CEILING must be 0 or positive, got %d", c.RetryCeiling)
	}

	if c.RetryDelay < 0 {
		return fmt.Errorf("RETRY_DELAY cannot be negative, got %s", c.RetryDelay)
	}

	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("MAX_PAYLOAD_BYTES must be positive, got %d", c.MaxPayloadBytes)
	}

	for key, v := range map[string]int64{
		"MAX_IMAGE_SIZE":    c.MaxImageSize,
		"MAX_VIDEO_SIZE":    c.MaxVideoSize,
		"MAX_DOCUMENT_SIZE": c.MaxDocumentSize,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, v)
		}
	}

	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		return fmt.Errorf("IMAGE_QUALITY must be between 1 and 100, got %d", c.ImageQuality)
	}

	if c.ImageMaxDimension < 0 {
		return fmt.Errorf("IMAGE_MAX_DIMENSION cannot be negative, got %d", c.ImageMaxDimension)
	}

	switch c.StorageBackend {
	case StorageFilesystem:
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR cannot be empty")
		}
	case StorageS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
		if c.S3.PartSizeMB < 0 {
			return fmt.Errorf("S3_PART_SIZE_MB cannot be negative, got %d", c.S3.PartSizeMB)
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageFilesystem, StorageS3, c.StorageBackend)
	}

	if c.WebhookTimeoutSeconds <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT_SECONDS must be positive, got %d", c.WebhookTimeoutSeconds)
	}

	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval)
	}

	if c.CompletedRetention < 0 {
		return fmt.Errorf("COMPLETED_RETENTION cannot be negative, got %s", c.CompletedRetention)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}

	return nil
}

// WebhookTimeout returns the orphan webhook timeout as a duration.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves an int64 environment variable or returns a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "10m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// parseList splits a comma-separated extension list, normalizing to lower-case ".ext".
func parseList(value string) []string {
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			// Ensure extensions start with a dot
			if !strings.HasPrefix(trimmed, ".") {
				trimmed = "." + trimmed
			}
			result = append(result, strings.ToLower(trimmed))
		}
	}

	return result
}

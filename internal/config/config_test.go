package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"CONFIG_FILE", "PORT", "DATA_DIR", "DB_PATH", "DB_TYPE", "DATABASE_URL", "PG_MAX_CONNS",
	"QUEUE_KEY", "RETRY_CEILING", "RETRY_DELAY", "MAX_PAYLOAD_BYTES",
	"MAX_IMAGE_SIZE", "MAX_VIDEO_SIZE", "MAX_DOCUMENT_SIZE", "BLOCKED_EXTENSIONS",
	"COMPRESS_IMAGES", "IMAGE_QUALITY", "IMAGE_MAX_DIMENSION",
	"STORAGE_BACKEND", "UPLOAD_DIR", "PUBLIC_URL",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_PATH_STYLE", "S3_PART_SIZE_MB",
	"ORPHAN_WEBHOOK_URL", "ORPHAN_WEBHOOK_SECRET", "WEBHOOK_TIMEOUT_SECONDS",
	"CLEANUP_INTERVAL", "COMPLETED_RETENTION", "SHUTDOWN_TIMEOUT",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
}

// clearEnvVars unsets every key Load reads and restores them after the test.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_DefaultConfiguration(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with defaults failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.DBType != DBTypeSQLite {
		t.Errorf("DBType = %s, want sqlite", cfg.DBType)
	}
	if cfg.DBPath != filepath.Join("./data", "chatuploads.db") {
		t.Errorf("DBPath = %s, want data/chatuploads.db", cfg.DBPath)
	}
	if cfg.UploadDir != filepath.Join("./data", "uploads") {
		t.Errorf("UploadDir = %s", cfg.UploadDir)
	}
	if cfg.QueueKey != "upload-queue" {
		t.Errorf("QueueKey = %s, want upload-queue", cfg.QueueKey)
	}
	if cfg.RetryCeiling != 3 {
		t.Errorf("RetryCeiling = %d, want 3", cfg.RetryCeiling)
	}
	if cfg.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay = %s, want 2s", cfg.RetryDelay)
	}
	if cfg.MaxImageSize != 25<<20 {
		t.Errorf("MaxImageSize = %d", cfg.MaxImageSize)
	}
	if !cfg.CompressImages || cfg.ImageQuality != 80 || cfg.ImageMaxDimension != 2048 {
		t.Errorf("compression defaults = %v/%d/%d", cfg.CompressImages, cfg.ImageQuality, cfg.ImageMaxDimension)
	}
	if cfg.StorageBackend != StorageFilesystem {
		t.Errorf("StorageBackend = %s", cfg.StorageBackend)
	}
	if cfg.CleanupInterval != 10*time.Minute {
		t.Errorf("CleanupInterval = %s, want 10m", cfg.CleanupInterval)
	}
	if len(cfg.BlockedExtensions) == 0 || cfg.BlockedExtensions[0] != ".exe" {
		t.Errorf("BlockedExtensions = %v", cfg.BlockedExtensions)
	}
	if cfg.WebhookTimeout() != 10*time.Second {
		t.Errorf("WebhookTimeout() = %s", cfg.WebhookTimeout())
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_DIR", "/var/lib/chatuploads")
	t.Setenv("RETRY_CEILING", "0")
	t.Setenv("RETRY_DELAY", "500ms")
	t.Setenv("CLEANUP_INTERVAL", "120")
	t.Setenv("COMPRESS_IMAGES", "false")
	t.Setenv("BLOCKED_EXTENSIONS", "EXE, bat")
	t.Setenv("PUBLIC_URL", "https://cdn.example.com/")
	t.Setenv("DB_TYPE", "PostgreSQL")
	t.Setenv("DATABASE_URL", "postgres://localhost/chat")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s", cfg.Port)
	}
	if cfg.DBPath != "/var/lib/chatuploads/chatuploads.db" {
		t.Errorf("DBPath = %s", cfg.DBPath)
	}
	if cfg.RetryCeiling != 0 {
		t.Errorf("RetryCeiling = %d, want 0", cfg.RetryCeiling)
	}
	if cfg.RetryDelay != 500*time.Millisecond {
		t.Errorf("RetryDelay = %s", cfg.RetryDelay)
	}
	if cfg.CleanupInterval != 2*time.Minute {
		t.Errorf("CleanupInterval = %s, want 2m", cfg.CleanupInterval)
	}
	if cfg.CompressImages {
		t.Error("CompressImages should be false")
	}
	if strings.Join(cfg.BlockedExtensions, ",") != ".exe,.bat" {
		t.Errorf("BlockedExtensions = %v", cfg.BlockedExtensions)
	}
	if cfg.PublicURL != "https://cdn.example.com" {
		t.Errorf("PublicURL = %s", cfg.PublicURL)
	}
	if cfg.DBType != DBTypePostgres {
		t.Errorf("DBType = %s", cfg.DBType)
	}
}

func TestLoad_EmptyBlockedExtensions(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("BLOCKED_EXTENSIONS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.BlockedExtensions) != 0 {
		t.Errorf("BlockedExtensions = %v, want empty", cfg.BlockedExtensions)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnvVars(t)

	path := filepath.Join(t.TempDir(), "chatuploads.toml")
	content := `
port = "7070"
retry_ceiling = 5
retry_delay = "3s"
cleanup_interval = "1m"
storage_backend = "s3"
orphan_webhook_url = "https://hooks.example.com/orphans"

[s3]
bucket = "attachments"
region = "eu-west-1"
path_style = true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RETRY_CEILING", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "7070" {
		t.Errorf("Port = %s, want 7070", cfg.Port)
	}
	if cfg.RetryCeiling != 4 {
		t.Errorf("RetryCeiling = %d, want env override 4", cfg.RetryCeiling)
	}
	if cfg.RetryDelay != 3*time.Second {
		t.Errorf("RetryDelay = %s, want 3s", cfg.RetryDelay)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("CleanupInterval = %s, want 1m", cfg.CleanupInterval)
	}
	if cfg.StorageBackend != StorageS3 || cfg.S3.Bucket != "attachments" || !cfg.S3.PathStyle {
		t.Errorf("S3 = %+v (backend %s)", cfg.S3, cfg.StorageBackend)
	}
	if cfg.OrphanWebhookURL != "https://hooks.example.com/orphans" {
		t.Errorf("OrphanWebhookURL = %s", cfg.OrphanWebhookURL)
	}
}

func TestLoad_ConfigFileErrors(t *testing.T) {
	clearEnvVars(t)

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
		if _, err := Load(); err == nil {
			t.Fatal("expected error for missing config file")
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		os.WriteFile(path, []byte(`retry_delay = "soon"`), 0644)
		t.Setenv("CONFIG_FILE", path)
		if _, err := Load(); err == nil {
			t.Fatal("expected error for bad duration")
		}
	})

	t.Run("bad toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		os.WriteFile(path, []byte(`port = `), 0644)
		t.Setenv("CONFIG_FILE", path)
		if _, err := Load(); err == nil {
			t.Fatal("expected error for malformed toml")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"negative retry ceiling", func(c *Config) { c.RetryCeiling = -1 }, "RETRY_CEILING"},
		{"zero payload budget", func(c *Config) { c.MaxPayloadBytes = 0 }, "MAX_PAYLOAD_BYTES"},
		{"zero image size", func(c *Config) { c.MaxImageSize = 0 }, "MAX_IMAGE_SIZE"},
		{"unknown db type", func(c *Config) { c.DBType = "mysql" }, "DB_TYPE"},
		{"postgres without dsn", func(c *Config) { c.DBType = DBTypePostgres }, "DATABASE_URL"},
		{"unknown storage", func(c *Config) { c.StorageBackend = "ftp" }, "STORAGE_BACKEND"},
		{"s3 without bucket", func(c *Config) { c.StorageBackend = StorageS3 }, "S3_BUCKET"},
		{"image quality", func(c *Config) { c.ImageQuality = 0 }, "IMAGE_QUALITY"},
		{"cleanup interval", func(c *Config) { c.CleanupInterval = 0 }, "CLEANUP_INTERVAL"},
		{"empty queue key", func(c *Config) { c.QueueKey = "" }, "QUEUE_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			if err := cfg.normalize(); err != nil {
				t.Fatalf("normalize() error = %v", err)
			}
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "45")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 45*time.Second {
		t.Errorf("bare seconds = %s", got)
	}
	t.Setenv("TEST_DURATION", "1h30m")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Minute {
		t.Errorf("duration string = %s", got)
	}
	t.Setenv("TEST_DURATION", "garbage")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("garbage = %s, want default", got)
	}
}

func TestParseList(t *testing.T) {
	got := parseList(" exe, .BAT ,,sh")
	want := []string{".exe", ".bat", ".sh"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("parseList() = %v, want %v", got, want)
	}
}

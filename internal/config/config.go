// Package config reads the bulk upload settings from the environment (and an
// optional .env file) into a typed Config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nhsdigital/lg-bulk-upload/internal/filename"
	"github.com/nhsdigital/lg-bulk-upload/internal/model"
)

// Config represents runtime configuration shared by the worker, the ops
// server and the CLI.
type Config struct {
	Address   string `mapstructure:"ADDRESS"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey       string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey       string `mapstructure:"S3_SECRET_KEY"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3UseSSL          bool   `mapstructure:"S3_USE_SSL"`
	StagingBucket     string `mapstructure:"STAGING_BUCKET"`
	LloydGeorgeBucket string `mapstructure:"LLOYD_GEORGE_BUCKET"`

	MetadataKey           string `mapstructure:"METADATA_KEY"`
	MetadataArchivePrefix string `mapstructure:"METADATA_ARCHIVE_PREFIX"`

	LloydGeorgeTable      string `mapstructure:"LLOYD_GEORGE_TABLE"`
	ARFTable              string `mapstructure:"ARF_TABLE"`
	BulkUploadReportTable string `mapstructure:"BULK_UPLOAD_REPORT_TABLE"`

	PDSBaseURL   string        `mapstructure:"PDS_BASE_URL"`
	PDSTimeout   time.Duration `mapstructure:"PDS_TIMEOUT"`
	PDSCacheSize int           `mapstructure:"PDS_CACHE_SIZE"`
	PDSCacheTTL  time.Duration `mapstructure:"PDS_CACHE_TTL"`
	BypassPDS    bool          `mapstructure:"BYPASS_PDS"`

	ValidationMode      string        `mapstructure:"VALIDATION_MODE"`
	PilotODSCodes       []string      `mapstructure:"PILOT_ODS_CODES"`
	FilenameStrategy    string        `mapstructure:"FILENAME_STRATEGY"`
	MaxVirusScanRetries int           `mapstructure:"MAX_VIRUS_SCAN_RETRIES"`
	RequeueDelay        time.Duration `mapstructure:"REQUEUE_DELAY"`
	VerifyPDF           bool          `mapstructure:"VERIFY_PDF"`
	BatchSize           int           `mapstructure:"BATCH_SIZE"`
	WorkerConcurrency   int           `mapstructure:"WORKER_CONCURRENCY"`
}

var keys = []string{
	"ADDRESS", "LOG_LEVEL", "LOG_PRETTY",
	"DATABASE_URL",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_REGION", "S3_USE_SSL",
	"STAGING_BUCKET", "LLOYD_GEORGE_BUCKET",
	"METADATA_KEY", "METADATA_ARCHIVE_PREFIX",
	"LLOYD_GEORGE_TABLE", "ARF_TABLE", "BULK_UPLOAD_REPORT_TABLE",
	"PDS_BASE_URL", "PDS_TIMEOUT", "PDS_CACHE_SIZE", "PDS_CACHE_TTL", "BYPASS_PDS",
	"VALIDATION_MODE", "PILOT_ODS_CODES", "FILENAME_STRATEGY",
	"MAX_VIRUS_SCAN_RETRIES", "REQUEUE_DELAY", "VERIFY_PDF",
	"BATCH_SIZE", "WORKER_CONCURRENCY",
}

// Load reads configuration from environment variables falling back to
// defaults, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ADDRESS", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("S3_ENDPOINT", "localhost:9000")
	v.SetDefault("S3_REGION", "eu-west-2")
	v.SetDefault("STAGING_BUCKET", "staging-bulk-store")
	v.SetDefault("LLOYD_GEORGE_BUCKET", "lloyd-george-store")
	v.SetDefault("METADATA_KEY", "metadata.csv")
	v.SetDefault("METADATA_ARCHIVE_PREFIX", "metadata")
	v.SetDefault("LLOYD_GEORGE_TABLE", "lloyd_george_references")
	v.SetDefault("ARF_TABLE", "arf_references")
	v.SetDefault("BULK_UPLOAD_REPORT_TABLE", "bulk_upload_reports")
	v.SetDefault("PDS_TIMEOUT", 10*time.Second)
	v.SetDefault("PDS_CACHE_SIZE", 1024)
	v.SetDefault("PDS_CACHE_TTL", 15*time.Minute)
	v.SetDefault("VALIDATION_MODE", "strict")
	v.SetDefault("PILOT_ODS_CODES", "ALL")
	v.SetDefault("FILENAME_STRATEGY", filename.Standard.Name())
	v.SetDefault("MAX_VIRUS_SCAN_RETRIES", 14)
	v.SetDefault("REQUEUE_DELAY", time.Minute)
	v.SetDefault("VERIFY_PDF", true)
	v.SetDefault("BATCH_SIZE", 10)
	v.SetDefault("WORKER_CONCURRENCY", 4)

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.PilotODSCodes = splitList(cfg.PilotODSCodes)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.StagingBucket == "" || c.LloydGeorgeBucket == "" {
		errs = append(errs, errors.New("STAGING_BUCKET and LLOYD_GEORGE_BUCKET are required"))
	}
	if !c.BypassPDS && c.PDSBaseURL == "" {
		errs = append(errs, errors.New("PDS_BASE_URL is required unless BYPASS_PDS is set"))
	}
	if _, err := filename.StrategyByName(c.FilenameStrategy); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.ValidationMode) {
	case "strict", "lenient":
	default:
		errs = append(errs, fmt.Errorf("VALIDATION_MODE must be strict or lenient, got %q", c.ValidationMode))
	}
	if c.MaxVirusScanRetries < 0 {
		errs = append(errs, errors.New("MAX_VIRUS_SCAN_RETRIES must not be negative"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

// Tables maps document types to their configured metadata tables.
func (c *Config) Tables() model.Tables {
	return model.Tables{LloydGeorge: c.LloydGeorgeTable, ARF: c.ARFTable}
}

// Strategy resolves the configured filename correction strategy.
func (c *Config) Strategy() filename.Strategy {
	s, err := filename.StrategyByName(c.FilenameStrategy)
	if err != nil {
		return filename.Standard
	}
	return s
}

// splitList handles both "A,B" from the environment and already split values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, strings.ToUpper(part))
			}
		}
	}
	return out
}

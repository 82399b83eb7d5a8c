// Package config loads the engine configuration from STOCKPILE_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"stockpile/internal/archive"
)

// StorageDriver names a committed-inventory store backend.
type StorageDriver string

// Supported storage drivers.
const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// Config is the full engine configuration.
type Config struct {
	StorageDriver    StorageDriver `env:"STOCKPILE_STORAGE_DRIVER"      envDefault:"memory"`
	SQLitePath       string        `env:"STOCKPILE_SQLITE_PATH"         envDefault:"stockpile.db"`
	PostgresDSN      string        `env:"STOCKPILE_POSTGRES_DSN"`
	ArchiveDriver    string        `env:"STOCKPILE_ARCHIVE_DRIVER"      envDefault:"fs"`
	ArchiveFSRoot    string        `env:"STOCKPILE_ARCHIVE_FS_ROOT"     envDefault:"./archive"`
	ArchiveS3Bucket  string        `env:"STOCKPILE_ARCHIVE_S3_BUCKET"`
	ArchiveS3Region  string        `env:"STOCKPILE_ARCHIVE_S3_REGION"   envDefault:"us-east-1"`
	ArchiveS3Prefix  string        `env:"STOCKPILE_ARCHIVE_S3_PREFIX"`
	ArchiveS3URL     string        `env:"STOCKPILE_ARCHIVE_S3_ENDPOINT"`
	ArchivePathStyle bool          `env:"STOCKPILE_ARCHIVE_S3_PATH_STYLE"`
	MetricsNamespace string        `env:"STOCKPILE_METRICS_NAMESPACE"   envDefault:"stockpile"`
	DropLimit        int64         `env:"STOCKPILE_DROP_LIMIT"          envDefault:"0"`
	Authoritative    bool          `env:"STOCKPILE_AUTHORITATIVE"       envDefault:"true"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StorageDriver = StorageDriver(strings.ToLower(strings.TrimSpace(string(cfg.StorageDriver))))
	cfg.ArchiveDriver = strings.ToLower(strings.TrimSpace(cfg.ArchiveDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports unknown drivers and inconsistent settings.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch archive.Driver(c.ArchiveDriver) {
	case archive.DriverFilesystem, archive.DriverMemory:
	case archive.DriverS3:
		if c.ArchiveS3Bucket == "" {
			return fmt.Errorf("STOCKPILE_ARCHIVE_S3_BUCKET required for s3 archive driver")
		}
	default:
		return fmt.Errorf("unknown archive driver %q", c.ArchiveDriver)
	}
	if c.DropLimit < 0 {
		return fmt.Errorf("drop limit may not be negative, got %d", c.DropLimit)
	}
	return nil
}

// Archive converts the archive settings into the archive factory config.
func (c Config) Archive() archive.Config {
	return archive.Config{
		Driver: archive.Driver(c.ArchiveDriver),
		FSRoot: c.ArchiveFSRoot,
		S3: archive.S3Config{
			Bucket:    c.ArchiveS3Bucket,
			Region:    c.ArchiveS3Region,
			Prefix:    c.ArchiveS3Prefix,
			Endpoint:  c.ArchiveS3URL,
			PathStyle: c.ArchivePathStyle,
		},
	}
}

// Package config holds the job configuration shared by every ncd subcommand.
//
// Values come from (lowest to highest precedence) Defaults, an optional
// YAML/JSON file, NCD_* environment variables and command-line flags. Load
// does the file and environment part; flags are bound by the caller on the
// same viper instance.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. NCD_STORAGE_DSN.
const EnvPrefix = "NCD"

// Config is the full job configuration.
type Config struct {
	Job     string        `mapstructure:"job"`
	Storage StorageConfig `mapstructure:"storage"`
	Load    LoadConfig    `mapstructure:"load"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Import  ImportConfig  `mapstructure:"import"`
}

// StorageConfig selects and opens a storage backend.
type StorageConfig struct {
	// Kind is one of the registered backends: postgres, sqlite, mssql, blobstore.
	Kind string `mapstructure:"kind"`
	// DSN is the driver connection string, or the root directory for blobstore.
	DSN string `mapstructure:"dsn"`
	// Database is the target schema (postgres, mssql) or catalog database
	// (blobstore). Ignored by sqlite.
	Database string `mapstructure:"database"`
}

// LoadConfig tunes the archive loader.
type LoadConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	// TempDir holds spool files for the blobstore backend; empty means the
	// system temp directory.
	TempDir string `mapstructure:"temp_dir"`
}

// MetricsConfig selects a metrics backend.
type MetricsConfig struct {
	// Backend is "none" or "datadog".
	Backend    string        `mapstructure:"backend"`
	Tags       string        `mapstructure:"tags"`
	FlushEvery time.Duration `mapstructure:"flush_every"`
}

// ImportConfig drives `ncd import`.
type ImportConfig struct {
	ListingURL  string        `mapstructure:"listing_url"`
	DownloadDir string        `mapstructure:"download_dir"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	// KeepDownloads leaves fetched archives in DownloadDir after loading.
	KeepDownloads bool `mapstructure:"keep_downloads"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Job:     "ncd",
		Storage: StorageConfig{Kind: "sqlite", DSN: "ncd.db"},
		Load:    LoadConfig{BatchSize: 100000},
		Metrics: MetricsConfig{Backend: "none", FlushEvery: time.Minute},
		Import: ImportConfig{
			Concurrency: 1,
			Timeout:     30 * time.Minute,
			MaxAttempts: 5,
			BaseBackoff: 2 * time.Second,
			MaxBackoff:  time.Minute,
		},
	}
}

// setDefaults registers every key with viper so that environment variables
// are picked up by Unmarshal even when no file mentions the key.
func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("job", d.Job)
	v.SetDefault("storage.kind", d.Storage.Kind)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.database", d.Storage.Database)
	v.SetDefault("load.batch_size", d.Load.BatchSize)
	v.SetDefault("load.temp_dir", d.Load.TempDir)
	v.SetDefault("metrics.backend", d.Metrics.Backend)
	v.SetDefault("metrics.tags", d.Metrics.Tags)
	v.SetDefault("metrics.flush_every", d.Metrics.FlushEvery)
	v.SetDefault("import.listing_url", d.Import.ListingURL)
	v.SetDefault("import.download_dir", d.Import.DownloadDir)
	v.SetDefault("import.concurrency", d.Import.Concurrency)
	v.SetDefault("import.timeout", d.Import.Timeout)
	v.SetDefault("import.max_attempts", d.Import.MaxAttempts)
	v.SetDefault("import.base_backoff", d.Import.BaseBackoff)
	v.SetDefault("import.max_backoff", d.Import.MaxBackoff)
	v.SetDefault("import.keep_downloads", d.Import.KeepDownloads)
}

// Load reads the configuration from v. When path is non-empty the file is
// read first; its format follows the extension. Environment variables such
// as NCD_STORAGE_KIND override file values.
func Load(v *viper.Viper, path string) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

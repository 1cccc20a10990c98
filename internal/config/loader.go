package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = ".zipstage"
	configType = "yaml"
	envPrefix  = "ZIPSTAGE"
)

// DefaultTypes mirrors the two log sizes the pipeline was first built for.
func DefaultTypes() []map[string]any {
	return []map[string]any{
		{"name": "100k", "archive_prefix": "logs/archives/2024/01/100k", "local_dir": "data/100k"},
		{"name": "30k", "archive_prefix": "logs/archives/2024/01/30k", "local_dir": "data/30k"},
	}
}

// NewViper returns a viper instance with defaults, env binding and the config
// file search path set up, without reading anything yet. Commands bind their
// flags onto it before calling Load.
func NewViper(configPath string) *viper.Viper {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	return v
}

// Load reads the config file (a missing file is not an error), unmarshals and validates.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig loads configuration from file, env vars and defaults.
func LoadConfig(configPath string) (*Config, error) {
	return Load(NewViper(configPath))
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("bucket", DefaultBucket)
	v.SetDefault("db_path", DefaultDbPath)

	v.SetDefault("storage.backend", DefaultBackend)
	v.SetDefault("storage.local_root", "")
	v.SetDefault("storage.base_url", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.path_style", false)
	v.SetDefault("storage.page_size", 0)

	v.SetDefault("extraction.chunk_size", DefaultChunkSize)
	v.SetDefault("extraction.chunk_workers", DefaultChunkWorkers)
	v.SetDefault("extraction.extracted_base", DefaultExtractedBase)
	v.SetDefault("extraction.year", DefaultYear)
	v.SetDefault("extraction.month", DefaultMonth)

	v.SetDefault("types", DefaultTypes())
	v.SetDefault("extra_files", []map[string]any{
		{"local_path": "data/feed.xml", "key": "feeds/{year}/{month}/feed.xml"},
	})

	v.SetDefault("report.table", true)
	v.SetDefault("report.object", false)
	v.SetDefault("report.prefix", DefaultReportPrefix)
	v.SetDefault("report.parquet_dir", "")
	v.SetDefault("report.ledger", true)
}

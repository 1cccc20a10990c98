package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brensch/zipstage/internal/storage"
)

// Defaults for the extraction pipeline.
const (
	DefaultChunkSize     = 10000
	DefaultChunkWorkers  = 8
	DefaultBucket        = "raw-data-bronze"
	DefaultBackend       = storage.BackendS3
	DefaultExtractedBase = "logs/extracted"
	DefaultYear          = "2024"
	DefaultMonth         = "01"
	DefaultDbPath        = "zipstage.duckdb"
	DefaultReportPrefix  = "reports/extraction"
)

// Validation errors.
var (
	ErrInvalidChunkSize    = errors.New("chunk_size must be positive")
	ErrInvalidChunkWorkers = errors.New("chunk_workers must be positive")
	ErrNoLogicalTypes      = errors.New("at least one logical type is required")
	ErrInvalidLogicalType  = errors.New("logical type needs a name and an archive prefix")
	ErrDuplicateType       = errors.New("duplicate logical type")
	ErrMissingBucket       = errors.New("bucket is required")
	ErrUnknownBackend      = errors.New("unknown storage backend")
	ErrInvalidExtraFile    = errors.New("extra file needs a local path and a key")
)

// Config holds application settings.
type Config struct {
	Bucket     string           `mapstructure:"bucket" yaml:"bucket"`
	DbPath     string           `mapstructure:"db_path" yaml:"db_path"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Types      []LogicalType    `mapstructure:"types" yaml:"types"`
	ExtraFiles []ExtraFile      `mapstructure:"extra_files" yaml:"extra_files"`
	Report     ReportConfig     `mapstructure:"report" yaml:"report"`
}

// StorageConfig selects the object store backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	LocalRoot string `mapstructure:"local_root" yaml:"local_root"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	PathStyle bool   `mapstructure:"path_style" yaml:"path_style"`
	PageSize  int32  `mapstructure:"page_size" yaml:"page_size"`
}

// ExtractionConfig tunes archive processing and the destination layout.
type ExtractionConfig struct {
	ChunkSize     int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkWorkers  int    `mapstructure:"chunk_workers" yaml:"chunk_workers"`
	ExtractedBase string `mapstructure:"extracted_base" yaml:"extracted_base"`
	Year          string `mapstructure:"year" yaml:"year"`
	Month         string `mapstructure:"month" yaml:"month"`
}

// LogicalType is one category of archives: where they are listed from,
// where local copies are staged from and where entries are extracted to.
type LogicalType struct {
	Name              string `mapstructure:"name" yaml:"name"`
	ArchivePrefix     string `mapstructure:"archive_prefix" yaml:"archive_prefix"`
	LocalDir          string `mapstructure:"local_dir" yaml:"local_dir,omitempty"`
	DestinationPrefix string `mapstructure:"destination_prefix" yaml:"destination_prefix,omitempty"`
}

// ExtraFile is a single local file pushed during staging. Key may contain
// {year} and {month} placeholders.
type ExtraFile struct {
	LocalPath string `mapstructure:"local_path" yaml:"local_path"`
	Key       string `mapstructure:"key" yaml:"key"`
}

// ReportConfig selects the summary sinks. The summary is always logged.
type ReportConfig struct {
	Table      bool   `mapstructure:"table" yaml:"table"`
	Object     bool   `mapstructure:"object" yaml:"object"`
	Prefix     string `mapstructure:"prefix" yaml:"prefix"`
	ParquetDir string `mapstructure:"parquet_dir" yaml:"parquet_dir,omitempty"`
	Ledger     bool   `mapstructure:"ledger" yaml:"ledger"`
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, ErrMissingBucket)
	}
	switch c.Storage.Backend {
	case storage.BackendS3, storage.BackendLocal, storage.BackendHTTP, storage.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend))
	}
	if c.Extraction.ChunkSize <= 0 {
		errs = append(errs, ErrInvalidChunkSize)
	}
	if c.Extraction.ChunkWorkers <= 0 {
		errs = append(errs, ErrInvalidChunkWorkers)
	}
	if len(c.Types) == 0 {
		errs = append(errs, ErrNoLogicalTypes)
	}
	seen := make(map[string]bool, len(c.Types))
	for _, t := range c.Types {
		if t.Name == "" || t.ArchivePrefix == "" {
			errs = append(errs, fmt.Errorf("%w: %+v", ErrInvalidLogicalType, t))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateType, t.Name))
		}
		seen[t.Name] = true
	}
	for _, f := range c.ExtraFiles {
		if f.LocalPath == "" || f.Key == "" {
			errs = append(errs, fmt.Errorf("%w: %+v", ErrInvalidExtraFile, f))
		}
	}
	return errors.Join(errs...)
}

// DestinationPrefix is where entries of the given type are written.
// An explicit destination_prefix wins over <extracted_base>/<year>/<month>/<type>/.
func (c *Config) DestinationPrefix(t LogicalType) string {
	if t.DestinationPrefix != "" {
		if strings.HasSuffix(t.DestinationPrefix, "/") {
			return t.DestinationPrefix
		}
		return t.DestinationPrefix + "/"
	}
	e := c.Extraction
	return fmt.Sprintf("%s/%s/%s/%s/", strings.TrimSuffix(e.ExtractedBase, "/"), e.Year, e.Month, t.Name)
}

// ExpandKey substitutes {year} and {month} in key.
func (c *Config) ExpandKey(key string) string {
	return strings.NewReplacer("{year}", c.Extraction.Year, "{month}", c.Extraction.Month).Replace(key)
}

// StorageOptions converts the storage section into backend options.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Backend:   c.Storage.Backend,
		LocalRoot: c.Storage.LocalRoot,
		BaseURL:   c.Storage.BaseURL,
		S3: storage.S3Options{
			Region:    c.Storage.Region,
			Endpoint:  c.Storage.Endpoint,
			PathStyle: c.Storage.PathStyle,
			PageSize:  c.Storage.PageSize,
		},
	}
}

package cmd

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brensch/zipstage/internal/config"
	"github.com/brensch/zipstage/internal/db"
	"github.com/brensch/zipstage/internal/orchestrator"
)

var (
	cfgFile   string
	logFormat string
	logLevel  string
	logOutput string

	// Populated in PersistentPreRunE.
	rootLogger *slog.Logger
	appViper   *viper.Viper
	appConfig  *config.Config
	dbConn     *sql.DB
	logFile    *os.File
)

var rootCmd = &cobra.Command{
	Use:   "zipstage",
	Short: "Stage archives into object storage and extract their entries incrementally.",
	Long: `zipstage lists archives under configured prefixes of an object store, downloads
each one, and writes every entry that is not already present under the archive's
destination prefix. Runs are idempotent: entries already extracted are skipped.

The primary command is 'run', which uploads local archives and then extracts.
Other commands show the ledger event history, past batch summaries, parquet
reports and the effective configuration.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel, logFormat, logOutput)
		if err != nil {
			return err
		}
		rootLogger = logger
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized.", "level", logLevel, "format", logFormat, "output", logOutput)

		appViper = config.NewViper(cfgFile)
		if err := bindFlags(appViper, cmd); err != nil {
			return err
		}
		cfg, err := config.Load(appViper)
		if err != nil {
			return err
		}
		appConfig = cfg
		if used := appViper.ConfigFileUsed(); used != "" {
			rootLogger.Info("Loaded config file.", slog.String("path", used))
		}
		rootLogger.Debug("Configuration loaded.", slog.Any("config", appConfig))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if dbConn != nil {
			rootLogger.Debug("Closing DuckDB connection.")
			if err := dbConn.Close(); err != nil {
				rootLogger.Error("Failed to close DuckDB connection cleanly.", "error", err)
			}
			dbConn = nil
		}
		if logFile != nil {
			logFile.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed.", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./.zipstage.yaml or $HOME/.zipstage.yaml)")
	pf.StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")
	pf.StringP("db-path", "d", config.DefaultDbPath, "Path to the DuckDB ledger (empty disables the ledger)")
	pf.StringP("bucket", "b", config.DefaultBucket, "Bucket holding archives and extracted entries")
	pf.String("backend", config.DefaultBackend, "Storage backend (s3, local, http, memory)")
	pf.String("local-root", "", "Root directory for the local backend")

	rootCmd.Version = "0.1.0"
}

// persistentBindings maps persistent flags onto config keys.
var persistentBindings = map[string]string{
	"db-path":    "db_path",
	"bucket":     "bucket",
	"backend":    "storage.backend",
	"local-root": "storage.local_root",
}

// commandBindings maps command-local flags onto config keys.
var commandBindings = map[string]string{
	"chunk-size":    "extraction.chunk_size",
	"chunk-workers": "extraction.chunk_workers",
	"year":          "extraction.year",
	"month":         "extraction.month",
	"parquet-dir":   "report.parquet_dir",
}

// bindFlags binds explicitly set flags so they override file and env values.
// Flags left at their defaults are not bound, leaving viper's own defaults and
// the config file in charge.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	bind := func(name, key string) error {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			return nil
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
		return nil
	}
	for name, key := range persistentBindings {
		if err := bind(name, key); err != nil {
			return err
		}
	}
	for name, key := range commandBindings {
		if err := bind(name, key); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level, format, output string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	w, err := logWriter(output)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func logWriter(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", output, err)
	}
	// Only the newest file stays open; a logger built earlier stops writing.
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	return f, nil
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getConfig() *config.Config {
	return appConfig
}

// getDB opens the ledger on first use. It returns nil when the ledger is
// disabled by an empty db path.
func getDB() (*sql.DB, error) {
	if dbConn != nil {
		return dbConn, nil
	}
	cfg := getConfig()
	if cfg.DbPath == "" {
		return nil, nil
	}
	if dir := filepath.Dir(cfg.DbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	getLogger().Debug("Opening DuckDB ledger.", slog.String("path", cfg.DbPath))
	conn, err := db.Open(cfg.DbPath)
	if err != nil {
		return nil, err
	}
	dbConn = conn
	return dbConn, nil
}

// requireDB is getDB for commands that cannot work without the ledger.
func requireDB() (*sql.DB, error) {
	conn, err := getDB()
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("the ledger is disabled (empty db_path)")
	}
	return conn, nil
}

// recorder wraps the ledger as a pipeline recorder, or returns nil when the
// ledger is disabled.
func recorder(logger *slog.Logger) (orchestrator.Recorder, error) {
	conn, err := getDB()
	if err != nil || conn == nil {
		return nil, err
	}
	return &db.Ledger{DB: conn, Logger: logger}, nil
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jchantrell/mpqdb/internal/config"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	cfg     *config.Config
	cfgFile string

	archivePath string
	dbPath      string
	outputDir   string
	listfiles   []string
	workers     int
	logLevel    string
	logFormat   string
	noProgress  bool
)

var rootCmd = &cobra.Command{
	Use:   "mpqdb",
	Short: "MPQ archive inspection and extraction tool",
	Long: `mpqdb is a tool for working with MPQ (Mo'PaQ) game archives: listing
entries, resolving filenames through the archive's listfile, extracting
decoded contents, and cataloguing entry metadata into a queryable SQLite
database.

Supports MPQ format V1 and V2 archives, including encrypted and compressed
entries and patch archive metadata.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if cmd.Flags().Changed("archive") {
			cfg.Archive = archivePath
		}
		if cmd.Flags().Changed("database") {
			cfg.Database = dbPath
		}
		if cmd.Flags().Changed("output") {
			cfg.Output = outputDir
		}
		if cmd.Flags().Changed("listfiles") {
			cfg.Listfiles = listfiles
		}
		if cmd.Flags().Changed("workers") {
			cfg.Workers = workers
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = logFormat
		}

		var level slog.Level
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var handler slog.Handler
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})
		} else {
			handler = tint.NewHandler(os.Stderr, &tint.Options{
				Level: level,
			})
		}

		logger := slog.New(handler)
		slog.SetDefault(logger)

		slog.Debug("Configuration",
			"archive", cfg.Archive,
			"database", cfg.Database,
			"output", cfg.Output,
			"listfiles", cfg.Listfiles,
			"workers", cfg.Workers,
			"log_level", cfg.LogLevel,
			"log_format", cfg.LogFormat)

		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is mpqdb.yaml in pwd)")
	rootCmd.PersistentFlags().StringVarP(&archivePath, "archive", "a", "", "path to the MPQ archive")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "", "catalog database file path")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output directory for extracted files")
	rootCmd.PersistentFlags().StringSliceVar(&listfiles, "listfiles", []string{}, "comma-separated list of external listfile paths")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 4, "number of parallel extraction workers")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable progress bar")
}

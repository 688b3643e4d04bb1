package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jchantrell/mpqdb/internal/extract"
	"github.com/jchantrell/mpqdb/internal/mpq"
	"github.com/jchantrell/mpqdb/internal/utils"
	"github.com/spf13/cobra"
)

type ExtractionStats struct {
	StartTime      time.Time
	EndTime        time.Time
	TotalEntries   int
	Extracted      int
	BytesExtracted int64
}

var extractCmd = &cobra.Command{
	Use:   "extract [names...]",
	Short: "Extract archive entries to the output directory",
	Long: `Extract decodes archive entries and writes them under the output
directory, mirroring the archive's folder structure. With no arguments
every entry whose name resolves through the listfiles is extracted;
otherwise only the named entries are.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Archive == "" {
			return fmt.Errorf("no archive specified, use --archive")
		}

		stats := &ExtractionStats{StartTime: time.Now()}

		archive, err := mpq.Open(cfg.Archive)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer archive.Close()

		if _, err := archive.LoadListfile(); err != nil {
			return fmt.Errorf("loading listfile: %w", err)
		}
		for _, path := range cfg.Listfiles {
			if _, err := archive.LoadExternalListfile(path); err != nil {
				return fmt.Errorf("loading external listfile: %w", err)
			}
		}

		names := args
		if len(names) == 0 {
			names = extract.ListedNames(archive)
		}
		if len(names) == 0 {
			slog.Info("No named entries to extract")
			return nil
		}

		stats.TotalEntries = len(names)
		slog.Info("Starting extraction...", "entries", len(names), "output", cfg.Output, "workers", cfg.Workers)

		progress := utils.NewProgress(len(names), !(noProgress || cfg.LogFormat == "json" || cfg.LogLevel == "debug"))

		extractor := extract.New(archive, cfg.Output, cfg.Workers)
		err = extractor.ExtractFiles(context.Background(), names, func(current, total int, description string) {
			progress.Update(current, description)
		})
		progress.Finish()
		if err != nil {
			return fmt.Errorf("extracting entries: %w", err)
		}

		stats.Extracted = len(names)
		for _, name := range names {
			if f, err := archive.OpenFile(name); err == nil {
				stats.BytesExtracted += int64(f.Size())
			}
		}
		stats.EndTime = time.Now()

		fmt.Printf("Entries extracted: %s/%s\n",
			utils.Number(int64(stats.Extracted)), utils.Number(int64(stats.TotalEntries)))
		fmt.Printf("Bytes written: %s\n", utils.Bytes(stats.BytesExtracted))
		fmt.Printf("Duration: %s\n", utils.Duration(stats.EndTime.Sub(stats.StartTime)))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}

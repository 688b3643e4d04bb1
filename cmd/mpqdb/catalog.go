package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jchantrell/mpqdb/internal/database"
	"github.com/jchantrell/mpqdb/internal/mpq"
	"github.com/jchantrell/mpqdb/internal/utils"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Catalog archive entry metadata into a SQLite database",
	Long: `Catalog opens an archive, resolves entry names through the listfiles,
and writes one row per block table entry into the catalog database. The
resulting tables can be explored with the query command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Archive == "" {
			return fmt.Errorf("no archive specified, use --archive")
		}

		ctx := context.Background()
		start := time.Now()

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

		dbOptions := database.DefaultDatabaseOptions(cfg.Database)

		db, err := database.NewDatabase(dbOptions)
		if err != nil {
			return fmt.Errorf("creating database: %w", err)
		}
		defer db.Close()

		cataloger := database.NewCataloger(db, nil)
		if err := cataloger.CreateSchema(ctx); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}

		archiveID, err := cataloger.InsertArchive(ctx, &database.ArchiveRecord{
			Path:          archive.Path(),
			FormatVersion: archive.FormatVersion(),
			SectorSize:    archive.SectorSize(),
			EntryCount:    archive.FileCount(),
		})
		if err != nil {
			return fmt.Errorf("inserting archive: %w", err)
		}

		entries := make([]database.EntryRecord, 0, archive.FileCount())
		for _, f := range archive.Files() {
			entries = append(entries, database.EntryRecord{
				BlockIndex:     f.Index(),
				Name:           f.Name(),
				Listed:         f.Listed(),
				Locale:         f.Locale(),
				Offset:         f.Offset(),
				CompressedSize: f.CompressedSize(),
				FileSize:       f.Size(),
				Flags:          f.Flags(),
				Compressed:     f.Flags()&(mpq.FlagCompress|mpq.FlagImplode) != 0,
				Encrypted:      f.Flags()&mpq.FlagEncrypted != 0,
				Patch:          f.IsPatch(),
			})
		}

		slog.Info("Cataloguing entries", "count", len(entries), "database", cfg.Database)
		if err := cataloger.InsertEntries(ctx, archiveID, entries); err != nil {
			return fmt.Errorf("inserting entries: %w", err)
		}

		fmt.Printf("Entries catalogued: %s\n", utils.Number(int64(len(entries))))
		fmt.Printf("Duration: %s\n", utils.Duration(time.Since(start)))
		fmt.Println("Try running: mpqdb query --tables")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}

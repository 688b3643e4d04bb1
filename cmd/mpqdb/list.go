package main

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jchantrell/mpqdb/internal/mpq"
	"github.com/jchantrell/mpqdb/internal/utils"
	"github.com/spf13/cobra"
)

var (
	showUnnamed bool
	longListing bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the entries of an MPQ archive",
	Long: `List opens an archive, resolves entry names through the archive's
listfile and any configured external listfiles, and prints one line per
entry. Entries whose names could not be resolved are hidden unless
--unnamed is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Archive == "" {
			return fmt.Errorf("no archive specified, use --archive")
		}

		archive, err := mpq.Open(cfg.Archive)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer archive.Close()

		resolved, err := archive.LoadListfile()
		if err != nil {
			return fmt.Errorf("loading listfile: %w", err)
		}

		for _, path := range cfg.Listfiles {
			n, err := archive.LoadExternalListfile(path)
			if err != nil {
				return fmt.Errorf("loading external listfile: %w", err)
			}
			resolved += n
		}

		slog.Debug("Names resolved", "count", resolved, "entries", archive.FileCount())

		files := make([]*mpq.File, 0, archive.FileCount())
		for _, f := range archive.Files() {
			if f.Flags()&mpq.FlagExists == 0 {
				continue
			}
			if f.Name() == "" && !showUnnamed {
				continue
			}
			files = append(files, f)
		}

		sort.Slice(files, func(i, j int) bool {
			if files[i].Name() != files[j].Name() {
				return files[i].Name() < files[j].Name()
			}
			return files[i].Index() < files[j].Index()
		})

		named := 0
		var totalSize int64
		for _, f := range files {
			name := f.Name()
			if name != "" {
				named++
			} else {
				name = fmt.Sprintf("(block %d)", f.Index())
			}
			totalSize += int64(f.Size())

			if longListing {
				fmt.Printf("%s %10s %10s %#06x  %s\n",
					utils.FlagString(f.Flags()),
					utils.Bytes(int64(f.CompressedSize())),
					utils.Bytes(int64(f.Size())),
					f.Locale(),
					name)
			} else {
				fmt.Printf("%10s  %s\n", utils.Bytes(int64(f.Size())), name)
			}
		}

		fmt.Printf("\n%s entries (%s named), %s total\n",
			utils.Number(int64(len(files))),
			utils.Number(int64(named)),
			utils.Bytes(totalSize))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&showUnnamed, "unnamed", false, "Include entries whose names could not be resolved")
	listCmd.Flags().BoolVarP(&longListing, "long", "l", false, "Show flags, sizes and locale per entry")
}

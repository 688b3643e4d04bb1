package database

import (
	"context"
	"fmt"
	"log/slog"
)

// ArchiveRecord describes one catalogued archive.
type ArchiveRecord struct {
	Path          string
	FormatVersion uint16
	SectorSize    uint32
	EntryCount    int
}

// EntryRecord describes one archive entry for the catalog. Name is empty and
// Listed false while the entry's name is unresolved.
type EntryRecord struct {
	BlockIndex     uint32
	Name           string
	Listed         bool
	Locale         uint16
	Offset         int64
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
	Compressed     bool
	Encrypted      bool
	Patch          bool
}

// CatalogOptions configures catalog writes
type CatalogOptions struct {
	// BatchSize is the number of entry rows inserted per statement
	BatchSize int
}

// DefaultCatalogOptions returns sensible catalog defaults
func DefaultCatalogOptions() *CatalogOptions {
	return &CatalogOptions{BatchSize: 500}
}

// Cataloger writes archive metadata into the catalog tables
type Cataloger struct {
	db      *Database
	options *CatalogOptions
}

// NewCataloger creates a cataloger over an open database
func NewCataloger(db *Database, options *CatalogOptions) *Cataloger {
	if options == nil {
		options = DefaultCatalogOptions()
	}
	return &Cataloger{db: db, options: options}
}

// CreateSchema creates the catalog tables if they do not exist
func (c *Cataloger) CreateSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS archives (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL,
			format_version INTEGER NOT NULL,
			sector_size INTEGER NOT NULL,
			entry_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			archive_id INTEGER NOT NULL REFERENCES archives(id),
			block_index INTEGER NOT NULL,
			name TEXT NOT NULL,
			listed INTEGER NOT NULL,
			locale INTEGER NOT NULL,
			offset INTEGER NOT NULL,
			compressed_size INTEGER NOT NULL,
			file_size INTEGER NOT NULL,
			flags INTEGER NOT NULL,
			compressed INTEGER NOT NULL,
			encrypted INTEGER NOT NULL,
			patch INTEGER NOT NULL,
			PRIMARY KEY (archive_id, block_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_name ON entries(name)`,
	}

	for _, stmt := range ddl {
		if _, err := c.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating catalog schema: %w", err)
		}
	}

	return nil
}

// InsertArchive inserts an archive row and returns its catalog id
func (c *Cataloger) InsertArchive(ctx context.Context, rec *ArchiveRecord) (int64, error) {
	result, err := c.db.Exec(ctx,
		`INSERT INTO archives (path, format_version, sector_size, entry_count) VALUES (?, ?, ?, ?)`,
		rec.Path, rec.FormatVersion, rec.SectorSize, rec.EntryCount)
	if err != nil {
		return 0, fmt.Errorf("inserting archive row: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading archive row id: %w", err)
	}

	return id, nil
}

// InsertEntries inserts entry rows in batched transactions
func (c *Cataloger) InsertEntries(ctx context.Context, archiveID int64, entries []EntryRecord) error {
	batchSize := c.options.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	for start := 0; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}

		if err := c.insertBatch(ctx, archiveID, entries[start:end]); err != nil {
			return fmt.Errorf("inserting entries %d-%d: %w", start, end, err)
		}

		slog.Debug("Inserted entry batch", "from", start, "to", end, "total", len(entries))
	}

	return nil
}

func (c *Cataloger) insertBatch(ctx context.Context, archiveID int64, entries []EntryRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (archive_id, block_index, name, listed, locale, offset,
			compressed_size, file_size, flags, compressed, encrypted, patch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			archiveID, e.BlockIndex, e.Name, e.Listed, e.Locale, e.Offset,
			e.CompressedSize, e.FileSize, e.Flags, e.Compressed, e.Encrypted, e.Patch)
		if err != nil {
			return fmt.Errorf("inserting entry %d: %w", e.BlockIndex, err)
		}
	}

	return tx.Commit()
}

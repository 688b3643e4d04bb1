package mpq

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// payloadCacheSize bounds the number of decoded file payloads kept in
// memory. Listfiles and patch bases get read repeatedly; everything else is
// usually streamed once.
const payloadCacheSize = 64

// Archive is an opened MPQ archive. It owns one File descriptor per block
// table row and coordinates name resolution across them: concurrent
// resolution strategies are serialized per the single-writer discipline the
// descriptors assume.
type Archive struct {
	src           io.ReaderAt
	closer        io.Closer
	path          string
	archiveOffset int64
	size          int64

	header     *header
	sectorSize uint32
	hashTable  []hashEntry
	files      []*File

	// nameMu serializes OfferName calls against descriptors.
	nameMu sync.Mutex

	payloads *lru.Cache[uint32, []byte]
}

// Open opens an archive file for reading.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	a, err := NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	a.path = path
	a.closer = f
	return a, nil
}

// NewReader opens an archive from an arbitrary random-access source.
func NewReader(src io.ReaderAt, size int64) (*Archive, error) {
	hdr, archiveOffset, err := findHeader(src, size)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		src:           src,
		archiveOffset: archiveOffset,
		size:          size,
		header:        hdr,
		sectorSize:    hdr.sectorSize(),
	}

	a.payloads, err = lru.New[uint32, []byte](payloadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating payload cache: %w", err)
	}

	if err := a.loadTables(); err != nil {
		return nil, err
	}

	slog.Debug("Archive opened",
		"offset", archiveOffset,
		"format_version", hdr.FormatVersion,
		"hash_table_size", hdr.HashTableSize,
		"block_table_size", hdr.BlockTableSize)

	return a, nil
}

// loadTables reads the hash and block tables, builds one descriptor per
// block table row and binds hash entries to descriptors. Binding happens
// here, before any name resolution can run, and each descriptor is bound at
// most once.
func (a *Archive) loadTables() error {
	hashOff := a.archiveOffset + a.header.hashTableOffset64()
	if err := checkTableBounds(hashOff, a.header.HashTableSize, 16, a.size); err != nil {
		return fmt.Errorf("hash table: %w", err)
	}
	hashTable, err := readHashTable(a.src, hashOff, a.header.HashTableSize)
	if err != nil {
		return err
	}
	a.hashTable = hashTable

	blockOff := a.archiveOffset + a.header.blockTableOffset64()
	if err := checkTableBounds(blockOff, a.header.BlockTableSize, 16, a.size); err != nil {
		return fmt.Errorf("block table: %w", err)
	}
	blockTable, err := readBlockTable(a.src, blockOff, a.header.BlockTableSize)
	if err != nil {
		return err
	}

	if a.header.FormatVersion >= formatVersion2 && a.header.HiBlockTableOffset != 0 {
		hiOff := a.archiveOffset + int64(a.header.HiBlockTableOffset)
		if err := checkTableBounds(hiOff, a.header.BlockTableSize, 2, a.size); err != nil {
			return fmt.Errorf("hi-block table: %w", err)
		}
		hi, err := readHiBlockTable(a.src, hiOff, a.header.BlockTableSize)
		if err != nil {
			return err
		}
		for i := range blockTable {
			blockTable[i].FilePosHi = hi[i]
		}
	}

	a.files = make([]*File, len(blockTable))
	for i, b := range blockTable {
		f, err := newFile(a, uint32(i), b)
		if err != nil {
			return fmt.Errorf("building entry %d: %w", i, err)
		}
		a.files[i] = f
	}

	for i := range a.hashTable {
		e := &a.hashTable[i]
		if e.BlockIndex >= uint32(len(a.files)) {
			continue
		}
		if f := a.files[e.BlockIndex]; f.hashEnt == nil {
			f.bindHash(e)
		}
	}

	return nil
}

// Close releases the underlying file, if the archive owns one.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// Path returns the path the archive was opened from, or "" for reader-backed
// archives.
func (a *Archive) Path() string { return a.path }

// Files returns all descriptors in block table order.
func (a *Archive) Files() []*File { return a.files }

// FileCount returns the number of block table entries.
func (a *Archive) FileCount() int { return len(a.files) }

// SectorSize returns the archive's uncompressed sector size.
func (a *Archive) SectorSize() uint32 { return a.sectorSize }

// FormatVersion returns the archive's header format version.
func (a *Archive) FormatVersion() uint16 { return a.header.FormatVersion }

// findHash locates the hash table entry for a name, probing linearly from
// the name's table offset hash. Empty slots stop the probe; deleted slots
// are skipped.
func (a *Archive) findHash(name string) *hashEntry {
	size := uint32(len(a.hashTable))
	if size == 0 {
		return nil
	}

	hashA := hashString(name, hashNameA)
	hashB := hashString(name, hashNameB)
	start := hashString(name, hashTableOffset) % size

	for i := uint32(0); i < size; i++ {
		e := &a.hashTable[(start+i)%size]

		if e.BlockIndex == blockIndexEmpty {
			break
		}
		if e.BlockIndex == blockIndexDeleted {
			continue
		}
		if e.HashA == hashA && e.HashB == hashB && e.BlockIndex < uint32(len(a.files)) {
			return e
		}
	}

	return nil
}

// OpenFile resolves a name through the hash table and returns its
// descriptor. The looked-up name is offered to the descriptor through the
// caching path, so the seed is available for decoding; it is not marked
// listed, since the name came from the caller rather than the listfile.
func (a *Archive) OpenFile(name string) (*File, error) {
	e := a.findHash(name)
	if e == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrFileNotFound)
	}

	f := a.files[e.BlockIndex]
	if f.flags&FlagExists == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrFileNotFound)
	}

	a.offerName(f, name, true, false)
	return f, nil
}

// HasFile reports whether a name resolves through the hash table.
func (a *Archive) HasFile(name string) bool {
	e := a.findHash(name)
	return e != nil && a.files[e.BlockIndex].flags&FlagExists != 0
}

// ReadFile returns the decoded contents of a named entry. Payloads are
// cached by block index, so repeated reads of listfiles and patch bases do
// not decode twice.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	f, err := a.OpenFile(name)
	if err != nil {
		return nil, err
	}

	if data, ok := a.payloads.Get(f.index); ok {
		return data, nil
	}

	data, err := f.decode(nil)
	if err != nil {
		return nil, err
	}
	a.payloads.Add(f.index, data)

	return data, nil
}

// offerName runs a descriptor's name resolution under the archive's
// serialization lock.
func (a *Archive) offerName(f *File, name string, cache, listed bool) {
	a.nameMu.Lock()
	defer a.nameMu.Unlock()
	f.OfferName(name, cache, listed)
}

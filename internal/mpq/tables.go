package mpq

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// blockIndexEmpty marks a hash table slot that has never been used;
	// probing stops here.
	blockIndexEmpty = 0xFFFFFFFF
	// blockIndexDeleted marks a slot whose file was deleted; probing
	// continues past it.
	blockIndexDeleted = 0xFFFFFFFE
)

// hashEntry is one slot of the archive's hash table, mapping a name/locale
// pair to a block table index.
type hashEntry struct {
	HashA      uint32
	HashB      uint32
	Locale     uint16
	Platform   uint16
	BlockIndex uint32
}

// blockEntry is one row of the archive's block table: the placement, sizes
// and flags of a stored file. FilePosHi carries the V2 extended offset bits.
type blockEntry struct {
	FilePos        uint32
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
	FilePosHi      uint16
}

// filePos64 returns the entry's data offset including the V2 high bits.
func (b *blockEntry) filePos64() int64 {
	return int64(b.FilePosHi)<<32 | int64(b.FilePos)
}

// readHashTable reads and decrypts the hash table. The table is encrypted
// with the well-known "(hash table)" file key.
func readHashTable(r io.ReaderAt, off int64, count uint32) ([]hashEntry, error) {
	words, err := readEncryptedTable(r, off, count, hashString("(hash table)", hashFileKey))
	if err != nil {
		return nil, fmt.Errorf("reading hash table: %w", err)
	}

	entries := make([]hashEntry, count)
	for i := range entries {
		entries[i] = hashEntry{
			HashA:      words[i*4],
			HashB:      words[i*4+1],
			Locale:     uint16(words[i*4+2] & 0xFFFF),
			Platform:   uint16(words[i*4+2] >> 16),
			BlockIndex: words[i*4+3],
		}
	}
	return entries, nil
}

// readBlockTable reads and decrypts the block table, encrypted with the
// "(block table)" file key.
func readBlockTable(r io.ReaderAt, off int64, count uint32) ([]blockEntry, error) {
	words, err := readEncryptedTable(r, off, count, hashString("(block table)", hashFileKey))
	if err != nil {
		return nil, fmt.Errorf("reading block table: %w", err)
	}

	entries := make([]blockEntry, count)
	for i := range entries {
		entries[i] = blockEntry{
			FilePos:        words[i*4],
			CompressedSize: words[i*4+1],
			FileSize:       words[i*4+2],
			Flags:          words[i*4+3],
		}
	}
	return entries, nil
}

// readHiBlockTable reads the V2 extended block table of 16-bit high offset
// words. It is stored unencrypted.
func readHiBlockTable(r io.ReaderAt, off int64, count uint32) ([]uint16, error) {
	buf := make([]byte, int64(count)*2)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("reading hi-block table: %w", err)
	}

	hi := make([]uint16, count)
	for i := range hi {
		hi[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	return hi, nil
}

// checkTableBounds rejects a header-declared table that cannot fit between
// its offset and the end of the file, before the declared count drives an
// allocation.
func checkTableBounds(off int64, count uint32, entrySize, fileSize int64) error {
	if off < 0 || off > fileSize {
		return fmt.Errorf("table offset 0x%X outside file of %d bytes", off, fileSize)
	}
	if int64(count) > (fileSize-off)/entrySize {
		return fmt.Errorf("%d entries at 0x%X exceed file of %d bytes", count, off, fileSize)
	}
	return nil
}

// readEncryptedTable reads count*4 uint32 words at off and decrypts them with
// the given key.
func readEncryptedTable(r io.ReaderAt, off int64, count uint32, key uint32) ([]uint32, error) {
	buf := make([]byte, int64(count)*16)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("reading %d entries at 0x%X: %w", count, off, err)
	}

	words := make([]uint32, int64(count)*4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	decryptBlock(words, key)

	return words, nil
}

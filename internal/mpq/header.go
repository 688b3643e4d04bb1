package mpq

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// headerMagic is "MPQ\x1A", the archive header signature.
	headerMagic = 0x1A51504D
	// userDataMagic is "MPQ\x1B", a shunt block that points at the real
	// header further into the file.
	userDataMagic = 0x1B51504D

	headerSizeV1 = 32
	headerSizeV2 = 44

	formatVersion1 = 0
	formatVersion2 = 1

	// Headers only ever start on 512-byte boundaries.
	headerAlign = 0x200
)

// header is the archive header, covering both the V1 layout and the V2
// extension fields (zero for V1 archives).
type header struct {
	Magic            uint32
	HeaderSize       uint32
	ArchiveSize      uint32
	FormatVersion    uint16
	SectorSizeShift  uint16
	HashTableOffset  uint32
	BlockTableOffset uint32
	HashTableSize    uint32
	BlockTableSize   uint32

	// V2 extension
	HiBlockTableOffset uint64
	HashTableOffsetHi  uint16
	BlockTableOffsetHi uint16
}

// findHeader scans the file for the archive header, honoring user data
// blocks. It returns the parsed header and its absolute offset, which all
// table and data offsets are relative to.
func findHeader(r io.ReaderAt, size int64) (*header, int64, error) {
	buf := make([]byte, headerSizeV2)

	for off := int64(0); off < size; off += headerAlign {
		n, err := r.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return nil, 0, fmt.Errorf("reading header candidate at 0x%X: %w", off, err)
		}
		if n < 4 {
			break
		}

		switch binary.LittleEndian.Uint32(buf) {
		case userDataMagic:
			// Skip ahead to the real header. Offset to it lives at +8.
			if n < 12 {
				return nil, 0, fmt.Errorf("truncated user data block at 0x%X", off)
			}
			target := off + int64(binary.LittleEndian.Uint32(buf[8:]))
			hdr, err := parseHeader(r, target)
			if err != nil {
				return nil, 0, err
			}
			return hdr, target, nil

		case headerMagic:
			hdr, err := parseHeader(r, off)
			if err != nil {
				return nil, 0, err
			}
			return hdr, off, nil
		}
	}

	return nil, 0, fmt.Errorf("no archive header found in %d bytes", size)
}

func parseHeader(r io.ReaderAt, off int64) (*header, error) {
	buf := make([]byte, headerSizeV2)
	if _, err := r.ReadAt(buf[:headerSizeV1], off); err != nil {
		return nil, fmt.Errorf("reading header at 0x%X: %w", off, err)
	}

	h := &header{
		Magic:            binary.LittleEndian.Uint32(buf[0:]),
		HeaderSize:       binary.LittleEndian.Uint32(buf[4:]),
		ArchiveSize:      binary.LittleEndian.Uint32(buf[8:]),
		FormatVersion:    binary.LittleEndian.Uint16(buf[12:]),
		SectorSizeShift:  binary.LittleEndian.Uint16(buf[14:]),
		HashTableOffset:  binary.LittleEndian.Uint32(buf[16:]),
		BlockTableOffset: binary.LittleEndian.Uint32(buf[20:]),
		HashTableSize:    binary.LittleEndian.Uint32(buf[24:]),
		BlockTableSize:   binary.LittleEndian.Uint32(buf[28:]),
	}

	if h.Magic != headerMagic {
		return nil, fmt.Errorf("invalid header magic 0x%08X at 0x%X", h.Magic, off)
	}
	if h.FormatVersion > formatVersion2 {
		return nil, fmt.Errorf("unsupported format version %d (only V1 and V2 are supported)", h.FormatVersion)
	}

	if h.FormatVersion >= formatVersion2 && h.HeaderSize >= headerSizeV2 {
		if _, err := r.ReadAt(buf[headerSizeV1:headerSizeV2], off+headerSizeV1); err != nil {
			return nil, fmt.Errorf("reading V2 header extension at 0x%X: %w", off, err)
		}
		h.HiBlockTableOffset = binary.LittleEndian.Uint64(buf[32:])
		h.HashTableOffsetHi = binary.LittleEndian.Uint16(buf[40:])
		h.BlockTableOffsetHi = binary.LittleEndian.Uint16(buf[42:])
	}

	return h, nil
}

// hashTableOffset64 returns the absolute-within-archive hash table offset,
// including the V2 high bits.
func (h *header) hashTableOffset64() int64 {
	return int64(h.HashTableOffsetHi)<<32 | int64(h.HashTableOffset)
}

// blockTableOffset64 returns the absolute-within-archive block table offset,
// including the V2 high bits.
func (h *header) blockTableOffset64() int64 {
	return int64(h.BlockTableOffsetHi)<<32 | int64(h.BlockTableOffset)
}

// sectorSize returns the size of one uncompressed sector.
func (h *header) sectorSize() uint32 {
	return 512 << h.SectorSizeShift
}

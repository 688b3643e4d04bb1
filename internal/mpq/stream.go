package mpq

import (
	"encoding/binary"
	"fmt"
	"io"
)

// fileReader is a single-use stream over an entry's decoded contents. The
// decode happens lazily on the first Read, so acquiring a stream never
// performs I/O by itself.
type fileReader struct {
	f    *File
	base ByteSource

	loaded bool
	data   []byte
	pos    int
	err    error
}

func newFileReader(f *File, base ByteSource) *fileReader {
	return &fileReader{f: f, base: base}
}

func (r *fileReader) Read(p []byte) (int, error) {
	if !r.loaded {
		r.data, r.err = r.f.decode(r.base)
		r.loaded = true
	}
	if r.err != nil {
		return 0, r.err
	}
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}

	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *fileReader) Close() error {
	r.data = nil
	r.err = fmt.Errorf("stream closed")
	r.loaded = true
	return nil
}

// decode reads, decrypts and decompresses the entry's stored bytes. When a
// base source is supplied for a patch entry, the patch transform is applied
// against it and the reconstructed contents are returned.
func (f *File) decode(base ByteSource) ([]byte, error) {
	raw := make([]byte, f.compressedSize)
	if f.compressedSize > 0 {
		off := f.archive.archiveOffset + f.offset
		if _, err := f.archive.src.ReadAt(raw, off); err != nil {
			return nil, fmt.Errorf("reading %s at 0x%X: %w", f.displayName(), off, err)
		}
	}

	key := f.seed
	if f.flags&FlagEncrypted != 0 {
		if key == 0 {
			return nil, fmt.Errorf("%s: %w", f.displayName(), ErrUnknownKey)
		}
		if f.flags&FlagFixKey != 0 {
			key = (key + uint32(f.offset)) ^ f.fileSize
		}
	}

	out, err := f.decodeBlock(raw, key)
	if err != nil {
		return nil, err
	}

	if f.flags&FlagPatchFile != 0 && base != nil {
		baseData := make([]byte, base.Size())
		if _, err := io.ReadFull(io.NewSectionReader(base, 0, base.Size()), baseData); err != nil {
			return nil, fmt.Errorf("reading patch base for %s: %w", f.displayName(), err)
		}
		out, err = applyPatch(out, baseData)
		if err != nil {
			return nil, fmt.Errorf("applying patch %s: %w", f.displayName(), err)
		}
	}

	return out, nil
}

func (f *File) decodeBlock(raw []byte, key uint32) ([]byte, error) {
	compressed := f.flags&(FlagCompress|FlagImplode) != 0 && f.compressedSize < f.fileSize

	// Single-unit entries are stored as one block, no sector table.
	if f.flags&FlagSingleUnit != 0 || !compressed {
		if f.flags&FlagSingleUnit != 0 {
			if f.flags&FlagEncrypted != 0 {
				decryptBytes(raw, key)
			}
			if compressed {
				return f.decompressSector(raw, f.fileSize)
			}
			return raw[:min(len(raw), int(f.fileSize))], nil
		}

		// Sectored but uncompressed: contiguous sectors, individually
		// encrypted when the flag is set.
		if f.flags&FlagEncrypted != 0 {
			sectorSize := int(f.archive.sectorSize)
			for i, p := 0, 0; p < len(raw); i, p = i+1, p+sectorSize {
				end := min(p+sectorSize, len(raw))
				decryptBytes(raw[p:end], key+uint32(i))
			}
		}
		return raw[:min(len(raw), int(f.fileSize))], nil
	}

	return f.decodeSectors(raw, key)
}

// decodeSectors handles the common sectored layout: an offset table followed
// by individually compressed (and possibly encrypted) sectors.
func (f *File) decodeSectors(raw []byte, key uint32) ([]byte, error) {
	sectorSize := f.archive.sectorSize
	numSectors := (f.fileSize + sectorSize - 1) / sectorSize

	tableLen := numSectors + 1
	if f.flags&FlagSectorCRC != 0 {
		// One extra entry bounds the trailing checksum sector.
		tableLen++
	}

	if uint32(len(raw)) < tableLen*4 {
		return nil, fmt.Errorf("%s: data too small for sector table (%d entries)", f.displayName(), tableLen)
	}

	offsets := make([]uint32, tableLen)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	if f.flags&FlagEncrypted != 0 {
		// The offset table is encrypted with key-1.
		decryptBlock(offsets, key-1)
	}

	out := make([]byte, 0, f.fileSize)
	for i := uint32(0); i < numSectors; i++ {
		start, end := offsets[i], offsets[i+1]
		if start > uint32(len(raw)) || end > uint32(len(raw)) || end < start {
			return nil, fmt.Errorf("%s: invalid sector bounds %d-%d", f.displayName(), start, end)
		}

		sector := make([]byte, end-start)
		copy(sector, raw[start:end])

		if f.flags&FlagEncrypted != 0 {
			decryptBytes(sector, key+i)
		}

		expected := sectorSize
		if i == numSectors-1 {
			expected = f.fileSize - i*sectorSize
		}

		if uint32(len(sector)) < expected {
			decoded, err := f.decompressSector(sector, expected)
			if err != nil {
				return nil, err
			}
			out = append(out, decoded...)
		} else {
			out = append(out, sector...)
		}
	}

	return out, nil
}

func (f *File) decompressSector(sector []byte, expected uint32) ([]byte, error) {
	if f.flags&FlagImplode != 0 {
		return nil, fmt.Errorf("%s: pkware implode: %w", f.displayName(), ErrUnsupportedCompression)
	}
	out, err := decompress(sector, expected)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.displayName(), err)
	}
	return out, nil
}

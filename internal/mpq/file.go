package mpq

import (
	"fmt"
	"io"
)

// Block table flags.
const (
	FlagImplode      = 0x00000100 // PKWare imploded (no compression mask byte)
	FlagCompress     = 0x00000200 // compressed, first sector byte is the method mask
	FlagEncrypted    = 0x00010000 // sectors encrypted with the name-derived seed
	FlagFixKey       = 0x00020000 // seed adjusted by block position before use
	FlagPatchFile    = 0x00100000 // contents are a patch against a base archive's entry
	FlagSingleUnit   = 0x01000000 // stored as one unit instead of sectors
	FlagDeleteMarker = 0x02000000 // entry deleted by a patch
	FlagSectorCRC    = 0x04000000 // sector checksums appended to the offset table
	FlagExists       = 0x80000000 // block table row is in use
)

// ByteSource provides random access to the bytes of a base (pre-patch) file,
// used when reconstructing patch entries.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// File describes one entry of an archive: its placement and flags from the
// block table, and the lazily resolved name, decryption seed and listed
// state.
//
// Name resolution is deliberately permissive: several strategies (listfile
// scan, explicit lookup, guesses) may all offer candidate names, and only the
// first caching offer wins for ordinary entries. The descriptor itself does
// no locking; the owning Archive serializes offers (see Archive.offerName).
type File struct {
	archive *Archive
	hashEnt *hashEntry

	index          uint32
	offset         int64
	compressedSize uint32
	fileSize       uint32
	flags          uint32

	name   string
	seed   uint32
	listed bool
}

// newFile constructs a descriptor for one block table row. A descriptor
// cannot exist without its owning archive.
func newFile(a *Archive, index uint32, b blockEntry) (*File, error) {
	if a == nil {
		return nil, ErrNoArchive
	}

	return &File{
		archive:        a,
		index:          index,
		offset:         b.filePos64(),
		compressedSize: b.CompressedSize,
		fileSize:       b.FileSize,
		flags:          b.Flags,
	}, nil
}

// bindHash associates the descriptor with the hash table entry that mapped a
// name/locale pair to its block index. The archive binds each descriptor at
// most once, during table load, before any name resolution runs.
func (f *File) bindHash(e *hashEntry) {
	f.hashEnt = e
}

// OfferName offers a candidate name to the descriptor.
//
// For ordinary entries the first caching offer wins: once the name is set,
// later offers are ignored. Patch entries are the exception and always
// re-resolve, because patch chain lookup needs the freshest name to locate
// the base entry. The decryption seed is derived from the last path component
// of the candidate whenever the entry is encrypted or the offer is caching,
// and the listed state is only trusted from caching offers.
//
// OfferName never fails; an empty candidate simply leaves the entry
// unresolved. Callers must serialize offers per descriptor.
func (f *File) OfferName(candidate string, cache, listed bool) {
	if f.name != "" && f.flags&FlagPatchFile == 0 {
		return
	}

	if cache || f.flags&FlagEncrypted != 0 {
		f.seed = fileKey(candidate)
	}
	if candidate != "" && (cache || f.flags&FlagPatchFile != 0) {
		f.name = candidate
	}
	if cache {
		f.listed = listed
	}
}

// Name returns the resolved name, or "" while unresolved.
func (f *File) Name() string { return f.name }

// Seed returns the name-derived decryption seed, or 0 while unresolved.
func (f *File) Seed() uint32 { return f.seed }

// Listed reports whether the name came from the archive's listfile rather
// than a lookup or guess.
func (f *File) Listed() bool { return f.listed }

// Index returns the entry's position in the archive's block table.
func (f *File) Index() uint32 { return f.index }

// Offset returns the entry's data offset relative to the archive header.
func (f *File) Offset() int64 { return f.offset }

// CompressedSize returns the stored size of the entry's data.
func (f *File) CompressedSize() uint32 { return f.compressedSize }

// Size returns the uncompressed size of the entry's data.
func (f *File) Size() uint32 { return f.fileSize }

// Flags returns the entry's block table flags.
func (f *File) Flags() uint32 { return f.flags }

// Locale returns the locale identifier of the hash table entry that mapped
// to this descriptor, or 0 if no entry has been bound.
func (f *File) Locale() uint16 {
	if f.hashEnt == nil {
		return 0
	}
	return f.hashEnt.Locale
}

// IsPatch reports whether the entry carries the patch flag.
func (f *File) IsPatch() bool { return f.flags&FlagPatchFile != 0 }

// Open returns a single-use stream of the entry's decoded contents. All
// decompression and decryption is applied by the stream based on the entry's
// flags and seed; a patch entry opened this way yields its raw patch
// envelope. A second read pass requires a new stream.
func (f *File) Open() (io.ReadCloser, error) {
	return newFileReader(f, nil), nil
}

// OpenPatched returns a single-use stream of the entry's contents
// reconstructed against the supplied base source. Only valid for patch
// entries, and the base source is required: the patch transform is applied
// to the base bytes when the stream is first read.
func (f *File) OpenPatched(base ByteSource) (io.ReadCloser, error) {
	if f.flags&FlagPatchFile == 0 {
		return nil, fmt.Errorf("entry %d: %w", f.index, ErrNotPatch)
	}
	if base == nil {
		return nil, fmt.Errorf("entry %d: %w", f.index, ErrNilBase)
	}
	return newFileReader(f, base), nil
}

// displayName names the entry for log and error output, falling back to the
// block index while the name is unresolved.
func (f *File) displayName() string {
	if f.name != "" {
		return f.name
	}
	return fmt.Sprintf("(entry %d)", f.index)
}

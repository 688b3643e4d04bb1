package mpq

import "errors"

var (
	// ErrNoArchive is returned when a file descriptor would be constructed
	// without an owning archive.
	ErrNoArchive = errors.New("file entry requires an owning archive")

	// ErrNotPatch is returned when a patched open is attempted on an entry
	// without the patch flag.
	ErrNotPatch = errors.New("entry is not a patch file")

	// ErrNilBase is returned when a patched open is attempted without a base
	// source.
	ErrNilBase = errors.New("patch open requires a base source")

	// ErrUnknownKey is returned when an encrypted entry is read before its
	// name (and therefore its decryption seed) has been resolved.
	ErrUnknownKey = errors.New("encrypted entry has no resolved decryption key")

	// ErrUnsupportedCompression is returned for compression methods this
	// package does not decode (PKWare implode, huffman, ADPCM audio).
	ErrUnsupportedCompression = errors.New("unsupported compression method")

	// ErrUnsupportedPatch is returned for patch transform types this package
	// does not apply.
	ErrUnsupportedPatch = errors.New("unsupported patch transform")

	// ErrFileNotFound is returned when a name has no hash table entry.
	ErrFileNotFound = errors.New("file not found in archive")
)

package mpq

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSectorShift = 3 // 4KiB sectors

// testEntry describes one file to place into a built test archive.
type testEntry struct {
	name   string
	data   []byte
	flags  uint32
	locale uint16
}

// buildArchive assembles a V1 archive in memory: header, file data, then
// encrypted hash and block tables. Entries always get the exists flag.
func buildArchive(t *testing.T, entries []testEntry) []byte {
	t.Helper()

	sectorSize := uint32(512 << testSectorShift)

	hashTableSize := uint32(16)
	require.LessOrEqual(t, len(entries), int(hashTableSize))

	var body bytes.Buffer
	type placement struct{ pos, csize, fsize, flags uint32 }
	placements := make([]placement, len(entries))

	for i, e := range entries {
		flags := e.flags | FlagExists
		stored := encodeTestEntry(t, e.name, e.data, flags, sectorSize)

		placements[i] = placement{
			pos:   headerSizeV1 + uint32(body.Len()),
			csize: uint32(len(stored)),
			fsize: uint32(len(e.data)),
			flags: flags,
		}
		body.Write(stored)
	}

	// Hash table: all-FF empty slots, linear probe insertion.
	hashWords := make([]uint32, hashTableSize*4)
	for i := range hashWords {
		hashWords[i] = 0xFFFFFFFF
	}
	for i, e := range entries {
		slot := hashString(e.name, hashTableOffset) % hashTableSize
		for hashWords[slot*4+3] != blockIndexEmpty {
			slot = (slot + 1) % hashTableSize
		}
		hashWords[slot*4] = hashString(e.name, hashNameA)
		hashWords[slot*4+1] = hashString(e.name, hashNameB)
		hashWords[slot*4+2] = uint32(e.locale)
		hashWords[slot*4+3] = uint32(i)
	}
	encryptBlock(hashWords, hashString("(hash table)", hashFileKey))

	blockWords := make([]uint32, len(entries)*4)
	for i, p := range placements {
		blockWords[i*4] = p.pos
		blockWords[i*4+1] = p.csize
		blockWords[i*4+2] = p.fsize
		blockWords[i*4+3] = p.flags
	}
	encryptBlock(blockWords, hashString("(block table)", hashFileKey))

	hashTableOff := headerSizeV1 + uint32(body.Len())
	blockTableOff := hashTableOff + uint32(len(hashWords)*4)
	archiveSize := blockTableOff + uint32(len(blockWords)*4)

	var out bytes.Buffer
	writeU32 := func(v uint32) { binary.Write(&out, binary.LittleEndian, v) }

	writeU32(headerMagic)
	writeU32(headerSizeV1)
	writeU32(archiveSize)
	binary.Write(&out, binary.LittleEndian, uint16(formatVersion1))
	binary.Write(&out, binary.LittleEndian, uint16(testSectorShift))
	writeU32(hashTableOff)
	writeU32(blockTableOff)
	writeU32(hashTableSize)
	writeU32(uint32(len(entries)))

	out.Write(body.Bytes())
	binary.Write(&out, binary.LittleEndian, hashWords)
	binary.Write(&out, binary.LittleEndian, blockWords)

	return out.Bytes()
}

// encodeTestEntry produces the stored byte form of one entry for the given
// flags: single-unit or sectored, zlib-compressed and Storm-encrypted as
// requested.
func encodeTestEntry(t *testing.T, name string, data []byte, flags, sectorSize uint32) []byte {
	t.Helper()

	key := fileKey(name)

	if flags&FlagSingleUnit != 0 || flags&FlagCompress == 0 {
		stored := append([]byte(nil), data...)

		if flags&FlagCompress != 0 {
			z := zlibCompress(t, data)
			if len(z)+1 < len(data) {
				stored = append([]byte{compressZlib}, z...)
			}
		}

		if flags&FlagEncrypted != 0 {
			if flags&FlagSingleUnit != 0 {
				encryptBytes(stored, key)
			} else {
				for i, p := 0, 0; p < len(stored); i, p = i+1, p+int(sectorSize) {
					end := min(p+int(sectorSize), len(stored))
					encryptBytes(stored[p:end], key+uint32(i))
				}
			}
		}
		return stored
	}

	// Sectored compressed layout: offset table, then sectors.
	numSectors := (uint32(len(data)) + sectorSize - 1) / sectorSize
	offsets := make([]uint32, numSectors+1)
	sectors := make([][]byte, numSectors)

	pos := uint32(len(offsets) * 4)
	for i := uint32(0); i < numSectors; i++ {
		chunk := data[i*sectorSize : min(int((i+1)*sectorSize), len(data))]

		sector := append([]byte(nil), chunk...)
		if z := zlibCompress(t, chunk); len(z)+1 < len(chunk) {
			sector = append([]byte{compressZlib}, z...)
		}
		if flags&FlagEncrypted != 0 {
			encryptBytes(sector, key+i)
		}

		offsets[i] = pos
		pos += uint32(len(sector))
		sectors[i] = sector
	}
	offsets[numSectors] = pos

	if flags&FlagEncrypted != 0 {
		encryptBlock(offsets, key-1)
	}

	var stored bytes.Buffer
	binary.Write(&stored, binary.LittleEndian, offsets)
	for _, s := range sectors {
		stored.Write(s)
	}
	return stored.Bytes()
}

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func openTestArchive(t *testing.T, entries []testEntry) *Archive {
	t.Helper()

	raw := buildArchive(t, entries)
	a, err := NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	return a
}

func TestReadStoredFile(t *testing.T) {
	t.Parallel()

	a := openTestArchive(t, []testEntry{
		{name: "readme.txt", data: []byte("plain stored contents\n")},
	})

	got, err := a.ReadFile("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("plain stored contents\n"), got)
}

func TestReadCompressedSingleUnit(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("compressible payload ", 200))
	a := openTestArchive(t, []testEntry{
		{name: "units\\human.dat", data: data, flags: FlagCompress | FlagSingleUnit},
	})

	got, err := a.ReadFile("units\\human.dat")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadEncryptedCompressedSingleUnit(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("secret payload ", 300))
	a := openTestArchive(t, []testEntry{
		{name: "secret.bin", data: data, flags: FlagCompress | FlagEncrypted | FlagSingleUnit},
	})

	got, err := a.ReadFile("secret.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadSectoredCompressed(t *testing.T) {
	t.Parallel()

	// Several sectors' worth of compressible data.
	data := []byte(strings.Repeat("sectored archive data with plenty of repetition\n", 400))
	a := openTestArchive(t, []testEntry{
		{name: "war3map.w3e", data: data, flags: FlagCompress},
	})

	got, err := a.ReadFile("war3map.w3e")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadSectoredEncryptedCompressed(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("encrypted sectors repeat themselves often\n", 500))
	a := openTestArchive(t, []testEntry{
		{name: "scripts\\war3map.j", data: data, flags: FlagCompress | FlagEncrypted},
	})

	got, err := a.ReadFile("scripts\\war3map.j")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadEncryptedWithoutNameFails(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("locked ", 100))
	a := openTestArchive(t, []testEntry{
		{name: "locked.bin", data: data, flags: FlagCompress | FlagEncrypted | FlagSingleUnit},
	})

	// Reading through the descriptor without ever offering a name leaves the
	// seed unresolved, which is a decode-time error, not a lookup error.
	f := a.Files()[0]
	require.Zero(t, f.Seed())

	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()

	_, err = io.ReadAll(rc)
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestOpenFileNotFound(t *testing.T) {
	t.Parallel()

	a := openTestArchive(t, []testEntry{
		{name: "readme.txt", data: []byte("hi")},
	})

	_, err := a.OpenFile("missing.txt")
	require.ErrorIs(t, err, ErrFileNotFound)
	assert.False(t, a.HasFile("missing.txt"))
	assert.True(t, a.HasFile("readme.txt"))
}

func TestOpenFileResolvesNameAndSeed(t *testing.T) {
	t.Parallel()

	a := openTestArchive(t, []testEntry{
		{name: "units\\human.mpq", data: []byte("x"), flags: FlagEncrypted | FlagSingleUnit},
	})

	f, err := a.OpenFile("units\\human.mpq")
	require.NoError(t, err)

	assert.Equal(t, "units\\human.mpq", f.Name())
	assert.Equal(t, hashString("human.mpq", hashFileKey), f.Seed())
	// Explicit lookup is a caller-supplied name, not an authoritative list.
	assert.False(t, f.Listed())
}

func TestLoadListfile(t *testing.T) {
	t.Parallel()

	names := []string{"readme.txt", "units\\human.dat"}
	listfile := []byte(strings.Join(names, "\r\n") + "\r\n")

	a := openTestArchive(t, []testEntry{
		{name: "readme.txt", data: []byte("one")},
		{name: "units\\human.dat", data: []byte("two"), locale: 0x409},
		{name: "(listfile)", data: listfile, flags: FlagCompress | FlagSingleUnit},
	})

	resolved, err := a.LoadListfile()
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)

	for _, f := range a.Files() {
		if f.Name() == "(listfile)" || f.Name() == "" {
			continue
		}
		assert.True(t, f.Listed(), "entry %s should be listed", f.Name())
	}

	f, err := a.OpenFile("units\\human.dat")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x409), f.Locale())
	assert.True(t, f.Listed())
}

func TestLoadListfileAbsent(t *testing.T) {
	t.Parallel()

	a := openTestArchive(t, []testEntry{
		{name: "readme.txt", data: []byte("hi")},
	})

	resolved, err := a.LoadListfile()
	require.NoError(t, err)
	assert.Zero(t, resolved)
}

func TestHeaderAtAlignedOffset(t *testing.T) {
	t.Parallel()

	raw := buildArchive(t, []testEntry{
		{name: "readme.txt", data: []byte("offset archive")},
	})

	// Archives embedded in other files start on a 512-byte boundary.
	padded := append(make([]byte, headerAlign), raw...)
	a, err := NewReader(bytes.NewReader(padded), int64(len(padded)))
	require.NoError(t, err)

	got, err := a.ReadFile("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("offset archive"), got)
}

func TestRejectsOversizedTables(t *testing.T) {
	t.Parallel()

	raw := buildArchive(t, []testEntry{
		{name: "readme.txt", data: []byte("hi")},
	})

	// Declared table sizes come straight from the file; counts that cannot
	// fit in the remaining bytes must be rejected before they size an
	// allocation.
	hash := append([]byte(nil), raw...)
	binary.LittleEndian.PutUint32(hash[24:], 0xFFFFFFFF)
	_, err := NewReader(bytes.NewReader(hash), int64(len(hash)))
	require.ErrorContains(t, err, "hash table")

	block := append([]byte(nil), raw...)
	binary.LittleEndian.PutUint32(block[28:], 0xFFFFFFFF)
	_, err = NewReader(bytes.NewReader(block), int64(len(block)))
	require.ErrorContains(t, err, "block table")
}

func TestFileMetadata(t *testing.T) {
	t.Parallel()

	data := []byte("metadata probe")
	a := openTestArchive(t, []testEntry{
		{name: "readme.txt", data: data},
	})

	f := a.Files()[0]
	assert.Equal(t, uint32(0), f.Index())
	assert.Equal(t, int64(headerSizeV1), f.Offset())
	assert.Equal(t, uint32(len(data)), f.Size())
	assert.Equal(t, uint32(len(data)), f.CompressedSize())
	assert.NotZero(t, f.Flags()&FlagExists)
	assert.False(t, f.IsPatch())
}

func TestParseListfile(t *testing.T) {
	t.Parallel()

	data := []byte("a.txt\r\nb.txt\nc.txt;d.txt\r\n\r\n  \r\n")
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt", "d.txt"}, parseListfile(data))
}

func TestStreamIsSingleUse(t *testing.T) {
	t.Parallel()

	a := openTestArchive(t, []testEntry{
		{name: "readme.txt", data: []byte("single use stream")},
	})

	f, err := a.OpenFile("readme.txt")
	require.NoError(t, err)

	rc, err := f.Open()
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("single use stream"), got)

	// Drained stream stays at EOF; a second pass needs a new stream.
	n, err := rc.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, rc.Close())

	rc2, err := f.Open()
	require.NoError(t, err)
	got2, err := io.ReadAll(rc2)
	require.NoError(t, err)
	assert.Equal(t, got, got2)
}

package mpq

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPatchEnvelope assembles a PTCH blob with an MD5 block (zeroed hashes)
// and a single transform block.
func buildPatchEnvelope(kind uint32, payload []byte, sizeAfter uint32) []byte {
	var buf bytes.Buffer
	writeU32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }

	xfrmSize := uint32(12 + len(payload))

	writeU32(patchMagic)
	writeU32(16 + 40 + xfrmSize) // total envelope size
	writeU32(0)                  // size before patch, unused by the transform
	writeU32(sizeAfter)

	writeU32(md5Magic)
	writeU32(40)
	buf.Write(make([]byte, 32))

	writeU32(xfrmMagic)
	writeU32(xfrmSize)
	writeU32(kind)
	buf.Write(payload)

	return buf.Bytes()
}

func TestApplyPatchCopy(t *testing.T) {
	t.Parallel()

	replacement := []byte("entire replacement contents")
	patch := buildPatchEnvelope(xfrmCopy, replacement, uint32(len(replacement)))

	got, err := applyPatch(patch, []byte("old base contents"))
	require.NoError(t, err)
	assert.Equal(t, replacement, got)
}

func TestApplyPatchBadSignature(t *testing.T) {
	t.Parallel()

	_, err := applyPatch([]byte("not a patch blob at all"), nil)
	require.Error(t, err)
}

func TestApplyPatchUnknownTransform(t *testing.T) {
	t.Parallel()

	patch := buildPatchEnvelope(0x44414544, []byte("x"), 1)
	_, err := applyPatch(patch, nil)
	require.ErrorIs(t, err, ErrUnsupportedPatch)
}

func TestUnpackRLE(t *testing.T) {
	t.Parallel()

	// Literal run of 3 ("abc"), 4 zeros (control 3), literal run of 1 ("z").
	packed := []byte{0x82, 'a', 'b', 'c', 0x03, 0x80, 'z'}

	got, err := unpackRLE(packed, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0, 0, 0, 'z'}, got)
}

func TestUnpackRLEBounds(t *testing.T) {
	t.Parallel()

	_, err := unpackRLE([]byte{0x85, 'a'}, 16)
	require.Error(t, err)

	_, err = unpackRLE([]byte{0x7F}, 8)
	require.Error(t, err)
}

// buildBsdiff assembles a BSDIFF40 blob from control triples, diff data and
// extra data.
func buildBsdiff(ctrl []uint32, data, extra []byte, newSize uint64) []byte {
	var buf bytes.Buffer
	buf.WriteString("BSDIFF40")
	binary.Write(&buf, binary.LittleEndian, uint64(len(ctrl)*4))
	binary.Write(&buf, binary.LittleEndian, uint64(len(data)))
	binary.Write(&buf, binary.LittleEndian, newSize)
	binary.Write(&buf, binary.LittleEndian, ctrl)
	buf.Write(data)
	buf.Write(extra)
	return buf.Bytes()
}

func TestApplyBsdiff(t *testing.T) {
	t.Parallel()

	base := []byte("hello world")

	// Copy "hello" unchanged (5 diff bytes of zero), then append " there!"
	// from the extra block.
	diff := buildBsdiff(
		[]uint32{5, 7, 0},
		make([]byte, 5),
		[]byte(" there!"),
		12,
	)

	got, err := applyBsdiff(diff, base, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello there!"), got)
}

func TestApplyBsdiffWithDelta(t *testing.T) {
	t.Parallel()

	base := []byte{10, 20, 30, 40}

	// Diff bytes are added to the base bytes.
	diff := buildBsdiff(
		[]uint32{4, 0, 0},
		[]byte{1, 2, 3, 4},
		nil,
		4,
	)

	got, err := applyBsdiff(diff, base, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{11, 22, 33, 44}, got)
}

func TestApplyBsdiffNegativeSeek(t *testing.T) {
	t.Parallel()

	base := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	// The first triple seeks five bytes before the start of the base; the
	// following add block must treat those positions as zero instead of
	// indexing the base negatively.
	diff := buildBsdiff(
		[]uint32{0, 0, 0x80000005, 1, 0, 0},
		[]byte{7},
		nil,
		1,
	)

	got, err := applyBsdiff(diff, base, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, got)
}

func TestApplyPatchBsdiffEnvelope(t *testing.T) {
	t.Parallel()

	base := []byte("hello world")
	diff := buildBsdiff([]uint32{5, 7, 0}, make([]byte, 5), []byte(" there!"), 12)

	// Unpacked payload: the size prefix equals the diff length, so no RLE
	// expansion happens.
	payload := make([]byte, 4+len(diff))
	binary.LittleEndian.PutUint32(payload, uint32(len(diff)))
	copy(payload[4:], diff)

	patch := buildPatchEnvelope(xfrmBsdiff, payload, 12)

	got, err := applyPatch(patch, base)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello there!"), got)
}

func TestOpenPatchedAppliesBase(t *testing.T) {
	t.Parallel()

	replacement := []byte("patched contents")
	envelope := buildPatchEnvelope(xfrmCopy, replacement, uint32(len(replacement)))

	a := openTestArchive(t, []testEntry{
		{name: "patched.txt", data: envelope, flags: FlagPatchFile | FlagSingleUnit},
	})

	f, err := a.OpenFile("patched.txt")
	require.NoError(t, err)
	require.True(t, f.IsPatch())

	rc, err := f.OpenPatched(byteSource("old base contents"))
	require.NoError(t, err)
	defer rc.Close()

	var got bytes.Buffer
	_, err = got.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, replacement, got.Bytes())
}

func TestOpenPatchEntryWithoutBaseYieldsEnvelope(t *testing.T) {
	t.Parallel()

	envelope := buildPatchEnvelope(xfrmCopy, []byte("raw"), 3)

	a := openTestArchive(t, []testEntry{
		{name: "patched.txt", data: envelope, flags: FlagPatchFile | FlagSingleUnit},
	})

	got, err := a.ReadFile("patched.txt")
	require.NoError(t, err)
	assert.Equal(t, envelope, got)
}

package mpq

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ulikunitz/xz/lzma"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecompressZlib(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("zlib sector contents ", 100))
	sector := append([]byte{compressZlib}, zlibCompress(t, data)...)

	got, err := decompress(sector, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecompressLZMA(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("lzma sector contents ", 100))

	var buf bytes.Buffer
	lw, err := lzma.NewWriter(&buf)
	require.NoError(t, err)
	_, err = lw.Write(data)
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	sector := append([]byte{compressLZMA}, buf.Bytes()...)

	got, err := decompress(sector, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecompressSparse(t *testing.T) {
	t.Parallel()

	// Size prefix is big-endian: 8 bytes total, a 3-byte literal run
	// ("abc") followed by 5 zero bytes (control 2 -> 2+3 zeros).
	sector := []byte{
		compressSparse,
		0x00, 0x00, 0x00, 0x08,
		0x82, 'a', 'b', 'c',
		0x02,
	}

	got, err := decompress(sector, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0, 0, 0, 0}, got)
}

func TestDecompressUnsupportedMethods(t *testing.T) {
	t.Parallel()

	for _, mask := range []byte{compressHuffman, compressPKWare, compressADPCMMono, compressADPCMStereo} {
		_, err := decompress([]byte{mask, 0x00}, 16)
		assert.ErrorIs(t, err, ErrUnsupportedCompression, "mask 0x%02X", mask)
	}
}

func TestDecompressEmptySector(t *testing.T) {
	t.Parallel()

	_, err := decompress(nil, 16)
	require.Error(t, err)
}

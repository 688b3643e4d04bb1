package mpq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStringKnownKeys(t *testing.T) {
	t.Parallel()

	// The table keys are fixed by the format and shared by every
	// implementation.
	assert.Equal(t, uint32(0xC3AF3770), hashString("(hash table)", hashFileKey))
	assert.Equal(t, uint32(0xEC83B3A3), hashString("(block table)", hashFileKey))
}

func TestHashStringNormalization(t *testing.T) {
	t.Parallel()

	// Hashing is case-insensitive and treats both separators alike.
	assert.Equal(t,
		hashString("units\\human.mpq", hashNameA),
		hashString("UNITS/HUMAN.MPQ", hashNameA))
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	t.Parallel()

	words := []uint32{0, 1, 0xDEADBEEF, 0xFFFFFFFF, 42}
	original := append([]uint32(nil), words...)

	encryptBlock(words, 0x1234ABCD)
	require.NotEqual(t, original, words)

	decryptBlock(words, 0x1234ABCD)
	assert.Equal(t, original, words)
}

func TestEncryptDecryptBytesLeavesTail(t *testing.T) {
	t.Parallel()

	data := []byte("twelve bytes plus tail!")
	original := append([]byte(nil), data...)
	tail := len(data) % 4

	encryptBytes(data, 0xCAFEF00D)
	// Partial trailing word stays clear.
	assert.True(t, bytes.Equal(original[len(data)-tail:], data[len(data)-tail:]))

	decryptBytes(data, 0xCAFEF00D)
	assert.Equal(t, original, data)
}

func TestFileKeyUsesLastComponent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, hashString("human.mpq", hashFileKey), fileKey("units\\human.mpq"))
	assert.Equal(t, hashString("human.mpq", hashFileKey), fileKey("human.mpq"))
	assert.NotEqual(t, fileKey("a\\x.txt"), hashString("a\\x.txt", hashFileKey))
}

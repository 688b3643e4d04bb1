package mpq

import (
	"encoding/binary"
	"strings"
)

// Hash types select which slice of the crypt table a string hash runs over.
// tableOffset locates a name's slot in the hash table, nameA/nameB verify the
// match, and fileKey derives decryption seeds from filenames.
const (
	hashTableOffset = 0x000
	hashNameA       = 0x100
	hashNameB       = 0x200
	hashFileKey     = 0x300
	hashKeyMix      = 0x400
)

// cryptTable is the classic Storm scrambling table shared by string hashing
// and block encryption.
var cryptTable [0x500]uint32

func init() {
	seed := uint32(0x00100001)

	for index1 := 0; index1 < 0x100; index1++ {
		for index2, i := index1, 0; i < 5; index2, i = index2+0x100, i+1 {
			seed = (seed*125 + 3) % 0x2AAAAB
			temp1 := (seed & 0xFFFF) << 16

			seed = (seed*125 + 3) % 0x2AAAAB
			temp2 := seed & 0xFFFF

			cryptTable[index2] = temp1 | temp2
		}
	}
}

// hashString computes the Storm hash of a name for the given hash type.
// Names are case-insensitive and forward slashes are treated as backslashes,
// matching how archives store paths.
func hashString(name string, hashType uint32) uint32 {
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)

	for i := 0; i < len(name); i++ {
		ch := uint32(name[i])
		if ch == '/' {
			ch = '\\'
		}
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}

		seed1 = cryptTable[hashType+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + (seed2 << 5) + 3
	}

	return seed1
}

// decryptBlock decrypts a sequence of uint32 values in place using the Storm
// cipher with the given key.
func decryptBlock(data []uint32, key uint32) {
	seed := uint32(0xEEEEEEEE)

	for i := range data {
		seed += cryptTable[hashKeyMix+(key&0xFF)]
		ch := data[i] ^ (key + seed)
		data[i] = ch

		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = ch + seed + (seed << 5) + 3
	}
}

// encryptBlock is the inverse of decryptBlock.
func encryptBlock(data []uint32, key uint32) {
	seed := uint32(0xEEEEEEEE)

	for i := range data {
		seed += cryptTable[hashKeyMix+(key&0xFF)]
		ch := data[i]
		data[i] = ch ^ (key + seed)

		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = ch + seed + (seed << 5) + 3
	}
}

// decryptBytes decrypts a byte slice in place. Only whole uint32 words are
// ciphered; a trailing partial word is left untouched, as the original cipher
// operates on 32-bit units.
func decryptBytes(data []byte, key uint32) {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}

	decryptBlock(words, key)

	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
}

// encryptBytes encrypts a byte slice in place, mirroring decryptBytes.
func encryptBytes(data []byte, key uint32) {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}

	encryptBlock(words, key)

	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
}

// lastPathComponent returns the part of an archive path after the final
// backslash, or the whole string if it contains none. Decryption seeds are
// derived from this component only, never the full path.
func lastPathComponent(path string) string {
	if i := strings.LastIndexByte(path, '\\'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// fileKey derives the decryption seed for a filename. The key depends only on
// the last path component, hashed with the file-key salt.
func fileKey(name string) uint32 {
	return hashString(lastPathComponent(name), hashFileKey)
}

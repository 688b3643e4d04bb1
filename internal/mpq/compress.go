package mpq

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz/lzma"
)

// Compression method bits carried in the first byte of a compressed sector.
// lzma is a whole-byte method marker rather than a combinable bit.
const (
	compressHuffman     = 0x01
	compressZlib        = 0x02
	compressPKWare      = 0x08
	compressBzip2       = 0x10
	compressLZMA        = 0x12
	compressSparse      = 0x20
	compressADPCMMono   = 0x40
	compressADPCMStereo = 0x80
)

// decompress decodes one compressed sector. The first byte selects the
// method(s); the rest is the payload. expected is the uncompressed size the
// block table promises for this sector.
func decompress(data []byte, expected uint32) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty compressed sector")
	}

	mask := data[0]
	payload := data[1:]

	if mask == compressLZMA {
		return decompressLZMA(payload, expected)
	}

	if mask&(compressHuffman|compressADPCMMono|compressADPCMStereo) != 0 {
		return nil, fmt.Errorf("method 0x%02X: %w", mask, ErrUnsupportedCompression)
	}
	if mask&compressPKWare != 0 {
		return nil, fmt.Errorf("pkware implode (mask 0x%02X): %w", mask, ErrUnsupportedCompression)
	}

	out := payload
	var err error

	if mask&compressBzip2 != 0 {
		out, err = readAll(bzip2.NewReader(bytes.NewReader(out)), expected)
		if err != nil {
			return nil, fmt.Errorf("bzip2: %w", err)
		}
	}
	if mask&compressZlib != 0 {
		zr, zerr := zlib.NewReader(bytes.NewReader(out))
		if zerr != nil {
			return nil, fmt.Errorf("zlib: %w", zerr)
		}
		out, err = readAll(zr, expected)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
	}
	if mask&compressSparse != 0 {
		out, err = decompressSparse(out)
		if err != nil {
			return nil, fmt.Errorf("sparse: %w", err)
		}
	}

	if mask&(compressBzip2|compressZlib|compressSparse) == 0 {
		return nil, fmt.Errorf("method 0x%02X: %w", mask, ErrUnsupportedCompression)
	}

	return out, nil
}

// decompressLZMA decodes an LZMA sector. The payload is a standard LZMA
// stream with properties header.
func decompressLZMA(payload []byte, expected uint32) ([]byte, error) {
	lr, err := lzma.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}
	out, err := readAll(lr, expected)
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}
	return out, nil
}

// decompressSparse expands the sparse (zero run length) encoding: a
// big-endian size prefix, then chunks that are either literal runs or runs of
// zero bytes.
func decompressSparse(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("truncated sparse header")
	}

	size := binary.BigEndian.Uint32(data)
	out := make([]byte, 0, size)
	p := 4

	for p < len(data) && uint32(len(out)) < size {
		ctl := data[p]
		p++

		if ctl&0x80 != 0 {
			n := int(ctl&0x7F) + 1
			if p+n > len(data) {
				return nil, fmt.Errorf("literal run past end of input")
			}
			out = append(out, data[p:p+n]...)
			p += n
		} else {
			n := int(ctl&0x7F) + 3
			out = append(out, make([]byte, n)...)
		}
	}

	if uint32(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}

// readAll reads r to EOF with a capacity hint from the expected size.
func readAll(r io.Reader, expected uint32) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, expected))
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

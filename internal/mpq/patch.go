package mpq

import (
	"encoding/binary"
	"fmt"
)

// Patch envelope block signatures.
const (
	patchMagic = 0x48435450 // "PTCH"
	md5Magic   = 0x5F35444D // "MD5_"
	xfrmMagic  = 0x4D524658 // "XFRM"

	xfrmCopy   = 0x59504F43 // "COPY"
	xfrmBsdiff = 0x30445342 // "BSD0"
)

// applyPatch reconstructs a file from its decoded patch envelope and the
// base (pre-patch) bytes. The envelope is a PTCH header followed by typed
// blocks; the XFRM block carries the transform and its payload.
func applyPatch(patch, base []byte) ([]byte, error) {
	if len(patch) < 16 {
		return nil, fmt.Errorf("truncated patch header")
	}
	if binary.LittleEndian.Uint32(patch) != patchMagic {
		return nil, fmt.Errorf("bad patch signature 0x%08X", binary.LittleEndian.Uint32(patch))
	}

	sizeAfter := binary.LittleEndian.Uint32(patch[12:])

	// Walk the typed blocks after the fixed header to find the transform.
	p := 16
	for p+8 <= len(patch) {
		sig := binary.LittleEndian.Uint32(patch[p:])
		blockSize := int(binary.LittleEndian.Uint32(patch[p+4:]))
		if blockSize < 8 || p+blockSize > len(patch) {
			return nil, fmt.Errorf("invalid patch block size %d at 0x%X", blockSize, p)
		}

		switch sig {
		case md5Magic:
			// Integrity hashes for the base and patched contents; the
			// transform itself does not need them.
			p += blockSize

		case xfrmMagic:
			if blockSize < 12 {
				return nil, fmt.Errorf("truncated transform block")
			}
			kind := binary.LittleEndian.Uint32(patch[p+8:])
			payload := patch[p+12 : p+blockSize]
			return applyTransform(kind, payload, base, sizeAfter)

		default:
			return nil, fmt.Errorf("unknown patch block 0x%08X at 0x%X", sig, p)
		}
	}

	return nil, fmt.Errorf("patch has no transform block")
}

func applyTransform(kind uint32, payload, base []byte, sizeAfter uint32) ([]byte, error) {
	switch kind {
	case xfrmCopy:
		// Full replacement: the payload is the patched contents.
		return payload, nil

	case xfrmBsdiff:
		if len(payload) < 4 {
			return nil, fmt.Errorf("truncated bsdiff payload")
		}
		unpackedSize := binary.LittleEndian.Uint32(payload)
		diff := payload[4:]
		if int(unpackedSize) > len(diff) {
			var err error
			diff, err = unpackRLE(diff, unpackedSize)
			if err != nil {
				return nil, err
			}
		}
		return applyBsdiff(diff, base, sizeAfter)

	default:
		return nil, fmt.Errorf("transform 0x%08X: %w", kind, ErrUnsupportedPatch)
	}
}

// unpackRLE expands the run-length packing applied to bsdiff payloads:
// control bytes with the high bit set introduce literal runs, all others skip
// runs of zero bytes in the pre-zeroed output.
func unpackRLE(packed []byte, size uint32) ([]byte, error) {
	out := make([]byte, size)
	w := 0

	for p := 0; p < len(packed); {
		ctl := packed[p]
		p++

		if ctl&0x80 != 0 {
			n := int(ctl&0x7F) + 1
			if p+n > len(packed) || w+n > len(out) {
				return nil, fmt.Errorf("rle literal run out of bounds")
			}
			copy(out[w:], packed[p:p+n])
			p += n
			w += n
		} else {
			w += int(ctl) + 1
			if w > len(out) {
				return nil, fmt.Errorf("rle zero run out of bounds")
			}
		}
	}

	return out, nil
}

// applyBsdiff applies a BSDIFF40 diff (with 32-bit control words) to the
// base bytes.
func applyBsdiff(diff, base []byte, sizeAfter uint32) ([]byte, error) {
	if len(diff) < 32 {
		return nil, fmt.Errorf("truncated bsdiff header")
	}
	if string(diff[:8]) != "BSDIFF40" {
		return nil, fmt.Errorf("bad bsdiff signature %q", diff[:8])
	}

	ctrlSize := binary.LittleEndian.Uint64(diff[8:])
	dataSize := binary.LittleEndian.Uint64(diff[16:])
	newSize := binary.LittleEndian.Uint64(diff[24:])

	if sizeAfter != 0 && newSize != uint64(sizeAfter) {
		return nil, fmt.Errorf("bsdiff output size %d disagrees with patch header %d", newSize, sizeAfter)
	}
	if 32+ctrlSize+dataSize > uint64(len(diff)) {
		return nil, fmt.Errorf("bsdiff blocks exceed payload")
	}

	ctrl := diff[32 : 32+ctrlSize]
	data := diff[32+ctrlSize : 32+ctrlSize+dataSize]
	extra := diff[32+ctrlSize+dataSize:]

	out := make([]byte, 0, newSize)
	oldPos := 0

	for len(ctrl) >= 12 && uint64(len(out)) < newSize {
		addLen := int(binary.LittleEndian.Uint32(ctrl))
		movLen := int(binary.LittleEndian.Uint32(ctrl[4:]))
		dist := signMagnitude(binary.LittleEndian.Uint32(ctrl[8:]))
		ctrl = ctrl[12:]

		if addLen > len(data) {
			return nil, fmt.Errorf("bsdiff add block out of bounds")
		}

		// Diff block: data bytes summed with the corresponding base bytes.
		// Control seeks may move the base position out of range in either
		// direction; out-of-range base bytes count as zero.
		for i := 0; i < addLen; i++ {
			b := data[i]
			if oldPos+i >= 0 && oldPos+i < len(base) {
				b += base[oldPos+i]
			}
			out = append(out, b)
		}
		data = data[addLen:]
		oldPos += addLen

		// Extra block: bytes copied verbatim.
		if movLen > len(extra) {
			return nil, fmt.Errorf("bsdiff extra block out of bounds")
		}
		out = append(out, extra[:movLen]...)
		extra = extra[movLen:]

		oldPos += dist
	}

	if uint64(len(out)) != newSize {
		return nil, fmt.Errorf("bsdiff produced %d bytes, want %d", len(out), newSize)
	}
	return out, nil
}

// signMagnitude decodes the sign-and-magnitude 32-bit integers used in
// bsdiff control words.
func signMagnitude(v uint32) int {
	if v&0x80000000 != 0 {
		return -int(v & 0x7FFFFFFF)
	}
	return int(v)
}

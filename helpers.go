package ja4beacon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/cryptobyte"
)

// IsGrease reports whether v is one of the reserved GREASE values. They all
// share the 0x?a?a shape with identical high and low bytes.
func IsGrease(v uint16) bool {
	return v&0x0f0f == 0x0a0a && v>>8 == v&0xff
}

func stripGrease(in []uint16) []uint16 {
	out := make([]uint16, 0, len(in))
	for _, v := range in {
		if !IsGrease(v) {
			out = append(out, v)
		}
	}
	return out
}

// HexID formats an identifier the way it appears in fingerprint inputs: four
// lowercase hex digits and no prefix.
func HexID(v uint16) string {
	return fmt.Sprintf("%04x", v)
}

func hexIDs(in []uint16) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, HexID(v))
	}
	return out
}

// sortedCopy leaves the caller's slice in wire order
func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// ShortHash returns the first 12 hex characters of the SHA-256 digest of s.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashWidth]
}

// hashList digests the comma joined values, or returns the zero marker when
// there is nothing to digest.
func hashList(values []string) string {
	if len(values) == 0 {
		return emptyHash
	}
	return ShortHash(strings.Join(values, ","))
}

func twoDigits(n int) string {
	return fmt.Sprintf("%02d", min(n, 99))
}

// readClamped reads a block prefixed with a lengthSize byte length. A length
// running past the end of data is clamped to what is actually there, which
// is how extension-internal lists are treated.
func readClamped(data *cryptobyte.String, lengthSize int) (cryptobyte.String, bool) {
	var length int
	switch lengthSize {
	case 1:
		var l uint8
		if !data.ReadUint8(&l) {
			return nil, false
		}
		length = int(l)
	case 2:
		var l uint16
		if !data.ReadUint16(&l) {
			return nil, false
		}
		length = int(l)
	default:
		return nil, false
	}

	var block []byte
	data.ReadBytes(&block, min(length, len(*data)))
	return cryptobyte.String(block), true
}

// readUint16s consumes 16 bit values until the block is exhausted, dropping
// a trailing odd byte.
func readUint16s(block cryptobyte.String) []uint16 {
	out := make([]uint16, 0, len(block)/2)
	var v uint16
	for block.ReadUint16(&v) {
		out = append(out, v)
	}
	return out
}

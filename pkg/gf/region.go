package gf

import "encoding/binary"

// Codec working buffers carry 4 trailing parity bytes holding the XOR of
// every aligned 32-bit word of the data area. The parity doubles as a
// self-check on the arithmetic: a decode that produces a region failing
// its parity indicates a table or matrix bug, not damaged input.

const parityBytes = 4

// RegionSize returns the buffer size for dataSize bytes of block content
// aligned up to align, plus the trailing parity words.
func RegionSize(dataSize uint64, align int) uint64 {
	a := uint64(align)
	return (dataSize+a-1)/a*a + parityBytes
}

// DataSize returns the data area length of a region sized by RegionSize.
func DataSize(region []byte) int {
	return len(region) - parityBytes
}

// CreateParity XORs all 4-byte words of the data area into the parity tail.
func CreateParity(region []byte) {
	n := len(region) - parityBytes
	var p uint32
	for i := 0; i+4 <= n; i += 4 {
		p ^= binary.LittleEndian.Uint32(region[i:])
	}
	binary.LittleEndian.PutUint32(region[n:], p)
}

// CheckParity recomputes the data-area XOR and compares it to the stored
// parity. It returns true when they match.
func CheckParity(region []byte) bool {
	n := len(region) - parityBytes
	var p uint32
	for i := 0; i+4 <= n; i += 4 {
		p ^= binary.LittleEndian.Uint32(region[i:])
	}
	return p == binary.LittleEndian.Uint32(region[n:])
}

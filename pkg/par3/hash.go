package par3

import (
	"hash/crc64"

	"github.com/zeebo/blake3"
)

// The format uses three hash primitives: a rolling CRC-64 for cheap
// sliding-window probes, a 128-bit BLAKE3 truncation as the fingerprint
// that confirms them, and a keyed 8-byte BLAKE3 truncation for deriving
// the set nonce.

var crcTable = crc64.MakeTable(crc64.ECMA)

// CRC64 returns the CRC-64/ECMA checksum of data.
func CRC64(data []byte) uint64 {
	return crc64.Checksum(data, crcTable)
}

// CRC64Update extends an existing checksum with more data.
func CRC64Update(crc uint64, data []byte) uint64 {
	return crc64.Update(crc, crcTable, data)
}

// Hash128 returns the 128-bit BLAKE3 truncation of data.
func Hash128(data []byte) [16]byte {
	sum := blake3.Sum256(data)
	var h [16]byte
	copy(h[:], sum[:16])
	return h
}

// Hasher128 incrementally computes a 128-bit fingerprint.
type Hasher128 struct {
	h *blake3.Hasher
}

// NewHasher128 returns a fresh fingerprint hasher.
func NewHasher128() *Hasher128 {
	return &Hasher128{h: blake3.New()}
}

func (h *Hasher128) Write(p []byte) (int, error) { return h.h.Write(p) }

// Sum128 finalizes the fingerprint without disturbing the hasher state.
func (h *Hasher128) Sum128() [16]byte {
	var out [16]byte
	copy(out[:], h.h.Sum(nil)[:16])
	return out
}

// Reset clears the hasher for reuse.
func (h *Hasher128) Reset() { h.h.Reset() }

// nonceKey is the fixed key for the keyed short hash. Keying separates the
// nonce derivation domain from the plain fingerprints so equal input never
// produces colliding digests across the two uses.
var nonceKey = [32]byte{'p', 'a', 'r', '3', ' ', 's', 'e', 't', ' ', 'n', 'o', 'n', 'c', 'e'}

// ShortHash returns the keyed 8-byte digest of data.
func ShortHash(data []byte) [8]byte {
	h, err := blake3.NewKeyed(nonceKey[:])
	if err != nil {
		// The key length is fixed at compile time; NewKeyed cannot fail.
		panic(err)
	}
	_, _ = h.Write(data)
	var out [8]byte
	copy(out[:], h.Sum(nil)[:8])
	return out
}

// CRC64Window supports rolling a fixed-length CRC-64 window one byte at a
// time. Removing the byte leaving the window is a single table lookup.
type CRC64Window struct {
	size int
	out  [256]uint64
}

// rawUpdate advances the internal (uninverted) CRC register.
func rawUpdate(reg uint64, data []byte) uint64 {
	for _, b := range data {
		reg = crcTable[byte(reg)^b] ^ (reg >> 8)
	}
	return reg
}

// NewCRC64Window precomputes the leave-table for windows of the given size.
func NewCRC64Window(size int) *CRC64Window {
	w := &CRC64Window{size: size}

	zeros := make([]byte, size)

	// Removing leading byte b from a window is linear: the register of the
	// shortened window equals the stepped register XOR a value that depends
	// only on b and the window length.
	shift := rawUpdate(^uint64(0), []byte{0})
	k := rawUpdate(^uint64(0)^shift, zeros)
	for b := 0; b < 256; b++ {
		w.out[b] = rawUpdate(rawUpdate(0, []byte{byte(b)}), zeros) ^ k
	}
	return w
}

// Size returns the window length in bytes.
func (w *CRC64Window) Size() int { return w.size }

// Roll slides the window: crc must be the checksum of the current window,
// in the byte entering on the right, out the byte leaving on the left.
func (w *CRC64Window) Roll(crc uint64, in, out byte) uint64 {
	reg := ^crc
	reg = crcTable[byte(reg)^in] ^ (reg >> 8)
	reg ^= w.out[out]
	return ^reg
}

package par3

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// The InputSetID is the first 8 bytes of BLAKE3 over a set nonce followed
// by the Start packet body. The nonce itself is the keyed short hash of
// the complete input description, so identical inputs encoded with the
// same parameters always produce the same SetID while distinct sets never
// collide in practice.

// deriveNonce digests the input description: names, sizes, content
// fingerprints, chunk layout, and the base path when absolute paths are
// stored.
func deriveNonce(m *BlockMap, basePath string, absolute bool) [8]byte {
	h := blake3.New()
	var u64 [8]byte

	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(u64[:], v)
		h.Write(u64[:])
	}

	for fi := range m.Files {
		f := &m.Files[fi]
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		writeU64(f.Size)
		h.Write(f.Hash[:])
		for _, c := range m.FileChunks(fi) {
			writeU64(c.Size)
			if c.Size == 0 || c.Size >= m.BlockSize {
				writeU64(c.Block)
			}
			if c.tailSize(m.BlockSize) > 0 {
				writeU64(c.TailBlock)
				writeU64(c.TailOffset)
			}
		}
	}
	for di := range m.Dirs {
		h.Write([]byte(m.Dirs[di].Name))
		h.Write([]byte{0})
	}
	if absolute {
		h.Write([]byte(basePath))
		h.Write([]byte{0})
	}

	return ShortHash(h.Sum(nil))
}

// computeSetID binds the nonce to the Start packet body.
func computeSetID(nonce [8]byte, startBody []byte) SetID {
	h := blake3.New()
	h.Write(nonce[:])
	h.Write(startBody)
	var id SetID
	copy(id[:], h.Sum(nil)[:8])
	return id
}

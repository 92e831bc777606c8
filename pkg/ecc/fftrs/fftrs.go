// Package fftrs implements the FFT-based Reed-Solomon code used for large
// block counts. The additive-FFT arithmetic is provided by the Leopard
// codec inside github.com/klauspost/reedsolomon; this package pins the
// field selection the format mandates, presents blocks as 64-byte aligned
// shard views, and adds cohort interleaving on top.
package fftrs

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/marmos91/par3/pkg/gf"
)

// Align is the shard alignment Leopard requires.
const Align = 64

// MaxRecovery is the cap on recovery blocks per cohort.
const MaxRecovery = 32768

var (
	// ErrTooManyRecovery is returned when first+count exceeds the
	// codec's recovery capacity.
	ErrTooManyRecovery = errors.New("fftrs: recovery index out of range")

	// ErrShort is returned when too few blocks survive to reconstruct.
	ErrShort = errors.New("fftrs: not enough blocks to reconstruct")
)

// NextPow2 returns the smallest power of two >= x, with NextPow2(0) == 0.
func NextPow2(x uint64) uint64 {
	if x == 0 {
		return 0
	}
	p := uint64(1)
	for p < x {
		p <<= 1
	}
	return p
}

// FieldBits selects the field width: 8 bits when the padded input and
// recovery counts both fit one byte-sized FFT, 16 bits otherwise.
func FieldBits(blockCount, maxRecovery uint64) int {
	if NextPow2(maxRecovery)+NextPow2(blockCount) <= 256 {
		return 8
	}
	return 16
}

// Polynomial returns the generator polynomial recorded in the Start packet
// for the given field width.
func Polynomial(bits int) uint32 {
	if bits == 8 {
		return gf.PolyFFT8
	}
	return gf.PolyFFT16
}

// Codec encodes and reconstructs one cohort of blocks.
type Codec struct {
	blockCount  int
	maxRecovery int
	bits        int
	enc         reedsolomon.Encoder
}

// New returns a codec for blockCount input blocks able to produce recovery
// blocks with absolute indices in [0, maxRecovery).
func New(blockCount, maxRecovery int) (*Codec, error) {
	if maxRecovery > MaxRecovery {
		return nil, fmt.Errorf("fftrs: %d recovery blocks exceeds the %d cap", maxRecovery, MaxRecovery)
	}
	if blockCount < 1 || maxRecovery < 1 {
		return nil, fmt.Errorf("fftrs: need at least one input and one recovery block")
	}

	bits := FieldBits(uint64(blockCount), uint64(maxRecovery))
	var opt reedsolomon.Option
	if bits == 8 {
		opt = reedsolomon.WithLeopardGF8(true)
	} else {
		opt = reedsolomon.WithLeopardGF(true)
	}
	enc, err := reedsolomon.New(blockCount, maxRecovery, opt)
	if err != nil {
		return nil, fmt.Errorf("fftrs: %w", err)
	}
	return &Codec{blockCount: blockCount, maxRecovery: maxRecovery, bits: bits, enc: enc}, nil
}

// FieldBits returns the selected field width in bits.
func (c *Codec) FieldBits() int { return c.bits }

// BlockCount returns the number of input blocks per cohort.
func (c *Codec) BlockCount() int { return c.blockCount }

// MaxRecovery returns the recovery capacity of this codec.
func (c *Codec) MaxRecovery() int { return c.maxRecovery }

// Encode produces the recovery blocks with absolute indices
// [first, first+count). Every input must be the same length, a multiple of
// 64. The returned slices are freshly allocated.
func (c *Codec) Encode(inputs [][]byte, first, count int) ([][]byte, error) {
	if first+count > c.maxRecovery {
		return nil, ErrTooManyRecovery
	}
	if len(inputs) != c.blockCount {
		return nil, fmt.Errorf("fftrs: got %d inputs, codec built for %d", len(inputs), c.blockCount)
	}

	shardLen := len(inputs[0])
	shards := make([][]byte, c.blockCount+c.maxRecovery)
	copy(shards, inputs)
	for i := c.blockCount; i < len(shards); i++ {
		shards[i] = make([]byte, shardLen)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fftrs: encode: %w", err)
	}
	return shards[c.blockCount+first : c.blockCount+first+count], nil
}

// Reconstruct fills the nil entries of inputs from the given recovery
// blocks, keyed by absolute recovery index. Surviving inputs are left
// untouched.
func (c *Codec) Reconstruct(inputs [][]byte, recovery map[int][]byte) error {
	if len(inputs) != c.blockCount {
		return fmt.Errorf("fftrs: got %d inputs, codec built for %d", len(inputs), c.blockCount)
	}
	present := 0
	for _, in := range inputs {
		if in != nil {
			present++
		}
	}
	if present+len(recovery) < c.blockCount {
		return ErrShort
	}

	shards := make([][]byte, c.blockCount+c.maxRecovery)
	copy(shards, inputs)
	for idx, buf := range recovery {
		if idx < 0 || idx >= c.maxRecovery {
			return ErrTooManyRecovery
		}
		shards[c.blockCount+idx] = buf
	}
	if err := c.enc.ReconstructData(shards); err != nil {
		return fmt.Errorf("fftrs: reconstruct: %w", err)
	}
	copy(inputs, shards[:c.blockCount])
	return nil
}

// Package cauchy implements Reed-Solomon erasure coding from a Cauchy
// matrix over GF(2^8) or GF(2^16).
//
// The generator matrix is M[i][j] = 1/(x_i ^ y_j) with y_j = j indexing the
// input blocks and x_i = blockCount + i indexing recovery rows, so every
// x_i is distinct from every y_j and any square submatrix is invertible.
package cauchy

import (
	"errors"

	"github.com/marmos91/par3/pkg/gf"
)

// Align is the region alignment the codec requires.
const Align = 4

// ErrSingular is returned when the decode submatrix cannot be inverted.
// With a correct block selection this indicates corrupted recovery data.
var ErrSingular = errors.New("cauchy: singular decode matrix")

// ErrShort is returned when fewer recovery blocks than lost blocks are given.
var ErrShort = errors.New("cauchy: not enough recovery blocks")

// FieldFor selects the field width for a set: GF(2^8) only when every
// x_i and y_j fits in a byte.
func FieldFor(blockCount, firstRecovery, maxRecovery uint64) (bits int, poly uint32) {
	if blockCount <= 128 && blockCount+firstRecovery+maxRecovery <= 256 {
		return 8, gf.PolyCauchy8
	}
	return 16, gf.PolyCauchy16
}

// Codec computes recovery blocks and reconstructs lost input blocks.
type Codec struct {
	field      gf.Field
	blockCount int
}

// New returns a codec for blockCount input blocks over the given field.
func New(field gf.Field, blockCount int) *Codec {
	return &Codec{field: field, blockCount: blockCount}
}

// Field returns the field the codec operates in.
func (c *Codec) Field() gf.Field { return c.field }

// Coefficient returns the matrix element for recovery row r (absolute
// recovery index) and input column j.
func (c *Codec) Coefficient(r, j int) uint32 {
	return c.field.Inv(uint32(c.blockCount+r) ^ uint32(j))
}

// AddInput mixes one input block into a set of recovery regions:
// recovery[i] ^= M[recIdx[i]][inputIndex] * input. Encoding a whole set is
// one AddInput call per input block, so only one input region needs to be
// resident at a time.
func (c *Codec) AddInput(recovery [][]byte, recIdx []int, input []byte, inputIndex int) {
	for i, region := range recovery {
		c.field.MulAdd(region, input, c.Coefficient(recIdx[i], inputIndex))
	}
}

// Decode reconstructs lost input blocks in place.
//
// blocks holds one region per input block. Regions of lost blocks must
// contain the recovery blocks chosen for them: blocks[lost[i]] carries the
// recovery block with absolute index recIdx[i]. All other regions carry
// their original content. On return every lost region holds the
// reconstructed input block.
func (c *Codec) Decode(blocks [][]byte, lost []int, recIdx []int) error {
	if len(recIdx) < len(lost) {
		return ErrShort
	}
	if len(lost) == 0 {
		return nil
	}

	lostSet := make(map[int]bool, len(lost))
	for _, l := range lost {
		lostSet[l] = true
	}

	// Subtract the contribution of every known input block from the
	// recovery data, leaving rhs_i = sum over lost columns only.
	for j, region := range blocks {
		if lostSet[j] {
			continue
		}
		for i, l := range lost {
			c.field.MulAdd(blocks[l], region, c.Coefficient(recIdx[i], j))
		}
	}

	// a[i][k] = M[recIdx[i]][lost[k]]; eliminate in place, mirroring every
	// row operation onto the data regions.
	n := len(lost)
	a := make([][]uint32, n)
	data := make([][]byte, n)
	for i := range a {
		a[i] = make([]uint32, n)
		for k, l := range lost {
			a[i][k] = c.Coefficient(recIdx[i], l)
		}
		data[i] = blocks[lost[i]]
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for r := col; r < n; r++ {
			if a[r][col] != 0 {
				pivot = r
				break
			}
		}
		if pivot < 0 {
			return ErrSingular
		}
		if pivot != col {
			a[pivot], a[col] = a[col], a[pivot]
			data[pivot], data[col] = data[col], data[pivot]
		}

		inv := c.field.Inv(a[col][col])
		for k := range a[col] {
			a[col][k] = c.field.Mul(a[col][k], inv)
		}
		c.field.MulRegion(data[col], inv)

		for r := 0; r < n; r++ {
			if r == col || a[r][col] == 0 {
				continue
			}
			f := a[r][col]
			for k := range a[r] {
				a[r][k] ^= c.field.Mul(f, a[col][k])
			}
			c.field.MulAdd(data[r], data[col], f)
		}
	}

	// Rows may have been swapped during pivoting; put each solution back
	// into the region slot of its lost block.
	for i, l := range lost {
		blocks[l] = data[i]
	}
	return nil
}

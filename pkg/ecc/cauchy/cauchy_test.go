package cauchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/par3/pkg/gf"
)

func makeBlocks(n, size int, seed byte) [][]byte {
	blocks := make([][]byte, n)
	for i := range blocks {
		blocks[i] = make([]byte, gf.RegionSize(uint64(size), Align))
		for j := 0; j < size; j++ {
			blocks[i][j] = byte(i*31) + seed + byte(j*7)
		}
		gf.CreateParity(blocks[i])
	}
	return blocks
}

func encodeAll(c *Codec, inputs [][]byte, recIdx []int) [][]byte {
	recovery := make([][]byte, len(recIdx))
	for i := range recovery {
		recovery[i] = make([]byte, len(inputs[0]))
	}
	for j, in := range inputs {
		c.AddInput(recovery, recIdx, in, j)
	}
	for _, r := range recovery {
		gf.CreateParity(r)
	}
	return recovery
}

func roundTrip(t *testing.T, field gf.Field, blockCount, recoveryCount int, lost []int) {
	t.Helper()

	const size = 200
	c := New(field, blockCount)
	inputs := makeBlocks(blockCount, size, 3)

	recIdx := make([]int, recoveryCount)
	for i := range recIdx {
		recIdx[i] = i
	}
	recovery := encodeAll(c, inputs, recIdx)

	// Damage: replace each lost block's region with a recovery block.
	blocks := make([][]byte, blockCount)
	want := make([][]byte, blockCount)
	for i := range blocks {
		want[i] = append([]byte(nil), inputs[i]...)
		blocks[i] = append([]byte(nil), inputs[i]...)
	}
	usedRec := make([]int, len(lost))
	for i, l := range lost {
		copy(blocks[l], recovery[i])
		usedRec[i] = recIdx[i]
	}

	require.NoError(t, c.Decode(blocks, lost, usedRec))

	for i := range blocks {
		assert.Equal(t, want[i], blocks[i], "block %d", i)
		assert.True(t, gf.CheckParity(blocks[i]), "parity of block %d", i)
	}
}

func TestRoundTripGF8(t *testing.T) {
	f := gf.New8(gf.PolyCauchy8)
	roundTrip(t, f, 4, 2, []int{1, 3})
	roundTrip(t, f, 4, 2, nil)
	roundTrip(t, f, 7, 4, []int{0, 2, 4, 6})
}

func TestRoundTripGF16(t *testing.T) {
	f := gf.New16(gf.PolyCauchy16)
	roundTrip(t, f, 5, 3, []int{0, 4})
	roundTrip(t, f, 12, 6, []int{1, 2, 3, 5, 8, 11})
}

func TestDecodeWithHighRecoveryIndices(t *testing.T) {
	// Losing blocks and repairing from the tail of a larger recovery range.
	f := gf.New16(gf.PolyCauchy16)
	const blockCount = 6
	c := New(f, blockCount)
	inputs := makeBlocks(blockCount, 64, 9)

	recIdx := []int{10, 11, 12}
	recovery := encodeAll(c, inputs, recIdx)

	blocks := make([][]byte, blockCount)
	want := make([][]byte, blockCount)
	for i := range blocks {
		want[i] = append([]byte(nil), inputs[i]...)
		blocks[i] = append([]byte(nil), inputs[i]...)
	}
	lost := []int{2, 5}
	copy(blocks[2], recovery[0])
	copy(blocks[5], recovery[2])

	require.NoError(t, c.Decode(blocks, lost, []int{10, 12}))
	for i := range blocks {
		assert.Equal(t, want[i], blocks[i], "block %d", i)
	}
}

func TestNotEnoughRecovery(t *testing.T) {
	f := gf.New8(gf.PolyCauchy8)
	c := New(f, 4)
	blocks := makeBlocks(4, 32, 0)
	err := c.Decode(blocks, []int{0, 1}, []int{0})
	assert.ErrorIs(t, err, ErrShort)
}

func TestFieldFor(t *testing.T) {
	// 129 input blocks no longer fit the 8-bit x/y split.
	bits, poly := FieldFor(129, 0, 0)
	assert.Equal(t, 16, bits)
	assert.Equal(t, uint32(gf.PolyCauchy16), poly)

	bits, poly = FieldFor(128, 0, 100)
	assert.Equal(t, 8, bits)
	assert.Equal(t, uint32(gf.PolyCauchy8), poly)

	// 129 blocks exceed the 128-block cap, and 129+200 > 256 as well.
	bits, _ = FieldFor(129, 0, 200)
	assert.Equal(t, 16, bits)

	bits, _ = FieldFor(100, 56, 101)
	assert.Equal(t, 16, bits)
}

package fftrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeShards(n, size int, seed byte) [][]byte {
	shards := make([][]byte, n)
	for i := range shards {
		shards[i] = make([]byte, size)
		for j := range shards[i] {
			shards[i][j] = byte(i)*13 + seed + byte(j)*101
		}
	}
	return shards
}

func TestFieldBits(t *testing.T) {
	assert.Equal(t, 8, FieldBits(128, 128))
	assert.Equal(t, 8, FieldBits(100, 100)) // 128+128 after padding
	assert.Equal(t, 16, FieldBits(200, 100))
	assert.Equal(t, 16, FieldBits(128, 129))
}

func TestNextPow2(t *testing.T) {
	assert.Equal(t, uint64(0), NextPow2(0))
	assert.Equal(t, uint64(1), NextPow2(1))
	assert.Equal(t, uint64(4), NextPow2(3))
	assert.Equal(t, uint64(4), NextPow2(4))
	assert.Equal(t, uint64(32768), NextPow2(20000))
}

func TestEncodeReconstructGF8(t *testing.T) {
	const blockCount, maxRecovery, size = 10, 4, 128
	c, err := New(blockCount, maxRecovery)
	require.NoError(t, err)
	require.Equal(t, 8, c.FieldBits())

	inputs := makeShards(blockCount, size, 1)
	recovery, err := c.Encode(inputs, 0, maxRecovery)
	require.NoError(t, err)
	require.Len(t, recovery, maxRecovery)

	// Lose 4 inputs, feed all 4 recovery blocks back.
	damaged := make([][]byte, blockCount)
	copy(damaged, inputs)
	for _, l := range []int{0, 3, 7, 9} {
		damaged[l] = nil
	}
	rec := map[int][]byte{0: recovery[0], 1: recovery[1], 2: recovery[2], 3: recovery[3]}
	require.NoError(t, c.Reconstruct(damaged, rec))

	for i := range inputs {
		assert.Equal(t, inputs[i], damaged[i], "block %d", i)
	}
}

func TestEncodeReconstructGF16(t *testing.T) {
	const blockCount, maxRecovery, size = 300, 8, 64
	c, err := New(blockCount, maxRecovery)
	require.NoError(t, err)
	require.Equal(t, 16, c.FieldBits())

	inputs := makeShards(blockCount, size, 9)
	recovery, err := c.Encode(inputs, 2, 4)
	require.NoError(t, err)
	require.Len(t, recovery, 4)

	damaged := make([][]byte, blockCount)
	copy(damaged, inputs)
	damaged[5] = nil
	damaged[123] = nil

	// The returned blocks carry absolute indices 2..5.
	rec := map[int][]byte{2: recovery[0], 3: recovery[1]}
	require.NoError(t, c.Reconstruct(damaged, rec))

	for i := range inputs {
		assert.Equal(t, inputs[i], damaged[i], "block %d", i)
	}
}

func TestReconstructTooFewBlocks(t *testing.T) {
	c, err := New(6, 2)
	require.NoError(t, err)

	inputs := makeShards(6, 64, 2)
	recovery, err := c.Encode(inputs, 0, 2)
	require.NoError(t, err)

	damaged := make([][]byte, 6)
	copy(damaged, inputs)
	damaged[0] = nil
	damaged[1] = nil
	damaged[2] = nil

	err = c.Reconstruct(damaged, map[int][]byte{0: recovery[0], 1: recovery[1]})
	assert.ErrorIs(t, err, ErrShort)
}

func TestEncodeRangeChecks(t *testing.T) {
	c, err := New(4, 4)
	require.NoError(t, err)

	inputs := makeShards(4, 64, 0)
	_, err = c.Encode(inputs, 3, 2)
	assert.ErrorIs(t, err, ErrTooManyRecovery)

	_, err = New(4, MaxRecovery+1)
	assert.Error(t, err)
}

func TestInterleaver(t *testing.T) {
	// 16 inputs in 4 cohorts: cohort block count is 4, block i
	// lands in cohort i%4 at slot i/4.
	iv := NewInterleaver(16, 4)
	assert.Equal(t, 4, iv.CohortBlockCount())
	assert.Equal(t, 2, iv.CohortOf(6))
	assert.Equal(t, 1, iv.LocalIndex(6))
	assert.Equal(t, 6, iv.GlobalIndex(2, 1))

	// 17 inputs: cohort 0 has 5 slots, the others pad their 5th.
	iv = NewInterleaver(17, 4)
	assert.Equal(t, 5, iv.CohortBlockCount())
	assert.Equal(t, 16, iv.GlobalIndex(0, 4))
	assert.Equal(t, -1, iv.GlobalIndex(1, 4), "padding slot has no global block")

	// No interleaving degenerates to the identity.
	iv = NewInterleaver(9, 1)
	assert.Equal(t, 9, iv.CohortBlockCount())
	assert.Equal(t, 0, iv.CohortOf(8))
	assert.Equal(t, 8, iv.LocalIndex(8))
}

func TestAlignRecovery(t *testing.T) {
	first, count := AlignRecovery(0, 10, 3)
	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(12), count)

	first, count = AlignRecovery(5, 4, 3)
	assert.Equal(t, uint64(3), first)
	assert.Equal(t, uint64(6), count)

	first, count = AlignRecovery(7, 9, 1)
	assert.Equal(t, uint64(7), first)
	assert.Equal(t, uint64(9), count)
}

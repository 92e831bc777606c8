package par3

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeInput creates a test file and returns its InputFile record.
func writeInput(t *testing.T, dir, name string, data []byte) InputFile {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return InputFile{DiskPath: path, Name: name, Size: uint64(len(data))}
}

// pattern fills n bytes with a deterministic, seed-dependent pattern.
func pattern(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7+i/255) + seed
	}
	return data
}

// checkCoverage asserts that every input byte is covered by exactly one
// slice or inline tail.
func checkCoverage(t *testing.T, m *BlockMap) {
	t.Helper()
	for fi := range m.Files {
		f := &m.Files[fi]
		var covered uint64
		for _, si := range m.FileSlices(fi) {
			covered += m.Slices[si].Size
		}
		for _, c := range m.FileChunks(fi) {
			covered += uint64(len(c.TailData))
			if c.Size == 0 {
				covered += c.Block
			}
		}
		assert.Equal(t, f.Size, covered, "file %s coverage", f.Name)

		var chunkSum uint64
		for _, c := range m.FileChunks(fi) {
			chunkSum += c.Size
			if c.Size == 0 {
				chunkSum += c.Block
			}
		}
		assert.Equal(t, f.Size, chunkSum, "file %s chunk sum", f.Name)
	}
}

func TestMapSingleFile(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "a.bin", pattern(4096, 0))

	m, tails, err := NewMapper(1024, DedupOff).Map([]InputFile{in})
	require.NoError(t, err)

	assert.Len(t, m.Blocks, 4)
	assert.Len(t, m.Slices, 4)
	assert.Empty(t, tails)
	require.Len(t, m.Files, 1)
	assert.Equal(t, 1, m.Files[0].ChunkCount)
	checkCoverage(t, m)

	// Exactly block-size content means full blocks, no tail.
	for _, b := range m.Blocks {
		assert.Equal(t, uint64(1024), b.Size)
		assert.NotZero(t, b.State&BlockHasFull)
		assert.Zero(t, b.State&BlockHasTails)
	}
}

func TestMapTinyFileIsInline(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "tiny.bin", []byte("0123456789012345678901234567890123456")) // 37 bytes

	m, _, err := NewMapper(1024, DedupOff).Map([]InputFile{in})
	require.NoError(t, err)

	assert.Empty(t, m.Blocks, "files under 40 bytes allocate no block")
	assert.Empty(t, m.Slices)
	require.Len(t, m.Chunks, 1)
	assert.Equal(t, uint64(37), m.Chunks[0].Size)
	assert.Len(t, m.Chunks[0].TailData, 37)
	checkCoverage(t, m)
}

func TestMapTailPacking(t *testing.T) {
	dir := t.TempDir()
	// 1400 = one full block + 376 tail; 600 packs into the same tail
	// block (376+600 <= 1024).
	a := writeInput(t, dir, "a.bin", pattern(1400, 1))
	b := writeInput(t, dir, "b.bin", pattern(600, 2))

	m, tails, err := NewMapper(1024, DedupOff).Map([]InputFile{a, b})
	require.NoError(t, err)

	require.Len(t, m.Blocks, 2, "one full block, one shared tail block")
	checkCoverage(t, m)

	tailBlock := &m.Blocks[1]
	assert.NotZero(t, tailBlock.State&BlockHasTails)
	assert.Equal(t, uint64(376+600), tailBlock.Size)
	assert.Len(t, tailBlock.Slices, 2)

	data := tails[1]
	require.Len(t, data, 376+600)
	assert.True(t, bytes.Equal(data[:376], pattern(1400, 1)[1024:]))
	assert.True(t, bytes.Equal(data[376:], pattern(600, 2)))

	// The tail block checksums cover the packed content.
	assert.Equal(t, CRC64(data), tailBlock.CRC)
	assert.Equal(t, Hash128(data), tailBlock.Hash)
}

func TestMapTailOverflowOpensNewBlock(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "a.bin", pattern(1024+800, 1))
	b := writeInput(t, dir, "b.bin", pattern(500, 2))

	m, _, err := NewMapper(1024, DedupOff).Map([]InputFile{a, b})
	require.NoError(t, err)

	// 800 + 500 > 1024: the second tail opens its own block.
	assert.Len(t, m.Blocks, 3)
	checkCoverage(t, m)
}

func TestMapDedupFullBlocks(t *testing.T) {
	dir := t.TempDir()
	content := pattern(10240, 5)
	a := writeInput(t, dir, "a.bin", content)
	b := writeInput(t, dir, "a.copy.bin", content)

	m, _, err := NewMapper(1024, DedupTails).Map([]InputFile{a, b})
	require.NoError(t, err)

	assert.Len(t, m.Blocks, 10, "identical content shares blocks")
	assert.Len(t, m.Slices, 20, "both files keep their own slices")
	checkCoverage(t, m)

	// The second file's chunk references the first file's blocks.
	require.Len(t, m.Files, 2)
	c0 := m.FileChunks(0)[0]
	c1 := m.FileChunks(1)[0]
	assert.Equal(t, c0.Block, c1.Block)

	for _, blk := range m.Blocks {
		assert.Len(t, blk.Slices, 2, "each block is shared by both files")
	}
}

func TestMapDedupOffKeepsDistinctBlocks(t *testing.T) {
	dir := t.TempDir()
	content := pattern(2048, 5)
	a := writeInput(t, dir, "a.bin", content)
	b := writeInput(t, dir, "b.bin", content)

	m, _, err := NewMapper(1024, DedupOff).Map([]InputFile{a, b})
	require.NoError(t, err)
	assert.Len(t, m.Blocks, 4)
}

func TestMapDedupIdenticalBlocksWithinFile(t *testing.T) {
	dir := t.TempDir()
	// 0x00..0xFF repeated 16 times: every 1024-byte block is identical.
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	in := writeInput(t, dir, "a.bin", data)

	m, _, err := NewMapper(1024, DedupFull).Map([]InputFile{in})
	require.NoError(t, err)

	assert.Len(t, m.Blocks, 1, "all four blocks carry the same content")
	assert.Len(t, m.Slices, 4)
	assert.Len(t, m.Blocks[0].Slices, 4)
	checkCoverage(t, m)
}

func TestMapSortsLargestFirst(t *testing.T) {
	dir := t.TempDir()
	small := writeInput(t, dir, "small.bin", pattern(100, 1))
	big := writeInput(t, dir, "big.bin", pattern(5000, 2))

	m, _, err := NewMapper(1024, DedupOff).Map([]InputFile{small, big})
	require.NoError(t, err)

	require.Len(t, m.Files, 2)
	assert.Equal(t, "big.bin", m.Files[0].Name)
	assert.Equal(t, "small.bin", m.Files[1].Name)
}

func TestMapFileHashes(t *testing.T) {
	dir := t.TempDir()
	data := pattern(3000, 9)
	in := writeInput(t, dir, "a.bin", data)

	m, _, err := NewMapper(1024, DedupOff).Map([]InputFile{in})
	require.NoError(t, err)

	f := &m.Files[0]
	assert.Equal(t, Hash128(data), f.Hash)
	assert.Equal(t, CRC64(data), f.HeadCRC, "files under 16 KiB hash entirely into the head CRC")
}

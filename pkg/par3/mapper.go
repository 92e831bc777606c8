package par3

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/marmos91/par3/internal/logger"
)

// InputFile names one file to protect: where it lives on disk and the
// slash-separated name it carries inside the set.
type InputFile struct {
	DiskPath string
	Name     string
	Size     uint64
}

// DedupLevel controls block deduplication during mapping.
type DedupLevel int

const (
	DedupOff   DedupLevel = 0 // every block is allocated fresh
	DedupFull  DedupLevel = 1 // identical full blocks are shared
	DedupTails DedupLevel = 2 // identical tails are shared too
)

type dedupKey struct {
	crc  uint64
	hash [16]byte
	size uint64
}

// Mapper cuts input files into blocks and slices. Tail blocks are kept in
// memory until mapping finishes so their checksums cover the final packing.
type Mapper struct {
	m     *BlockMap
	dedup DedupLevel

	fullIndex map[dedupKey]int // block index holding identical full content
	tailIndex map[dedupKey]int // slice index holding an identical tail

	tailFill map[int]uint64 // tail block index -> bytes packed so far
	tailData map[int][]byte // tail block index -> packed content
	tailBlocks []int          // tail block indices in allocation order
}

// NewMapper returns a mapper producing blocks of blockSize bytes.
func NewMapper(blockSize uint64, dedup DedupLevel) *Mapper {
	return &Mapper{
		m:         &BlockMap{BlockSize: blockSize},
		dedup:     dedup,
		fullIndex: make(map[dedupKey]int),
		tailIndex: make(map[dedupKey]int),
		tailFill:  make(map[int]uint64),
		tailData:  make(map[int][]byte),
	}
}

// Map scans the inputs and builds the slice/block/chunk/file graph.
// Files are processed largest first so tails pack densely; the resulting
// order is the file index order of the set. The returned tail data is
// keyed by block index and stays valid until the next Map call.
func (mp *Mapper) Map(inputs []InputFile) (*BlockMap, map[int][]byte, error) {
	sorted := append([]InputFile(nil), inputs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Size != sorted[j].Size {
			return sorted[i].Size > sorted[j].Size
		}
		return sorted[i].Name < sorted[j].Name
	})

	for _, in := range sorted {
		if err := mp.mapFile(in); err != nil {
			return nil, nil, err
		}
	}
	mp.finalizeTails()

	logger.Debug("mapping complete",
		logger.KeyBlockCount, len(mp.m.Blocks),
		logger.KeySliceIndex, len(mp.m.Slices),
		logger.KeyChunkCount, len(mp.m.Chunks))
	return mp.m, mp.tailData, nil
}

func (mp *Mapper) mapFile(in InputFile) error {
	f, err := os.Open(in.DiskPath)
	if err != nil {
		return NewError(KindFileIO, fmt.Errorf("open %s: %w", in.DiskPath, err))
	}
	defer f.Close()

	m := mp.m
	fileIndex := len(m.Files)
	fi := FileInfo{
		Name:       in.Name,
		DiskPath:   in.DiskPath,
		Size:       in.Size,
		ChunkFirst: len(m.Chunks),
		SliceFirst: len(m.Slices),
	}

	fileHash := NewHasher128()
	var headCRC uint64
	var headLen uint64

	blockSize := m.BlockSize
	buf := make([]byte, blockSize)
	var offset uint64

	// The open chunk: a run of consecutively indexed full blocks.
	chunkOpen := false
	var chunk ChunkDesc
	closeChunk := func() {
		if chunkOpen {
			m.Chunks = append(m.Chunks, chunk)
			fi.ChunkCount++
			chunkOpen = false
		}
	}

	fullCount := in.Size / blockSize
	for b := uint64(0); b < fullCount; b++ {
		if _, err := io.ReadFull(f, buf); err != nil {
			return NewError(KindFileIO, fmt.Errorf("read %s: %w", in.DiskPath, err))
		}
		fileHash.Write(buf)
		if headLen < headHashLimit {
			n := min(uint64(len(buf)), headHashLimit-headLen)
			headCRC = CRC64Update(headCRC, buf[:n])
			headLen += n
		}

		crc := CRC64(buf)
		hash := Hash128(buf)
		blockIndex := -1
		if mp.dedup >= DedupFull {
			if idx, ok := mp.fullIndex[dedupKey{crc, hash, blockSize}]; ok {
				blockIndex = idx
			}
		}
		if blockIndex < 0 {
			blockIndex = len(m.Blocks)
			m.Blocks = append(m.Blocks, Block{
				State: BlockHasFull,
				Size:  blockSize,
				CRC:   crc,
				Hash:  hash,
			})
			if mp.dedup >= DedupFull {
				mp.fullIndex[dedupKey{crc, hash, blockSize}] = blockIndex
			}
		}

		sliceIndex := len(m.Slices)
		m.Slices = append(m.Slices, Slice{
			File:       fileIndex,
			FileOffset: offset,
			Block:      blockIndex,
			Size:       blockSize,
		})
		m.Blocks[blockIndex].Slices = append(m.Blocks[blockIndex].Slices, sliceIndex)

		// Extend the open chunk while block indices stay consecutive.
		if chunkOpen && blockIndex == int(chunk.Block+(chunk.Size/blockSize)) {
			chunk.Size += blockSize
		} else {
			closeChunk()
			chunkOpen = true
			chunk = ChunkDesc{Size: blockSize, Block: uint64(blockIndex)}
		}
		offset += blockSize
	}

	rem := in.Size % blockSize
	if rem > 0 {
		tail := make([]byte, rem)
		if _, err := io.ReadFull(f, tail); err != nil {
			return NewError(KindFileIO, fmt.Errorf("read %s: %w", in.DiskPath, err))
		}
		fileHash.Write(tail)
		if headLen < headHashLimit {
			n := min(uint64(len(tail)), headHashLimit-headLen)
			headCRC = CRC64Update(headCRC, tail[:n])
			headLen += n
		}

		if !chunkOpen {
			chunkOpen = true
			chunk = ChunkDesc{}
		}
		chunk.Size += rem
		if rem < tinyTailLimit {
			chunk.TailData = append([]byte(nil), tail...)
		} else {
			mp.packTail(&chunk, fileIndex, offset, tail)
		}
	}
	closeChunk()

	fi.Hash = fileHash.Sum128()
	fi.HeadCRC = headCRC
	m.Files = append(m.Files, fi)
	return nil
}

// packTail places a tail of 40 or more bytes into a tail block by
// first-fit, or shares an existing identical tail at dedup level 2.
func (mp *Mapper) packTail(chunk *ChunkDesc, fileIndex int, offset uint64, tail []byte) {
	m := mp.m
	rem := uint64(len(tail))

	crc := CRC64(tail)
	hash := Hash128(tail)
	key := dedupKey{crc, hash, rem}

	chunk.TailCRC = CRC64(tail[:tinyTailLimit])
	chunk.TailHash = hash

	if mp.dedup >= DedupTails {
		if si, ok := mp.tailIndex[key]; ok {
			shared := m.Slices[si]
			sliceIndex := len(m.Slices)
			m.Slices = append(m.Slices, Slice{
				File:       fileIndex,
				FileOffset: offset,
				Block:      shared.Block,
				TailOffset: shared.TailOffset,
				Size:       rem,
			})
			m.Blocks[shared.Block].Slices = append(m.Blocks[shared.Block].Slices, sliceIndex)
			chunk.TailBlock = uint64(shared.Block)
			chunk.TailOffset = shared.TailOffset
			return
		}
	}

	blockIndex := -1
	for _, t := range mp.tailBlocks {
		if mp.tailFill[t]+rem <= m.BlockSize {
			blockIndex = t
			break
		}
	}
	if blockIndex < 0 {
		blockIndex = len(m.Blocks)
		m.Blocks = append(m.Blocks, Block{State: BlockHasTails})
		mp.tailData[blockIndex] = make([]byte, 0, m.BlockSize)
		mp.tailBlocks = append(mp.tailBlocks, blockIndex)
	}

	fill := mp.tailFill[blockIndex]
	mp.tailData[blockIndex] = append(mp.tailData[blockIndex], tail...)
	mp.tailFill[blockIndex] = fill + rem

	sliceIndex := len(m.Slices)
	m.Slices = append(m.Slices, Slice{
		File:       fileIndex,
		FileOffset: offset,
		Block:      blockIndex,
		TailOffset: fill,
		Size:       rem,
	})
	m.Blocks[blockIndex].Slices = append(m.Blocks[blockIndex].Slices, sliceIndex)
	if mp.dedup >= DedupTails {
		mp.tailIndex[key] = sliceIndex
	}

	chunk.TailBlock = uint64(blockIndex)
	chunk.TailOffset = fill
}

// finalizeTails computes checksums of tail blocks over their final packing.
func (mp *Mapper) finalizeTails() {
	for _, t := range mp.tailBlocks {
		data := mp.tailData[t]
		b := &mp.m.Blocks[t]
		b.Size = uint64(len(data))
		b.CRC = CRC64(data)
		b.Hash = Hash128(data)
	}
}

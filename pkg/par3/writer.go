package par3

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/ecc/cauchy"
	"github.com/marmos91/par3/pkg/ecc/fftrs"
)

// plannedPacket is one packet slot in a volume layout. Metadata packets
// carry their final bytes; recovery payload packets are written as headers
// first and filled during the split encode loop.
type plannedPacket struct {
	raw       []byte // complete packet, nil for recovery payloads
	recIndex  uint64 // absolute recovery index for recovery payloads
	dataBlock int    // input block index for data payloads, -1 otherwise
	size      uint64
}

type volumePlan struct {
	name    string
	packets []plannedPacket
	offsets []uint64
	size    uint64
}

func (c *Creator) creatorPacket() []byte {
	return MakePacket(c.setID, TagCreator, []byte(CreatorText))
}

// planVolumes lays out every par file: the metadata-only index, the
// recovery volumes, and optionally the data volumes. The common packet
// block is re-duplicated after every power-of-two payload packet, capped
// by the repetition limit.
func (c *Creator) planVolumes() ([]*volumePlan, error) {
	dir := filepath.Dir(c.opts.OutBase)
	base := filepath.Base(c.opts.OutBase)

	creator := c.creatorPacket()

	var plans []*volumePlan

	if !c.skipIndex {
		index := &volumePlan{name: filepath.Join(dir, IndexFileName(base))}
		index.add(plannedPacket{raw: creator, dataBlock: -1})
		index.add(plannedPacket{raw: c.commonBlock, dataBlock: -1})
		plans = append(plans, index)
	}

	if c.recoveryCount > 0 {
		recPacketSize := uint64(HeaderSize) + 24 + c.m.BlockSize
		counts, err := c.opts.Sizing.Distribute(c.recoveryCount, recPacketSize)
		if err != nil {
			return nil, err
		}
		names := VolumeFileNames(base, "vol", c.opts.FirstRecovery, counts)
		recIndex := c.opts.FirstRecovery
		for vi, count := range counts {
			plan := &volumePlan{name: filepath.Join(dir, names[vi])}
			plan.add(plannedPacket{raw: creator, dataBlock: -1})
			plan.add(plannedPacket{raw: c.commonBlock, dataBlock: -1})
			reps := 0
			for p := uint64(1); p <= count; p++ {
				plan.add(plannedPacket{recIndex: recIndex, dataBlock: -1, size: recPacketSize})
				recIndex++
				if p&(p-1) == 0 && p < count {
					if c.opts.RepetitionLimit <= 0 || reps < c.opts.RepetitionLimit {
						plan.add(plannedPacket{raw: c.commonBlock, dataBlock: -1})
						reps++
					}
				}
			}
			plans = append(plans, plan)
		}
	}

	if c.opts.StoreData {
		blockCount := uint64(len(c.m.Blocks))
		counts, err := Sizing{Scheme: SizingPowerOfTwo}.Distribute(blockCount, uint64(HeaderSize)+8+c.m.BlockSize)
		if err != nil {
			return nil, err
		}
		names := VolumeFileNames(base, "part", 0, counts)
		blockIndex := 0
		for vi, count := range counts {
			plan := &volumePlan{name: filepath.Join(dir, names[vi])}
			plan.add(plannedPacket{raw: creator, dataBlock: -1})
			plan.add(plannedPacket{raw: c.commonBlock, dataBlock: -1})
			reps := 0
			for p := uint64(1); p <= count; p++ {
				size := uint64(HeaderSize) + 8 + c.m.Blocks[blockIndex].Size
				plan.add(plannedPacket{dataBlock: blockIndex, size: size})
				blockIndex++
				if p&(p-1) == 0 && p < count {
					if c.opts.RepetitionLimit <= 0 || reps < c.opts.RepetitionLimit {
						plan.add(plannedPacket{raw: c.commonBlock, dataBlock: -1})
						reps++
					}
				}
			}
			plans = append(plans, plan)
		}
	}
	return plans, nil
}

func (v *volumePlan) add(p plannedPacket) {
	if p.raw != nil {
		p.size = uint64(len(p.raw))
	}
	v.offsets = append(v.offsets, v.size)
	v.packets = append(v.packets, p)
	v.size += p.size
}

// recTarget tracks one recovery packet being filled across split passes.
type recTarget struct {
	file       *os.File
	headerOff  uint64
	payloadOff uint64
	recIndex   uint64
	hasher     *blake3.Hasher
}

// writeVolumes creates the planned files, writes metadata and data
// packets, then streams the recovery computation into the payload areas.
func (c *Creator) writeVolumes(plans []*volumePlan) error {
	src := newBlockSource(c.m, c.tailData)
	defer src.close()

	matrixChecksum := checksumOf(c.matrixPacket)

	files := make([]*os.File, len(plans))
	defer func() {
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}()

	var targets []*recTarget
	for pi, plan := range plans {
		f, err := os.Create(plan.name)
		if err != nil {
			return NewError(KindFileIO, fmt.Errorf("create %s: %w", plan.name, err))
		}
		files[pi] = f

		for i, pkt := range plan.packets {
			off := plan.offsets[i]
			switch {
			case pkt.raw != nil:
				if _, err := f.WriteAt(pkt.raw, int64(off)); err != nil {
					return NewError(KindFileIO, fmt.Errorf("write %s: %w", plan.name, err))
				}

			case pkt.dataBlock >= 0:
				blk := &c.m.Blocks[pkt.dataBlock]
				data := make([]byte, blk.Size)
				if err := src.readRange(pkt.dataBlock, 0, data); err != nil {
					return err
				}
				dp := &DataPacket{BlockIndex: uint64(pkt.dataBlock), Data: data}
				if _, err := f.WriteAt(MakePacket(c.setID, TagData, dp.marshal()), int64(off)); err != nil {
					return NewError(KindFileIO, fmt.Errorf("write %s: %w", plan.name, err))
				}

			default:
				// Recovery payload: header and body prefix now, payload
				// streamed in afterwards, checksum patched at the end.
				header := make([]byte, HeaderSize+24)
				copy(header[0:8], Magic[:])
				binary.LittleEndian.PutUint64(header[24:32], pkt.size)
				copy(header[32:40], c.setID[:])
				copy(header[40:48], TagRecvData[:])
				copy(header[48:64], matrixChecksum[:])
				binary.LittleEndian.PutUint64(header[64:72], pkt.recIndex)
				if _, err := f.WriteAt(header, int64(off)); err != nil {
					return NewError(KindFileIO, fmt.Errorf("write %s: %w", plan.name, err))
				}

				h := blake3.New()
				h.Write(header[24:]) // length, set id, type, matrix, index
				targets = append(targets, &recTarget{
					file:       f,
					headerOff:  off,
					payloadOff: off + HeaderSize + 24,
					recIndex:   pkt.recIndex,
					hasher:     h,
				})
			}
		}
		if err := f.Truncate(int64(plan.size)); err != nil {
			return NewError(KindFileIO, fmt.Errorf("truncate %s: %w", plan.name, err))
		}
	}

	if len(targets) > 0 {
		if err := c.encodeRecovery(src, targets); err != nil {
			return err
		}
		for _, t := range targets {
			var sum [16]byte
			copy(sum[:], t.hasher.Sum(nil)[:16])
			if _, err := t.file.WriteAt(sum[:], int64(t.headerOff+8)); err != nil {
				return NewError(KindFileIO, err)
			}
		}
	}
	return nil
}

// splitPlan bounds codec memory: blocks are processed in pieces of
// splitSize bytes when the whole-block working set would exceed the limit.
func splitPlan(blockSize, memLimit, units uint64) (splitSize uint64, splitCount int) {
	splitSize = blockSize
	if memLimit > 0 && units > 0 && blockSize*units > memLimit {
		splitSize = memLimit / units &^ 63
		if splitSize < 64 {
			splitSize = 64
		}
		if splitSize > blockSize {
			splitSize = blockSize
		}
	}
	return splitSize, int((blockSize + splitSize - 1) / splitSize)
}

func (c *Creator) encodeRecovery(src *blockSource, targets []*recTarget) error {
	blockSize := c.m.BlockSize
	blockCount := len(c.m.Blocks)

	switch c.opts.ECC {
	case ECCCauchy:
		return c.encodeCauchy(src, targets, blockSize, blockCount)
	case ECCFFT:
		return c.encodeFFT(src, targets, blockSize, blockCount)
	}
	return NewError(KindLogic, fmt.Errorf("no codec selected"))
}

func (c *Creator) encodeCauchy(src *blockSource, targets []*recTarget, blockSize uint64, blockCount int) error {
	field := newField(c.gfBits, c.poly)
	codec := cauchy.New(field, blockCount)

	recIdx := make([]int, len(targets))
	for i, t := range targets {
		recIdx[i] = int(t.recIndex)
	}

	splitSize, splitCount := splitPlan(blockSize, c.opts.MemoryLimit, uint64(len(targets))+1)
	if splitCount > 1 {
		logger.Info("splitting recovery computation", "splits", splitCount, logger.KeyBlockSize, splitSize)
	}

	regions := make([][]byte, len(targets))
	inBuf := make([]byte, splitSize)
	for s := 0; s < splitCount; s++ {
		off := uint64(s) * splitSize
		length := min(splitSize, blockSize-off)
		for i := range regions {
			if regions[i] == nil {
				regions[i] = make([]byte, splitSize)
			}
			regions[i] = regions[i][:length]
			clear(regions[i])
		}
		for bi := 0; bi < blockCount; bi++ {
			if err := src.readRange(bi, off, inBuf[:length]); err != nil {
				return err
			}
			codec.AddInput(regions, recIdx, inBuf[:length], bi)
		}
		for i, t := range targets {
			t.hasher.Write(regions[i])
			if _, err := t.file.WriteAt(regions[i], int64(t.payloadOff+off)); err != nil {
				return NewError(KindFileIO, err)
			}
		}
	}
	return nil
}

func (c *Creator) encodeFFT(src *blockSource, targets []*recTarget, blockSize uint64, blockCount int) error {
	iv := fftrs.NewInterleaver(blockCount, c.cohorts)
	perCohortMax := int(c.perCohortMaxRecovery())
	cohortBlocks := iv.CohortBlockCount()

	codec, err := fftrs.New(cohortBlocks, perCohortMax)
	if err != nil {
		return err
	}

	// Cohort-local recovery range; alignment guarantees a uniform count.
	localFirst := int(c.opts.FirstRecovery) / c.cohorts
	localCount := int(c.recoveryCount) / c.cohorts
	if c.cohorts == 1 {
		localFirst = int(c.opts.FirstRecovery)
		localCount = int(c.recoveryCount)
	}

	byIndex := make(map[uint64]*recTarget, len(targets))
	for _, t := range targets {
		byIndex[t.recIndex] = t
	}

	units := uint64(cohortBlocks + 2*perCohortMax + 1)
	splitSize, splitCount := splitPlan(blockSize, c.opts.MemoryLimit, units)
	if splitCount > 1 {
		logger.Info("splitting recovery computation", "splits", splitCount, logger.KeyBlockSize, splitSize)
	}

	for s := 0; s < splitCount; s++ {
		off := uint64(s) * splitSize
		length := min(splitSize, blockSize-off)
		shardLen := int((length + 63) &^ 63)

		for cohort := 0; cohort < c.cohorts; cohort++ {
			inputs := make([][]byte, cohortBlocks)
			for local := 0; local < cohortBlocks; local++ {
				inputs[local] = make([]byte, shardLen)
				global := iv.GlobalIndex(cohort, local)
				if global < 0 {
					continue // zero padding block
				}
				if err := src.readRange(global, off, inputs[local][:length]); err != nil {
					return err
				}
			}

			recovery, err := codec.Encode(inputs, localFirst, localCount)
			if err != nil {
				return err
			}
			for li, piece := range recovery {
				local := localFirst + li
				global := uint64(local*c.cohorts + cohort)
				t := byIndex[global]
				if t == nil {
					continue
				}
				t.hasher.Write(piece[:length])
				if _, err := t.file.WriteAt(piece[:length], int64(t.payloadOff+off)); err != nil {
					return NewError(KindFileIO, err)
				}
			}
		}
	}
	return nil
}

package par3

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/ecc/cauchy"
	"github.com/marmos91/par3/pkg/ecc/fftrs"
	"github.com/marmos91/par3/pkg/gf"
)

// RepairResult reports the outcome of a repair run per file.
type RepairResult struct {
	Repaired []string
	Renamed  []string
	Failed   []string
	Outcome  Kind
}

// Recoverer reconstructs missing and damaged files from surviving blocks
// and recovery data. It consumes the state a Verifier.Run left behind.
type Recoverer struct {
	v    *Verifier
	opts VerifyOptions

	restore map[int]*os.File // file index -> temporary output
	temps   map[int]string   // file index -> temporary path

	// Streaming content check of reconstructed blocks across splits.
	lostCRC map[int]uint64

	dataByBlock map[uint64]DataRef
}

// NewRecoverer wraps a verifier whose Run has completed.
func NewRecoverer(v *Verifier, opts VerifyOptions) *Recoverer {
	return &Recoverer{
		v:       v,
		opts:    opts,
		restore: make(map[int]*os.File),
		temps:   make(map[int]string),
		lostCRC: make(map[int]uint64),
	}
}

// Run repairs the set. The verify result decides between renaming
// misnamed files, rebuilding from surviving and recovery blocks, or
// giving up.
func (r *Recoverer) Run(verify *VerifyResult) (*RepairResult, error) {
	result := &RepairResult{Outcome: KindOK}
	if verify.AllComplete {
		return result, nil
	}
	if !verify.Repairable {
		result.Outcome = KindRepairNotPossible
		return result, nil
	}
	if r.opts.Trial {
		result.Outcome = KindRepairPossible
		return result, nil
	}

	if err := r.renameMisnamed(result); err != nil {
		return nil, err
	}

	m := r.v.m
	var restoring []int
	for fi := range m.Files {
		if m.Files[fi].State&(FileMissing|FileDamaged) != 0 {
			restoring = append(restoring, fi)
		}
	}
	if len(restoring) == 0 {
		result.Outcome = KindOK
		return result, nil
	}

	if err := r.openTemps(restoring); err != nil {
		return nil, err
	}
	defer r.cleanupTemps()

	if err := r.reconstruct(); err != nil {
		return nil, err
	}

	// Finalize: inline tails, truncation, content check, rename into place.
	failed := false
	for _, fi := range restoring {
		if err := r.finalizeFile(fi, result); err != nil {
			logger.Error("repair failed", logger.KeyPath, m.Files[fi].Name, logger.KeyError, err)
			result.Failed = append(result.Failed, m.Files[fi].Name)
			failed = true
		}
	}
	if failed {
		result.Outcome = KindRepairFailed
	}
	return result, nil
}

// renameMisnamed moves matched extra files back to their set names.
func (r *Recoverer) renameMisnamed(result *RepairResult) error {
	m := r.v.m
	for fi := range m.Files {
		f := &m.Files[fi]
		if f.State&FileMisnamed == 0 {
			continue
		}
		src := r.v.misnamedPath(f)
		dst := r.v.diskPath(f.Name)
		if src == "" {
			f.State |= FileMissing
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return NewError(KindFileIO, err)
		}
		if err := os.Rename(src, dst); err != nil {
			return NewError(KindFileIO, fmt.Errorf("rename %s: %w", src, err))
		}
		// Blocks located inside the renamed file must now be read from
		// its new path.
		for t := range r.v.targets {
			if r.v.targets[t] == src {
				r.v.targets[t] = dst
			}
		}
		f.State |= FileRepaired
		result.Renamed = append(result.Renamed, f.Name)
		logger.Info("renamed misnamed file", logger.KeyOldPath, src, logger.KeyNewPath, dst)
	}
	return nil
}

func (r *Recoverer) openTemps(restoring []int) error {
	for _, fi := range restoring {
		name := TempFileName(r.v.store.SetID, fi)
		path := filepath.Join(r.v.base, name)
		f, err := os.Create(path)
		if err != nil {
			return NewError(KindFileIO, fmt.Errorf("create %s: %w", path, err))
		}
		r.restore[fi] = f
		r.temps[fi] = path
		r.v.m.Files[fi].State |= FileRestored
	}
	return nil
}

// cleanupTemps removes any temporary that was not renamed into place.
func (r *Recoverer) cleanupTemps() {
	for fi, f := range r.restore {
		if f != nil {
			f.Close()
		}
		if path, ok := r.temps[fi]; ok {
			os.Remove(path)
		}
	}
}

// lostBlocks returns the indices of blocks whose content was not located.
func (r *Recoverer) lostBlocks() []int {
	m := r.v.m
	dataBlocks := r.dataRefs()
	var lost []int
	for bi := range m.Blocks {
		if m.Blocks[bi].State&BlockFound != 0 {
			continue
		}
		if _, ok := dataBlocks[uint64(bi)]; ok {
			continue
		}
		lost = append(lost, bi)
	}
	return lost
}

func (r *Recoverer) dataRefs() map[uint64]DataRef {
	if r.dataByBlock == nil {
		r.dataByBlock = make(map[uint64]DataRef, len(r.v.store.Data))
		for _, d := range r.v.store.Data {
			r.dataByBlock[d.BlockIndex] = d
		}
	}
	return r.dataByBlock
}

// reconstruct runs the cohort and split loops: read known blocks (writing
// their slices through to the temporaries as they pass), solve for the
// lost ones, write their slices, and verify reconstructed content.
func (r *Recoverer) reconstruct() error {
	m := r.v.m
	lost := r.lostBlocks()

	start, err := r.v.store.Start()
	if err != nil {
		return NewError(KindLogic, err)
	}

	if fp := r.v.fftParams(); fp != nil {
		err = r.reconstructFFT(fp, lost)
	} else if cp := r.v.cauchyParams(); cp != nil {
		err = r.reconstructCauchy(start, cp, lost)
	} else if len(lost) > 0 {
		return NewError(KindRepairNotPossible, fmt.Errorf("no matrix packet for %d lost blocks", len(lost)))
	} else {
		err = r.copyKnownOnly()
	}
	if err != nil {
		return err
	}

	// Streaming CRC check of every reconstructed block.
	for bi, crc := range r.lostCRC {
		if crc != m.Blocks[bi].CRC {
			return NewError(KindLogic,
				fmt.Errorf("block %d: reconstructed content mismatches its checksum", bi))
		}
	}
	return nil
}

// copyKnownOnly handles repair without any lost blocks: every slice of a
// restoring file is read from its located position.
func (r *Recoverer) copyKnownOnly() error {
	m := r.v.m
	blockSize := m.BlockSize
	buf := make([]byte, blockSize)
	for bi := range m.Blocks {
		piece := buf[:min(blockSize, m.Blocks[bi].Size)]
		if len(piece) == 0 {
			continue
		}
		if !r.blockNeeded(bi) {
			continue
		}
		if err := r.readKnownRange(bi, 0, piece); err != nil {
			return err
		}
		if err := r.writeSlices(bi, 0, piece); err != nil {
			return err
		}
	}
	return nil
}

// blockNeeded reports whether any restoring file has a slice in block bi.
func (r *Recoverer) blockNeeded(bi int) bool {
	m := r.v.m
	for _, si := range m.Blocks[bi].Slices {
		if _, ok := r.restore[m.Slices[si].File]; ok {
			return true
		}
	}
	return false
}

// selectRecovery assigns one distinct recovery block per lost block,
// cohort by cohort.
func (r *Recoverer) selectRecovery(lost []int, cohorts int) (map[int]RecoveryRef, error) {
	byCohort := make(map[int][]RecoveryRef)
	seen := make(map[uint64]bool)
	for _, ref := range r.v.store.Recovery {
		if r.v.store.MatrixFor(ref) == nil || seen[ref.BlockIndex] {
			continue
		}
		seen[ref.BlockIndex] = true
		cohort := int(ref.BlockIndex) % cohorts
		byCohort[cohort] = append(byCohort[cohort], ref)
	}

	assigned := make(map[int]RecoveryRef, len(lost))
	used := make(map[int]int)
	for _, bi := range lost {
		cohort := bi % cohorts
		refs := byCohort[cohort]
		if used[cohort] >= len(refs) {
			return nil, NewError(KindRepairNotPossible,
				fmt.Errorf("cohort %d: %d recovery blocks for more lost blocks", cohort, len(refs)))
		}
		assigned[bi] = refs[used[cohort]]
		used[cohort]++
	}
	return assigned, nil
}

func (r *Recoverer) reconstructCauchy(start *StartPacket, cp *CauchyPacket, lost []int) error {
	m := r.v.m
	blockSize := m.BlockSize
	blockCount := len(m.Blocks)

	if len(lost) == 0 {
		return r.copyKnownOnly()
	}
	assigned, err := r.selectRecovery(lost, 1)
	if err != nil {
		return err
	}

	field := newField(start.GFBits, start.Polynomial)
	codec := cauchy.New(field, blockCount)

	lostSet := make(map[int]bool, len(lost))
	for _, bi := range lost {
		lostSet[bi] = true
	}
	recIdx := make([]int, len(lost))
	for i, bi := range lost {
		recIdx[i] = int(assigned[bi].BlockIndex)
	}

	units := uint64(blockCount) + 2
	splitSize, splitCount := splitPlan(blockSize, r.opts.MemoryLimit, units)
	if splitCount > 1 {
		logger.Info("splitting repair computation", "splits", splitCount)
	}

	regions := make([][]byte, blockCount)
	for s := 0; s < splitCount; s++ {
		off := uint64(s) * splitSize
		length := min(splitSize, blockSize-off)
		regionLen := gf.RegionSize(length, cauchy.Align)

		for bi := 0; bi < blockCount; bi++ {
			if regions[bi] == nil {
				regions[bi] = make([]byte, gf.RegionSize(splitSize, cauchy.Align))
			}
			regions[bi] = regions[bi][:regionLen]
			clear(regions[bi])

			if lostSet[bi] {
				ref := assigned[bi]
				if err := r.readPayloadRange(ref.Path, ref.PayloadOffset, ref.PayloadSize, off, regions[bi][:length]); err != nil {
					return err
				}
			} else {
				if err := r.readKnownRange(bi, off, regions[bi][:length]); err != nil {
					return err
				}
				// Known content flows to the temporaries during the read
				// phase.
				if err := r.writeSlices(bi, off, regions[bi][:length]); err != nil {
					return err
				}
			}
			gf.CreateParity(regions[bi])
		}

		if err := codec.Decode(regions, lost, recIdx); err != nil {
			return NewError(KindRepairFailed, err)
		}

		for _, bi := range lost {
			if !gf.CheckParity(regions[bi]) {
				return NewError(KindLogic, ErrParityCheck)
			}
			r.accumulateLostCRC(bi, off, regions[bi][:length])
			if err := r.writeSlices(bi, off, regions[bi][:length]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Recoverer) reconstructFFT(fp *FFTPacket, lost []int) error {
	m := r.v.m
	blockSize := m.BlockSize
	blockCount := len(m.Blocks)
	cohorts := fp.Cohorts()

	if len(lost) == 0 {
		return r.copyKnownOnly()
	}
	assigned, err := r.selectRecovery(lost, cohorts)
	if err != nil {
		return err
	}

	iv := fftrs.NewInterleaver(blockCount, cohorts)
	cohortBlocks := iv.CohortBlockCount()
	perCohortMax := int(fp.MaxRecovery())

	codec, err := fftrs.New(cohortBlocks, perCohortMax)
	if err != nil {
		return err
	}

	lostSet := make(map[int]bool, len(lost))
	for _, bi := range lost {
		lostSet[bi] = true
	}

	units := uint64(cohortBlocks + 2*perCohortMax + 1)
	splitSize, splitCount := splitPlan(blockSize, r.opts.MemoryLimit, units)
	if splitCount > 1 {
		logger.Info("splitting repair computation", "splits", splitCount)
	}

	for s := 0; s < splitCount; s++ {
		off := uint64(s) * splitSize
		length := min(splitSize, blockSize-off)
		shardLen := int((length + 63) &^ 63)

		for cohort := 0; cohort < cohorts; cohort++ {
			inputs := make([][]byte, cohortBlocks)
			recovery := make(map[int][]byte)
			cohortHasLoss := false

			for local := 0; local < cohortBlocks; local++ {
				global := iv.GlobalIndex(cohort, local)
				if global < 0 {
					// The padding slot beyond the set is zero in memory
					// and never written back.
					inputs[local] = make([]byte, shardLen)
					continue
				}
				if lostSet[global] {
					cohortHasLoss = true
					ref := assigned[global]
					buf := make([]byte, shardLen)
					if err := r.readPayloadRange(ref.Path, ref.PayloadOffset, ref.PayloadSize, off, buf[:length]); err != nil {
						return err
					}
					recovery[int(iv.RecoveryLocalIndex(int(ref.BlockIndex)))] = buf
					continue
				}
				buf := make([]byte, shardLen)
				if err := r.readKnownRange(global, off, buf[:length]); err != nil {
					return err
				}
				if err := r.writeSlices(global, off, buf[:length]); err != nil {
					return err
				}
				inputs[local] = buf
			}

			if !cohortHasLoss {
				continue
			}
			if err := codec.Reconstruct(inputs, recovery); err != nil {
				return NewError(KindRepairFailed, err)
			}
			for local := 0; local < cohortBlocks; local++ {
				global := iv.GlobalIndex(cohort, local)
				if global < 0 || !lostSet[global] {
					continue
				}
				r.accumulateLostCRC(global, off, inputs[local][:length])
				if err := r.writeSlices(global, off, inputs[local][:length]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// accumulateLostCRC streams the reconstructed bytes of a block through
// CRC-64 so the final content can be checked against the recorded value.
func (r *Recoverer) accumulateLostCRC(bi int, off uint64, piece []byte) {
	blk := &r.v.m.Blocks[bi]
	if off >= blk.Size {
		return
	}
	n := min(uint64(len(piece)), blk.Size-off)
	r.lostCRC[bi] = CRC64Update(r.lostCRC[bi], piece[:n])
}

// readPayloadRange reads [off, off+len(dst)) of an on-disk payload,
// zero-padding past its end.
func (r *Recoverer) readPayloadRange(path string, payloadOff int64, payloadSize, off uint64, dst []byte) error {
	clear(dst)
	if off >= payloadSize {
		return nil
	}
	n := min(uint64(len(dst)), payloadSize-off)
	buf, err := ReadPayload(path, payloadOff+int64(off), n)
	if err != nil {
		return err
	}
	copy(dst, buf)
	return nil
}

// readKnownRange assembles [off, off+len(dst)) of a located block from
// wherever verify found its content.
func (r *Recoverer) readKnownRange(bi int, off uint64, dst []byte) error {
	m := r.v.m
	blk := &m.Blocks[bi]
	clear(dst)
	if off >= blk.Size {
		return nil
	}
	n := min(uint64(len(dst)), blk.Size-off)

	if ref, ok := r.dataRefs()[uint64(bi)]; ok && blk.State&BlockFound == 0 {
		return r.readPayloadRange(ref.Path, ref.PayloadOffset, ref.PayloadSize, off, dst[:n])
	}

	if blk.FoundFile < len(r.v.targets) && blk.State&BlockFound != 0 && r.fullBlockLocated(bi) {
		f, err := os.Open(r.v.targets[blk.FoundFile])
		if err != nil {
			return NewError(KindFileIO, err)
		}
		defer f.Close()
		if _, err := f.ReadAt(dst[:n], blk.FoundOffset+int64(off)); err != nil && err != io.EOF {
			return NewError(KindFileIO, err)
		}
		return nil
	}

	// Assemble from individually located slices.
	for _, si := range blk.Slices {
		sl := &m.Slices[si]
		if !sl.Found {
			continue
		}
		start := max(off, sl.TailOffset)
		end := min(off+n, sl.TailOffset+sl.Size)
		if start >= end {
			continue
		}
		f, err := os.Open(r.v.targets[sl.FoundFile])
		if err != nil {
			return NewError(KindFileIO, err)
		}
		readOff := sl.FoundOffset + int64(start-sl.TailOffset)
		if _, err := f.ReadAt(dst[start-off:end-off], readOff); err != nil && err != io.EOF {
			f.Close()
			return NewError(KindFileIO, err)
		}
		f.Close()
	}
	return nil
}

// fullBlockLocated reports whether the block's FoundFile/FoundOffset
// describe the whole block rather than per-slice finds.
func (r *Recoverer) fullBlockLocated(bi int) bool {
	blk := &r.v.m.Blocks[bi]
	return blk.State&BlockHasFull != 0 || len(blk.Slices) == 0
}

// writeSlices copies the parts of block piece [off, off+len) that belong
// to restoring files into their temporary outputs.
func (r *Recoverer) writeSlices(bi int, off uint64, piece []byte) error {
	m := r.v.m
	end := off + uint64(len(piece))
	for _, si := range m.Blocks[bi].Slices {
		sl := &m.Slices[si]
		out, ok := r.restore[sl.File]
		if !ok {
			continue
		}
		start := max(off, sl.TailOffset)
		stop := min(end, sl.TailOffset+sl.Size)
		if start >= stop {
			continue
		}
		fileOff := int64(sl.FileOffset + (start - sl.TailOffset))
		if _, err := out.WriteAt(piece[start-off:stop-off], fileOff); err != nil {
			return NewError(KindFileIO, err)
		}
	}
	return nil
}

// finalizeFile replays inline tails, truncates the temporary to the real
// size, checks the content fingerprint, and renames it into place with a
// numbered backup of whatever was there.
func (r *Recoverer) finalizeFile(fi int, result *RepairResult) error {
	m := r.v.m
	f := &m.Files[fi]
	out := r.restore[fi]

	var offset uint64
	for _, c := range m.FileChunks(fi) {
		if c.Size == 0 {
			offset += c.Block
			continue
		}
		rem := c.Size % m.BlockSize
		if rem >= 1 && rem < tinyTailLimit {
			tailOff := offset + c.Size - rem
			if _, err := out.WriteAt(c.TailData, int64(tailOff)); err != nil {
				return NewError(KindFileIO, err)
			}
		}
		offset += c.Size
	}
	if err := out.Truncate(int64(f.Size)); err != nil {
		return NewError(KindFileIO, err)
	}
	if err := out.Close(); err != nil {
		return NewError(KindFileIO, err)
	}
	r.restore[fi] = nil

	temp := r.temps[fi]
	sum, err := hashFile(temp)
	if err != nil {
		return NewError(KindFileIO, err)
	}
	if sum != f.Hash && m.UnprotectedSize(fi) == 0 {
		return NewError(KindRepairFailed,
			fmt.Errorf("restored %s does not match its recorded fingerprint", f.Name))
	}

	dst := r.v.diskPath(f.Name)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return NewError(KindFileIO, err)
	}
	if _, err := os.Stat(dst); err == nil {
		if err := backupAside(dst); err != nil {
			return err
		}
	}
	if err := os.Rename(temp, dst); err != nil {
		return NewError(KindFileIO, err)
	}
	delete(r.temps, fi)

	if f.HasUnix {
		_ = os.Chmod(dst, os.FileMode(f.Mode))
	}

	f.State &^= FileMissing | FileDamaged
	f.State |= FileRepaired
	result.Repaired = append(result.Repaired, f.Name)
	logger.Info("repaired file", logger.KeyPath, f.Name, logger.KeySize, f.Size)
	return nil
}

// backupAside renames an existing file to name.<n> using the first free n.
func backupAside(path string) error {
	for n := 1; n < 1000; n++ {
		backup := fmt.Sprintf("%s.%d", path, n)
		if _, err := os.Stat(backup); os.IsNotExist(err) {
			if err := os.Rename(path, backup); err != nil {
				return NewError(KindFileIO, err)
			}
			logger.Info("kept damaged file as backup", logger.KeyOldPath, path, logger.KeyNewPath, backup)
			return nil
		}
	}
	return NewError(KindFileIO, fmt.Errorf("no free backup name for %s", path))
}

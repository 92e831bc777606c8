package par3

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/bufpool"
)

// FileVerdict is the per-file outcome of verification.
type FileVerdict int

const (
	VerdictComplete FileVerdict = iota
	VerdictCompleteBadProperty
	VerdictDamaged
	VerdictMissing
	VerdictMisnamed
)

func (v FileVerdict) String() string {
	switch v {
	case VerdictComplete:
		return "complete"
	case VerdictCompleteBadProperty:
		return "complete (properties differ)"
	case VerdictDamaged:
		return "damaged"
	case VerdictMissing:
		return "missing"
	case VerdictMisnamed:
		return "misnamed"
	}
	return "unknown"
}

// FileReport is one file's verification result.
type FileReport struct {
	Name           string
	Verdict        FileVerdict
	Size           uint64
	AvailableBytes uint64
	MatchedPath    string // the on-disk file a misnamed entry matches
}

// VerifyResult summarizes a verification run.
type VerifyResult struct {
	SetID             SetID
	BlockSize         uint64
	BlockCount        uint64
	LostBlocks        uint64
	AvailableRecovery uint64
	Files             []FileReport
	ExtraFiles        []string
	Creator           string
	Comment           string

	AllComplete bool
	Repairable  bool
}

// Outcome maps the result onto the engine's terminal kinds.
func (r *VerifyResult) Outcome() Kind {
	if r.AllComplete {
		return KindOK
	}
	if r.Repairable {
		return KindRepairPossible
	}
	return KindRepairNotPossible
}

// Verifier drives verification and retains the state repair picks up.
type Verifier struct {
	opts  VerifyOptions
	store *PacketStore
	m     *BlockMap
	base  string

	// Scan targets: input files first, then extra files; found locations
	// reference indices into this list.
	targets    []string
	extraPaths []string

	crcIndex  map[uint64][]int // full-block CRC -> block indices
	tailProbe map[uint64][]int // 40-byte tail CRC -> slice indices

	// Rolling-window leave tables take 256 passes over the window length
	// to build, so they are constructed once and shared across scanned files.
	windows map[int]*CRC64Window

	deadline time.Time
}

var volSuffix = regexp.MustCompile(`\.(vol|part)\d+\+\d+$`)

// SetBase strips the par3 extensions from a par file path, returning the
// set base used to find sibling volumes.
func SetBase(parFile string) string {
	base := strings.TrimSuffix(parFile, ".par3")
	return volSuffix.ReplaceAllString(base, "")
}

// NewVerifier reads every par file belonging to the set referenced by
// opts.ParFile and reconstructs the block map.
func NewVerifier(opts VerifyOptions) (*Verifier, error) {
	v := &Verifier{
		opts:      opts,
		store:     NewPacketStore(),
		crcIndex:  make(map[uint64][]int),
		tailProbe: make(map[uint64][]int),
		windows:   make(map[int]*CRC64Window),
	}

	setBase := SetBase(opts.ParFile)
	matches, err := filepath.Glob(setBase + "*.par3")
	if err != nil || len(matches) == 0 {
		return nil, NewError(KindFileIO, fmt.Errorf("no par files match %s*.par3", setBase))
	}
	sort.Strings(matches)
	for _, par := range matches {
		if _, err := v.store.ScanFile(par); err != nil {
			logger.Warn("failed scanning par file", logger.KeyPath, par, logger.KeyError, err)
		}
	}

	m, err := v.store.BuildMap()
	if err != nil {
		return nil, NewError(KindLogic, err)
	}
	v.m = m

	v.base = opts.BasePath
	if v.base == "" {
		v.base = filepath.Dir(setBase)
	}

	for bi := range m.Blocks {
		blk := &m.Blocks[bi]
		if blk.State&BlockHasFull != 0 {
			v.crcIndex[blk.CRC] = append(v.crcIndex[blk.CRC], bi)
		}
	}
	for fi := range m.Files {
		for _, c := range m.FileChunks(fi) {
			ts := c.tailSize(m.BlockSize)
			if ts == 0 {
				continue
			}
			if si := v.findTailSlice(fi, &c); si >= 0 {
				v.tailProbe[c.TailCRC] = append(v.tailProbe[c.TailCRC], si)
			}
		}
	}
	return v, nil
}

// findTailSlice locates the slice created for a chunk's packed tail.
func (v *Verifier) findTailSlice(fileIndex int, c *ChunkDesc) int {
	for si := range v.m.Slices {
		sl := &v.m.Slices[si]
		if sl.File == fileIndex && sl.Block == int(c.TailBlock) &&
			sl.TailOffset == c.TailOffset && sl.Size == c.tailSize(v.m.BlockSize) {
			return si
		}
	}
	return -1
}

// Map exposes the reconstructed block map.
func (v *Verifier) Map() *BlockMap { return v.m }

// Store exposes the packet store.
func (v *Verifier) Store() *PacketStore { return v.store }

// Base returns the directory input files are resolved against.
func (v *Verifier) Base() string { return v.base }

// TargetPath resolves a scan-target index to its on-disk path.
func (v *Verifier) TargetPath(i int) string { return v.targets[i] }

// diskPath resolves a set file name against the base.
func (v *Verifier) diskPath(name string) string {
	if v.m.Absolute {
		return filepath.FromSlash(name)
	}
	return filepath.Join(v.base, filepath.FromSlash(name))
}

// Run verifies every file of the set.
func (v *Verifier) Run() (*VerifyResult, error) {
	if v.opts.SearchLimitMS > 0 {
		v.deadline = time.Now().Add(time.Duration(v.opts.SearchLimitMS) * time.Millisecond)
	}

	m := v.m
	result := &VerifyResult{
		SetID:      v.store.SetID,
		BlockSize:  m.BlockSize,
		BlockCount: uint64(len(m.Blocks)),
		Creator:    v.store.Creator(),
		Comment:    v.store.Comment(),
	}

	// Input files are the first scan targets.
	for fi := range m.Files {
		v.targets = append(v.targets, v.diskPath(m.Files[fi].Name))
	}

	var damaged []int
	for fi := range m.Files {
		f := &m.Files[fi]
		st, err := os.Stat(v.targets[fi])
		switch {
		case err != nil:
			f.State |= FileMissing
		case uint64(st.Size()) != f.Size:
			f.State |= FileDamaged
			damaged = append(damaged, fi)
		default:
			ok, err := v.fastPath(fi)
			if err != nil {
				return nil, err
			}
			if !ok {
				f.State |= FileDamaged
				damaged = append(damaged, fi)
			} else if f.HasUnix && !v.propertiesMatch(fi, st) {
				f.State |= FileBadProperty
			}
		}
	}

	// Slide-scan damaged files for surviving blocks.
	for _, fi := range damaged {
		if err := v.slideScan(fi, v.targets[fi]); err != nil {
			return nil, err
		}
	}

	// Extra files in the base directory: misnamed candidates and extra
	// scan targets.
	extras, err := v.findExtraFiles()
	if err != nil {
		return nil, err
	}
	result.ExtraFiles = extras
	v.matchMisnamed(extras)
	for _, extra := range extras {
		target := len(v.targets)
		v.targets = append(v.targets, extra)
		if err := v.slideScanTarget(target, extra); err != nil {
			return nil, err
		}
	}

	v.finishBlocks()

	// Per-file verdicts.
	allComplete := true
	for fi := range m.Files {
		f := &m.Files[fi]
		report := FileReport{Name: f.Name, Size: f.Size}
		switch {
		case f.State&FileMisnamed != 0:
			report.Verdict = VerdictMisnamed
			report.MatchedPath = v.misnamedPath(f)
			allComplete = false
		case f.State&FileMissing != 0:
			report.Verdict = VerdictMissing
			allComplete = false
		case f.State&FileDamaged != 0:
			report.Verdict = VerdictDamaged
			report.AvailableBytes = v.availableBytes(fi)
			allComplete = false
		case f.State&FileBadProperty != 0:
			report.Verdict = VerdictCompleteBadProperty
		default:
			report.Verdict = VerdictComplete
		}
		result.Files = append(result.Files, report)
	}
	result.AllComplete = allComplete

	lost, available, repairable := v.repairability()
	result.LostBlocks = lost
	result.AvailableRecovery = available
	result.Repairable = repairable || (allComplete && lost == 0)
	if allComplete {
		result.Repairable = true
	}

	logger.Info("verification finished",
		logger.KeySetID, result.SetID.String(),
		logger.KeyBlockCount, result.BlockCount,
		"lost", lost,
		logger.KeyRecovery, available)
	return result, nil
}

// fastPath checks a present, right-sized file slice by slice.
func (v *Verifier) fastPath(fi int) (bool, error) {
	m := v.m
	f, err := os.Open(v.targets[fi])
	if err != nil {
		return false, nil
	}
	defer f.Close()

	var offset uint64
	for _, c := range m.FileChunks(fi) {
		if c.Size == 0 {
			offset += c.Block
			continue
		}
		fulls := c.Size / m.BlockSize
		for b := uint64(0); b < fulls; b++ {
			blockIndex := int(c.Block + b)
			ok, err := v.checkRegion(f, int64(offset), m.BlockSize, m.Blocks[blockIndex].CRC, m.Blocks[blockIndex].Hash)
			if err != nil || !ok {
				return false, err
			}
			v.markBlockFound(blockIndex, fi, int64(offset))
			offset += m.BlockSize
		}
		rem := c.Size % m.BlockSize
		switch {
		case rem >= tinyTailLimit:
			buf := make([]byte, rem)
			if _, err := f.ReadAt(buf, int64(offset)); err != nil {
				return false, nil
			}
			if Hash128(buf) != c.TailHash {
				return false, nil
			}
			if si := v.findTailSlice(fi, &c); si >= 0 {
				v.markSliceFound(si, fi, int64(offset))
			}
		case rem >= 1:
			buf := make([]byte, rem)
			if _, err := f.ReadAt(buf, int64(offset)); err != nil {
				return false, nil
			}
			if string(buf) != string(c.TailData) {
				return false, nil
			}
		}
		offset += rem
	}
	return true, nil
}

func (v *Verifier) checkRegion(f *os.File, off int64, size uint64, crc uint64, hash [16]byte) (bool, error) {
	buf := bufpool.Get(int(size))
	defer bufpool.Put(buf)
	if _, err := f.ReadAt(buf, off); err != nil {
		return false, nil
	}
	if CRC64(buf) != crc {
		return false, nil
	}
	return Hash128(buf) == hash, nil
}

func (v *Verifier) markBlockFound(blockIndex, target int, offset int64) {
	blk := &v.m.Blocks[blockIndex]
	blk.State |= BlockFound
	blk.FoundFile = target
	blk.FoundOffset = offset
}

func (v *Verifier) markSliceFound(si, target int, offset int64) {
	sl := &v.m.Slices[si]
	sl.Found = true
	sl.FoundFile = target
	sl.FoundOffset = offset
}

// propertiesMatch compares recorded UNIX properties against the on-disk
// file. Mismatches never fail verification; they flag the file.
func (v *Verifier) propertiesMatch(fi int, st os.FileInfo) bool {
	f := &v.m.Files[fi]
	return st.ModTime().Unix() == f.MTime && uint32(st.Mode().Perm()) == f.Mode
}

// slideScan searches an input file's content for surviving blocks.
func (v *Verifier) slideScan(fi int, path string) error {
	return v.slideScanTarget(fi, path)
}

// slideScanTarget runs the sliding CRC windows over any target file.
func (v *Verifier) slideScanTarget(target int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil
	}
	size := st.Size()

	if size >= int64(v.m.BlockSize) && len(v.crcIndex) > 0 {
		if err := v.scanWindow(f, size, target, int(v.m.BlockSize), v.probeBlock); err != nil {
			return err
		}
	}
	if size >= tinyTailLimit && len(v.tailProbe) > 0 {
		if err := v.scanWindow(f, size, target, tinyTailLimit, v.probeTail); err != nil {
			return err
		}
	}
	return nil
}

// scanWindow slides a CRC window of the given size over the file. probe
// returns the number of bytes to jump after a confirmed hit (0 = slide).
func (v *Verifier) scanWindow(f *os.File, size int64, target, window int,
	probe func(f *os.File, target int, pos int64, crc uint64) int64) error {

	win := v.windows[window]
	if win == nil {
		win = NewCRC64Window(window)
		v.windows[window] = win
	}

	buf := make([]byte, int(v.m.BlockSize)*2)
	if window > len(buf) {
		buf = make([]byte, window*2)
	}

	var pos int64 // window start
	reload := true
	var bufStart int64
	var bufLen int
	var crc uint64

	for pos+int64(window) <= size {
		if v.expired() {
			logger.Warn("search limit reached, stopping scan", logger.KeyPath, f.Name())
			return nil
		}
		if reload {
			bufStart = pos
			n, err := f.ReadAt(buf, bufStart)
			if err != nil && err != io.EOF {
				return NewError(KindFileIO, err)
			}
			bufLen = n
			if bufLen < window {
				return nil
			}
			crc = CRC64(buf[:window])
			reload = false
		}

		if jump := probe(f, target, pos, crc); jump > 0 {
			pos += jump
			reload = true
			continue
		}

		// Slide one byte; refill the buffer when the window reaches its end.
		next := pos + 1
		if next+int64(window) > bufStart+int64(bufLen) {
			pos = next
			reload = true
			continue
		}
		in := buf[pos-bufStart+int64(window)]
		out := buf[pos-bufStart]
		crc = win.Roll(crc, in, out)
		pos = next
	}
	return nil
}

func (v *Verifier) expired() bool {
	return !v.deadline.IsZero() && time.Now().After(v.deadline)
}

// probeBlock confirms a full-block CRC hit with the fingerprint.
func (v *Verifier) probeBlock(f *os.File, target int, pos int64, crc uint64) int64 {
	candidates, ok := v.crcIndex[crc]
	if !ok {
		return 0
	}
	buf := bufpool.Get(int(v.m.BlockSize))
	defer bufpool.Put(buf)
	if _, err := f.ReadAt(buf, pos); err != nil {
		return 0
	}
	hash := Hash128(buf)
	for _, bi := range candidates {
		blk := &v.m.Blocks[bi]
		if blk.Hash == hash {
			v.markBlockFound(bi, target, pos)
			return int64(v.m.BlockSize)
		}
	}
	return 0
}

// probeTail confirms a 40-byte tail-head CRC hit by hashing the whole
// candidate tail.
func (v *Verifier) probeTail(f *os.File, target int, pos int64, crc uint64) int64 {
	candidates, ok := v.tailProbe[crc]
	if !ok {
		return 0
	}
	for _, si := range candidates {
		sl := &v.m.Slices[si]
		if sl.Found {
			continue
		}
		buf := bufpool.Get(int(sl.Size))
		if _, err := f.ReadAt(buf, pos); err != nil {
			bufpool.Put(buf)
			continue
		}
		match := v.tailHashFor(sl.File, sl) == Hash128(buf)
		bufpool.Put(buf)
		if match {
			v.markSliceFound(si, target, pos)
			return int64(sl.Size)
		}
	}
	return 0
}

// tailHashFor returns the recorded fingerprint of a tail slice.
func (v *Verifier) tailHashFor(fi int, sl *Slice) [16]byte {
	for _, c := range v.m.FileChunks(fi) {
		if int(c.TailBlock) == sl.Block && c.TailOffset == sl.TailOffset &&
			c.tailSize(v.m.BlockSize) == sl.Size {
			return c.TailHash
		}
	}
	return [16]byte{}
}

// findExtraFiles lists files in the base directory that are neither set
// members nor par files.
func (v *Verifier) findExtraFiles() ([]string, error) {
	known := make(map[string]bool, len(v.m.Files))
	for fi := range v.m.Files {
		known[filepath.Clean(v.targets[fi])] = true
	}

	entries, err := os.ReadDir(v.base)
	if err != nil {
		return nil, nil
	}
	var extras []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(v.base, e.Name())
		if known[filepath.Clean(p)] || strings.HasSuffix(e.Name(), ".par3") ||
			strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		extras = append(extras, p)
	}
	sort.Strings(extras)
	return extras, nil
}

// matchMisnamed reclassifies missing/damaged files whose full content
// exists on disk under another name.
func (v *Verifier) matchMisnamed(extras []string) {
	type extraInfo struct {
		path string
		size uint64
		hash [16]byte
		ok   bool
	}
	infos := make([]extraInfo, len(extras))
	for i, p := range extras {
		st, err := os.Stat(p)
		if err != nil {
			continue
		}
		infos[i] = extraInfo{path: p, size: uint64(st.Size())}
	}

	for fi := range v.m.Files {
		f := &v.m.Files[fi]
		if f.State&(FileMissing|FileDamaged) == 0 {
			continue
		}
		for i := range infos {
			if infos[i].path == "" || infos[i].size != f.Size {
				continue
			}
			if !infos[i].ok {
				h, err := hashFile(infos[i].path)
				if err != nil {
					continue
				}
				infos[i].hash, infos[i].ok = h, true
			}
			if infos[i].hash == f.Hash {
				f.State = f.State.SetMisnamed(i)
				logger.Info("misnamed file detected",
					logger.KeyPath, f.Name,
					logger.KeyNewPath, infos[i].path)
				break
			}
		}
	}
	v.extraPaths = extras
}

// misnamedPath returns the on-disk path a misnamed file matched.
func (v *Verifier) misnamedPath(f *FileInfo) string {
	idx := f.State.MisnamedIndex()
	if idx < len(v.extraPaths) {
		return v.extraPaths[idx]
	}
	return ""
}

func hashFile(path string) ([16]byte, error) {
	var zero [16]byte
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	h := NewHasher128()
	if _, err := io.Copy(h, f); err != nil {
		return zero, err
	}
	return h.Sum128(), nil
}

// finishBlocks settles block availability: a block is found when its full
// content was located or when found slices cover all of its data.
func (v *Verifier) finishBlocks() {
	m := v.m
	for bi := range m.Blocks {
		blk := &m.Blocks[bi]
		if blk.State&BlockFound != 0 {
			continue
		}
		if blk.Size > 0 && v.slicesCover(bi) {
			blk.State |= BlockFound
		}
	}
}

// slicesCover reports whether found slices cover [0, block.Size).
func (v *Verifier) slicesCover(bi int) bool {
	blk := &v.m.Blocks[bi]
	type span struct{ start, end uint64 }
	var spans []span
	for _, si := range blk.Slices {
		sl := &v.m.Slices[si]
		if sl.Found {
			spans = append(spans, span{sl.TailOffset, sl.TailOffset + sl.Size})
		}
	}
	if len(spans) == 0 {
		return false
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var covered uint64
	for _, s := range spans {
		if s.start > covered {
			return false
		}
		if s.end > covered {
			covered = s.end
		}
	}
	return covered >= blk.Size
}

// availableBytes sums the located content of a damaged file.
func (v *Verifier) availableBytes(fi int) uint64 {
	var sum uint64
	for _, si := range v.m.FileSlices(fi) {
		sl := &v.m.Slices[si]
		if sl.Found || v.m.Blocks[sl.Block].State&BlockFound != 0 {
			sum += sl.Size
		}
	}
	return sum
}

// repairability counts lost blocks and usable recovery blocks, per cohort
// when the set interleaves.
func (v *Verifier) repairability() (lost, available uint64, repairable bool) {
	m := v.m

	dataBlocks := make(map[uint64]bool, len(v.store.Data))
	for _, d := range v.store.Data {
		dataBlocks[d.BlockIndex] = true
	}

	cohorts := 1
	if p := v.fftParams(); p != nil {
		cohorts = p.Cohorts()
	}
	lostPer := make(map[int]uint64)
	for bi := range m.Blocks {
		blk := &m.Blocks[bi]
		if blk.State&BlockFound != 0 || dataBlocks[uint64(bi)] {
			continue
		}
		lost++
		lostPer[bi%cohorts]++
	}

	recPer := make(map[int]map[uint64]bool)
	for _, ref := range v.store.Recovery {
		if v.store.MatrixFor(ref) == nil {
			continue
		}
		cohort := int(ref.BlockIndex) % cohorts
		if recPer[cohort] == nil {
			recPer[cohort] = make(map[uint64]bool)
		}
		recPer[cohort][ref.BlockIndex] = true
	}
	for _, set := range recPer {
		available += uint64(len(set))
	}

	repairable = true
	for cohort := 0; cohort < cohorts; cohort++ {
		if lostPer[cohort] > uint64(len(recPer[cohort])) {
			repairable = false
		}
	}
	return lost, available, repairable
}

// fftParams returns the FFT matrix packet when the set uses the FFT code.
func (v *Verifier) fftParams() *FFTPacket {
	if p := v.store.firstOf(TagFFT); p != nil {
		if fp, err := parseFFTPacket(p.Body); err == nil {
			return fp
		}
	}
	return nil
}

// cauchyParams returns the Cauchy matrix packet when present.
func (v *Verifier) cauchyParams() *CauchyPacket {
	if p := v.store.firstOf(TagCauchy); p != nil {
		if cp, err := parseCauchyPacket(p.Body); err == nil {
			return cp
		}
	}
	return nil
}

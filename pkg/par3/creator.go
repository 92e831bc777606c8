package par3

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/ecc/cauchy"
	"github.com/marmos91/par3/pkg/ecc/fftrs"
)

// CreatorText identifies this implementation in Creator packets.
const CreatorText = "par3 v" + EngineVersion + " (github.com/marmos91/par3)"

// EngineVersion is the library version; the CLI overrides its own.
const EngineVersion = "0.9.0"

// minBlockSize keeps tails meaningful: a block must be able to hold at
// least one packed tail.
const minBlockSize = 64

// extDataChunk is how many blocks one External Data packet covers.
const extDataChunk = 2048

// Creator runs a full encode: map inputs, build packets, compute recovery
// blocks, and emit par files.
type Creator struct {
	opts      CreateOptions
	extraDirs []string
	skipIndex bool // extend writes volumes only, never a fresh index

	m        *BlockMap
	tailData map[int][]byte

	setID SetID
	start *StartPacket

	gfBits int
	poly   uint32

	recoveryCount uint64
	maxRecovery   uint64
	cohorts       int

	matrixPacket []byte
	commonBlock  []byte
}

// NewCreator validates options and returns a creator.
func NewCreator(opts CreateOptions) (*Creator, error) {
	if opts.ECC == 0 {
		opts.ECC = ECCCauchy
	}
	if opts.ECC != ECCCauchy && opts.ECC != ECCFFT {
		return nil, NewError(KindInvalidCommand, fmt.Errorf("unknown ecc method %d", opts.ECC))
	}
	if opts.Interleave > 0 && opts.ECC != ECCFFT {
		return nil, NewError(KindInvalidCommand, fmt.Errorf("interleaving requires the FFT codec"))
	}
	if opts.OutBase == "" {
		return nil, NewError(KindInvalidCommand, fmt.Errorf("output base path is required"))
	}
	return &Creator{opts: opts, cohorts: opts.Interleave + 1}, nil
}

// chooseBlockSize derives the block size from a target count, aligned to
// the field word requirement.
func chooseBlockSize(totalSize, blockCount uint64) uint64 {
	if blockCount == 0 {
		blockCount = 1000
	}
	bs := (totalSize + blockCount - 1) / blockCount
	bs = (bs + 3) &^ 3
	if bs < minBlockSize {
		bs = minBlockSize
	}
	return bs
}

// Run executes the encode (or the trial computation).
func (c *Creator) Run(inputs []InputFile, dirs []string) (*CreateResult, error) {
	if len(inputs) == 0 {
		return nil, NewError(KindInvalidCommand, fmt.Errorf("no input files"))
	}
	c.extraDirs = dirs

	var totalSize uint64
	for _, in := range inputs {
		totalSize += in.Size
	}

	blockSize := c.opts.BlockSize
	if blockSize == 0 {
		blockSize = chooseBlockSize(totalSize, c.opts.BlockCount)
	}
	if blockSize%4 != 0 {
		return nil, NewError(KindInvalidCommand, fmt.Errorf("block size must be a multiple of 4"))
	}

	started := time.Now()
	m, tailData, err := NewMapper(blockSize, c.opts.Dedup).Map(inputs)
	if err != nil {
		return nil, err
	}
	c.m, c.tailData = m, tailData
	m.Absolute = c.opts.AbsolutePaths

	// Directory names participate in the set identity, so the tree is
	// settled before the nonce is derived.
	_, dirPaths := c.dirTree()
	for _, d := range dirPaths {
		m.Dirs = append(m.Dirs, DirInfo{Name: d})
	}

	blockCount := uint64(len(m.Blocks))
	c.recoveryCount = c.opts.RecoveryCount
	if c.recoveryCount == 0 && c.opts.RedundancyPct > 0 {
		c.recoveryCount = (blockCount*c.opts.RedundancyPct + 99) / 100
	}
	if c.recoveryCount == 0 && blockCount > 0 {
		c.recoveryCount = 1
	}

	first := c.opts.FirstRecovery
	if c.opts.ECC == ECCFFT && c.cohorts > 1 {
		first, c.recoveryCount = fftrs.AlignRecovery(first, c.recoveryCount, uint64(c.cohorts))
	}
	c.opts.FirstRecovery = first

	c.maxRecovery = c.opts.MaxRecovery
	if c.maxRecovery < first+c.recoveryCount {
		c.maxRecovery = first + c.recoveryCount
	}

	if err := c.selectField(blockCount); err != nil {
		return nil, err
	}
	if err := c.buildPackets(); err != nil {
		return nil, err
	}

	plans, err := c.planVolumes()
	if err != nil {
		return nil, err
	}

	result := &CreateResult{
		SetID:         c.setID,
		BlockSize:     blockSize,
		BlockCount:    blockCount,
		RecoveryCount: c.recoveryCount,
		GFBits:        c.gfBits,
	}
	for _, p := range plans {
		result.Files = append(result.Files, PlannedFile{Name: p.name, Size: p.size})
	}

	if c.opts.Trial {
		logger.Info("trial complete",
			logger.KeySetID, c.setID.String(),
			logger.KeyBlockCount, blockCount,
			logger.KeyRecovery, c.recoveryCount)
		return result, nil
	}

	if err := c.writeVolumes(plans); err != nil {
		return nil, err
	}

	logger.Info("set created",
		logger.KeySetID, c.setID.String(),
		logger.KeyBlockSize, blockSize,
		logger.KeyBlockCount, blockCount,
		logger.KeyRecovery, c.recoveryCount,
		logger.KeyGaloisBits, c.gfBits,
		logger.KeyDuration, time.Since(started))
	return result, nil
}

// selectField picks the Galois field and derives the SetID-bearing Start
// packet.
func (c *Creator) selectField(blockCount uint64) error {
	switch c.opts.ECC {
	case ECCCauchy:
		c.gfBits, c.poly = cauchy.FieldFor(blockCount, c.opts.FirstRecovery, c.maxRecovery)
	case ECCFFT:
		iv := fftrs.NewInterleaver(int(blockCount), c.cohorts)
		perCohortMax := c.perCohortMaxRecovery()
		c.gfBits = fftrs.FieldBits(uint64(iv.CohortBlockCount()), perCohortMax)
		c.poly = fftrs.Polynomial(c.gfBits)
		if perCohortMax > fftrs.MaxRecovery {
			return NewError(KindInvalidCommand,
				fmt.Errorf("%d recovery blocks per cohort exceeds the %d cap", perCohortMax, fftrs.MaxRecovery))
		}
	}

	c.start = &StartPacket{
		BlockSize:  c.m.BlockSize,
		GFBits:     c.gfBits,
		Polynomial: c.poly,
	}
	if c.opts.HasParent {
		c.start.ParentSetID = c.opts.ParentSet
		c.start.ParentRoot = c.opts.ParentRoot
	}
	nonce := deriveNonce(c.m, c.opts.BasePath, c.opts.AbsolutePaths)
	c.setID = computeSetID(nonce, c.start.marshal())
	return nil
}

// dirTree groups set entries by parent directory. Directory paths come
// back deepest first, ties in name order, so packet construction is
// deterministic.
func (c *Creator) dirTree() (map[string][]string, []string) {
	childrenOf := map[string][]string{}
	addParents := func(p string) {
		for {
			dir := path.Dir(p)
			if dir == "." {
				dir = ""
			}
			childrenOf[dir] = append(childrenOf[dir], p)
			if dir == "" {
				break
			}
			p = dir
		}
	}
	for fi := range c.m.Files {
		addParents(c.m.Files[fi].Name)
	}
	// Explicitly listed directories may be empty; they still get packets.
	for _, d := range c.extraDirs {
		if d == "" {
			continue
		}
		if _, ok := childrenOf[d]; !ok {
			childrenOf[d] = nil
			addParents(d)
		}
	}

	var dirPaths []string
	for dir := range childrenOf {
		if dir != "" {
			dirPaths = append(dirPaths, dir)
		}
	}
	sort.Slice(dirPaths, func(i, j int) bool {
		di, dj := strings.Count(dirPaths[i], "/"), strings.Count(dirPaths[j], "/")
		if di != dj {
			return di > dj
		}
		return dirPaths[i] < dirPaths[j]
	})
	return childrenOf, dirPaths
}

// perCohortMaxRecovery is the recovery capacity of each cohort, rounded
// to a power of two so the encode- and decode-side codecs agree exactly.
func (c *Creator) perCohortMaxRecovery() uint64 {
	per := (c.maxRecovery + uint64(c.cohorts) - 1) / uint64(c.cohorts)
	return fftrs.NextPow2(per)
}

// buildPackets synthesizes every metadata packet and assembles the common
// block duplicated across volumes.
func (c *Creator) buildPackets() error {
	m := c.m
	startPacket := MakePacket(c.setID, TagStart, c.start.marshal())

	switch c.opts.ECC {
	case ECCCauchy:
		mp := &CauchyPacket{
			FirstBlock: 0,
			LastPlus1:  uint64(len(m.Blocks)),
			Hint:       c.recoveryCount,
		}
		c.matrixPacket = MakePacket(c.setID, TagCauchy, mp.marshal())
	case ECCFFT:
		log2 := uint8(0)
		for 1<<uint(log2) < c.perCohortMaxRecovery() {
			log2++
		}
		mp := &FFTPacket{
			FirstBlock:      0,
			LastPlus1:       uint64(len(m.Blocks)),
			MaxRecoveryLog2: log2,
			Interleave:      uint32(c.opts.Interleave),
		}
		c.matrixPacket = MakePacket(c.setID, TagFFT, mp.marshal())
	}

	// Option packets first: File and Directory packets reference them.
	unixPackets := map[string][]byte{} // set path -> packet
	unixChecksum := map[string]Checksum{}
	if c.opts.FSUnix {
		for fi := range m.Files {
			f := &m.Files[fi]
			st, err := os.Stat(f.DiskPath)
			if err != nil {
				return NewError(KindFileIO, fmt.Errorf("stat %s: %w", f.DiskPath, err))
			}
			up := &UnixPermPacket{MTime: st.ModTime().Unix(), Mode: uint32(st.Mode().Perm())}
			pkt := MakePacket(c.setID, TagUnixPerm, up.marshal())
			unixPackets[f.Name] = pkt
			unixChecksum[f.Name] = checksumOf(pkt)
			f.HasUnix, f.MTime, f.Mode = true, up.MTime, up.Mode
		}
	}

	// File packets, then directory packets bottom-up, then the root.
	filePackets := map[string][]byte{} // set path -> packet bytes
	for fi := range m.Files {
		f := &m.Files[fi]
		fp := &FilePacket{
			Name:    path.Base(f.Name),
			HeadCRC: f.HeadCRC,
			Hash:    f.Hash,
			Chunks:  m.FileChunks(fi),
		}
		if cs, ok := unixChecksum[f.Name]; ok {
			fp.Options = append(fp.Options, cs)
		}
		filePackets[f.Name] = MakePacket(c.setID, TagFile, fp.marshal(m.BlockSize))
	}

	childrenOf, dirPaths := c.dirTree()

	dirPackets := map[string][]byte{}
	m.Dirs = nil
	for _, dir := range dirPaths {
		var kids []Checksum
		for _, child := range uniqueSorted(childrenOf[dir]) {
			if pkt, ok := filePackets[child]; ok {
				kids = append(kids, checksumOf(pkt))
			} else if pkt, ok := dirPackets[child]; ok {
				kids = append(kids, checksumOf(pkt))
			}
		}
		sortChecksums(kids)
		dp := &DirPacket{Name: path.Base(dir), Children: kids}
		pkt := MakePacket(c.setID, TagDir, dp.marshal())
		dirPackets[dir] = pkt
		m.Dirs = append(m.Dirs, DirInfo{Name: dir, Children: kids})
	}

	var rootKids []Checksum
	for _, child := range uniqueSorted(childrenOf[""]) {
		if pkt, ok := filePackets[child]; ok {
			rootKids = append(rootKids, checksumOf(pkt))
		} else if pkt, ok := dirPackets[child]; ok {
			rootKids = append(rootKids, checksumOf(pkt))
		}
	}
	sortChecksums(rootKids)

	attr := uint8(0)
	if c.opts.AbsolutePaths {
		attr |= RootAttrAbsolute
	}
	root := &RootPacket{
		BlockCount: uint64(len(m.Blocks)),
		Attr:       attr,
		Children:   rootKids,
	}
	rootPacket := MakePacket(c.setID, TagRoot, root.marshal())

	// External data packets in fixed-size runs.
	var extPackets [][]byte
	for first := 0; first < len(m.Blocks); first += extDataChunk {
		n := min(extDataChunk, len(m.Blocks)-first)
		ext := &ExtDataPacket{FirstBlock: uint64(first)}
		for i := first; i < first+n; i++ {
			ext.CRCs = append(ext.CRCs, m.Blocks[i].CRC)
			ext.Hashes = append(ext.Hashes, m.Blocks[i].Hash)
		}
		extPackets = append(extPackets, MakePacket(c.setID, TagExtData, ext.marshal()))
	}

	// Assemble the common block: everything a reader needs to describe
	// the whole set, duplicated into every volume.
	var common []byte
	common = append(common, startPacket...)
	common = append(common, c.matrixPacket...)
	for fi := range m.Files {
		common = append(common, filePackets[m.Files[fi].Name]...)
		if pkt, ok := unixPackets[m.Files[fi].Name]; ok {
			common = append(common, pkt...)
		}
	}
	for _, dir := range dirPaths {
		common = append(common, dirPackets[dir]...)
	}
	common = append(common, rootPacket...)
	for _, pkt := range extPackets {
		common = append(common, pkt...)
	}
	if c.opts.Comment != "" {
		common = append(common, MakePacket(c.setID, TagComment, []byte(c.opts.Comment))...)
	}
	c.commonBlock = common
	return nil
}

func checksumOf(packet []byte) Checksum {
	var cs Checksum
	copy(cs[:], packet[8:24])
	return cs
}

func sortChecksums(cs []Checksum) {
	sort.Slice(cs, func(i, j int) bool {
		for k := range cs[i] {
			if cs[i][k] != cs[j][k] {
				return cs[i][k] < cs[j][k]
			}
		}
		return false
	})
}

func uniqueSorted(items []string) []string {
	sort.Strings(items)
	out := items[:0]
	var last string
	for i, s := range items {
		if i == 0 || s != last {
			out = append(out, s)
		}
		last = s
	}
	return out
}

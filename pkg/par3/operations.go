package par3

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/ecc/fftrs"
)

// ListResult summarizes a set for the list command.
type ListResult struct {
	SetID         SetID
	BlockSize     uint64
	BlockCount    uint64
	GFBits        int
	ECC           ECCMethod
	Interleave    int
	RecoveryCount uint64 // distinct recovery block indices on disk
	Creator       string
	Comment       string
	Files         []ListFile
	Dirs          []string
	ParFiles      []string
}

// ListFile is one set member as shown by list.
type ListFile struct {
	Name   string
	Size   uint64
	Chunks int
}

// List reads a set's metadata without touching the input files.
func List(parFile string) (*ListResult, error) {
	store := NewPacketStore()
	setBase := SetBase(parFile)
	matches, err := filepath.Glob(setBase + "*.par3")
	if err != nil || len(matches) == 0 {
		return nil, NewError(KindFileIO, fmt.Errorf("no par files match %s*.par3", setBase))
	}
	sort.Strings(matches)
	for _, par := range matches {
		if _, err := store.ScanFile(par); err != nil {
			logger.Warn("failed scanning par file", logger.KeyPath, par, logger.KeyError, err)
		}
	}

	start, err := store.Start()
	if err != nil {
		return nil, NewError(KindLogic, err)
	}
	m, err := store.BuildMap()
	if err != nil {
		return nil, NewError(KindLogic, err)
	}

	result := &ListResult{
		SetID:      store.SetID,
		BlockSize:  start.BlockSize,
		BlockCount: uint64(len(m.Blocks)),
		GFBits:     start.GFBits,
		Creator:    store.Creator(),
		Comment:    store.Comment(),
		ParFiles:   matches,
	}
	if len(store.Packets[TagFFT]) > 0 {
		result.ECC = ECCFFT
		if fp, err := parseFFTPacket(store.Packets[TagFFT][0].Body); err == nil {
			result.Interleave = int(fp.Interleave)
		}
	} else {
		result.ECC = ECCCauchy
	}

	seen := make(map[uint64]bool)
	for _, ref := range store.Recovery {
		if !seen[ref.BlockIndex] {
			seen[ref.BlockIndex] = true
			result.RecoveryCount++
		}
	}

	for fi := range m.Files {
		result.Files = append(result.Files, ListFile{
			Name:   m.Files[fi].Name,
			Size:   m.Files[fi].Size,
			Chunks: m.Files[fi].ChunkCount,
		})
	}
	for di := range m.Dirs {
		result.Dirs = append(result.Dirs, m.Dirs[di].Name)
	}
	return result, nil
}

// ExtendOptions parameterizes adding recovery volumes to an existing set.
type ExtendOptions struct {
	ParFile       string
	BasePath      string
	RecoveryCount uint64
	Sizing        Sizing
	MemoryLimit   uint64
	Trial         bool
}

// Extend appends newly computed recovery volumes to an existing set. The
// input files must verify complete; the new volumes continue the set's
// recovery index space under the original matrix packet.
func Extend(opts ExtendOptions) (*CreateResult, error) {
	if opts.RecoveryCount == 0 {
		return nil, NewError(KindInvalidCommand, fmt.Errorf("extend needs a recovery block count"))
	}

	v, err := NewVerifier(VerifyOptions{ParFile: opts.ParFile, BasePath: opts.BasePath})
	if err != nil {
		return nil, err
	}
	vres, err := v.Run()
	if err != nil {
		return nil, err
	}
	if !vres.AllComplete {
		return nil, NewError(KindLogic, fmt.Errorf("cannot extend: input files are not all complete"))
	}

	m := v.Map()
	store := v.Store()
	start, err := store.Start()
	if err != nil {
		return nil, NewError(KindLogic, err)
	}

	// Inputs are read through their verified on-disk locations.
	for fi := range m.Files {
		m.Files[fi].DiskPath = v.diskPath(m.Files[fi].Name)
	}

	// The set's recovery index space continues after the highest index
	// already on disk.
	next := uint64(0)
	for _, ref := range store.Recovery {
		if ref.BlockIndex+1 > next {
			next = ref.BlockIndex + 1
		}
	}

	c := &Creator{
		opts: CreateOptions{
			OutBase:       SetBase(opts.ParFile),
			FirstRecovery: next,
			Sizing:        opts.Sizing,
			MemoryLimit:   opts.MemoryLimit,
			Trial:         opts.Trial,
		},
		skipIndex:     true,
		m:             m,
		setID:         store.SetID,
		start:         start,
		gfBits:        start.GFBits,
		poly:          start.Polynomial,
		recoveryCount: opts.RecoveryCount,
		cohorts:       1,
	}

	if fp := v.fftParams(); fp != nil {
		c.opts.ECC = ECCFFT
		c.cohorts = fp.Cohorts()
		c.opts.Interleave = int(fp.Interleave)
		c.maxRecovery = uint64(c.cohorts) * fp.MaxRecovery()
		first, count := fftrs.AlignRecovery(next, opts.RecoveryCount, uint64(c.cohorts))
		c.opts.FirstRecovery, c.recoveryCount = first, count
		if c.opts.FirstRecovery+c.recoveryCount > c.maxRecovery {
			return nil, NewError(KindInvalidCommand,
				fmt.Errorf("set capacity is %d recovery blocks, %d already used", c.maxRecovery, next))
		}
		c.matrixPacket = MakePacket(store.SetID, TagFFT, mustBody(store, TagFFT))
	} else {
		if store.firstOf(TagCauchy) == nil {
			return nil, NewError(KindLogic, fmt.Errorf("%w: matrix packet", ErrMissingPacket))
		}
		c.opts.ECC = ECCCauchy
		c.maxRecovery = next + opts.RecoveryCount
		if start.GFBits == 8 && uint64(len(m.Blocks))+c.maxRecovery > 256 {
			return nil, NewError(KindInvalidCommand,
				fmt.Errorf("extending past the 8-bit field capacity of this set"))
		}
		c.matrixPacket = MakePacket(store.SetID, TagCauchy, mustBody(store, TagCauchy))
	}

	// The common block duplicated into the new volumes is rebuilt from
	// the packets already on disk.
	var common []byte
	appendAll := func(tag TypeTag) {
		for _, p := range store.Packets[tag] {
			common = append(common, MakePacket(store.SetID, tag, p.Body)...)
		}
	}
	for _, tag := range []TypeTag{TagStart, TagCauchy, TagFFT, TagFile, TagUnixPerm, TagDir, TagRoot, TagExtData, TagComment} {
		appendAll(tag)
	}
	c.commonBlock = common

	plans, err := c.planVolumes()
	if err != nil {
		return nil, err
	}
	result := &CreateResult{
		SetID:         c.setID,
		BlockSize:     m.BlockSize,
		BlockCount:    uint64(len(m.Blocks)),
		RecoveryCount: c.recoveryCount,
		GFBits:        c.gfBits,
	}
	for _, p := range plans {
		result.Files = append(result.Files, PlannedFile{Name: p.name, Size: p.size})
	}
	if opts.Trial {
		return result, nil
	}
	if err := c.writeVolumes(plans); err != nil {
		return nil, err
	}
	logger.Info("set extended",
		logger.KeySetID, c.setID.String(),
		logger.KeyFirstRec, c.opts.FirstRecovery,
		logger.KeyRecovery, c.recoveryCount)
	return result, nil
}

func mustBody(store *PacketStore, tag TypeTag) []byte {
	if p := store.firstOf(tag); p != nil {
		return p.Body
	}
	return nil
}

// InsertOptions parameterizes creating a child set for additional files.
type InsertOptions struct {
	ParentParFile string
	Create        CreateOptions
}

// Insert protects additional files as a child of an existing set: the new
// Start packet records the parent's SetID and Root checksum so tooling can
// chain incremental sets.
func Insert(opts InsertOptions, inputs []InputFile, dirs []string) (*CreateResult, error) {
	store := NewPacketStore()
	if _, err := store.ScanFile(opts.ParentParFile); err != nil {
		return nil, err
	}
	rootPkt := store.firstOf(TagRoot)
	if rootPkt == nil {
		return nil, NewError(KindLogic, fmt.Errorf("%w: root packet in parent", ErrMissingPacket))
	}

	co := opts.Create
	co.HasParent = true
	co.ParentSet = store.SetID
	co.ParentRoot = rootPkt.Checksum

	c, err := NewCreator(co)
	if err != nil {
		return nil, err
	}
	return c.Run(inputs, dirs)
}

// Delete removes the par files of a set. In trial mode it only reports
// what would be removed.
func Delete(parFile string, trial bool) ([]string, error) {
	setBase := SetBase(parFile)
	matches, err := filepath.Glob(setBase + "*.par3")
	if err != nil || len(matches) == 0 {
		return nil, NewError(KindFileIO, fmt.Errorf("no par files match %s*.par3", setBase))
	}
	sort.Strings(matches)
	if trial {
		return matches, nil
	}
	for _, p := range matches {
		if err := os.Remove(p); err != nil {
			return matches, NewError(KindFileIO, fmt.Errorf("remove %s: %w", p, err))
		}
		logger.Info("removed par file", logger.KeyPath, p)
	}
	return matches, nil
}

package par3

// ECCMethod selects the recovery-code engine.
type ECCMethod int

const (
	ECCCauchy ECCMethod = 1 // Cauchy-matrix Reed-Solomon
	ECCFFT    ECCMethod = 8 // FFT-based Reed-Solomon
)

// CreateOptions parameterizes an encode run.
type CreateOptions struct {
	// BasePath is the directory input names are relative to.
	BasePath string
	// OutBase is the par file base path: OutBase+".par3" and friends.
	OutBase string

	// BlockSize in bytes; 0 derives it from BlockCount.
	BlockSize uint64
	// BlockCount is the target input block count when BlockSize is 0.
	BlockCount uint64

	// RecoveryCount is the number of recovery blocks; 0 derives it from
	// RedundancyPct.
	RecoveryCount uint64
	// RedundancyPct is percent redundancy when RecoveryCount is 0.
	RedundancyPct uint64
	// FirstRecovery is the index of the first recovery block produced.
	FirstRecovery uint64
	// MaxRecovery caps the recovery index space; 0 means
	// FirstRecovery+RecoveryCount. Field selection depends on it.
	MaxRecovery uint64

	// ECC selects the codec; zero value defaults to Cauchy.
	ECC ECCMethod
	// Interleave is the cohort interleaving factor for the FFT codec;
	// the cohort count is Interleave+1.
	Interleave int

	Dedup  DedupLevel
	Sizing Sizing

	// StoreData also writes verbatim input blocks into .part volumes.
	StoreData bool
	// RepetitionLimit caps metadata duplication inside each volume.
	RepetitionLimit int

	// FSUnix records UNIX permissions and mtimes in option packets.
	FSUnix bool
	// AbsolutePaths stores absolute input paths.
	AbsolutePaths bool

	Comment string

	// Parent linkage for incremental sets produced by insert.
	HasParent  bool
	ParentSet  SetID
	ParentRoot Checksum

	// MemoryLimit bounds codec working memory; 0 means unlimited.
	MemoryLimit uint64

	// Trial computes the complete layout and reports planned files and
	// sizes without writing anything.
	Trial bool
}

// VerifyOptions parameterizes verify and the verify half of repair.
type VerifyOptions struct {
	// ParFile is the index or any volume file of the set.
	ParFile string
	// BasePath overrides the directory input files are resolved against;
	// empty uses the par file's directory.
	BasePath string
	// SearchLimitMS soft-bounds the sliding scans of one verify run; the
	// budget starts when the run starts and covers every scanned file.
	SearchLimitMS int
	// MemoryLimit bounds repair working memory; 0 means unlimited.
	MemoryLimit uint64
	// Trial in repair mode: verify and plan, but do not write.
	Trial bool
}

// CreateResult reports what create produced (or, in trial mode, planned).
type CreateResult struct {
	SetID         SetID
	BlockSize     uint64
	BlockCount    uint64
	RecoveryCount uint64
	GFBits        int

	// Files lists planned or written par files with their sizes.
	Files []PlannedFile
}

// PlannedFile is one par file and its exact size.
type PlannedFile struct {
	Name string
	Size uint64
}

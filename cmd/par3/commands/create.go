package commands

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/par3/pkg/par3"
)

var createFlags struct {
	blockSize     string
	blockCount    uint64
	redundancy    uint64
	recoveryCount uint64
	firstRecovery uint64
	maxRecovery   uint64
	ecc           int
	interleave    int
	dedup         int
	uniform       bool
	fileCount     int
	sizeLimit     string
	storeData     bool
	recurse       bool
	fsUnix        bool
	absolute      bool
	repLimit      int
	memory        string
	comment       string
	trial         bool
}

var createCmd = &cobra.Command{
	Use:   "create <base[.par3]> <inputs>...",
	Short: "Create recovery files for a set of inputs",
	Long: `Create cuts the input files into blocks, computes recovery blocks and
writes an index file plus recovery volumes next to them.

Inputs may be files, directories (with -R) or doublestar patterns:

  par3 create backup data/**/*.bin
  par3 create -r 20 -s 64Ki archive big.iso
  par3 create --trial -b 3000 backup docs -R`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		outBase := strings.TrimSuffix(args[0], ".par3")

		inputs, dirs, err := collectInputs(basePath, args[1:], createFlags.recurse)
		if err != nil {
			return err
		}

		blockSize, err := parseSizeFlag(createFlags.blockSize)
		if err != nil {
			return err
		}
		memLimit, err := parseSizeFlag(createFlags.memory)
		if err != nil {
			return err
		}
		ecc, err := eccFromFlag(createFlags.ecc, cfg.ECC)
		if err != nil {
			return err
		}
		sizing, err := sizingFromFlags(createFlags.uniform, createFlags.fileCount, createFlags.sizeLimit)
		if err != nil {
			return err
		}

		blockCount := createFlags.blockCount
		if blockCount == 0 {
			blockCount = cfg.BlockCount
		}
		redundancy := createFlags.redundancy
		if redundancy == 0 && createFlags.recoveryCount == 0 {
			redundancy = cfg.Redundancy
		}
		if memLimit == 0 {
			memLimit = uint64(cfg.MemoryLimit)
		}
		dedup := createFlags.dedup
		if !cmd.Flags().Changed("dedup") {
			dedup = cfg.DedupLevel
		}
		repLimit := createFlags.repLimit
		if repLimit == 0 {
			repLimit = cfg.RepetitionLimit
		}

		opts := par3.CreateOptions{
			BasePath:        basePath,
			OutBase:         outBase,
			BlockSize:       blockSize,
			BlockCount:      blockCount,
			RecoveryCount:   createFlags.recoveryCount,
			RedundancyPct:   redundancy,
			FirstRecovery:   createFlags.firstRecovery,
			MaxRecovery:     createFlags.maxRecovery,
			ECC:             ecc,
			Interleave:      createFlags.interleave,
			Dedup:           par3.DedupLevel(dedup),
			Sizing:          sizing,
			StoreData:       createFlags.storeData,
			RepetitionLimit: repLimit,
			FSUnix:          createFlags.fsUnix,
			AbsolutePaths:   createFlags.absolute,
			Comment:         createFlags.comment,
			MemoryLimit:     memLimit,
			Trial:           createFlags.trial,
		}

		creator, err := par3.NewCreator(opts)
		if err != nil {
			return err
		}
		result, err := creator.Run(inputs, dirs)
		if err != nil {
			return err
		}

		verb := "Created"
		if createFlags.trial {
			verb = "Would create"
		}
		fmt.Printf("Set %s: %d blocks of %s, %d recovery blocks, GF(2^%d)\n",
			result.SetID, result.BlockCount, humanize.IBytes(result.BlockSize),
			result.RecoveryCount, result.GFBits)
		for _, f := range result.Files {
			fmt.Printf("%s %s (%s)\n", verb, f.Name, humanize.IBytes(f.Size))
		}
		return nil
	},
}

func init() {
	f := createCmd.Flags()
	f.StringVarP(&createFlags.blockSize, "block-size", "s", "", "input block size (e.g. 64Ki)")
	f.Uint64VarP(&createFlags.blockCount, "block-count", "b", 0, "target input block count")
	f.Uint64VarP(&createFlags.redundancy, "redundancy", "r", 0, "redundancy in percent")
	f.Uint64VarP(&createFlags.recoveryCount, "recovery-count", "c", 0, "number of recovery blocks")
	f.Uint64Var(&createFlags.firstRecovery, "first-recovery", 0, "index of the first recovery block")
	f.Uint64Var(&createFlags.maxRecovery, "max-recovery", 0, "cap on the recovery index space")
	f.IntVarP(&createFlags.ecc, "ecc", "e", 0, "codec selector (1=Cauchy, 8=FFT)")
	f.IntVarP(&createFlags.interleave, "interleave", "i", 0, "cohort interleaving factor (FFT only)")
	f.IntVarP(&createFlags.dedup, "dedup", "d", 0, "deduplication level (0, 1 or 2)")
	f.BoolVarP(&createFlags.uniform, "uniform", "u", false, "spread recovery blocks evenly across --files")
	f.IntVarP(&createFlags.fileCount, "files", "n", 0, "number of recovery volume files")
	f.StringVarP(&createFlags.sizeLimit, "limit", "l", "", "volume file size limit (e.g. 100Mi)")
	f.BoolVarP(&createFlags.storeData, "data-packets", "D", false, "also store verbatim input blocks in .part volumes")
	f.BoolVarP(&createFlags.recurse, "recurse", "R", false, "recurse into input directories")
	f.BoolVar(&createFlags.fsUnix, "fs-unix", false, "record UNIX permissions and mtimes")
	f.BoolVar(&createFlags.absolute, "absolute", false, "store absolute input paths")
	f.IntVar(&createFlags.repLimit, "repetition-limit", 0, "cap on metadata duplication per volume")
	f.StringVarP(&createFlags.memory, "memory", "m", "", "memory limit for the codec (e.g. 512Mi)")
	f.StringVarP(&createFlags.comment, "comment", "C", "", "comment stored in the set")
	f.BoolVar(&createFlags.trial, "trial", false, "compute and report sizes without writing")
}

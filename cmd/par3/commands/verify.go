package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/par3/pkg/par3"
)

var verifyFlags struct {
	searchLimit int
	memory      string
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file.par3>",
	Short: "Verify a protected set against the files on disk",
	Long: `Verify reads every par file of the set, checks each input file, and
slide-scans damaged files for surviving blocks. It exits 0 when all files
are correct, 5 when repair is possible and 6 when it is not.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		memLimit, err := parseSizeFlag(verifyFlags.memory)
		if err != nil {
			return err
		}
		opts := par3.VerifyOptions{
			ParFile:       args[0],
			BasePath:      basePath,
			SearchLimitMS: verifyFlags.searchLimit,
			MemoryLimit:   memLimit,
		}
		v, err := par3.NewVerifier(opts)
		if err != nil {
			return err
		}
		result, err := v.Run()
		if err != nil {
			return err
		}

		printVerifyResult(result)

		switch {
		case result.AllComplete:
			fmt.Println("All files are correct, repair is not required.")
			return nil
		case result.Repairable:
			fmt.Println("Repair is possible.")
			return par3.NewError(par3.KindRepairPossible, nil)
		default:
			fmt.Println("Repair is not possible.")
			return par3.NewError(par3.KindRepairNotPossible, nil)
		}
	},
}

func printVerifyResult(result *par3.VerifyResult) {
	fmt.Printf("Set %s: %d blocks of %s, %d recovery blocks available\n",
		result.SetID, result.BlockCount, humanize.IBytes(result.BlockSize),
		result.AvailableRecovery)
	for _, f := range result.Files {
		switch f.Verdict {
		case par3.VerdictComplete:
			fmt.Printf("  %s: complete\n", f.Name)
		case par3.VerdictCompleteBadProperty:
			fmt.Printf("  %s: complete (properties differ)\n", f.Name)
		case par3.VerdictDamaged:
			fmt.Printf("  %s: damaged %d/%d\n", f.Name, f.AvailableBytes, f.Size)
		case par3.VerdictMissing:
			fmt.Printf("  %s: missing\n", f.Name)
		case par3.VerdictMisnamed:
			fmt.Printf("  %s: is a match for %s\n", f.Name, f.MatchedPath)
		}
	}
	if result.LostBlocks > 0 {
		fmt.Printf("%d of %d blocks are lost.\n", result.LostBlocks, result.BlockCount)
	}
}

func init() {
	f := verifyCmd.Flags()
	f.IntVarP(&verifyFlags.searchLimit, "search-limit", "S", 0, "sliding-scan time limit in milliseconds")
	f.StringVarP(&verifyFlags.memory, "memory", "m", "", "memory limit (e.g. 512Mi)")
}

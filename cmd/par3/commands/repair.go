package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/par3/pkg/par3"
)

var repairFlags struct {
	searchLimit int
	memory      string
	trial       bool
}

var repairCmd = &cobra.Command{
	Use:   "repair <file.par3>",
	Short: "Repair missing or damaged files of a protected set",
	Long: `Repair verifies the set, renames misnamed files back into place, and
reconstructs missing or damaged files from surviving and recovery blocks.
Damaged originals are kept aside as name.<n> backups.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		memLimit, err := parseSizeFlag(repairFlags.memory)
		if err != nil {
			return err
		}
		opts := par3.VerifyOptions{
			ParFile:       args[0],
			BasePath:      basePath,
			SearchLimitMS: repairFlags.searchLimit,
			MemoryLimit:   memLimit,
			Trial:         repairFlags.trial,
		}
		v, err := par3.NewVerifier(opts)
		if err != nil {
			return err
		}
		verifyResult, err := v.Run()
		if err != nil {
			return err
		}
		printVerifyResult(verifyResult)

		if verifyResult.AllComplete {
			fmt.Println("All files are correct, repair is not required.")
			return nil
		}
		if !verifyResult.Repairable {
			fmt.Println("Repair is not possible.")
			return par3.NewError(par3.KindRepairNotPossible, nil)
		}
		if repairFlags.trial {
			fmt.Println("Repair is possible.")
			return par3.NewError(par3.KindRepairPossible, nil)
		}

		result, err := par3.NewRecoverer(v, opts).Run(verifyResult)
		if err != nil {
			return err
		}
		for _, name := range result.Renamed {
			fmt.Printf("  %s: renamed back into place.\n", name)
		}
		for _, name := range result.Repaired {
			fmt.Printf("  %s: repaired.\n", name)
		}
		for _, name := range result.Failed {
			fmt.Printf("  %s: failed.\n", name)
		}
		if result.Outcome != par3.KindOK {
			return par3.NewError(result.Outcome, nil)
		}
		fmt.Println("Repair complete.")
		return nil
	},
}

func init() {
	f := repairCmd.Flags()
	f.IntVarP(&repairFlags.searchLimit, "search-limit", "S", 0, "sliding-scan time limit in milliseconds")
	f.StringVarP(&repairFlags.memory, "memory", "m", "", "memory limit (e.g. 512Mi)")
	f.BoolVar(&repairFlags.trial, "trial", false, "verify and report, but do not write")
}

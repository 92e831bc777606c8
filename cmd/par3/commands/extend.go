package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/par3/pkg/par3"
)

var extendFlags struct {
	recoveryCount uint64
	uniform       bool
	fileCount     int
	sizeLimit     string
	memory        string
	trial         bool
}

var extendCmd = &cobra.Command{
	Use:   "extend <file.par3>",
	Short: "Append more recovery volumes to an existing set",
	Long: `Extend verifies that the input files are complete, then computes
additional recovery blocks continuing the set's recovery index space and
writes them as new volume files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		memLimit, err := parseSizeFlag(extendFlags.memory)
		if err != nil {
			return err
		}
		sizing, err := sizingFromFlags(extendFlags.uniform, extendFlags.fileCount, extendFlags.sizeLimit)
		if err != nil {
			return err
		}
		result, err := par3.Extend(par3.ExtendOptions{
			ParFile:       args[0],
			BasePath:      basePath,
			RecoveryCount: extendFlags.recoveryCount,
			Sizing:        sizing,
			MemoryLimit:   memLimit,
			Trial:         extendFlags.trial,
		})
		if err != nil {
			return err
		}
		verb := "Created"
		if extendFlags.trial {
			verb = "Would create"
		}
		for _, f := range result.Files {
			fmt.Printf("%s %s (%s)\n", verb, f.Name, humanize.IBytes(f.Size))
		}
		return nil
	},
}

func init() {
	f := extendCmd.Flags()
	f.Uint64VarP(&extendFlags.recoveryCount, "recovery-count", "c", 0, "number of recovery blocks to add")
	f.BoolVarP(&extendFlags.uniform, "uniform", "u", false, "spread recovery blocks evenly across --files")
	f.IntVarP(&extendFlags.fileCount, "files", "n", 0, "number of new volume files")
	f.StringVarP(&extendFlags.sizeLimit, "limit", "l", "", "volume file size limit (e.g. 100Mi)")
	f.StringVarP(&extendFlags.memory, "memory", "m", "", "memory limit (e.g. 512Mi)")
	f.BoolVar(&extendFlags.trial, "trial", false, "compute and report sizes without writing")
	_ = extendCmd.MarkFlagRequired("recovery-count")
}

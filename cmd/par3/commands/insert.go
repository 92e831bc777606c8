package commands

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/par3/pkg/par3"
)

var insertFlags struct {
	parent     string
	blockSize  string
	redundancy uint64
	recurse    bool
	trial      bool
}

var insertCmd = &cobra.Command{
	Use:   "insert <base[.par3]> <inputs>...",
	Short: "Protect additional files as a child of an existing set",
	Long: `Insert creates a new set whose Start packet records the parent set's
identity, chaining incremental protection onto an existing archive.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if insertFlags.parent == "" {
			return par3.NewError(par3.KindInvalidCommand, fmt.Errorf("--parent is required"))
		}
		inputs, dirs, err := collectInputs(basePath, args[1:], insertFlags.recurse)
		if err != nil {
			return err
		}
		blockSize, err := parseSizeFlag(insertFlags.blockSize)
		if err != nil {
			return err
		}
		redundancy := insertFlags.redundancy
		if redundancy == 0 {
			redundancy = cfg.Redundancy
		}

		result, err := par3.Insert(par3.InsertOptions{
			ParentParFile: insertFlags.parent,
			Create: par3.CreateOptions{
				BasePath:      basePath,
				OutBase:       strings.TrimSuffix(args[0], ".par3"),
				BlockSize:     blockSize,
				BlockCount:    cfg.BlockCount,
				RedundancyPct: redundancy,
				Dedup:         par3.DedupLevel(cfg.DedupLevel),
				Trial:         insertFlags.trial,
			},
		}, inputs, dirs)
		if err != nil {
			return err
		}
		verb := "Created"
		if insertFlags.trial {
			verb = "Would create"
		}
		fmt.Printf("Child set %s of parent %s\n", result.SetID, insertFlags.parent)
		for _, f := range result.Files {
			fmt.Printf("%s %s (%s)\n", verb, f.Name, humanize.IBytes(f.Size))
		}
		return nil
	},
}

func init() {
	f := insertCmd.Flags()
	f.StringVar(&insertFlags.parent, "parent", "", "par file of the parent set")
	f.StringVarP(&insertFlags.blockSize, "block-size", "s", "", "input block size (e.g. 64Ki)")
	f.Uint64VarP(&insertFlags.redundancy, "redundancy", "r", 0, "redundancy in percent")
	f.BoolVarP(&insertFlags.recurse, "recurse", "R", false, "recurse into input directories")
	f.BoolVar(&insertFlags.trial, "trial", false, "compute and report sizes without writing")
}

package commands

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/par3/pkg/par3"
)

var listCmd = &cobra.Command{
	Use:   "list <file.par3>",
	Short: "List the contents of a protected set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := par3.List(args[0])
		if err != nil {
			return err
		}

		ecc := "Cauchy"
		if result.ECC == par3.ECCFFT {
			ecc = "FFT"
			if result.Interleave > 0 {
				ecc = fmt.Sprintf("FFT, interleave %d", result.Interleave)
			}
		}
		fmt.Printf("Set %s\n", result.SetID)
		fmt.Printf("  creator:    %s\n", result.Creator)
		if result.Comment != "" {
			fmt.Printf("  comment:    %s\n", result.Comment)
		}
		fmt.Printf("  block size: %s\n", humanize.IBytes(result.BlockSize))
		fmt.Printf("  blocks:     %d input, %d recovery on disk\n", result.BlockCount, result.RecoveryCount)
		fmt.Printf("  code:       %s over GF(2^%d)\n", ecc, result.GFBits)
		fmt.Printf("  par files:  %d\n", len(result.ParFiles))

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"File", "Size", "Chunks"})
		table.SetBorder(false)
		table.SetColumnAlignment([]int{
			tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
		})
		for _, f := range result.Files {
			table.Append([]string{f.Name, humanize.IBytes(f.Size), fmt.Sprintf("%d", f.Chunks)})
		}
		table.Render()

		for _, d := range result.Dirs {
			fmt.Printf("  dir: %s/\n", d)
		}
		return nil
	},
}

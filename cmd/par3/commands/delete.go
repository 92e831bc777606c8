package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/par3/pkg/par3"
)

var deleteFlags struct {
	trial bool
}

var deleteCmd = &cobra.Command{
	Use:   "delete <file.par3>",
	Short: "Delete the par files of a set",
	Long:  `Delete removes the index and every volume file of the set. Input files are never touched.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := par3.Delete(args[0], deleteFlags.trial)
		if err != nil {
			return err
		}
		verb := "Removed"
		if deleteFlags.trial {
			verb = "Would remove"
		}
		for _, p := range removed {
			fmt.Printf("%s %s\n", verb, p)
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteFlags.trial, "trial", false, "report what would be removed without deleting")
}

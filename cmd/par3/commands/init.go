package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/par3/pkg/config"
	"github.com/marmos91/par3/pkg/par3"
)

var initFlags struct {
	force bool
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a defaults configuration file",
	Long: `Init writes the current defaults to the configuration file so they can
be edited. Flags still override the file on every invocation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !initFlags.force {
			return par3.NewError(par3.KindInvalidCommand,
				fmt.Errorf("%s already exists (use --force to overwrite)", path))
		}
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initFlags.force, "force", false, "overwrite an existing config file")
}

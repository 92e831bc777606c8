// Package commands implements the par3 command-line interface.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile   string
	basePath  string
	verbose   bool
	quiet     bool
	logFormat string

	// cfg holds file/env defaults; flags override per command.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "par3",
	Short: "par3 - Parchive v3 file protection",
	Long: `par3 protects files and directories against loss or corruption.
It cuts the inputs into fixed-size blocks, computes Reed-Solomon recovery
blocks over them (Cauchy matrix or FFT), and stores everything in
self-describing .par3 files. Later it verifies the inputs and rebuilds
missing or damaged files from any sufficient mixture of surviving and
recovery blocks.

Use "par3 [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "DEBUG"
		}
		if quiet {
			level = "ERROR"
		}
		format := cfg.Logging.Format
		if logFormat != "" {
			format = logFormat
		}
		return logger.Init(logger.Config{
			Level:  level,
			Format: format,
			Output: cfg.Logging.Output,
		})
	},
}

// Execute runs the CLI. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/par3/config.yaml)")
	pf.StringVarP(&basePath, "base", "B", "", "base directory input paths are relative to")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "errors only")
	pf.StringVar(&logFormat, "log-format", "", "log format (text or json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(extendCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(deleteCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

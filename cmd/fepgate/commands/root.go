// Package commands implements the fepgate CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "fepgate",
	Short: "FEP gateway - ISO-8583 front-end processor",
	Long: `fepgate is a financial front-end processor: it terminates ISO-8583
channels from peer institutions (dual-port or unified), correlates responses
by STAN, and drives every transaction through a dedup / validate / route /
process / audit pipeline with a persistent audit trail.

Use "fepgate [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to config file (default: $XDG_CONFIG_HOME/fepgate/config.yaml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return configFile
}

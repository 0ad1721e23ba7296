// Package commands implements the Polaris CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polaris",
		Short: "Polaris - a pluggable chat bot",
		Long: `Polaris is a chat bot runtime. It connects to one messaging platform
(Telegram, Discord, WhatsApp or the local console) and dispatches every
message to a configurable set of plugins.

Examples:
  polaris serve
  polaris serve --channel console
  polaris plugins --all
  polaris pair`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newPluginsCmd(),
		newPairCmd(),
		newTokenCmd(),
		newVersionCmd(version),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}

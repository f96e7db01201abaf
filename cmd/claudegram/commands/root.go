// Package commands implements the claudegram CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "claudegram",
		Short: "Claudegram — personal assistant relay for your chats",
		Long: `Claudegram relays chat messages to a local Claude Code subprocess
and streams the replies back, keeping a rolling session history so
conversations pick up where they left off.

Examples:
  claudegram serve
  claudegram chat "what's in my downloads folder?"
  claudegram schedule add "0 9 * * 1-5" "give me a morning briefing"
  claudegram setup`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newScheduleCmd(),
		newInstallCmd(),
		newVersionCmd(version),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

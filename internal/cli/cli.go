// Package cli implements the mailminder command line tool.
package cli

import (
	"os"

	"github.com/mailminder/core/internal/config"
	"github.com/spf13/cobra"
)

var cfg *config.Config

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mailminder",
	Short: "Mail digest daemon",
	Long: `Mailminder polls your mail accounts on an adaptive schedule,
scores every new message for importance, and keeps a durable digest of
unresolved important items.

The command line tool provides:
  mailminder key show       # show the current API key
  mailminder key reset      # rotate the API key
  mailminder digest list    # print digest entries
  mailminder digest status  # print per-account sync health

Run without arguments to start the daemon.`,
}

// Execute runs the CLI with the provided config
func Execute(config *config.Config) {
	cfg = config

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(digestCmd)
}

package cli

import (
	"fmt"
	"os"

	"github.com/mailminder/core/internal/api/middleware"
	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the API key",
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current API key",
	Run: func(cmd *cobra.Command, args []string) {
		manager, err := middleware.NewAPIKeyManager(cfg.DataDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(manager.GetCurrentKey())
	},
}

var keyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Generate a fresh API key",
	Run: func(cmd *cobra.Command, args []string) {
		manager, err := middleware.NewAPIKeyManager(cfg.DataDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		key, err := manager.ResetKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key)
	},
}

func init() {
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyResetCmd)
}

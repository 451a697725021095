package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mailminder/core/internal/checkpoint"
	"github.com/mailminder/core/internal/digest"
	"github.com/spf13/cobra"
)

var digestStatusFilter string

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Inspect the digest",
}

var digestListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print digest entries",
	Run: func(cmd *cobra.Command, args []string) {
		engine := digest.NewEngine(cfg.DigestPath())
		if err := engine.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		entries := engine.ByStatus(digestStatusFilter)
		if len(entries) == 0 {
			fmt.Println("no entries")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tIMPORTANCE\tACCOUNT\tFROM\tSUBJECT\tDATE")
		for _, entry := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				entry.Status, entry.Importance, entry.Account, entry.From,
				entry.Subject, entry.Date.Format("2006-01-02 15:04"))
		}
		w.Flush()
	},
}

var digestStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print per-account sync health",
	Run: func(cmd *cobra.Command, args []string) {
		store := checkpoint.NewStore(cfg.CheckpointPath())
		if err := store.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		checkpoints := store.All()
		if len(checkpoints) == 0 {
			fmt.Println("no accounts polled yet")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tCURSOR\tLAST POLL\tFAILURES")
		for account, cp := range checkpoints {
			cursor := cp.Cursor
			if cursor == "" {
				cursor = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
				account, cursor, cp.LastPollAt.Format("2006-01-02 15:04:05"), cp.FailCount)
		}
		w.Flush()
	},
}

func init() {
	digestListCmd.Flags().StringVar(&digestStatusFilter, "status", digest.StatusAll, "filter by lifecycle status")
	digestCmd.AddCommand(digestListCmd)
	digestCmd.AddCommand(digestStatusCmd)
}

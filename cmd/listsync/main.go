package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cadencehq/listsync/cmd/listsync/commands"
	"github.com/cadencehq/listsync/config"
	"github.com/cadencehq/listsync/logger"
)

var rootCmd = &cobra.Command{
	Use:   "listsync",
	Short: "listsync - Two-way sync between a contact store and remote mailing lists",
	Long: `listsync - Keep a local contact store and remote mailing lists in step.

Local groups map to remote lists and interests. A sync run stages both
sides, drops everything already in agreement, then applies only the
differences in the chosen direction.

Available commands:
  push    - Make the remote lists match the local store
  pull    - Make the local store match the remote lists
  resume  - Finish an interrupted sync run
  run     - Sync periodically until interrupted
  status  - Show per-list sync counters
  map     - Manage group-to-list mappings
  contact - Sync a single contact immediately
  db      - Manage the local sync database

Examples:
  listsync map add "Newsletter members" --list a1b2c3
  listsync push
  listsync status`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logger.SetLevel(logger.VerbosityToLevel(verbosity))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.PushCmd)
	rootCmd.AddCommand(commands.PullCmd)
	rootCmd.AddCommand(commands.ResumeCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.MapCmd)
	rootCmd.AddCommand(commands.ContactCmd)
	rootCmd.AddCommand(commands.DbCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

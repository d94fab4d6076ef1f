package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cadencehq/listsync/config"
)

// DbCmd groups database maintenance operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the local sync database",
	Long: `db — Manage the local sync database.

Examples:
  listsync db migrate    # Apply any pending schema migrations
  listsync db path       # Print the configured database path`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()
		fmt.Println("Database schema is up to date")
		return nil
	},
}

var dbPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configured database path",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path := cfg.Database.Path
		if path == "" {
			path = config.DefaultDatabasePath
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbPathCmd)
}

package commands

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/cadencehq/listsync/pipeline"
)

// StatusCmd shows the per-list counters from the last sync runs.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-list sync counters",
	Long: `status — Show what the last sync runs did, list by list.

Counters are written step by step, so a run that failed midway shows
the counts of the steps that completed.

Examples:
  listsync status`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stats := pipeline.NewStatsStore(database)
	all, err := stats.All(cmd.Context())
	if err != nil {
		return err
	}
	if len(all) == 0 {
		pterm.Info.Println("No sync has run yet")
		return nil
	}

	rows := pterm.TableData{
		{"List", "Remote", "Local", "In sync", "Added", "Removed", "Updated"},
	}
	for _, st := range all {
		rows = append(rows, []string{
			st.ListID,
			strconv.Itoa(st.RemoteCount),
			strconv.Itoa(st.LocalCount),
			strconv.Itoa(st.InSync),
			strconv.Itoa(st.Added),
			strconv.Itoa(st.Removed),
			st.UpdatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}

	tasks := pipeline.NewTaskStore(database)
	pending, err := tasks.PendingCount(cmd.Context())
	if err != nil {
		return err
	}
	if pending > 0 {
		pterm.Warning.Printfln("%d tasks still pending; run 'listsync resume' to finish them", pending)
	}
	return nil
}

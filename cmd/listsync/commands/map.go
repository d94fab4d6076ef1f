package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/cadencehq/listsync/crm"
	"github.com/cadencehq/listsync/mapping"
)

// MapCmd groups mapping management operations.
var MapCmd = &cobra.Command{
	Use:   "map",
	Short: "Manage group-to-list mappings",
	Long: `map — Tie local groups to remote lists and interests.

A group mapped without a category becomes the list's membership
indicator: contacts in that group are the list's subscribers. A group
mapped with a category and interest toggles that interest instead.

Examples:
  listsync map add "Newsletter members" --list a1b2c3
  listsync map add "Weekly digest" --list a1b2c3 --category cat1 --interest int1 --reverse
  listsync map ls`,
}

var mapAddCmd = &cobra.Command{
	Use:   "add <group-title>",
	Short: "Map a local group to a list or interest",
	Args:  cobra.ExactArgs(1),
	RunE:  runMapAdd,
}

var mapLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Show every mapping by list",
	RunE:  runMapLs,
}

func init() {
	mapAddCmd.Flags().String("list", "", "Remote list ID (required)")
	mapAddCmd.Flags().String("category", "", "Interest category ID (omit for the membership indicator)")
	mapAddCmd.Flags().String("category-name", "", "Interest category display name")
	mapAddCmd.Flags().String("interest", "", "Interest ID within the category")
	mapAddCmd.Flags().String("interest-name", "", "Interest display name")
	mapAddCmd.Flags().Bool("reverse", false, "Allow pull to update this group from the remote side")
	mapAddCmd.MarkFlagRequired("list")

	MapCmd.AddCommand(mapAddCmd)
	MapCmd.AddCommand(mapLsCmd)
}

func runMapAdd(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	listID, _ := cmd.Flags().GetString("list")
	categoryID, _ := cmd.Flags().GetString("category")
	categoryName, _ := cmd.Flags().GetString("category-name")
	interestID, _ := cmd.Flags().GetString("interest")
	interestName, _ := cmd.Flags().GetString("interest-name")
	reverse, _ := cmd.Flags().GetBool("reverse")

	groupID, err := crm.NewStore(database).CreateGroup(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	err = mapping.NewStore(database).Save(cmd.Context(), mapping.GroupMapping{
		GroupID:             groupID,
		ListID:              listID,
		CategoryID:          categoryID,
		CategoryName:        categoryName,
		InterestID:          interestID,
		InterestName:        interestName,
		AllowsReverseUpdate: reverse,
	})
	if err != nil {
		return err
	}

	if categoryID == "" {
		pterm.Success.Printfln("Group %q is now the membership indicator for list %s", args[0], listID)
	} else {
		pterm.Success.Printfln("Group %q now toggles interest %s on list %s", args[0], interestID, listID)
	}
	return nil
}

func runMapLs(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	mappings := mapping.NewStore(database)
	lists, err := mappings.Lists(cmd.Context())
	if err != nil {
		return err
	}
	if len(lists) == 0 {
		pterm.Info.Println("No groups are mapped yet")
		return nil
	}

	rows := pterm.TableData{{"List", "Group", "Role", "Interest", "Reverse updates"}}
	for _, listID := range lists {
		forList, err := mappings.ForList(cmd.Context(), listID)
		if err != nil {
			return err
		}
		for _, m := range forList {
			role, interest, reverse := "membership", "", ""
			if !m.IsMembershipIndicator() {
				role = "interest"
				interest = m.InterestName
				if interest == "" {
					interest = m.InterestID
				}
				if m.AllowsReverseUpdate {
					reverse = "yes"
				}
			}
			rows = append(rows, []string{m.ListID, m.GroupTitle, role, interest, reverse})
		}
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

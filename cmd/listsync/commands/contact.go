package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cadencehq/listsync/config"
	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/logger"
	"github.com/cadencehq/listsync/mailer"
	"github.com/cadencehq/listsync/mapping"
	"github.com/cadencehq/listsync/sync"
)

// ContactCmd groups single-contact operations.
var ContactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Operate on a single contact",
}

var contactSyncCmd = &cobra.Command{
	Use:   "sync <contact-id>",
	Short: "Push one contact's current state to its mapped lists",
	Long: `sync — Push one contact to the remote side immediately.

Intended for the moment a contact was edited: no staging tables, no
queue. A contact that was never on a list causes no remote traffic at
all.

Examples:
  listsync contact sync 42                 # All lists the contact's groups map to
  listsync contact sync 42 --list a1b2c3   # One list only`,
	Args: cobra.ExactArgs(1),
	RunE: runContactSync,
}

func init() {
	contactSyncCmd.Flags().String("list", "", "List ID to sync against (default: all mapped lists)")
	ContactCmd.AddCommand(contactSyncCmd)
}

func runContactSync(cmd *cobra.Command, args []string) error {
	contactID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid contact id %q", args[0])
	}
	listID, err := cmd.Flags().GetString("list")
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	client, err := mailer.NewHTTPClient(cfg.Mailer, logger.Logger)
	if err != nil {
		return err
	}
	engine := sync.New(database, client, logger.Logger, cfg.Mailer.PageSize)

	lists := []string{listID}
	if listID == "" {
		lists, err = mapping.NewStore(database).Lists(cmd.Context())
		if err != nil {
			return err
		}
		if len(lists) == 0 {
			return errors.Wrap(errors.ErrNoWork, "no lists are mapped")
		}
	}

	for _, list := range lists {
		if err := engine.SyncSingleContact(cmd.Context(), contactID, list); err != nil {
			return errors.Wrapf(err, "sync contact %d to list %s", contactID, list)
		}
	}
	logger.Logger.Infow("Contact synced", "contact_id", contactID, "lists", len(lists))
	return nil
}

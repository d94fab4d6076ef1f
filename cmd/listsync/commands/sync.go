package commands

import (
	"github.com/spf13/cobra"

	"github.com/cadencehq/listsync/config"
	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/logger"
	"github.com/cadencehq/listsync/mailer"
	"github.com/cadencehq/listsync/pipeline"
	"github.com/cadencehq/listsync/sync"
)

// PushCmd makes the remote lists match the local store.
var PushCmd = &cobra.Command{
	Use:   "push",
	Short: "Sync local contacts out to the remote lists",
	Long: `push — Make the remote mailing lists match the local contact store.

Every mapped list is staged, diffed and applied in order. Remote-only
subscribers are unsubscribed; local members missing or changed on the
remote side are upserted.

Examples:
  listsync push                    # Sync every mapped list
  listsync push --list a1b2c3      # Sync one list only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, sync.Push)
	},
}

// PullCmd makes the local store match the remote lists.
var PullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Sync remote list members back into the local store",
	Long: `pull — Make the local contact store match the remote mailing lists.

Unknown remote subscribers become new contacts; local members the
remote no longer carries lose the membership group (the contact record
itself is kept). Interest groups follow the remote only where the
mapping allows reverse updates.

Examples:
  listsync pull                    # Sync every mapped list
  listsync pull --list a1b2c3      # Sync one list only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, sync.Pull)
	},
}

// ResumeCmd picks up an interrupted run.
var ResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume pending sync tasks after an interruption",
	Long: `resume — Finish a sync run that was interrupted.

Tasks stuck in the running state are requeued (every step is safe to
re-run) and the queue is drained in order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, cleanup, err := newPipeline()
		if err != nil {
			return err
		}
		defer cleanup()

		err = p.Resume(cmd.Context())
		if errors.Is(err, errors.ErrNoWork) {
			logger.Logger.Infow("No pending tasks to resume")
			return nil
		}
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{PushCmd, PullCmd} {
		c.Flags().StringArray("list", nil, "List ID to sync (repeatable; default: all mapped lists)")
	}
}

func runSync(cmd *cobra.Command, direction sync.Direction) error {
	lists, err := cmd.Flags().GetStringArray("list")
	if err != nil {
		return err
	}

	p, cleanup, err := newPipeline()
	if err != nil {
		return err
	}
	defer cleanup()

	err = p.Run(cmd.Context(), direction, lists)
	if errors.Is(err, errors.ErrNoWork) {
		logger.Logger.Warnw("Nothing to sync", "direction", direction)
		return nil
	}
	return err
}

// newPipeline wires config, database and mailer client into a ready
// pipeline. The cleanup closes the database.
func newPipeline() (*pipeline.Pipeline, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}

	client, err := mailer.NewHTTPClient(cfg.Mailer, logger.Logger)
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	p := pipeline.New(database, client, logger.Logger, cfg.Mailer.PageSize)
	return p, func() { database.Close() }, nil
}

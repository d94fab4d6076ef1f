package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cadencehq/listsync/config"
	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/logger"
	"github.com/cadencehq/listsync/mailer"
	"github.com/cadencehq/listsync/pipeline"
	"github.com/cadencehq/listsync/sync"
)

// RunCmd syncs on a schedule until interrupted.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync periodically until interrupted",
	Long: `run — Push every mapped list on an interval.

The config file is watched between runs: mailer tuning (rate limit,
log level) applies without a restart.

Examples:
  listsync run                     # Push every 15 minutes
  listsync run --interval 1h
  listsync run --direction pull`,
	RunE: runDaemon,
}

func init() {
	RunCmd.Flags().Duration("interval", 15*time.Minute, "Time between sync runs")
	RunCmd.Flags().String("direction", "push", "Sync direction: push or pull")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	interval, err := cmd.Flags().GetDuration("interval")
	if err != nil {
		return err
	}
	directionFlag, err := cmd.Flags().GetString("direction")
	if err != nil {
		return err
	}
	direction := sync.Direction(directionFlag)
	if direction != sync.Push && direction != sync.Pull {
		return errors.Newf("invalid direction %q (want push or pull)", directionFlag)
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
	p := pipeline.New(database, client, logger.Logger, cfg.Mailer.PageSize)

	if configPath := config.ConfigFilePath(); configPath != "" {
		watcher, err := config.NewConfigWatcher(configPath)
		if err != nil {
			logger.Logger.Warnw("Config watcher unavailable", "error", err)
		} else {
			watcher.OnReload(func(newCfg *config.Config) error {
				client.SetRateLimit(newCfg.Mailer.RateLimit)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	// Finish whatever a previous run left behind before ticking.
	if err := p.Resume(cmd.Context()); err != nil && !errors.Is(err, errors.ErrNoWork) {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Logger.Infow("Sync daemon started", "direction", direction, "interval", interval)

	for {
		if err := p.Run(cmd.Context(), direction, nil); err != nil {
			if errors.Is(err, errors.ErrNoWork) {
				logger.Logger.Warnw("Nothing to sync")
			} else {
				// Keep the daemon alive; the next tick retries fresh.
				logger.Logger.Errorw("Sync run failed", "error", err)
			}
		}

		select {
		case <-cmd.Context().Done():
			logger.Logger.Infow("Sync daemon stopping")
			return nil
		case <-ticker.C:
		}
	}
}

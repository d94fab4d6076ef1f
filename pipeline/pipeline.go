package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cadencehq/listsync/db"
	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/internal/util"
	"github.com/cadencehq/listsync/mailer"
	"github.com/cadencehq/listsync/mapping"
	"github.com/cadencehq/listsync/sync"
)

// Pipeline enqueues and executes staged sync runs.
type Pipeline struct {
	tasks    *TaskStore
	stats    *StatsStore
	mappings *mapping.Store
	engine   *sync.Sync
	log      *zap.SugaredLogger
}

// New creates a pipeline over an open database and mailer client.
func New(database *sql.DB, client mailer.Client, log *zap.SugaredLogger, pageSize int) *Pipeline {
	return &Pipeline{
		tasks:    NewTaskStore(database),
		stats:    NewStatsStore(database),
		mappings: mapping.NewStore(database),
		engine:   sync.New(database, client, log, pageSize),
		log:      log,
	}
}

// Stats exposes the persisted per-list counters.
func (p *Pipeline) Stats() *StatsStore { return p.stats }

// Tasks exposes the persisted task queue.
func (p *Pipeline) Tasks() *TaskStore { return p.tasks }

// shortID tags a queue name; full uniqueness lives in the task ids.
func shortID() string {
	return uuid.NewString()[:8]
}

var stepLabels = map[Step]string{
	StepCollectLocal:  "collect local members",
	StepCollectRemote: "fetch remote members",
	StepDiff:          "drop records already in sync",
	StepApply:         "apply differences",
}

// Enqueue creates the four ordered tasks for each list to sync. When
// lists is empty, every mapped list is enqueued. Returns the queue
// name and task count, or ErrNoWork when no list matches.
func (p *Pipeline) Enqueue(ctx context.Context, direction sync.Direction, lists []string) (string, int, error) {
	if len(lists) == 0 {
		var err error
		lists, err = p.mappings.Lists(ctx)
		if err != nil {
			return "", 0, err
		}
	}
	if len(lists) == 0 {
		return "", 0, errors.Wrap(errors.ErrNoWork, "no lists are mapped")
	}

	queue := fmt.Sprintf("%s-%s", direction, shortID())
	count := 0
	for i, listID := range lists {
		title := listID
		if membership, err := p.mappings.MembershipGroup(ctx, listID); err == nil {
			title = membership.GroupTitle
		} else if !errors.IsConfigurationError(err) {
			return "", 0, err
		}

		if err := p.stats.Reset(ctx, listID); err != nil {
			return "", 0, err
		}

		for _, step := range Steps {
			label := fmt.Sprintf("List %d (%s): %s", i+1, title, stepLabels[step])
			task, err := NewTask(queue, listID, step, direction, label)
			if err != nil {
				return "", 0, err
			}
			if err := p.tasks.CreateTask(ctx, task); err != nil {
				return "", 0, err
			}
			count++
		}
	}

	p.log.Infow("enqueued sync run", "queue", queue, "direction", direction, "lists", len(lists), "tasks", count)
	return queue, count, nil
}

// Process drains the task queue in sequence order. The first failing
// task stops the run with the list and step attributed; everything
// after it stays queued so a later run resumes exactly there.
func (p *Pipeline) Process(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "sync run interrupted")
		}
		task, err := p.tasks.NextQueued(ctx)
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}

		task.Start()
		if err := p.tasks.UpdateTask(ctx, task); err != nil {
			return err
		}
		p.log.Infow("task started", "task_id", task.ID, "label", task.Label)

		if err := p.runStep(ctx, task); err != nil {
			task.Fail(err)
			if uerr := p.tasks.UpdateTask(ctx, task); uerr != nil && !db.IsDatabaseClosed(uerr) {
				p.log.Errorw("failed to record task failure", "task_id", task.ID, "error", uerr)
			}

			// A list with a broken mapping is skipped; the other
			// lists in the run still sync.
			if errors.IsConfigurationError(err) {
				p.log.Warnw("list skipped, mapping invalid", "list_id", task.ListID, "error", err)
				if aerr := p.tasks.AbortQueuedForList(ctx, task.Queue, task.ListID, err.Error()); aerr != nil {
					return aerr
				}
				continue
			}

			// Later steps of this run must not execute against the
			// half-built staging picture; a new run starts clean.
			if aerr := p.tasks.AbortQueued(ctx, task.Queue, task.ID); aerr != nil && !db.IsDatabaseClosed(aerr) {
				p.log.Errorw("failed to abort remaining tasks", "queue", task.Queue, "error", aerr)
			}
			return errors.Wrapf(err, "list %s: %s failed", task.ListID, task.Step)
		}

		task.Complete()
		if err := p.tasks.UpdateTask(ctx, task); err != nil {
			return err
		}
	}
}

// Resume requeues interrupted tasks and drains the queue. Returns
// ErrNoWork when nothing was pending.
func (p *Pipeline) Resume(ctx context.Context) error {
	requeued, err := p.tasks.RequeueRunning(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		p.log.Infow("requeued interrupted tasks", "count", requeued)
	}
	pending, err := p.tasks.PendingCount(ctx)
	if err != nil {
		return err
	}
	if pending == 0 {
		return errors.Wrap(errors.ErrNoWork, "no pending tasks")
	}
	return p.Process(ctx)
}

// Run enqueues a fresh run and processes it to completion.
func (p *Pipeline) Run(ctx context.Context, direction sync.Direction, lists []string) error {
	if _, _, err := p.Enqueue(ctx, direction, lists); err != nil {
		return err
	}
	return p.Process(ctx)
}

// runStep executes one task and merges its counter into the list's
// stats row.
func (p *Pipeline) runStep(ctx context.Context, task *Task) error {
	switch task.Step {
	case StepCollectLocal:
		n, err := p.engine.CollectLocal(ctx, task.ListID)
		if err != nil {
			return err
		}
		return p.stats.Merge(ctx, task.ListID, StatsPatch{LocalCount: util.Ptr(n)})

	case StepCollectRemote:
		n, err := p.engine.CollectRemote(ctx, task.ListID)
		if err != nil {
			return err
		}
		return p.stats.Merge(ctx, task.ListID, StatsPatch{RemoteCount: util.Ptr(n)})

	case StepDiff:
		n, err := p.engine.RemoveInSync(ctx, task.ListID)
		if err != nil {
			return err
		}
		return p.stats.Merge(ctx, task.ListID, StatsPatch{InSync: util.Ptr(n)})

	case StepApply:
		switch task.Direction {
		case sync.Push:
			result, err := p.engine.ApplyPush(ctx, task.ListID)
			if err != nil {
				return err
			}
			return p.stats.Merge(ctx, task.ListID, StatsPatch{
				Added:   util.Ptr(result.Added),
				Removed: util.Ptr(result.Removed),
			})
		case sync.Pull:
			result, err := p.engine.ApplyPull(ctx, task.ListID)
			if err != nil {
				return err
			}
			return p.stats.Merge(ctx, task.ListID, StatsPatch{
				Added:   util.Ptr(result.Added),
				Removed: util.Ptr(result.Removed),
			})
		default:
			return errors.Newf("unknown sync direction: %s", task.Direction)
		}

	default:
		return errors.Newf("unknown sync step: %s", task.Step)
	}
}

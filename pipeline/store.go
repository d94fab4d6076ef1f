package pipeline

import (
	"context"
	"database/sql"
	"time"

	"github.com/cadencehq/listsync/errors"
)

// TaskStore handles persistence of sync tasks.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a task store over an open database.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `seq, id, queue, list_id, step, direction, label, status, error,
	created_at, started_at, completed_at`

func scanTask(row interface{ Scan(...interface{}) error }, t *Task) error {
	return row.Scan(&t.Seq, &t.ID, &t.Queue, &t.ListID, &t.Step, &t.Direction,
		&t.Label, &t.Status, &t.Error, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
}

// CreateTask inserts a new task and fills in its sequence number.
func (s *TaskStore) CreateTask(ctx context.Context, t *Task) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_tasks (id, queue, list_id, step, direction, label, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Queue, t.ListID, t.Step, t.Direction, t.Label, t.Status, t.Error, t.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create task")
	}
	t.Seq, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to read task sequence")
	}
	return nil
}

// UpdateTask persists the task's mutable fields.
func (s *TaskStore) UpdateTask(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_tasks
		SET status = ?, error = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		t.Status, t.Error, t.StartedAt, t.CompletedAt, t.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update task")
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM sync_tasks WHERE id = ?`, id), &t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("task %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task")
	}
	return &t, nil
}

// NextQueued returns the oldest queued task, or nil when the queue is
// drained. Ordering by sequence is what keeps a list's four steps in
// order: they were enqueued contiguously.
func (s *TaskStore) NextQueued(ctx context.Context) (*Task, error) {
	var t Task
	err := scanTask(s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM sync_tasks
		WHERE status = 'queued' ORDER BY seq ASC LIMIT 1`), &t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next queued task")
	}
	return &t, nil
}

// ListTasks returns the tasks of one queue in execution order.
func (s *TaskStore) ListTasks(ctx context.Context, queue string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM sync_tasks
		WHERE queue = ? ORDER BY seq ASC`, queue)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var t Task
		if err := scanTask(rows, &t); err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating tasks")
	}
	return tasks, nil
}

// PendingCount returns how many tasks are still queued or running.
func (s *TaskStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_tasks WHERE status IN ('queued', 'running')`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pending tasks")
	}
	return n, nil
}

// AbortQueued fails every still-queued task of a queue, recording
// which task sank the run.
func (s *TaskStore) AbortQueued(ctx context.Context, queue, failedTaskID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_tasks
		SET status = 'failed', error = ?, completed_at = ?
		WHERE queue = ? AND status = 'queued'`,
		"aborted: task "+failedTaskID+" failed", time.Now(), queue)
	if err != nil {
		return errors.Wrap(err, "failed to abort queued tasks")
	}
	return nil
}

// AbortQueuedForList fails only one list's still-queued tasks within
// a queue. Used when a list is skippable (bad mapping) and the rest
// of the run should continue.
func (s *TaskStore) AbortQueuedForList(ctx context.Context, queue, listID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_tasks
		SET status = 'failed', error = ?, completed_at = ?
		WHERE queue = ? AND list_id = ? AND status = 'queued'`,
		reason, time.Now(), queue, listID)
	if err != nil {
		return errors.Wrapf(err, "failed to abort queued tasks for list %s", listID)
	}
	return nil
}

// RequeueRunning flips running tasks back to queued. Called on
// startup: a task still marked running was interrupted mid-step, and
// every step is safe to re-run.
func (s *TaskStore) RequeueRunning(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_tasks
		SET status = 'queued', started_at = NULL
		WHERE status = 'running'`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to requeue running tasks")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

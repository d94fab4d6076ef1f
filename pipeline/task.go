// Package pipeline runs staged sync work as a durable task queue.
// Each list contributes four ordered tasks (collect local, collect
// remote, diff, apply); tasks persist in SQLite so an interrupted run
// resumes from the first unfinished step instead of starting over.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/sync"
)

// Step identifies one stage of a list's sync.
type Step string

const (
	StepCollectLocal  Step = "collect_local"
	StepCollectRemote Step = "collect_remote"
	StepDiff          Step = "diff"
	StepApply         Step = "apply"
)

// Steps is the fixed execution order for one list.
var Steps = []Step{StepCollectLocal, StepCollectRemote, StepDiff, StepApply}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid TaskStatus.
func IsValidStatus(s string) bool {
	switch TaskStatus(s) {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Task is one persisted unit of sync work. Seq orders tasks globally;
// the queue name groups the tasks of one run for attribution.
type Task struct {
	Seq         int64          `json:"seq"`
	ID          string         `json:"id"`
	Queue       string         `json:"queue"`
	ListID      string         `json:"list_id"`
	Step        Step           `json:"step"`
	Direction   sync.Direction `json:"direction"`
	Label       string         `json:"label"`
	Status      TaskStatus     `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// NewTask creates a queued task for one step of one list's sync.
func NewTask(queue, listID string, step Step, direction sync.Direction, label string) (*Task, error) {
	if listID == "" {
		return nil, errors.New("listID cannot be empty")
	}
	return &Task{
		ID:        uuid.NewString(),
		Queue:     queue,
		ListID:    listID,
		Step:      step,
		Direction: direction,
		Label:     label,
		Status:    TaskStatusQueued,
		CreatedAt: time.Now(),
	}, nil
}

// Start marks the task as running.
func (t *Task) Start() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
}

// Complete marks the task as completed.
func (t *Task) Complete() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
}

// Fail marks the task as failed with an error message.
func (t *Task) Fail(err error) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.Error = err.Error()
	t.CompletedAt = &now
}

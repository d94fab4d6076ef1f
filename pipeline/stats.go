package pipeline

import (
	"context"
	"database/sql"
	"time"

	"github.com/cadencehq/listsync/errors"
)

// Stats holds the persisted per-list counters shown by the status
// command. Each counter is written by exactly one step, so a partially
// completed run shows the counters of the steps that finished.
type Stats struct {
	ListID      string    `json:"list_id"`
	RemoteCount int       `json:"remote_count"`
	LocalCount  int       `json:"local_count"`
	InSync      int       `json:"in_sync"`
	Added       int       `json:"added"`
	Removed     int       `json:"removed"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatsPatch updates only the counters it carries; nil fields leave
// the stored value alone.
type StatsPatch struct {
	RemoteCount *int
	LocalCount  *int
	InSync      *int
	Added       *int
	Removed     *int
}

// StatsStore handles persistence of per-list sync counters.
type StatsStore struct {
	db *sql.DB
}

// NewStatsStore creates a stats store over an open database.
func NewStatsStore(db *sql.DB) *StatsStore {
	return &StatsStore{db: db}
}

// Merge upserts the list's row, overwriting only the fields the patch
// carries.
func (s *StatsStore) Merge(ctx context.Context, listID string, patch StatsPatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_stats (list_id, remote_count, local_count, in_sync_count, added_count, removed_count, updated_at)
		VALUES (?, COALESCE(?, 0), COALESCE(?, 0), COALESCE(?, 0), COALESCE(?, 0), COALESCE(?, 0), ?)
		ON CONFLICT(list_id) DO UPDATE SET
			remote_count = COALESCE(?, remote_count),
			local_count = COALESCE(?, local_count),
			in_sync_count = COALESCE(?, in_sync_count),
			added_count = COALESCE(?, added_count),
			removed_count = COALESCE(?, removed_count),
			updated_at = excluded.updated_at`,
		listID,
		patch.RemoteCount, patch.LocalCount, patch.InSync, patch.Added, patch.Removed,
		time.Now(),
		patch.RemoteCount, patch.LocalCount, patch.InSync, patch.Added, patch.Removed)
	if err != nil {
		return errors.Wrapf(err, "failed to merge stats for list %s", listID)
	}
	return nil
}

// Reset zeroes the list's counters. Called at the start of a fresh
// run so a stale counter from the last run is never mistaken for this
// run's progress.
func (s *StatsStore) Reset(ctx context.Context, listID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_stats (list_id, remote_count, local_count, in_sync_count, added_count, removed_count, updated_at)
		VALUES (?, 0, 0, 0, 0, 0, ?)
		ON CONFLICT(list_id) DO UPDATE SET
			remote_count = 0,
			local_count = 0,
			in_sync_count = 0,
			added_count = 0,
			removed_count = 0,
			updated_at = excluded.updated_at`,
		listID, time.Now())
	if err != nil {
		return errors.Wrapf(err, "failed to reset stats for list %s", listID)
	}
	return nil
}

// Get returns the list's counters, or ErrNotFound when no sync has
// recorded any.
func (s *StatsStore) Get(ctx context.Context, listID string) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT list_id, remote_count, local_count, in_sync_count, added_count, removed_count, updated_at
		FROM sync_stats WHERE list_id = ?`, listID).
		Scan(&st.ListID, &st.RemoteCount, &st.LocalCount, &st.InSync, &st.Added, &st.Removed, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("no stats for list %s", listID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get stats for list %s", listID)
	}
	return &st, nil
}

// All returns every list's counters ordered by list id.
func (s *StatsStore) All(ctx context.Context) ([]*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT list_id, remote_count, local_count, in_sync_count, added_count, removed_count, updated_at
		FROM sync_stats ORDER BY list_id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stats")
	}
	defer rows.Close()

	var all []*Stats
	for rows.Next() {
		var st Stats
		if err := rows.Scan(&st.ListID, &st.RemoteCount, &st.LocalCount, &st.InSync,
			&st.Added, &st.Removed, &st.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan stats")
		}
		all = append(all, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating stats")
	}
	return all, nil
}

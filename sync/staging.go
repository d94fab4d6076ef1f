package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"

	"github.com/cadencehq/listsync/errors"
)

// listToken derives a short identifier safe to embed in a table name
// from an arbitrary list id.
func listToken(listID string) string {
	sum := md5.Sum([]byte(listID))
	return hex.EncodeToString(sum[:])[:10]
}

func localStagingTable(listID string) string {
	return "staging_local_" + listToken(listID)
}

func remoteStagingTable(listID string) string {
	return "staging_remote_" + listToken(listID)
}

// resetLocalStaging drops and recreates the list's local staging
// table. A collect step always starts from an empty table so re-runs
// are safe.
func (s *Sync) resetLocalStaging(ctx context.Context, listID string) error {
	table := localStagingTable(listID)
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
		return errors.Wrapf(err, "drop %s", table)
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE `+table+` (
			contact_id INTEGER NOT NULL,
			email TEXT NOT NULL,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			interests TEXT NOT NULL,
			hash TEXT NOT NULL
		)`)
	if err != nil {
		return errors.Wrapf(err, "create %s", table)
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX idx_`+table+`_email ON `+table+`(email)`)
	return errors.Wrapf(err, "index %s", table)
}

// resetRemoteStaging drops and recreates the list's remote staging
// table. cid_guess is advisory; pull resolves it again before trusting
// it.
func (s *Sync) resetRemoteStaging(ctx context.Context, listID string) error {
	table := remoteStagingTable(listID)
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
		return errors.Wrapf(err, "drop %s", table)
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE `+table+` (
			email TEXT NOT NULL,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			interests TEXT NOT NULL,
			hash TEXT NOT NULL,
			cid_guess INTEGER
		)`)
	if err != nil {
		return errors.Wrapf(err, "create %s", table)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX idx_`+table+`_email ON `+table+`(email)`); err != nil {
		return errors.Wrapf(err, "index %s", table)
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX idx_`+table+`_cid ON `+table+`(cid_guess)`)
	return errors.Wrapf(err, "index %s", table)
}

// dropStaging removes both of the list's staging tables. Called when
// the apply step completes; on failure they stay behind so a requeued
// apply still has its work list.
func (s *Sync) dropStaging(ctx context.Context, listID string) error {
	for _, table := range []string{localStagingTable(listID), remoteStagingTable(listID)} {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return errors.Wrapf(err, "drop %s", table)
		}
	}
	return nil
}

func (s *Sync) stagingCount(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", table)
	}
	return n, nil
}

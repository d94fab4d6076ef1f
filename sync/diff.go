package sync

import (
	"context"

	"github.com/cadencehq/listsync/errors"
)

// RemoveInSync deletes from both staging tables every pair of rows
// that agree on email and comparison hash. What remains is the work
// list: local-only or changed rows on one side, remote-only rows on
// the other. Returns the number of pairs removed.
//
// Matched pairs are snapshotted first; deleting from one side before
// the other would make matched rows indistinguishable from one-sided
// rows. Deletion keys on (email, hash), not email alone, so when two
// contacts share an address only the row that actually matched goes.
func (s *Sync) RemoveInSync(ctx context.Context, listID string) (int, error) {
	local := localStagingTable(listID)
	remote := remoteStagingTable(listID)
	matched := "matched_" + listToken(listID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin diff")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS temp.`+matched); err != nil {
		return 0, errors.Wrap(err, "drop matched snapshot")
	}
	_, err = tx.ExecContext(ctx, `
		CREATE TEMP TABLE `+matched+` AS
		SELECT l.email, l.hash FROM `+local+` l
		JOIN `+remote+` r ON r.email = l.email AND r.hash = l.hash`)
	if err != nil {
		return 0, errors.Wrap(err, "snapshot matched pairs")
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM temp.`+matched).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count matched pairs")
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM `+local+` WHERE EXISTS (
			SELECT 1 FROM temp.`+matched+` m
			WHERE m.email = `+local+`.email AND m.hash = `+local+`.hash)`); err != nil {
		return 0, errors.Wrap(err, "remove in-sync local rows")
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM `+remote+` WHERE EXISTS (
			SELECT 1 FROM temp.`+matched+` m
			WHERE m.email = `+remote+`.email AND m.hash = `+remote+`.hash)`); err != nil {
		return 0, errors.Wrap(err, "remove in-sync remote rows")
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE temp.`+matched); err != nil {
		return 0, errors.Wrap(err, "drop matched snapshot")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit diff")
	}

	s.log.Infow("removed in-sync rows", "list_id", listID, "in_sync", count)
	return count, nil
}

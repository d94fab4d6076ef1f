package sync

import (
	"context"

	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/mailer"
)

// PushResult reports what an apply step changed on the remote side.
type PushResult struct {
	Added   int
	Removed int
}

// ApplyPush makes the remote list match the staged local picture:
// every remaining local row is upserted (new subscriptions and changed
// records alike), and every remote-only row is unsubscribed. Remote
// failures abort the step; a re-run picks up where the remote actually
// is, not where this run thought it was.
func (s *Sync) ApplyPush(ctx context.Context, listID string) (PushResult, error) {
	var result PushResult

	rows, err := s.db.QueryContext(ctx, `
		SELECT email, first_name, last_name, interests
		FROM `+localStagingTable(listID)+` ORDER BY email`)
	if err != nil {
		return result, errors.Wrap(err, "read staged local rows")
	}
	type upsert struct {
		email, firstName, lastName, interests string
	}
	var upserts []upsert
	for rows.Next() {
		var u upsert
		if err := rows.Scan(&u.email, &u.firstName, &u.lastName, &u.interests); err != nil {
			rows.Close()
			return result, errors.Wrap(err, "scan staged local row")
		}
		upserts = append(upserts, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, errors.Wrap(err, "read staged local rows")
	}

	for _, u := range upserts {
		body := mailer.UpsertMember{
			EmailAddress: u.email,
			Status:       mailer.StatusSubscribed,
			MergeFields:  mailer.MergeFields{FirstName: u.firstName, LastName: u.lastName},
			Interests:    DeserializeInterests(u.interests),
		}
		if _, err := s.mailer.Put(ctx, mailer.MemberPath(listID, u.email), body); err != nil {
			return result, errors.Wrapf(err, "upsert member %s", u.email)
		}
		result.Added++
	}

	removals, err := s.remoteOnlyEmails(ctx, listID)
	if err != nil {
		return result, err
	}
	for _, email := range removals {
		_, err := s.mailer.Patch(ctx, mailer.MemberPath(listID, email),
			mailer.StatusPatch{Status: mailer.StatusUnsubscribed})
		if err != nil && !mailer.IsNotFound(err) {
			return result, errors.Wrapf(err, "unsubscribe member %s", email)
		}
		result.Removed++
	}

	if err := s.dropStaging(ctx, listID); err != nil {
		return result, err
	}

	s.log.Infow("applied push", "list_id", listID, "added", result.Added, "removed", result.Removed)
	return result, nil
}

// remoteOnlyEmails returns staged remote emails with no staged local
// counterpart. A remote row that shares an email with a local row is a
// changed record, covered by the upsert pass.
func (s *Sync) remoteOnlyEmails(ctx context.Context, listID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email FROM `+remoteStagingTable(listID)+`
		WHERE email NOT IN (SELECT email FROM `+localStagingTable(listID)+`)
		ORDER BY email`)
	if err != nil {
		return nil, errors.Wrap(err, "read remote-only rows")
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, errors.Wrap(err, "scan remote-only row")
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

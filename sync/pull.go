package sync

import (
	"context"
	"database/sql"

	"github.com/cadencehq/listsync/crm"
	"github.com/cadencehq/listsync/errors"
)

// PullResult reports what an apply step changed on the local side.
type PullResult struct {
	Added   int
	Removed int
}

type remoteRow struct {
	email     string
	firstName string
	lastName  string
	interests string
	localCID  sql.NullInt64
	cidGuess  sql.NullInt64
}

// ApplyPull makes the local store match the staged remote picture.
// Remote rows update or create local contacts and their memberships;
// local-only rows lose the membership group (history kept, the contact
// itself is never deleted). Rows that cannot be resolved to a contact
// are journalled and skipped rather than failing the run.
func (s *Sync) ApplyPull(ctx context.Context, listID string) (PullResult, error) {
	var result PullResult

	membership, err := s.mappings.MembershipGroup(ctx, listID)
	if err != nil {
		return result, err
	}
	interestGroups, err := s.mappings.InterestGroups(ctx, listID)
	if err != nil {
		return result, err
	}

	remoteRows, err := s.stagedRemoteRows(ctx, listID)
	if err != nil {
		return result, err
	}

	for _, r := range remoteRows {
		contactID, created, err := s.resolveContact(ctx, r)
		if errors.IsDataIntegrityError(err) {
			if jerr := s.journal(ctx, listID, r.email, err.Error()); jerr != nil {
				return result, jerr
			}
			continue
		}
		if err != nil {
			return result, err
		}

		if !created {
			if err := s.contacts.UpdateContactName(ctx, contactID, r.firstName, r.lastName); err != nil {
				return result, err
			}
		}

		wasMember, err := s.contacts.IsMember(ctx, membership.GroupID, contactID)
		if err != nil {
			return result, err
		}
		if err := s.contacts.SetMembership(ctx, membership.GroupID, contactID, crm.StatusAdded); err != nil {
			return result, err
		}
		if !wasMember {
			result.Added++
		}

		interests := DeserializeInterests(r.interests)
		for _, g := range interestGroups {
			if !g.AllowsReverseUpdate {
				continue
			}
			status := crm.StatusRemoved
			if interests[g.InterestID] {
				status = crm.StatusAdded
			}
			if err := s.contacts.SetMembership(ctx, g.GroupID, contactID, status); err != nil {
				return result, err
			}
		}
	}

	// Local members the remote no longer has: drop the membership
	// group only. Interest groups and the contact record stay.
	removals, err := s.localOnlyContacts(ctx, listID)
	if err != nil {
		return result, err
	}
	for _, contactID := range removals {
		if err := s.contacts.SetMembership(ctx, membership.GroupID, contactID, crm.StatusRemoved); err != nil {
			return result, err
		}
		result.Removed++
	}

	if err := s.dropStaging(ctx, listID); err != nil {
		return result, err
	}

	s.log.Infow("applied pull", "list_id", listID, "added", result.Added, "removed", result.Removed)
	return result, nil
}

// stagedRemoteRows reads the remaining remote rows, pre-joined to the
// local staging table so a changed record resolves to the contact the
// local side already knows.
func (s *Sync) stagedRemoteRows(ctx context.Context, listID string) ([]remoteRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.email, r.first_name, r.last_name, r.interests,
		       (SELECT l.contact_id FROM `+localStagingTable(listID)+` l WHERE l.email = r.email LIMIT 1),
		       r.cid_guess
		FROM `+remoteStagingTable(listID)+` r ORDER BY r.email`)
	if err != nil {
		return nil, errors.Wrap(err, "read staged remote rows")
	}
	defer rows.Close()

	var out []remoteRow
	for rows.Next() {
		var r remoteRow
		if err := rows.Scan(&r.email, &r.firstName, &r.lastName, &r.interests, &r.localCID, &r.cidGuess); err != nil {
			return nil, errors.Wrap(err, "scan staged remote row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// resolveContact maps a remote row to a local contact id, creating the
// contact when nothing matches. Resolution order: the contact staged
// locally under the same email, then the advisory guess, then a fresh
// email lookup. Returns ErrDataIntegrity for rows that cannot be
// resolved or created.
func (s *Sync) resolveContact(ctx context.Context, r remoteRow) (contactID int64, created bool, err error) {
	if r.email == "" {
		return 0, false, errors.Wrap(errors.ErrDataIntegrity, "remote member without email address")
	}

	if r.localCID.Valid {
		return r.localCID.Int64, false, nil
	}
	if r.cidGuess.Valid {
		// The guess may be stale if contacts changed since collection.
		if _, _, err := s.contacts.GetContact(ctx, r.cidGuess.Int64); err == nil {
			return r.cidGuess.Int64, false, nil
		}
	}

	id, err := s.contacts.FindContactIDByEmail(ctx, r.email)
	if err == nil {
		return id, false, nil
	}
	if !errors.IsNotFoundError(err) {
		return 0, false, err
	}

	id, err = s.contacts.CreateContact(ctx, r.firstName, r.lastName, r.email)
	if err != nil {
		return 0, false, errors.Wrapf(errors.ErrDataIntegrity, "create contact for %s: %v", r.email, err)
	}
	return id, true, nil
}

// localOnlyContacts returns staged local contact ids with no staged
// remote counterpart.
func (s *Sync) localOnlyContacts(ctx context.Context, listID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contact_id FROM `+localStagingTable(listID)+`
		WHERE email NOT IN (SELECT email FROM `+remoteStagingTable(listID)+`)
		ORDER BY contact_id`)
	if err != nil {
		return nil, errors.Wrap(err, "read local-only rows")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan local-only row")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

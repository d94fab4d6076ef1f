package sync

import (
	"context"

	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/mapping"
)

// CollectLocal stages every eligible local member of the list with the
// interest vector and comparison hash computed. Returns the number of
// rows staged.
func (s *Sync) CollectLocal(ctx context.Context, listID string) (int, error) {
	membership, err := s.mappings.MembershipGroup(ctx, listID)
	if err != nil {
		return 0, err
	}
	interestGroups, err := s.mappings.InterestGroups(ctx, listID)
	if err != nil {
		return 0, err
	}

	if err := s.resetLocalStaging(ctx, listID); err != nil {
		return 0, err
	}

	members, err := s.contacts.EligibleMembers(ctx, membership.GroupID)
	if err != nil {
		return 0, err
	}

	// One membership set per interest group, not one query per contact.
	interestMembers := make(map[string]map[int64]bool, len(interestGroups))
	for _, g := range interestGroups {
		set, err := s.contacts.GroupMembers(ctx, g.GroupID)
		if err != nil {
			return 0, err
		}
		interestMembers[g.InterestID] = set
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin local staging")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO `+localStagingTable(listID)+`
			(contact_id, email, first_name, last_name, interests, hash)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.Wrap(err, "prepare local staging insert")
	}
	defer stmt.Close()

	for _, m := range members {
		interests := localInterests(m.ContactID, interestGroups, interestMembers)
		serialized := SerializeInterests(interests)
		email := NormalizeEmail(m.Email)
		hash := ComparisonHash(email, m.FirstName, m.LastName, serialized)
		if _, err := stmt.ExecContext(ctx, m.ContactID, email, m.FirstName, m.LastName, serialized, hash); err != nil {
			return 0, errors.Wrapf(err, "stage local contact %d", m.ContactID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit local staging")
	}

	s.log.Infow("collected local members", "list_id", listID, "count", len(members))
	return len(members), nil
}

// localInterests builds the contact's interest vector over every
// mapped interest of the list. Unmapped interests do not appear, so
// both sides serialize over the same key set.
func localInterests(contactID int64, groups []mapping.GroupMapping, membersByInterest map[string]map[int64]bool) map[string]bool {
	interests := make(map[string]bool, len(groups))
	for _, g := range groups {
		interests[g.InterestID] = membersByInterest[g.InterestID][contactID]
	}
	return interests
}

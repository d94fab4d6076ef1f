package sync

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/mailer"
	"github.com/cadencehq/listsync/mapping"
)

// CollectRemote stages every subscribed remote member of the list,
// page by page. Any page failure aborts the step: a partially staged
// remote picture must never be diffed. Returns the number of rows
// staged.
func (s *Sync) CollectRemote(ctx context.Context, listID string) (int, error) {
	interestGroups, err := s.mappings.InterestGroups(ctx, listID)
	if err != nil {
		return 0, err
	}

	if err := s.resetRemoteStaging(ctx, listID); err != nil {
		return 0, err
	}

	table := remoteStagingTable(listID)
	staged := 0
	for offset := 0; ; offset += s.pageSize {
		params := url.Values{}
		params.Set("status", "subscribed")
		params.Set("count", strconv.Itoa(s.pageSize))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("fields", "total_items,members.email_address,members.merge_fields,members.interests")

		resp, err := s.mailer.Get(ctx, mailer.MembersPath(listID), params)
		if err != nil {
			return 0, errors.Wrapf(err, "fetch members page at offset %d", offset)
		}

		var page mailer.MemberPage
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return 0, errors.Wrap(err, "decode members page")
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, errors.Wrap(err, "begin remote staging")
		}
		for _, m := range page.Members {
			interests := remoteInterests(m.Interests, interestGroups)
			serialized := SerializeInterests(interests)
			email := NormalizeEmail(m.EmailAddress)
			hash := ComparisonHash(email, m.MergeFields.FirstName, m.MergeFields.LastName, serialized)
			_, err := tx.ExecContext(ctx, `
				INSERT INTO `+table+` (email, first_name, last_name, interests, hash)
				VALUES (?, ?, ?, ?, ?)`,
				email, m.MergeFields.FirstName, m.MergeFields.LastName, serialized, hash)
			if err != nil {
				tx.Rollback()
				return 0, errors.Wrapf(err, "stage remote member %s", email)
			}
		}
		if err := tx.Commit(); err != nil {
			return 0, errors.Wrap(err, "commit remote staging")
		}

		staged += len(page.Members)
		if staged >= page.TotalItems || len(page.Members) == 0 {
			break
		}
	}

	if err := s.guessContactIDs(ctx, listID); err != nil {
		return 0, err
	}

	s.log.Infow("collected remote members", "list_id", listID, "count", staged)
	return staged, nil
}

// guessContactIDs pre-resolves remote rows to local contact ids by
// email. The guess is advisory; pull re-checks it before writing.
func (s *Sync) guessContactIDs(ctx context.Context, listID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE `+remoteStagingTable(listID)+` SET cid_guess = (
			SELECT c.id
			FROM contact_emails e
			JOIN contacts c ON c.id = e.contact_id AND c.is_deleted = 0
			WHERE e.email = `+remoteStagingTable(listID)+`.email COLLATE NOCASE
			ORDER BY e.is_primary DESC, e.id ASC
			LIMIT 1
		)`)
	return errors.Wrap(err, "guess contact ids")
}

// remoteInterests restricts the remote interest vector to the mapped
// interests so both sides hash over the same key set. Interests the
// remote reports but no group maps are invisible to the sync.
func remoteInterests(remote map[string]bool, groups []mapping.GroupMapping) map[string]bool {
	interests := make(map[string]bool, len(groups))
	for _, g := range groups {
		interests[g.InterestID] = remote[g.InterestID]
	}
	return interests
}

package sync

import (
	"context"

	"github.com/cadencehq/listsync/errors"
	"github.com/cadencehq/listsync/mailer"
)

// SyncSingleContact pushes one contact's current state to the list
// without staging. Intended for the moment a contact is edited, not
// for bulk reconciliation.
//
// A contact that is not in the membership group and has no removal
// history has never been on the list; that case returns without any
// remote call, so bulk local edits stay cheap.
func (s *Sync) SyncSingleContact(ctx context.Context, contactID int64, listID string) error {
	membership, err := s.mappings.MembershipGroup(ctx, listID)
	if err != nil {
		return err
	}

	contact, email, err := s.contacts.GetContact(ctx, contactID)
	if err != nil {
		return err
	}

	isMember, err := s.contacts.IsMember(ctx, membership.GroupID, contactID)
	if err != nil {
		return err
	}

	if !isMember {
		wasRemoved, err := s.contacts.WasEverRemoved(ctx, membership.GroupID, contactID)
		if err != nil {
			return err
		}
		if !wasRemoved {
			return nil
		}
		if email == "" {
			return nil
		}
		return s.unsubscribe(ctx, listID, email)
	}
	if email == "" {
		return errors.Wrapf(errors.ErrDataIntegrity, "contact %d has no usable email address", contactID)
	}
	if contact.IsDeleted || contact.IsOptOut || contact.DoNotEmail {
		// In the group but not contactable: treat as an unsubscribe.
		return s.unsubscribe(ctx, listID, email)
	}

	interestGroups, err := s.mappings.InterestGroups(ctx, listID)
	if err != nil {
		return err
	}
	interests := make(map[string]bool, len(interestGroups))
	for _, g := range interestGroups {
		in, err := s.contacts.IsMember(ctx, g.GroupID, contactID)
		if err != nil {
			return err
		}
		interests[g.InterestID] = in
	}

	body := mailer.UpsertMember{
		EmailAddress: NormalizeEmail(email),
		Status:       mailer.StatusSubscribed,
		MergeFields:  mailer.MergeFields{FirstName: contact.FirstName, LastName: contact.LastName},
		Interests:    interests,
	}
	if _, err := s.mailer.Put(ctx, mailer.MemberPath(listID, email), body); err != nil {
		return errors.Wrapf(err, "upsert contact %d on list %s", contactID, listID)
	}
	s.log.Debugw("synced contact", "contact_id", contactID, "list_id", listID)
	return nil
}

// unsubscribe flips the member's remote status. A missing member means
// there is nothing to unsubscribe, which is success.
func (s *Sync) unsubscribe(ctx context.Context, listID, email string) error {
	_, err := s.mailer.Patch(ctx, mailer.MemberPath(listID, email),
		mailer.StatusPatch{Status: mailer.StatusUnsubscribed})
	if err != nil && !mailer.IsNotFound(err) {
		return errors.Wrapf(err, "unsubscribe %s from list %s", email, listID)
	}
	return nil
}

package crm

import (
	"context"
	"database/sql"

	"github.com/cadencehq/listsync/errors"
)

// Store provides the query and mutation primitives the sync engine
// needs. Each call is transactional on its own; no multi-call
// transaction spans a sync step (steps are re-runnable instead).
type Store struct {
	db *sql.DB
}

// NewStore creates a contact store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EligibleMembers returns every contact eligible for sync under the
// given membership group, each with exactly one resolved email
// address. Address priority: bulk-flagged and usable, then primary and
// usable, then the first other usable address. Contacts without any
// usable address are excluded.
func (s *Store) EligibleMembers(ctx context.Context, membershipGroupID int64) ([]EligibleMember, error) {
	query := `
		SELECT contact_id, email_id, email, first_name, last_name FROM (
			SELECT c.id AS contact_id, e.id AS email_id, e.email,
			       c.first_name, c.last_name,
			       ROW_NUMBER() OVER (
			           PARTITION BY c.id
			           ORDER BY e.is_bulkmail DESC, e.is_primary DESC, e.id ASC
			       ) AS rn
			FROM contacts c
			JOIN group_contacts gc
			  ON gc.contact_id = c.id AND gc.group_id = ? AND gc.status = 'Added'
			JOIN contact_emails e
			  ON e.contact_id = c.id AND e.on_hold = 0
			WHERE c.is_deleted = 0 AND c.is_opt_out = 0 AND c.do_not_email = 0
		) WHERE rn = 1
		ORDER BY contact_id
	`

	rows, err := s.db.QueryContext(ctx, query, membershipGroupID)
	if err != nil {
		return nil, errors.Wrap(err, "query eligible members")
	}
	defer rows.Close()

	var members []EligibleMember
	for rows.Next() {
		var m EligibleMember
		if err := rows.Scan(&m.ContactID, &m.EmailID, &m.Email, &m.FirstName, &m.LastName); err != nil {
			return nil, errors.Wrap(err, "scan eligible member")
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GroupMembers returns the set of contact IDs currently in the group
// (status Added). Used to compute interest vectors without an N+1
// query per contact.
func (s *Store) GroupMembers(ctx context.Context, groupID int64) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT contact_id FROM group_contacts WHERE group_id = ? AND status = 'Added'`, groupID)
	if err != nil {
		return nil, errors.Wrapf(err, "query members of group %d", groupID)
	}
	defer rows.Close()

	members := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan group member")
		}
		members[id] = true
	}
	return members, rows.Err()
}

// IsMember reports whether the contact is currently in the group.
func (s *Store) IsMember(ctx context.Context, groupID, contactID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM group_contacts
		 WHERE group_id = ? AND contact_id = ? AND status = 'Added'`,
		groupID, contactID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "query membership")
	}
	return n > 0, nil
}

// WasEverRemoved reports whether the contact has Removed history in
// the group. The single-contact no-op fast path depends on this: a
// contact that is not a member and has no Removed row has never been
// on the list, so no remote call is needed.
func (s *Store) WasEverRemoved(ctx context.Context, groupID, contactID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM group_contacts
		 WHERE group_id = ? AND contact_id = ? AND status = 'Removed'`,
		groupID, contactID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "query removed history")
	}
	return n > 0, nil
}

// SetMembership records the contact's membership status in the group,
// preserving history by overwriting rather than deleting.
func (s *Store) SetMembership(ctx context.Context, groupID, contactID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_contacts (group_id, contact_id, status)
		VALUES (?, ?, ?)
		ON CONFLICT(group_id, contact_id) DO UPDATE SET status = excluded.status`,
		groupID, contactID, status)
	if err != nil {
		return errors.Wrapf(err, "set membership group=%d contact=%d", groupID, contactID)
	}
	return nil
}

// GetContact returns a contact with its best usable email address
// (same priority as EligibleMembers). The email is empty when the
// contact has no usable address.
func (s *Store) GetContact(ctx context.Context, contactID int64) (*Contact, string, error) {
	var c Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, is_deleted, is_opt_out, do_not_email
		 FROM contacts WHERE id = ?`, contactID).
		Scan(&c.ID, &c.FirstName, &c.LastName, &c.IsDeleted, &c.IsOptOut, &c.DoNotEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", errors.NewNotFoundError("contact %d", contactID)
	}
	if err != nil {
		return nil, "", errors.Wrapf(err, "get contact %d", contactID)
	}

	var email string
	err = s.db.QueryRowContext(ctx,
		`SELECT email FROM contact_emails
		 WHERE contact_id = ? AND on_hold = 0
		 ORDER BY is_bulkmail DESC, is_primary DESC, id ASC
		 LIMIT 1`, contactID).Scan(&email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, "", errors.Wrapf(err, "get contact %d email", contactID)
	}

	return &c, email, nil
}

// FindContactIDByEmail resolves an email address to a contact id,
// case-insensitively, preferring primary addresses and skipping
// deleted contacts. Returns ErrNotFound when no contact matches.
func (s *Store) FindContactIDByEmail(ctx context.Context, email string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id
		FROM contact_emails e
		JOIN contacts c ON c.id = e.contact_id AND c.is_deleted = 0
		WHERE e.email = ? COLLATE NOCASE
		ORDER BY e.is_primary DESC, e.id ASC
		LIMIT 1`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.NewNotFoundError("contact with email %s", email)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "find contact by email %s", email)
	}
	return id, nil
}

// CreateContact inserts a new contact with one primary email address
// and returns its id.
func (s *Store) CreateContact(ctx context.Context, firstName, lastName, email string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin create contact")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO contacts (first_name, last_name) VALUES (?, ?)`,
		firstName, lastName)
	if err != nil {
		return 0, errors.Wrap(err, "insert contact")
	}
	contactID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "contact id")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO contact_emails (contact_id, email, is_primary) VALUES (?, ?, 1)`,
		contactID, email)
	if err != nil {
		return 0, errors.Wrap(err, "insert contact email")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit create contact")
	}
	return contactID, nil
}

// AddEmail attaches an additional email address to a contact.
func (s *Store) AddEmail(ctx context.Context, contactID int64, e Email) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_emails (contact_id, email, is_primary, is_bulkmail, on_hold)
		 VALUES (?, ?, ?, ?, ?)`,
		contactID, e.Email, e.IsPrimary, e.IsBulkmail, e.OnHold)
	if err != nil {
		return 0, errors.Wrapf(err, "add email for contact %d", contactID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "email id")
	}
	return id, nil
}

// UpdateContactName overwrites the contact's display attributes.
func (s *Store) UpdateContactName(ctx context.Context, contactID int64, firstName, lastName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET first_name = ?, last_name = ? WHERE id = ?`,
		firstName, lastName, contactID)
	if err != nil {
		return errors.Wrapf(err, "update contact %d name", contactID)
	}
	return nil
}

// CreateGroup inserts a group and returns its id. Existing titles are
// reused.
func (s *Store) CreateGroup(ctx context.Context, title string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (title) VALUES (?) ON CONFLICT(title) DO NOTHING`, title)
	if err != nil {
		return 0, errors.Wrapf(err, "create group %q", title)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM groups WHERE title = ?`, title).Scan(&id); err != nil {
		return 0, errors.Wrapf(err, "lookup group %q", title)
	}
	return id, nil
}

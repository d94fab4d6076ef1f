// Package mapping resolves which local groups are tied to which
// remote lists and interests. One group per list is the membership
// indicator (empty category id); every other mapped group toggles a
// single interest within an interest category.
package mapping

import (
	"context"
	"database/sql"

	"github.com/cadencehq/listsync/errors"
)

// GroupMapping ties one local group to a remote list, and optionally
// to one interest within an interest category on that list.
type GroupMapping struct {
	GroupID             int64
	GroupTitle          string
	ListID              string
	CategoryID          string
	CategoryName        string
	InterestID          string
	InterestName        string
	AllowsReverseUpdate bool
}

// IsMembershipIndicator reports whether this mapping is the list's
// membership group rather than an interest group.
func (m GroupMapping) IsMembershipIndicator() bool {
	return m.CategoryID == ""
}

// Store reads and writes group-to-list mappings.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const mappingColumns = `m.group_id, g.title, m.list_id, m.category_id, m.category_name,
	m.interest_id, m.interest_name, m.allows_reverse_update`

func scanMappings(rows *sql.Rows) ([]GroupMapping, error) {
	var out []GroupMapping
	for rows.Next() {
		var m GroupMapping
		if err := rows.Scan(&m.GroupID, &m.GroupTitle, &m.ListID, &m.CategoryID,
			&m.CategoryName, &m.InterestID, &m.InterestName, &m.AllowsReverseUpdate); err != nil {
			return nil, errors.Wrap(err, "scan group mapping")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Save upserts a mapping keyed by group id.
func (s *Store) Save(ctx context.Context, m GroupMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mailer_group_map
			(group_id, list_id, category_id, category_name, interest_id, interest_name, allows_reverse_update)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			list_id = excluded.list_id,
			category_id = excluded.category_id,
			category_name = excluded.category_name,
			interest_id = excluded.interest_id,
			interest_name = excluded.interest_name,
			allows_reverse_update = excluded.allows_reverse_update`,
		m.GroupID, m.ListID, m.CategoryID, m.CategoryName,
		m.InterestID, m.InterestName, m.AllowsReverseUpdate)
	if err != nil {
		return errors.Wrapf(err, "save mapping for group %d", m.GroupID)
	}
	return nil
}

// Lists returns the distinct list ids that have at least one mapped
// group, ordered by id.
func (s *Store) Lists(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT list_id FROM mailer_group_map ORDER BY list_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query mapped lists")
	}
	defer rows.Close()

	var lists []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan list id")
		}
		lists = append(lists, id)
	}
	return lists, rows.Err()
}

// ForList returns every mapping on the given list, membership
// indicator first.
func (s *Store) ForList(ctx context.Context, listID string) ([]GroupMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mappingColumns+`
		FROM mailer_group_map m
		JOIN groups g ON g.id = m.group_id
		WHERE m.list_id = ?
		ORDER BY m.category_id = '' DESC, g.title`, listID)
	if err != nil {
		return nil, errors.Wrapf(err, "query mappings for list %s", listID)
	}
	defer rows.Close()
	return scanMappings(rows)
}

// MembershipGroup returns the list's membership indicator mapping.
// A list with mapped interest groups but no membership group is a
// configuration error, not a data condition.
func (s *Store) MembershipGroup(ctx context.Context, listID string) (GroupMapping, error) {
	mappings, err := s.ForList(ctx, listID)
	if err != nil {
		return GroupMapping{}, err
	}
	for _, m := range mappings {
		if m.IsMembershipIndicator() {
			return m, nil
		}
	}
	return GroupMapping{}, errors.NewConfigurationError("list %s has no membership group mapped", listID)
}

// InterestGroups returns the list's interest mappings, excluding the
// membership indicator.
func (s *Store) InterestGroups(ctx context.Context, listID string) ([]GroupMapping, error) {
	mappings, err := s.ForList(ctx, listID)
	if err != nil {
		return nil, err
	}
	var interests []GroupMapping
	for _, m := range mappings {
		if !m.IsMembershipIndicator() {
			interests = append(interests, m)
		}
	}
	return interests, nil
}

// ForGroup returns the mapping for one group, or ErrNotFound when the
// group is not mapped to any list.
func (s *Store) ForGroup(ctx context.Context, groupID int64) (GroupMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mappingColumns+`
		FROM mailer_group_map m
		JOIN groups g ON g.id = m.group_id
		WHERE m.group_id = ?`, groupID)
	if err != nil {
		return GroupMapping{}, errors.Wrapf(err, "query mapping for group %d", groupID)
	}
	defer rows.Close()

	mappings, err := scanMappings(rows)
	if err != nil {
		return GroupMapping{}, err
	}
	if len(mappings) == 0 {
		return GroupMapping{}, errors.NewNotFoundError("group %d is not mapped to a list", groupID)
	}
	return mappings[0], nil
}

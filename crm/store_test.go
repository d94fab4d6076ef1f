package crm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/listsync/errors"
	qtest "github.com/cadencehq/listsync/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(qtest.CreateTestDB(t))
}

func TestEligibleMembersFiltersAndPicksBestEmail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	groupID, err := s.CreateGroup(ctx, "Newsletter")
	require.NoError(t, err)

	// Plain member with one primary address.
	alice, err := s.CreateContact(ctx, "Alice", "Archer", "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, s.SetMembership(ctx, groupID, alice, StatusAdded))

	// Member with primary, bulk and on-hold addresses; bulk wins.
	bob, err := s.CreateContact(ctx, "Bob", "Builder", "bob-primary@example.com")
	require.NoError(t, err)
	_, err = s.AddEmail(ctx, bob, Email{Email: "bob-bulk@example.com", IsBulkmail: true})
	require.NoError(t, err)
	_, err = s.AddEmail(ctx, bob, Email{Email: "bob-held@example.com", OnHold: true})
	require.NoError(t, err)
	require.NoError(t, s.SetMembership(ctx, groupID, bob, StatusAdded))

	// Removed member must not appear.
	carol, err := s.CreateContact(ctx, "Carol", "Chen", "carol@example.com")
	require.NoError(t, err)
	require.NoError(t, s.SetMembership(ctx, groupID, carol, StatusRemoved))

	// Opted-out member must not appear.
	dave, err := s.CreateContact(ctx, "Dave", "Doe", "dave@example.com")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE contacts SET is_opt_out = 1 WHERE id = ?`, dave)
	require.NoError(t, err)
	require.NoError(t, s.SetMembership(ctx, groupID, dave, StatusAdded))

	// Member whose only address is on hold must not appear.
	erin, err := s.CreateContact(ctx, "Erin", "Egan", "erin@example.com")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE contact_emails SET on_hold = 1 WHERE contact_id = ?`, erin)
	require.NoError(t, err)
	require.NoError(t, s.SetMembership(ctx, groupID, erin, StatusAdded))

	members, err := s.EligibleMembers(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	assert.Equal(t, alice, members[0].ContactID)
	assert.Equal(t, "alice@example.com", members[0].Email)
	assert.Equal(t, "Alice", members[0].FirstName)

	assert.Equal(t, bob, members[1].ContactID)
	assert.Equal(t, "bob-bulk@example.com", members[1].Email)
}

func TestGroupMembersAndIsMember(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	groupID, err := s.CreateGroup(ctx, "Volunteers")
	require.NoError(t, err)
	alice, err := s.CreateContact(ctx, "Alice", "Archer", "alice@example.com")
	require.NoError(t, err)
	bob, err := s.CreateContact(ctx, "Bob", "Builder", "bob@example.com")
	require.NoError(t, err)

	require.NoError(t, s.SetMembership(ctx, groupID, alice, StatusAdded))
	require.NoError(t, s.SetMembership(ctx, groupID, bob, StatusRemoved))

	members, err := s.GroupMembers(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{alice: true}, members)

	isMember, err := s.IsMember(ctx, groupID, alice)
	require.NoError(t, err)
	assert.True(t, isMember)

	isMember, err = s.IsMember(ctx, groupID, bob)
	require.NoError(t, err)
	assert.False(t, isMember)
}

func TestSetMembershipKeepsHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	groupID, err := s.CreateGroup(ctx, "Newsletter")
	require.NoError(t, err)
	alice, err := s.CreateContact(ctx, "Alice", "Archer", "alice@example.com")
	require.NoError(t, err)

	wasRemoved, err := s.WasEverRemoved(ctx, groupID, alice)
	require.NoError(t, err)
	assert.False(t, wasRemoved, "fresh contact has no membership history")

	require.NoError(t, s.SetMembership(ctx, groupID, alice, StatusAdded))
	require.NoError(t, s.SetMembership(ctx, groupID, alice, StatusRemoved))

	wasRemoved, err = s.WasEverRemoved(ctx, groupID, alice)
	require.NoError(t, err)
	assert.True(t, wasRemoved)

	// Re-adding overwrites the row rather than duplicating it.
	require.NoError(t, s.SetMembership(ctx, groupID, alice, StatusAdded))
	isMember, err := s.IsMember(ctx, groupID, alice)
	require.NoError(t, err)
	assert.True(t, isMember)
}

func TestFindContactIDByEmail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice, err := s.CreateContact(ctx, "Alice", "Archer", "Alice@Example.COM")
	require.NoError(t, err)

	id, err := s.FindContactIDByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice, id)

	_, err = s.FindContactIDByEmail(ctx, "nobody@example.com")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestFindContactIDByEmailSkipsDeleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ghost, err := s.CreateContact(ctx, "Ghost", "Gone", "ghost@example.com")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE contacts SET is_deleted = 1 WHERE id = ?`, ghost)
	require.NoError(t, err)

	_, err = s.FindContactIDByEmail(ctx, "ghost@example.com")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestGetContact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice, err := s.CreateContact(ctx, "Alice", "Archer", "alice@example.com")
	require.NoError(t, err)

	c, email, err := s.GetContact(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.FirstName)
	assert.Equal(t, "Archer", c.LastName)
	assert.Equal(t, "alice@example.com", email)

	_, _, err = s.GetContact(ctx, 9999)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestUpdateContactName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice, err := s.CreateContact(ctx, "Alice", "Archer", "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, s.UpdateContactName(ctx, alice, "Alicia", "Archer-Smith"))

	c, _, err := s.GetContact(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", c.FirstName)
	assert.Equal(t, "Archer-Smith", c.LastName)
}

func TestCreateGroupReusesExistingTitle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.CreateGroup(ctx, "Newsletter")
	require.NoError(t, err)
	second, err := s.CreateGroup(ctx, "Newsletter")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

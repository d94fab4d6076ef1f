package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cadencehq/listsync/crm"
	"github.com/cadencehq/listsync/errors"
	qtest "github.com/cadencehq/listsync/internal/testing"
	"github.com/cadencehq/listsync/mailer"
	"github.com/cadencehq/listsync/mapping"
)

type call struct {
	method string
	path   string
	body   []byte
}

// fakeMailer serves a member roster over the paginated listing,
// records every mutating call, and applies upserts and status patches
// back to the roster so consecutive runs see their own effects.
type fakeMailer struct {
	members []mailer.Member
	pageErr map[int]error   // fail the Get at this offset
	missing map[string]bool // member paths that 404 on Patch
	calls   []call
}

func (f *fakeMailer) Get(_ context.Context, path string, params url.Values) (*mailer.Response, error) {
	f.calls = append(f.calls, call{method: "GET", path: path})
	offset, _ := strconv.Atoi(params.Get("offset"))
	count, _ := strconv.Atoi(params.Get("count"))
	if err, ok := f.pageErr[offset]; ok {
		return nil, err
	}
	var listed []mailer.Member
	for _, m := range f.members {
		if want := params.Get("status"); want == "" || m.Status == want {
			listed = append(listed, m)
		}
	}
	start := min(offset, len(listed))
	end := min(offset+count, len(listed))
	body, err := json.Marshal(mailer.MemberPage{
		TotalItems: len(listed),
		Members:    listed[start:end],
	})
	if err != nil {
		return nil, err
	}
	return &mailer.Response{HTTPCode: 200, Body: body}, nil
}

func (f *fakeMailer) record(method, path string, body interface{}) *mailer.Response {
	raw, _ := json.Marshal(body)
	f.calls = append(f.calls, call{method: method, path: path, body: raw})
	return &mailer.Response{HTTPCode: 200}
}

func (f *fakeMailer) Post(_ context.Context, path string, body interface{}) (*mailer.Response, error) {
	return f.record("POST", path, body), nil
}

func (f *fakeMailer) Put(_ context.Context, path string, body interface{}) (*mailer.Response, error) {
	resp := f.record("PUT", path, body)
	if u, ok := body.(mailer.UpsertMember); ok {
		f.upsert(mailer.Member{
			EmailAddress: u.EmailAddress,
			Status:       u.Status,
			MergeFields:  u.MergeFields,
			Interests:    u.Interests,
		})
	}
	return resp, nil
}

func (f *fakeMailer) Patch(_ context.Context, path string, body interface{}) (*mailer.Response, error) {
	if f.missing[path] {
		f.calls = append(f.calls, call{method: "PATCH", path: path})
		return nil, &mailer.RequestError{Method: "PATCH", Path: path, HTTPCode: 404}
	}
	resp := f.record("PATCH", path, body)
	if p, ok := body.(mailer.StatusPatch); ok {
		hash := path[strings.LastIndexByte(path, '/')+1:]
		for i := range f.members {
			if mailer.SubscriberHash(f.members[i].EmailAddress) == hash {
				f.members[i].Status = p.Status
			}
		}
	}
	return resp, nil
}

// upsert replaces the member sharing the address or appends a new one.
func (f *fakeMailer) upsert(m mailer.Member) {
	for i := range f.members {
		if strings.EqualFold(f.members[i].EmailAddress, m.EmailAddress) {
			f.members[i] = m
			return
		}
	}
	f.members = append(f.members, m)
}

func (f *fakeMailer) Delete(_ context.Context, path string) (*mailer.Response, error) {
	return f.record("DELETE", path, nil), nil
}

func (f *fakeMailer) callsTo(method string) []call {
	var out []call
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

const testList = "list1"

type fixture struct {
	db       *sql.DB
	engine   *Sync
	fake     *fakeMailer
	contacts *crm.Store
	mappings *mapping.Store

	membershipGroup int64
	weeklyGroup     int64 // interest int-weekly, reverse updates allowed
	eventsGroup     int64 // interest int-events, push only
}

func newFixture(t *testing.T, pageSize int) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		db:   qtest.CreateTestDB(t),
		fake: &fakeMailer{missing: map[string]bool{}, pageErr: map[int]error{}},
	}
	f.contacts = crm.NewStore(f.db)
	f.mappings = mapping.NewStore(f.db)
	f.engine = New(f.db, f.fake, zap.NewNop().Sugar(), pageSize)

	var err error
	f.membershipGroup, err = f.contacts.CreateGroup(ctx, "Newsletter members")
	require.NoError(t, err)
	require.NoError(t, f.mappings.Save(ctx, mapping.GroupMapping{
		GroupID: f.membershipGroup, ListID: testList,
	}))

	f.weeklyGroup, err = f.contacts.CreateGroup(ctx, "Weekly digest readers")
	require.NoError(t, err)
	require.NoError(t, f.mappings.Save(ctx, mapping.GroupMapping{
		GroupID: f.weeklyGroup, ListID: testList,
		CategoryID: "cat1", CategoryName: "Newsletters",
		InterestID: "int-weekly", InterestName: "Weekly digest",
		AllowsReverseUpdate: true,
	}))

	f.eventsGroup, err = f.contacts.CreateGroup(ctx, "Event announcements")
	require.NoError(t, err)
	require.NoError(t, f.mappings.Save(ctx, mapping.GroupMapping{
		GroupID: f.eventsGroup, ListID: testList,
		CategoryID: "cat1", CategoryName: "Newsletters",
		InterestID: "int-events", InterestName: "Events",
	}))

	return f
}

// addMember creates a contact subscribed to the membership group.
func (f *fixture) addMember(t *testing.T, first, last, email string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.contacts.CreateContact(ctx, first, last, email)
	require.NoError(t, err)
	require.NoError(t, f.contacts.SetMembership(ctx, f.membershipGroup, id, crm.StatusAdded))
	return id
}

func remoteMember(first, last, email string, weekly, events bool) mailer.Member {
	return mailer.Member{
		EmailAddress: email,
		Status:       mailer.StatusSubscribed,
		MergeFields:  mailer.MergeFields{FirstName: first, LastName: last},
		Interests:    map[string]bool{"int-weekly": weekly, "int-events": events},
	}
}

func TestSerializeInterestsIsCanonical(t *testing.T) {
	a := SerializeInterests(map[string]bool{"b": true, "a": false})
	b := SerializeInterests(map[string]bool{"a": false, "b": true})
	assert.Equal(t, "a=false;b=true;", a)
	assert.Equal(t, a, b)
	assert.Equal(t, "", SerializeInterests(nil))

	assert.Equal(t, map[string]bool{"a": false, "b": true}, DeserializeInterests(a))
}

func TestComparisonHashNormalizesEmail(t *testing.T) {
	h1 := ComparisonHash("Alice@Example.COM ", "Alice", "Archer", "")
	h2 := ComparisonHash("alice@example.com", "Alice", "Archer", "")
	assert.Equal(t, h1, h2)

	assert.NotEqual(t, h1, ComparisonHash("alice@example.com", "Alicia", "Archer", ""))
	assert.NotEqual(t, h1, ComparisonHash("alice@example.com", "Alice", "Archer", "int-weekly=true;"))
}

func TestCollectLocalStagesEligibleMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	alice := f.addMember(t, "Alice", "Archer", "alice@example.com")
	require.NoError(t, f.contacts.SetMembership(ctx, f.weeklyGroup, alice, crm.StatusAdded))
	f.addMember(t, "Bob", "Builder", "BOB@Example.com")

	n, err := f.engine.CollectLocal(ctx, testList)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var email, interests, hash string
	err = f.db.QueryRow(`SELECT email, interests, hash FROM `+localStagingTable(testList)+
		` WHERE contact_id = ?`, alice).Scan(&email, &interests, &hash)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
	assert.Equal(t, "int-events=false;int-weekly=true;", interests)
	assert.Equal(t, ComparisonHash("alice@example.com", "Alice", "Archer", interests), hash)

	// Staged emails are normalized.
	var bobEmail string
	err = f.db.QueryRow(`SELECT email FROM ` + localStagingTable(testList) +
		` WHERE email = 'bob@example.com'`).Scan(&bobEmail)
	require.NoError(t, err)
}

func TestCollectLocalRerunStartsFresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.addMember(t, "Alice", "Archer", "alice@example.com")

	_, err := f.engine.CollectLocal(ctx, testList)
	require.NoError(t, err)
	n, err := f.engine.CollectLocal(ctx, testList)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "re-collection must not duplicate rows")
}

func TestCollectRemotePaginates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	f.fake.members = []mailer.Member{
		remoteMember("Alice", "Archer", "alice@example.com", true, false),
		remoteMember("Bob", "Builder", "bob@example.com", false, false),
		remoteMember("Carol", "Chen", "carol@example.com", false, true),
	}
	f.addMember(t, "Alice", "Archer", "alice@example.com")

	n, err := f.engine.CollectRemote(ctx, testList)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, f.fake.callsTo("GET"), 2)

	// Known email resolves to an advisory contact id guess.
	var guess sql.NullInt64
	err = f.db.QueryRow(`SELECT cid_guess FROM ` + remoteStagingTable(testList) +
		` WHERE email = 'alice@example.com'`).Scan(&guess)
	require.NoError(t, err)
	assert.True(t, guess.Valid)

	err = f.db.QueryRow(`SELECT cid_guess FROM ` + remoteStagingTable(testList) +
		` WHERE email = 'bob@example.com'`).Scan(&guess)
	require.NoError(t, err)
	assert.False(t, guess.Valid)
}

func TestCollectRemoteAbortsOnPageFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	f.fake.members = []mailer.Member{
		remoteMember("Alice", "Archer", "alice@example.com", false, false),
		remoteMember("Bob", "Builder", "bob@example.com", false, false),
		remoteMember("Carol", "Chen", "carol@example.com", false, false),
	}
	f.fake.pageErr[2] = &mailer.RequestError{Method: "GET", Path: "/", HTTPCode: 500}

	_, err := f.engine.CollectRemote(ctx, testList)
	require.Error(t, err)
	_, ok := mailer.IsRequestError(err)
	assert.True(t, ok)
}

// collectBoth runs both collection steps for the seeded fixture.
func collectBoth(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.CollectLocal(ctx, testList)
	require.NoError(t, err)
	_, err = f.engine.CollectRemote(ctx, testList)
	require.NoError(t, err)
}

func TestRemoveInSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	// alice matches on both sides, bob changed his name remotely,
	// carol is local-only, dave is remote-only.
	f.addMember(t, "Alice", "Archer", "alice@example.com")
	f.addMember(t, "Bob", "Builder", "bob@example.com")
	f.addMember(t, "Carol", "Chen", "carol@example.com")
	f.fake.members = []mailer.Member{
		remoteMember("Alice", "Archer", "alice@example.com", false, false),
		remoteMember("Robert", "Builder", "bob@example.com", false, false),
		remoteMember("Dave", "Doe", "dave@example.com", false, false),
	}
	collectBoth(t, f)

	inSync, err := f.engine.RemoveInSync(ctx, testList)
	require.NoError(t, err)
	assert.Equal(t, 1, inSync)

	localLeft, err := f.engine.stagingCount(ctx, localStagingTable(testList))
	require.NoError(t, err)
	assert.Equal(t, 2, localLeft, "changed and local-only rows remain")

	remoteLeft, err := f.engine.stagingCount(ctx, remoteStagingTable(testList))
	require.NoError(t, err)
	assert.Equal(t, 2, remoteLeft, "changed and remote-only rows remain")
}

func TestRemoveInSyncMatchesPairwiseOnSharedEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	// Two contacts share an address; only alice matches the remote
	// record. Alba's pending change must survive the diff.
	f.addMember(t, "Alice", "Archer", "shared@example.com")
	alba := f.addMember(t, "Alba", "Archer", "shared@example.com")
	f.fake.members = []mailer.Member{
		remoteMember("Alice", "Archer", "shared@example.com", false, false),
	}
	collectBoth(t, f)

	inSync, err := f.engine.RemoveInSync(ctx, testList)
	require.NoError(t, err)
	assert.Equal(t, 1, inSync)

	var remaining int64
	err = f.db.QueryRow(`SELECT contact_id FROM ` + localStagingTable(testList)).Scan(&remaining)
	require.NoError(t, err)
	assert.Equal(t, alba, remaining)

	remoteLeft, err := f.engine.stagingCount(ctx, remoteStagingTable(testList))
	require.NoError(t, err)
	assert.Zero(t, remoteLeft)
}

func TestUnmappedRemoteInterestStaysInSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	f.addMember(t, "Alice", "Archer", "alice@example.com")
	member := remoteMember("Alice", "Archer", "alice@example.com", false, false)
	member.Interests["int-legacy"] = true
	f.fake.members = []mailer.Member{member}
	collectBoth(t, f)

	inSync, err := f.engine.RemoveInSync(ctx, testList)
	require.NoError(t, err)
	assert.Equal(t, 1, inSync, "interest outside the mapping must not force a diff")
}

func TestApplyPushUpsertsAndUnsubscribes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	f.addMember(t, "Alice", "Archer", "alice@example.com")
	bob := f.addMember(t, "Bob", "Builder", "bob@example.com")
	require.NoError(t, f.contacts.SetMembership(ctx, f.weeklyGroup, bob, crm.StatusAdded))
	f.fake.members = []mailer.Member{
		remoteMember("Alice", "Archer", "alice@example.com", false, false),
		remoteMember("Dave", "Doe", "dave@example.com", false, false),
	}
	collectBoth(t, f)
	_, err := f.engine.RemoveInSync(ctx, testList)
	require.NoError(t, err)

	result, err := f.engine.ApplyPush(ctx, testList)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Added: 1, Removed: 1}, result)

	puts := f.fake.callsTo("PUT")
	require.Len(t, puts, 1)
	assert.Equal(t, mailer.MemberPath(testList, "bob@example.com"), puts[0].path)
	var body mailer.UpsertMember
	require.NoError(t, json.Unmarshal(puts[0].body, &body))
	assert.Equal(t, mailer.StatusSubscribed, body.Status)
	assert.Equal(t, "Bob", body.MergeFields.FirstName)
	assert.Equal(t, map[string]bool{"int-weekly": true, "int-events": false}, body.Interests)

	patches := f.fake.callsTo("PATCH")
	require.Len(t, patches, 1)
	assert.Equal(t, mailer.MemberPath(testList, "dave@example.com"), patches[0].path)
	var patch mailer.StatusPatch
	require.NoError(t, json.Unmarshal(patches[0].body, &patch))
	assert.Equal(t, mailer.StatusUnsubscribed, patch.Status)
}

// assertStagingDropped checks that neither staging table survived the
// apply step.
func assertStagingDropped(t *testing.T, f *fixture) {
	t.Helper()
	for _, table := range []string{localStagingTable(testList), remoteStagingTable(testList)} {
		var n int
		err := f.db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Zero(t, n, "%s must be dropped when the run completes", table)
	}
}

func TestApplyPushDropsStagingTables(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	f.addMember(t, "Alice", "Archer", "alice@example.com")
	collectBoth(t, f)
	_, err := f.engine.RemoveInSync(ctx, testList)
	require.NoError(t, err)

	_, err = f.engine.ApplyPush(ctx, testList)
	require.NoError(t, err)
	assertStagingDropped(t, f)
}

func TestPushSecondRunFindsAllInSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	alice := f.addMember(t, "Alice", "Archer", "alice@example.com")
	require.NoError(t, f.contacts.SetMembership(ctx, f.weeklyGroup, alice, crm.StatusAdded))
	f.addMember(t, "Bob", "Builder", "bob@example.com")
	f.fake.members = []mailer.Member{
		remoteMember("Dave", "Doe", "dave@example.com", false, false),
	}

	run := func() (int, PushResult) {
		t.Helper()
		collectBoth(t, f)
		inSync, err := f.engine.RemoveInSync(ctx, testList)
		require.NoError(t, err)
		result, err := f.engine.ApplyPush(ctx, testList)
		require.NoError(t, err)
		return inSync, result
	}

	_, first := run()
	assert.Equal(t, PushResult{Added: 2, Removed: 1}, first)

	// Nothing changed on either side, so the second run must find the
	// whole population already in sync and touch nothing.
	inSync, second := run()
	assert.Equal(t, 2, inSync)
	assert.Equal(t, PushResult{}, second)
}

func TestApplyPushToleratesAlreadyUnsubscribed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	f.fake.members = []mailer.Member{
		remoteMember("Dave", "Doe", "dave@example.com", false, false),
	}
	f.fake.missing[mailer.MemberPath(testList, "dave@example.com")] = true
	collectBoth(t, f)
	_, err := f.engine.RemoveInSync(ctx, testList)
	require.NoError(t, err)

	result, err := f.engine.ApplyPush(ctx, testList)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Removed: 1}, result)
}

func TestApplyPullCreatesUpdatesAndRemoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	// bob changed remotely (name and interests), carol is local-only,
	// dave exists only remotely.
	bob := f.addMember(t, "Bob", "Builder", "bob@example.com")
	carol := f.addMember(t, "Carol", "Chen", "carol@example.com")
	f.fake.members = []mailer.Member{
		remoteMember("Robert", "Builder", "bob@example.com", true, true),
		remoteMember("Dave", "Doe", "dave@example.com", false, false),
	}
	collectBoth(t, f)
	_, err := f.engine.RemoveInSync(ctx, testList)
	require.NoError(t, err)

	result, err := f.engine.ApplyPull(ctx, testList)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Added: 1, Removed: 1}, result)

	// bob: name updated, reverse-updatable interest followed, push-only
	// interest untouched.
	c, _, err := f.contacts.GetContact(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "Robert", c.FirstName)
	inWeekly, err := f.contacts.IsMember(ctx, f.weeklyGroup, bob)
	require.NoError(t, err)
	assert.True(t, inWeekly)
	inEvents, err := f.contacts.IsMember(ctx, f.eventsGroup, bob)
	require.NoError(t, err)
	assert.False(t, inEvents, "interest without reverse updates must not change locally")

	// dave: created and subscribed.
	dave, err := f.contacts.FindContactIDByEmail(ctx, "dave@example.com")
	require.NoError(t, err)
	isMember, err := f.contacts.IsMember(ctx, f.membershipGroup, dave)
	require.NoError(t, err)
	assert.True(t, isMember)

	// carol: membership removed with history, contact kept.
	isMember, err = f.contacts.IsMember(ctx, f.membershipGroup, carol)
	require.NoError(t, err)
	assert.False(t, isMember)
	wasRemoved, err := f.contacts.WasEverRemoved(ctx, f.membershipGroup, carol)
	require.NoError(t, err)
	assert.True(t, wasRemoved)
	_, _, err = f.contacts.GetContact(ctx, carol)
	require.NoError(t, err)

	assertStagingDropped(t, f)
}

func TestApplyPullJournalsUnresolvableRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	f.fake.members = []mailer.Member{
		{Status: mailer.StatusSubscribed}, // no email address
		remoteMember("Dave", "Doe", "dave@example.com", false, false),
	}
	collectBoth(t, f)
	_, err := f.engine.RemoveInSync(ctx, testList)
	require.NoError(t, err)

	result, err := f.engine.ApplyPull(ctx, testList)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Added: 1}, result, "bad row is skipped, not counted")

	var journalled int
	err = f.db.QueryRow(`SELECT COUNT(*) FROM sync_errors WHERE list_id = ?`, testList).Scan(&journalled)
	require.NoError(t, err)
	assert.Equal(t, 1, journalled)
}

func TestSyncSingleContactUnknownContact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	err := f.engine.SyncSingleContact(ctx, 999, testList)
	assert.True(t, errors.IsNotFoundError(err))
	assert.Empty(t, f.fake.calls)
}

func TestSyncSingleContactNeverMemberMakesNoCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	id, err := f.contacts.CreateContact(ctx, "Alice", "Archer", "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, f.engine.SyncSingleContact(ctx, id, testList))
	assert.Empty(t, f.fake.calls)
}

func TestSyncSingleContactExMemberUnsubscribes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	id := f.addMember(t, "Alice", "Archer", "alice@example.com")
	require.NoError(t, f.contacts.SetMembership(ctx, f.membershipGroup, id, crm.StatusRemoved))

	require.NoError(t, f.engine.SyncSingleContact(ctx, id, testList))
	patches := f.fake.callsTo("PATCH")
	require.Len(t, patches, 1)
	assert.Equal(t, mailer.MemberPath(testList, "alice@example.com"), patches[0].path)
	assert.Empty(t, f.fake.callsTo("PUT"))
}

func TestSyncSingleContactMemberUpserts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	id := f.addMember(t, "Alice", "Archer", "alice@example.com")
	require.NoError(t, f.contacts.SetMembership(ctx, f.weeklyGroup, id, crm.StatusAdded))

	require.NoError(t, f.engine.SyncSingleContact(ctx, id, testList))
	puts := f.fake.callsTo("PUT")
	require.Len(t, puts, 1)

	var body mailer.UpsertMember
	require.NoError(t, json.Unmarshal(puts[0].body, &body))
	assert.Equal(t, "alice@example.com", body.EmailAddress)
	assert.Equal(t, map[string]bool{"int-weekly": true, "int-events": false}, body.Interests)
}

func TestSyncSingleContactOptedOutUnsubscribes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	id := f.addMember(t, "Alice", "Archer", "alice@example.com")
	_, err := f.db.ExecContext(ctx, `UPDATE contacts SET is_opt_out = 1 WHERE id = ?`, id)
	require.NoError(t, err)

	require.NoError(t, f.engine.SyncSingleContact(ctx, id, testList))
	assert.Len(t, f.fake.callsTo("PATCH"), 1)
	assert.Empty(t, f.fake.callsTo("PUT"))
}

// Package mailer is the client for the remote mailing-list service API.
//
// The sync engine only depends on the Client interface: five verbs
// returning structured responses or categorized errors. Transport
// concerns (auth, SSRF guard, politeness rate limiting) live in the
// HTTPClient implementation; retries and backoff are deliberately
// absent — the engine treats any failure as fatal to the current step.
package mailer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
)

// Response is the decoded result of a successful API call (2xx/3xx).
type Response struct {
	HTTPCode int
	Body     json.RawMessage
}

// Client is the verb-level API surface the sync engine consumes.
type Client interface {
	Get(ctx context.Context, path string, params url.Values) (*Response, error)
	Post(ctx context.Context, path string, body interface{}) (*Response, error)
	Put(ctx context.Context, path string, body interface{}) (*Response, error)
	Patch(ctx context.Context, path string, body interface{}) (*Response, error)
	Delete(ctx context.Context, path string) (*Response, error)
}

// Member statuses used by the sync engine.
const (
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
)

// Member is one list member as returned by GET /lists/{id}/members.
type Member struct {
	EmailAddress string          `json:"email_address"`
	Status       string          `json:"status,omitempty"`
	MergeFields  MergeFields     `json:"merge_fields"`
	Interests    map[string]bool `json:"interests"`
}

// MergeFields carries the display attributes the sync compares.
type MergeFields struct {
	FirstName string `json:"FNAME"`
	LastName  string `json:"LNAME"`
}

// MemberPage is one page of the paginated members listing.
type MemberPage struct {
	TotalItems int      `json:"total_items"`
	Members    []Member `json:"members"`
}

// UpsertMember is the PUT body used to subscribe or update a member.
type UpsertMember struct {
	EmailAddress string          `json:"email_address"`
	Status       string          `json:"status"`
	MergeFields  MergeFields     `json:"merge_fields"`
	Interests    map[string]bool `json:"interests,omitempty"`
}

// StatusPatch is the PATCH body used to change only a member's status.
// Interests are deliberately not part of it: interest updates for
// unsubscribed members are meaningless and must never be sent.
type StatusPatch struct {
	Status string `json:"status"`
}

// SubscriberHash returns the member resource identifier for an email
// address: the md5 of its lower-cased form, per the remote API contract.
func SubscriberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// MemberPath returns the resource path for one member of a list.
func MemberPath(listID, email string) string {
	return "/lists/" + listID + "/members/" + SubscriberHash(email)
}

// MembersPath returns the collection path for a list's members.
func MembersPath(listID string) string {
	return "/lists/" + listID + "/members"
}

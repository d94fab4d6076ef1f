// Package crm is the local contact/group store the sync engine reads
// from and writes back to.
package crm

// Contact is one local contact record.
type Contact struct {
	ID         int64
	FirstName  string
	LastName   string
	IsDeleted  bool
	IsOptOut   bool
	DoNotEmail bool
}

// Email is one address attached to a contact.
type Email struct {
	ID         int64
	ContactID  int64
	Email      string
	IsPrimary  bool
	IsBulkmail bool
	OnHold     bool
}

// Group is a local group; membership in mapped groups drives the sync.
type Group struct {
	ID    int64
	Title string
}

// Membership statuses. Removed rows are kept as history so the engine
// can tell "never a member" apart from "was a member once".
const (
	StatusAdded   = "Added"
	StatusRemoved = "Removed"
)

// EligibleMember is a contact eligible for sync under a list mapping,
// with the one email address resolved for it. Eligibility: in the
// membership group with status Added, not deleted, not opted out, not
// do-not-email, and owning at least one usable (not on-hold) address.
type EligibleMember struct {
	ContactID int64
	EmailID   int64
	Email     string
	FirstName string
	LastName  string
}

package sync

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// NormalizeEmail lowercases and trims an address so both sides hash
// and join the same way regardless of how the address was entered.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SerializeInterests produces a canonical text form of an interest
// vector. Keys are sorted so the same vector always serializes the
// same way; the result is stored in staging and fed into the hash.
func SerializeInterests(interests map[string]bool) string {
	if len(interests) == 0 {
		return ""
	}
	ids := make([]string, 0, len(interests))
	for id := range interests {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('=')
		b.WriteString(strconv.FormatBool(interests[id]))
		b.WriteByte(';')
	}
	return b.String()
}

// DeserializeInterests parses the canonical text form back into an
// interest vector. Inverse of SerializeInterests.
func DeserializeInterests(serialized string) map[string]bool {
	interests := make(map[string]bool)
	for _, pair := range strings.Split(serialized, ";") {
		if pair == "" {
			continue
		}
		id, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		interests[id] = value == "true"
	}
	return interests
}

// ComparisonHash digests the fields that matter for reconciliation.
// Two records with equal hashes need no update in either direction.
func ComparisonHash(email, firstName, lastName, serializedInterests string) string {
	sum := md5.Sum([]byte(NormalizeEmail(email) + firstName + lastName + serializedInterests))
	return hex.EncodeToString(sum[:])
}

// Package fingerprint derives opaque visitor tokens from request attributes.
//
// A token is a keyed one-way hash of the visitor's identity material and the
// current UTC day, so the same visitor resolves to the same token within a
// calendar day and to a different one the next day. Raw addresses and
// user-agents are never stored.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RequestAttrs carries the raw request attributes a token is derived from.
// VisitorID is the first-party cookie value when the client presented one;
// it takes precedence over the network address since it is stable across
// proxies and address churn.
type RequestAttrs struct {
	IP        string
	UserAgent string
	VisitorID string
}

// Resolver derives visitor tokens using a server-side salt.
type Resolver struct {
	salt string
}

func NewResolver(salt string) *Resolver {
	return &Resolver{salt: salt}
}

// Resolve returns the token for the given attributes on the UTC day of now.
// Requests lacking any distinguishing attributes still resolve
// deterministically; such tokens may collide across real visitors, which is
// an accepted approximation.
func (r *Resolver) Resolve(attrs RequestAttrs, now time.Time) string {
	id := attrs.VisitorID
	if id == "" {
		id = attrs.IP
	}
	day := now.UTC().Format("2006-01-02")

	h := sha256.New()
	h.Write([]byte(r.salt))
	h.Write([]byte{0})
	h.Write([]byte(day))
	h.Write([]byte{0})
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(attrs.UserAgent))
	return hex.EncodeToString(h.Sum(nil))
}

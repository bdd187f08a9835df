// Package identity derives the stable caller identity every rate-limit and
// risk decision is tracked against.
package identity

import (
	"net"
	"strings"
)

// Kind discriminates the two ways a caller can be identified.
type Kind string

const (
	KindUser Kind = "user"
	KindIP   Kind = "ip"
)

// UnknownAddress is the sentinel used when no network address is resolvable.
// All such callers share one aggressively limited bucket.
const UnknownAddress = "unknown"

// CallerIdentity is the resolved principal: an authenticated user id, or a
// network address for anonymous traffic. Derived per request, never persisted
// by the enforcement core itself.
type CallerIdentity struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

// User builds an authenticated caller identity.
func User(id string) CallerIdentity {
	return CallerIdentity{Kind: KindUser, Value: id}
}

// IP builds an anonymous caller identity from a network address.
func IP(addr string) CallerIdentity {
	return CallerIdentity{Kind: KindIP, Value: addr}
}

// Authenticated reports whether the caller resolved to a user id.
func (c CallerIdentity) Authenticated() bool {
	return c.Kind == KindUser
}

// Key returns the limiter/store key form, e.g. "user:42" or "ip:203.0.113.7".
// Segments are sanitized so user-controlled values cannot collide with
// adjacent buckets.
func (c CallerIdentity) Key() string {
	return string(c.Kind) + ":" + SanitizeKeySegment(c.Value)
}

// String implements fmt.Stringer; same form as Key for log readability.
func (c CallerIdentity) String() string {
	return c.Key()
}

// SanitizeKeySegment escapes delimiter characters in key segments to prevent
// key collision attacks where identifiers containing ':' could manipulate
// adjacent buckets.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// Resolve derives the caller identity from request metadata.
//
// An authenticated user id always wins, even when the network address is also
// known. Otherwise the first forwarded-for entry is used, then the direct
// peer address, then the shared unknown sentinel. Resolve is total: it never
// fails.
func Resolve(authUserID, forwardedFor, remoteAddr string) CallerIdentity {
	if authUserID != "" {
		return User(authUserID)
	}

	if forwardedFor != "" {
		first := forwardedFor
		if idx := strings.Index(first, ","); idx != -1 {
			first = first[:idx]
		}
		if addr := strings.TrimSpace(first); addr != "" {
			return IP(addr)
		}
	}

	if addr := strings.TrimSpace(remoteAddr); addr != "" {
		// Peer addresses arrive as "ip:port"; the port must not split one
		// client across buckets.
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return IP(host)
		}
		return IP(addr)
	}

	return IP(UnknownAddress)
}

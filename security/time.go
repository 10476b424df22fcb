package security

import "time"

// IsExpired reports whether expiresAt has passed. A zero expiresAt means no
// expiration. The comparison is strict: an expired credential is rejected
// the moment its deadline passes. Clock-skew tolerance between hosts is the
// token verifier's concern (leeway on JWT validation), not the store's.
func IsExpired(expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt)
}

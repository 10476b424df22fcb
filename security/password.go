package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is a valid bcrypt hash used to equalize response timing when the
// target account or client does not exist. Comparing against it costs the
// same as a real comparison, so an attacker cannot distinguish "unknown user"
// from "wrong password" by measuring latency.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// PasswordHasher hashes and verifies secrets. The same hasher is used for
// user passwords and client secrets so both follow one cost policy.
type PasswordHasher interface {
	// Hash returns the hash of the given plaintext secret.
	Hash(plaintext string) (string, error)

	// Compare checks plaintext against a stored hash. It returns nil on
	// match and a non-nil error on mismatch or malformed hash.
	Compare(hash, plaintext string) error
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt-backed hasher. A cost outside the valid
// bcrypt range falls back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the bcrypt hash of plaintext.
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Compare checks plaintext against a bcrypt hash.
func (h *BcryptHasher) Compare(hash, plaintext string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
}

// ErrSecretMismatch is returned by CompareWithTimingDefense when the secret
// does not match (or the subject does not exist).
var ErrSecretMismatch = errors.New("secret does not match")

// CompareWithTimingDefense verifies plaintext against hash. When hash is
// empty (subject not found), it still performs a comparison against a dummy
// hash so the call takes the same time either way, then fails.
func CompareWithTimingDefense(hasher PasswordHasher, hash, plaintext string) error {
	if hash == "" {
		_ = hasher.Compare(dummyHash, plaintext)
		return ErrSecretMismatch
	}
	if err := hasher.Compare(hash, plaintext); err != nil {
		return ErrSecretMismatch
	}
	return nil
}

var _ PasswordHasher = (*BcryptHasher)(nil)

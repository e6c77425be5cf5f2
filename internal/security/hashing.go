package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoPassword is returned by Compare when the account has no password hash
// (federated accounts).
var ErrNoPassword = errors.New("account has no password")

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's range.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of password suitable for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against the stored hash. Returns nil on match,
// ErrNoPassword when hash is empty, bcrypt.ErrMismatchedHashAndPassword on mismatch.
func (h *Hasher) Compare(hash string, password []byte) error {
	if hash == "" {
		return ErrNoPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}

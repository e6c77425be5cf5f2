package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// Password reset codes.
const (
	ResetCodeDigits = 6
	// ResetCodeTTL is how long a reset code stays valid.
	ResetCodeTTL = 10 * time.Minute
	// ResetResendInterval is the minimum gap between two reset codes for one account.
	ResetResendInterval = 60 * time.Second
)

var resetCodeSpace = big.NewInt(1_000_000)

// GenerateResetCode returns a uniformly random 6-digit numeric code (e.g. "042917").
func GenerateResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, resetCodeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", ResetCodeDigits, n.Int64()), nil
}

// HashResetCode returns the hex SHA-256 of code. Only the hash is stored.
func HashResetCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// ResetCodeMatches compares code against a stored hash in constant time.
// An empty code or hash never matches.
func ResetCodeMatches(code, storedHash string) bool {
	if code == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashResetCode(code)), []byte(storedHash)) == 1
}

// ResendWait returns how long the caller must wait before another code may be sent,
// zero when sentAt is nil or the interval has passed.
func ResendWait(sentAt *time.Time, now time.Time) time.Duration {
	if sentAt == nil {
		return 0
	}
	if wait := sentAt.Add(ResetResendInterval).Sub(now); wait > 0 {
		return wait
	}
	return 0
}

package verifycode

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	MinLength     = 4
	MaxLength     = 8
	DefaultLength = 6
)

// Code is a one-time verification code. It is a dedicated type so the
// secret never travels as a plain string: String() is redacted and
// comparison goes through digests in constant time.
type Code struct {
	value string
}

// Generate produces a code of the given number of decimal digits using
// crypto/rand. Codes are zero-padded, so the numeric value may begin
// with zero. Lengths outside [MinLength, MaxLength] fall back to
// DefaultLength.
func Generate(length int) (Code, error) {
	if length < MinLength || length > MaxLength {
		length = DefaultLength
	}

	max := big.NewInt(1)
	for i := 0; i < length; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return Code{}, fmt.Errorf("generate code: %w", err)
	}

	return Code{value: fmt.Sprintf("%0*d", length, n)}, nil
}

// FromInput wraps a user-submitted code for comparison
func FromInput(s string) Code {
	return Code{value: s}
}

// Digest returns the hex SHA-256 digest of the code. Only the digest is
// persisted; the clear code exists just long enough to be emailed.
func (c Code) Digest() string {
	sum := sha256.Sum256([]byte(c.value))
	return hex.EncodeToString(sum[:])
}

// MatchesDigest compares the code against a stored digest in constant
// time. Hashing first fixes the compared length, so the comparison leaks
// nothing about how many leading digits were right.
func (c Code) MatchesDigest(digest string) bool {
	sum := sha256.Sum256([]byte(c.value))
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(digest)) == 1
}

// Reveal returns the clear code for delivery to the email collaborator
func (c Code) Reveal() string {
	return c.value
}

// String implements fmt.Stringer with a redacted value so the code
// cannot leak through logging
func (c Code) String() string {
	return "******"
}

package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Discord signs every interaction with the application ed25519 key over
// the concatenation of the timestamp header and the raw request body.
// Verification must happen on the exact bytes received, before any JSON
// parsing.

var (
	ErrMissingHeaders   = errors.New("signature or timestamp header missing")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrExpiredTimestamp = errors.New("request timestamp outside allowed window")
)

// Verifier validates inbound webhook authenticity. It is pure: no side
// effects, and the clock is injected so the replay window is testable.
type Verifier struct {
	key     ed25519.PublicKey
	maxSkew time.Duration
	now     func() time.Time
}

// New builds a Verifier from a hex-encoded ed25519 public key.
func New(publicKeyHex string, maxSkew time.Duration, now func() time.Time) (*Verifier, error) {
	keyBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes", ed25519.PublicKeySize)
	}
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{key: ed25519.PublicKey(keyBytes), maxSkew: maxSkew, now: now}, nil
}

// Verify checks the signature and the replay window for a raw request.
// Both headers are required; a missing header fails exactly like a bad
// signature, never as a pass-through. The replay check is independent of
// the signature check: a captured request with a valid signature is still
// rejected once its timestamp falls outside the window.
func (v *Verifier) Verify(rawBody []byte, signatureHeader, timestampHeader string) error {
	if signatureHeader == "" || timestampHeader == "" {
		return ErrMissingHeaders
	}

	sig, err := hex.DecodeString(signatureHeader)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}

	message := make([]byte, 0, len(timestampHeader)+len(rawBody))
	message = append(message, timestampHeader...)
	message = append(message, rawBody...)

	if !ed25519.Verify(v.key, message, sig) {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return ErrExpiredTimestamp
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return ErrExpiredTimestamp
	}

	return nil
}

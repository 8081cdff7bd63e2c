package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no session exists for an identity
var ErrNotFound = errors.New("session not found")

// Session is one pending verification attempt, keyed by the
// (user, guild) identity. At most one live session exists per identity;
// a new initiation overwrites the previous one.
type Session struct {
	UserID       string
	GuildID      string
	Email        string
	CodeDigest   string
	RoleID       string
	ChannelID    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AttemptCount int
	MaxAttempts  int
}

// SessionStore is the contract over the durable store holding
// verification sessions. Implementations must provide per-item TTL and
// an attempt increment that is atomic with respect to concurrent
// submissions for the same identity.
type SessionStore interface {
	// PutSession writes the session with the given TTL, overwriting any
	// existing session for the identity
	PutSession(ctx context.Context, s Session, ttl time.Duration) error
	// GetSession returns ErrNotFound when no session exists
	GetSession(ctx context.Context, userID, guildID string) (*Session, error)
	// IncrementAttempts atomically increments attempt_count and returns
	// the post-increment value, or ErrNotFound if the session is gone
	IncrementAttempts(ctx context.Context, userID, guildID string) (int, error)
	// DeleteSession removes the session and reports whether this call
	// removed it. Concurrent consumers of the same session see exactly
	// one true result.
	DeleteSession(ctx context.Context, userID, guildID string) (bool, error)
}

// RateLimitStore records verification-initiation attempts per scope.
type RateLimitStore interface {
	// ReserveAttempt checks the cooldown for a scope key and, when the
	// cooldown has elapsed, records the attempt in the same atomic
	// operation. It returns zero when the attempt was admitted and the
	// remaining cooldown otherwise. Callers must fail closed: an error
	// is never an admission.
	ReserveAttempt(ctx context.Context, key string, cooldown time.Duration) (time.Duration, error)
}

// GuildRateKey scopes the short cooldown to one user in one guild
func GuildRateKey(userID, guildID string) string {
	return "verify:rl:guild:" + guildID + ":" + userID
}

// GlobalRateKey scopes the long cooldown to one user across all guilds
func GlobalRateKey(userID string) string {
	return "verify:rl:user:" + userID
}

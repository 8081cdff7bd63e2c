package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/guildgate/backend/internal/config"
	"github.com/guildgate/backend/internal/retry"
	"github.com/guildgate/backend/internal/store"
	"github.com/guildgate/backend/internal/verifycode"
	"github.com/guildgate/backend/pkg/validation"
)

// Stable, non-sensitive reason codes surfaced to users. Diagnostic
// detail stays in the logs and the audit trail.
const (
	ReasonGuildNotConfigured = "guild_not_configured"
	ReasonInvalidEmail       = "invalid_email"
	ReasonDomainNotAllowed   = "email_domain_not_allowed"
	ReasonAddressSuppressed  = "email_suppressed"
)

// ErrTransient marks infrastructure failures (store or email sender
// unavailable). Callers retry later; it is never converted into a grant.
var ErrTransient = errors.New("temporary infrastructure failure")

// GuildPolicy is the immutable per-request snapshot of a guild's
// verification policy, with server defaults already applied
type GuildPolicy struct {
	GuildID        string
	GuildName      string
	AllowedDomains []string
	RoleID         string
	ChannelID      string
	CodeLength     int
	SessionTTL     time.Duration
	MaxAttempts    int
	Enabled        bool
}

// GuildPolicySource supplies guild policy snapshots
type GuildPolicySource interface {
	SnapshotPolicy(ctx context.Context, guildID string) (*GuildPolicy, error)
}

// SuppressionChecker reports whether an address must not receive mail
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, address string) (bool, error)
}

// CodeSender delivers a verification code to an address
type CodeSender interface {
	SendVerificationCode(ctx context.Context, to string, code verifycode.Code, guildName string) error
}

type InitiateStatus int

const (
	InitiateSent InitiateStatus = iota
	InitiateThrottled
	InitiateRejected
)

type InitiateResult struct {
	Status     InitiateStatus
	Reason     string        // set when Status == InitiateRejected
	RetryAfter time.Duration // set when Status == InitiateThrottled
	ExpiresAt  time.Time     // set when Status == InitiateSent
}

type SubmitStatus int

const (
	SubmitVerified SubmitStatus = iota
	SubmitWrongCode
	SubmitLocked
	SubmitExpired
	SubmitNotFound
)

type SubmitResult struct {
	Status            SubmitStatus
	AttemptsRemaining int
	// Grant targets, populated on SubmitVerified so the dispatcher can
	// invoke the role-grant collaborator
	Email     string
	RoleID    string
	ChannelID string
}

// VerificationService owns the verification session lifecycle:
// issue code -> validate code -> consume, with rate limiting and
// attempt lockout. It is stateless across requests; all coordination
// state lives in the external store.
type VerificationService struct {
	sessions    store.SessionStore
	limits      store.RateLimitStore
	guilds      GuildPolicySource
	suppression SuppressionChecker
	email       CodeSender
	storeRetry  *retry.Policy
	cfg         *config.Config
	now         func() time.Time
}

func NewVerificationService(sessions store.SessionStore, limits store.RateLimitStore, guilds GuildPolicySource, suppression SuppressionChecker, email CodeSender, cfg *config.Config) *VerificationService {
	return &VerificationService{
		sessions:    sessions,
		limits:      limits,
		guilds:      guilds,
		suppression: suppression,
		email:       email,
		storeRetry:  retry.NewPolicy(cfg.RetryAttempts, cfg.RetryBaseDelay, cfg.HTTPTimeout),
		cfg:         cfg,
		now:         time.Now,
	}
}

// SetClock overrides the clock, for tests
func (s *VerificationService) SetClock(now func() time.Time) {
	s.now = now
}

// Initiate starts a verification attempt for the (user, guild)
// identity, overwriting any pending session for it. The rate limiter
// runs first and fails closed: a store error during the check is a
// throttle, never an admission.
func (s *VerificationService) Initiate(ctx context.Context, userID, guildID, email string) (*InitiateResult, error) {
	// Guild-scoped cooldown, then the global cooldown spanning all
	// guilds for the user. Both are checked-and-recorded atomically so
	// repeating the flow across many guilds cannot bypass the limit.
	remaining, err := s.limits.ReserveAttempt(ctx, store.GuildRateKey(userID, guildID), s.cfg.GuildCooldown)
	if err != nil {
		log.Printf("WARN: rate limit check failed for user %s guild %s: %v", userID, guildID, err)
		return &InitiateResult{Status: InitiateThrottled, RetryAfter: s.cfg.GuildCooldown}, nil
	}
	if remaining > 0 {
		return &InitiateResult{Status: InitiateThrottled, RetryAfter: remaining}, nil
	}

	remaining, err = s.limits.ReserveAttempt(ctx, store.GlobalRateKey(userID), s.cfg.GlobalCooldown)
	if err != nil {
		log.Printf("WARN: global rate limit check failed for user %s: %v", userID, err)
		return &InitiateResult{Status: InitiateThrottled, RetryAfter: s.cfg.GlobalCooldown}, nil
	}
	if remaining > 0 {
		return &InitiateResult{Status: InitiateThrottled, RetryAfter: remaining}, nil
	}

	policy, err := s.guilds.SnapshotPolicy(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("%w: load guild policy: %v", ErrTransient, err)
	}
	if policy == nil || !policy.Enabled {
		return &InitiateResult{Status: InitiateRejected, Reason: ReasonGuildNotConfigured}, nil
	}

	if !validation.ValidateEmail(email) {
		return &InitiateResult{Status: InitiateRejected, Reason: ReasonInvalidEmail}, nil
	}
	if !validation.DomainAllowed(email, policy.AllowedDomains) {
		return &InitiateResult{Status: InitiateRejected, Reason: ReasonDomainNotAllowed}, nil
	}

	suppressed, err := s.suppression.IsSuppressed(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: suppression check: %v", ErrTransient, err)
	}
	if suppressed {
		return &InitiateResult{Status: InitiateRejected, Reason: ReasonAddressSuppressed}, nil
	}

	code, err := verifycode.Generate(policy.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	now := s.now().UTC()
	session := store.Session{
		UserID:      userID,
		GuildID:     guildID,
		Email:       email,
		CodeDigest:  code.Digest(),
		RoleID:      policy.RoleID,
		ChannelID:   policy.ChannelID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(policy.SessionTTL),
		MaxAttempts: policy.MaxAttempts,
	}

	err = s.storeRetry.Do(ctx, "put session", func(ctx context.Context) error {
		return s.sessions.PutSession(ctx, session, policy.SessionTTL)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if err := s.email.SendVerificationCode(ctx, email, code, policy.GuildName); err != nil {
		// Roll back so the unreachable code cannot linger as a pending
		// session; the user is told to retry later
		if _, derr := s.sessions.DeleteSession(ctx, userID, guildID); derr != nil {
			log.Printf("ERROR: session rollback failed for user %s guild %s: %v", userID, guildID, derr)
		}
		return nil, fmt.Errorf("%w: send code: %v", ErrTransient, err)
	}

	return &InitiateResult{Status: InitiateSent, ExpiresAt: session.ExpiresAt}, nil
}

// Submit validates a submitted code against the pending session.
// Absent or expired sessions consume no attempt. The wrong-code path
// goes through the store's atomic increment, so of two racing
// submissions exactly one observes the count that crosses the lockout
// threshold, and the conditional delete guarantees at most one
// Verified per session.
func (s *VerificationService) Submit(ctx context.Context, userID, guildID, submitted string) (*SubmitResult, error) {
	session, err := s.sessions.GetSession(ctx, userID, guildID)
	if errors.Is(err, store.ErrNotFound) {
		return &SubmitResult{Status: SubmitNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if s.now().After(session.ExpiresAt) {
		// TTL would reclaim it anyway; deleting now makes the follow-up
		// SessionNotFound deterministic
		if _, derr := s.sessions.DeleteSession(ctx, userID, guildID); derr != nil {
			log.Printf("WARN: expired session cleanup failed for user %s guild %s: %v", userID, guildID, derr)
		}
		return &SubmitResult{Status: SubmitExpired}, nil
	}

	if verifycode.FromInput(submitted).MatchesDigest(session.CodeDigest) {
		deleted, err := s.sessions.DeleteSession(ctx, userID, guildID)
		if err != nil {
			return nil, fmt.Errorf("%w: consume session: %v", ErrTransient, err)
		}
		if !deleted {
			// A concurrent submission consumed it first
			return &SubmitResult{Status: SubmitNotFound}, nil
		}
		return &SubmitResult{
			Status:    SubmitVerified,
			Email:     session.Email,
			RoleID:    session.RoleID,
			ChannelID: session.ChannelID,
		}, nil
	}

	count, err := s.sessions.IncrementAttempts(ctx, userID, guildID)
	if errors.Is(err, store.ErrNotFound) {
		return &SubmitResult{Status: SubmitNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if count >= session.MaxAttempts {
		if _, derr := s.sessions.DeleteSession(ctx, userID, guildID); derr != nil {
			log.Printf("ERROR: locked session cleanup failed for user %s guild %s: %v", userID, guildID, derr)
		}
		return &SubmitResult{Status: SubmitLocked}, nil
	}

	return &SubmitResult{Status: SubmitWrongCode, AttemptsRemaining: session.MaxAttempts - count}, nil
}

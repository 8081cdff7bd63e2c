package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/guildgate/backend/internal/config"
	"github.com/guildgate/backend/internal/store"
	"github.com/guildgate/backend/internal/verifycode"
)

// ---- fakes ----

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
	getErr   error
	putErr   error
	incErr   error
	delErr   error
	puts     int
	gets     int
	deletes  int
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*store.Session)}
}

func memKey(userID, guildID string) string { return guildID + "|" + userID }

func (m *memSessions) PutSession(ctx context.Context, s store.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	copy := s
	m.sessions[memKey(s.UserID, s.GuildID)] = &copy
	return nil
}

func (m *memSessions) GetSession(ctx context.Context, userID, guildID string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.sessions[memKey(userID, guildID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copy := *s
	return &copy, nil
}

func (m *memSessions) IncrementAttempts(ctx context.Context, userID, guildID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incErr != nil {
		return 0, m.incErr
	}
	s, ok := m.sessions[memKey(userID, guildID)]
	if !ok {
		return 0, store.ErrNotFound
	}
	s.AttemptCount++
	return s.AttemptCount, nil
}

func (m *memSessions) DeleteSession(ctx context.Context, userID, guildID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.delErr != nil {
		return false, m.delErr
	}
	if _, ok := m.sessions[memKey(userID, guildID)]; !ok {
		return false, nil
	}
	delete(m.sessions, memKey(userID, guildID))
	return true, nil
}

func (m *memSessions) live(userID, guildID string) *store.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[memKey(userID, guildID)]
}

type memLimiter struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[string]time.Time
	err  error
}

func newMemLimiter(now func() time.Time) *memLimiter {
	return &memLimiter{now: now, last: make(map[string]time.Time)}
}

func (m *memLimiter) ReserveAttempt(ctx context.Context, key string, cooldown time.Duration) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if last, ok := m.last[key]; ok {
		elapsed := m.now().Sub(last)
		if elapsed < cooldown {
			return cooldown - elapsed, nil
		}
	}
	m.last[key] = m.now()
	return 0, nil
}

type fakeGuilds struct {
	policy *GuildPolicy
	err    error
}

func (f *fakeGuilds) SnapshotPolicy(ctx context.Context, guildID string) (*GuildPolicy, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.policy, nil
}

type fakeSuppression struct {
	addresses map[string]bool
	err       error
}

func (f *fakeSuppression) IsSuppressed(ctx context.Context, address string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.addresses[address], nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string // clear codes, in send order
	to    []string
	err   error
}

func (f *fakeSender) SendVerificationCode(ctx context.Context, to string, code verifycode.Code, guildName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, code.Reveal())
	f.to = append(f.to, to)
	return nil
}

func (f *fakeSender) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no code was sent")
	}
	return f.sent[len(f.sent)-1]
}

// ---- harness ----

type harness struct {
	svc      *VerificationService
	sessions *memSessions
	limiter  *memLimiter
	guilds   *fakeGuilds
	supp     *fakeSuppression
	sender   *fakeSender
	now      time.Time
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := &config.Config{
		GuildCooldown:  60 * time.Second,
		GlobalCooldown: 300 * time.Second,
		RetryAttempts:  1,
		HTTPTimeout:    time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		sessions: newMemSessions(),
		guilds: &fakeGuilds{policy: &GuildPolicy{
			GuildID:        "g1",
			GuildName:      "Test Guild",
			AllowedDomains: []string{"example.edu"},
			RoleID:         "role-1",
			ChannelID:      "chan-1",
			CodeLength:     6,
			SessionTTL:     15 * time.Minute,
			MaxAttempts:    3,
			Enabled:        true,
		}},
		supp:   &fakeSuppression{addresses: map[string]bool{}},
		sender: &fakeSender{},
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.limiter = newMemLimiter(func() time.Time { return h.now })
	h.svc = NewVerificationService(h.sessions, h.limiter, h.guilds, h.supp, h.sender, cfg)
	h.svc.SetClock(func() time.Time { return h.now })
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) initiate(t *testing.T, userID, guildID, email string) *InitiateResult {
	t.Helper()
	res, err := h.svc.Initiate(context.Background(), userID, guildID, email)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return res
}

func (h *harness) submit(t *testing.T, userID, guildID, code string) *SubmitResult {
	t.Helper()
	res, err := h.svc.Submit(context.Background(), userID, guildID, code)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return res
}

// ---- initiate ----

func TestInitiateSendsCodeAndStoresSession(t *testing.T) {
	h := newHarness(t, nil)

	res := h.initiate(t, "u1", "g1", "student@example.edu")
	if res.Status != InitiateSent {
		t.Fatalf("expected InitiateSent, got %v", res.Status)
	}
	if want := h.now.Add(15 * time.Minute); !res.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, res.ExpiresAt)
	}

	s := h.sessions.live("u1", "g1")
	if s == nil {
		t.Fatal("expected a stored session")
	}
	if s.AttemptCount != 0 || s.MaxAttempts != 3 {
		t.Fatalf("unexpected attempt bookkeeping: %+v", s)
	}
	code := h.sender.lastCode(t)
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
	if s.CodeDigest == code {
		t.Fatal("session must store a digest, not the clear code")
	}
	if !verifycode.FromInput(code).MatchesDigest(s.CodeDigest) {
		t.Fatal("stored digest does not match the sent code")
	}
}

func TestInitiatePolicyRejections(t *testing.T) {
	cases := []struct {
		name   string
		email  string
		mutate func(*harness)
		reason string
	}{
		{"invalid email", "not-an-email", nil, ReasonInvalidEmail},
		{"wrong domain", "student@elsewhere.com", nil, ReasonDomainNotAllowed},
		{"suppressed", "bounced@example.edu", func(h *harness) {
			h.supp.addresses["bounced@example.edu"] = true
		}, ReasonAddressSuppressed},
		{"guild disabled", "student@example.edu", func(h *harness) {
			h.guilds.policy.Enabled = false
		}, ReasonGuildNotConfigured},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if tc.mutate != nil {
				tc.mutate(h)
			}
			res := h.initiate(t, "u1", "g1", tc.email)
			if res.Status != InitiateRejected || res.Reason != tc.reason {
				t.Fatalf("expected rejection %q, got status %v reason %q", tc.reason, res.Status, res.Reason)
			}
			if h.sessions.live("u1", "g1") != nil {
				t.Fatal("rejection must not leave a session behind")
			}
			if len(h.sender.sent) != 0 {
				t.Fatal("rejection must not send mail")
			}
		})
	}
}

func TestInitiateSubdomainAllowed(t *testing.T) {
	h := newHarness(t, nil)
	res := h.initiate(t, "u1", "g1", "student@cs.example.edu")
	if res.Status != InitiateSent {
		t.Fatalf("expected subdomain to be allowed, got %v (%s)", res.Status, res.Reason)
	}
}

func TestInitiateEmailSendFailureRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.sender.err = errors.New("smtp unavailable")

	_, err := h.svc.Initiate(context.Background(), "u1", "g1", "student@example.edu")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if h.sessions.live("u1", "g1") != nil {
		t.Fatal("failed send must roll the session back")
	}
}

func TestInitiateOverwritesPendingSession(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.GuildCooldown = time.Second
		c.GlobalCooldown = time.Second
	})

	h.initiate(t, "u1", "g1", "student@example.edu")
	firstCode := h.sender.lastCode(t)

	h.advance(2 * time.Second)
	h.initiate(t, "u1", "g1", "student@example.edu")
	secondCode := h.sender.lastCode(t)

	// The superseded code is dead even if it differs from the new one
	if firstCode != secondCode {
		if res := h.submit(t, "u1", "g1", firstCode); res.Status == SubmitVerified {
			t.Fatal("stale code from an overwritten session must not verify")
		}
	}
	// Re-fetch: the wrong-code attempt above may have consumed the session
	// when codes collide; start clean for the positive check
	if h.sessions.live("u1", "g1") != nil {
		if res := h.submit(t, "u1", "g1", secondCode); res.Status != SubmitVerified {
			t.Fatalf("expected current code to verify, got %v", res.Status)
		}
	}
}

// ---- rate limiting ----

func TestRateLimitBoundary(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.GuildCooldown = 60 * time.Second
		c.GlobalCooldown = 60 * time.Second
	})

	if res := h.initiate(t, "u1", "g1", "student@example.edu"); res.Status != InitiateSent {
		t.Fatalf("first initiation should be admitted, got %v", res.Status)
	}

	h.advance(59 * time.Second)
	res := h.initiate(t, "u1", "g1", "student@example.edu")
	if res.Status != InitiateThrottled {
		t.Fatalf("expected throttle inside cooldown, got %v", res.Status)
	}
	if res.RetryAfter <= 0 || res.RetryAfter > 60*time.Second {
		t.Fatalf("unexpected retry-after: %v", res.RetryAfter)
	}

	h.advance(2 * time.Second) // t0 + 61s
	if res := h.initiate(t, "u1", "g1", "student@example.edu"); res.Status != InitiateSent {
		t.Fatalf("expected admission after cooldown, got %v", res.Status)
	}
}

func TestGlobalCooldownDominatesAcrossGuilds(t *testing.T) {
	h := newHarness(t, nil) // guild 60s, global 300s

	if res := h.initiate(t, "u1", "g1", "student@example.edu"); res.Status != InitiateSent {
		t.Fatalf("first initiation should be admitted, got %v", res.Status)
	}

	// Outside the per-guild window, inside the global one, other guild
	h.advance(120 * time.Second)
	res := h.initiate(t, "u1", "g2", "student@example.edu")
	if res.Status != InitiateThrottled {
		t.Fatalf("expected global throttle across guilds, got %v", res.Status)
	}
}

func TestRateLimiterFailsClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.limiter.err = errors.New("redis: connection refused")

	res := h.initiate(t, "u1", "g1", "student@example.edu")
	if res.Status != InitiateThrottled {
		t.Fatalf("store failure must read as throttled, got %v", res.Status)
	}
	if len(h.sender.sent) != 0 {
		t.Fatal("no mail may be sent while the limiter cannot be consulted")
	}
}

func TestThrottleDoesNotTouchSessionState(t *testing.T) {
	h := newHarness(t, nil)
	h.initiate(t, "u1", "g1", "student@example.edu")
	before := *h.sessions.live("u1", "g1")

	h.advance(10 * time.Second)
	res := h.initiate(t, "u1", "g1", "student@example.edu")
	if res.Status != InitiateThrottled {
		t.Fatalf("expected throttle, got %v", res.Status)
	}
	after := h.sessions.live("u1", "g1")
	if after == nil || *after != before {
		t.Fatal("throttled initiation must not mutate the pending session")
	}
}

// ---- submit ----

func TestSubmitCorrectCodeIsIdempotentConsume(t *testing.T) {
	h := newHarness(t, nil)
	h.initiate(t, "u1", "g1", "student@example.edu")
	code := h.sender.lastCode(t)

	res := h.submit(t, "u1", "g1", code)
	if res.Status != SubmitVerified {
		t.Fatalf("expected Verified, got %v", res.Status)
	}
	if res.RoleID != "role-1" || res.ChannelID != "chan-1" || res.Email != "student@example.edu" {
		t.Fatalf("grant targets missing from result: %+v", res)
	}
	if h.sessions.live("u1", "g1") != nil {
		t.Fatal("verified session must be deleted")
	}

	// Same correct code again: session gone, never a second Verified
	res = h.submit(t, "u1", "g1", code)
	if res.Status != SubmitNotFound {
		t.Fatalf("expected SessionNotFound on replay, got %v", res.Status)
	}
}

func TestSubmitWrongCodeLockout(t *testing.T) {
	h := newHarness(t, nil)
	h.initiate(t, "u1", "g1", "student@example.edu")
	code := h.sender.lastCode(t)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	res := h.submit(t, "u1", "g1", wrong)
	if res.Status != SubmitWrongCode || res.AttemptsRemaining != 2 {
		t.Fatalf("attempt 1: got %v remaining %d", res.Status, res.AttemptsRemaining)
	}
	if got := h.sessions.live("u1", "g1").AttemptCount; got != 1 {
		t.Fatalf("attempt_count after 1 wrong submission = %d", got)
	}

	res = h.submit(t, "u1", "g1", wrong)
	if res.Status != SubmitWrongCode || res.AttemptsRemaining != 1 {
		t.Fatalf("attempt 2: got %v remaining %d", res.Status, res.AttemptsRemaining)
	}

	res = h.submit(t, "u1", "g1", wrong)
	if res.Status != SubmitLocked {
		t.Fatalf("attempt 3: expected Locked, got %v", res.Status)
	}
	if h.sessions.live("u1", "g1") != nil {
		t.Fatal("locked session must be deleted")
	}

	// Locked is terminal: the correct code is dead too
	res = h.submit(t, "u1", "g1", code)
	if res.Status != SubmitNotFound {
		t.Fatalf("attempt 4: expected SessionNotFound, got %v", res.Status)
	}
}

func TestSubmitExpiredConsumesNoAttempt(t *testing.T) {
	h := newHarness(t, nil)
	h.initiate(t, "u1", "g1", "student@example.edu")
	code := h.sender.lastCode(t)

	h.advance(16 * time.Minute)
	res := h.submit(t, "u1", "g1", code)
	if res.Status != SubmitExpired {
		t.Fatalf("expected Expired, got %v", res.Status)
	}
	if h.sessions.live("u1", "g1") != nil {
		t.Fatal("expired session should be cleaned up")
	}
}

func TestSubmitWithoutSession(t *testing.T) {
	h := newHarness(t, nil)
	res := h.submit(t, "u1", "g1", "123456")
	if res.Status != SubmitNotFound {
		t.Fatalf("expected SessionNotFound, got %v", res.Status)
	}
}

func TestSubmitStoreFailureIsTransient(t *testing.T) {
	h := newHarness(t, nil)
	h.initiate(t, "u1", "g1", "student@example.edu")
	h.sessions.getErr = errors.New("redis: connection refused")

	_, err := h.svc.Submit(context.Background(), "u1", "g1", "123456")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestSubmitConsumeRaceYieldsSingleVerified(t *testing.T) {
	h := newHarness(t, nil)
	h.initiate(t, "u1", "g1", "student@example.edu")
	code := h.sender.lastCode(t)

	// First consume wins; a second caller that read the session before
	// the delete still cannot produce a second Verified
	first := h.submit(t, "u1", "g1", code)
	second := h.submit(t, "u1", "g1", code)

	verified := 0
	for _, r := range []*SubmitResult{first, second} {
		if r.Status == SubmitVerified {
			verified++
		}
	}
	if verified != 1 {
		t.Fatalf("expected exactly one Verified, got %d", verified)
	}
}

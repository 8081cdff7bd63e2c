package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript increments attempt_count only if the session still
// exists, so the existence check and the increment are one round trip.
// Two concurrent submissions for the same identity each observe a
// distinct authoritative post-increment count.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempt_count', 1)
`)

// reserveScript enforces a cooldown against the stored last-attempt
// timestamp and records the new attempt in the same script. The record
// TTL only reclaims abandoned keys; the cooldown itself is enforced by
// the timestamp comparison.
var reserveScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
if last then
  local elapsed = now - tonumber(last)
  if elapsed < cooldown then
    return cooldown - elapsed
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[3])
return 0
`)

// RedisStore implements SessionStore and RateLimitStore on Redis,
// relying on native key expiry for abandoned sessions
type RedisStore struct {
	client    *redis.Client
	recordTTL time.Duration
}

func NewRedisStore(client *redis.Client, recordTTL time.Duration) *RedisStore {
	if recordTTL <= 0 {
		recordTTL = 24 * time.Hour
	}
	return &RedisStore{client: client, recordTTL: recordTTL}
}

func sessionKey(userID, guildID string) string {
	return "verify:session:" + guildID + ":" + userID
}

func (r *RedisStore) PutSession(ctx context.Context, s Session, ttl time.Duration) error {
	key := sessionKey(s.UserID, s.GuildID)

	// DEL first so fields from a superseded session cannot survive
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"email":         s.Email,
		"code_digest":   s.CodeDigest,
		"role_id":       s.RoleID,
		"channel_id":    s.ChannelID,
		"created_at":    s.CreatedAt.Unix(),
		"expires_at":    s.ExpiresAt.Unix(),
		"attempt_count": s.AttemptCount,
		"max_attempts":  s.MaxAttempts,
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (r *RedisStore) GetSession(ctx context.Context, userID, guildID string) (*Session, error) {
	fields, err := r.client.HGetAll(ctx, sessionKey(userID, guildID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	expiresAt, _ := strconv.ParseInt(fields["expires_at"], 10, 64)
	attempts, _ := strconv.Atoi(fields["attempt_count"])
	maxAttempts, _ := strconv.Atoi(fields["max_attempts"])

	return &Session{
		UserID:       userID,
		GuildID:      guildID,
		Email:        fields["email"],
		CodeDigest:   fields["code_digest"],
		RoleID:       fields["role_id"],
		ChannelID:    fields["channel_id"],
		CreatedAt:    time.Unix(createdAt, 0).UTC(),
		ExpiresAt:    time.Unix(expiresAt, 0).UTC(),
		AttemptCount: attempts,
		MaxAttempts:  maxAttempts,
	}, nil
}

func (r *RedisStore) IncrementAttempts(ctx context.Context, userID, guildID string) (int, error) {
	n, err := incrementScript.Run(ctx, r.client, []string{sessionKey(userID, guildID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	if n < 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, userID, guildID string) (bool, error) {
	n, err := r.client.Del(ctx, sessionKey(userID, guildID)).Result()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) ReserveAttempt(ctx context.Context, key string, cooldown time.Duration) (time.Duration, error) {
	remaining, err := reserveScript.Run(ctx, r.client, []string{key},
		time.Now().Unix(),
		int(cooldown.Seconds()),
		int(r.recordTTL.Seconds()),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve attempt: %w", err)
	}
	return time.Duration(remaining) * time.Second, nil
}

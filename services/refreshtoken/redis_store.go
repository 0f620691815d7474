package refreshtoken

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scriptStatusOK       int64 = 0
	scriptStatusConflict int64 = 1
	scriptStatusRevoked  int64 = 2
	scriptStatusMissing  int64 = 3
)

// Token rows are hashes under <prefix>:rt:<secret hash>; each user has a set
// of their secret hashes under <prefix>:user:<id>.
const createTokenBody = `
local function create(key, user_key, seq_key, hash, user_id, issued, ttl, has_ip, ip, has_ua, ua)
  if redis.call("EXISTS", key) == 1 then
    return nil
  end
  local id = redis.call("INCR", seq_key)
  redis.call("HSET", key, "id", id, "user_id", user_id, "issued", issued)
  if has_ip == "1" then
    redis.call("HSET", key, "ip", ip)
  end
  if has_ua == "1" then
    redis.call("HSET", key, "ua", ua)
  end
  redis.call("PEXPIRE", key, ttl)
  redis.call("SADD", user_key, hash)
  redis.call("PEXPIRE", user_key, ttl)
  return id
end
`

var createTokenLua = redis.NewScript(createTokenBody + `
local id = create(KEYS[1], KEYS[2], KEYS[3], ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6], ARGV[7], ARGV[8])
if not id then
  return {1}
end
return {0, id}
`)

var rotateTokenLua = redis.NewScript(createTokenBody + `
local old_key = KEYS[1]
if redis.call("EXISTS", old_key) == 0 or redis.call("HEXISTS", old_key, "revoked") == 1 then
  return {2}
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return {1}
end
redis.call("HSET", old_key, "revoked", ARGV[9])
redis.call("PEXPIRE", old_key, ARGV[10])
local id = create(KEYS[2], KEYS[3], KEYS[4], ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6], ARGV[7], ARGV[8])
return {0, id}
`)

var revokeTokenLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {3}
end
if redis.call("HEXISTS", KEYS[1], "revoked") == 0 then
  redis.call("HSET", KEYS[1], "revoked", ARGV[1])
  local revoked = redis.call("HGET", KEYS[1], "revoked")
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return {0, revoked}
end
return {0, redis.call("HGET", KEYS[1], "revoked")}
`)

var revokeAllExceptLua = redis.NewScript(`
local revoked = 0
local hashes = redis.call("SMEMBERS", KEYS[1])
for _, hash in ipairs(hashes) do
  local key = ARGV[1] .. hash
  if redis.call("EXISTS", key) == 0 then
    redis.call("SREM", KEYS[1], hash)
  elseif hash ~= ARGV[2] and redis.call("HEXISTS", key, "revoked") == 0 then
    redis.call("HSET", key, "revoked", ARGV[3])
    redis.call("PEXPIRE", key, ARGV[4])
    revoked = revoked + 1
  end
end
return {0, revoked}
`)

// RedisStore keeps refresh tokens in Redis. Every mutation runs as a Lua
// script, so rotation is atomic with respect to all other clients. A token
// key lives for lifetime plus retention after creation and for retention
// after revocation, which replaces Purge.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	lifetime  time.Duration
	retention time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, lifetime, retention time.Duration) *RedisStore {
	return &RedisStore{redis: client, prefix: prefix, lifetime: lifetime, retention: retention}
}

// liveTTL is how long a freshly written token key is kept.
func (s *RedisStore) liveTTL() int64 {
	return (s.lifetime + s.retention).Milliseconds()
}

// revokedTTL is how long a revoked token key is kept. PEXPIRE 0 deletes
// the key at once, which is what a zero retention asks for.
func (s *RedisStore) revokedTTL() int64 {
	return max(s.retention, 0).Milliseconds()
}

func (s *RedisStore) tokenPrefix() string {
	return s.prefix + ":rt:"
}

func (s *RedisStore) tokenKey(hash string) string {
	return s.tokenPrefix() + hash
}

func (s *RedisStore) userKey(userID uint) string {
	return s.prefix + ":user:" + strconv.FormatUint(uint64(userID), 10)
}

func (s *RedisStore) seqKey() string {
	return s.prefix + ":rt:seq"
}

func (s *RedisStore) createArgs(token *RefreshToken) []any {
	hasIP, ip := optional(token.IP)
	hasUA, ua := optional(token.UserAgent)
	return []any{
		token.SecretHash,
		token.UserID,
		token.IssuedAt.UnixNano(),
		s.liveTTL(),
		hasIP, ip,
		hasUA, ua,
	}
}

func (s *RedisStore) Create(ctx context.Context, token *RefreshToken) error {
	result, err := createTokenLua.Run(ctx, s.redis,
		[]string{s.tokenKey(token.SecretHash), s.userKey(token.UserID), s.seqKey()},
		s.createArgs(token)...,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	code, value, err := parseScriptResult(result)
	if err != nil {
		return err
	}
	if code == scriptStatusConflict {
		return ErrSecretConflict
	}

	token.ID, err = parseID(value)
	return err
}

func (s *RedisStore) FindActiveBySecret(ctx context.Context, secret string) (*RefreshToken, error) {
	hash := HashSecret(secret)

	fields, err := s.redis.HGetAll(ctx, s.tokenKey(hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrTokenNotFound
	}
	if _, revoked := fields["revoked"]; revoked {
		return nil, ErrTokenNotFound
	}

	return decodeToken(hash, fields)
}

func (s *RedisStore) Revoke(ctx context.Context, token *RefreshToken, at time.Time) error {
	result, err := revokeTokenLua.Run(ctx, s.redis,
		[]string{s.tokenKey(token.SecretHash)},
		at.UnixNano(), s.revokedTTL(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	code, value, err := parseScriptResult(result)
	if err != nil {
		return err
	}
	if code == scriptStatusMissing {
		return ErrTokenNotFound
	}

	revokedAt, err := parseTime(value)
	if err != nil {
		return err
	}
	token.RevokedAt = &revokedAt
	return nil
}

func (s *RedisStore) Rotate(ctx context.Context, old, next *RefreshToken, at time.Time) error {
	args := append(s.createArgs(next), at.UnixNano(), s.revokedTTL())
	result, err := rotateTokenLua.Run(ctx, s.redis,
		[]string{s.tokenKey(old.SecretHash), s.tokenKey(next.SecretHash), s.userKey(next.UserID), s.seqKey()},
		args...,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	code, value, err := parseScriptResult(result)
	if err != nil {
		return err
	}
	switch code {
	case scriptStatusRevoked:
		return ErrTokenRevoked
	case scriptStatusConflict:
		return ErrSecretConflict
	}

	next.ID, err = parseID(value)
	if err != nil {
		return err
	}
	old.RevokedAt = &at
	return nil
}

func (s *RedisStore) RevokeAllExcept(ctx context.Context, userID uint, exceptSecret string, at time.Time) (int64, error) {
	exceptHash := ""
	if exceptSecret != "" {
		exceptHash = HashSecret(exceptSecret)
	}

	result, err := revokeAllExceptLua.Run(ctx, s.redis,
		[]string{s.userKey(userID)},
		s.tokenPrefix(), exceptHash, at.UnixNano(), s.revokedTTL(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, value, err := parseScriptResult(result)
	if err != nil {
		return 0, err
	}
	count, ok := value.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid revoke count", ErrStoreUnavailable)
	}
	return count, nil
}

// Purge is a no-op: Redis drops token keys once their TTL elapses.
func (s *RedisStore) Purge(context.Context, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func optional(v *string) (string, string) {
	if v == nil {
		return "0", ""
	}
	return "1", *v
}

func parseScriptResult(result any) (int64, any, error) {
	parts, ok := result.([]any)
	if !ok || len(parts) == 0 {
		return 0, nil, fmt.Errorf("%w: invalid script response", ErrStoreUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("%w: invalid script status", ErrStoreUnavailable)
	}

	var value any
	if len(parts) > 1 {
		value = parts[1]
	}
	return code, value, nil
}

func parseID(value any) (uint, error) {
	id, ok := value.(int64)
	if !ok || id <= 0 {
		return 0, fmt.Errorf("%w: invalid token id", ErrStoreUnavailable)
	}
	return uint(id), nil
}

func parseTime(value any) (time.Time, error) {
	raw, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp", ErrStoreUnavailable)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp: %v", ErrStoreUnavailable, err)
	}
	return time.Unix(0, nanos), nil
}

func decodeToken(hash string, fields map[string]string) (*RefreshToken, error) {
	id, err := strconv.ParseUint(fields["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt token id: %v", ErrStoreUnavailable, err)
	}
	userID, err := strconv.ParseUint(fields["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt user id: %v", ErrStoreUnavailable, err)
	}
	issued, err := parseTime(fields["issued"])
	if err != nil {
		return nil, err
	}

	token := &RefreshToken{
		ID:         uint(id),
		UserID:     uint(userID),
		SecretHash: hash,
		IssuedAt:   issued,
	}
	if ip, ok := fields["ip"]; ok {
		token.IP = &ip
	}
	if ua, ok := fields["ua"]; ok {
		token.UserAgent = &ua
	}
	if raw, ok := fields["revoked"]; ok {
		revokedAt, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		token.RevokedAt = &revokedAt
	}

	return token, nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*GormStore)(nil)
)

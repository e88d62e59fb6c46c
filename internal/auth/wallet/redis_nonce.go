package wallet

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisNonceStore keeps nonces in Redis so that login can be served by any
// replica. State lives in a hash per public key; consumption runs as a Lua
// script, making the check-and-mark a single atomic Redis operation.
type RedisNonceStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisNonceStore creates a Redis-backed nonce store.
func NewRedisNonceStore(client *redis.Client, keyPrefix string) *RedisNonceStore {
	if keyPrefix == "" {
		keyPrefix = "auth:nonce:"
	}
	return &RedisNonceStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisNonceStore) key(pubkey string) string {
	return s.keyPrefix + pubkey
}

// nonceCheckScript validates the presented nonce against the stored hash.
// ARGV[1] = presented value, ARGV[2] = now (unix seconds),
// ARGV[3] = "1" to consume on success.
var nonceCheckScript = redis.NewScript(`
local vals = redis.call('HMGET', KEYS[1], 'value', 'expires_at', 'consumed')
if not vals[1] then
  return 'unknown'
end
if vals[1] ~= ARGV[1] then
  return 'unknown'
end
if vals[3] == '1' then
  return 'consumed'
end
if tonumber(vals[2]) < tonumber(ARGV[2]) then
  return 'expired'
end
if ARGV[3] == '1' then
  redis.call('HSET', KEYS[1], 'consumed', '1')
end
return 'ok'
`)

// Issue implements NonceStore.
func (s *RedisNonceStore) Issue(ctx context.Context, pubkey string, ttl time.Duration) (*Nonce, error) {
	value, err := newNonceValue()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	nonce := &Nonce{
		ID:          uuid.New().String(),
		OwnerPubKey: pubkey,
		Value:       value,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}

	key := s.key(pubkey)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"value", value,
		"expires_at", strconv.FormatInt(nonce.ExpiresAt.Unix(), 10),
		"consumed", "0",
	)
	// Keep the record past expiry so late logins see a precise error.
	pipe.Expire(ctx, key, ttl+expiredGrace)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store nonce: %w", err)
	}

	return nonce, nil
}

// Peek implements NonceStore.
func (s *RedisNonceStore) Peek(ctx context.Context, pubkey, value string) error {
	return s.run(ctx, pubkey, value, false)
}

// Consume implements NonceStore.
func (s *RedisNonceStore) Consume(ctx context.Context, pubkey, value string) error {
	return s.run(ctx, pubkey, value, true)
}

func (s *RedisNonceStore) run(ctx context.Context, pubkey, value string, consume bool) error {
	consumeArg := "0"
	if consume {
		consumeArg = "1"
	}

	result, err := nonceCheckScript.Run(ctx, s.client,
		[]string{s.key(pubkey)},
		value, strconv.FormatInt(time.Now().Unix(), 10), consumeArg,
	).Text()
	if err != nil {
		return fmt.Errorf("nonce check: %w", err)
	}

	switch result {
	case "ok":
		return nil
	case "consumed":
		return ErrNonceConsumed
	case "expired":
		return ErrNonceExpired
	default:
		return ErrUnknownNonce
	}
}

// Close implements NonceStore. The Redis client is shared; it is not closed here.
func (s *RedisNonceStore) Close() error {
	return nil
}

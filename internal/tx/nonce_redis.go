package tx

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	xerrors "lestnet-sdk/internal/errors"
)

// reserveScript advances the cursor to max(cursor, pending) + count and
// returns the first reserved nonce.
var reserveScript = redis.NewScript(`
local pending = tonumber(ARGV[1])
local count = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local start = pending
local cursor = redis.call('GET', KEYS[1])
if cursor then
  cursor = tonumber(cursor)
  if cursor > start then
    start = cursor
  end
end
if ttl > 0 then
  redis.call('SET', KEYS[1], start + count, 'PX', ttl)
else
  redis.call('SET', KEYS[1], start + count)
end
return start
`)

// RedisNonces shares nonce cursors between processes through Redis.
type RedisNonces struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisNonceOption configures RedisNonces.
type RedisNonceOption func(*RedisNonces)

// WithKeyPrefix changes the key namespace.
func WithKeyPrefix(prefix string) RedisNonceOption {
	return func(r *RedisNonces) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithCursorTTL expires idle cursors so they resync with the node.
func WithCursorTTL(ttl time.Duration) RedisNonceOption {
	return func(r *RedisNonces) { r.ttl = ttl }
}

// NewRedisNonces builds a nonce source over client.
func NewRedisNonces(client redis.UniversalClient, opts ...RedisNonceOption) *RedisNonces {
	r := &RedisNonces{client: client, prefix: "lestnet:nonce"}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *RedisNonces) key(account common.Address) string {
	return r.prefix + ":" + strings.ToLower(account.Hex())
}

// Reserve implements NonceSource.
func (r *RedisNonces) Reserve(ctx context.Context, reader NonceReader, account common.Address, count int) (uint64, error) {
	if count < 1 {
		count = 1
	}
	pending, err := reader.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, err
	}
	start, err := reserveScript.Run(ctx, r.client, []string{r.key(account)},
		pending, count, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "reserve nonce")
	}
	return uint64(start), nil
}

// Reset implements NonceSource.
func (r *RedisNonces) Reset(ctx context.Context, account common.Address) error {
	if err := r.client.Del(ctx, r.key(account)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "reset nonce cursor")
	}
	return nil
}

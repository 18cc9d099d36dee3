package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a short-lived advisory lock backed by SET NX. It serializes the
// finalize-and-merge step of concurrent audits for the same owner and domain;
// it is an optimization against double-insertion, not a correctness
// requirement, so callers may proceed when acquisition fails.
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLock builds a lock for the given key. A nil client yields a no-op lock
// so callers need not branch on redis availability.
func (c *Client) NewLock(key string, ttl time.Duration) *Lock {
	if c == nil {
		return nil
	}
	return &Lock{
		client: c,
		key:    "lock:" + key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire polls for the lock until acquired, the context ends, or maxWait
// elapses. Returns false when the lock was not obtained.
func (l *Lock) Acquire(ctx context.Context, maxWait time.Duration) bool {
	if l == nil {
		return true
	}
	deadline := time.Now().Add(maxWait)
	for {
		ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
		if err == nil && ok {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// releaseScript deletes the key only when this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// Release frees the lock if still held by this instance.
func (l *Lock) Release(ctx context.Context) {
	if l == nil {
		return
	}
	_ = releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

package streaming

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const leasePrefix = "lessonweave:lease:"

// Owner-checked release and refresh; a plain DEL could drop a lease that
// expired and was taken by another owner.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLease implements Lease with SET NX PX.
type RedisLease struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLease(client redis.UniversalClient) *RedisLease {
	return &RedisLease{client: client, prefix: leasePrefix}
}

func (r *RedisLease) key(k Key) string {
	return r.prefix + k.String()
}

func (r *RedisLease) Acquire(ctx context.Context, key Key, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if ok {
		return true, nil
	}
	// Re-acquire by the same owner extends the hold.
	return r.Refresh(ctx, key, owner, ttl)
}

func (r *RedisLease) Refresh(ctx context.Context, key Key, owner string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, r.client, []string{r.key(key)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lease: %w", err)
	}
	return n == 1, nil
}

func (r *RedisLease) Release(ctx context.Context, key Key, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(key)}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

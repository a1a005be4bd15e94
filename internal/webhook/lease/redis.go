// Package lease provides run leases for the retry scheduler: at most one
// holder per name at a time, bounded by a TTL so a crashed holder cannot
// wedge scheduling forever.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease key only when the stored token matches, so
// a holder whose TTL already expired cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a SET NX + TTL lease over a shared Redis instance.
type Redis struct {
	client redis.Cmdable
	logger *slog.Logger
}

// NewRedis constructs a Redis-backed lease.
func NewRedis(client redis.Cmdable, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger}
}

// Acquire attempts to take the named lease. ok=false means another holder
// owns it. The returned release function is safe to call after the TTL has
// expired; it only removes the lease if this holder still owns it.
func (l *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		// Release uses a background context: the holder's context may
		// already be cancelled when cleanup runs.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{name}, token).Err(); err != nil {
			l.logger.Warn("failed to release lease", "lease", name, "error", err)
		}
	}
	return release, true, nil
}

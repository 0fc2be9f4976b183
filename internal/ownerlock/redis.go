package ownerlock

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/redis"
)

const (
	redisLockPrefix   = "equipviz:owner-lock:"
	defaultLockTTL    = 30 * time.Second
	defaultRetryDelay = 25 * time.Millisecond
)

// Redis is a best-effort distributed lock: SET NX with a random token and a
// TTL, released only by the token holder.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Redis{client: client, ttl: ttl, retry: defaultRetryDelay}
}

func (r *Redis) Lock(ctx context.Context, ownerID int64) (func(), error) {
	key := fmt.Sprintf("%s%d", redisLockPrefix, ownerID)
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire owner lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
		case <-time.After(r.retry):
		}
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := r.client.DelIfValue(relCtx, key, token); err != nil {
			log.Printf("release owner lock %d: %v", ownerID, err)
		}
	}, nil
}

// Package scanner runs the three supervisor-side sweep loops: Triggering
// (fire due jobs), Waiting (resurrect instances whose tasks never got
// dispatched or whose worker died before reporting), and Running (detect
// and cancel stuck instances). Each owns a single heartbeat thread and
// takes a cluster-wide lock before sweeping, the same SetNX+TTL shape as
// the teacher's internal/queue/scheduler.go schedulerLoop, generalized to
// one lock key per scanner so the three sweeps never serialize on each
// other across a multi-supervisor deployment.
package scanner

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// clusterLock wraps a Redis SetNX-with-TTL mutual exclusion lock scoped to
// one key, held only for the duration of a single sweep.
type clusterLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func newClusterLock(client *redis.Client, key string, ttl time.Duration) *clusterLock {
	return &clusterLock{client: client, key: key, ttl: ttl}
}

// tryAcquire returns true if this process won the lock for one sweep. The
// caller must call release when done, mirroring schedulerLoop's
// defer client.Del(ctx, schedulerLockKey).
func (l *clusterLock) tryAcquire(ctx context.Context) bool {
	ok, err := l.client.SetNX(ctx, l.key, "1", l.ttl).Result()
	return err == nil && ok
}

func (l *clusterLock) release(ctx context.Context) {
	l.client.Del(ctx, l.key)
}

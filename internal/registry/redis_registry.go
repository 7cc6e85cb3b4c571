package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/model"
)

// RedisRegistry generalizes the worker heartbeat mechanism (a Redis set of
// member ids plus a per-member TTL key, refreshed on an interval) into a
// role/group-scoped discovery service, and adds the pub/sub advisory
// channel the teacher's event publisher already wires up elsewhere.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) memberSetKey(group string, role model.Role) string {
	return fmt.Sprintf("disjob:registry:%s:%s:members", group, role)
}

func (r *RedisRegistry) ttlKey(group string, role model.Role, addr string) string {
	return fmt.Sprintf("disjob:registry:%s:%s:ttl:%s", group, role, addr)
}

func (r *RedisRegistry) channelKey(group string, role model.Role) string {
	return fmt.Sprintf("disjob:registry:%s:%s:changed", group, role)
}

func (r *RedisRegistry) Register(ctx context.Context, ep model.ServerEndpoint) error {
	addr := ep.Address()
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.memberSetKey(ep.Group, ep.Role), addr)
	pipe.Set(ctx, r.ttlKey(ep.Group, ep.Role, addr), mustJSON(ep), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register %s: %w", ep, err)
	}
	r.client.Publish(ctx, r.channelKey(ep.Group, ep.Role), "registered")
	return nil
}

func (r *RedisRegistry) Deregister(ctx context.Context, ep model.ServerEndpoint) error {
	addr := ep.Address()
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, r.memberSetKey(ep.Group, ep.Role), addr)
	pipe.Del(ctx, r.ttlKey(ep.Group, ep.Role, addr))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deregister %s: %w", ep, err)
	}
	r.client.Publish(ctx, r.channelKey(ep.Group, ep.Role), "deregistered")
	return nil
}

// DiscoveredServers treats the member set as advisory and the per-member
// TTL key as authoritative: any member whose TTL key has expired is purged
// from the set on read, the same lazy-reconciliation the teacher's
// GetActiveWorkers performs against expired worker info keys.
func (r *RedisRegistry) DiscoveredServers(ctx context.Context, group string, role model.Role) ([]model.ServerEndpoint, error) {
	addrs, err := r.client.SMembers(ctx, r.memberSetKey(group, role)).Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	endpoints := make([]model.ServerEndpoint, 0, len(addrs))
	for _, addr := range addrs {
		data, err := r.client.Get(ctx, r.ttlKey(group, role, addr)).Bytes()
		if err == redis.Nil {
			r.client.SRem(ctx, r.memberSetKey(group, role), addr)
			continue
		}
		if err != nil {
			logger.Error().Err(err).Str("addr", addr).Msg("registry: failed reading member ttl key")
			continue
		}
		var ep model.ServerEndpoint
		if err := json.Unmarshal(data, &ep); err != nil {
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func (r *RedisRegistry) IsAlive(ctx context.Context, ep model.ServerEndpoint) (bool, error) {
	n, err := r.client.Exists(ctx, r.ttlKey(ep.Group, ep.Role, ep.Address())).Result()
	if err != nil {
		return false, fmt.Errorf("check liveness: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Subscribe(ctx context.Context, group string, role model.Role) (<-chan struct{}, error) {
	pubsub := r.client.Subscribe(ctx, r.channelKey(group, role))
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	notify := make(chan struct{}, 1)
	go func() {
		defer close(notify)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case notify <- struct{}{}:
				default:
				}
			}
		}
	}()
	return notify, nil
}

func (r *RedisRegistry) Close() error { return nil }

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

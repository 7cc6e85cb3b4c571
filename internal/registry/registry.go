// Package registry implements server discovery for both node roles. Workers
// register themselves so supervisors can route tasks to them; supervisors
// register themselves so workers know who to report task outcomes back to.
// Two implementations are provided (redis, consul); callers depend only on
// the Registry interface.
package registry

import (
	"context"
	"errors"

	"github.com/maumercado/task-queue-go/internal/model"
)

var ErrNotRegistered = errors.New("registry: server is not currently registered")

// Registry is the discovery contract both the Redis and Consul
// implementations satisfy. Discovery is advisory-push / authoritative-pull:
// Subscribe delivers best-effort change notifications that may race with
// reality, while DiscoveredServers always re-asserts membership lazily
// against the backing store before returning.
type Registry interface {
	// Register announces this process's endpoint, refreshing its TTL on
	// every call. The caller is expected to call it on an interval shorter
	// than the configured session TTL.
	Register(ctx context.Context, endpoint model.ServerEndpoint) error

	// Deregister removes this process's endpoint immediately, used during
	// graceful shutdown so discovery doesn't have to wait out a TTL.
	Deregister(ctx context.Context, endpoint model.ServerEndpoint) error

	// DiscoveredServers returns every live endpoint of role in group.
	DiscoveredServers(ctx context.Context, group string, role model.Role) ([]model.ServerEndpoint, error)

	// IsAlive checks liveness of one specific endpoint.
	IsAlive(ctx context.Context, endpoint model.ServerEndpoint) (bool, error)

	// Subscribe streams best-effort change notifications for group; a
	// received value means "re-run DiscoveredServers", not "this is the
	// new membership" — callers must still treat the pull path as
	// authoritative.
	Subscribe(ctx context.Context, group string, role model.Role) (<-chan struct{}, error)

	Close() error
}

package worker

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/registry"
	"github.com/maumercado/task-queue-go/internal/rpcfabric"
	"github.com/maumercado/task-queue-go/internal/timingwheel"
)

// fakeRegistry is an in-memory registry.Registry good enough to exercise
// Pool.Start/Stop's register/deregister calls without a real Redis/Consul
// backend.
type fakeRegistry struct {
	mu        sync.Mutex
	endpoints map[string]model.ServerEndpoint
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{endpoints: make(map[string]model.ServerEndpoint)}
}

func (r *fakeRegistry) Register(ctx context.Context, ep model.ServerEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.Address()] = ep
	return nil
}

func (r *fakeRegistry) Deregister(ctx context.Context, ep model.ServerEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, ep.Address())
	return nil
}

func (r *fakeRegistry) DiscoveredServers(ctx context.Context, group string, role model.Role) ([]model.ServerEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ServerEndpoint
	for _, ep := range r.endpoints {
		if ep.Group == group && ep.Role == role {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (r *fakeRegistry) IsAlive(ctx context.Context, ep model.ServerEndpoint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.endpoints[ep.Address()]
	return ok, nil
}

func (r *fakeRegistry) Subscribe(ctx context.Context, group string, role model.Role) (<-chan struct{}, error) {
	return make(chan struct{}), nil
}

func (r *fakeRegistry) Close() error { return nil }

var _ registry.Registry = (*fakeRegistry)(nil)

// newTestSupervisorProxy points a DiscoveryProxy at an httptest server
// registered under group/role in a fake registry, exercising the same
// discover-then-invoke path Pool.checkpoint drives in production.
func newTestSupervisorProxy(t *testing.T, handler http.HandlerFunc) (*rpcfabric.DiscoveryProxy, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	reg := newFakeRegistry()
	require.NoError(t, reg.Register(context.Background(), model.ServerEndpoint{
		Group: "default", Host: host, Port: port, Role: model.RoleSupervisor,
	}))

	dest := rpcfabric.NewDestination("disjob", "test-secret")
	dest.MaxRetries = 0
	return rpcfabric.NewDiscoveryProxy(dest, reg, "default", model.RoleSupervisor), srv
}

func newTestPool(t *testing.T, handlers map[string]Handler, proxy *rpcfabric.DiscoveryProxy) *Pool {
	t.Helper()
	exec := NewExecutor(handlers)
	wheel := timingwheel.New(10*time.Millisecond, 100)
	reg := newFakeRegistry()
	endpoint := model.ServerEndpoint{Group: "default", Host: "127.0.0.1", Port: 9000, Role: model.RoleWorker}
	return NewPool(Config{ID: "test-worker", Endpoint: endpoint, Concurrency: 2, RegisterEvery: time.Hour}, wheel, exec, reg, proxy)
}

func TestNewPool_Defaults(t *testing.T) {
	exec := NewExecutor(nil)
	wheel := timingwheel.New(10*time.Millisecond, 100)
	reg := newFakeRegistry()
	pool := NewPool(Config{Endpoint: model.ServerEndpoint{Host: "127.0.0.1", Port: 9000}}, wheel, exec, reg, nil)

	assert.NotEmpty(t, pool.ID())
	assert.Equal(t, StateIdle, pool.State())
	assert.Equal(t, 0, pool.ActiveTasks())
}

func TestPool_StartStop(t *testing.T) {
	proxy, srv := newTestSupervisorProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	defer srv.Close()

	pool := newTestPool(t, nil, proxy)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, pool.Start(ctx))
	assert.Equal(t, StateBusy, pool.State())

	require.NoError(t, pool.Stop(context.Background(), time.Second))
}

func TestPool_PauseResume(t *testing.T) {
	proxy, srv := newTestSupervisorProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	pool := newTestPool(t, nil, proxy)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, pool.Start(ctx))
	defer pool.Stop(context.Background(), time.Second)

	pool.Pause()
	assert.Equal(t, StatePaused, pool.State())

	pool.Resume()
	assert.Equal(t, StateBusy, pool.State())
}

func TestPool_ReceiveAndExecute(t *testing.T) {
	var mu sync.Mutex
	var checkpoints []checkpointRequest

	proxy, srv := newTestSupervisorProxy(t, func(w http.ResponseWriter, r *http.Request) {
		var req checkpointRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		checkpoints = append(checkpoints, req)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	defer srv.Close()

	handlers := map[string]Handler{
		"echo": func(ctx context.Context, req ReceivedTask) (string, error) {
			return req.Param, nil
		},
	}
	pool := newTestPool(t, handlers, proxy)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, pool.Start(ctx))
	defer pool.Stop(context.Background(), time.Second)

	admitted := pool.Receive(ReceivedTask{TaskID: 42, Handler: "echo", Param: "hi"}, time.Now().UTC())
	assert.True(t, admitted)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range checkpoints {
			if c.TaskID == 42 && c.ExecuteState == model.ExecuteCompleted {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestPool_ReceiveUnknownHandlerReportsFailure(t *testing.T) {
	var mu sync.Mutex
	var checkpoints []checkpointRequest

	proxy, srv := newTestSupervisorProxy(t, func(w http.ResponseWriter, r *http.Request) {
		var req checkpointRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		checkpoints = append(checkpoints, req)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	defer srv.Close()

	pool := newTestPool(t, nil, proxy)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, pool.Start(ctx))
	defer pool.Stop(context.Background(), time.Second)

	admitted := pool.Receive(ReceivedTask{TaskID: 7, Handler: "missing"}, time.Now().UTC())
	assert.True(t, admitted)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range checkpoints {
			if c.TaskID == 7 && c.ExecuteState == model.ExecuteFailed {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestPool_Cancel(t *testing.T) {
	proxy, srv := newTestSupervisorProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	pool := newTestPool(t, nil, proxy)

	admitted := pool.Receive(ReceivedTask{TaskID: 99, Handler: "echo", Param: "x"}, time.Now().Add(time.Hour))
	assert.True(t, admitted)

	assert.True(t, pool.Cancel(99))
	assert.False(t, pool.Cancel(99))
}

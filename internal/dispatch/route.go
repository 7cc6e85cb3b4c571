package dispatch

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"

	"github.com/maumercado/task-queue-go/internal/model"
)

// Router picks one worker endpoint out of a discovered set per job's
// RouteStrategy. Round-robin and least-recently-used need state that
// outlives a single call, so Router keeps small per-group counters the
// same way the teacher's Pool keeps a currentTasks sync.Map rather than
// recomputing state from scratch on every call.
type Router struct {
	mu       sync.Mutex
	rrCursor map[string]int
	lastUsed map[string]map[string]int64 // group -> address -> logical clock
	clock    int64
	localAddr string
}

func NewRouter(localAddr string) *Router {
	return &Router{
		rrCursor: make(map[string]int),
		lastUsed: make(map[string]map[string]int64),
		localAddr: localAddr,
	}
}

// Select returns one endpoint from servers per strategy. Callers must
// already have filtered servers down to live, group-matching workers;
// Select never queries the registry itself. shardKey seeds the consistent
// hash ring (typically the job ID, so retries of the same job prefer the
// same worker absent membership churn).
func (r *Router) Select(strategy model.RouteStrategy, group string, servers []model.ServerEndpoint, shardKey int64) (model.ServerEndpoint, bool) {
	if len(servers) == 0 {
		return model.ServerEndpoint{}, false
	}

	switch strategy {
	case model.RouteRandom:
		return servers[rand.Intn(len(servers))], true

	case model.RouteRoundRobin:
		return r.roundRobin(group, servers), true

	case model.RouteLeastRecentlyUsed:
		return r.leastRecentlyUsed(group, servers), true

	case model.RouteConsistentHash:
		return consistentHash(servers, shardKey), true

	case model.RouteLocalPriority:
		if ep, ok := r.localMatch(servers); ok {
			return ep, true
		}
		return r.roundRobin(group, servers), true

	default: // RouteBroadcast is handled by the caller via SelectAll
		return servers[0], true
	}
}

// SelectAll is RouteBroadcast's selection rule: every discovered worker,
// each pinned to its own task.
func (r *Router) SelectAll(servers []model.ServerEndpoint) []model.ServerEndpoint {
	out := make([]model.ServerEndpoint, len(servers))
	copy(out, servers)
	return out
}

func (r *Router) roundRobin(group string, servers []model.ServerEndpoint) model.ServerEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.rrCursor[group] % len(servers)
	r.rrCursor[group] = i + 1
	return servers[i]
}

// leastRecentlyUsed picks whichever discovered endpoint this Router has
// dispatched to longest ago (or never), then stamps it as just-used.
func (r *Router) leastRecentlyUsed(group string, servers []model.ServerEndpoint) model.ServerEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	used, ok := r.lastUsed[group]
	if !ok {
		used = make(map[string]int64)
		r.lastUsed[group] = used
	}

	best := servers[0]
	bestClock := used[best.Address()]
	for _, ep := range servers[1:] {
		if c := used[ep.Address()]; c < bestClock {
			best, bestClock = ep, c
		}
	}

	r.clock++
	used[best.Address()] = r.clock
	return best
}

func (r *Router) localMatch(servers []model.ServerEndpoint) (model.ServerEndpoint, bool) {
	if r.localAddr == "" {
		return model.ServerEndpoint{}, false
	}
	for _, ep := range servers {
		if ep.Address() == r.localAddr {
			return ep, true
		}
	}
	return model.ServerEndpoint{}, false
}

// consistentHash places servers on a ring by FNV hash of their address and
// returns the first one at or after hash(shardKey), wrapping around. No
// virtual nodes: the discovered set is small (worker fleets, not cache
// shards), so plain single-point-per-node hashing keeps this readable.
func consistentHash(servers []model.ServerEndpoint, shardKey int64) model.ServerEndpoint {
	type ringEntry struct {
		hash uint32
		ep   model.ServerEndpoint
	}
	ring := make([]ringEntry, len(servers))
	for i, ep := range servers {
		ring[i] = ringEntry{hash: fnvHash(ep.Address()), ep: ep}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	key := fnvHashInt64(shardKey)
	for _, e := range ring {
		if e.hash >= key {
			return e.ep
		}
	}
	return ring[0].ep
}

func fnvHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func fnvHashInt64(n int64) uint32 {
	h := fnv.New32a()
	buf := []byte{
		byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
		byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
	}
	_, _ = h.Write(buf)
	return h.Sum32()
}

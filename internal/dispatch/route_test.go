package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-queue-go/internal/model"
)

func servers(addrs ...string) []model.ServerEndpoint {
	out := make([]model.ServerEndpoint, len(addrs))
	for i, a := range addrs {
		out[i] = model.ServerEndpoint{Group: "default", Host: a, Port: 9000, Role: model.RoleWorker}
	}
	return out
}

func TestRouter_SelectEmptyServers(t *testing.T) {
	r := NewRouter("")
	_, ok := r.Select(model.RouteRoundRobin, "default", nil, 1)
	assert.False(t, ok)
}

func TestRouter_RoundRobinCyclesThroughServers(t *testing.T) {
	r := NewRouter("")
	set := servers("a", "b", "c")

	var picks []string
	for i := 0; i < 6; i++ {
		ep, ok := r.Select(model.RouteRoundRobin, "default", set, 0)
		require.True(t, ok)
		picks = append(picks, ep.Host)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, picks)
}

func TestRouter_RoundRobinTracksCursorPerGroup(t *testing.T) {
	r := NewRouter("")
	setA := servers("a1", "a2")
	setB := servers("b1", "b2")

	first, _ := r.Select(model.RouteRoundRobin, "groupA", setA, 0)
	assert.Equal(t, "a1", first.Host)

	firstB, _ := r.Select(model.RouteRoundRobin, "groupB", setB, 0)
	assert.Equal(t, "b1", firstB.Host)

	second, _ := r.Select(model.RouteRoundRobin, "groupA", setA, 0)
	assert.Equal(t, "a2", second.Host)
}

func TestRouter_RandomAlwaysPicksFromSet(t *testing.T) {
	r := NewRouter("")
	set := servers("a", "b", "c")
	valid := map[string]bool{"a": true, "b": true, "c": true}

	for i := 0; i < 20; i++ {
		ep, ok := r.Select(model.RouteRandom, "default", set, 0)
		require.True(t, ok)
		assert.True(t, valid[ep.Host])
	}
}

func TestRouter_LeastRecentlyUsedRotatesAwayFromJustUsed(t *testing.T) {
	r := NewRouter("")
	set := servers("a", "b")

	first, _ := r.Select(model.RouteLeastRecentlyUsed, "default", set, 0)
	second, _ := r.Select(model.RouteLeastRecentlyUsed, "default", set, 0)
	assert.NotEqual(t, first.Host, second.Host)

	third, _ := r.Select(model.RouteLeastRecentlyUsed, "default", set, 0)
	assert.Equal(t, first.Host, third.Host)
}

func TestRouter_ConsistentHashStableForSameShardKey(t *testing.T) {
	r := NewRouter("")
	set := servers("a", "b", "c", "d")

	first, ok := r.Select(model.RouteConsistentHash, "default", set, 123)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		again, ok := r.Select(model.RouteConsistentHash, "default", set, 123)
		require.True(t, ok)
		assert.Equal(t, first.Host, again.Host)
	}
}

func TestRouter_ConsistentHashDistributesAcrossShardKeys(t *testing.T) {
	r := NewRouter("")
	set := servers("a", "b", "c", "d")

	seen := make(map[string]bool)
	for shardKey := int64(0); shardKey < 50; shardKey++ {
		ep, ok := r.Select(model.RouteConsistentHash, "default", set, shardKey)
		require.True(t, ok)
		seen[ep.Host] = true
	}
	assert.Greater(t, len(seen), 1, "50 distinct shard keys should spread across more than one worker")
}

func TestRouter_LocalPriorityPrefersLocalAddr(t *testing.T) {
	r := NewRouter("b:9000")
	set := servers("a", "b", "c")

	ep, ok := r.Select(model.RouteLocalPriority, "default", set, 0)
	require.True(t, ok)
	assert.Equal(t, "b", ep.Host)
}

func TestRouter_LocalPriorityFallsBackToRoundRobin(t *testing.T) {
	r := NewRouter("nowhere:9000")
	set := servers("a", "b")

	ep, ok := r.Select(model.RouteLocalPriority, "default", set, 0)
	require.True(t, ok)
	assert.Equal(t, "a", ep.Host)
}

func TestRouter_SelectAllReturnsCopyOfEveryServer(t *testing.T) {
	r := NewRouter("")
	set := servers("a", "b", "c")

	all := r.SelectAll(set)
	require.Len(t, all, 3)

	all[0].Host = "mutated"
	assert.Equal(t, "a", set[0].Host, "SelectAll must return a copy, not an alias")
}

func TestRouter_DefaultBroadcastStrategyReturnsFirstServer(t *testing.T) {
	r := NewRouter("")
	set := servers("a", "b")

	ep, ok := r.Select(model.RouteBroadcast, "default", set, 0)
	require.True(t, ok)
	assert.Equal(t, "a", ep.Host)
}

package registry

import (
	"testing"
	"time"

	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndGet(t *testing.T) {
	r := New("self")
	r.Upsert(types.Peer{NodeID: "n1", Address: "10.0.0.1:9000", Role: types.PeerRoleWorker})

	p, ok := r.Get("n1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:9000", p.Address)
}

func TestUpsertIgnoresSelf(t *testing.T) {
	r := New("self")
	r.Upsert(types.Peer{NodeID: "self", Address: "127.0.0.1:1"})
	_, ok := r.Get("self")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestUpsertReplacesStaleEntry(t *testing.T) {
	r := New("self")
	r.Upsert(types.Peer{NodeID: "n1", Address: "10.0.0.1:9000"})
	r.Upsert(types.Peer{NodeID: "n1", Address: "10.0.0.2:9001"})

	p, ok := r.Get("n1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:9001", p.Address)
	assert.Equal(t, 1, r.Count())
}

func TestLeaderBreaksTiesByLowestNodeID(t *testing.T) {
	r := New("self")
	r.Upsert(types.Peer{NodeID: "n2", Role: types.PeerRoleLeader})
	r.Upsert(types.Peer{NodeID: "n1", Role: types.PeerRoleLeader})
	r.Upsert(types.Peer{NodeID: "n3", Role: types.PeerRoleWorker})

	leader, ok := r.Leader()
	require.True(t, ok)
	assert.Equal(t, "n1", leader.NodeID)
}

func TestLeaderAbsentWhenNoneAdvertised(t *testing.T) {
	r := New("self")
	r.Upsert(types.Peer{NodeID: "n1", Role: types.PeerRoleWorker})
	_, ok := r.Leader()
	assert.False(t, ok)
}

func TestPruneStaleRemovesOldEntries(t *testing.T) {
	r := New("self")
	now := time.Now()
	r.Upsert(types.Peer{NodeID: "n1", LastSeen: now.Add(-time.Minute)})
	r.Upsert(types.Peer{NodeID: "n2", LastSeen: now})

	pruned := r.PruneStale(now, 30*time.Second)
	assert.Equal(t, []string{"n1"}, pruned)
	assert.Equal(t, 1, r.Count())
}

func TestSetRoleAndRemove(t *testing.T) {
	r := New("self")
	r.Upsert(types.Peer{NodeID: "n1", Role: types.PeerRoleWorker})
	r.SetRole("n1", types.PeerRoleLeader)

	p, ok := r.Get("n1")
	require.True(t, ok)
	assert.Equal(t, types.PeerRoleLeader, p.Role)

	r.Remove("n1")
	_, ok = r.Get("n1")
	assert.False(t, ok)
}

package upgrade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fleetmesh/fleetd/pkg/registry"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUnicaster struct {
	mu   sync.Mutex
	sent []*wire.Envelope
	to   []string
	fail map[string]bool
}

func (u *fakeUnicaster) SendTo(nodeID string, env *wire.Envelope) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail[nodeID] {
		return false
	}
	u.sent = append(u.sent, env)
	u.to = append(u.to, nodeID)
	return true
}

func newTestRegistry(peers ...types.Peer) *registry.Registry {
	reg := registry.New("self")
	for _, p := range peers {
		reg.Upsert(p)
	}
	return reg
}

func TestOrderWorkersLastMovesLeaderToEnd(t *testing.T) {
	peers := []types.Peer{
		{NodeID: "0x01", Role: types.PeerRoleLeader},
		{NodeID: "0x02", Role: types.PeerRoleWorker},
		{NodeID: "0x03", Role: types.PeerRoleWorker},
	}
	ordered := orderWorkersLast(peers)
	require.Len(t, ordered, 3)
	assert.Equal(t, "0x01", ordered[2].NodeID)
}

func TestRunSucceedsWhenEveryWorkerReportsHealthy(t *testing.T) {
	reg := newTestRegistry(
		types.Peer{NodeID: "0x02", Role: types.PeerRoleWorker},
		types.Peer{NodeID: "0x03", Role: types.PeerRoleLeader},
	)
	u := &fakeUnicaster{}
	c := New(Config{SelfNodeID: "coordinator", ReappearTimeout: time.Second}, reg, u)

	go func() {
		for {
			u.mu.Lock()
			n := len(u.to)
			u.mu.Unlock()
			if n == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			u.mu.Lock()
			nodeID := u.to[n-1]
			u.mu.Unlock()
			env, err := wire.NewEnvelope(wire.MsgUpgradeStatus, nodeID, 0, wire.UpgradeStatusPayload{NodeID: nodeID, Phase: "healthy"})
			require.NoError(t, err)
			c.Receive(env)
			if n >= 2 {
				return
			}
		}
	}()

	err := c.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"0x02", "0x03"}, u.to)
}

func TestRunStopsOnFirstFailureWithoutContinueOnError(t *testing.T) {
	reg := newTestRegistry(
		types.Peer{NodeID: "0x02", Role: types.PeerRoleWorker},
		types.Peer{NodeID: "0x03", Role: types.PeerRoleWorker},
	)
	u := &fakeUnicaster{}
	c := New(Config{SelfNodeID: "coordinator", ReappearTimeout: time.Second}, reg, u)

	go func() {
		for {
			u.mu.Lock()
			n := len(u.to)
			u.mu.Unlock()
			if n == 1 {
				// Fail whichever worker was contacted first: both are
				// workers, and registry.List returns them in no fixed order.
				u.mu.Lock()
				first := u.to[0]
				u.mu.Unlock()
				env, err := wire.NewEnvelope(wire.MsgUpgradeStatus, first, 0, wire.UpgradeStatusPayload{NodeID: first, Phase: "failed", Detail: "boom"})
				require.NoError(t, err)
				c.Receive(env)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, u.to, 1, "the second worker must never be contacted once the first fails")
}

func TestRunTimesOutWaitingForStatus(t *testing.T) {
	reg := newTestRegistry(types.Peer{NodeID: "0x02", Role: types.PeerRoleWorker})
	u := &fakeUnicaster{}
	c := New(Config{SelfNodeID: "coordinator", ReappearTimeout: 10 * time.Millisecond}, reg, u)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestWorkerReceiveInvokesSelfReplaceAndReportsHealthy(t *testing.T) {
	u := &fakeUnicaster{}
	w := NewWorker(WorkerConfig{SelfNodeID: "0x02"}, u)

	var replacedWith string
	done := make(chan struct{})
	w.OnSelfReplace = func(targetVersion string) error {
		replacedWith = targetVersion
		return nil
	}

	env, err := wire.NewEnvelope(wire.MsgUpgradeRequest, "coordinator", 0, wire.UpgradeRequestPayload{TargetVersion: "v2"})
	require.NoError(t, err)

	go func() {
		for {
			u.mu.Lock()
			n := len(u.sent)
			u.mu.Unlock()
			if n >= 3 {
				close(done)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	w.Receive(env, "coordinator")
	<-done

	assert.Equal(t, "v2", replacedWith)
	require.Len(t, u.sent, 3)

	var phases []string
	for _, e := range u.sent {
		var p wire.UpgradeStatusPayload
		require.NoError(t, e.Decode(&p))
		phases = append(phases, p.Phase)
	}
	assert.Equal(t, []string{"stopping", "relaunched", "healthy"}, phases)
}

func TestWorkerReceiveReportsFailedWhenSelfReplaceErrors(t *testing.T) {
	u := &fakeUnicaster{}
	w := NewWorker(WorkerConfig{SelfNodeID: "0x02"}, u)
	w.OnSelfReplace = func(targetVersion string) error { return assertErr }

	env, err := wire.NewEnvelope(wire.MsgUpgradeRequest, "coordinator", 0, wire.UpgradeRequestPayload{TargetVersion: "v2"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for {
			u.mu.Lock()
			n := len(u.sent)
			u.mu.Unlock()
			if n >= 2 {
				close(done)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	w.Receive(env, "coordinator")
	<-done

	var last wire.UpgradeStatusPayload
	require.NoError(t, u.sent[len(u.sent)-1].Decode(&last))
	assert.Equal(t, "failed", last.Phase)
}

var assertErr = assertError("self-replace exploded")

type assertError string

func (e assertError) Error() string { return string(e) }

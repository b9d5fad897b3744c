package gossip

import (
	"testing"

	"github.com/fleetmesh/fleetd/pkg/clock"
	"github.com/fleetmesh/fleetd/pkg/dedup"
	"github.com/fleetmesh/fleetd/pkg/storage"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBroadcaster captures every broadcast envelope for assertion
// instead of sending it anywhere.
type recordingBroadcaster struct {
	envelopes []*wire.Envelope
	excepts   []string
}

func (b *recordingBroadcaster) Broadcast(env *wire.Envelope, exceptAddr string) {
	b.envelopes = append(b.envelopes, env)
	b.excepts = append(b.excepts, exceptAddr)
}

func newTestEngine(t *testing.T, nodeID string) (*Engine, *storage.BoltStore, *recordingBroadcaster) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	b := &recordingBroadcaster{}
	e := New(nodeID, store, clock.New(0), dedup.NewSeenSet(0), dedup.NewTombstoneTracker(0), b, nil)
	return e, store, b
}

func TestOriginateTaskCreateThenClaimThenComplete(t *testing.T) {
	e, _, b := newTestEngine(t, "0x01")

	task, err := e.OriginateTaskCreate(types.Task{ID: "t1", Title: "A", Priority: 0})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.EqualValues(t, 1, task.LamportTS)

	task, err = e.OriginateTaskClaim("t1", "ag1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusClaimed, task.Status)
	assert.Equal(t, "ag1", task.AssigneeAgentID)
	assert.EqualValues(t, 2, task.LamportTS)

	task, err = e.OriginateTaskComplete("t1", "ok")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, task.Status)
	assert.Equal(t, "ok", task.Result)
	assert.False(t, task.CompletedAt.IsZero())
	assert.EqualValues(t, 3, task.LamportTS)

	require.Len(t, b.envelopes, 3)
	assert.Equal(t, wire.MsgTaskCreate, b.envelopes[0].Type)
	assert.Equal(t, wire.MsgTaskClaim, b.envelopes[1].Type)
	assert.Equal(t, wire.MsgTaskComplete, b.envelopes[2].Type)
}

func TestReceiveTaskClaimRaceLowerNodeIDWins(t *testing.T) {
	e, _, _ := newTestEngine(t, "0x01")

	_, err := e.OriginateTaskCreate(types.Task{ID: "t1", Title: "A"})
	require.NoError(t, err)

	// Both claims race at the same lamport_ts; the lower node-id must win
	// regardless of delivery order (spec §4.9, scenario 2).
	e.receiveTaskClaim(wire.TaskClaimPayload{TaskID: "t1", AgentID: "a2", NodeID: "0x02", LamportTS: 6}, "peer-02")
	e.receiveTaskClaim(wire.TaskClaimPayload{TaskID: "t1", AgentID: "a1", NodeID: "0x01", LamportTS: 6}, "peer-01")

	got, err := e.store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, "0x01", got.AssignedNodeID)
	assert.Equal(t, "a1", got.AssigneeAgentID)
}

func TestReceiveTaskCreateDuplicateIsNoop(t *testing.T) {
	e, _, b := newTestEngine(t, "0x01")

	payload := wire.TaskMutationPayload{Task: types.Task{ID: "t1", Title: "A", Status: types.TaskStatusPending, LamportTS: 5}}
	e.receiveTaskCreate(payload, "peer-01")
	firstCount := len(b.envelopes)
	e.receiveTaskCreate(payload, "peer-01")

	assert.Equal(t, firstCount, len(b.envelopes), "duplicate delivery must not re-forward")
}

func TestReceiveTaskUpdateDropsOnTerminalTask(t *testing.T) {
	e, _, _ := newTestEngine(t, "0x01")

	_, err := e.OriginateTaskCreate(types.Task{ID: "t1", Title: "A"})
	require.NoError(t, err)
	_, err = e.OriginateTaskComplete("t1", "done")
	require.NoError(t, err)

	e.receiveTaskUpdate(wire.TaskMutationPayload{Task: types.Task{ID: "t1", Title: "changed", LamportTS: 99}}, "peer-02")

	got, err := e.store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title, "terminal task must be absorbing")
	assert.Equal(t, types.TaskStatusCompleted, got.Status)
}

func TestReceiveTaskUpdateMergesGitBranchForwardOnly(t *testing.T) {
	e, store, _ := newTestEngine(t, "0x01")

	task := &types.Task{ID: "t1", Title: "A", Status: types.TaskStatusClaimed, GitBranch: "", LamportTS: 1}
	require.NoError(t, store.PutTask(task))

	incoming := types.Task{ID: "t1", Title: "A", Status: types.TaskStatusClaimed, GitBranch: "feature/x", LamportTS: 2}
	e.receiveTaskUpdate(wire.TaskMutationPayload{Task: incoming}, "peer-02")

	got, err := store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, "feature/x", got.GitBranch)

	// A subsequent update with an empty branch must not clear it.
	incoming2 := types.Task{ID: "t1", Title: "A", Status: types.TaskStatusClaimed, GitBranch: "", LamportTS: 3}
	e.receiveTaskUpdate(wire.TaskMutationPayload{Task: incoming2}, "peer-02")

	got, err = store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, "feature/x", got.GitBranch, "non-empty local branch must never be cleared by an empty incoming value")
}

func TestAgentRegisterHeartbeatDeregisterTombstone(t *testing.T) {
	e, _, _ := newTestEngine(t, "0x02") // receiving node, not the agent's host

	agent := types.Agent{ID: "ag1", HostNodeID: "0x01", Name: "worker"}
	payload := wire.AgentMutationPayload{Agent: agent}
	payload.Agent.LamportTS = 1
	e.receiveAgentRegister(payload, "peer-01")

	got, err := e.store.GetAgent("ag1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusIdle, got.Status)

	hb := wire.AgentMutationPayload{Agent: types.Agent{ID: "ag1", HostNodeID: "0x01", Status: types.AgentStatusBusy, LamportTS: 2}}
	e.receiveAgentHeartbeat(hb, "peer-01")

	got, err = e.store.GetAgent("ag1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusBusy, got.Status)

	e.receiveAgentDeregister(wire.AgentDeregisterPayload{AgentID: "ag1", NodeID: "0x01", LamportTS: 3}, "peer-01")
	_, err = e.store.GetAgent("ag1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A stale re-register arriving from anti-entropy catch-up must be
	// dropped while the tombstone is active (spec §8 scenario 3).
	stale := wire.AgentMutationPayload{Agent: types.Agent{ID: "ag1", HostNodeID: "0x01", LamportTS: 2}}
	e.receiveAgentRegister(stale, "peer-03")
	_, err = e.store.GetAgent("ag1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "tombstoned agent must not be resurrected")
}

func TestReceiveAgentMutationIgnoredForSelfHostedAgent(t *testing.T) {
	e, _, _ := newTestEngine(t, "0x01")

	payload := wire.AgentMutationPayload{Agent: types.Agent{ID: "ag1", HostNodeID: "0x01", LamportTS: 1}}
	e.receiveAgentRegister(payload, "peer-02")

	_, err := e.store.GetAgent("ag1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "a remote message must never create or modify this node's own agent")
}

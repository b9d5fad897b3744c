package storage

import (
	"testing"
	"time"

	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTaskCRUDRoundTrip(t *testing.T) {
	s := newTestStore(t)

	task := &types.Task{
		ID:        "task-1",
		Title:     "do the thing",
		Status:    types.TaskStatusPending,
		LamportTS: 1,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.PutTask(task))

	got, err := s.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, task.Status, got.Status)

	_, err = s.GetTask("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteTask("task-1"))
	_, err = s.GetTask("task-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasksByStatusIndex(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutTask(&types.Task{ID: "t1", Status: types.TaskStatusPending, LamportTS: 1}))
	require.NoError(t, s.PutTask(&types.Task{ID: "t2", Status: types.TaskStatusPending, LamportTS: 2}))
	require.NoError(t, s.PutTask(&types.Task{ID: "t3", Status: types.TaskStatusCompleted, LamportTS: 3}))

	pending, err := s.ListTasksByStatus(types.TaskStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	completed, err := s.ListTasksByStatus(types.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
	assert.Equal(t, "t3", completed[0].ID)
}

func TestStatusIndexMovesOnUpdate(t *testing.T) {
	s := newTestStore(t)

	task := &types.Task{ID: "t1", Status: types.TaskStatusPending, LamportTS: 1}
	require.NoError(t, s.PutTask(task))

	task.Status = types.TaskStatusClaimed
	task.LamportTS = 2
	require.NoError(t, s.PutTask(task))

	pending, err := s.ListTasksByStatus(types.TaskStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	claimed, err := s.ListTasksByStatus(types.TaskStatusClaimed)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "t1", claimed[0].ID)
}

func TestListTasksByParentAndNode(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutTask(&types.Task{ID: "child-1", ParentID: "parent-1", AssignedNodeID: "node-a", LamportTS: 1}))
	require.NoError(t, s.PutTask(&types.Task{ID: "child-2", ParentID: "parent-1", AssignedNodeID: "node-b", LamportTS: 2}))
	require.NoError(t, s.PutTask(&types.Task{ID: "other", ParentID: "parent-2", LamportTS: 3}))

	children, err := s.ListTasksByParent("parent-1")
	require.NoError(t, err)
	assert.Len(t, children, 2)

	onNodeA, err := s.ListTasksByNode("node-a")
	require.NoError(t, err)
	require.Len(t, onNodeA, 1)
	assert.Equal(t, "child-1", onNodeA[0].ID)
}

func TestListTasksSince(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutTask(&types.Task{ID: "t1", LamportTS: 5}))
	require.NoError(t, s.PutTask(&types.Task{ID: "t2", LamportTS: 10}))
	require.NoError(t, s.PutTask(&types.Task{ID: "t3", LamportTS: 15}))

	since, err := s.ListTasksSince(9)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "t2", since[0].ID)
	assert.Equal(t, "t3", since[1].ID)
}

func TestCompareAndSwapTaskSucceedsOnExpectedStatus(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutTask(&types.Task{ID: "t1", Status: types.TaskStatusPending, LamportTS: 1}))

	updated, err := s.CompareAndSwapTask("t1", []types.TaskStatus{types.TaskStatusPending}, func(tk *types.Task) error {
		tk.Status = types.TaskStatusClaimed
		tk.AssigneeAgentID = "agent-1"
		tk.LamportTS = 2
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusClaimed, updated.Status)
	assert.Equal(t, "agent-1", updated.AssigneeAgentID)

	got, err := s.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusClaimed, got.Status)
}

func TestCompareAndSwapTaskRejectsOnUnexpectedStatus(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutTask(&types.Task{ID: "t1", Status: types.TaskStatusClaimed, LamportTS: 1}))

	_, err := s.CompareAndSwapTask("t1", []types.TaskStatus{types.TaskStatusPending}, func(tk *types.Task) error {
		tk.Status = types.TaskStatusClaimed
		return nil
	})
	assert.ErrorIs(t, err, ErrCASConflict)

	got, err := s.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.LamportTS)
}

func TestAgentCRUDAndIndexes(t *testing.T) {
	s := newTestStore(t)

	agent := &types.Agent{ID: "a1", HostNodeID: "node-a", Status: types.AgentStatusIdle, LamportTS: 1}
	require.NoError(t, s.PutAgent(agent))

	got, err := s.GetAgent("a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusIdle, got.Status)

	onNode, err := s.ListAgentsByNode("node-a")
	require.NoError(t, err)
	require.Len(t, onNode, 1)

	agent.Status = types.AgentStatusBusy
	agent.LamportTS = 2
	require.NoError(t, s.PutAgent(agent))

	idle, err := s.ListAgentsByStatus(types.AgentStatusIdle)
	require.NoError(t, err)
	assert.Empty(t, idle)

	busy, err := s.ListAgentsByStatus(types.AgentStatusBusy)
	require.NoError(t, err)
	require.Len(t, busy, 1)

	require.NoError(t, s.DeleteAgent("a1"))
	_, err = s.GetAgent("a1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDHTEntryContentHashLookup(t *testing.T) {
	s := newTestStore(t)

	entry := &types.DHTEntry{
		Key:         "k1",
		Value:       []byte("hello"),
		ContentHash: "abc123",
		LamportTS:   1,
	}
	require.NoError(t, s.PutDHTEntry(entry))

	byHash, err := s.GetDHTEntryByContentHash("abc123")
	require.NoError(t, err)
	assert.Equal(t, "k1", byHash.Key)

	byKey, err := s.GetDHTEntry("k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), byKey.Value)
}

func TestListExpiredTombstones(t *testing.T) {
	s := newTestStore(t)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, s.PutDHTEntry(&types.DHTEntry{Key: "tomb", Tombstone: true, UpdatedAt: old, LamportTS: 1}))
	require.NoError(t, s.PutDHTEntry(&types.DHTEntry{Key: "live", Tombstone: false, UpdatedAt: time.Now(), LamportTS: 2}))

	expired, err := s.ListExpiredTombstones(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "tomb", expired[0].Key)
}

func TestClusterStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetClusterState()
	assert.ErrorIs(t, err, ErrNotFound)

	state := &types.ClusterState{NodeID: "node-a", Role: types.PeerRoleWorker, LamportClock: 42}
	require.NoError(t, s.PutClusterState(state))

	got, err := s.GetClusterState()
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.LamportClock)
}

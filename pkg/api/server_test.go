package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetmesh/fleetd/pkg/node"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/stretchr/testify/require"
)

func testNode(t *testing.T) *node.Node {
	t.Helper()
	n, err := node.New(node.Config{
		Role:                     types.PeerRoleWorker,
		DataDir:                  t.TempDir(),
		ListenAddr:               "127.0.0.1:0",
		HTTPPort:                 8080,
		PEXInterval:              time.Hour,
		EmperorHeartbeatInterval: time.Hour,
		ElectionTimeout:          time.Hour,
		EmperorStaleThreshold:    time.Hour,
		AntiEntropyInterval:      time.Hour,
		ClockPersistInterval:     time.Hour,
		PingTimeout:              time.Second,
		AgentHeartbeatInterval:   time.Hour,
		AgentOfflineThreshold:    time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func TestTaskCreateAndList(t *testing.T) {
	n := testNode(t)
	s := NewServer(n, "127.0.0.1:0")

	body, _ := json.Marshal(types.Task{Title: "build the thing"})
	req := httptest.NewRequest("POST", "/tasks", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 201, w.Code)

	var created types.Task
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, types.TaskStatusPending, created.Status)

	req = httptest.NewRequest("GET", "/tasks", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)

	var listed []*types.Task
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listed))
	require.Len(t, listed, 1)
	require.Equal(t, created.ID, listed[0].ID)
}

func TestTaskClaimLifecycle(t *testing.T) {
	n := testNode(t)
	s := NewServer(n, "127.0.0.1:0")

	created, err := n.Gossip().OriginateTaskCreate(types.Task{Title: "ship it"})
	require.NoError(t, err)

	agent, err := n.Gossip().OriginateAgentRegister(types.Agent{Name: "runner-1", HostNodeID: n.NodeID()})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"agent_id": agent.ID})
	req := httptest.NewRequest("POST", "/tasks/"+created.ID+"/claim", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)

	var claimed types.Task
	require.NoError(t, json.NewDecoder(w.Body).Decode(&claimed))
	require.Equal(t, types.TaskStatusClaimed, claimed.Status)
	require.Equal(t, agent.ID, claimed.AssigneeAgentID)

	body, _ = json.Marshal(map[string]string{"result": "all green"})
	req = httptest.NewRequest("POST", "/tasks/"+created.ID+"/complete", bytes.NewReader(body))
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)

	var completed types.Task
	require.NoError(t, json.NewDecoder(w.Body).Decode(&completed))
	require.Equal(t, types.TaskStatusCompleted, completed.Status)
	require.Equal(t, "all green", completed.Result)
}

func TestAgentRegisterAndHeartbeat(t *testing.T) {
	n := testNode(t)
	s := NewServer(n, "127.0.0.1:0")

	body, _ := json.Marshal(types.Agent{Name: "runner-1", HostNodeID: n.NodeID()})
	req := httptest.NewRequest("POST", "/agents", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 201, w.Code)

	var agent types.Agent
	require.NoError(t, json.NewDecoder(w.Body).Decode(&agent))

	body, _ = json.Marshal(map[string]string{"status": string(types.AgentStatusBusy)})
	req = httptest.NewRequest("POST", "/agents/"+agent.ID+"/heartbeat", bytes.NewReader(body))
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)

	var updated types.Agent
	require.NoError(t, json.NewDecoder(w.Body).Decode(&updated))
	require.Equal(t, types.AgentStatusBusy, updated.Status)
}

func TestBadJSONReturnsBadRequest(t *testing.T) {
	n := testNode(t)
	s := NewServer(n, "127.0.0.1:0")

	req := httptest.NewRequest("POST", "/tasks", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, 400, w.Code)
}

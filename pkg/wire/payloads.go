package wire

import "github.com/fleetmesh/fleetd/pkg/types"

// HelloPayload is exchanged once per new connection (§4.2, §4.10).
type HelloPayload struct {
	NodeID   string        `json:"node_id"`
	P2PPort  int           `json:"p2p_port"`
	HTTPPort int           `json:"http_port"`
	Role     types.PeerRole `json:"role"`
}

// PEXPayload carries a random subset of known peer addresses (§4.3).
type PEXPayload struct {
	Peers []PEXPeer `json:"peers"`
}

type PEXPeer struct {
	NodeID   string `json:"node_id"`
	Address  string `json:"address"`
	P2PPort  int    `json:"p2p_port"`
}

// TaskMutationPayload carries a full Task value for create/update/
// complete/fail/cancel/archive/assign gossip (§4.7).
type TaskMutationPayload struct {
	Task types.Task `json:"task"`
}

// TaskClaimPayload carries a claim attempt for the resolver (§4.9).
type TaskClaimPayload struct {
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id"`
	NodeID    string `json:"node_id"`
	LamportTS int64  `json:"lamport_ts"`
}

// TaskSyncReqPayload requests every task mutated after SinceLamportTS
// (§4.8).
type TaskSyncReqPayload struct {
	SinceLamportTS int64 `json:"since_lamport_ts"`
}

type TaskSyncRspPayload struct {
	Tasks []types.Task `json:"tasks"`
}

// AgentMutationPayload carries a full Agent value for register/
// heartbeat gossip (§4.7).
type AgentMutationPayload struct {
	Agent types.Agent `json:"agent"`
}

type AgentDeregisterPayload struct {
	AgentID   string `json:"agent_id"`
	NodeID    string `json:"node_id"`
	LamportTS int64  `json:"lamport_ts"`
}

type AgentSyncReqPayload struct {
	SinceLamportTS int64 `json:"since_lamport_ts"`
}

type AgentSyncRspPayload struct {
	Agents []types.Agent `json:"agents"`
}

// EmperorHeartbeatPayload is broadcast by the current leader (§4.10).
type EmperorHeartbeatPayload struct {
	NodeID    string `json:"node_id"`
	HTTPPort  int    `json:"http_port"`
	LamportTS int64  `json:"lamport_ts"`
}

type ElectionStartPayload struct {
	NodeID    string `json:"node_id"`
	LamportTS int64  `json:"lamport_ts"`
}

type ElectionVictoryPayload struct {
	NodeID    string `json:"node_id"`
	HTTPPort  int    `json:"http_port"`
	LamportTS int64  `json:"lamport_ts"`
}

// DHTPutPayload carries a full entry for put/receive gossip (§4.11).
type DHTPutPayload struct {
	Entry types.DHTEntry `json:"entry"`
}

type DHTDeletePayload struct {
	Key       string `json:"key"`
	LamportTS int64  `json:"lamport_ts"`
	NodeID    string `json:"node_id"`
}

type DHTSyncReqPayload struct {
	SinceLamportTS int64 `json:"since_lamport_ts"`
}

type DHTSyncRspPayload struct {
	Entries []types.DHTEntry `json:"entries"`
}

// UpgradeRequestPayload asks a worker to self-replace (§4.13).
type UpgradeRequestPayload struct {
	TargetVersion string `json:"target_version"`
}

type UpgradeStatusPayload struct {
	NodeID  string `json:"node_id"`
	Phase   string `json:"phase"` // "stopping", "relaunched", "healthy", "failed"
	Detail  string `json:"detail,omitempty"`
}

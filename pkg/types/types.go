package types

import "time"

// TaskStatus is the lifecycle state of a Task. Terminal statuses are
// absorbing: see IsTerminal.
type TaskStatus string

const (
	TaskStatusPending       TaskStatus = "pending"
	TaskStatusPlanning      TaskStatus = "planning"
	TaskStatusClaimed       TaskStatus = "claimed"
	TaskStatusInProgress    TaskStatus = "in-progress"
	TaskStatusWaitingInput  TaskStatus = "waiting-input"
	TaskStatusPendingReview TaskStatus = "pending-review"
	TaskStatusMerging       TaskStatus = "merging"
	TaskStatusCompleted     TaskStatus = "completed"
	TaskStatusFailed        TaskStatus = "failed"
	TaskStatusCancelled     TaskStatus = "cancelled"
)

// IsTerminal reports whether s is one of the absorbing statuses.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a unit of work dispatched to an agent. Identity is ID; every
// mutation produces a new value with a strictly greater LamportTS.
type Task struct {
	ID                   string
	Title                string
	Description          string
	Priority             int
	RequiredCapabilities []string
	Creator              string
	AssigneeAgentID      string // optional
	AssignedNodeID       string // optional
	Status               TaskStatus
	Result               string
	Error                string
	Progress             string
	ParentID             string // optional
	DependsOn            []string
	GitBranch            string
	MergeAttempts        int
	Archived             bool
	LamportTS            int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          time.Time
}

// Clone returns a deep-enough copy safe for independent mutation: slices
// are copied, nested pointers do not exist on Task by design.
func (t Task) Clone() Task {
	c := t
	if t.RequiredCapabilities != nil {
		c.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	}
	if t.DependsOn != nil {
		c.DependsOn = append([]string(nil), t.DependsOn...)
	}
	return c
}

// AgentStatus is the current activity state of an Agent.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusBusy    AgentStatus = "busy"
	AgentStatusWaiting AgentStatus = "waiting"
	AgentStatusOffline AgentStatus = "offline"
)

// Agent is a long-running interactive process hosted on exactly one peer.
// The HostNodeID is authoritative: only the host node may mutate its own
// agents (spec §3 Agent invariant).
type Agent struct {
	ID                string
	HostNodeID        string
	Name              string
	ToolType          string
	Model             string
	Capabilities      []string
	SessionHandle     string
	WorkingDirectory  string
	MaxConcurrentJobs int
	Status            AgentStatus
	CurrentTaskID     string
	LastHeartbeat     time.Time
	LamportTS         int64
	RegisteredAt      time.Time
}

func (a Agent) Clone() Agent {
	c := a
	if a.Capabilities != nil {
		c.Capabilities = append([]string(nil), a.Capabilities...)
	}
	return c
}

// DHTEntry is a replicated key/value record with content-hash integrity.
// Tombstone entries carry an empty Value and keep whatever ContentHash
// the deleted entry had; pkg/dht's GC purges them once they are older
// than its grace window.
type DHTEntry struct {
	Key          string
	Value        []byte
	ContentHash  string // hex-encoded SHA-256 of Value
	OriginNodeID string
	LamportTS    int64
	ReplicaCount int
	TTLSeconds   int64 // 0 = never expires
	Tombstone    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (e DHTEntry) Clone() DHTEntry {
	c := e
	if e.Value != nil {
		c.Value = append([]byte(nil), e.Value...)
	}
	return c
}

// Expired reports whether e's TTL has elapsed as of now.
func (e DHTEntry) Expired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > time.Duration(e.TTLSeconds)*time.Second
}

// PeerRole is the role a peer advertises in its HELLO.
type PeerRole string

const (
	PeerRoleLeader  PeerRole = "leader"
	PeerRoleWorker  PeerRole = "worker"
	PeerRoleGateway PeerRole = "gateway"
)

// Peer is an entry in the in-memory peer registry. It is never persisted
// or gossiped — it is reconstructed from HELLO exchanges on every
// restart.
type Peer struct {
	NodeID     string
	Address    string // host:port of the connection (not self-advertised)
	P2PPort    int
	HTTPPort   int
	Role       PeerRole
	LastSeen   time.Time
}

// ClusterState is the single auxiliary row persisted per node: its own
// node id, role, and last-persisted Lamport clock value.
type ClusterState struct {
	NodeID       string
	Role         PeerRole
	LamportClock int64
}

// Event is a local, non-gossiped notification emitted as a side effect
// of applying a mutation. See pkg/events.
type Event struct {
	Type      string
	Timestamp time.Time
	NodeID    string
	TaskID    string
	AgentID   string
	Message   string
	Data      map[string]string
}

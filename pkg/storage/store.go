package storage

import (
	"errors"
	"time"

	"github.com/fleetmesh/fleetd/pkg/types"
)

// ErrNotFound is returned when a lookup by primary key finds nothing.
var ErrNotFound = errors.New("storage: not found")

// ErrCASConflict is returned by CompareAndSwapTask when the stored task's
// status is not one of the caller's expected statuses at the moment the
// transaction runs (spec §4.5, §7 "causal conflict").
var ErrCASConflict = errors.New("storage: compare-and-swap conflict")

// Store is the persistence interface every node keeps one of: a single
// bbolt file holding this node's view of tasks, agents, DHT entries, and
// its own cluster state row. Nothing here is itself replication — gossip
// and anti-entropy call through Store to apply and read back mutations.
type Store interface {
	PutTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	DeleteTask(id string) error
	ListTasks() ([]*types.Task, error)
	ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error)
	ListTasksByParent(parentID string) ([]*types.Task, error)
	ListTasksByNode(nodeID string) ([]*types.Task, error)
	ListTasksSince(lamportTS int64) ([]*types.Task, error)

	// CompareAndSwapTask loads the task, verifies its current status is
	// one of expected (an empty expected means "any status"), and calls
	// mutate to produce the new value in place. If mutate returns an
	// error the transaction aborts and nothing is written. Closes the
	// read-check-write race spec §4.5 calls out for concurrent claims.
	CompareAndSwapTask(id string, expected []types.TaskStatus, mutate func(*types.Task) error) (*types.Task, error)

	PutAgent(agent *types.Agent) error
	GetAgent(id string) (*types.Agent, error)
	DeleteAgent(id string) error
	ListAgents() ([]*types.Agent, error)
	ListAgentsByNode(nodeID string) ([]*types.Agent, error)
	ListAgentsByStatus(status types.AgentStatus) ([]*types.Agent, error)
	ListAgentsSince(lamportTS int64) ([]*types.Agent, error)

	PutDHTEntry(entry *types.DHTEntry) error
	GetDHTEntry(key string) (*types.DHTEntry, error)
	GetDHTEntryByContentHash(hash string) (*types.DHTEntry, error)
	DeleteDHTEntry(key string) error
	ListDHTEntries() ([]*types.DHTEntry, error)
	ListDHTEntriesSince(lamportTS int64) ([]*types.DHTEntry, error)
	ListExpiredTombstones(olderThan time.Time) ([]*types.DHTEntry, error)

	GetClusterState() (*types.ClusterState, error)
	PutClusterState(state *types.ClusterState) error

	Close() error
}

package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fleetmesh/fleetd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTasks  = []byte("tasks")
	bucketAgents = []byte("agents")
	bucketDHT    = []byte("dht_entries")
	bucketState  = []byte("state")

	// Secondary indexes. Each entry's key is <indexed-value>\x00<primary-key>
	// and its value is the primary key, so a prefix scan yields every
	// primary key for a given indexed value without a second lookup.
	idxTaskStatus  = []byte("idx_task_status")
	idxTaskParent  = []byte("idx_task_parent")
	idxTaskNode    = []byte("idx_task_node")
	idxTaskLamport = []byte("idx_task_lamport")

	idxAgentNode    = []byte("idx_agent_node")
	idxAgentStatus  = []byte("idx_agent_status")
	idxAgentLamport = []byte("idx_agent_lamport")

	idxDHTHash    = []byte("idx_dht_hash")
	idxDHTLamport = []byte("idx_dht_lamport")

	stateKey = []byte("cluster_state")
)

var allBuckets = [][]byte{
	bucketTasks, bucketAgents, bucketDHT, bucketState,
	idxTaskStatus, idxTaskParent, idxTaskNode, idxTaskLamport,
	idxAgentNode, idxAgentStatus, idxAgentLamport,
	idxDHTHash, idxDHTLamport,
}

// BoltStore implements Store on top of a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the node's state file under
// dataDir and ensures every bucket this package uses exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fleetd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func indexKey(value, id string) []byte {
	k := make([]byte, 0, len(value)+1+len(id))
	k = append(k, value...)
	k = append(k, 0)
	k = append(k, id...)
	return k
}

func lamportIndexKey(lamportTS int64, id string) []byte {
	k := make([]byte, 8+1+len(id))
	binary.BigEndian.PutUint64(k[:8], uint64(lamportTS))
	k[8] = 0
	copy(k[9:], id)
	return k
}

func scanIndex(tx *bolt.Tx, bucket []byte, prefix []byte) ([]string, error) {
	b := tx.Bucket(bucket)
	c := b.Cursor()
	var ids []string
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		ids = append(ids, string(v))
	}
	return ids, nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// --- Tasks ---

func (s *BoltStore) PutTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)

		if old := b.Get([]byte(task.ID)); old != nil {
			var prev types.Task
			if err := json.Unmarshal(old, &prev); err != nil {
				return err
			}
			if err := deleteTaskIndexes(tx, &prev); err != nil {
				return err
			}
		}

		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(task.ID), data); err != nil {
			return err
		}
		return putTaskIndexes(tx, task)
	})
}

func putTaskIndexes(tx *bolt.Tx, t *types.Task) error {
	if err := tx.Bucket(idxTaskStatus).Put(indexKey(string(t.Status), t.ID), []byte(t.ID)); err != nil {
		return err
	}
	if t.ParentID != "" {
		if err := tx.Bucket(idxTaskParent).Put(indexKey(t.ParentID, t.ID), []byte(t.ID)); err != nil {
			return err
		}
	}
	if t.AssignedNodeID != "" {
		if err := tx.Bucket(idxTaskNode).Put(indexKey(t.AssignedNodeID, t.ID), []byte(t.ID)); err != nil {
			return err
		}
	}
	return tx.Bucket(idxTaskLamport).Put(lamportIndexKey(t.LamportTS, t.ID), []byte(t.ID))
}

func deleteTaskIndexes(tx *bolt.Tx, t *types.Task) error {
	if err := tx.Bucket(idxTaskStatus).Delete(indexKey(string(t.Status), t.ID)); err != nil {
		return err
	}
	if t.ParentID != "" {
		if err := tx.Bucket(idxTaskParent).Delete(indexKey(t.ParentID, t.ID)); err != nil {
			return err
		}
	}
	if t.AssignedNodeID != "" {
		if err := tx.Bucket(idxTaskNode).Delete(indexKey(t.AssignedNodeID, t.ID)); err != nil {
			return err
		}
	}
	return tx.Bucket(idxTaskLamport).Delete(lamportIndexKey(t.LamportTS, t.ID))
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		old := b.Get([]byte(id))
		if old == nil {
			return nil
		}
		var prev types.Task
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}
		if err := deleteTaskIndexes(tx, &prev); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tasks = append(tasks, &t)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) listTasksByIndex(indexBucket []byte, prefix []byte) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		ids, err := scanIndex(tx, indexBucket, prefix)
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketTasks)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var t types.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			tasks = append(tasks, &t)
		}
		return nil
	})
	return tasks, err
}

func (s *BoltStore) ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error) {
	return s.listTasksByIndex(idxTaskStatus, append([]byte(status), 0))
}

func (s *BoltStore) ListTasksByParent(parentID string) ([]*types.Task, error) {
	return s.listTasksByIndex(idxTaskParent, append([]byte(parentID), 0))
}

func (s *BoltStore) ListTasksByNode(nodeID string) ([]*types.Task, error) {
	return s.listTasksByIndex(idxTaskNode, append([]byte(nodeID), 0))
}

func (s *BoltStore) ListTasksSince(lamportTS int64) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(idxTaskLamport).Cursor()
		seek := make([]byte, 8)
		binary.BigEndian.PutUint64(seek, uint64(lamportTS+1))
		b := tx.Bucket(bucketTasks)
		for k, v := c.Seek(seek); k != nil; k, v = c.Next() {
			data := b.Get(v)
			if data == nil {
				continue
			}
			var t types.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			tasks = append(tasks, &t)
		}
		return nil
	})
	return tasks, err
}

func (s *BoltStore) CompareAndSwapTask(id string, expected []types.TaskStatus, mutate func(*types.Task) error) (*types.Task, error) {
	var result types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var cur types.Task
		if err := json.Unmarshal(data, &cur); err != nil {
			return err
		}

		if len(expected) > 0 {
			ok := false
			for _, st := range expected {
				if cur.Status == st {
					ok = true
					break
				}
			}
			if !ok {
				return ErrCASConflict
			}
		}

		next := cur.Clone()
		if err := mutate(&next); err != nil {
			return err
		}

		if err := deleteTaskIndexes(tx, &cur); err != nil {
			return err
		}
		newData, err := json.Marshal(&next)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(next.ID), newData); err != nil {
			return err
		}
		if err := putTaskIndexes(tx, &next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// --- Agents ---

func putAgentIndexes(tx *bolt.Tx, a *types.Agent) error {
	if err := tx.Bucket(idxAgentNode).Put(indexKey(a.HostNodeID, a.ID), []byte(a.ID)); err != nil {
		return err
	}
	if err := tx.Bucket(idxAgentStatus).Put(indexKey(string(a.Status), a.ID), []byte(a.ID)); err != nil {
		return err
	}
	return tx.Bucket(idxAgentLamport).Put(lamportIndexKey(a.LamportTS, a.ID), []byte(a.ID))
}

func deleteAgentIndexes(tx *bolt.Tx, a *types.Agent) error {
	if err := tx.Bucket(idxAgentNode).Delete(indexKey(a.HostNodeID, a.ID)); err != nil {
		return err
	}
	if err := tx.Bucket(idxAgentStatus).Delete(indexKey(string(a.Status), a.ID)); err != nil {
		return err
	}
	return tx.Bucket(idxAgentLamport).Delete(lamportIndexKey(a.LamportTS, a.ID))
}

func (s *BoltStore) PutAgent(agent *types.Agent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		if old := b.Get([]byte(agent.ID)); old != nil {
			var prev types.Agent
			if err := json.Unmarshal(old, &prev); err != nil {
				return err
			}
			if err := deleteAgentIndexes(tx, &prev); err != nil {
				return err
			}
		}
		data, err := json.Marshal(agent)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(agent.ID), data); err != nil {
			return err
		}
		return putAgentIndexes(tx, agent)
	})
}

func (s *BoltStore) GetAgent(id string) (*types.Agent, error) {
	var agent types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgents).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &agent)
	})
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *BoltStore) DeleteAgent(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		old := b.Get([]byte(id))
		if old == nil {
			return nil
		}
		var prev types.Agent
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}
		if err := deleteAgentIndexes(tx, &prev); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListAgents() ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var a types.Agent
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			agents = append(agents, &a)
			return nil
		})
	})
	return agents, err
}

func (s *BoltStore) listAgentsByIndex(indexBucket []byte, prefix []byte) ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		ids, err := scanIndex(tx, indexBucket, prefix)
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketAgents)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var a types.Agent
			if err := json.Unmarshal(data, &a); err != nil {
				return err
			}
			agents = append(agents, &a)
		}
		return nil
	})
	return agents, err
}

func (s *BoltStore) ListAgentsByNode(nodeID string) ([]*types.Agent, error) {
	return s.listAgentsByIndex(idxAgentNode, append([]byte(nodeID), 0))
}

func (s *BoltStore) ListAgentsByStatus(status types.AgentStatus) ([]*types.Agent, error) {
	return s.listAgentsByIndex(idxAgentStatus, append([]byte(status), 0))
}

func (s *BoltStore) ListAgentsSince(lamportTS int64) ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(idxAgentLamport).Cursor()
		seek := make([]byte, 8)
		binary.BigEndian.PutUint64(seek, uint64(lamportTS+1))
		b := tx.Bucket(bucketAgents)
		for k, v := c.Seek(seek); k != nil; k, v = c.Next() {
			data := b.Get(v)
			if data == nil {
				continue
			}
			var a types.Agent
			if err := json.Unmarshal(data, &a); err != nil {
				return err
			}
			agents = append(agents, &a)
		}
		return nil
	})
	return agents, err
}

// --- DHT entries ---

func putDHTIndexes(tx *bolt.Tx, e *types.DHTEntry) error {
	if e.ContentHash != "" {
		if err := tx.Bucket(idxDHTHash).Put(indexKey(e.ContentHash, e.Key), []byte(e.Key)); err != nil {
			return err
		}
	}
	return tx.Bucket(idxDHTLamport).Put(lamportIndexKey(e.LamportTS, e.Key), []byte(e.Key))
}

func deleteDHTIndexes(tx *bolt.Tx, e *types.DHTEntry) error {
	if e.ContentHash != "" {
		if err := tx.Bucket(idxDHTHash).Delete(indexKey(e.ContentHash, e.Key)); err != nil {
			return err
		}
	}
	return tx.Bucket(idxDHTLamport).Delete(lamportIndexKey(e.LamportTS, e.Key))
}

func (s *BoltStore) PutDHTEntry(entry *types.DHTEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDHT)
		if old := b.Get([]byte(entry.Key)); old != nil {
			var prev types.DHTEntry
			if err := json.Unmarshal(old, &prev); err != nil {
				return err
			}
			if err := deleteDHTIndexes(tx, &prev); err != nil {
				return err
			}
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(entry.Key), data); err != nil {
			return err
		}
		return putDHTIndexes(tx, entry)
	})
}

func (s *BoltStore) GetDHTEntry(key string) (*types.DHTEntry, error) {
	var entry types.DHTEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDHT).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) GetDHTEntryByContentHash(hash string) (*types.DHTEntry, error) {
	var entry *types.DHTEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		ids, err := scanIndex(tx, idxDHTHash, append([]byte(hash), 0))
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return ErrNotFound
		}
		data := tx.Bucket(bucketDHT).Get([]byte(ids[0]))
		if data == nil {
			return ErrNotFound
		}
		var e types.DHTEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *BoltStore) DeleteDHTEntry(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDHT)
		old := b.Get([]byte(key))
		if old == nil {
			return nil
		}
		var prev types.DHTEntry
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}
		if err := deleteDHTIndexes(tx, &prev); err != nil {
			return err
		}
		return b.Delete([]byte(key))
	})
}

func (s *BoltStore) ListDHTEntries() ([]*types.DHTEntry, error) {
	var entries []*types.DHTEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDHT).ForEach(func(k, v []byte) error {
			var e types.DHTEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) ListDHTEntriesSince(lamportTS int64) ([]*types.DHTEntry, error) {
	var entries []*types.DHTEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(idxDHTLamport).Cursor()
		seek := make([]byte, 8)
		binary.BigEndian.PutUint64(seek, uint64(lamportTS+1))
		b := tx.Bucket(bucketDHT)
		for k, v := c.Seek(seek); k != nil; k, v = c.Next() {
			data := b.Get(v)
			if data == nil {
				continue
			}
			var e types.DHTEntry
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) ListExpiredTombstones(olderThan time.Time) ([]*types.DHTEntry, error) {
	var entries []*types.DHTEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDHT).ForEach(func(k, v []byte) error {
			var e types.DHTEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Tombstone && e.UpdatedAt.Before(olderThan) {
				entries = append(entries, &e)
			}
			return nil
		})
	})
	return entries, err
}

// --- Cluster state ---

func (s *BoltStore) GetClusterState() (*types.ClusterState, error) {
	var state types.ClusterState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get(stateKey)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) PutClusterState(state *types.ClusterState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketState).Put(stateKey, data)
	})
}

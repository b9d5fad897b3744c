/*
Package registry tracks the set of peers this node currently believes
are part of the mesh: the in-memory counterpart to pkg/storage, rebuilt
from HELLO exchanges on every restart rather than persisted (spec §4.2).

Peer identity is enforced at this layer: a HELLO advertising a node id
already registered under a different connection replaces the stale
entry rather than creating a duplicate, which is what lets a peer
reconnect after a transient network blip without leaving a ghost entry
behind.
*/
package registry

import (
	"sync"
	"time"

	"github.com/fleetmesh/fleetd/pkg/types"
)

// Registry is the node's live view of the peers it is directly or
// transitively aware of. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	selfID string
	peers  map[string]types.Peer
}

// New returns an empty Registry for the node identified by selfID.
// selfID is never added to peers — a node does not peer with itself.
func New(selfID string) *Registry {
	return &Registry{
		selfID: selfID,
		peers:  make(map[string]types.Peer),
	}
}

// Upsert records or replaces the entry for peer.NodeID. It is a no-op
// if peer.NodeID equals this registry's own node id.
func (r *Registry) Upsert(peer types.Peer) {
	if peer.NodeID == r.selfID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[peer.NodeID] = peer
}

// Touch updates LastSeen for nodeID if it is registered, without
// otherwise changing the entry. Used on every received frame to keep
// liveness current without a full HELLO re-exchange.
func (r *Registry) Touch(nodeID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[nodeID]
	if !ok {
		return
	}
	p.LastSeen = at
	r.peers[nodeID] = p
}

// Remove deletes nodeID's entry, if any.
func (r *Registry) Remove(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, nodeID)
}

// Get returns nodeID's entry and whether it exists.
func (r *Registry) Get(nodeID string) (types.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[nodeID]
	return p, ok
}

// List returns a snapshot of every known peer, in no particular order.
func (r *Registry) List() []types.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Leader returns the peer currently advertising PeerRoleLeader, if any
// is known. Ties (more than one peer claiming leadership, which can
// happen transiently during an election) are broken by lowest node id,
// mirroring the bully algorithm's tie-break in pkg/election.
func (r *Registry) Leader() (types.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best types.Peer
	found := false
	for _, p := range r.peers {
		if p.Role != types.PeerRoleLeader {
			continue
		}
		if !found || p.NodeID < best.NodeID {
			best = p
			found = true
		}
	}
	return best, found
}

// SetRole updates the role of an already-registered peer. It is a
// no-op if nodeID is not registered.
func (r *Registry) SetRole(nodeID string, role types.PeerRole) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[nodeID]
	if !ok {
		return
	}
	p.Role = role
	r.peers[nodeID] = p
}

// Count returns the number of known peers, not including self.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// PruneStale removes every peer whose LastSeen is older than threshold
// as of now, returning the removed node ids. Called by the offline
// detector alongside pkg/dedup's tombstone tracker (spec §4.2, §6
// agent_offline_threshold).
func (r *Registry) PruneStale(now time.Time, threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pruned []string
	for id, p := range r.peers {
		if now.Sub(p.LastSeen) > threshold {
			pruned = append(pruned, id)
			delete(r.peers, id)
		}
	}
	return pruned
}

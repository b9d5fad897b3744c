/*
Package storage provides bbolt-backed persistence for one node's view of
the mesh: its tasks, its agents, its DHT entries, and its own cluster
state row (node id, role, last-persisted Lamport clock).

Every node runs its own BoltStore — there is no shared database file.
Consistency across nodes comes from gossip and anti-entropy replaying
mutations through this same Store interface on every peer, not from
BoltDB itself.

# Buckets

	tasks           Task.ID -> Task (JSON)
	agents          Agent.ID -> Agent (JSON)
	dht_entries     DHTEntry.Key -> DHTEntry (JSON)
	state           fixed key "cluster_state" -> ClusterState (JSON)

	idx_task_status, idx_task_parent, idx_task_node, idx_task_lamport
	idx_agent_node, idx_agent_status, idx_agent_lamport
	idx_dht_hash, idx_dht_lamport

Each index bucket maps <indexed-value>\x00<primary-key> to the primary
key, so ListTasksByStatus and friends are a cursor prefix-scan rather
than a full bucket scan. The lamport indexes use an 8-byte big-endian
value prefix instead of a string, which keeps them in ascending
Lamport-timestamp order for the anti-entropy "since" queries.

Every Put first deletes the stale index entries for the previous value
at that key (if any) inside the same transaction, then writes the new
record and its index entries. bbolt transactions serialize writers, so
the delete-then-insert sequence is atomic with respect to other writers
without any additional locking.

# Compare-and-swap

CompareAndSwapTask is the one operation that isn't a plain upsert: it
loads the task, checks its status against the caller's expected set,
and only then invokes the caller's mutate function and writes the
result, all inside a single db.Update. This is what closes the
read-then-write race two agents racing to claim the same task would
otherwise hit — see pkg/claim.
*/
package storage

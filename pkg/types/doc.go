/*
Package types defines the value objects replicated across the fleet mesh.

Task, Agent, and DHTEntry are the three gossiped entity kinds named in
spec §3. Peer and ClusterState are local bookkeeping: Peer never leaves
the registry, ClusterState never leaves the owning node's store. Event
is a side effect of applying a mutation, not itself a replicated entity.

# Mutation model

Every entity carries a LamportTS. A mutation is never applied in place;
callers construct a new value (a Clone with fields changed) and hand it to
pkg/storage or pkg/gossip, which decide whether it supersedes what is on
disk. This keeps a Task or Agent value safe to read concurrently without
a lock - once handed out, nobody rewrites its fields underneath the
reader.

# Terminal states

TaskStatusCompleted, TaskStatusFailed, and TaskStatusCancelled are
absorbing: IsTerminal reports this, and pkg/gossip's task appliers
consult it before allowing a transition, inside the mutate functions
they pass to pkg/storage's CompareAndSwapTask (which itself checks only
the caller's expected statuses).
*/
package types

/*
Package gossip is the replication engine spec §4.7 describes: every
mutable entity (Task, Agent) is mutated through one of two paths —
Originate, when this node is the source of the change, or Receive,
when a peer forwarded it — and both paths converge on the same
apply-and-forward logic so a retransmitted or out-of-order message can
never leave two peers disagreeing about an entity's final state.

Originate stamps the mutation with a fresh Lamport tick, applies it to
pkg/storage, marks its dedup key seen, and broadcasts to every
connected peer. Receive witnesses the message's Lamport timestamp,
checks the dedup key and the entity's invariants (terminal-absorbing
for tasks, node-ownership and tombstones for agents), applies it if it
survives those checks, marks it seen, and forwards it to every peer
except the one it arrived from.

Nothing in this package opens a connection or reads from one — it is
handed a Broadcaster by the node wiring layer and is otherwise only
ever called from pkg/transport's OnMessage callback or from this
node's own API handlers.
*/
package gossip

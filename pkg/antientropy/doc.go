/*
Package antientropy is the secondary, lower-frequency repair loop spec
§4.8 describes: periodically, and eagerly right after a new peer's
HELLO exchange completes, a node picks one random connected neighbour
and pulls everything that neighbour holds for one entity kind with a
Lamport timestamp greater than the requester's own local maximum.

Unlike pkg/gossip's forward-on-receive propagation, a SYNC_RSP is never
re-broadcast — it is applied once, locally, through the same causal and
absorbing rules gossip uses (pkg/gossip's IngestTaskSnapshot and
IngestAgentSnapshot), which is what lets a rejoining or lagging peer
catch up without re-flooding the mesh.

The leader (the node configured as the authoritative task owner) is
asymmetric in both directions: its sync responses omit archived tasks,
and its ingestion path refuses to import task records from a peer's
reply at all, merging only the git branch field. This is spec §4.8's
protection against a lagging worker resurrecting a task the leader has
already cancelled or archived.
*/
package antientropy

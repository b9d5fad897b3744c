/*
Package election implements the bully-algorithm leader election spec
§4.10 describes. The current leader broadcasts EMPEROR_HEARTBEAT on a
fixed interval; every peer tracks when it last heard one. If none
arrives within the stale threshold, a peer starts an election by
broadcasting ELECTION_START carrying its own node id. A peer that
hears a lower node id during the election's timeout window yields;
otherwise it declares victory, promotes itself, and broadcasts
ELECTION_VICTORY followed by CENSUS_REQUEST so every peer re-announces
its agents against the new leader's now-empty view.

Correctness rests entirely on node id comparison: ids are unique, so
the lowest live id always wins a round, and two partitions that each
elect their own leader converge the instant they can see each other
again, because the higher-id leader yields on the next heartbeat
clash.
*/
package election

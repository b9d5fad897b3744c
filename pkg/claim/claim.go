/*
Package claim implements the deterministic tie-break spec §4.9 requires
when two peers claim the same pending task before either has heard the
other's claim. The rule is total, symmetric, and depends only on the
claim's own fields, so every peer that ever evaluates the same pair of
claims reaches the same winner regardless of delivery order.
*/
package claim

// Claim is a single claim attempt on a task: an (agent, node) pair
// stamped with the Lamport time it was made at.
type Claim struct {
	TaskID    string
	AgentID   string
	NodeID    string
	LamportTS int64
}

// Resolve decides between a claim already recorded locally and one
// just arriving from the mesh, per spec §4.9 step 3:
//
//   - the remote claim wins if its Lamport timestamp is strictly lower
//     (it happened first, causally);
//   - on a tie, the claim from the lexicographically lower node id
//     wins, which is only possible because node ids are unique, so
//     this never needs a further tiebreaker.
//
// Resolve does not look at task status — callers consult
// spec §4.9 steps 1/2/4 (missing task, pending task, terminal/
// in-progress task) before calling this.
func Resolve(local, remote Claim) Claim {
	if remote.LamportTS < local.LamportTS {
		return remote
	}
	if remote.LamportTS == local.LamportTS && remote.NodeID < local.NodeID {
		return remote
	}
	return local
}

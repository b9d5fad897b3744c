package election

import (
	"time"

	"github.com/fleetmesh/fleetd/pkg/events"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
)

// Receive decodes env's payload and routes it to the matching
// handler. The node wiring layer calls this for every inbound
// envelope whose type this package owns.
func (e *Engine) Receive(env *wire.Envelope, fromNodeID string) {
	switch env.Type {
	case wire.MsgEmperorHeartbeat:
		var p wire.EmperorHeartbeatPayload
		if e.decode(env, &p) {
			e.ReceiveHeartbeat(p)
		}
	case wire.MsgElectionStart:
		var p wire.ElectionStartPayload
		if e.decode(env, &p) {
			e.ReceiveElectionStart(p)
		}
	case wire.MsgElectionVictory:
		var p wire.ElectionVictoryPayload
		if e.decode(env, &p) {
			e.ReceiveElectionVictory(p)
		}
	case wire.MsgCensusRequest:
		e.ReceiveCensusRequest()
	}
}

func (e *Engine) decode(env *wire.Envelope, v interface{}) bool {
	if err := env.Decode(v); err != nil {
		e.logger.Warn().Err(err).Str("type", env.Type.String()).Msg("malformed election payload")
		return false
	}
	return true
}

// ReceiveHeartbeat refreshes the last-seen timestamp for the current
// leader. A heartbeat from anyone but the already-known leader also
// (re)registers that peer as leader in the registry, which is how a
// late-joining peer learns who is in charge without waiting for its
// own election timeout.
func (e *Engine) ReceiveHeartbeat(p wire.EmperorHeartbeatPayload) {
	e.clock.Witness(p.LamportTS)

	e.mu.Lock()
	e.lastHeartbeatAt = time.Now()
	// A simultaneous-victory race (spec §7) resolves in favor of the
	// lower node id: we only step down for a heartbeat from a peer
	// whose id beats ours, never for one with a higher id.
	yielding := e.isLeader && p.NodeID != e.cfg.SelfNodeID && p.NodeID < e.cfg.SelfNodeID
	if yielding {
		e.isLeader = false
	}
	e.mu.Unlock()

	if yielding {
		e.publish(events.EventLeaderLost, "stepped down: heartbeat from "+p.NodeID)
	}

	// registry.Leader() tie-breaks on lowest node id, so recording every
	// heartbeat sender as a candidate leader self-corrects once the
	// true (lower-id) leader's own heartbeats are also observed.
	e.registry.SetRole(p.NodeID, types.PeerRoleLeader)
}

// ReceiveElectionStart yields this node's own in-progress election (if
// any) when p.NodeID is lower than our own id, per the bully rule.
func (e *Engine) ReceiveElectionStart(p wire.ElectionStartPayload) {
	e.clock.Witness(p.LamportTS)

	if p.NodeID >= e.cfg.SelfNodeID {
		return
	}
	e.mu.Lock()
	e.yielded = true
	e.mu.Unlock()
}

// ReceiveElectionVictory adopts p.NodeID as leader, demoting this node
// if it had promoted itself (a simultaneous-victory race spec §7
// resolves by the lower node id standing).
func (e *Engine) ReceiveElectionVictory(p wire.ElectionVictoryPayload) {
	e.clock.Witness(p.LamportTS)

	e.mu.Lock()
	if e.isLeader && p.NodeID < e.cfg.SelfNodeID {
		e.isLeader = false
	}
	e.lastHeartbeatAt = time.Now()
	e.mu.Unlock()

	e.registry.SetRole(p.NodeID, types.PeerRoleLeader)
	e.publish(events.EventLeaderElected, "leader elected: "+p.NodeID)
}

// ReceiveCensusRequest invokes OnCensusRequest, if set, so this node
// re-announces every agent it hosts to the new leader.
func (e *Engine) ReceiveCensusRequest() {
	if e.OnCensusRequest != nil {
		e.OnCensusRequest()
	}
}

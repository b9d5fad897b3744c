package node

import (
	"context"
	"time"

	"github.com/fleetmesh/fleetd/pkg/discovery"
	"github.com/fleetmesh/fleetd/pkg/events"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
)

// drainDialQueue dials every address discovery suggests that this node
// is not already connected to. A failed dial is forgotten so a later
// beacon or PEX round can suggest it again.
func (n *Node) drainDialQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case addr := <-n.discovery.DialQueue():
			if n.conns.hasAddr(addr) {
				continue
			}
			if _, err := n.transport.Dial(ctx, addr); err != nil {
				n.logger.Debug().Err(err).Str("addr", addr).Msg("dial failed")
				n.discovery.Forget(addr)
			}
		}
	}
}

// runPEXLoop sends this node's known-peer sample to every connected
// neighbour on PEXInterval (spec §4.3).
func (n *Node) runPEXLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.PEXInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sendPEX()
		}
	}
}

func (n *Node) sendPEX() {
	payload := discovery.BuildPEX(n.registry.List(), n.cfg.PEXFanout)
	env, err := wire.NewEnvelope(wire.MsgPEX, n.cfg.NodeID, n.clock.Current(), payload)
	if err != nil {
		n.logger.Error().Err(err).Msg("build pex envelope")
		return
	}
	n.broadcastAll(env, "")
}

// runClockPersistLoop periodically flushes the Lamport clock's current
// value so a restart resumes from close to where it left off (spec §6
// clock_persist_interval), and flushes it once more on shutdown.
func (n *Node) runClockPersistLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.ClockPersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n.persistClock()
			return
		case <-ticker.C:
			n.persistClock()
		}
	}
}

func (n *Node) persistClock() {
	state := &types.ClusterState{NodeID: n.cfg.NodeID, Role: n.cfg.Role, LamportClock: n.clock.Current()}
	if err := n.store.PutClusterState(state); err != nil {
		n.logger.Error().Err(err).Msg("persist cluster state")
	}
}

// runStalePeerPruneLoop removes registry entries for peers that have
// gone silent past AgentOfflineThreshold without a clean disconnect
// (e.g. a crashed process whose TCP connection never closed cleanly).
func (n *Node) runStalePeerPruneLoop(ctx context.Context) {
	interval := n.cfg.AgentOfflineThreshold / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range n.registry.PruneStale(time.Now(), n.cfg.AgentOfflineThreshold) {
				n.events.Publish(&events.Event{Type: events.EventPeerLeft, Message: "peer pruned as stale: " + id})
			}
		}
	}
}

// runAgentOfflineSweepLoop marks agents hosted on this node offline
// once their heartbeat goes stale past AgentOfflineThreshold, past the
// AgentStartupGrace window a freshly registered agent is given before
// it is held to that threshold.
func (n *Node) runAgentOfflineSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.AgentHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sweepOfflineAgents()
		}
	}
}

func (n *Node) sweepOfflineAgents() {
	agents, err := n.store.ListAgentsByNode(n.cfg.NodeID)
	if err != nil {
		n.logger.Error().Err(err).Msg("list hosted agents for offline sweep")
		return
	}
	now := time.Now()
	for _, a := range agents {
		if a.Status == types.AgentStatusOffline {
			continue
		}
		if now.Sub(a.RegisteredAt) < n.cfg.AgentStartupGrace {
			continue
		}
		if now.Sub(a.LastHeartbeat) <= n.cfg.AgentOfflineThreshold {
			continue
		}
		if _, err := n.gossip.OriginateAgentHeartbeat(a.ID, types.AgentStatusOffline, a.CurrentTaskID); err != nil {
			n.logger.Error().Err(err).Str("agent_id", a.ID).Msg("mark agent offline")
		}
	}
}

// runPingLoop sends a liveness PING down every connection on
// PingTimeout, and relies on each connection's own read deadline
// (reset in onMessage for every frame it receives) to drop a peer that
// stops responding entirely.
func (n *Node) runPingLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.PingTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env, err := wire.NewEnvelope(wire.MsgPing, n.cfg.NodeID, n.clock.Current(), struct{}{})
			if err != nil {
				n.logger.Error().Err(err).Msg("build ping envelope")
				continue
			}
			n.broadcastAll(env, "")
		}
	}
}

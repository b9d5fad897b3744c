package gossip

import (
	"fmt"
	"time"

	"github.com/fleetmesh/fleetd/pkg/events"
	"github.com/fleetmesh/fleetd/pkg/storage"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
)

const kindAgent = "agent"

// OriginateAgentRegister inserts agent (hosted on this node) and
// broadcasts AGENT_REGISTER.
func (e *Engine) OriginateAgentRegister(agent types.Agent) (*types.Agent, error) {
	agent.HostNodeID = e.selfNodeID
	agent.LamportTS = e.clock.Tick()
	agent.RegisteredAt = time.Now()
	agent.LastHeartbeat = agent.RegisteredAt
	if agent.Status == "" {
		agent.Status = types.AgentStatusIdle
	}

	e.tombstones.Unmark(agent.ID)
	if err := e.store.PutAgent(&agent); err != nil {
		return nil, fmt.Errorf("gossip: originate agent register: %w", err)
	}
	e.seen.CheckAndAdd(seenKey(kindAgent, agent.ID, "register", agent.LamportTS))
	e.broadcast(wire.MsgAgentRegister, agent.LamportTS, "", wire.AgentMutationPayload{Agent: agent})
	e.publish(events.EventAgentJoined, "agent joined: "+agent.ID, nil)
	return &agent, nil
}

// receiveAgentRegister applies an incoming AGENT_REGISTER. Per spec
// §4.7: drop if tombstoned, otherwise insert and forward. The
// node-ownership invariant (spec §8) means a register for an agent
// this node itself hosts is always rejected — a peer only gossips
// registrations for agents it hosts, so a self-hosted id arriving
// remotely is either stale or malicious.
func (e *Engine) receiveAgentRegister(payload wire.AgentMutationPayload, fromAddr string) {
	agent := payload.Agent
	if e.seen.CheckAndAdd(seenKey(kindAgent, agent.ID, "register", agent.LamportTS)) {
		return
	}
	e.clock.Witness(agent.LamportTS)

	if agent.HostNodeID == e.selfNodeID {
		return // node-ownership invariant: never let a remote message own our agent
	}
	now := time.Now()
	if e.tombstones.IsTombstoned(agent.ID, now) {
		return
	}
	if agent.Status == "" {
		agent.Status = types.AgentStatusIdle
	}

	if err := e.store.PutAgent(&agent); err != nil {
		e.logger.Error().Err(err).Str("agent_id", agent.ID).Msg("store incoming agent register")
		return
	}
	e.publish(events.EventAgentJoined, "agent joined: "+agent.ID, nil)
	e.forward(wire.MsgAgentRegister, agent.LamportTS, fromAddr, payload)
}

// OriginateAgentHeartbeat refreshes status/current-task/timestamp for
// a locally hosted agent and broadcasts AGENT_HEARTBEAT.
func (e *Engine) OriginateAgentHeartbeat(agentID string, status types.AgentStatus, currentTaskID string) (*types.Agent, error) {
	lamportTS := e.clock.Tick()
	now := time.Now()

	agent, err := e.store.GetAgent(agentID)
	if err != nil {
		return nil, fmt.Errorf("gossip: originate agent heartbeat: %w", err)
	}
	agent.Status = status
	agent.CurrentTaskID = currentTaskID
	agent.LastHeartbeat = now
	agent.LamportTS = lamportTS

	if err := e.store.PutAgent(agent); err != nil {
		return nil, fmt.Errorf("gossip: originate agent heartbeat: %w", err)
	}
	e.seen.CheckAndAdd(seenKey(kindAgent, agentID, "heartbeat", lamportTS))
	e.broadcast(wire.MsgAgentHeartbeat, lamportTS, "", wire.AgentMutationPayload{Agent: *agent})
	e.publish(events.EventAgentHeartbeat, "agent heartbeat: "+agentID, nil)
	return agent, nil
}

// receiveAgentHeartbeat applies an incoming AGENT_HEARTBEAT. Per spec
// §4.7: if the agent is unknown locally, synthesise a stub record from
// the heartbeat fields; otherwise refresh status/current-task/
// heartbeat-timestamp. Dedup is keyed on (agent_id, lamport_ts) alone
// (not a fixed "heartbeat" event label) since every heartbeat from a
// given agent already carries a strictly increasing lamport_ts.
func (e *Engine) receiveAgentHeartbeat(payload wire.AgentMutationPayload, fromAddr string) {
	incoming := payload.Agent
	if e.seen.CheckAndAdd(fmt.Sprintf("%s:%s:%d", kindAgent, incoming.ID, incoming.LamportTS)) {
		return
	}
	e.clock.Witness(incoming.LamportTS)

	if incoming.HostNodeID == e.selfNodeID {
		return
	}
	now := time.Now()
	if e.tombstones.IsTombstoned(incoming.ID, now) {
		return
	}

	existing, err := e.store.GetAgent(incoming.ID)
	if err == storage.ErrNotFound {
		if err := e.store.PutAgent(&incoming); err != nil {
			e.logger.Error().Err(err).Str("agent_id", incoming.ID).Msg("store synthesised agent from heartbeat")
			return
		}
	} else if err != nil {
		e.logger.Error().Err(err).Str("agent_id", incoming.ID).Msg("lookup agent for heartbeat")
		return
	} else {
		existing.Status = incoming.Status
		existing.CurrentTaskID = incoming.CurrentTaskID
		existing.LastHeartbeat = incoming.LastHeartbeat
		existing.LamportTS = incoming.LamportTS
		if err := e.store.PutAgent(existing); err != nil {
			e.logger.Error().Err(err).Str("agent_id", incoming.ID).Msg("store agent heartbeat refresh")
			return
		}
	}

	e.publish(events.EventAgentHeartbeat, "agent heartbeat: "+incoming.ID, nil)
	e.forward(wire.MsgAgentHeartbeat, incoming.LamportTS, fromAddr, payload)
}

// OriginateAgentDeregister tombstones agentID, marks it offline,
// deletes the record, and broadcasts AGENT_DEREGISTER.
func (e *Engine) OriginateAgentDeregister(agentID string) error {
	lamportTS := e.clock.Tick()
	now := time.Now()

	e.tombstones.Mark(agentID, now)
	if err := e.store.DeleteAgent(agentID); err != nil && err != storage.ErrNotFound {
		return fmt.Errorf("gossip: originate agent deregister: %w", err)
	}

	e.seen.CheckAndAdd(seenKey(kindAgent, agentID, "deregister", lamportTS))
	e.broadcast(wire.MsgAgentDeregister, lamportTS, "", wire.AgentDeregisterPayload{
		AgentID: agentID, NodeID: e.selfNodeID, LamportTS: lamportTS,
	})
	e.publish(events.EventAgentLeft, "agent left: "+agentID, nil)
	return nil
}

func (e *Engine) receiveAgentDeregister(payload wire.AgentDeregisterPayload, fromAddr string) {
	if e.seen.CheckAndAdd(seenKey(kindAgent, payload.AgentID, "deregister", payload.LamportTS)) {
		return
	}
	e.clock.Witness(payload.LamportTS)

	if payload.NodeID == e.selfNodeID {
		return // node-ownership invariant
	}

	e.tombstones.Mark(payload.AgentID, time.Now())
	if err := e.store.DeleteAgent(payload.AgentID); err != nil && err != storage.ErrNotFound {
		e.logger.Error().Err(err).Str("agent_id", payload.AgentID).Msg("delete agent on deregister")
	}
	e.publish(events.EventAgentLeft, "agent left: "+payload.AgentID, nil)
	e.forward(wire.MsgAgentDeregister, payload.LamportTS, fromAddr, payload)
}

// IngestAgentSnapshot applies a full agent record received from
// pkg/antientropy's SYNC_RSP, same rules as gossip receive minus
// forwarding: node-ownership and tombstones both apply.
func (e *Engine) IngestAgentSnapshot(incoming types.Agent) error {
	if incoming.HostNodeID == e.selfNodeID {
		return nil
	}
	if e.tombstones.IsTombstoned(incoming.ID, time.Now()) {
		return nil
	}

	existing, err := e.store.GetAgent(incoming.ID)
	if err == storage.ErrNotFound {
		return e.store.PutAgent(&incoming)
	}
	if err != nil {
		return err
	}
	if existing.LamportTS >= incoming.LamportTS {
		return nil
	}
	return e.store.PutAgent(&incoming)
}

// LocalMaxAgentLamportTS returns the highest LamportTS across every
// agent this node holds.
func (e *Engine) LocalMaxAgentLamportTS() (int64, error) {
	agents, err := e.store.ListAgents()
	if err != nil {
		return 0, err
	}
	var max int64
	for _, a := range agents {
		if a.LamportTS > max {
			max = a.LamportTS
		}
	}
	return max, nil
}

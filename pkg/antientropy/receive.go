package antientropy

import "github.com/fleetmesh/fleetd/pkg/wire"

// Receive decodes env's payload and routes it to the matching
// sync-request or sync-response handler. Anything else is ignored —
// the node wiring layer only calls this for the four sync message
// types this package owns.
func (e *Engine) Receive(env *wire.Envelope, fromNodeID string) {
	switch env.Type {
	case wire.MsgTaskSyncReq:
		var p wire.TaskSyncReqPayload
		if e.decode(env, &p) {
			e.handleTaskSyncReq(p, fromNodeID)
		}
	case wire.MsgTaskSyncRsp:
		var p wire.TaskSyncRspPayload
		if e.decode(env, &p) {
			e.handleTaskSyncRsp(p)
		}
	case wire.MsgAgentSyncReq:
		var p wire.AgentSyncReqPayload
		if e.decode(env, &p) {
			e.handleAgentSyncReq(p, fromNodeID)
		}
	case wire.MsgAgentSyncRsp:
		var p wire.AgentSyncRspPayload
		if e.decode(env, &p) {
			e.handleAgentSyncRsp(p)
		}
	}
}

func (e *Engine) decode(env *wire.Envelope, v interface{}) bool {
	if err := env.Decode(v); err != nil {
		e.logger.Warn().Err(err).Str("type", env.Type.String()).Msg("malformed sync payload")
		return false
	}
	return true
}

// handleTaskSyncReq answers a TASK_SYNC_REQ with every task mutated
// after SinceLamportTS. Per spec §4.8's authority asymmetry, the
// authoritative node excludes archived tasks from its reply.
func (e *Engine) handleTaskSyncReq(p wire.TaskSyncReqPayload, fromNodeID string) {
	tasks, err := e.store.ListTasksSince(p.SinceLamportTS)
	if err != nil {
		e.logger.Error().Err(err).Msg("list tasks since for sync response")
		return
	}

	authoritative := e.cfg.Authoritative()
	filtered := tasks[:0]
	for _, t := range tasks {
		if authoritative && t.Archived {
			continue
		}
		filtered = append(filtered, t)
	}

	e.sendTaskSyncRsp(filtered, fromNodeID)
}

func (e *Engine) handleAgentSyncReq(p wire.AgentSyncReqPayload, fromNodeID string) {
	agents, err := e.store.ListAgentsSince(p.SinceLamportTS)
	if err != nil {
		e.logger.Error().Err(err).Msg("list agents since for sync response")
		return
	}
	e.sendAgentSyncRsp(agents, fromNodeID)
}

// handleTaskSyncRsp ingests every task in the reply through
// pkg/gossip's generic snapshot path, applying the leader's
// authoritative-refusal rule if this node is the leader.
func (e *Engine) handleTaskSyncRsp(p wire.TaskSyncRspPayload) {
	authoritative := e.cfg.Authoritative()
	for _, t := range p.Tasks {
		if err := e.engine.IngestTaskSnapshot(t, authoritative); err != nil {
			e.logger.Warn().Err(err).Str("task_id", t.ID).Msg("ingest task sync entry")
		}
	}
}

func (e *Engine) handleAgentSyncRsp(p wire.AgentSyncRspPayload) {
	for _, a := range p.Agents {
		if err := e.engine.IngestAgentSnapshot(a); err != nil {
			e.logger.Warn().Err(err).Str("agent_id", a.ID).Msg("ingest agent sync entry")
		}
	}
}

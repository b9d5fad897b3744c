package antientropy

import (
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
)

func (e *Engine) sendTaskSyncRsp(tasks []*types.Task, toNodeID string) {
	values := make([]types.Task, len(tasks))
	for i, t := range tasks {
		values[i] = *t
	}
	env, err := wire.NewEnvelope(wire.MsgTaskSyncRsp, e.cfg.SelfNodeID, 0, wire.TaskSyncRspPayload{Tasks: values})
	if err != nil {
		e.logger.Error().Err(err).Msg("build task sync response")
		return
	}
	e.peers.SendTo(toNodeID, env)
}

func (e *Engine) sendAgentSyncRsp(agents []*types.Agent, toNodeID string) {
	values := make([]types.Agent, len(agents))
	for i, a := range agents {
		values[i] = *a
	}
	env, err := wire.NewEnvelope(wire.MsgAgentSyncRsp, e.cfg.SelfNodeID, 0, wire.AgentSyncRspPayload{Agents: values})
	if err != nil {
		e.logger.Error().Err(err).Msg("build agent sync response")
		return
	}
	e.peers.SendTo(toNodeID, env)
}

package gossip

import (
	"fmt"
	"time"

	"github.com/fleetmesh/fleetd/pkg/claim"
	"github.com/fleetmesh/fleetd/pkg/events"
	"github.com/fleetmesh/fleetd/pkg/storage"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
)

const kindTask = "task"

// OriginateTaskCreate stamps task with a fresh Lamport tick, inserts
// it, and broadcasts TASK_CREATE. task.ID must already be set by the
// caller (the API layer mints it).
func (e *Engine) OriginateTaskCreate(task types.Task) (*types.Task, error) {
	task.LamportTS = e.clock.Tick()
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt
	if task.Status == "" {
		task.Status = types.TaskStatusPending
	}

	if err := e.store.PutTask(&task); err != nil {
		return nil, fmt.Errorf("gossip: originate task create: %w", err)
	}
	e.seen.CheckAndAdd(seenKey(kindTask, task.ID, "create", task.LamportTS))
	e.broadcast(wire.MsgTaskCreate, task.LamportTS, "", wire.TaskMutationPayload{Task: task})
	e.publish(events.EventTaskCreated, "task created: "+task.ID, nil)
	return &task, nil
}

// receiveTaskCreate applies an incoming TASK_CREATE: insert-or-ignore,
// per spec §4.7 — a re-delivery (the task already exists) is a no-op,
// not an error.
func (e *Engine) receiveTaskCreate(payload wire.TaskMutationPayload, fromAddr string) {
	task := payload.Task
	if e.seen.CheckAndAdd(seenKey(kindTask, task.ID, "create", task.LamportTS)) {
		return
	}
	e.clock.Witness(task.LamportTS)

	if _, err := e.store.GetTask(task.ID); err == nil {
		e.forward(wire.MsgTaskCreate, task.LamportTS, fromAddr, wire.TaskMutationPayload{Task: task})
		return
	} else if err != storage.ErrNotFound {
		e.logger.Error().Err(err).Str("task_id", task.ID).Msg("lookup task for create")
		return
	}

	if err := e.store.PutTask(&task); err != nil {
		e.logger.Error().Err(err).Str("task_id", task.ID).Msg("store incoming task create")
		return
	}
	e.publish(events.EventTaskCreated, "task created: "+task.ID, nil)
	e.forward(wire.MsgTaskCreate, task.LamportTS, fromAddr, wire.TaskMutationPayload{Task: task})
}

// OriginateTaskClaim attempts to claim taskID for agentID on behalf of
// this node, applying the same resolver a remote claim would go
// through so a locally- and remotely-arriving claim on the same task
// are handled identically.
func (e *Engine) OriginateTaskClaim(taskID, agentID string) (*types.Task, error) {
	lamportTS := e.clock.Tick()
	c := claim.Claim{TaskID: taskID, AgentID: agentID, NodeID: e.selfNodeID, LamportTS: lamportTS}

	task, err := e.applyClaim(c)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("gossip: task %s not claimable", taskID)
	}

	e.seen.CheckAndAdd(claimSeenKey(taskID, e.selfNodeID, lamportTS))
	e.broadcast(wire.MsgTaskClaim, lamportTS, "", wire.TaskClaimPayload{
		TaskID: taskID, AgentID: agentID, NodeID: e.selfNodeID, LamportTS: lamportTS,
	})
	e.publish(events.EventTaskClaimed, "task claimed: "+taskID, map[string]string{"agent_id": agentID})
	return task, nil
}

// claimSeenKey includes NodeID (unlike the generic "{kind}:{id}:{event}:
// {lamport_ts}" shape) because two different nodes' competing claims on
// the same task can legitimately carry the same lamport_ts — each
// node's Lamport clock is independent — and both claims must reach the
// resolver rather than the second being mistaken for a retransmission
// of the first.
func claimSeenKey(taskID, nodeID string, lamportTS int64) string {
	return fmt.Sprintf("%s:%s:claim:%s:%d", kindTask, taskID, nodeID, lamportTS)
}

func (e *Engine) receiveTaskClaim(payload wire.TaskClaimPayload, fromAddr string) {
	if e.seen.CheckAndAdd(claimSeenKey(payload.TaskID, payload.NodeID, payload.LamportTS)) {
		return
	}
	e.clock.Witness(payload.LamportTS)

	remote := claim.Claim{TaskID: payload.TaskID, AgentID: payload.AgentID, NodeID: payload.NodeID, LamportTS: payload.LamportTS}
	if _, err := e.applyClaim(remote); err != nil {
		e.logger.Debug().Err(err).Str("task_id", payload.TaskID).Msg("drop claim")
	}
	e.forward(wire.MsgTaskClaim, payload.LamportTS, fromAddr, payload)
}

// applyClaim is spec §4.9's resolver, implemented against the store's
// compare-and-swap primitive so a concurrent local claim attempt can't
// race a concurrently arriving remote one.
func (e *Engine) applyClaim(c claim.Claim) (*types.Task, error) {
	expected := []types.TaskStatus{types.TaskStatusPending, types.TaskStatusClaimed}
	task, err := e.store.CompareAndSwapTask(c.TaskID, expected, func(t *types.Task) error {
		switch t.Status {
		case types.TaskStatusPending:
			t.Status = types.TaskStatusClaimed
			t.AssigneeAgentID = c.AgentID
			t.AssignedNodeID = c.NodeID
			t.LamportTS = c.LamportTS
		case types.TaskStatusClaimed:
			local := claim.Claim{TaskID: t.ID, AgentID: t.AssigneeAgentID, NodeID: t.AssignedNodeID, LamportTS: t.LamportTS}
			winner := claim.Resolve(local, c)
			t.AssigneeAgentID = winner.AgentID
			t.AssignedNodeID = winner.NodeID
			t.LamportTS = winner.LamportTS
		default:
			return fmt.Errorf("task %s not in a claimable status", t.ID)
		}
		t.UpdatedAt = time.Now()
		return nil
	})
	if err == storage.ErrNotFound || err == storage.ErrCASConflict {
		return nil, nil // drop: missing task, or terminal/in-progress absorbing
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// OriginateTaskUpdate applies mutate to taskID if it exists and is
// non-terminal, stamping a fresh Lamport tick and broadcasting
// TASK_UPDATE. Branch merge semantics (non-empty incoming GitBranch
// replaces an empty local one, never the reverse) are the caller's
// responsibility when mutate sets GitBranch, matching how receiveTaskUpdate
// applies the same rule to a remote value.
func (e *Engine) OriginateTaskUpdate(taskID string, mutate func(*types.Task)) (*types.Task, error) {
	lamportTS := e.clock.Tick()
	task, err := e.store.CompareAndSwapTask(taskID, nil, func(t *types.Task) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("task %s is terminal", t.ID)
		}
		mutate(t)
		t.LamportTS = lamportTS
		t.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gossip: originate task update: %w", err)
	}

	e.seen.CheckAndAdd(seenKey(kindTask, taskID, "update", lamportTS))
	e.broadcast(wire.MsgTaskUpdate, lamportTS, "", wire.TaskMutationPayload{Task: *task})
	e.publish(events.EventTaskUpdated, "task updated: "+taskID, nil)
	return task, nil
}

func (e *Engine) receiveTaskUpdate(payload wire.TaskMutationPayload, fromAddr string) {
	incoming := payload.Task
	if e.seen.CheckAndAdd(seenKey(kindTask, incoming.ID, "update", incoming.LamportTS)) {
		return
	}
	e.clock.Witness(incoming.LamportTS)

	_, err := e.store.CompareAndSwapTask(incoming.ID, nil, func(t *types.Task) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("task %s is terminal", t.ID)
		}
		mergeTaskFields(t, incoming)
		return nil
	})
	if err != nil {
		e.logger.Debug().Err(err).Str("task_id", incoming.ID).Msg("drop task update")
	} else {
		e.publish(events.EventTaskUpdated, "task updated: "+incoming.ID, nil)
	}
	e.forward(wire.MsgTaskUpdate, incoming.LamportTS, fromAddr, payload)
}

// mergeTaskFields copies the mutable fields of incoming onto t,
// preserving t's GitBranch if incoming's is empty (spec §4.7: branch
// name is merged, a non-empty incoming value replaces an empty local
// one, never the reverse).
func mergeTaskFields(t *types.Task, incoming types.Task) {
	branch := t.GitBranch
	*t = incoming
	if branch != "" && t.GitBranch == "" {
		t.GitBranch = branch
	}
}

func (e *Engine) terminalMutation(taskID string, lamportTS int64, apply func(*types.Task)) (*types.Task, error) {
	return e.store.CompareAndSwapTask(taskID, nil, func(t *types.Task) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("task %s is terminal", t.ID)
		}
		apply(t)
		t.LamportTS = lamportTS
		t.UpdatedAt = time.Now()
		return nil
	})
}

// OriginateTaskComplete marks taskID completed with result, if it is
// non-terminal.
func (e *Engine) OriginateTaskComplete(taskID, result string) (*types.Task, error) {
	lamportTS := e.clock.Tick()
	now := time.Now()
	task, err := e.terminalMutation(taskID, lamportTS, func(t *types.Task) {
		t.Status = types.TaskStatusCompleted
		t.Result = result
		t.CompletedAt = now
	})
	if err != nil {
		return nil, fmt.Errorf("gossip: originate task complete: %w", err)
	}
	e.seen.CheckAndAdd(seenKey(kindTask, taskID, "complete", lamportTS))
	e.broadcast(wire.MsgTaskComplete, lamportTS, "", wire.TaskMutationPayload{Task: *task})
	e.publish(events.EventTaskCompleted, "task completed: "+taskID, nil)
	return task, nil
}

func (e *Engine) receiveTaskComplete(payload wire.TaskMutationPayload, fromAddr string) {
	incoming := payload.Task
	if e.seen.CheckAndAdd(seenKey(kindTask, incoming.ID, "complete", incoming.LamportTS)) {
		return
	}
	e.clock.Witness(incoming.LamportTS)

	_, err := e.terminalMutation(incoming.ID, incoming.LamportTS, func(t *types.Task) {
		mergeTaskFields(t, incoming)
		t.Status = types.TaskStatusCompleted
	})
	if err != nil {
		e.logger.Debug().Err(err).Str("task_id", incoming.ID).Msg("drop task complete")
	} else {
		e.publish(events.EventTaskCompleted, "task completed: "+incoming.ID, nil)
	}
	e.forward(wire.MsgTaskComplete, incoming.LamportTS, fromAddr, payload)
}

// OriginateTaskFail marks taskID failed with errMsg, clearing result
// per spec §4.7.
func (e *Engine) OriginateTaskFail(taskID, errMsg string) (*types.Task, error) {
	lamportTS := e.clock.Tick()
	task, err := e.terminalMutation(taskID, lamportTS, func(t *types.Task) {
		t.Status = types.TaskStatusFailed
		t.Error = errMsg
		t.Result = ""
	})
	if err != nil {
		return nil, fmt.Errorf("gossip: originate task fail: %w", err)
	}
	e.seen.CheckAndAdd(seenKey(kindTask, taskID, "fail", lamportTS))
	e.broadcast(wire.MsgTaskFail, lamportTS, "", wire.TaskMutationPayload{Task: *task})
	e.publish(events.EventTaskFailed, "task failed: "+taskID, nil)
	return task, nil
}

func (e *Engine) receiveTaskFail(payload wire.TaskMutationPayload, fromAddr string) {
	incoming := payload.Task
	if e.seen.CheckAndAdd(seenKey(kindTask, incoming.ID, "fail", incoming.LamportTS)) {
		return
	}
	e.clock.Witness(incoming.LamportTS)

	_, err := e.terminalMutation(incoming.ID, incoming.LamportTS, func(t *types.Task) {
		mergeTaskFields(t, incoming)
		t.Status = types.TaskStatusFailed
		t.Result = ""
	})
	if err != nil {
		e.logger.Debug().Err(err).Str("task_id", incoming.ID).Msg("drop task fail")
	} else {
		e.publish(events.EventTaskFailed, "task failed: "+incoming.ID, nil)
	}
	e.forward(wire.MsgTaskFail, incoming.LamportTS, fromAddr, payload)
}

// OriginateTaskCancel marks taskID cancelled.
func (e *Engine) OriginateTaskCancel(taskID string) (*types.Task, error) {
	lamportTS := e.clock.Tick()
	task, err := e.terminalMutation(taskID, lamportTS, func(t *types.Task) {
		t.Status = types.TaskStatusCancelled
	})
	if err != nil {
		return nil, fmt.Errorf("gossip: originate task cancel: %w", err)
	}
	e.seen.CheckAndAdd(seenKey(kindTask, taskID, "cancel", lamportTS))
	e.broadcast(wire.MsgTaskCancel, lamportTS, "", wire.TaskMutationPayload{Task: *task})
	e.publish(events.EventTaskCancelled, "task cancelled: "+taskID, nil)
	return task, nil
}

func (e *Engine) receiveTaskCancel(payload wire.TaskMutationPayload, fromAddr string) {
	incoming := payload.Task
	if e.seen.CheckAndAdd(seenKey(kindTask, incoming.ID, "cancel", incoming.LamportTS)) {
		return
	}
	e.clock.Witness(incoming.LamportTS)

	_, err := e.terminalMutation(incoming.ID, incoming.LamportTS, func(t *types.Task) {
		mergeTaskFields(t, incoming)
		t.Status = types.TaskStatusCancelled
	})
	if err != nil {
		e.logger.Debug().Err(err).Str("task_id", incoming.ID).Msg("drop task cancel")
	} else {
		e.publish(events.EventTaskCancelled, "task cancelled: "+incoming.ID, nil)
	}
	e.forward(wire.MsgTaskCancel, incoming.LamportTS, fromAddr, payload)
}

// OriginateTaskArchive sets taskID's archived flag. Archiving never
// deletes the record and is gated the same way as the other terminal
// mutations (status-gated: only a terminal task is archived).
func (e *Engine) OriginateTaskArchive(taskID string) (*types.Task, error) {
	lamportTS := e.clock.Tick()
	task, err := e.store.CompareAndSwapTask(taskID, []types.TaskStatus{
		types.TaskStatusCompleted, types.TaskStatusFailed, types.TaskStatusCancelled,
	}, func(t *types.Task) error {
		t.Archived = true
		t.LamportTS = lamportTS
		t.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gossip: originate task archive: %w", err)
	}
	e.seen.CheckAndAdd(seenKey(kindTask, taskID, "archive", lamportTS))
	e.broadcast(wire.MsgTaskArchive, lamportTS, "", wire.TaskMutationPayload{Task: *task})
	return task, nil
}

func (e *Engine) receiveTaskArchive(payload wire.TaskMutationPayload, fromAddr string) {
	incoming := payload.Task
	if e.seen.CheckAndAdd(seenKey(kindTask, incoming.ID, "archive", incoming.LamportTS)) {
		return
	}
	e.clock.Witness(incoming.LamportTS)

	_, err := e.store.CompareAndSwapTask(incoming.ID, []types.TaskStatus{
		types.TaskStatusCompleted, types.TaskStatusFailed, types.TaskStatusCancelled,
	}, func(t *types.Task) error {
		mergeTaskFields(t, incoming)
		t.Archived = true
		return nil
	})
	if err != nil {
		e.logger.Debug().Err(err).Str("task_id", incoming.ID).Msg("drop task archive")
	}
	e.forward(wire.MsgTaskArchive, incoming.LamportTS, fromAddr, payload)
}

// forward rebroadcasts a received mutation to every peer except the
// one it arrived from, per spec §4.7.
func (e *Engine) forward(t wire.MsgType, lamportTS int64, exceptAddr string, payload interface{}) {
	e.broadcast(t, lamportTS, exceptAddr, payload)
}

// IngestTaskSnapshot applies a full task record received from
// pkg/antientropy's SYNC_RSP, using the same causal and absorbing
// rules as the gossip receive path but without forwarding (anti-
// entropy is a point-to-point catch-up, not a propagation event).
//
// authoritative is true when this node is the leader — spec §4.8's
// authority asymmetry: the leader's ingestion path refuses to import
// task records at all, merging only GitBranch, so a lagging worker's
// anti-entropy reply can never resurrect a task the leader already
// cancelled or archived.
func (e *Engine) IngestTaskSnapshot(incoming types.Task, authoritative bool) error {
	if authoritative {
		_, err := e.store.CompareAndSwapTask(incoming.ID, nil, func(t *types.Task) error {
			if incoming.GitBranch != "" && t.GitBranch == "" {
				t.GitBranch = incoming.GitBranch
			}
			return nil
		})
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}

	existing, err := e.store.GetTask(incoming.ID)
	if err == storage.ErrNotFound {
		return e.store.PutTask(&incoming)
	}
	if err != nil {
		return err
	}
	if existing.Status.IsTerminal() || existing.LamportTS >= incoming.LamportTS {
		return nil // absorbing, or already at least as current
	}
	mergeTaskFields(existing, incoming)
	return e.store.PutTask(existing)
}

// LocalMaxTaskLamportTS returns the highest LamportTS across every
// task this node holds, the value pkg/antientropy sends as
// since_lamport_ts on a TASK_SYNC_REQ.
func (e *Engine) LocalMaxTaskLamportTS() (int64, error) {
	tasks, err := e.store.ListTasks()
	if err != nil {
		return 0, err
	}
	var max int64
	for _, t := range tasks {
		if t.LamportTS > max {
			max = t.LamportTS
		}
	}
	return max, nil
}

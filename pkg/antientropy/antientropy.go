package antientropy

import (
	"context"
	"time"

	"github.com/fleetmesh/fleetd/pkg/gossip"
	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/storage"
	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/rs/zerolog"
)

// Unicaster is the subset of the node's connection bookkeeping
// anti-entropy needs: a random live peer to pull from, and a way to
// send one envelope to a specific peer by node id. Implemented by
// pkg/node over its live connection set.
type Unicaster interface {
	RandomPeer() (nodeID string, ok bool)
	SendTo(nodeID string, env *wire.Envelope) bool
}

// Config carries the per-kind repair intervals spec §6 defaults.
type Config struct {
	SelfNodeID string
	// Authoritative is true when this node is the current leader, the
	// task system's sole authoritative owner per spec §4.8.
	Authoritative func() bool

	TaskInterval  time.Duration
	AgentInterval time.Duration
}

const (
	defaultTaskInterval  = 60 * time.Second
	defaultAgentInterval = 30 * time.Second
)

// Engine drives the periodic and eager anti-entropy cycles for tasks
// and agents.
type Engine struct {
	cfg    Config
	store  storage.Store
	engine *gossip.Engine
	peers  Unicaster
	logger zerolog.Logger
}

// New returns an Engine ready to Run. Zero-value intervals fall back
// to spec §6 defaults.
func New(cfg Config, store storage.Store, gossipEngine *gossip.Engine, peers Unicaster) *Engine {
	if cfg.TaskInterval <= 0 {
		cfg.TaskInterval = defaultTaskInterval
	}
	if cfg.AgentInterval <= 0 {
		cfg.AgentInterval = defaultAgentInterval
	}
	if cfg.Authoritative == nil {
		cfg.Authoritative = func() bool { return false }
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		engine: gossipEngine,
		peers:  peers,
		logger: log.WithComponent("antientropy"),
	}
}

// Run starts both the task and agent repair loops and blocks until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) {
	go e.loop(ctx, e.cfg.TaskInterval, e.RequestTaskSync)
	e.loop(ctx, e.cfg.AgentInterval, e.RequestAgentSync)
}

func (e *Engine) loop(ctx context.Context, interval time.Duration, fire func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire()
		}
	}
}

// RequestTaskSync picks one random connected peer and sends it a
// TASK_SYNC_REQ. A no-op if no peer is currently connected.
func (e *Engine) RequestTaskSync() {
	nodeID, ok := e.peers.RandomPeer()
	if !ok {
		return
	}
	e.RequestTaskSyncFrom(nodeID)
}

// RequestTaskSyncFrom sends a TASK_SYNC_REQ to nodeID specifically.
// Called both by the periodic loop (random peer) and eagerly right
// after a HELLO exchange completes with a specific new peer.
func (e *Engine) RequestTaskSyncFrom(nodeID string) {
	since, err := e.engine.LocalMaxTaskLamportTS()
	if err != nil {
		e.logger.Error().Err(err).Msg("compute local max task lamport_ts")
		return
	}
	env, err := wire.NewEnvelope(wire.MsgTaskSyncReq, e.cfg.SelfNodeID, 0, wire.TaskSyncReqPayload{SinceLamportTS: since})
	if err != nil {
		e.logger.Error().Err(err).Msg("build task sync req")
		return
	}
	e.peers.SendTo(nodeID, env)
}

// RequestAgentSync picks one random connected peer and sends it an
// AGENT_SYNC_REQ.
func (e *Engine) RequestAgentSync() {
	nodeID, ok := e.peers.RandomPeer()
	if !ok {
		return
	}
	e.RequestAgentSyncFrom(nodeID)
}

// RequestAgentSyncFrom sends an AGENT_SYNC_REQ to nodeID specifically.
func (e *Engine) RequestAgentSyncFrom(nodeID string) {
	since, err := e.engine.LocalMaxAgentLamportTS()
	if err != nil {
		e.logger.Error().Err(err).Msg("compute local max agent lamport_ts")
		return
	}
	env, err := wire.NewEnvelope(wire.MsgAgentSyncReq, e.cfg.SelfNodeID, 0, wire.AgentSyncReqPayload{SinceLamportTS: since})
	if err != nil {
		e.logger.Error().Err(err).Msg("build agent sync req")
		return
	}
	e.peers.SendTo(nodeID, env)
}

package election

import (
	"context"
	"sync"
	"time"

	"github.com/fleetmesh/fleetd/pkg/clock"
	"github.com/fleetmesh/fleetd/pkg/events"
	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/registry"
	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/rs/zerolog"
)

// Broadcaster sends env to every connected peer. Elections always
// address the whole mesh, so there is no except-sender parameter here
// (unlike pkg/gossip.Broadcaster).
type Broadcaster interface {
	Broadcast(env *wire.Envelope)
}

const (
	defaultHeartbeatInterval = 10 * time.Second
	defaultElectionTimeout   = 5 * time.Second
	defaultStaleThreshold    = 30 * time.Second

	// tickInterval is how often the stale-heartbeat detector polls;
	// independent of HeartbeatInterval so StaleThreshold need not be a
	// multiple of it.
	tickInterval = 1 * time.Second
)

// Config carries election's tunables; zero values fall back to spec
// §6 defaults.
type Config struct {
	SelfNodeID string
	HTTPPort   int

	HeartbeatInterval time.Duration
	ElectionTimeout   time.Duration
	StaleThreshold    time.Duration
}

// Engine runs one node's leader-election state machine. Safe for
// concurrent use.
type Engine struct {
	cfg         Config
	clock       *clock.Clock
	registry    *registry.Registry
	broadcaster Broadcaster
	events      *events.Broker
	logger      zerolog.Logger

	// OnCensusRequest is invoked whenever this node receives (or, as
	// the new leader, sends) CENSUS_REQUEST; the node wiring layer sets
	// this to re-announce every agent this node hosts.
	OnCensusRequest func()

	mu              sync.Mutex
	isLeader        bool
	lastHeartbeatAt time.Time
	electionActive  bool
	yielded         bool
}

// New returns an Engine for selfNodeID. A node starts as a worker with
// no known leader; if none is heard from within StaleThreshold it
// starts its own election, which is how a freshly bootstrapped mesh
// elects its first leader.
func New(cfg Config, clk *clock.Clock, reg *registry.Registry, broadcaster Broadcaster, evts *events.Broker) *Engine {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ElectionTimeout <= 0 {
		cfg.ElectionTimeout = defaultElectionTimeout
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = defaultStaleThreshold
	}
	return &Engine{
		cfg:             cfg,
		clock:           clk,
		registry:        reg,
		broadcaster:     broadcaster,
		events:          evts,
		logger:          log.WithComponent("election"),
		lastHeartbeatAt: time.Now(),
	}
}

// IsLeader reports whether this node currently believes it is leader.
func (e *Engine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// Run starts the heartbeat-emit loop (active only while leader) and
// the stale-heartbeat detector, and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastHeartbeatSent := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if e.IsLeader() {
				if now.Sub(lastHeartbeatSent) >= e.cfg.HeartbeatInterval {
					e.sendHeartbeat()
					lastHeartbeatSent = now
				}
				continue
			}
			e.mu.Lock()
			stale := now.Sub(e.lastHeartbeatAt) > e.cfg.StaleThreshold
			active := e.electionActive
			e.mu.Unlock()
			if stale && !active {
				go e.StartElection()
			}
		}
	}
}

func (e *Engine) sendHeartbeat() {
	e.broadcast(wire.MsgEmperorHeartbeat, wire.EmperorHeartbeatPayload{
		NodeID: e.cfg.SelfNodeID, HTTPPort: e.cfg.HTTPPort, LamportTS: e.clock.Current(),
	})
}

func (e *Engine) broadcast(t wire.MsgType, payload interface{}) {
	env, err := wire.NewEnvelope(t, e.cfg.SelfNodeID, e.clock.Current(), payload)
	if err != nil {
		e.logger.Error().Err(err).Str("type", t.String()).Msg("marshal election envelope")
		return
	}
	e.broadcaster.Broadcast(env)
}

// StartElection broadcasts ELECTION_START and, unless a lower node id
// is heard before ElectionTimeout elapses, promotes this node to
// leader and broadcasts ELECTION_VICTORY + CENSUS_REQUEST.
func (e *Engine) StartElection() {
	e.mu.Lock()
	if e.electionActive {
		e.mu.Unlock()
		return
	}
	e.electionActive = true
	e.yielded = false
	e.mu.Unlock()

	lamportTS := e.clock.Tick()
	e.logger.Info().Str("node_id", e.cfg.SelfNodeID).Msg("starting election")
	e.broadcast(wire.MsgElectionStart, wire.ElectionStartPayload{NodeID: e.cfg.SelfNodeID, LamportTS: lamportTS})

	time.Sleep(e.cfg.ElectionTimeout)

	e.mu.Lock()
	yielded := e.yielded
	e.electionActive = false
	e.mu.Unlock()

	if yielded {
		return
	}
	e.promote()
}

func (e *Engine) promote() {
	e.mu.Lock()
	e.isLeader = true
	e.lastHeartbeatAt = time.Now()
	e.mu.Unlock()

	lamportTS := e.clock.Tick()
	e.logger.Info().Str("node_id", e.cfg.SelfNodeID).Msg("declaring victory")
	e.broadcast(wire.MsgElectionVictory, wire.ElectionVictoryPayload{
		NodeID: e.cfg.SelfNodeID, HTTPPort: e.cfg.HTTPPort, LamportTS: lamportTS,
	})
	e.broadcast(wire.MsgCensusRequest, struct{}{})
	e.publish(events.EventLeaderElected, "elected leader: "+e.cfg.SelfNodeID)
	if e.OnCensusRequest != nil {
		e.OnCensusRequest()
	}
}

func (e *Engine) publish(typ events.EventType, message string) {
	if e.events == nil {
		return
	}
	e.events.Publish(&events.Event{Type: typ, Message: message})
}

package node

import (
	"context"
	"fmt"

	"github.com/fleetmesh/fleetd/pkg/antientropy"
	"github.com/fleetmesh/fleetd/pkg/clock"
	"github.com/fleetmesh/fleetd/pkg/dedup"
	"github.com/fleetmesh/fleetd/pkg/dht"
	"github.com/fleetmesh/fleetd/pkg/discovery"
	"github.com/fleetmesh/fleetd/pkg/election"
	"github.com/fleetmesh/fleetd/pkg/events"
	"github.com/fleetmesh/fleetd/pkg/gateway"
	"github.com/fleetmesh/fleetd/pkg/gossip"
	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/registry"
	"github.com/fleetmesh/fleetd/pkg/storage"
	"github.com/fleetmesh/fleetd/pkg/transport"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/upgrade"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Node is one process's complete mesh stack: every engine built so far,
// wired to a single live connection set.
type Node struct {
	cfg    Config
	logger zerolog.Logger

	store  storage.Store
	clock  *clock.Clock
	events *events.Broker

	registry    *registry.Registry
	transport   *transport.Transport
	discovery   *discovery.Discovery
	gossip      *gossip.Engine
	antiEntropy *antientropy.Engine
	election    *election.Engine
	dht         *dht.Engine
	gateway     *gateway.Gateway
	upgradeCo   *upgrade.Coordinator
	upgradeWk   *upgrade.Worker

	conns *connSet
}

// New builds every subsystem from cfg and returns a Node ready to Run.
// It opens (or creates) the bbolt store at cfg.DataDir, loading a
// persisted node id and Lamport clock value if one exists.
func New(cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	state, err := store.GetClusterState()
	if err == storage.ErrNotFound {
		state = &types.ClusterState{}
	} else if err != nil {
		store.Close()
		return nil, fmt.Errorf("node: load cluster state: %w", err)
	}

	if cfg.NodeID == "" {
		cfg.NodeID = state.NodeID
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.New().String()
	}
	if state.Role == "" {
		state.Role = cfg.Role
	}
	state.NodeID = cfg.NodeID
	if err := store.PutClusterState(state); err != nil {
		store.Close()
		return nil, fmt.Errorf("node: persist cluster state: %w", err)
	}

	n := &Node{
		cfg:    cfg,
		logger: log.WithNodeID(cfg.NodeID),
		store:  store,
		clock:  clock.New(state.LamportClock),
		events: events.NewBroker(),
	}
	n.conns = newConnSet()
	n.registry = registry.New(cfg.NodeID)

	seen := dedup.NewSeenSet(cfg.SeenSetCapacity)
	tombstones := dedup.NewTombstoneTracker(cfg.TombstoneTTL)

	n.transport = transport.New(cfg.ListenAddr, transport.Handlers{
		OnConnect:    n.onConnect,
		OnMessage:    n.onMessage,
		OnDisconnect: n.onDisconnect,
	})

	n.discovery = discovery.New(discovery.Config{
		NodeID:           cfg.NodeID,
		P2PPort:          p2pPort(cfg.ListenAddr),
		HTTPPort:         cfg.HTTPPort,
		Role:             cfg.Role,
		BeaconListenAddr: cfg.BeaconListenAddr,
		BroadcastAddr:    cfg.BroadcastAddr,
		MulticastAddr:    cfg.MulticastAddr,
		BeaconInterval:   cfg.BeaconInterval,
		SeedAddrs:        cfg.SeedAddrs,
		PEXInterval:      cfg.PEXInterval,
		PEXFanout:        cfg.PEXFanout,
	})

	n.gossip = gossip.New(cfg.NodeID, store, n.clock, seen, tombstones, gossipBroadcaster{n}, n.events)

	n.antiEntropy = antientropy.New(antientropy.Config{
		SelfNodeID:    cfg.NodeID,
		Authoritative: func() bool { return n.election.IsLeader() },
		TaskInterval:  cfg.AntiEntropyInterval,
		AgentInterval: cfg.AntiEntropyInterval,
	}, store, n.gossip, peerUnicaster{n})

	n.election = election.New(election.Config{
		SelfNodeID:        cfg.NodeID,
		HTTPPort:          cfg.HTTPPort,
		HeartbeatInterval: cfg.EmperorHeartbeatInterval,
		ElectionTimeout:   cfg.ElectionTimeout,
		StaleThreshold:    cfg.EmperorStaleThreshold,
	}, n.clock, n.registry, electionBroadcaster{n}, n.events)
	n.election.OnCensusRequest = n.announceHostedAgents

	n.dht = dht.New(dht.Config{
		SelfNodeID:     cfg.NodeID,
		PurgeInterval:  cfg.DHTPurgeInterval,
		TombstoneGrace: cfg.DHTTombstoneGrace,
	}, store, n.clock, dedup.NewSeenSet(cfg.SeenSetCapacity), gossipBroadcaster{n}, peerUnicaster{n})

	if cfg.GatewayListenAddr != "" {
		n.gateway = gateway.New(gateway.Config{ListenAddr: cfg.GatewayListenAddr})
	}

	n.upgradeCo = upgrade.New(upgrade.Config{
		SelfNodeID:      cfg.NodeID,
		TargetVersion:   cfg.UpgradeTargetVersion,
		ContinueOnError: cfg.UpgradeContinueOnError,
		ConfirmHealth:   n.confirmUpgradeHealth,
	}, n.registry, peerUnicaster{n})
	n.upgradeWk = upgrade.NewWorker(upgrade.WorkerConfig{SelfNodeID: cfg.NodeID}, peerUnicaster{n})
	n.upgradeWk.OnSelfReplace = cfg.OnSelfReplace

	return n, nil
}

// Run starts every background loop and blocks until ctx is cancelled or
// a fatal component error occurs (transport failing to bind, most
// notably). A cancelled ctx always returns nil.
func (n *Node) Run(ctx context.Context) error {
	n.events.Start()
	defer n.events.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.transport.Listen(ctx) })
	g.Go(func() error { n.discovery.Run(ctx); return nil })
	g.Go(func() error { n.drainDialQueue(ctx); return nil })
	g.Go(func() error { n.election.Run(ctx); return nil })
	g.Go(func() error { n.antiEntropy.Run(ctx); return nil })
	g.Go(func() error { n.dht.RunGC(ctx.Done()); return nil })
	g.Go(func() error { n.dht.RunSync(ctx.Done()); return nil })
	g.Go(func() error { n.runPEXLoop(ctx); return nil })
	g.Go(func() error { n.runClockPersistLoop(ctx); return nil })
	g.Go(func() error { n.runStalePeerPruneLoop(ctx); return nil })
	g.Go(func() error { n.runAgentOfflineSweepLoop(ctx); return nil })
	g.Go(func() error { n.runPingLoop(ctx); return nil })
	if n.gateway != nil {
		g.Go(func() error { return n.gateway.Run(ctx) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the node's persistent storage handle. Callers call
// this after Run returns.
func (n *Node) Close() error {
	return n.store.Close()
}

// NodeID returns this node's identity.
func (n *Node) NodeID() string { return n.cfg.NodeID }

// Store exposes the underlying storage.Store for the HTTP API layer.
func (n *Node) Store() storage.Store { return n.store }

// Registry exposes the live peer registry for the HTTP API layer.
func (n *Node) Registry() *registry.Registry { return n.registry }

// Gossip exposes the gossip engine for the HTTP API layer to originate
// task and agent mutations through.
func (n *Node) Gossip() *gossip.Engine { return n.gossip }

// DHT exposes the DHT engine for the HTTP API layer.
func (n *Node) DHT() *dht.Engine { return n.dht }

// Events exposes the local event broker, e.g. for a /ws/events stream.
func (n *Node) Events() *events.Broker { return n.events }

// IsLeader reports whether this node currently believes it is leader.
func (n *Node) IsLeader() bool { return n.election.IsLeader() }

// RunUpgrade drives a rolling upgrade across the mesh; callers
// typically invoke it only on the current leader.
func (n *Node) RunUpgrade(ctx context.Context) error {
	return n.upgradeCo.Run(ctx)
}

// Connect dials addr directly, outside discovery's beacon/seed/PEX
// suggestions. It's the manual bridge an operator (or a test) uses to
// heal a network partition on demand rather than waiting for discovery
// to rediscover the other side on its own.
func (n *Node) Connect(ctx context.Context, addr string) error {
	if n.conns.hasAddr(addr) {
		return nil
	}
	_, err := n.transport.Dial(ctx, addr)
	return err
}

// announceHostedAgents re-broadcasts every agent this node hosts; wired
// as election's OnCensusRequest so a newly elected leader (or any node
// asked to account for itself) resends its full local agent set.
func (n *Node) announceHostedAgents() {
	agents, err := n.store.ListAgentsByNode(n.cfg.NodeID)
	if err != nil {
		n.logger.Error().Err(err).Msg("list hosted agents for census")
		return
	}
	for _, a := range agents {
		if _, err := n.gossip.OriginateAgentHeartbeat(a.ID, a.Status, a.CurrentTaskID); err != nil {
			n.logger.Error().Err(err).Str("agent_id", a.ID).Msg("re-announce hosted agent")
		}
	}
}

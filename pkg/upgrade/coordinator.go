package upgrade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/registry"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

const defaultReappearTimeout = 120 * time.Second

// Unicaster sends one envelope directly to nodeID.
type Unicaster interface {
	SendTo(nodeID string, env *wire.Envelope) bool
}

// Config carries the coordinator's tunables.
type Config struct {
	SelfNodeID      string
	TargetVersion   string
	ContinueOnError bool
	ReappearTimeout time.Duration // default 120s

	// ConfirmHealth, if set, is called after a worker self-reports
	// "healthy" and before the coordinator moves on to the next one —
	// spec §4.13's "optionally hits its health endpoint" step. A
	// returned error fails that worker's upgrade exactly as a "failed"
	// status would. Left nil, the coordinator takes the worker's own
	// report at face value.
	ConfirmHealth func(ctx context.Context, peer types.Peer) error
}

// Coordinator drives a rolling upgrade across every peer the registry
// currently knows about, one worker at a time, leader last.
type Coordinator struct {
	cfg      Config
	registry *registry.Registry
	peers    Unicaster
	logger   zerolog.Logger

	mu      sync.Mutex
	waiters map[string]chan wire.UpgradeStatusPayload
}

// New returns a Coordinator ready to Run.
func New(cfg Config, reg *registry.Registry, peers Unicaster) *Coordinator {
	if cfg.ReappearTimeout <= 0 {
		cfg.ReappearTimeout = defaultReappearTimeout
	}
	return &Coordinator{
		cfg:      cfg,
		registry: reg,
		peers:    peers,
		logger:   log.WithComponent("upgrade"),
		waiters:  make(map[string]chan wire.UpgradeStatusPayload),
	}
}

// Run upgrades every currently known peer in turn, returning a
// multierror of per-worker failures. If cfg.ContinueOnError is false,
// Run stops at and returns the first failure.
func (c *Coordinator) Run(ctx context.Context) error {
	order := orderWorkersLast(c.registry.List())
	var result *multierror.Error

	for _, peer := range order {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.logger.Info().Str("node_id", peer.NodeID).Msg("starting worker upgrade")
		if err := c.upgradeOne(ctx, peer); err != nil {
			wrapped := fmt.Errorf("upgrade %s: %w", peer.NodeID, err)
			c.logger.Error().Err(err).Str("node_id", peer.NodeID).Msg("worker upgrade failed")
			result = multierror.Append(result, wrapped)
			if !c.cfg.ContinueOnError {
				return result.ErrorOrNil()
			}
			continue
		}
		c.logger.Info().Str("node_id", peer.NodeID).Msg("worker upgrade complete")
	}
	return result.ErrorOrNil()
}

// orderWorkersLast returns peers with the current leader (if any)
// moved to the end, since the leader triggers its own election on the
// way out and that election would otherwise race the coordinator's
// view of who is left to upgrade.
func orderWorkersLast(peers []types.Peer) []types.Peer {
	ordered := make([]types.Peer, 0, len(peers))
	var leaders []types.Peer
	for _, p := range peers {
		if p.Role == types.PeerRoleLeader {
			leaders = append(leaders, p)
			continue
		}
		ordered = append(ordered, p)
	}
	return append(ordered, leaders...)
}

func (c *Coordinator) upgradeOne(ctx context.Context, peer types.Peer) error {
	statusCh := make(chan wire.UpgradeStatusPayload, 4)
	c.mu.Lock()
	c.waiters[peer.NodeID] = statusCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, peer.NodeID)
		c.mu.Unlock()
	}()

	env, err := wire.NewEnvelope(wire.MsgUpgradeRequest, c.cfg.SelfNodeID, 0, wire.UpgradeRequestPayload{TargetVersion: c.cfg.TargetVersion})
	if err != nil {
		return fmt.Errorf("marshal upgrade request: %w", err)
	}
	if !c.peers.SendTo(peer.NodeID, env) {
		return fmt.Errorf("could not reach %s", peer.NodeID)
	}

	timer := time.NewTimer(c.cfg.ReappearTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("timed out waiting for %s to report upgrade status", peer.NodeID)
		case status := <-statusCh:
			switch status.Phase {
			case "healthy":
				if c.cfg.ConfirmHealth == nil {
					return nil
				}
				if err := c.cfg.ConfirmHealth(ctx, peer); err != nil {
					return fmt.Errorf("health check after relaunch: %w", err)
				}
				return nil
			case "failed":
				return fmt.Errorf("worker reported failed upgrade: %s", status.Detail)
			default:
				// "stopping" / "relaunched" — keep waiting for the
				// terminal phase.
			}
		}
	}
}

// Receive routes an UPGRADE_STATUS frame to whichever upgradeOne call
// is waiting on that worker, if any.
func (c *Coordinator) Receive(env *wire.Envelope) {
	if env.Type != wire.MsgUpgradeStatus {
		return
	}
	var p wire.UpgradeStatusPayload
	if err := env.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Msg("malformed upgrade status payload")
		return
	}

	c.mu.Lock()
	ch, ok := c.waiters[p.NodeID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- p:
	default:
		c.logger.Warn().Str("node_id", p.NodeID).Msg("upgrade status channel full, dropping update")
	}
}

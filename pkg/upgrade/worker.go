package upgrade

import (
	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/rs/zerolog"
)

// WorkerConfig carries a worker's own identity.
type WorkerConfig struct {
	SelfNodeID string
}

// Worker is the receiving side of a rolling upgrade: it answers
// UPGRADE_REQUEST by invoking OnSelfReplace and reporting its progress
// back to whichever node asked.
type Worker struct {
	cfg    WorkerConfig
	sender Unicaster
	logger zerolog.Logger

	// OnSelfReplace performs the actual version pull, graceful shutdown,
	// and relaunch; the node wiring layer sets this. A returned error is
	// reported to the coordinator as a failed upgrade.
	OnSelfReplace func(targetVersion string) error
}

// NewWorker returns a Worker ready to receive UPGRADE_REQUEST frames.
func NewWorker(cfg WorkerConfig, sender Unicaster) *Worker {
	return &Worker{cfg: cfg, sender: sender, logger: log.WithComponent("upgrade")}
}

// Receive decodes env and, if it is an UPGRADE_REQUEST, handles it in
// the background so the connection's reader loop isn't blocked for the
// duration of the self-replace.
func (w *Worker) Receive(env *wire.Envelope, fromNodeID string) {
	if env.Type != wire.MsgUpgradeRequest {
		return
	}
	var p wire.UpgradeRequestPayload
	if err := env.Decode(&p); err != nil {
		w.logger.Warn().Err(err).Msg("malformed upgrade request payload")
		return
	}
	go w.handleUpgradeRequest(p, fromNodeID)
}

func (w *Worker) handleUpgradeRequest(p wire.UpgradeRequestPayload, coordinatorNodeID string) {
	w.sendStatus(coordinatorNodeID, "stopping", "")

	if w.OnSelfReplace == nil {
		w.logger.Error().Msg("no self-replace handler configured")
		w.sendStatus(coordinatorNodeID, "failed", "no self-replace handler configured")
		return
	}
	if err := w.OnSelfReplace(p.TargetVersion); err != nil {
		w.logger.Error().Err(err).Str("target_version", p.TargetVersion).Msg("self-replace failed")
		w.sendStatus(coordinatorNodeID, "failed", err.Error())
		return
	}

	w.sendStatus(coordinatorNodeID, "relaunched", "")
	w.sendStatus(coordinatorNodeID, "healthy", "")
}

func (w *Worker) sendStatus(toNodeID, phase, detail string) {
	env, err := wire.NewEnvelope(wire.MsgUpgradeStatus, w.cfg.SelfNodeID, 0, wire.UpgradeStatusPayload{
		NodeID: w.cfg.SelfNodeID, Phase: phase, Detail: detail,
	})
	if err != nil {
		w.logger.Error().Err(err).Msg("marshal upgrade status")
		return
	}
	w.sender.SendTo(toNodeID, env)
}

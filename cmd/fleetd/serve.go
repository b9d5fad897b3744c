package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetmesh/fleetd/pkg/api"
	"github.com/fleetmesh/fleetd/pkg/config"
	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/metrics"
	"github.com/fleetmesh/fleetd/pkg/node"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this process as a fleetd mesh node",
	Long: `serve boots every mesh subsystem — transport, discovery, gossip,
anti-entropy, leader election, the DHT, and (optionally) the gateway —
and blocks until interrupted.`,
	RunE: runServe,
}

func init() {
	fs := serveCmd.Flags()
	fs.String("config", "", "Path to a YAML config file")
	fs.String("node-id", "", "This node's identity (persisted in data-dir if left empty)")
	fs.String("role", string(types.PeerRoleWorker), "This node's initial role (leader, worker, gateway)")
	fs.String("data-dir", "./data", "Directory for this node's persistent store")
	fs.String("listen-addr", ":7950", "Mesh (peer-to-peer) TCP listen address")
	fs.Int("http-port", 8080, "HTTP API port advertised to peers")
	fs.StringSlice("seeds", nil, "Seed peer addresses to dial on startup")
	fs.String("api-listen-addr", ":8080", "HTTP API listen address")
	fs.String("gateway-listen-addr", "", "If set, also run the client-facing gateway on this address")
	fs.String("upgrade-target-version", "", "Version this node advertises as the rolling-upgrade target")
	fs.Bool("upgrade-continue-on-error", false, "Continue a rolling upgrade past a failed worker")
	fs.Bool("confirm-upgrade-health", false, "Hit a relaunched worker's /healthz before advancing the upgrade")
	fs.Duration("election-timeout", 0, "Override the leader-election timeout")
	fs.Duration("anti-entropy-interval", 0, "Override the anti-entropy sync interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	file, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	cfg, err := file.ToNodeConfig()
	if err != nil {
		return err
	}
	cfg = config.ApplyFlags(cfg, cmd.Flags())
	cfg.OnSelfReplace = selfReplace

	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("serve: start node: %w", err)
	}
	defer n.Close()

	metrics.SetVersion(Version)
	collector := metrics.NewCollector(n)
	collector.Start()
	defer collector.Stop()

	apiListenAddr, _ := cmd.Flags().GetString("api-listen-addr")
	apiServer := api.NewServer(n, apiListenAddr)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(ctx) })
	g.Go(func() error { return apiServer.Run(ctx) })

	log.Logger.Info().
		Str("node_id", n.NodeID()).
		Str("listen_addr", cfg.ListenAddr).
		Str("api_addr", apiListenAddr).
		Msg("fleetd node running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()

	var result *multierror.Error
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// selfReplace is the default OnSelfReplace: fleetd ships no built-in
// relaunch mechanism, so a node asked to upgrade itself reports that
// clearly rather than silently doing nothing. Deployments that want
// rolling self-upgrade wire a real implementation here (pull the new
// binary, exec it, exit this process).
func selfReplace(targetVersion string) error {
	return fmt.Errorf("serve: self-replace to %s not configured on this node", targetVersion)
}

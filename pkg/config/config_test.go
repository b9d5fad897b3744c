package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, &File{}, f)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetd.yaml")
	contents := `
node_id: node-a
role: leader
data_dir: /var/lib/fleetd
listen_addr: ":7950"
http_port: 8080
seed_addrs:
  - 10.0.0.2:7950
  - 10.0.0.3:7950
election_timeout: 5s
emperor_stale_threshold: 30s
confirm_upgrade_health: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-a", f.NodeID)
	require.Equal(t, []string{"10.0.0.2:7950", "10.0.0.3:7950"}, f.SeedAddrs)
	require.True(t, f.ConfirmUpgradeHealth)

	cfg, err := f.ToNodeConfig()
	require.NoError(t, err)
	require.Equal(t, "node-a", cfg.NodeID)
	require.Equal(t, 5*time.Second, cfg.ElectionTimeout)
	require.Equal(t, 30*time.Second, cfg.EmperorStaleThreshold)
	require.True(t, cfg.ConfirmUpgradeHealth)
}

func TestToNodeConfigRejectsBadDuration(t *testing.T) {
	f := &File{ElectionTimeout: "not-a-duration"}
	_, err := f.ToNodeConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "election_timeout")
}

func TestApplyFlagsOverridesOnlyChanged(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("node-id", "", "")
	fs.String("listen-addr", "", "")
	fs.Int("http-port", 0, "")
	require.NoError(t, fs.Parse([]string{"--node-id=node-b"}))

	cfg, err := (&File{ListenAddr: ":7950", HTTPPort: 9000}).ToNodeConfig()
	require.NoError(t, err)

	cfg = ApplyFlags(cfg, fs)
	require.Equal(t, "node-b", cfg.NodeID)
	require.Equal(t, ":7950", cfg.ListenAddr, "unflagged field keeps the file's value")
	require.Equal(t, 9000, cfg.HTTPPort)
}

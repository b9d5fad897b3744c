package node

import (
	"context"
	"testing"
	"time"

	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, listenAddr string, role types.PeerRole, seeds []string) Config {
	t.Helper()
	return Config{
		NodeID:                   "",
		Role:                     role,
		DataDir:                  t.TempDir(),
		ListenAddr:               listenAddr,
		HTTPPort:                 8080,
		SeedAddrs:                seeds,
		PEXInterval:              200 * time.Millisecond,
		EmperorHeartbeatInterval: 200 * time.Millisecond,
		ElectionTimeout:          200 * time.Millisecond,
		EmperorStaleThreshold:    time.Second,
		AntiEntropyInterval:      time.Hour,
		ClockPersistInterval:     time.Hour,
		PingTimeout:              time.Second,
		AgentHeartbeatInterval:   time.Hour,
		AgentOfflineThreshold:    time.Hour,
	}
}

// testConfigWithID is testConfig but with an explicit, caller-chosen
// node id, since the partition-heal scenario depends on the bully
// rule's lowest-id-wins outcome holding for specific, known ids.
func testConfigWithID(t *testing.T, nodeID, listenAddr string, seeds []string) Config {
	t.Helper()
	cfg := testConfig(t, listenAddr, types.PeerRoleWorker, seeds)
	cfg.NodeID = nodeID
	cfg.AntiEntropyInterval = 300 * time.Millisecond
	return cfg
}

// TestTwoNodesExchangeHelloAndGossip brings up two real nodes over
// loopback TCP, seeds one at the other, and checks that they discover
// each other and that a task originated on one replicates to the
// other's store — an end-to-end exercise of the wiring in this
// package, not of any single engine's internals.
func TestTwoNodesExchangeHelloAndGossip(t *testing.T) {
	const addr1 = "127.0.0.1:18475"
	const addr2 = "127.0.0.1:18476"

	n1, err := New(testConfig(t, addr1, types.PeerRoleWorker, nil))
	require.NoError(t, err)
	defer n1.Close()

	n2, err := New(testConfig(t, addr2, types.PeerRoleWorker, []string{addr1}))
	require.NoError(t, err)
	defer n2.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n1.Run(ctx)
	go n2.Run(ctx)

	require.Eventually(t, func() bool {
		return n1.Registry().Count() == 1 && n2.Registry().Count() == 1
	}, 5*time.Second, 25*time.Millisecond, "nodes should discover each other via seed+HELLO")

	task, err := n1.Gossip().OriginateTaskCreate(types.Task{ID: "task-1", Title: "do a thing"})
	require.NoError(t, err)
	require.Equal(t, "task-1", task.ID)

	require.Eventually(t, func() bool {
		got, err := n2.Store().GetTask("task-1")
		return err == nil && got.Title == "do a thing"
	}, 5*time.Second, 25*time.Millisecond, "task should gossip-replicate to the other node")
}

// TestElectsALeaderAmongThreeNodes checks that a freshly bootstrapped
// three-node mesh converges on exactly one node believing it is
// leader.
func TestElectsALeaderAmongThreeNodes(t *testing.T) {
	const addr1 = "127.0.0.1:18575"
	const addr2 = "127.0.0.1:18576"
	const addr3 = "127.0.0.1:18577"

	n1, err := New(testConfig(t, addr1, types.PeerRoleWorker, nil))
	require.NoError(t, err)
	defer n1.Close()
	n2, err := New(testConfig(t, addr2, types.PeerRoleWorker, []string{addr1}))
	require.NoError(t, err)
	defer n2.Close()
	n3, err := New(testConfig(t, addr3, types.PeerRoleWorker, []string{addr1}))
	require.NoError(t, err)
	defer n3.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n1.Run(ctx)
	go n2.Run(ctx)
	go n3.Run(ctx)

	require.Eventually(t, func() bool {
		leaders := 0
		for _, n := range []*Node{n1, n2, n3} {
			if n.IsLeader() {
				leaders++
			}
		}
		return leaders == 1
	}, 10*time.Second, 50*time.Millisecond, "exactly one node should converge on leadership")
}

// TestPartitionHeal reproduces spec §8 scenario 6: nodes 01 and 02 form
// one partition and 03 is isolated in another. 01 creates T1 and T2
// while partitioned; 03, alone, promotes itself leader and creates T3.
// Healing the partition (01 and 03 dial each other directly) should,
// within one anti-entropy cycle, leave every node holding {T1, T2, T3}
// and exactly one leader standing — the lower node id, 01, per the
// bully rule's heartbeat-clash resolution (spec §4.10).
func TestPartitionHeal(t *testing.T) {
	const addr1 = "127.0.0.1:18675"
	const addr2 = "127.0.0.1:18676"
	const addr3 = "127.0.0.1:18677"

	n1, err := New(testConfigWithID(t, "01", addr1, nil))
	require.NoError(t, err)
	defer n1.Close()
	n2, err := New(testConfigWithID(t, "02", addr2, []string{addr1}))
	require.NoError(t, err)
	defer n2.Close()
	n3, err := New(testConfigWithID(t, "03", addr3, nil))
	require.NoError(t, err)
	defer n3.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n1.Run(ctx)
	go n2.Run(ctx)
	go n3.Run(ctx)

	// Partition {01, 02} converges on its own leader, and 03, seeing no
	// peers at all, promotes itself within the same election machinery.
	require.Eventually(t, func() bool {
		return n1.Registry().Count() == 1 && n2.Registry().Count() == 1
	}, 5*time.Second, 25*time.Millisecond, "01 and 02 should discover each other")
	require.Eventually(t, func() bool {
		return n3.IsLeader()
	}, 5*time.Second, 25*time.Millisecond, "03 should promote itself leader while isolated")

	_, err = n1.Gossip().OriginateTaskCreate(types.Task{ID: "T1", Title: "t1"})
	require.NoError(t, err)
	_, err = n1.Gossip().OriginateTaskCreate(types.Task{ID: "T2", Title: "t2"})
	require.NoError(t, err)
	_, err = n3.Gossip().OriginateTaskCreate(types.Task{ID: "T3", Title: "t3"})
	require.NoError(t, err)

	// Heal: bridge the two partitions by dialing directly rather than
	// waiting on discovery to notice each other again.
	require.NoError(t, n3.Connect(ctx, addr1))

	allHaveAllTasks := func(n *Node) bool {
		for _, id := range []string{"T1", "T2", "T3"} {
			if _, err := n.Store().GetTask(id); err != nil {
				return false
			}
		}
		return true
	}
	require.Eventually(t, func() bool {
		return allHaveAllTasks(n1) && allHaveAllTasks(n2) && allHaveAllTasks(n3)
	}, 10*time.Second, 50*time.Millisecond, "every peer should hold T1, T2, and T3 after healing")

	require.Eventually(t, func() bool {
		leaders := 0
		for _, n := range []*Node{n1, n2, n3} {
			if n.IsLeader() {
				leaders++
			}
		}
		return leaders == 1 && n1.IsLeader()
	}, 10*time.Second, 50*time.Millisecond, "01 should be the sole leader once 03 yields on heartbeat clash")
}

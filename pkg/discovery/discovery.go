package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

// Config carries every tunable discovery touches; zero values fall back
// to the spec §6 defaults applied in New.
type Config struct {
	NodeID   string
	P2PPort  int
	HTTPPort int
	Role     types.PeerRole

	// BeaconListenAddr is the local UDP address beacons are received on
	// (e.g. ":7946"). Empty disables the beacon listener.
	BeaconListenAddr string
	// BroadcastAddr is the UDP broadcast destination beacons are sent
	// to (e.g. "255.255.255.255:7946"). Empty disables broadcast send.
	BroadcastAddr string
	// MulticastAddr is the IPv4 multicast group beacons are also sent
	// to and received on (e.g. "239.192.0.1:7946"). Empty disables
	// multicast.
	MulticastAddr string
	// BeaconInterval is how often a beacon is sent. Default 10s.
	BeaconInterval time.Duration

	// SeedAddrs is the bootstrap list dialed on startup and redialed
	// with exponential backoff until the peer reconnects.
	SeedAddrs []string

	// PEXInterval is how often this node sends a PEX batch to each
	// connected neighbour. Default 30s.
	PEXInterval time.Duration
	// PEXFanout caps how many of our own known addresses we include in
	// one PEX batch. Default 8.
	PEXFanout int
}

const (
	defaultBeaconInterval = 10 * time.Second
	defaultPEXInterval    = 30 * time.Second
	defaultPEXFanout      = 8

	minSeedBackoff = 1 * time.Second
	maxSeedBackoff = 60 * time.Second
)

// Discovery runs the beacon, seed, and PEX loops for one node and
// surfaces every address worth dialing on DialQueue. Safe for
// concurrent use.
type Discovery struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	known  map[string]struct{} // addresses already suggested, deduped
	dialCh chan string
}

// New returns a Discovery ready to Run. Zero-value interval/fanout
// fields are replaced with spec §6 defaults.
func New(cfg Config) *Discovery {
	if cfg.BeaconInterval <= 0 {
		cfg.BeaconInterval = defaultBeaconInterval
	}
	if cfg.PEXInterval <= 0 {
		cfg.PEXInterval = defaultPEXInterval
	}
	if cfg.PEXFanout <= 0 {
		cfg.PEXFanout = defaultPEXFanout
	}
	return &Discovery{
		cfg:    cfg,
		logger: log.WithComponent("discovery"),
		known:  make(map[string]struct{}),
		dialCh: make(chan string, 256),
	}
}

// DialQueue is the stream of addresses discovery believes are worth
// dialing. The owning node drains it and calls transport.Dial itself;
// pkg/registry's node-id uniqueness check is what ultimately suppresses
// a redundant dial to an address already connected under another name.
func (d *Discovery) DialQueue() <-chan string {
	return d.dialCh
}

// suggest enqueues addr for dialing if it is non-empty and has not been
// suggested before; it does not compare addr with this node's own
// listen address (beacons are filtered by node id instead). Safe for
// concurrent use; never blocks (a full queue drops the suggestion,
// matching the backpressure posture described in spec §5 — a
// subsequent PEX or beacon round will offer it again).
func (d *Discovery) suggest(addr string) {
	if addr == "" {
		return
	}
	d.mu.Lock()
	if _, ok := d.known[addr]; ok {
		d.mu.Unlock()
		return
	}
	d.known[addr] = struct{}{}
	d.mu.Unlock()

	select {
	case d.dialCh <- addr:
	default:
		d.logger.Warn().Str("addr", addr).Msg("dial queue full, dropping suggestion")
	}
}

// Forget clears addr from the known set, allowing it to be
// re-suggested. Callers use this after a dial attempt fails, so a
// still-reachable peer isn't permanently excluded by one bad attempt.
func (d *Discovery) Forget(addr string) {
	d.mu.Lock()
	delete(d.known, addr)
	d.mu.Unlock()
}

// Run starts every discovery sub-loop (beacon send/listen, seed
// dialer, and nothing PEX-related — PEX needs live connections, so it
// is driven by BuildPEX/HandlePEX called from the node's gossip
// dispatch instead) and blocks until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if d.cfg.BeaconListenAddr != "" || d.cfg.MulticastAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.listenBeacons(ctx)
		}()
	}
	if d.cfg.BroadcastAddr != "" || d.cfg.MulticastAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.sendBeaconsLoop(ctx)
		}()
	}
	for _, seed := range d.cfg.SeedAddrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			d.dialSeedLoop(ctx, addr)
		}(seed)
	}

	wg.Wait()
}

// dialSeedLoop repeatedly suggests addr, doubling the wait between
// suggestions up to maxSeedBackoff; the wait never resets. The queue
// itself has no notion of success, so this only bounds how often
// a seed that's already known is re-suggested, which in practice
// happens once (Forget is what actually triggers a re-suggestion after
// a failed dial).
func (d *Discovery) dialSeedLoop(ctx context.Context, addr string) {
	backoff := minSeedBackoff
	for {
		d.suggest(addr)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxSeedBackoff {
			backoff = maxSeedBackoff
		}
	}
}

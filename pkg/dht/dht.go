package dht

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fleetmesh/fleetd/pkg/clock"
	"github.com/fleetmesh/fleetd/pkg/dedup"
	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/storage"
	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/rs/zerolog"

	"github.com/fleetmesh/fleetd/pkg/types"
)

// ErrIntegrityMismatch is returned by Get when a stored entry's value
// does not hash to its recorded content hash. A received entry that
// fails the same check is dropped without an error and never forwarded.
var ErrIntegrityMismatch = fmt.Errorf("dht: content hash mismatch")

// Broadcaster sends env to every connected peer except exceptAddr.
type Broadcaster interface {
	Broadcast(env *wire.Envelope, exceptAddr string)
}

// Unicaster sends one envelope to a specific peer, used for anti-
// entropy sync requests/responses.
type Unicaster interface {
	RandomPeer() (nodeID string, ok bool)
	SendTo(nodeID string, env *wire.Envelope) bool
}

const (
	defaultPurgeInterval   = 120 * time.Second
	defaultTombstoneGrace  = 300 * time.Second
)

// Config carries dht's tunables; zero values fall back to spec §6
// defaults.
type Config struct {
	SelfNodeID     string
	PurgeInterval  time.Duration
	TombstoneGrace time.Duration
}

// Engine is one node's DHT replica.
type Engine struct {
	cfg         Config
	store       storage.Store
	clock       *clock.Clock
	seen        *dedup.SeenSet
	broadcaster Broadcaster
	peers       Unicaster
	logger      zerolog.Logger
}

// New returns an Engine ready to use.
func New(cfg Config, store storage.Store, clk *clock.Clock, seen *dedup.SeenSet, broadcaster Broadcaster, peers Unicaster) *Engine {
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = defaultPurgeInterval
	}
	if cfg.TombstoneGrace <= 0 {
		cfg.TombstoneGrace = defaultTombstoneGrace
	}
	return &Engine{
		cfg:         cfg,
		store:       store,
		clock:       clk,
		seen:        seen,
		broadcaster: broadcaster,
		peers:       peers,
		logger:      log.WithComponent("dht"),
	}
}

func contentHash(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}

// PutNamed writes value under key, replacing whatever was there.
func (e *Engine) PutNamed(key string, value []byte, replicaCount int, ttl time.Duration) (*types.DHTEntry, error) {
	return e.put(key, value, replicaCount, ttl)
}

// PutContentAddressed derives key from SHA-256(value); otherwise
// identical to PutNamed.
func (e *Engine) PutContentAddressed(value []byte, replicaCount int, ttl time.Duration) (*types.DHTEntry, error) {
	return e.put(contentHash(value), value, replicaCount, ttl)
}

func (e *Engine) put(key string, value []byte, replicaCount int, ttl time.Duration) (*types.DHTEntry, error) {
	now := time.Now()
	entry := types.DHTEntry{
		Key:          key,
		Value:        value,
		ContentHash:  contentHash(value),
		OriginNodeID: e.cfg.SelfNodeID,
		LamportTS:    e.clock.Tick(),
		ReplicaCount: replicaCount,
		TTLSeconds:   int64(ttl / time.Second),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.PutDHTEntry(&entry); err != nil {
		return nil, fmt.Errorf("dht: put %s: %w", key, err)
	}
	e.seen.CheckAndAdd(seenKey(key, entry.LamportTS))
	e.broadcast(wire.MsgDHTPut, entry.LamportTS, "", wire.DHTPutPayload{Entry: entry})
	return &entry, nil
}

// Get reads key locally, verifying integrity and TTL. A tombstoned or
// TTL-expired entry is reported as not found.
func (e *Engine) Get(key string) (*types.DHTEntry, error) {
	entry, err := e.store.GetDHTEntry(key)
	if err != nil {
		return nil, err
	}
	if entry.Tombstone || entry.Expired(time.Now()) {
		return nil, storage.ErrNotFound
	}
	if contentHash(entry.Value) != entry.ContentHash {
		return nil, ErrIntegrityMismatch
	}
	return entry, nil
}

// Delete rewrites key's entry as a tombstone (empty value, same
// content hash, new LamportTS) and broadcasts DHT_DELETE.
func (e *Engine) Delete(key string) error {
	lamportTS := e.clock.Tick()
	now := time.Now()

	entry, err := e.store.GetDHTEntry(key)
	if err == storage.ErrNotFound {
		entry = &types.DHTEntry{Key: key, OriginNodeID: e.cfg.SelfNodeID, CreatedAt: now}
	} else if err != nil {
		return fmt.Errorf("dht: delete %s: %w", key, err)
	}

	entry.Value = nil
	entry.Tombstone = true
	entry.LamportTS = lamportTS
	entry.UpdatedAt = now
	if err := e.store.PutDHTEntry(entry); err != nil {
		return fmt.Errorf("dht: delete %s: %w", key, err)
	}

	e.seen.CheckAndAdd(seenKey(key, lamportTS))
	e.broadcast(wire.MsgDHTDelete, lamportTS, "", wire.DHTDeletePayload{Key: key, NodeID: e.cfg.SelfNodeID, LamportTS: lamportTS})
	return nil
}

func seenKey(key string, lamportTS int64) string {
	return fmt.Sprintf("dht:%s:put:%d", key, lamportTS)
}

func (e *Engine) broadcast(t wire.MsgType, lamportTS int64, exceptAddr string, payload interface{}) {
	env, err := wire.NewEnvelope(t, e.cfg.SelfNodeID, lamportTS, payload)
	if err != nil {
		e.logger.Error().Err(err).Str("type", t.String()).Msg("marshal dht envelope")
		return
	}
	e.broadcaster.Broadcast(env, exceptAddr)
}

// GC removes TTL-expired entries and tombstones whose UpdatedAt is
// older than TombstoneGrace, returning the number of entries purged.
func (e *Engine) GC(now time.Time) (int, error) {
	entries, err := e.store.ListDHTEntries()
	if err != nil {
		return 0, fmt.Errorf("dht: gc list: %w", err)
	}

	purged := 0
	for _, entry := range entries {
		expired := entry.Expired(now)
		agedTombstone := entry.Tombstone && now.Sub(entry.UpdatedAt) > e.cfg.TombstoneGrace
		if !expired && !agedTombstone {
			continue
		}
		if err := e.store.DeleteDHTEntry(entry.Key); err != nil {
			e.logger.Error().Err(err).Str("key", entry.Key).Msg("purge dht entry")
			continue
		}
		purged++
	}
	return purged, nil
}

// RunGC runs GC every PurgeInterval until stop is closed.
func (e *Engine) RunGC(stop <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n, err := e.GC(time.Now()); err != nil {
				e.logger.Error().Err(err).Msg("dht gc cycle failed")
			} else if n > 0 {
				e.logger.Debug().Int("purged", n).Msg("dht gc purged entries")
			}
		}
	}
}

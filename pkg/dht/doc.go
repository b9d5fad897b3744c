/*
Package dht is the full-replication content-addressed key-value store
spec §4.11 describes, layered directly on the same messaging plane
pkg/gossip uses rather than inventing a parallel replication path: a
Put computes a SHA-256 content hash, writes the entry locally, and
broadcasts DHT_PUT; a Delete rewrites the entry as a tombstone and
broadcasts DHT_DELETE; Receive applies last-writer-wins on LamportTS
and verifies integrity on every non-tombstone receipt, rejecting and
never forwarding a value whose hash doesn't match the entry's recorded
content hash.

Garbage collection is a periodic purge: TTL-expired entries and
tombstones older than a grace window are removed from pkg/storage
entirely, since by then every peer has long since converged on their
absence.
*/
package dht

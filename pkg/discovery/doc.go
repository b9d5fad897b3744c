/*
Package discovery runs the three complementary, idempotent mechanisms
spec §4.3 describes for finding peers to dial: a periodic UDP beacon
(broadcast and multicast), a bootstrap seed list redialed with
exponential backoff, and peer exchange (PEX) between already-connected
neighbours.

None of these mechanisms dial a connection itself — dialing is
pkg/transport's job, and deduplicating an address already connected is
pkg/registry's job. Discovery's only output is a stream of "dial this
address" suggestions on DialQueue, deduplicated against every address
already suggested and bounded by the queue's 256 slots (a suggestion
arriving while the queue is full is dropped). Suggestions are not rate
limited: a PEX payload's unknown addresses are all enqueued at once.
The owning node drains that channel and decides whether to act on each
suggestion.
*/
package discovery

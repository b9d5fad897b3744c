/*
Package events is an in-process publish/subscribe broker for local
observers: the gateway's health surface, a CLI status stream, anything
that wants to react to a mutation this node just applied without being
wired into the gossip or storage layers directly.

Events are not gossiped and are not durable — they are a side effect of
applying a mutation (task created, agent joined, leader elected) raised
for the benefit of this one process. A restart loses whatever nobody
read yet; that is by design, since anything requiring durability or
cross-node visibility belongs in pkg/storage and pkg/gossip instead.

Publish never blocks: Broker buffers 100 events internally and each
subscriber has its own 50-event buffer, so a slow subscriber drops
events rather than stalling the publisher.
*/
package events

/*
Package health provides reusable liveness probes: HTTP, TCP, and exec
checkers behind a common Checker interface, plus a Status tracker that
turns a stream of individual check results into a debounced healthy/
unhealthy verdict (Retries consecutive failures before flipping).

The caller outside this package is pkg/node's confirmUpgradeHealth, the
hook the pkg/upgrade coordinator runs after a worker reports healthy:
when the post-relaunch check is enabled it runs one HTTPChecker check
against the worker's /healthz, and a failed check fails that worker's
upgrade (nothing is rolled back). Nothing in this package talks to the
mesh directly — it is a generic probing library the rest of the tree
reuses.
*/
package health

/*
Package upgrade drives a rolling restart across the fleet (spec §4.13):
for each peer in turn, send UPGRADE_REQUEST, wait for the worker's own
UPGRADE_STATUS reports until it reports "healthy" or "failed" (or
ReappearTimeout passes), optionally confirm health through
Config.ConfirmHealth, and proceed. A failure is recorded as an error in
the multierror Run returns, and Run stops there unless ContinueOnError
is set; no rollback is performed. It is not part of the consistency
core — nothing there depends on it — but it rides the same messaging
plane and in-memory peer registry every other component uses, so
it is grounded the same way: one worker at a time, exactly like
cmd/warren/apply.go applies one resource at a time, except the unit of
work here is a node instead of a YAML document. The current leader is
always upgraded last, since it triggers its own election on the way
out and that election would otherwise race the coordinator's view of
who is left to upgrade.
*/
package upgrade

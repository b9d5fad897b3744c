/*
Package config loads a fleetd process's on-disk configuration: a YAML
file holding the node's timer, threshold and capacity tunables (there
is no degraded-response threshold setting), overridden by whichever
cobra flags the operator actually passed on the command line. Load
returns a *File; File.ToNodeConfig turns it into a node.Config ready to
hand to node.New.

Grounded on cmd/warren/apply.go's yaml.v3 Unmarshal-into-a-typed-struct
pattern and cmd/warren/main.go's persistent-flag style, generalized from
a one-shot "apply this resource" file to a long-lived daemon's boot
configuration.
*/
package config

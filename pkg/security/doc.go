/*
Package security implements access control for the orchestrator: a
two-tier principal set (Root and Allowed) backed by the stable storage
layer, checked by every RPC handler before it touches the registry, the
work queue, or the certificate store.

Root principals manage the Allowed set via Grant/Revoke; Allowed principals
may call the registration, queue, and certificate operations but not the
access-control operations themselves. The Root set is seeded once, from
configuration, the first time a fresh database is opened — subsequent
starts leave it untouched even if the configured list changes, so an
operator cannot accidentally lock themselves out by editing a flag.
*/
package security

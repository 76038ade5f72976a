// Package session implements the session registry: idempotent creation,
// ending and lookup of sessions on top of the durable store, per-session
// serialization of mutations, and the idle reaper that ends sessions nobody
// has touched for a while.
package session

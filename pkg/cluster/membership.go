// Package cluster coordinates a set of equal-peer nodes through a shared
// transactional store.
//
// This package handles:
//   - Node roster membership with heartbeats, reaping of dead peers and revive
//   - Typed cluster-wide properties with optimistic conflict detection
//   - Confirmation tracking: a change is confirmed once every running node has
//     acknowledged its sequence number
//   - Change and confirmation events for registered listeners
//
// The store is the only ordering authority. Every operation runs in one store
// transaction that first allocates from the request sequence, so all nodes see
// property changes in the same order.
package cluster

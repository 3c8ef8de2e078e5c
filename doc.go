// Package depthcache maintains local order-book replicas ("depth caches")
// for markets on a centralized exchange, each kept in sync by stitching a
// REST snapshot onto an unbounded stream of incremental diff events.
//
// Callers drive a Manager: CreateDepthCache starts tracking a set of
// markets, GetAsks/GetBids read the current book without a network
// round-trip, and StopDepthCache tears a market down. The synchronization
// algorithm itself lives in dispatcher.go; everything else in this package
// is the state it operates on.
package depthcache

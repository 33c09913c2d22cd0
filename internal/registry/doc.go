// Package registry tracks the downstream services that announced
// themselves to the gateway.
//
// Store keeps one Record per service name in memory and rewrites the whole
// mapping to a side file after every mutation so registrations survive a
// restart. Registry layers the liveness rules on top: registration,
// heartbeats, probe sweeps, staleness eviction and exit cleanup.
package registry

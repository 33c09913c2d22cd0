// Package healthcheck probes the liveness endpoint of registered services
// and runs the periodic registry jobs (health sweep, stale eviction and
// self-heartbeat) on a cron scheduler.
package healthcheck

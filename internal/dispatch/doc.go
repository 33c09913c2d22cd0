// Package dispatch sends gateway traffic to downstream services. Every call
// resolves its target through the registry inside the service's circuit
// breaker, under a per-call timeout, so unavailability, rejections and
// transport failures are accounted for in one place.
//
// Single-service routes go through Proxy. Aggregate routes use FanOut,
// which runs every call concurrently, waits for all of them, and reports
// failures per call instead of failing the whole response.
package dispatch

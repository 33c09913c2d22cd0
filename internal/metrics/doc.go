// Package metrics instruments the gateway with prometheus.
//
// Metrics owns a dedicated prometheus registry holding:
//   - circuit breaker state, transitions and rejections per service
//   - upstream call counts and latency by outcome
//   - registry size by status, probe results and stale evictions
//
// Rare events (breaker transitions, probes, evictions) are recorded
// synchronously. Per-request upstream events go through a Collector, a
// buffered channel drained by one goroutine, so the proxy path never
// blocks on instrumentation. Events are dropped and counted when the
// buffer is full.
//
// Example usage:
//
//	m := metrics.New()
//	collector := metrics.NewCollector(m, 1000, logger)
//	collector.Start(ctx)
//
//	breakers := circuitbreaker.NewTable(5, 30*time.Second,
//		circuitbreaker.WithObserver(m.BreakerTransition))
//	reg := registry.New(store, prober, owner, logger, registry.WithRecorder(m))
//	m.WatchRegistry(reg.All)
//
//	mux.Handle("GET /metrics", m.Handler())
package metrics

// Package circuitbreaker implements the per-service circuit breaker the
// gateway wraps around every downstream call.
//
// A breaker has three states:
//
//   - CLOSED: calls pass through and failures are counted
//   - OPEN: calls are rejected with ErrOpen until the reset timeout elapses
//   - HALF_OPEN: a single trial call is let through to probe recovery
//
// The failure count is only cleared by a successful half-open trial, so a
// healed breaker needs one success to close and a flapping one reopens on
// the next failure.
//
// Usage:
//
//	table := circuitbreaker.NewTable(3, time.Minute)
//	err := table.Get(backend.ItemService).Execute(func() error {
//	    return callItemService()
//	})
//	if errors.Is(err, circuitbreaker.ErrOpen) {
//	    // rejected without calling the service
//	}
package circuitbreaker

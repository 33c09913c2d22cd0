package dispatch

import (
	"errors"
	"fmt"

	"github.com/angeloszaimis/mesh-gateway/internal/backend"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

var (
	// ErrBreakerOpen means the call was rejected without being attempted.
	ErrBreakerOpen = errors.New("circuit breaker is open")

	ErrUnavailable = registry.ErrUnavailable

	// ErrMalformedResponse marks a 2xx answer that could not be used. Like
	// any other answer from a reachable service it is not a breaker failure.
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrResponseAborted marks an upstream response that broke off after
	// its headers were sent.
	ErrResponseAborted = errors.New("upstream response aborted")
)

// BreakerOpenError names the service whose breaker rejected a call.
type BreakerOpenError struct {
	Service backend.Service
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("Circuit breaker is OPEN for %s", e.Service)
}

func (e *BreakerOpenError) Is(target error) bool {
	return target == ErrBreakerOpen
}

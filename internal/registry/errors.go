package registry

import (
	"errors"
	"fmt"
)

// ErrUnavailable matches every UnavailableError.
var ErrUnavailable = errors.New("service unavailable")

type Reason string

const (
	ReasonAbsent    Reason = "not registered"
	ReasonUnhealthy Reason = "unhealthy"
)

// UnavailableError reports that a service cannot be used right now, either
// because it never registered (or was evicted) or because it is failing.
type UnavailableError struct {
	Name   string
	Reason Reason
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is not available: %s", e.Name, e.Reason)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

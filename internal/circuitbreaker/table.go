package circuitbreaker

import (
	"time"

	"github.com/angeloszaimis/mesh-gateway/internal/backend"
)

// Table holds exactly one breaker per known downstream service. It is
// built once at startup and never grows.
type Table struct {
	breakers [backend.Count]*Breaker
}

func NewTable(threshold int, timeout time.Duration, opts ...Option) *Table {
	t := &Table{}
	for _, svc := range backend.Services() {
		t.breakers[svc] = New(svc.String(), threshold, timeout, opts...)
	}
	return t
}

// Get returns the breaker guarding svc. svc must be a valid service.
func (t *Table) Get(svc backend.Service) *Breaker {
	return t.breakers[svc]
}

// Snapshots returns the state of every breaker in service order.
func (t *Table) Snapshots() []Snapshot {
	snaps := make([]Snapshot, 0, len(t.breakers))
	for _, cb := range t.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	return snaps
}

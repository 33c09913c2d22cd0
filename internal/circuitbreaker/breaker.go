package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when a call is rejected without being attempted.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Rejecting calls
	StateHalfOpen              // One trial call in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Observer is notified after every state transition.
type Observer func(name string, from, to State)

type Option func(*Breaker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *Breaker) {
		cb.now = now
	}
}

func WithObserver(observer Observer) Option {
	return func(cb *Breaker) {
		cb.observer = observer
	}
}

// Snapshot is a read-only view of a breaker.
type Snapshot struct {
	Name            string     `json:"serviceName"`
	State           State      `json:"state"`
	FailureCount    int        `json:"failureCount"`
	LastFailureTime *time.Time `json:"lastFailureTime"`
}

type Breaker struct {
	mutex            sync.Mutex
	name             string
	state            State
	failures         int
	lastFailure      time.Time
	failureThreshold int
	resetTimeout     time.Duration
	trialInFlight    bool
	generation       uint64
	now              func() time.Time
	observer         Observer
}

func New(name string, threshold int, timeout time.Duration, opts ...Option) *Breaker {
	cb := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     timeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn unless the breaker is open. A non-nil error from fn is
// recorded as a failure and returned unchanged, except errors wrapped with
// Ignore which bypass accounting and are returned unwrapped. A panic in fn
// is recorded as a failure before it continues up the stack.
func (cb *Breaker) Execute(fn func() error) error {
	trial, err := cb.acquire()
	if err != nil {
		return err
	}

	finished := false
	defer func() {
		if !finished {
			cb.recordFailure(trial)
		}
	}()

	callErr := fn()
	finished = true

	var ignored *ignoredError
	if errors.As(callErr, &ignored) {
		cb.release(trial)
		return ignored.err
	}

	if callErr != nil {
		cb.recordFailure(trial)
		return callErr
	}

	cb.recordSuccess(trial)
	return nil
}

// Call is Execute for operations that produce a value.
func Call[T any](cb *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := cb.Execute(func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

// acquire admits a call. A half-open trial gets the generation it was
// admitted under; every other call gets 0.
func (cb *Breaker) acquire() (trial uint64, err error) {
	cb.mutex.Lock()
	var from State
	transitioned := false

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			cb.mutex.Unlock()
			return 0, ErrOpen
		}
		from, transitioned = cb.state, true
		cb.state = StateHalfOpen
		cb.generation++
		cb.trialInFlight = true
		trial = cb.generation
	case StateHalfOpen:
		if cb.trialInFlight {
			cb.mutex.Unlock()
			return 0, ErrOpen
		}
		cb.trialInFlight = true
		trial = cb.generation
	}
	cb.mutex.Unlock()

	if transitioned {
		cb.notify(from, StateHalfOpen)
	}
	return trial, nil
}

// currentTrial reports whether trial is the one the breaker is waiting
// on. Callers hold the mutex.
func (cb *Breaker) currentTrial(trial uint64) bool {
	return trial != 0 && trial == cb.generation && cb.state == StateHalfOpen
}

func (cb *Breaker) recordFailure(trial uint64) {
	cb.mutex.Lock()
	if cb.currentTrial(trial) {
		cb.trialInFlight = false
	}

	cb.failures++
	cb.lastFailure = cb.now()

	from := cb.state
	if cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
	}
	to := cb.state
	cb.mutex.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

func (cb *Breaker) recordSuccess(trial uint64) {
	cb.mutex.Lock()
	if !cb.currentTrial(trial) {
		cb.mutex.Unlock()
		return
	}

	cb.trialInFlight = false
	cb.failures = 0
	cb.state = StateClosed
	cb.mutex.Unlock()

	cb.notify(StateHalfOpen, StateClosed)
}

func (cb *Breaker) release(trial uint64) {
	cb.mutex.Lock()
	if cb.currentTrial(trial) {
		cb.trialInFlight = false
	}
	cb.mutex.Unlock()
}

func (cb *Breaker) notify(from, to State) {
	if cb.observer != nil {
		cb.observer(cb.name, from, to)
	}
}

func (cb *Breaker) Name() string {
	return cb.name
}

func (cb *Breaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *Breaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	snap := Snapshot{
		Name:         cb.name,
		State:        cb.state,
		FailureCount: cb.failures,
	}
	if !cb.lastFailure.IsZero() {
		last := cb.lastFailure
		snap.LastFailureTime = &last
	}
	return snap
}

type ignoredError struct {
	err error
}

func (e *ignoredError) Error() string { return e.err.Error() }
func (e *ignoredError) Unwrap() error { return e.err }

// Ignore marks err as an application-level answer from a healthy
// downstream. Execute returns it without touching the failure count.
func Ignore(err error) error {
	if err == nil {
		return nil
	}
	return &ignoredError{err: err}
}

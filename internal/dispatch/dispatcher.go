package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angeloszaimis/mesh-gateway/internal/backend"
	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/httpserver"
	"github.com/angeloszaimis/mesh-gateway/internal/metrics"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

const DefaultTimeout = 5 * time.Second

// Resolver finds the healthy address of a service.
type Resolver interface {
	Resolve(name string) (registry.Record, error)
}

// Emitter receives per-call instrumentation events.
type Emitter interface {
	Emit(event metrics.MetricEvent)
}

type Option func(*Dispatcher)

// WithTimeout bounds every downstream call.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

func WithTransport(transport http.RoundTripper) Option {
	return func(d *Dispatcher) {
		d.transport = transport
	}
}

func WithEmitter(events Emitter) Option {
	return func(d *Dispatcher) {
		d.events = events
	}
}

type Dispatcher struct {
	resolver  Resolver
	breakers  *circuitbreaker.Table
	transport http.RoundTripper
	client    *backend.Client
	events    Emitter
	timeout   time.Duration
	logger    *slog.Logger
}

func New(resolver Resolver, breakers *circuitbreaker.Table, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver:  resolver,
		breakers:  breakers,
		transport: http.DefaultTransport,
		timeout:   DefaultTimeout,
		logger:    logger.With(slog.String("component", "dispatch")),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.client = backend.NewClient(d.transport)
	return d
}

// Client is the JSON client used by aggregate calls.
func (d *Dispatcher) Client() *backend.Client {
	return d.client
}

// Call runs fn against the resolved base URL of svc under svc's breaker.
//
// An absent or unhealthy service, a timeout and a transport error count as
// breaker failures. A *backend.StatusError or ErrMalformedResponse returned
// by fn is an answer from a healthy service and leaves the breaker
// untouched, as does the caller giving up on ctx.
func (d *Dispatcher) Call(ctx context.Context, svc backend.Service, fn func(ctx context.Context, base *url.URL) error) error {
	start := time.Now()

	err := d.breakers.Get(svc).Execute(func() error {
		rec, err := d.resolver.Resolve(svc.String())
		if err != nil {
			return err
		}

		base, err := url.Parse(rec.URL())
		if err != nil {
			return fmt.Errorf("parse %s url: %w", svc, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		err = fn(callCtx, base)

		var statusErr *backend.StatusError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &statusErr), errors.Is(err, ErrMalformedResponse):
			return circuitbreaker.Ignore(err)
		case ctx.Err() != nil:
			return circuitbreaker.Ignore(err)
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%s timed out after %s: %w", svc, d.timeout, err)
		default:
			return err
		}
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = &BreakerOpenError{Service: svc}
	}

	d.emit(svc, outcome(err), time.Since(start))
	return err
}

// Proxy forwards r to the service of route with the route's prefix
// rewrite. Upstream responses pass through untouched whatever their
// status; when no response could be obtained the client gets a 503. A
// response cut off after its headers counts as a failure and the
// connection is aborted.
func (d *Dispatcher) Proxy(w http.ResponseWriter, r *http.Request, route backend.Route) {
	rec := httpserver.NewStatusRecorder(w)
	aborted := false

	err := d.Call(r.Context(), route.Service, func(ctx context.Context, base *url.URL) (err error) {
		var transportErr error
		proxy := backend.NewProxy(base, route, d.transport, func(err error) {
			transportErr = err
		})

		defer func() {
			if p := recover(); p != nil {
				if p != http.ErrAbortHandler {
					panic(p)
				}
				aborted = true
				err = cutOff(ctx, route.Service)
			}
		}()

		rec.Header().Set("X-Backend-Server", base.String())
		proxy.ServeHTTP(rec, r.WithContext(ctx))

		if transportErr == nil && rec.Written() && ctx.Err() != nil {
			return cutOff(ctx, route.Service)
		}
		return transportErr
	})
	if err == nil {
		return
	}

	d.logger.Warn("Proxy request failed",
		slog.String("service", route.Service.String()),
		slog.String("client", extractClientIP(r)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))

	if aborted {
		panic(http.ErrAbortHandler)
	}
	if rec.Written() {
		return
	}
	rec.Header().Del("X-Backend-Server")

	msg := fmt.Sprintf("Service %s unavailable", route.Service)
	if errors.Is(err, ErrBreakerOpen) {
		msg = fmt.Sprintf("Service %s circuit breaker is open", route.Service)
	}
	httpserver.WriteError(rec, http.StatusServiceUnavailable, msg, err.Error())
}

// cutOff describes a response that stopped during the body copy.
func cutOff(ctx context.Context, svc backend.Service) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%s: %w", svc, ErrResponseAborted)
}

func (d *Dispatcher) emit(svc backend.Service, outcome string, duration time.Duration) {
	if d.events == nil {
		return
	}
	d.events.Emit(metrics.MetricEvent{
		Type:     metrics.EventUpstreamCompleted,
		Service:  svc.String(),
		Outcome:  outcome,
		Duration: duration,
	})
}

func outcome(err error) string {
	var statusErr *backend.StatusError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrBreakerOpen):
		return metrics.OutcomeRejected
	case errors.Is(err, ErrUnavailable):
		return metrics.OutcomeUnavailable
	case errors.As(err, &statusErr), errors.Is(err, ErrMalformedResponse):
		return metrics.OutcomeUpstream
	default:
		return metrics.OutcomeFailure
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

package registry

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"
)

const (
	DefaultStaleAfter   = 60 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Prober checks the liveness endpoint of a service reachable at baseURL.
type Prober interface {
	Probe(ctx context.Context, baseURL string) error
}

// Recorder receives registry events for instrumentation.
type Recorder interface {
	ProbeCompleted(name string, healthy bool)
	Evicted(name string)
}

type nopRecorder struct{}

func (nopRecorder) ProbeCompleted(string, bool) {}
func (nopRecorder) Evicted(string)              {}

// Identity names the process that owns a registration.
type Identity struct {
	PID       int
	Instance  string
	StartTime time.Time
}

// CurrentIdentity returns a fresh identity for the running process.
func CurrentIdentity() Identity {
	return Identity{
		PID:       os.Getpid(),
		Instance:  uuid.NewString(),
		StartTime: time.Now().UTC(),
	}
}

func (id Identity) stamp(metadata map[string]string) {
	metadata[MetaPID] = strconv.Itoa(id.PID)
	metadata[MetaInstance] = id.Instance
	metadata[MetaStartTime] = id.StartTime.Format(time.RFC3339)
}

// ProbeResult is the outcome of probing one service during a sweep.
type ProbeResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error,omitempty"`
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithStaleAfter sets how long a record may go without a heartbeat.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) {
		r.staleAfter = d
	}
}

// WithProbeTimeout bounds every liveness probe of a sweep.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.probeTimeout = d
	}
}

func WithRecorder(rec Recorder) Option {
	return func(r *Registry) {
		r.recorder = rec
	}
}

// Registry applies the registration and liveness rules on top of a Store.
type Registry struct {
	store        *Store
	prober       Prober
	owner        Identity
	logger       *slog.Logger
	recorder     Recorder
	now          func() time.Time
	staleAfter   time.Duration
	probeTimeout time.Duration
}

func New(store *Store, prober Prober, owner Identity, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:        store,
		prober:       prober,
		owner:        owner,
		logger:       logger.With(slog.String("component", "registry")),
		recorder:     nopRecorder{},
		now:          time.Now,
		staleAfter:   DefaultStaleAfter,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Owner returns the identity stamped on registrations made by this process.
func (r *Registry) Owner() Identity {
	return r.owner
}

// Register records name as owned by this process. See RegisterAs.
func (r *Registry) Register(name, host string, port int, metadata map[string]string) Record {
	return r.RegisterAs(r.owner, name, host, port, metadata)
}

// RegisterAs creates or overwrites the record for name as healthy with a
// fresh heartbeat. The metadata is copied and stamped with owner.
func (r *Registry) RegisterAs(owner Identity, name, host string, port int, metadata map[string]string) Record {
	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	owner.stamp(meta)

	rec := Record{
		Name:          name,
		Host:          host,
		Port:          port,
		Status:        StatusHealthy,
		LastHeartbeat: r.now().UTC(),
		Metadata:      meta,
	}

	if err := r.store.Put(rec); err != nil {
		r.logPersistError(err)
	}

	r.logger.Info("Service registered",
		slog.String("service", name),
		slog.String("url", rec.URL()))
	return rec.clone()
}

// Unregister removes name and reports whether it was registered.
func (r *Registry) Unregister(name string) bool {
	removed, err := r.store.Remove(name)
	if err != nil {
		r.logPersistError(err)
	}
	if removed {
		r.logger.Info("Service unregistered", slog.String("service", name))
	}
	return removed
}

// Discover returns the current record of name, healthy or not.
func (r *Registry) Discover(name string) (Record, bool) {
	return r.store.Get(name)
}

// Resolve returns the record of name only when it is registered and
// healthy. Otherwise the error is an *UnavailableError.
func (r *Registry) Resolve(name string) (Record, error) {
	rec, ok := r.store.Get(name)
	if !ok {
		return Record{}, &UnavailableError{Name: name, Reason: ReasonAbsent}
	}
	if !rec.Healthy() {
		return Record{}, &UnavailableError{Name: name, Reason: ReasonUnhealthy}
	}
	return rec, nil
}

func (r *Registry) All() []Record {
	return r.store.All()
}

// Heartbeat refreshes the liveness of a registered service and marks it
// healthy. It never registers an unknown name.
func (r *Registry) Heartbeat(name string) bool {
	now := r.now().UTC()
	_, ok, err := r.store.Update(name, func(rec *Record) bool {
		rec.LastHeartbeat = now
		rec.Status = StatusHealthy
		return true
	})
	if err != nil {
		r.logPersistError(err)
	}
	return ok
}

// MarkUnhealthy flags a registered service as failing without touching its
// heartbeat.
func (r *Registry) MarkUnhealthy(name string) bool {
	_, ok, err := r.store.Update(name, func(rec *Record) bool {
		if rec.Status == StatusUnhealthy {
			return false
		}
		rec.Status = StatusUnhealthy
		return true
	})
	if err != nil {
		r.logPersistError(err)
	}
	return ok
}

// HealthCheckAll probes every registered service concurrently and waits
// for all probes. A failing probe only affects its own record.
func (r *Registry) HealthCheckAll(ctx context.Context) []ProbeResult {
	records := r.store.All()
	mapper := iter.Mapper[Record, ProbeResult]{MaxGoroutines: len(records)}

	return mapper.Map(records, func(rec *Record) ProbeResult {
		probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		err := r.prober.Probe(probeCtx, rec.URL())
		cancel()

		return r.applyProbe(*rec, err)
	})
}

func (r *Registry) applyProbe(probed Record, probeErr error) ProbeResult {
	result := ProbeResult{Name: probed.Name, URL: probed.URL()}
	healthy := probeErr == nil
	now := r.now().UTC()

	var previous Status
	current, ok, err := r.store.Update(probed.Name, func(rec *Record) bool {
		// Re-registered elsewhere while the probe was in flight.
		if rec.URL() != probed.URL() {
			return false
		}
		previous = rec.Status
		if healthy {
			rec.Status = StatusHealthy
			rec.LastHeartbeat = now
			return true
		}
		if rec.Status == StatusUnhealthy {
			return false
		}
		rec.Status = StatusUnhealthy
		return true
	})
	if err != nil {
		r.logPersistError(err)
	}

	r.recorder.ProbeCompleted(probed.Name, healthy)

	if !healthy {
		result.Error = probeErr.Error()
		r.logger.Warn("Health check failed",
			slog.String("service", probed.Name),
			slog.String("url", probed.URL()),
			slog.String("error", probeErr.Error()))
	}

	if !ok {
		result.Status = StatusUnhealthy
		if healthy {
			result.Status = StatusHealthy
		}
		return result
	}

	result.Status = current.Status
	if previous != "" && previous != current.Status {
		if current.Healthy() {
			r.logger.Info("Service is back up", slog.String("service", probed.Name))
		} else {
			r.logger.Warn("Service is down", slog.String("service", probed.Name))
		}
	}
	return result
}

// EvictStale removes every record whose last heartbeat is older than the
// staleness threshold, whatever its status.
func (r *Registry) EvictStale() []string {
	now := r.now()
	removed, err := r.store.RemoveWhere(func(rec Record) bool {
		return now.Sub(rec.LastHeartbeat) > r.staleAfter
	})
	if err != nil {
		r.logPersistError(err)
	}

	for _, name := range removed {
		r.recorder.Evicted(name)
		r.logger.Info("Removed stale service",
			slog.String("service", name),
			slog.Duration("stale_after", r.staleAfter))
	}
	return removed
}

// CleanupOnExit removes every record registered by this process.
func (r *Registry) CleanupOnExit() []string {
	removed, err := r.store.RemoveWhere(func(rec Record) bool {
		return rec.Metadata[MetaInstance] == r.owner.Instance
	})
	if err != nil {
		r.logPersistError(err)
	}

	for _, name := range removed {
		r.logger.Info("Cleaned up service", slog.String("service", name))
	}
	return removed
}

func (r *Registry) logPersistError(err error) {
	r.logger.Error("Failed to persist registry", slog.String("error", err.Error()))
}

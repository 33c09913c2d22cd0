package registryclient

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second

	retryInitialDelay = 500 * time.Millisecond
	retryMaxDelay     = 30 * time.Second
	retryMultiplier   = 2.0
	unregisterTimeout = 5 * time.Second
)

// Agent keeps one service registered for as long as it runs.
type Agent struct {
	client       *Client
	registration registry.Registration
	interval     time.Duration
	logger       *slog.Logger
}

// NewAgent prepares reg for registration. The process identity is filled
// in when reg does not carry one.
func NewAgent(client *Client, reg registry.Registration, interval time.Duration, logger *slog.Logger) *Agent {
	if reg.Instance == "" {
		reg.Instance = uuid.NewString()
	}
	if reg.PID == 0 {
		reg.PID = os.Getpid()
	}
	if reg.StartTime.IsZero() {
		reg.StartTime = time.Now().UTC()
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	return &Agent{
		client:       client,
		registration: reg,
		interval:     interval,
		logger:       logger.With(slog.String("component", "registry-agent"), slog.String("service", reg.Name)),
	}
}

func (a *Agent) Registration() registry.Registration {
	return a.registration
}

// Run registers, then heartbeats every interval until ctx ends, and
// finally unregisters. A 404 on heartbeat means the registration was
// evicted and triggers a fresh registration. It only returns an error when
// ctx ends before the first registration succeeded.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.unregister()
			return nil

		case <-ticker.C:
			err := a.client.Heartbeat(ctx, a.registration.Name)
			switch {
			case err == nil:
			case errors.Is(err, ErrNotRegistered):
				a.logger.Warn("Registration lost, registering again")
				if err := a.register(ctx); err != nil {
					a.unregister()
					return nil
				}
			case ctx.Err() != nil:
			default:
				a.logger.Warn("Heartbeat failed", slog.String("error", err.Error()))
			}
		}
	}
}

// register retries with exponential backoff until it succeeds or ctx ends.
func (a *Agent) register(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = retryInitialDelay
	retry.MaxInterval = retryMaxDelay
	retry.Multiplier = retryMultiplier

	rec, err := backoff.Retry(ctx, func() (registry.Record, error) {
		return a.client.Register(ctx, a.registration)
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn("Registration failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", next))
		}))
	if err != nil {
		return err
	}

	a.logger.Info("Registered with gateway", slog.String("url", rec.URL()))
	return nil
}

func (a *Agent) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()

	if err := a.client.Unregister(ctx, a.registration.Name); err != nil && !errors.Is(err, ErrNotRegistered) {
		a.logger.Warn("Failed to unregister", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("Unregistered from gateway")
}

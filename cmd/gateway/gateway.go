package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/angeloszaimis/mesh-gateway/config"
	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/dispatch"
	"github.com/angeloszaimis/mesh-gateway/internal/handler"
	"github.com/angeloszaimis/mesh-gateway/internal/healthcheck"
	"github.com/angeloszaimis/mesh-gateway/internal/httpserver"
	"github.com/angeloszaimis/mesh-gateway/internal/metrics"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

const (
	gatewayName    = "api-gateway"
	gatewayVersion = "1.0.0"
	eventBuffer    = 1024
)

// gateway holds every component of the running process.
type gateway struct {
	cfg       *config.Config
	log       *slog.Logger
	registry  *registry.Registry
	breakers  *circuitbreaker.Table
	metrics   *metrics.Metrics
	collector *metrics.Collector
	scheduler *healthcheck.Scheduler
	handler   http.Handler
}

func newGateway(cfg *config.Config, log *slog.Logger) (*gateway, error) {
	store, err := registry.OpenStore(cfg.Registry.File, log)
	if err != nil {
		return nil, fmt.Errorf("open registry store: %w", err)
	}

	m := metrics.New()
	collector := metrics.NewCollector(m, eventBuffer, log)

	prober := healthcheck.NewHTTPProber(nil, cfg.Registry.HealthPath)
	reg := registry.New(store, prober, registry.CurrentIdentity(), log,
		registry.WithStaleAfter(cfg.Registry.StaleAfterDuration()),
		registry.WithProbeTimeout(cfg.Registry.ProbeTimeoutDuration()),
		registry.WithRecorder(m))
	m.WatchRegistry(reg.All)

	breakers := circuitbreaker.NewTable(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeoutDuration(),
		circuitbreaker.WithObserver(observeBreakers(log, m)))
	m.InitBreakers(breakers.Snapshots())

	dispatcher := dispatch.New(reg, breakers, log,
		dispatch.WithTimeout(cfg.Proxy.TimeoutDuration()),
		dispatch.WithEmitter(collector))

	gatewayHandler := handler.NewGatewayHandler(log, dispatcher, reg, breakers, handler.GatewayInfo{
		Address:     cfg.Server.Address,
		Environment: cfg.Server.Environment,
	})

	middlewares := []httpserver.Middleware{
		httpserver.RequestID(),
		httpserver.AccessLog(log.With(slog.String("component", "http"))),
	}
	if cfg.RateLimit.Enabled {
		limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
		middlewares = append(middlewares, httpserver.RateLimit(limiter))
	}

	g := &gateway{
		cfg:       cfg,
		log:       log,
		registry:  reg,
		breakers:  breakers,
		metrics:   m,
		collector: collector,
		scheduler: healthcheck.NewScheduler(log),
		handler:   httpserver.Chain(setupRouter(gatewayHandler, m.Handler()), middlewares...),
	}

	if err := g.scheduleJobs(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *gateway) scheduleJobs() error {
	rc := g.cfg.Registry

	if err := g.scheduler.Add("health-sweep", rc.SweepIntervalDuration(), func(ctx context.Context) {
		g.registry.HealthCheckAll(ctx)
	}); err != nil {
		return err
	}

	if err := g.scheduler.Add("stale-eviction", rc.EvictionIntervalDuration(), func(context.Context) {
		g.registry.EvictStale()
	}); err != nil {
		return err
	}

	return g.scheduler.Add("self-heartbeat", rc.HeartbeatIntervalDuration(), func(context.Context) {
		if !g.registry.Heartbeat(gatewayName) {
			g.log.Warn("Gateway registration lost, registering again")
			g.selfRegister()
		}
	})
}

func (g *gateway) selfRegister() registry.Record {
	_, portStr, _ := net.SplitHostPort(g.cfg.Server.Address)
	port, _ := strconv.Atoi(portStr)

	return g.registry.Register(gatewayName, g.cfg.Server.AdvertiseHost, port, map[string]string{
		"description": "API Gateway for shopping list microservices",
		"version":     gatewayVersion,
	})
}

// run serves until ctx ends or the server fails, then removes the
// registrations owned by this process.
func (g *gateway) run(ctx context.Context) error {
	srv, err := httpserver.New(g.cfg.Server.Address, g.handler)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	g.collector.Start(ctx)
	g.selfRegister()

	schedulerDone := make(chan struct{})
	go func() {
		g.scheduler.Run(ctx)
		close(schedulerDone)
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	g.log.Info("API Gateway running", slog.String("address", g.cfg.Server.Address))

	var runErr error
	select {
	case <-ctx.Done():
		g.log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			g.log.Error("Error during shutdown", slog.Any("err", err))
		}
	case runErr = <-srvErrCh:
		g.log.Error("Server stopped unexpectedly", slog.Any("err", runErr))
	}

	removed := g.registry.CleanupOnExit()
	g.log.Info("Registry cleaned up", slog.Any("services", removed))

	if ctx.Err() != nil {
		<-schedulerDone
		<-g.collector.Done()
	}
	return runErr
}

// observeBreakers records every transition in m and logs it.
func observeBreakers(log *slog.Logger, m *metrics.Metrics) circuitbreaker.Observer {
	log = log.With(slog.String("component", "circuitbreaker"))
	return func(name string, from, to circuitbreaker.State) {
		m.BreakerTransition(name, from, to)

		level := slog.LevelInfo
		if to == circuitbreaker.StateOpen {
			level = slog.LevelWarn
		}
		log.Log(context.Background(), level, "Circuit breaker state changed",
			slog.String("service", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}
}

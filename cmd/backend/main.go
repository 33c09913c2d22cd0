// Backend is a demo downstream service for the gateway. It registers
// itself with the gateway registry, heartbeats until stopped and echoes
// every request it receives.
//
// Usage:
//
//	go run ./cmd/backend --name item-service --port 3003
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/mesh-gateway/config"
	"github.com/angeloszaimis/mesh-gateway/internal/httpserver"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
	"github.com/angeloszaimis/mesh-gateway/internal/registryclient"
	"github.com/angeloszaimis/mesh-gateway/pkg/logger"
)

type options struct {
	name      string
	host      string
	port      int
	registry  string
	heartbeat time.Duration
	logLevel  string
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("backend", pflag.ContinueOnError)
	fs.StringVar(&opts.name, "name", "item-service", "service name to register")
	fs.StringVar(&opts.host, "host", "localhost", "host the gateway should dial")
	fs.IntVar(&opts.port, "port", 3003, "port to listen on")
	fs.StringVar(&opts.registry, "registry", "http://localhost:3005", "gateway base URL")
	fs.DurationVar(&opts.heartbeat, "heartbeat", registryclient.DefaultHeartbeatInterval, "heartbeat interval")
	fs.StringVar(&opts.logLevel, "log-level", config.LogLevelInfo, "log level")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	reg := registry.Registration{Name: opts.name, Host: opts.host, Port: opts.port}
	if err := reg.Validate(); err != nil {
		return options{}, err
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		slog.Error("invalid flags", slog.Any("err", err))
		os.Exit(2)
	}

	log := logger.New(opts.logLevel, false, config.EnvDev).With(slog.String("service", opts.name))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, log); err != nil {
		log.Error("Backend stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log *slog.Logger) error {
	addr := net.JoinHostPort("", strconv.Itoa(opts.port))
	handler := httpserver.Chain(newEchoHandler(opts.name), httpserver.RequestID(), httpserver.AccessLog(log))

	srv, err := httpserver.New(addr, handler)
	if err != nil {
		return err
	}

	client, err := registryclient.NewClient(opts.registry, nil)
	if err != nil {
		return err
	}
	agent := registryclient.NewAgent(client, registry.Registration{
		Name:     opts.name,
		Host:     opts.host,
		Port:     opts.port,
		Metadata: map[string]string{"description": "Demo echo backend"},
	}, opts.heartbeat, log)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	agentCtx, stopAgent := context.WithCancel(ctx)
	defer stopAgent()

	agentDone := make(chan error, 1)
	go func() {
		agentDone <- agent.Run(agentCtx)
	}()

	log.Info("Backend listening", slog.String("address", addr), slog.String("registry", opts.registry))

	var srvErr error
	select {
	case <-ctx.Done():
	case srvErr = <-srvErrCh:
	}

	stopAgent()
	if err := <-agentDone; err != nil {
		log.Warn("Registration never completed", slog.Any("err", err))
	}
	if srvErr != nil {
		return srvErr
	}
	return srv.Shutdown(context.Background())
}

package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const EventUpstreamCompleted EventType = "upstream_completed"

type MetricEvent struct {
	Type     EventType
	Service  string
	Outcome  string
	Duration time.Duration
}

// Collector applies events to Metrics off the request path.
type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
	done    chan struct{}
}

func NewCollector(m *Metrics, bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: m,
		logger:  logger.With(slog.String("component", "metrics")),
		done:    make(chan struct{}),
	}
}

// Emit queues event without blocking. It is dropped when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.metrics.droppedEvents.Inc()
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained its buffer after ctx ended.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventUpstreamCompleted:
		c.metrics.UpstreamCompleted(event.Service, event.Outcome, event.Duration)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/skypro1111/radio-recorder/internal/metrics"
)

const (
	// DefaultSweepInterval is how often idle sessions are reaped
	DefaultSweepInterval = time.Second

	defaultQueueSize = 256
)

// DispatcherConfig configures the event loop of a single network
type DispatcherConfig struct {
	Network       string
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// QueueSize is the capacity of the event channel; negative means unbuffered
	QueueSize int
}

// Dispatcher is the single consumer of one network's events.
// Because every packet, close and sweep of a network runs on its goroutine,
// a Closed event is always applied before any later packet of that network.
type Dispatcher struct {
	cfg      DispatcherConfig
	registry *Registry
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   chan Event
}

// NewDispatcher creates a dispatcher for cfg.Network
func NewDispatcher(cfg DispatcherConfig, registry *Registry, clock Clock, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	size := cfg.QueueSize
	switch {
	case size == 0:
		size = defaultQueueSize
	case size < 0:
		size = 0
	}
	if clock == nil {
		clock = SystemClock()
	}

	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		clock:    clock,
		logger:   logger.With(slog.String("network", cfg.Network)),
		metrics:  m,
		events:   make(chan Event, size),
	}
}

// Network returns the name of the network this dispatcher serves
func (d *Dispatcher) Network() string {
	return d.cfg.Network
}

// Events returns the channel adapters publish into
func (d *Dispatcher) Events() chan<- Event {
	return d.events
}

// Run processes events and reaps idle sessions until ctx is cancelled or the
// event channel is closed. All sessions of the network are finalized on return.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	d.logger.Debug("Dispatcher started",
		slog.Duration("idle_timeout", d.cfg.IdleTimeout),
		slog.Duration("sweep_interval", d.cfg.SweepInterval),
	)

	for {
		select {
		case <-ctx.Done():
			d.drain()
			d.shutdown()
			return nil

		case ev, ok := <-d.events:
			if !ok {
				d.shutdown()
				return nil
			}
			d.handle(ev)

		case <-ticker.C():
			d.sweep()
		}
	}
}

func (d *Dispatcher) handle(ev Event) {
	switch ev.Kind {
	case EventEstablished:
		d.metrics.SetNetworkUp(d.cfg.Network, true)
		d.logger.Info("Network session established")

	case EventClosed:
		d.metrics.SetNetworkUp(d.cfg.Network, false)
		closed, err := d.registry.CloseNetwork(d.cfg.Network)
		attrs := []any{slog.Int("finalized", closed)}
		if ev.Err != nil {
			attrs = append(attrs, slog.String("cause", ev.Err.Error()))
		}
		d.logger.Warn("Network session closed", attrs...)
		if err != nil {
			d.logger.Error("Errors while finalizing network recordings", slog.String("error", err.Error()))
		}

	case EventAudio:
		if err := d.registry.HandlePacket(d.cfg.Network, ev.Packet); err != nil {
			d.logger.Error("Failed to record audio packet",
				slog.String("source_id", ev.Packet.SourceID),
				slog.String("destination_id", ev.Packet.DestinationID),
				slog.Int("payload_size", len(ev.Packet.Payload)),
				slog.String("error", err.Error()),
			)
		}

	default:
		d.logger.Warn("Ignoring unknown event", slog.String("kind", ev.Kind.String()))
	}
}

func (d *Dispatcher) sweep() {
	removed, err := d.registry.SweepIdle(d.cfg.Network, d.clock.Now(), d.cfg.IdleTimeout)
	if removed > 0 {
		d.logger.Debug("Reaped idle sessions", slog.Int("count", removed))
	}
	if err != nil {
		d.logger.Error("Errors while reaping idle sessions", slog.String("error", err.Error()))
	}
}

// drain records whatever is already queued so no buffered audio is lost on shutdown
func (d *Dispatcher) drain() {
	for {
		select {
		case ev, ok := <-d.events:
			if !ok {
				return
			}
			d.handle(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) shutdown() {
	closed, err := d.registry.closeShard(d.cfg.Network, metrics.ReasonShutdown)
	if err != nil {
		d.logger.Error("Errors while finalizing recordings on shutdown", slog.String("error", err.Error()))
	}
	d.logger.Debug("Dispatcher stopped", slog.Int("finalized", closed))
}

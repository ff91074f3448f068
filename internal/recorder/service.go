package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/radio-recorder/internal/catalog"
	"github.com/skypro1111/radio-recorder/internal/config"
	"github.com/skypro1111/radio-recorder/internal/metrics"
	"github.com/skypro1111/radio-recorder/internal/network"
	"github.com/skypro1111/radio-recorder/internal/server"
	"github.com/skypro1111/radio-recorder/internal/storage"
	"github.com/skypro1111/radio-recorder/internal/stream"
)

// AdapterFactory builds the adapter for one network
type AdapterFactory func(transport string, opts network.Options) (network.Adapter, error)

// Options carries the dependencies that differ between production and tests
type Options struct {
	Version string

	// Registerer and Gatherer default to the global Prometheus registry
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Clock      stream.Clock
	NewAdapter AdapterFactory
}

type networkRunner struct {
	cfg        config.NetworkConfig
	adapter    network.Adapter
	dispatcher *stream.Dispatcher
}

// Service records every configured network until its context is cancelled
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	layout   *storage.Layout
	registry *stream.Registry
	catalog  *catalog.Catalog
	http     *server.HTTPServer

	networks []*networkRunner
}

// New wires the recorder for cfg. cfg must already be validated.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Service, error) {
	if len(cfg.Networks) == 0 {
		return nil, config.ErrNoNetworks
	}
	if opts.Clock == nil {
		opts.Clock = stream.SystemClock()
	}
	if opts.NewAdapter == nil {
		opts.NewAdapter = network.New
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	layout, err := storage.NewLayout(cfg.BaseDirectory)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics(opts.Registerer)
	registry := stream.NewRegistry(logger, layout, m, opts.Clock, cfg.Recording.GetIdleTimeout())

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		layout:   layout,
		registry: registry,
	}

	for _, n := range cfg.Networks {
		adapter, err := opts.NewAdapter(n.Transport, network.Options{
			Network:           n.Name,
			Address:           n.Address,
			Port:              n.Port,
			Path:              n.Path,
			RetryInterval:     cfg.Connection.GetRetryInterval(),
			LinkTimeout:       cfg.Connection.GetLinkTimeout(),
			KeepAliveInterval: cfg.Connection.GetKeepAliveInterval(),
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", n.Name, err)
		}

		dispatcher := stream.NewDispatcher(stream.DispatcherConfig{
			Network:       n.Name,
			IdleTimeout:   cfg.Recording.GetIdleTimeout(),
			SweepInterval: cfg.Recording.GetSweepInterval(),
			QueueSize:     cfg.Recording.QueueSize,
		}, registry, opts.Clock, logger, m)

		s.networks = append(s.networks, &networkRunner{cfg: n, adapter: adapter, dispatcher: dispatcher})
	}

	if cfg.HTTP.Enabled {
		s.catalog = catalog.New(layout, cfg.HTTP.GetCacheTTL(), opts.Clock, logger, m)
		s.http, err = server.NewHTTPServer(server.Options{
			Address:  cfg.HTTP.Address,
			Port:     cfg.HTTP.Port,
			BaseDir:  layout.BaseDir(),
			Version:  opts.Version,
			Gatherer: opts.Gatherer,
		}, logger, s.catalog, registry, m)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Registry exposes the live sessions
func (s *Service) Registry() *stream.Registry {
	return s.registry
}

// Run records until ctx is cancelled or a component fails. Every open
// recording is finalized before Run returns.
func (s *Service) Run(ctx context.Context) error {
	for _, n := range s.networks {
		dir, err := s.layout.EnsureNetworkDir(n.cfg.Name)
		if err != nil {
			return fmt.Errorf("network %s: %w", n.cfg.Name, err)
		}
		s.logger.Debug("Network directory ready",
			slog.String("network", n.cfg.Name),
			slog.String("path", dir),
		)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Dispatchers start first so no adapter ever publishes into an idle queue
	for _, n := range s.networks {
		d := n.dispatcher
		g.Go(func() error {
			return d.Run(gctx)
		})
	}

	g.Go(func() error {
		return s.startAdapters(gctx, g)
	})

	if s.http != nil {
		g.Go(func() error {
			return s.catalog.Run(gctx)
		})
		g.Go(func() error {
			return s.http.Run(gctx)
		})
	}

	s.logger.Info("Recorder started",
		slog.Int("networks", len(s.networks)),
		slog.String("base_directory", s.layout.BaseDir()),
		slog.Bool("http", s.http != nil),
	)

	var result *multierror.Error
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.registry.CloseAll(); err != nil {
		result = multierror.Append(result, err)
	}

	s.logger.Info("Recorder stopped")
	return result.ErrorOrNil()
}

// startAdapters connects the networks one after another, StaggerDelay apart
func (s *Service) startAdapters(ctx context.Context, g *errgroup.Group) error {
	delay := s.cfg.GetStaggerDelay()

	for i, n := range s.networks {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}

		s.logger.Info("Starting network",
			slog.String("network", n.cfg.Name),
			slog.String("transport", n.cfg.Transport),
			slog.String("address", fmt.Sprintf("%s:%d", n.cfg.Address, n.cfg.Port)),
		)

		adapter, sink := n.adapter, n.dispatcher.Events()
		g.Go(func() error {
			return adapter.Run(ctx, sink)
		})
	}
	return nil
}

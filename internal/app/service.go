package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"stationmon/internal/alert"
	"stationmon/internal/api"
	"stationmon/internal/clock"
	"stationmon/internal/config"
	"stationmon/internal/hub"
	"stationmon/internal/ingest"
	"stationmon/internal/logging"
	"stationmon/internal/metrics"
	"stationmon/internal/relay"
	"stationmon/internal/status"
	"stationmon/internal/stream"
	"stationmon/internal/templatefmt"
	"stationmon/internal/topology"
)

const shutdownTimeout = 10 * time.Second

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable stationmon service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	clock     clock.Clock
	topology  *topology.Store
	events    *hub.Hub
	alerts    *alert.Manager
	engine    *status.Engine
	stream    *stream.Handler
	handler   http.Handler
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	relay     *relay.Relay
	readyFlag atomic.Bool
	closeOnce sync.Once
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	service, err := newService(cfg, logger, clk)
	if err != nil {
		closeLog()
		return nil, err
	}
	service.closeLog = closeLog
	return service, nil
}

// newService wires components from validated config.
func newService(cfg config.Config, logger *slog.Logger, clk clock.Clock) (*Service, error) {
	store, err := topology.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("build topology: %w", err)
	}
	tpl, err := templatefmt.ParseAlertTemplate("alert", cfg.Alerts.MessageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse alert template: %w", err)
	}

	events := hub.New(hub.Options{Buffer: cfg.Hub.SubscriberBuffer, Clock: clk, Logger: logger})
	alerts := alert.NewManager(alert.NewStore(), events, alert.Options{Clock: clk, Logger: logger, Template: tpl})
	engine := status.NewEngine(store, topology.NewMutator(store), alerts, events, status.Options{
		StalenessWindow: cfg.Status.StalenessWindow(),
		MaxFutureSkew:   cfg.Status.MaxFutureSkew(),
		Clock:           clk,
		Logger:          logger,
	})

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		clock:    clk,
		topology: store,
		events:   events,
		alerts:   alerts,
		engine:   engine,
		stream:   stream.NewHandler(events, stream.Options{Buffer: cfg.Hub.SubscriberBuffer, Logger: logger}),
	}
	service.buildHTTPServer()

	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildRelay(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	return service, nil
}

// Handler returns root HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.HTTP.Listen)
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("listen %s: %w", s.cfg.HTTP.Listen, err)
	}
	return s.serve(ctx, listener)
}

// serve runs HTTP, relay, and sweep loops on an open listener.
func (s *Service) serve(ctx context.Context, listener net.Listener) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", listener.Addr().String())
		err := s.httpSrv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var workers sync.WaitGroup
	if s.relay != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := s.relay.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("relay stopped", "error", err.Error())
			}
		}()
	}

	workers.Add(1)
	go func() {
		defer workers.Done()
		s.sweepLoop(runCtx, time.Duration(s.cfg.Service.SweepIntervalSec)*time.Second)
	}()

	s.readyFlag.Store(true)
	s.logger.Info("service started",
		"service", s.cfg.Service.Name,
		"nodes", len(s.topology.NodeIDs()),
		"nats_ingest", s.cfg.Ingest.NATS.Enabled,
		"nats_relay", s.cfg.Relay.NATS.Enabled,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errChan:
		runErr = fmt.Errorf("http server failed: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	}

	s.readyFlag.Store(false)
	cancel()
	shutdownErr := s.shutdown()
	workers.Wait()
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// sweepLoop recomputes node staleness on every tick.
func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("staleness sweep failed", "error", err.Error())
			}
		}
	}
}

// Sweep runs one staleness recompute over all nodes.
// Params: context for cancellation between nodes.
// Returns: changed nodes or context error.
func (s *Service) Sweep(ctx context.Context) ([]status.NodeChange, error) {
	return s.engine.Sweep(ctx)
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error; later calls are no-ops.
func (s *Service) shutdown() error {
	var firstErr error
	s.closeOnce.Do(func() {
		s.readyFlag.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		markErr := func(err error) {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}

		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("http shutdown: %w", err))
		}
		s.stream.Close()
		if s.natsSub != nil {
			if err := s.natsSub.Close(); err != nil {
				s.logger.Error("nats subscriber close failed", "error", err.Error())
				markErr(fmt.Errorf("nats subscriber close: %w", err))
			}
		}
		if s.relay != nil {
			if err := s.relay.Close(); err != nil {
				s.logger.Error("relay close failed", "error", err.Error())
				markErr(fmt.Errorf("relay close: %w", err))
			}
		}
		s.events.Close()
		s.logger.Info("service stopped")
		if s.closeLog != nil {
			s.closeLog()
		}
	})
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
func (s *Service) cleanupInitResources() {
	if s.relay != nil {
		_ = s.relay.Close()
		s.relay = nil
	}
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	s.stream.Close()
	s.events.Close()
}

// buildHTTPServer wires API router with gateway, stream, and health endpoints.
func (s *Service) buildHTTPServer() {
	s.handler = api.NewRouter(api.Deps{
		HTTP:        s.cfg.HTTP,
		Topology:    s.topology,
		Maintenance: s.engine,
		Alerts:      s.alerts,
		Readings:    ingest.NewHTTPHandler(s.engine, s.cfg.HTTP.MaxBodyBytes, s.logger),
		Stream:      s.stream,
		Metrics:     metrics.Handler(),
		Ready:       s.readyFlag.Load,
		Logger:      s.logger,
	})
	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildNATSSubscriber starts NATS ingest when enabled.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.engine, s.logger)
	if err != nil {
		return fmt.Errorf("start nats ingest: %w", err)
	}
	s.natsSub = subscriber
	return nil
}

// buildRelay subscribes JetStream relay to hub when enabled.
func (s *Service) buildRelay() error {
	if !s.cfg.Relay.NATS.Enabled {
		return nil
	}
	r, err := relay.NewNATS(s.cfg.Relay.NATS, s.events, s.logger)
	if err != nil {
		return fmt.Errorf("start nats relay: %w", err)
	}
	s.relay = r
	return nil
}

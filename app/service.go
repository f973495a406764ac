// Package app wires the dispatch engine and its transports from
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	apidispatch "github.com/kilianp07/orderdispatch/api/dispatch"
	"github.com/kilianp07/orderdispatch/config"
	"github.com/kilianp07/orderdispatch/core/dispatch"
	corejournal "github.com/kilianp07/orderdispatch/core/journal"
	coremetrics "github.com/kilianp07/orderdispatch/core/metrics"
	coremon "github.com/kilianp07/orderdispatch/core/monitoring"
	coremqtt "github.com/kilianp07/orderdispatch/core/mqtt"
	"github.com/kilianp07/orderdispatch/core/stock"
	"github.com/kilianp07/orderdispatch/core/store"
	"github.com/kilianp07/orderdispatch/infra/journal"
	"github.com/kilianp07/orderdispatch/infra/logger"
	"github.com/kilianp07/orderdispatch/infra/metrics"
	"github.com/kilianp07/orderdispatch/infra/monitoring"
	"github.com/kilianp07/orderdispatch/infra/mqtt"
	_ "github.com/kilianp07/orderdispatch/infra/store/memory"
	_ "github.com/kilianp07/orderdispatch/infra/store/sqlstore"
	"github.com/kilianp07/orderdispatch/internal/eventbus"
)

// Option customizes a Service.
type Option func(*options)

type options struct {
	mqttClient coremqtt.Client
}

// WithMQTTClient replaces the Paho client of the bridge.
func WithMQTTClient(c coremqtt.Client) Option {
	return func(o *options) { o.mqttClient = c }
}

// Service owns the engine, its store and the transports around it.
type Service struct {
	Engine   *dispatch.Engine
	Router   http.Handler
	cfg      *config.Config
	store    *store.Store
	bus      *eventbus.Bus
	sink     coremetrics.MetricsSink
	journal  corejournal.Store
	client   coremqtt.Client
	bridge   *mqtt.Bridge
	log      logger.Logger
	monitor  coremon.Monitor
	mu       sync.Mutex
	listener net.Addr
}

// New creates a Service from the configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	logger.Configure(nil, cfg.Logging.Format)
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	backend, err := store.NewBackend(cfg.Store.Module())
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", cfg.Store.Driver, err)
	}
	st := store.New(backend, cfg.Store.MaxRetries)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	bus := eventbus.New()
	engine, err := dispatch.NewEngine(st, stock.NewEngine(), cfg.Dispatch, logger.New("dispatch"), sink, bus)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("dispatch engine: %w", err)
	}

	js, err := journal.New(cfg.Journal)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}

	svc := &Service{
		Engine:  engine,
		cfg:     cfg,
		store:   st,
		bus:     bus,
		sink:    sink,
		journal: js,
		log:     logg,
		monitor: mon,
	}
	svc.Router = apidispatch.NewRouter(apidispatch.NewHandler(engine, js, logger.New("api")), cfg.API)

	if cfg.MQTT.Enabled {
		client := o.mqttClient
		if client == nil {
			pc, err := mqtt.NewPahoClient(cfg.MQTT)
			if err != nil {
				_ = svc.Close()
				return nil, fmt.Errorf("mqtt client: %w", err)
			}
			client = pc
		}
		svc.client = client
		if svc.bridge, err = mqtt.NewBridge(cfg.MQTT, client, engine, logger.New("mqtt_bridge")); err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("mqtt bridge: %w", err)
		}
	}
	return svc, nil
}

// Addr returns the address the API listens on once Run started.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

// Run serves the API and the event consumers until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	defer coremon.Guard("service")
	metrics.StartEventCollector(ctx, s.bus, s.sink, logger.New("metrics"))
	rec := corejournal.NewRecorder(s.journal, logger.New("journal"))
	go func() {
		defer coremon.Guard("journal")
		rec.Run(ctx, s.bus)
	}()
	if s.bridge != nil {
		go func() {
			defer coremon.Guard("mqtt_bridge")
			s.bridge.Run(ctx, s.bus)
		}()
		if err := s.bridge.Listen(ctx); err != nil {
			return fmt.Errorf("mqtt subscribe: %w", err)
		}
	}
	if addr := s.cfg.Metrics.PrometheusAddress; addr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, addr, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	ln, err := net.Listen("tcp", s.cfg.API.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.API.Address, err)
	}
	s.mu.Lock()
	s.listener = ln.Addr()
	s.mu.Unlock()
	srv := &http.Server{Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Infof("dispatch API listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.client != nil {
		s.client.Disconnect()
	}
	s.bus.Close()
	if n := s.bus.Dropped(); n > 0 {
		s.log.Warnf("event bus dropped %d deliveries to slow consumers", n)
	}
	s.monitor.Flush(2 * time.Second)
	return errors.Join(s.journal.Close(), s.store.Close())
}

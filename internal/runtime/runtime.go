package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-vc/internal/bus"
	"github.com/loqalabs/loqa-vc/internal/capability"
	"github.com/loqalabs/loqa-vc/internal/config"
	"github.com/loqalabs/loqa-vc/internal/conversion"
	"github.com/loqalabs/loqa-vc/internal/eventstore"
	"github.com/loqalabs/loqa-vc/internal/model"
	"github.com/loqalabs/loqa-vc/internal/natsserver"
	"github.com/loqalabs/loqa-vc/internal/sink"
	"github.com/loqalabs/loqa-vc/internal/source"
	"github.com/loqalabs/loqa-vc/internal/vc"
	"github.com/loqalabs/loqa-vc/internal/wsapi"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	models   *model.Set
	store    *eventstore.Store
	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	service  *vc.Service
	registry *capability.Registry
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// NewPipeline builds the conversion pipeline and its model set from cfg.
// The caller closes the returned set.
func NewPipeline(cfg config.Config, logger *slog.Logger) (*conversion.Pipeline, *model.Set, error) {
	models, err := model.NewSet(cfg.Models, model.LayoutFromConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("load models: %w", err)
	}
	src, err := source.New(cfg.Source)
	if err != nil {
		models.Close()
		return nil, nil, fmt.Errorf("source synthesizer: %w", err)
	}
	enc, err := sink.New(cfg.Conversion)
	if err != nil {
		models.Close()
		return nil, nil, fmt.Errorf("audio sink: %w", err)
	}
	pipeline, err := conversion.New(cfg, models, src, enc, logger)
	if err != nil {
		models.Close()
		return nil, nil, err
	}
	return pipeline, models, nil
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	pipeline, models, err := NewPipeline(r.cfg, r.logger)
	if err != nil {
		return err
	}
	r.models = models
	runner := vc.NewRunner(pipeline, r.store, r.logger)

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx, runner); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.Handle("/v1/convert", wsapi.NewHandler(runner, r.logger))

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runPrune(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("models", r.cfg.Models.Backend),
		slog.String("format", pipeline.Format()),
		slog.Bool("bus", r.bus != nil))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	return nil
}

func (r *Runtime) startBus(ctx context.Context, runner *vc.Runner) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		r.nats = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	r.service = vc.NewService(ctx, client, runner, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("start conversion service: %w", err)
	}
	r.registry, err = capability.NewRegistry(ctx, r.cfg.Node, client, capability.Capabilities(r.cfg), runner.Busy, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	return nil
}

func (r *Runtime) runPrune(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// shutdown releases components in reverse start order.
func (r *Runtime) shutdown() {
	if r.registry != nil {
		r.registry.Close()
	}
	if r.service != nil {
		r.service.Close()
	}
	r.bus.Close()
	r.nats.Shutdown()
	if r.models != nil {
		if err := r.models.Close(); err != nil {
			r.logger.Error("model shutdown error", slog.String("error", err.Error()))
		}
	}
	if err := r.store.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := r.ready.Load()
	if r.cfg.Bus.Enabled {
		ready = ready && r.bus.Healthy() && r.service != nil && r.service.Healthy() && r.registry.Healthy()
	}
	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

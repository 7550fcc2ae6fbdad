// Package runtime wires the voice pipeline together: telemetry, message
// bus, transcription worker, speech output, completion layer, and the
// HTTP surface. Start blocks until the context is cancelled, then shuts
// everything down in reverse order.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxloop/voxloop/internal/bus"
	"github.com/voxloop/voxloop/internal/capture"
	"github.com/voxloop/voxloop/internal/completion"
	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/history"
	"github.com/voxloop/voxloop/internal/httpapi"
	"github.com/voxloop/voxloop/internal/natsserver"
	"github.com/voxloop/voxloop/internal/pipeline"
	"github.com/voxloop/voxloop/internal/ratelimit"
	"github.com/voxloop/voxloop/internal/speech"
	"github.com/voxloop/voxloop/internal/transcriber"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	coordinator *pipeline.Coordinator
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Coordinator exposes the pipeline for control surfaces layered on top
// of the runtime.
func (r *Runtime) Coordinator() *pipeline.Coordinator {
	return r.coordinator
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A missing completion credential is a startup failure, not
	// something to discover on the first request.
	generator, err := completion.NewGenerator(r.cfg.Completion)
	if err != nil {
		return fmt.Errorf("completion backend: %w", err)
	}

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	busClient, err := bus.Connect(busCfg, r.logger)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return fmt.Errorf("connect bus: %w", err)
	}

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		busClient.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
		return fmt.Errorf("open cycle store: %w", err)
	}

	recognizer, err := transcriber.NewRecognizer(r.cfg.Transcriber)
	if err != nil {
		return fmt.Errorf("transcriber backend: %w", err)
	}
	engine := transcriber.NewEngine(r.cfg.Transcriber, recognizer, r.logger)
	service := transcriber.NewService(ctx, busClient, engine, r.logger)
	if err := service.Start(); err != nil {
		return fmt.Errorf("start transcriber service: %w", err)
	}

	client, err := transcriber.NewClient(busClient, r.cfg.Transcriber, r.logger)
	if err != nil {
		return fmt.Errorf("start transcriber client: %w", err)
	}
	// Model load happens in the background; the coordinator stays
	// not-ready until the worker broadcasts readiness.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := client.Init(ctx); err != nil {
			r.logger.Error("transcriber init failed", slog.String("error", err.Error()))
		}
	}()

	device, err := newCaptureDevice(r.cfg.Capture)
	if err != nil {
		return fmt.Errorf("capture backend: %w", err)
	}
	unit := capture.NewUnit(r.cfg.Capture, device, r.logger)

	synth, catalog, sink, err := speech.NewSynthesizer(r.cfg.Speech)
	if err != nil {
		return fmt.Errorf("speech backend: %w", err)
	}
	output := speech.NewOutput(r.cfg.Speech, catalog, synth, sink, r.logger)
	output.StartDiscovery(ctx)

	layer := completion.NewLayer(r.cfg.Completion, generator, r.logger)
	r.coordinator = pipeline.NewCoordinator(r.cfg.Pipeline, r.cfg.Speech.Locale,
		captureRecorder{unit: unit}, client, layer, output, store, r.logger)

	limiter := ratelimit.New(r.cfg.RateLimit)
	chat := httpapi.NewHandler(r.cfg, limiter, layer, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	chat.Register(mux)

	// Metrics get their own listener when a dedicated bind is set, so
	// scrapes never share a port with the public chat surface.
	var metricsServer *http.Server
	if metricHandler != nil {
		if bind := r.cfg.Telemetry.PrometheusBind; bind != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", metricHandler)
			metricsServer = &http.Server{
				Addr:              bind,
				Handler:           metricsMux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					r.logger.Error("metrics server failed", slog.String("error", err.Error()))
				}
			}()
			r.logger.Info("metrics listener started", slog.String("addr", bind))
		} else {
			mux.Handle("/metrics", metricHandler)
		}
	}

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
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	output.Stop()
	client.Close()
	service.Close()
	r.wg.Wait()

	if err := store.Close(); err != nil {
		r.logger.Error("cycle store close error", slog.String("error", err.Error()))
	}
	busClient.Close()
	if embedded != nil {
		embedded.Shutdown()
	}
	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.coordinator != nil && r.coordinator.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func newCaptureDevice(cfg config.CaptureConfig) (capture.Device, error) {
	switch cfg.Mode {
	case "exec":
		return capture.NewExecDevice(cfg.Command)
	default:
		return capture.NewMockDevice(), nil
	}
}

// captureRecorder adapts the capture unit to the coordinator's recorder
// interface.
type captureRecorder struct {
	unit *capture.Unit
}

func (c captureRecorder) Start(ctx context.Context) (pipeline.Recording, error) {
	session, err := c.unit.Start(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

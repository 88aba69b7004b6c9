package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/console"
	"github.com/loqalabs/loqa-scribe/internal/delivery"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/pipeline"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/queue"
	"github.com/loqalabs/loqa-scribe/internal/session"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

// Option customises a Runtime.
type Option func(*Runtime)

// WithConsole sets where operator commands are read from and messages written to.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(r *Runtime) {
		r.in = in
		r.out = out
	}
}

// WithEngineLoader replaces the configured STT backend.
func WithEngineLoader(load pipeline.EngineLoader) Option {
	return func(r *Runtime) { r.load = load }
}

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	in         io.Reader
	out        io.Writer
	load       pipeline.EngineLoader
	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup

	ctrl atomic.Pointer[session.Controller]
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		logger: logger,
		in:     os.Stdin,
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.load == nil {
		r.load = func(context.Context) (stt.Engine, error) {
			return stt.New(cfg.STT, logger)
		}
	}
	return r
}

// Start runs the recording pipeline until the session ends. Cancelling ctx
// requests a graceful shutdown that still transcribes and delivers every
// queued recording; cancelling abort additionally fails whatever is left.
func (r *Runtime) Start(ctx, abort context.Context) error {
	tel, err := startTelemetry(ctx, r.cfg, os.Stderr, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}()

	sessionID := uuid.NewString()
	logger := r.logger.With(slog.String("session_id", sessionID))
	consoleSink := delivery.NewConsoleSink(r.out)

	var store *eventstore.Store
	if r.cfg.Delivery.History {
		store, err = eventstore.Open(ctx, r.cfg.History, logger)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		if err := store.AppendSession(ctx, sessionID, r.cfg.RuntimeName); err != nil {
			return fmt.Errorf("record session: %w", err)
		}
	}

	busClient, stopBus, err := r.connectBus(ctx, logger)
	if err != nil {
		return err
	}
	defer stopBus()

	recorder, err := capture.NewRecorder(r.cfg.Recorder, logger)
	if err != nil {
		return err
	}

	work := queue.New[capture.Artifact]()
	results := queue.New[pipeline.Result]()

	metrics, err := pipeline.NewMetrics(func() map[string]int64 {
		depths := map[string]int64{
			"work":    int64(work.Len()),
			"results": int64(results.Len()),
		}
		if ctrl := r.ctrl.Load(); ctrl != nil {
			depths["pending"] = ctrl.Pending()
		}
		return depths
	})
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	worker := pipeline.NewWorker(r.cfg.Pipeline, r.cfg.STT, work, results, r.load, metrics, logger)

	var sinks []delivery.Sink
	if r.cfg.Delivery.Console {
		sinks = append(sinks, consoleSink)
	}
	var clip *delivery.ClipboardSink
	if r.cfg.Delivery.Clipboard.Enabled {
		clip, err = delivery.NewClipboardSink(r.cfg.Delivery.Clipboard, logger)
		if err != nil {
			logger.Warn("clipboard disabled", slogError(err))
		} else {
			sinks = append(sinks, clip)
		}
	}
	if busClient != nil && r.cfg.Delivery.Bus {
		sinks = append(sinks, delivery.NewBusSink(busClient, sessionID))
	}
	if store != nil {
		sinks = append(sinks, delivery.NewHistorySink(store, sessionID))
	}
	dispatcher := delivery.NewDispatcher(results, consoleSink, logger, sinks...)
	dispatcher.SetPollInterval(time.Duration(r.cfg.Pipeline.PollIntervalMS) * time.Millisecond)

	var copier session.Copier
	if store != nil && clip != nil {
		copier = delivery.NewRecall(store, clip)
	}
	ctrl := session.NewController(session.Options{
		Config:   r.cfg.Session,
		Cleanup:  r.cfg.Recorder.CleanupOnExit,
		Recorder: recorder,
		Work:     work,
		Drained:  dispatcher.Done(),
		Printer:  consoleSink,
		Copier:   copier,
		Metrics:  metrics,
		Logger:   logger,
	})
	dispatcher.OnDelivered(ctrl.Delivered)
	r.ctrl.Store(ctrl)

	var pipelineWG sync.WaitGroup
	pipelineWG.Add(2)
	go func() {
		defer pipelineWG.Done()
		if err := worker.Run(abort); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("transcription worker stopped", slogError(err))
		}
	}()
	go func() {
		defer pipelineWG.Done()
		if err := dispatcher.Run(abort); err != nil {
			logger.Error("dispatcher stopped", slogError(err))
		}
	}()

	if r.cfg.HTTP.Enabled {
		r.startHTTP(tel.MetricsHandler(), busClient, logger)
		defer r.stopHTTP()
	}

	var commands <-chan session.Command
	if r.in != nil {
		commands = console.NewReader(r.in, consoleSink, logger).Commands(ctx)
		_ = consoleSink.Printf("Type help for commands, Enter toggles recording\n")
	}

	r.ready.Store(true)
	logger.Info("runtime started", slog.String("stt_mode", r.cfg.STT.Mode))

	err = ctrl.Run(ctx, commands)
	r.ready.Store(false)
	pipelineWG.Wait()
	logger.Info("runtime stopped",
		slog.Int64("delivered", dispatcher.Delivered()),
		slog.Int64("delivery_failures", dispatcher.Failures()))
	return err
}

// connectBus starts the embedded server when configured and connects to the
// bus. The returned func releases both.
func (r *Runtime) connectBus(ctx context.Context, logger *slog.Logger) (*bus.Client, func(), error) {
	cfg := r.cfg.Bus
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	embedded, err := natsserver.Start(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if embedded != nil {
		cfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, r.cfg.RuntimeName, cfg, logger)
	if err != nil {
		embedded.Shutdown()
		return nil, nil, err
	}
	if err := client.EnsureStream(protocol.SubjectTranscriptFinal, protocol.SubjectTranscriptFailed); err != nil {
		logger.Warn("transcripts will not be retained on the bus", slogError(err))
	}
	return client, func() {
		client.Close()
		embedded.Shutdown()
	}, nil
}

func (r *Runtime) startHTTP(metricsHandler http.Handler, busClient *bus.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		r.handleReady(w, req, busClient)
	})
	mux.HandleFunc("/status", r.handleStatus)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
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
			logger.Error("http server failed", slogError(err))
		}
	}()
	logger.Info("http server listening", slog.String("addr", addr))
}

func (r *Runtime) stopHTTP() {
	if r.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	r.wg.Wait()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request, busClient *bus.Client) {
	if r.ready.Load() && (busClient == nil || busClient.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := struct {
		State   session.State `json:"state"`
		Pending int64         `json:"pending"`
	}{State: session.StateIdle}
	if ctrl := r.ctrl.Load(); ctrl != nil {
		status.State = ctrl.State()
		status.Pending = ctrl.Pending()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

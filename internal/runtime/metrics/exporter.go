package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/apilog/internal/runtime/jsoncodec"
	"github.com/drblury/apilog/internal/runtime/logging"
)

const shutdownTimeout = 5 * time.Second

// ListenFactory opens the exporter socket. Tests swap it to inject failures.
var ListenFactory = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Exporter serves a Registry over HTTP. Its lifecycle is independent of the
// consumer.
type Exporter struct {
	registry *Registry
	address  string
	path     string
	logger   logging.ServiceLogger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewExporter prepares an exporter; nothing is bound until Start.
func NewExporter(registry *Registry, address, path string, logger logging.ServiceLogger) *Exporter {
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = logging.NopServiceLogger()
	}
	return &Exporter{
		registry: registry,
		address:  address,
		path:     path,
		logger:   logger.With(logging.LogFields{"component": "exporter"}),
	}
}

// Handler returns the router with the scrape, health and snapshot routes.
func (e *Exporter) Handler() http.Handler {
	router := mux.NewRouter()
	router.Handle(e.path, promhttp.HandlerFor(e.registry.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", e.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/snapshot", e.handleSnapshot).Methods(http.MethodGet)
	return router
}

func (e *Exporter) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, map[string]string{"status": "ok"}); err != nil {
		e.logger.Error("Failed to encode health response", err, nil)
	}
}

func (e *Exporter) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := e.registry.Snapshot()
	if err != nil {
		e.logger.Error("Failed to gather metrics snapshot", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, snap); err != nil {
		e.logger.Error("Failed to encode metrics snapshot", err, nil)
	}
}

// Start binds the listening socket before returning so a bind failure is a
// startup failure, then serves in the background until ctx is cancelled.
func (e *Exporter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil {
		return errors.New("metrics exporter already started")
	}

	ln, err := ListenFactory(e.address)
	if err != nil {
		return err
	}

	e.listener = ln
	e.server = &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	e.logger.Info("Starting metrics exporter", logging.LogFields{"address": ln.Addr().String(), "path": e.path})

	server := e.server
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Metrics exporter stopped serving", err, logging.LogFields{"address": ln.Addr().String()})
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			e.logger.Error("Metrics exporter shutdown failed", err, nil)
		}
	}()
	return nil
}

// Addr reports the bound address, or the configured one before Start.
func (e *Exporter) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		return e.listener.Addr().String()
	}
	return e.address
}

// Shutdown stops the server. It is a no-op before Start.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	server := e.server
	e.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

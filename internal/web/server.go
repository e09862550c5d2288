// Package web serves the agent card/run contract and the gateway API used to
// submit tasks and follow their traces.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/agent"
	"github.com/camdoctor/camdoctor/internal/config"
	"github.com/camdoctor/camdoctor/internal/engine"
	"github.com/camdoctor/camdoctor/internal/natsbus"
	"github.com/camdoctor/camdoctor/internal/registry"
	"github.com/camdoctor/camdoctor/internal/store"
	"github.com/camdoctor/camdoctor/internal/ticket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WatchLister exposes scheduled watch state.
type WatchLister interface {
	ListWatches() ([]store.Watch, error)
}

type Server struct {
	engine    *engine.Engine
	catalog   *agent.Catalog
	registry  *registry.Registry
	tickets   ticket.Store
	watches   WatchLister
	bus       *natsbus.Bus
	nats      *natsbus.Client
	gatherer  prometheus.Gatherer
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

// NewServer wires the HTTP surface. watches, bus and gatherer may be nil.
func NewServer(eng *engine.Engine, catalog *agent.Catalog, reg *registry.Registry, tickets ticket.Store, watches WatchLister, bus *natsbus.Bus, gatherer prometheus.Gatherer, cfg config.WebConfig, version string) *Server {
	if tickets == nil {
		tickets = ticket.NewMemoryStore()
	}
	return &Server{
		engine:    eng,
		catalog:   catalog,
		registry:  reg,
		tickets:   tickets,
		watches:   watches,
		bus:       bus,
		gatherer:  gatherer,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Agent contract, consumed by remote.Client
	mux.HandleFunc("GET /agent/{id}/card", s.getCard)
	mux.HandleFunc("POST /agent/{id}/run", s.runAgent)

	s.registerAPI(mux)

	mux.HandleFunc("/api/ws", s.handleWebSocket)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return s.withMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Subscribe to NATS events and broadcast to WebSocket
	s.subscribeEvents()
	defer func() {
		if s.nats != nil {
			s.nats.Close()
		}
	}()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	client, err := s.bus.Connect("camdoctor-web")
	if err != nil {
		slog.Error("web server nats client failed", "error", err)
		return
	}
	s.nats = client

	if _, err := client.SubscribeTaskEvents(func(ev a2a.Event) {
		s.hub.Broadcast(taskEvent(ev))
	}); err != nil {
		slog.Error("subscribe task events failed", "error", err)
	}
	if _, err := client.SubscribeWatchRuns(func(run natsbus.WatchRun) {
		s.hub.Broadcast(Event{Type: "watch_executed", Payload: run})
	}); err != nil {
		slog.Error("subscribe watch events failed", "error", err)
	}
}

// publisher returns the event callback for a root task: the bus when it is
// up, otherwise straight to websocket clients.
func (s *Server) publisher(taskID string) func(a2a.Event) {
	if s.nats != nil {
		return natsbus.NewSink(s.nats, taskID).Publish
	}
	return func(ev a2a.Event) { s.hub.Broadcast(taskEvent(ev)) }
}

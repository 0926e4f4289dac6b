// Package web serves the coordinator and monitor over HTTP: a JSON API, a
// Prometheus endpoint and a websocket event stream.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/coordinator"
	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/monitor"
	"github.com/mtzanidakis/swarmlab/internal/natsbus"
	"github.com/mtzanidakis/swarmlab/internal/store"
)

type Server struct {
	coord     *coordinator.Coordinator
	mon       *monitor.Monitor
	exporter  *monitor.Exporter
	store     *store.Store
	nats      *natsbus.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

// Options carries the optional collaborators. Endpoints backed by a nil
// collaborator answer 404.
type Options struct {
	Exporter *monitor.Exporter
	Store    *store.Store
	NATS     *natsbus.Client
	Version  string
}

func NewServer(coord *coordinator.Coordinator, mon *monitor.Monitor, cfg config.WebConfig, opts Options) *Server {
	return &Server{
		coord:     coord,
		mon:       mon,
		exporter:  opts.Exporter,
		store:     opts.Store,
		nats:      opts.NATS,
		hub:       NewHub(),
		cfg:       cfg,
		version:   opts.Version,
		startedAt: time.Now(),
	}
}

// Hub returns the websocket hub, for feeding events without NATS.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	if s.exporter != nil {
		mux.Handle("GET /metrics", s.exporter.Handler())
	}
	return withCORS(mux)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	if err := s.subscribeEvents(); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// subscribeEvents forwards every bus event to websocket clients. Without a
// bus the caller feeds the hub directly.
func (s *Server) subscribeEvents() error {
	if s.nats == nil {
		return nil
	}
	_, err := s.nats.SubscribeEvents(natsbus.TopicEventsAll, func(ev events.Event) {
		s.hub.Broadcast(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	return nil
}

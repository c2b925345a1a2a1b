// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.

// Package exporter serves the fleet's state over HTTP: Prometheus metrics,
// a JSON view of each device, and a websocket feed of poll cycles.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IlyaSemenov/terneo-ha/climate"
	"github.com/IlyaSemenov/terneo-ha/fleet"
	"github.com/IlyaSemenov/terneo-ha/internal/container"
	"github.com/IlyaSemenov/terneo-ha/internal/log"
	"github.com/IlyaSemenov/terneo-ha/internal/wallclock"
)

const (
	defaultListenAddress = ":8077"
	shutdownTimeout      = 5 * time.Second
)

type (
	// Server exposes a coordinator's fleet over HTTP.
	Server struct {
		coordinator *fleet.Coordinator
		registry    *prometheus.Registry
		metrics     *metrics
		listen      string
		log         log.Logger

		upgrader   websocket.Upgrader
		clients    container.SyncMap[uint64, chan liveUpdate]
		nextClient atomic.Uint64
	}

	// liveUpdate is one websocket frame: the fleet view after a poll cycle.
	liveUpdate struct {
		Cycle   string            `json:"cycle,omitempty"`
		Taken   time.Time         `json:"taken"`
		Devices []climate.Summary `json:"devices"`
	}
)

// NewServer creates an exporter server for the coordinator's fleet.
func NewServer(coordinator *fleet.Coordinator, opt ...ServerOption) *Server {
	var opts ServerOptions
	opts.Apply(opt)

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	listen := opts.ListenAddress
	if listen == "" {
		listen = defaultListenAddress
	}

	return &Server{
		coordinator: coordinator,
		registry:    registry,
		metrics:     newMetrics(registry),
		listen:      listen,
		log:         log.Wrap(opts.Logger),
		clients:     container.NewSyncMap[uint64, chan liveUpdate](),
	}
}

// Run subscribes to poll cycles and serves HTTP until ctx is done. It returns
// ctx.Err() on orderly shutdown.
func (s *Server) Run(ctx context.Context) error {
	remove := s.coordinator.OnSnapshot(s.publish)
	defer remove()

	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	s.log.Log(ctx, slog.LevelInfo, "exporter listening",
		slog.String("address", listener.Addr().String()),
	)

	select {
	case <-ctx.Done():
		stop, cancel := wallclock.Instance.WithTimeoutCause(
			context.Background(),
			shutdownTimeout,
			nil,
		)
		defer cancel()
		_ = srv.Shutdown(stop)
		return ctx.Err()

	case err := <-serveErr:
		return err
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		s.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("GET /devices/{serial}", s.handleDevice)
	mux.HandleFunc("/live", s.handleLive)
	return mux
}

// publish runs on the polling flow for every completed cycle.
func (s *Server) publish(snap fleet.Snapshot) {
	s.metrics.observe(snap)

	update := liveUpdate{
		Cycle:   snap.Cycle,
		Taken:   snap.Taken,
		Devices: s.summaries(),
	}
	for _, ch := range s.clients.Values() {
		// Slow clients miss cycles rather than stalling the poll loop.
		select {
		case ch <- update:
		default:
		}
	}
}

// summaries renders the current fleet view, last-known-good values included.
func (s *Server) summaries() []climate.Summary {
	states := s.coordinator.Devices()
	devices := make([]climate.Summary, 0, len(states))
	for _, state := range states {
		devices = append(devices, climate.Summarize(state.Snapshot()))
	}
	return devices
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, s.summaries())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	state, ok := s.coordinator.Device(r.PathValue("serial"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(r.Context(), w, climate.Summarize(state.Snapshot()))
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Err(ctx, err)
	}
}

// handleLive upgrades the request and streams one JSON frame per poll cycle.
// The current fleet view is sent immediately so clients need not wait out a
// poll interval.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.log.Err(r.Context(), err)
		return
	}
	defer conn.Close()

	ch := make(chan liveUpdate, 8)
	id := s.nextClient.Add(1)
	s.clients.Store(id, ch)
	defer s.clients.Delete(id)

	first := liveUpdate{
		Taken:   wallclock.Instance.Now(),
		Devices: s.summaries(),
	}
	if err := conn.WriteJSON(first); err != nil {
		return
	}

	// No client frames are expected; the read loop only notices peer close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			deadline := wallclock.Instance.Now().Add(time.Second)
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				deadline,
			)
			return
		case <-closed:
			return
		case update := <-ch:
			if err := conn.WriteJSON(update); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.log.Err(r.Context(), err)
				}
				return
			}
		}
	}
}

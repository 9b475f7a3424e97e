// Package server exposes station traffic snapshots over HTTP for a map
// front end.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bikeflow/pkg/metrics"
	bfotel "bikeflow/pkg/otel"
	"bikeflow/pkg/parser"
	"bikeflow/pkg/pipeline"
	"bikeflow/pkg/traffic"
	"bikeflow/pkg/types"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultCacheTTL  = 30 * time.Minute
	DefaultMapWidth  = 960
	DefaultMapHeight = 720

	shutdownTimeout = 30 * time.Second
)

type Options struct {
	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string
	// CacheTTL bounds how long a computed snapshot is kept
	CacheTTL  time.Duration
	MapWidth  int
	MapHeight int
}

type Server struct {
	state     *pipeline.State
	snapshots *cache.Cache
	markers   *parser.MarkerGenerator
	options   Options
	handler   http.Handler
	tracer    trace.Tracer
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Stations int    `json:"stations"`
	Trips    int    `json:"trips"`
}

func New(state *pipeline.State, options Options) *Server {
	if options.CacheTTL <= 0 {
		options.CacheTTL = DefaultCacheTTL
	}
	if options.MapWidth <= 0 {
		options.MapWidth = DefaultMapWidth
	}
	if options.MapHeight <= 0 {
		options.MapHeight = DefaultMapHeight
	}

	s := &Server{
		state:     state,
		snapshots: cache.New(options.CacheTTL, 2*options.CacheTTL),
		markers:   parser.NewMarkerGenerator(),
		options:   options,
		tracer:    otel.Tracer("server"),
	}

	r := mux.NewRouter()
	r.Use(recoveryMiddleware, loggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/map.svg", s.handleMap).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/traffic", s.handleTraffic).Methods(http.MethodGet)
	api.HandleFunc("/stations/{shortName}", s.handleStation).Methods(http.MethodGet)

	// mux skips r.Use middleware when no route matches
	r.NotFoundHandler = withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))
	r.MethodNotAllowedHandler = withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	}))

	origins := options.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Origin"},
		MaxAge:         86400,
	})

	s.handler = otelhttp.NewHandler(corsHandler.Handler(r), "bikeflow-server")
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
		close(serverErrors)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// snapshot returns the memoized snapshot for f, computing it on a miss.
// The state never changes after load, so a cached entry is never stale.
func (s *Server) snapshot(ctx context.Context, f types.TimeFilter) (*types.Snapshot, error) {
	key := f.Key()
	if cached, ok := s.snapshots.Get(key); ok {
		metrics.SnapshotCacheRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "hit")))
		return cached.(*types.Snapshot), nil
	}

	metrics.SnapshotCacheRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "miss")))
	snapshot, err := s.state.Snapshot(ctx, f)
	if err != nil {
		return nil, err
	}
	s.snapshots.Set(key, snapshot, cache.DefaultExpiration)
	return snapshot, nil
}

// snapshotForRequest parses the time query parameter and returns its
// snapshot, writing a 400 response when the parameter is invalid
func (s *Server) snapshotForRequest(w http.ResponseWriter, r *http.Request) (*types.Snapshot, bool) {
	ctx, span := s.tracer.Start(r.Context(), "server.snapshot_for_request")
	defer span.End()

	raw := r.URL.Query().Get("time")
	f, err := traffic.ParseTimeFilter(raw)
	if err != nil {
		bfotel.RecordError(span, err, bfotel.ErrorTypeValidation, false)
		metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", "http"),
			attribute.String("type", bfotel.ErrorTypeValidation),
		))
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	span.SetAttributes(attribute.String("time_filter", f.Key()))

	snapshot, err := s.snapshot(ctx, f)
	if err != nil {
		bfotel.RecordError(span, err, bfotel.ErrorTypeValidation, false)
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return snapshot, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Stations: len(s.state.Stations),
		Trips:    len(s.state.Trips),
	})
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshotForRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	shortName := mux.Vars(r)["shortName"]

	snapshot, ok := s.snapshotForRequest(w, r)
	if !ok {
		return
	}

	view, found := pipeline.FindStation(snapshot, shortName)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("station %q not found", shortName))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshotForRequest(w, r)
	if !ok {
		return
	}

	svg := s.markers.GenerateMapSVG(snapshot, s.options.MapWidth, s.options.MapHeight)
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	w.Write(svg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: status})
}

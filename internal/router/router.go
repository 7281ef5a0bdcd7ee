package router

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/angeloszaimis/poold/internal/backend"
	"github.com/angeloszaimis/poold/internal/metrics"
	"github.com/angeloszaimis/poold/internal/pool"
)

type Router struct {
	logger    *slog.Logger
	pool      *pool.Manager
	collector *metrics.Collector
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func New(logger *slog.Logger, pool *pool.Manager, collector *metrics.Collector) *Router {
	return &Router{
		logger:    logger,
		pool:      pool,
		collector: collector,
	}
}

// Handler returns the full HTTP surface: admin routes plus the catch-all
// proxy.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/status", rt.handleStatus)
	if rt.collector != nil {
		r.Get("/metrics", rt.collector.Handler())
	}
	r.Handle("/*", http.HandlerFunc(rt.handleProxy))

	return r
}

func (rt *Router) handleProxy(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)

	rt.logger.Info("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host))

	nextServer, err := rt.pool.Select()
	if err != nil {
		if !errors.Is(err, pool.ErrNoHealthyBackend) {
			rt.logger.Error("Backend selection failed",
				slog.String("client", clientIP),
				slog.Any("err", err))
		} else {
			rt.logger.Warn("No healthy backends available", slog.String("client", clientIP))
		}
		http.Error(w, "No healthy backend available", http.StatusServiceUnavailable)
		return
	}

	rt.emitEvent(metrics.Event{
		Type:      metrics.EventBackendSelected,
		Timestamp: time.Now(),
		Backend:   nextServer.ID(),
	})

	rt.logger.Info("Forwarding to backend",
		slog.String("client", clientIP),
		slog.String("backend", nextServer.ID()))

	w.Header().Set("X-Backend-Server", nextServer.ID())

	start := time.Now()
	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	rt.forward(nextServer, wrapped, r)

	rt.emitEvent(metrics.Event{
		Type:       metrics.EventResponseCompleted,
		Timestamp:  time.Now(),
		Backend:    nextServer.ID(),
		Duration:   time.Since(start),
		StatusCode: wrapped.statusCode,
	})
}

// forward hands the request to the backend's reverse proxy. chi's wildcard
// context is left intact; the proxy uses the original request path.
func (rt *Router) forward(b *backend.Backend, w http.ResponseWriter, r *http.Request) {
	b.ReverseProxy().ServeHTTP(w, r)
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	if err := json.NewEncoder(w).Encode(rt.pool.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (rt *Router) emitEvent(event metrics.Event) {
	if rt.collector == nil {
		return
	}

	rt.collector.Emit(event)
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

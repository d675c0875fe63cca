package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the API, the tile files and the metrics endpoint.
// A nil gatherer serves the default Prometheus registry.
func NewRouter(s *Server, gatherer prometheus.Gatherer, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	// CreatePyramid writes its own GENERATION_TIMEOUT reply.
	r.With(deadline(timeout)).Post("/api/v1/pyramids", s.CreatePyramid)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Get("/api/v1/health", s.GetHealth)
		r.Get("/tiles/{name}/{z}/{x}/{y}.{ext}", s.GetTile)

		// Legacy health endpoint
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/api/v1/health", http.StatusMovedPermanently)
		})

		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	})

	return r
}

// deadline bounds the request context and leaves the reply to the handler.
func deadline(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// cors allows browser map viewers on other origins to fetch tiles.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the API routes and middleware chain.
func NewRouter(e Env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	r.Use(RequestLogger(e.Logger))
	r.Use(MetricsMiddleware(e.Metrics))
	r.Use(cors)

	r.Get("/healthz", e.Healthz)
	r.Get("/readyz", e.Readyz)
	r.Get("/logs", e.Logs)
	r.Post("/analyze", e.Analyze)
	r.Get("/analyze/source", e.AnalyzeSource)

	if e.Alerts != nil {
		r.Get("/alerts/ws", e.Alerts.ServeHTTP)
	}
	return r
}

// NewServer returns the API server. There is no WriteTimeout because
// /alerts/ws responses are long-lived.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

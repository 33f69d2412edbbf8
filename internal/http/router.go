package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/wx-station-poller/internal/observability"
)

// NewRouter wires /health, /metrics and the rate-limited /latest.
func NewRouter(h *Handler, limiter *rate.Limiter, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.Handle("/latest", RateLimitMiddleware(limiter)(http.HandlerFunc(h.GetLatest))).Methods("GET")
	return router
}

// Package httpapi serves the local health and metrics endpoints.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"cloudpico-airquality/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type StatusProvider interface {
	Status() metrics.Status
}

func NewRouter(status StatusProvider, gatherer prometheus.Gatherer, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := mux.NewRouter()
	r.Use(requestLogger(logger))

	h := &healthchecker{status: status}
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

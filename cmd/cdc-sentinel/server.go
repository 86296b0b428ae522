package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/web3tea/cdc-sentinel/metrics"
)

type liveness interface {
	IsAlive() bool
}

// newRouter serves /healthz and, once metrics are initialized, /metrics.
func newRouter(target liveness) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !target.IsAlive() {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	if h := metrics.Handler(); h != nil {
		r.Handle("/metrics", h)
	}
	return r
}

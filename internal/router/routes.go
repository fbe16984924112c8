package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/tinwren/launchpit/api/v1"
	"github.com/tinwren/launchpit/internal/auth"
)

// Readiness reports whether backing services (the run store) are reachable.
// A nil Readiness means always ready.
type Readiness func(ctx context.Context) error

// New sets up the control API routes and required middleware.
func New(logger *slog.Logger, h *v1.LauncherHandler, ready Readiness) *mux.Router {

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.Use(v1.RequestID)
	r.Use(h.Log)
	r.Use(auth.Middleware)

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/status", h.GetStatus)
	get.HandleFunc("/runs", h.GetRuns)
	get.HandleFunc("/runs/{id}", h.GetRun)
	get.HandleFunc("/games", h.GetGames)
	get.HandleFunc("/events", h.Events)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/cancel", h.Cancel)

	answer := api.Path("/prompt").Methods("POST").Subrouter()
	answer.HandleFunc("", h.AnswerPrompt)
	answer.Use(v1.MiddlewarePromptAnswer)

	return r
}

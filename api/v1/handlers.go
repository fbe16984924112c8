// Package v1 exposes the launcher control API: run status, prompt answers,
// cancellation, run history and a live event stream.
package v1

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tinwren/launchpit/internal/data"
	"github.com/tinwren/launchpit/internal/history"
	"github.com/tinwren/launchpit/internal/store"
	"github.com/tinwren/launchpit/internal/updater"
)

type LauncherHandler struct {
	l     *slog.Logger
	upd   *updater.Updater
	runs  history.RunReader
	store *store.Store
	hub   *EventHub
}

func NewLauncherHandler(l *slog.Logger, upd *updater.Updater, runs history.RunReader, st *store.Store, hub *EventHub) *LauncherHandler {
	return &LauncherHandler{l: l, upd: upd, runs: runs, store: st, hub: hub}
}

type statusBody struct {
	RunID           string      `json:"runId"`
	Game            string      `json:"game"`
	Stage           data.Stage  `json:"stage"`
	Progress        float64     `json:"progress"`
	Prompt          data.Prompt `json:"prompt"`
	Message         string      `json:"message,omitempty"`
	GameDescription string      `json:"gameDescription,omitempty"`
	Version         string      `json:"version,omitempty"`
}

type answerBody struct {
	Response *bool  `json:"response"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type installedGame struct {
	Title         string `json:"title"`
	LatestVersion string `json:"latestVersion,omitempty"`
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets the websocket upgrade reach the underlying connection through
// the logging wrapper.
func (w *rwLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyAnswer struct{}

func (h *LauncherHandler) status() statusBody {
	return statusBody{
		RunID:           h.upd.RunID(),
		Game:            h.upd.GameTitle(),
		Stage:           h.upd.Stage(),
		Progress:        h.upd.StageProgress(),
		Prompt:          h.upd.CurrentPrompt(),
		Message:         h.upd.CustomMessage(),
		GameDescription: h.upd.GameDescription(),
		Version:         h.upd.Version(),
	}
}

func (h *LauncherHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.status()); err != nil {
		markErr(w, err)
	}
}

// AnswerPrompt delivers a response to the outstanding prompt. Answering when
// nothing is being asked is a conflict, not a success.
func (h *LauncherHandler) AnswerPrompt(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyAnswer{})
	body, ok := v.(answerBody)
	if !ok || body.Response == nil {
		markErr(w, ErrAnswerCtx)
		http.Error(w, ErrAnswerCtx.Error(), http.StatusInternalServerError)
		return
	}

	if h.upd.CurrentPrompt() == data.PromptNone {
		markErr(w, ErrNoPrompt)
		http.Error(w, ErrNoPrompt.Error(), http.StatusConflict)
		return
	}

	h.upd.AnswerPrompt(*body.Response, body.Username, body.Password)
	w.WriteHeader(http.StatusAccepted)
}

func (h *LauncherHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.upd.Cancel()
	w.WriteHeader(http.StatusAccepted)
}

func (h *LauncherHandler) GetRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := runs.ToJSON(w); err != nil {
		markErr(w, err)
		http.Error(w, "Unable to marshal json", http.StatusInternalServerError)
		return
	}
}

func (h *LauncherHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	run, err := h.runs.Get(r.Context(), vars["id"])
	if err != nil {
		markErr(w, err)
		if errors.Is(err, data.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = run.ToJSON(w)
}

func (h *LauncherHandler) GetGames(w http.ResponseWriter, r *http.Request) {
	titles, err := h.store.ListInstalledGames()
	if err != nil {
		markErr(w, err)
		http.Error(w, "failed to list games", http.StatusInternalServerError)
		return
	}
	games := make([]installedGame, 0, len(titles))
	for _, title := range titles {
		g := installedGame{Title: title}
		if v, ok := h.store.GetLatestInstalledVersion(title); ok {
			g.LatestVersion = v
		}
		games = append(games, g)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(games); err != nil {
		markErr(w, err)
	}
}

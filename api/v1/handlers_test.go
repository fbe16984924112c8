package v1

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/tinwren/launchpit/internal/data"
	"github.com/tinwren/launchpit/internal/history"
	"github.com/tinwren/launchpit/internal/store"
	"github.com/tinwren/launchpit/internal/updater"
)

type nopLauncher struct{}

func (nopLauncher) Launch(title, dir string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gameZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("Game.sh")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte("#!/bin/sh\n")); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func installVersion(t *testing.T, s *store.Store, title, version string) {
	t.Helper()
	ctx := context.Background()
	archive := gameZip(t)
	if err := s.Extract(ctx, title, version, bytes.NewReader(archive), int64(len(archive)), nil); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if err := s.Install(ctx, title, version, nil); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := s.RecordLatestVersion(title, version, true); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func newHandler(t *testing.T, s *store.Store, opts updater.Options) (*LauncherHandler, *updater.Updater, *history.InMemoryRunRepo) {
	t.Helper()
	opts.Store = s
	if opts.Launcher == nil {
		opts.Launcher = nopLauncher{}
	}
	opts.Logger = testLogger()
	u := updater.New(opts)
	runs := history.NewInMemoryRunRepo()
	return NewLauncherHandler(testLogger(), u, runs, s, NewEventHub()), u, runs
}

func waitForPrompt(t *testing.T, u *updater.Updater) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for u.CurrentPrompt() == data.PromptNone {
		if time.Now().After(deadline) {
			t.Fatalf("prompt never raised")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetStatus(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	h, u, _ := newHandler(t, s, updater.Options{GameTitle: "Game"})

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rr := httptest.NewRecorder()
	h.GetStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body statusBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RunID != u.RunID() {
		t.Fatalf("run id mismatch: %q vs %q", body.RunID, u.RunID())
	}
	if body.Stage != data.StageNotStarted || body.Prompt != data.PromptNone {
		t.Fatalf("unexpected status: %+v", body)
	}
}

func TestAnswerPromptWithoutPromptConflicts(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	h, _, _ := newHandler(t, s, updater.Options{GameTitle: "Game"})

	req := httptest.NewRequest(http.MethodPost, "/v1/prompt", strings.NewReader(`{"response":true}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	MiddlewarePromptAnswer(http.HandlerFunc(h.AnswerPrompt)).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestAnswerPromptValidation(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	h, _, _ := newHandler(t, s, updater.Options{GameTitle: "Game"})
	wrapped := MiddlewarePromptAnswer(http.HandlerFunc(h.AnswerPrompt))

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/prompt", strings.NewReader("response=true"))
		req.Header.Set("Content-Type", "text/plain")
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnsupportedMediaType {
			t.Fatalf("expected 415, got %d", rr.Code)
		}
	})

	t.Run("missing response field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/prompt", strings.NewReader(`{"username":"dan"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/prompt", strings.NewReader(`{"response":true,"extra":1}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})
}

func TestAnswerPromptReleasesRun(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	installVersion(t, s, "Game", "1.0")

	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<rss><channel><title>Game</title><description>d</description><item><title>2.0</title><link>http://unused</link></item></channel></rss>`)
	}))
	defer feedSrv.Close()

	h, u, _ := newHandler(t, s, updater.Options{GameTitle: "Game", FeedURL: feedSrv.URL})
	u.Start()
	waitForPrompt(t, u)

	req := httptest.NewRequest(http.MethodPost, "/v1/prompt", strings.NewReader(`{"response":false}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	MiddlewarePromptAnswer(http.HandlerFunc(h.AnswerPrompt)).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	select {
	case <-u.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not finish after answer")
	}
	if u.Stage() != data.StageFinished || u.Version() != "1.0" {
		t.Fatalf("expected Finished with 1.0, got %s %q", u.Stage(), u.Version())
	}
}

func TestCancelReleasesBlockedRun(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	installVersion(t, s, "Game", "1.0")

	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<rss><channel><title>Game</title><description>d</description><item><title>2.0</title><link>http://unused</link></item></channel></rss>`)
	}))
	defer feedSrv.Close()

	h, u, _ := newHandler(t, s, updater.Options{GameTitle: "Game", FeedURL: feedSrv.URL})
	u.Start()
	waitForPrompt(t, u)

	rr := httptest.NewRecorder()
	h.Cancel(rr, httptest.NewRequest(http.MethodPost, "/v1/cancel", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	select {
	case <-u.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not end after cancel")
	}
	if u.Stage() != data.StageCancelled {
		t.Fatalf("expected Cancelled, got %s", u.Stage())
	}
}

func TestGetRuns(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	h, _, runs := newHandler(t, s, updater.Options{GameTitle: "Game"})
	_, _ = runs.Add(context.Background(), &data.Run{ID: "a", GameTitle: "Game", Stage: data.StageFinished})

	rr := httptest.NewRecorder()
	h.GetRuns(rr, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got data.Runs
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected runs: %+v", got)
	}
}

func TestGetRun(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	h, _, runs := newHandler(t, s, updater.Options{GameTitle: "Game"})
	_, _ = runs.Add(context.Background(), &data.Run{ID: "a", GameTitle: "Game", Stage: data.StageFinished})

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/v1/runs/a", nil), map[string]string{"id": "a"})
	rr := httptest.NewRecorder()
	h.GetRun(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/v1/runs/zzz", nil), map[string]string{"id": "zzz"})
	rr = httptest.NewRecorder()
	h.GetRun(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetGames(t *testing.T) {
	s := store.New(t.TempDir(), nil)
	installVersion(t, s, "Game", "1.0")
	h, _, _ := newHandler(t, s, updater.Options{GameTitle: "Game"})

	rr := httptest.NewRecorder()
	h.GetGames(rr, httptest.NewRequest(http.MethodGet, "/v1/games", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []installedGame
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Game" || got[0].LatestVersion != "1.0" {
		t.Fatalf("unexpected games: %+v", got)
	}
}

func TestEventHubFanOut(t *testing.T) {
	hub := NewEventHub()
	a := hub.subscribe()
	b := hub.subscribe()

	e := updater.Event{RunID: "r1", Type: updater.EventStage, Stage: data.StageChecking}
	hub.Report(e)

	for _, ch := range []chan updater.Event{a, b} {
		select {
		case got := <-ch:
			if got.RunID != "r1" {
				t.Fatalf("wrong event: %+v", got)
			}
		default:
			t.Fatalf("subscriber missed event")
		}
	}

	hub.unsubscribe(b)
	hub.Report(e)
	select {
	case <-b:
		t.Fatalf("unsubscribed channel still receiving")
	default:
	}
}

func TestEventHubDropsWhenSubscriberFull(t *testing.T) {
	hub := NewEventHub()
	ch := hub.subscribe()
	e := updater.Event{RunID: "r1", Type: updater.EventProgress}
	// Overrun the buffer; Report must never block.
	for i := 0; i < 200; i++ {
		hub.Report(e)
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected full buffer, got %d/%d", len(ch), cap(ch))
	}
}

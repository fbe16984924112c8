package store

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinwren/launchpit/internal/data"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), nil)
}

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func archiveServer(t *testing.T, body []byte, hits *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		_, _ = w.Write(body)
	}))
}

func TestDownloadInstallIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	archive := makeZip(t, map[string]string{"Game.sh": "#!/bin/sh\n", "data/level1.txt": "level"})

	hits := 0
	srv := archiveServer(t, archive, &hits)
	defer srv.Close()

	if err := s.Download(ctx, "Game", "1.0", srv.URL, Credentials{}, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !s.IsDownloaded("Game", "1.0") {
		t.Fatalf("expected downloaded state")
	}

	if err := s.Install(ctx, "Game", "1.0", nil); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !s.IsInstalled("Game", "1.0") {
		t.Fatalf("expected installed state")
	}

	// Re-invocations are no-ops: no second fetch, no re-extract.
	if err := s.Download(ctx, "Game", "1.0", srv.URL, Credentials{}, nil); err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 fetch, got %d", hits)
	}
	marker := filepath.Join(s.InstallPath("Game", "1.0"), "marker")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if err := s.Install(ctx, "Game", "1.0", nil); err != nil {
		t.Fatalf("second Install: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("second Install re-extracted: %v", err)
	}
}

func TestDownloadAuthRequired(t *testing.T) {
	s := newTestStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "dan" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(makeZip(t, map[string]string{"a": "b"}))
	}))
	defer srv.Close()

	err := s.Download(context.Background(), "Game", "1.0", srv.URL, Credentials{}, nil)
	if !errors.Is(err, data.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if s.IsDownloaded("Game", "1.0") {
		t.Fatalf("rejected download must not leave an archive")
	}

	if err := s.Download(context.Background(), "Game", "1.0", srv.URL, Credentials{Username: "dan", Password: "secret"}, nil); err != nil {
		t.Fatalf("authorized Download: %v", err)
	}
}

func TestDownloadServerMessage(t *testing.T) {
	s := newTestStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Update-Message", "servers are migrating, try later")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := s.Download(context.Background(), "Game", "1.0", srv.URL, Credentials{}, nil)
	var msgErr *data.ServerMessageError
	if !errors.As(err, &msgErr) {
		t.Fatalf("expected ServerMessageError, got %v", err)
	}
	if msgErr.Message != "servers are migrating, try later" {
		t.Fatalf("unexpected message: %q", msgErr.Message)
	}
}

func TestDownloadFailureCleansPartial(t *testing.T) {
	s := newTestStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declare more bytes than we send so the client sees a truncated body.
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte("short"))
	}))
	defer srv.Close()

	err := s.Download(context.Background(), "Game", "1.0", srv.URL, Credentials{}, nil)
	if err == nil {
		t.Fatalf("expected transfer error")
	}
	if s.IsDownloaded("Game", "1.0") {
		t.Fatalf("partial download must be removed")
	}
	if _, statErr := os.Stat(s.DownloadPath("Game", "1.0")); !os.IsNotExist(statErr) {
		t.Fatalf("partial file still on disk: %v", statErr)
	}
}

func TestDownloadCancelled(t *testing.T) {
	s := newTestStore(t)
	srv := archiveServer(t, makeZip(t, map[string]string{"a": "b"}), nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Download(ctx, "Game", "1.0", srv.URL, Credentials{}, nil)
	if !errors.Is(err, data.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestExtract(t *testing.T) {
	s := newTestStore(t)
	archive := makeZip(t, map[string]string{"Game.sh": "run"})

	if err := s.Extract(context.Background(), "Game", "1.0", bytes.NewReader(archive), int64(len(archive)), nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !s.IsDownloaded("Game", "1.0") {
		t.Fatalf("expected archive in download cache")
	}
	if err := s.Install(context.Background(), "Game", "1.0", nil); err != nil {
		t.Fatalf("Install after Extract: %v", err)
	}
}

func TestInstallCancelledRemovesPartial(t *testing.T) {
	s := newTestStore(t)
	files := make(map[string]string)
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("file%d.txt", i)] = strings.Repeat("x", 64)
	}
	archive := makeZip(t, files)
	ctx := context.Background()
	if err := s.Extract(ctx, "Game", "1.0", bytes.NewReader(archive), int64(len(archive)), nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	err := s.Install(cctx, "Game", "1.0", func(pct int) {
		// Cancel partway through the entry list.
		if pct >= 30 {
			cancel()
		}
	})
	if !errors.Is(err, data.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if _, statErr := os.Stat(s.InstallPath("Game", "1.0")); !os.IsNotExist(statErr) {
		t.Fatalf("partial install directory survived cancellation")
	}
	if s.IsInstalled("Game", "1.0") {
		t.Fatalf("cancelled install must not count as installed")
	}
}

func TestInstallProgressPerEntry(t *testing.T) {
	s := newTestStore(t)
	archive := makeZip(t, map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"})
	ctx := context.Background()
	if err := s.Extract(ctx, "Game", "1.0", bytes.NewReader(archive), int64(len(archive)), nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	var pcts []int
	if err := s.Install(ctx, "Game", "1.0", func(pct int) {
		pcts = append(pcts, pct)
	}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	want := []int{25, 50, 75, 100}
	if len(pcts) != len(want) {
		t.Fatalf("expected %v, got %v", want, pcts)
	}
	for i := range want {
		if pcts[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, pcts)
		}
	}
}

func TestInstallRejectsEscapingEntries(t *testing.T) {
	s := newTestStore(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../outside.txt")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte("nope")); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	ctx := context.Background()
	if err := s.Extract(ctx, "Game", "1.0", bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if err := s.Install(ctx, "Game", "1.0", nil); err == nil {
		t.Fatalf("expected error for escaping entry")
	}
	if s.IsInstalled("Game", "1.0") {
		t.Fatalf("bad archive must not install")
	}
}

func TestRecordLatestVersion(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordLatestVersion("Game", "1.0", false); err != nil {
		t.Fatalf("record: %v", err)
	}
	// overwrite=false never changes an existing marker.
	if err := s.RecordLatestVersion("Game", "2.0", false); err != nil {
		t.Fatalf("record: %v", err)
	}
	b, err := os.ReadFile(s.latestPath("Game"))
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if got := strings.TrimSpace(string(b)); got != "1.0" {
		t.Fatalf("marker changed without overwrite: %q", got)
	}

	if err := s.RecordLatestVersion("Game", "2.0", true); err != nil {
		t.Fatalf("record overwrite: %v", err)
	}
	b, _ = os.ReadFile(s.latestPath("Game"))
	if got := strings.TrimSpace(string(b)); got != "2.0" {
		t.Fatalf("overwrite did not take: %q", got)
	}
}

func TestGetLatestInstalledVersionRevalidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	archive := makeZip(t, map[string]string{"Game.sh": "run"})
	if err := s.Extract(ctx, "Game", "1.0", bytes.NewReader(archive), int64(len(archive)), nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if err := s.Install(ctx, "Game", "1.0", nil); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := s.RecordLatestVersion("Game", "1.0", true); err != nil {
		t.Fatalf("record: %v", err)
	}

	if v, ok := s.GetLatestInstalledVersion("Game"); !ok || v != "1.0" {
		t.Fatalf("expected 1.0, got %q ok=%v", v, ok)
	}

	// Deleting the install externally makes the marker stale.
	if err := os.RemoveAll(s.InstallPath("Game", "1.0")); err != nil {
		t.Fatalf("remove install: %v", err)
	}
	if v, ok := s.GetLatestInstalledVersion("Game"); ok {
		t.Fatalf("stale marker returned %q", v)
	}
}

func TestListInstalledGames(t *testing.T) {
	s := newTestStore(t)
	if titles, err := s.ListInstalledGames(); err != nil || len(titles) != 0 {
		t.Fatalf("expected empty store, got %v err %v", titles, err)
	}

	ctx := context.Background()
	for _, title := range []string{"Alpha", "Beta"} {
		archive := makeZip(t, map[string]string{"x": "y"})
		if err := s.Extract(ctx, title, "1.0", bytes.NewReader(archive), int64(len(archive)), nil); err != nil {
			t.Fatalf("Extract %s: %v", title, err)
		}
	}
	titles, err := s.ListInstalledGames()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(titles) != 2 {
		t.Fatalf("expected 2 titles, got %v", titles)
	}
}

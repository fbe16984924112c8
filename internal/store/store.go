// Package store is the filesystem-backed content store. It maps
// (game title, version) pairs onto durable download and install state
// under a per-user data root:
//
//	<root>/<title>/Downloads/<version>.zip
//	<root>/<title>/Versions/<version>/...
//	<root>/<title>/Versions/Latest.txt
//
// Operations are idempotent and recover locally: failures clean up any
// partial artifact and return an error, except cancellation which is
// reported as data.ErrCancelled so callers can tell the two apart.
// The store itself holds no in-memory state and may outlive any number of
// update runs; concurrent runs for the same title are a caller
// responsibility.
package store

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	downloadsDir = "Downloads"
	versionsDir  = "Versions"
	latestFile   = "Latest.txt"
)

type Store struct {
	root   string
	log    *slog.Logger
	client *http.Client
}

func New(root string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		root:   root,
		log:    log,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// BasePath returns the per-game directory. Pure path derivation, no I/O.
func (s *Store) BasePath(title string) string {
	return filepath.Join(s.root, title)
}

func (s *Store) DownloadPath(title, version string) string {
	return filepath.Join(s.BasePath(title), downloadsDir, version+".zip")
}

func (s *Store) InstallPath(title, version string) string {
	return filepath.Join(s.BasePath(title), versionsDir, version)
}

func (s *Store) latestPath(title string) string {
	return filepath.Join(s.BasePath(title), versionsDir, latestFile)
}

// IsDownloaded reports whether the archive for a version is present.
func (s *Store) IsDownloaded(title, version string) bool {
	st, err := os.Stat(s.DownloadPath(title, version))
	return err == nil && !st.IsDir()
}

// IsInstalled reports whether a version's install directory exists and is
// non-empty.
func (s *Store) IsInstalled(title, version string) bool {
	entries, err := os.ReadDir(s.InstallPath(title, version))
	return err == nil && len(entries) > 0
}

// RecordLatestVersion writes the latest-installed marker. With overwrite
// false an existing marker is preserved; this is how "first install ever"
// is told apart from "user explicitly updated".
func (s *Store) RecordLatestVersion(title, version string, overwrite bool) error {
	path := s.latestPath(title)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(version+"\n"), 0o644)
}

// GetLatestInstalledVersion reads the latest marker and re-validates that
// the version it names is still installed. A stale or missing marker
// yields ok=false.
func (s *Store) GetLatestInstalledVersion(title string) (string, bool) {
	b, err := os.ReadFile(s.latestPath(title))
	if err != nil {
		return "", false
	}
	version := strings.TrimSpace(string(b))
	if version == "" || !s.IsInstalled(title, version) {
		return "", false
	}
	return version, true
}

// ListInstalledGames enumerates game titles known to the store.
func (s *Store) ListInstalledGames() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var titles []string
	for _, e := range entries {
		if e.IsDir() {
			titles = append(titles, e.Name())
		}
	}
	return titles, nil
}

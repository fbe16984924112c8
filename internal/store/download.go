package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tinwren/launchpit/internal/data"
	"github.com/tinwren/launchpit/internal/metrics"
	"github.com/tinwren/launchpit/internal/progress"
)

// messageHeader carries an informational message the server wants shown to
// the user before any retry (maintenance notices, deprecations).
const messageHeader = "X-Update-Message"

// Credentials are optional HTTP basic auth credentials for archive fetches.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) empty() bool { return c.Username == "" && c.Password == "" }

// Download fetches the archive for a version into the download path.
// Already-downloaded versions are a no-op. Failure modes callers branch on:
// data.ErrCancelled, data.ErrAuthRequired (re-prompt for credentials and
// retry) and *data.ServerMessageError (show the message, then maybe retry).
// Everything else is a plain error with the partial file cleaned up.
func (s *Store) Download(ctx context.Context, title, version, url string, creds Credentials, onProgress progress.Func) error {
	if s.IsDownloaded(title, version) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if !creds.empty() {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return data.ErrCancelled
		}
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return data.ErrAuthRequired
	case resp.StatusCode != http.StatusOK:
		if msg := resp.Header.Get(messageHeader); msg != "" {
			return &data.ServerMessageError{Message: msg}
		}
		return fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	return s.writeArchive(ctx, title, version, resp.Body, resp.ContentLength, true, onProgress)
}

// Extract copies the bundled archive into the download path. Contract
// matches Download, with bytes coming from src instead of the network.
func (s *Store) Extract(ctx context.Context, title, version string, src io.Reader, size int64, onProgress progress.Func) error {
	if s.IsDownloaded(title, version) {
		return nil
	}
	return s.writeArchive(ctx, title, version, src, size, false, onProgress)
}

// writeArchive streams src into the download path via the progress reader.
// The target is written in place; any failure removes the partial file so a
// retry starts clean.
func (s *Store) writeArchive(ctx context.Context, title, version string, src io.Reader, size int64, network bool, onProgress progress.Func) error {
	path := s.DownloadPath(title, version)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}

	n, err := io.Copy(out, progress.NewReader(ctx, src, size, onProgress))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, data.ErrCancelled) || ctx.Err() != nil {
			return data.ErrCancelled
		}
		return err
	}

	if network {
		metrics.DownloadBytes.Add(float64(n))
	}
	s.log.Info("archive stored", "title", title, "version", version, "bytes", n)
	return nil
}

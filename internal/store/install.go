package store

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tinwren/launchpit/internal/data"
	"github.com/tinwren/launchpit/internal/metrics"
	"github.com/tinwren/launchpit/internal/progress"
)

// Install expands a downloaded archive into the version's install
// directory. Already-installed versions are a no-op. Any pre-existing
// directory for the version is removed first: installs are all-or-nothing,
// and a cancelled or failed install leaves no directory behind.
// Cancellation is checked after every archive entry.
func (s *Store) Install(ctx context.Context, title, version string, onProgress progress.Func) error {
	if s.IsInstalled(title, version) {
		return nil
	}

	zr, err := zip.OpenReader(s.DownloadPath(title, version))
	if err != nil {
		return fmt.Errorf("install: open archive: %w", err)
	}
	defer zr.Close()

	installPath := s.InstallPath(title, version)
	if err := os.RemoveAll(installPath); err != nil {
		return err
	}
	if err := os.MkdirAll(installPath, 0o755); err != nil {
		return err
	}

	started := time.Now()
	total := len(zr.File)
	for i, f := range zr.File {
		if err := extractEntry(installPath, f); err != nil {
			_ = os.RemoveAll(installPath)
			return err
		}
		if ctx.Err() != nil {
			_ = os.RemoveAll(installPath)
			return data.ErrCancelled
		}
		if onProgress != nil && total > 0 {
			onProgress((i + 1) * 100 / total)
		}
	}

	metrics.InstallDuration.Observe(time.Since(started).Seconds())
	s.log.Info("version installed", "title", title, "version", version, "entries", total)
	return nil
}

func extractEntry(installPath string, f *zip.File) error {
	target := filepath.Join(installPath, filepath.FromSlash(f.Name))
	// Entries must stay inside the install directory.
	if !strings.HasPrefix(target, installPath+string(os.PathSeparator)) {
		return fmt.Errorf("install: entry %q escapes install dir", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// Package bundle supplies the build shipped alongside the launcher binary.
// It lets a game start with no network access at all: the launcher extracts
// the bundled archive into the content store and installs it like any
// downloaded version.
package bundle

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Info describes the bundled build.
type Info struct {
	Title   string
	Version string
	URL     string
}

// Source yields the bundled build's metadata and archive bytes. The zero
// case (nothing bundled) is represented by Info returning false.
type Source interface {
	Info() (Info, bool)
	// Open returns the archive stream and its size in bytes, or a negative
	// size when unknown.
	Open() (io.ReadCloser, int64, error)
}

const (
	metaFile    = "game.txt"
	archiveFile = "game.zip"
)

// Dir reads the bundle from a directory placed next to the launcher:
// game.txt holds key=value metadata (game, version, url) and game.zip the
// archive itself.
type Dir struct {
	path string
}

func NewDir(path string) *Dir {
	return &Dir{path: path}
}

func (d *Dir) Info() (Info, bool) {
	f, err := os.Open(filepath.Join(d.path, metaFile))
	if err != nil {
		return Info{}, false
	}
	defer f.Close()

	kv := parseKeyValues(f)
	info := Info{
		Title:   kv["game"],
		Version: kv["version"],
		URL:     kv["url"],
	}
	if info.Title == "" || info.Version == "" {
		return Info{}, false
	}
	return info, true
}

func (d *Dir) Open() (io.ReadCloser, int64, error) {
	f, err := os.Open(filepath.Join(d.path, archiveFile))
	if err != nil {
		return nil, 0, err
	}
	size := int64(-1)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return f, size, nil
}

func parseKeyValues(r io.Reader) map[string]string {
	kv := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return kv
}

// None is a Source with nothing bundled.
type None struct{}

func (None) Info() (Info, bool) { return Info{}, false }

func (None) Open() (io.ReadCloser, int64, error) { return nil, 0, os.ErrNotExist }

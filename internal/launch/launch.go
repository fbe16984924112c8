// Package launch starts an installed build using the platform's
// conventions for naming the entry point.
package launch

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Launcher starts the build installed at dir for the named game. It
// reports success or failure only; the launched process is not tracked.
type Launcher interface {
	Launch(title, dir string) error
}

// Exec launches builds as child processes.
type Exec struct {
	log *slog.Logger
}

func NewExec(log *slog.Logger) *Exec {
	if log == nil {
		log = slog.Default()
	}
	return &Exec{log: log}
}

// candidate is one platform-appropriate entry point to try, in order.
type candidate struct {
	name string
	// dir candidates (macOS .app folders) are handed to the opener
	// rather than executed directly.
	dir bool
}

func candidates(title, goos string) []candidate {
	switch goos {
	case "windows":
		return []candidate{{name: title + ".exe"}, {name: title + ".bat"}}
	case "darwin":
		return []candidate{{name: title + ".app", dir: true}, {name: title + ".sh"}}
	default:
		return []candidate{{name: title + ".sh"}, {name: title}}
	}
}

func (e *Exec) Launch(title, dir string) error {
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return fmt.Errorf("launch: install dir missing: %s", dir)
	}

	for _, c := range candidates(title, runtime.GOOS) {
		path := filepath.Join(dir, c.name)
		st, err := os.Stat(path)
		if err != nil || st.IsDir() != c.dir {
			continue
		}
		e.log.Info("launching", "title", title, "path", path)
		return start(command(path, dir))
	}

	// No entry point found: open the install directory instead.
	e.log.Info("no entry point found, opening directory", "title", title, "dir", dir)
	return start(opener(dir))
}

func command(path, dir string) *exec.Cmd {
	var cmd *exec.Cmd
	switch filepath.Ext(path) {
	case ".sh":
		cmd = exec.Command("/bin/sh", filepath.Base(path))
	case ".app":
		cmd = exec.Command("open", path)
	default:
		cmd = exec.Command(path)
	}
	cmd.Dir = dir
	return cmd
}

func opener(dir string) *exec.Cmd {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("explorer", dir)
	case "darwin":
		return exec.Command("open", dir)
	default:
		return exec.Command("xdg-open", dir)
	}
}

func start(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	// The child outlives the launcher; success means it started.
	go func() { _ = cmd.Wait() }()
	return nil
}

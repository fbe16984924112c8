// Package config loads launcher settings from an optional YAML file and
// LAUNCHPIT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const defaultConfigName = "config"

type Config struct {
	// GameTitle is the game this launcher manages.
	GameTitle string
	// Version, when set, pins the exact version to run.
	Version string
	// FeedURL points at the update feed. Empty disables update checks.
	FeedURL string

	// DataRoot is where archives and installed versions live.
	DataRoot string
	// BundleDir, when set, names a directory carrying a fallback build.
	BundleDir string

	// ListenAddr is the control API bind address. Empty disables the API.
	ListenAddr string
	// LogPath enables rotating file logging when set.
	LogPath string

	// HistoryBackend selects the run store: "memory" or "postgres".
	HistoryBackend string

	// Interactive answers prompts on the console. When false, AutoAnswer
	// is used for every question instead.
	Interactive bool
	AutoAnswer  bool
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName(defaultConfigName)
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("config")

	v.SetEnvPrefix("LAUNCHPIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("game.title", "")
	v.SetDefault("game.version", "")
	v.SetDefault("feed.url", "")
	v.SetDefault("data.root", defaultDataRoot())
	v.SetDefault("bundle.dir", "")
	v.SetDefault("api.listen", "127.0.0.1:8097")
	v.SetDefault("log.path", "")
	v.SetDefault("history.backend", "memory")
	v.SetDefault("prompt.interactive", true)
	v.SetDefault("prompt.auto_answer", false)

	// Config file is optional; env-only is fine.
	_ = v.ReadInConfig()

	cfg := Config{
		GameTitle:      strings.TrimSpace(v.GetString("game.title")),
		Version:        strings.TrimSpace(v.GetString("game.version")),
		FeedURL:        strings.TrimSpace(v.GetString("feed.url")),
		DataRoot:       v.GetString("data.root"),
		BundleDir:      v.GetString("bundle.dir"),
		ListenAddr:     strings.TrimSpace(v.GetString("api.listen")),
		LogPath:        v.GetString("log.path"),
		HistoryBackend: strings.ToLower(strings.TrimSpace(v.GetString("history.backend"))),
		Interactive:    v.GetBool("prompt.interactive"),
		AutoAnswer:     v.GetBool("prompt.auto_answer"),
	}

	if cfg.GameTitle == "" {
		return Config{}, fmt.Errorf("game.title must not be empty")
	}
	if strings.TrimSpace(cfg.DataRoot) == "" {
		return Config{}, fmt.Errorf("data.root must not be empty")
	}
	switch cfg.HistoryBackend {
	case "memory", "postgres":
	default:
		return Config{}, fmt.Errorf("invalid history.backend %q", cfg.HistoryBackend)
	}
	if cfg.BundleDir != "" {
		if _, err := os.Stat(cfg.BundleDir); err != nil {
			return Config{}, fmt.Errorf("bundle.dir: %w", err)
		}
	}
	return cfg, nil
}

func defaultDataRoot() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "Launchpit", "Games")
	}
	return filepath.Join(base, "Launchpit", "Games")
}

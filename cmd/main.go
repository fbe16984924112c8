package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	v1 "github.com/tinwren/launchpit/api/v1"
	"github.com/tinwren/launchpit/internal/bundle"
	"github.com/tinwren/launchpit/internal/config"
	"github.com/tinwren/launchpit/internal/data"
	"github.com/tinwren/launchpit/internal/history"
	"github.com/tinwren/launchpit/internal/launch"
	"github.com/tinwren/launchpit/internal/metrics"
	"github.com/tinwren/launchpit/internal/router"
	"github.com/tinwren/launchpit/internal/store"
	"github.com/tinwren/launchpit/internal/updater"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	var logW io.Writer = os.Stderr
	if cfg.LogPath != "" {
		logW = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	logger := slog.New(slog.NewJSONHandler(logW, nil))
	slog.SetDefault(logger)

	metrics.Register()

	st := store.New(cfg.DataRoot, logger)

	var src bundle.Source = bundle.None{}
	if cfg.BundleDir != "" {
		src = bundle.NewDir(cfg.BundleDir)
	}

	var runRepo history.RunRepo
	var ready router.Readiness
	switch cfg.HistoryBackend {
	case "postgres":
		pg, err := history.NewPostgresRunRepoFromEnv()
		if err != nil {
			logger.Error("connect run store", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		runRepo = pg
		ready = func(ctx context.Context) error {
			_, err := pg.List(ctx)
			return err
		}
	default:
		runRepo = history.NewInMemoryRunRepo()
	}

	recEvents := make(chan updater.Event, 256)
	recorder := history.New(logger, runRepo, recEvents)
	recorder.Run()
	defer recorder.Stop()

	hub := v1.NewEventHub()
	conEvents := make(chan updater.Event, 256)

	u := updater.New(updater.Options{
		GameTitle: cfg.GameTitle,
		Version:   cfg.Version,
		FeedURL:   cfg.FeedURL,
		Store:     st,
		Bundle:    src,
		Launcher:  launch.NewExec(logger),
		Reporter: updater.Tee{
			updater.NewChanReporter(recEvents),
			hub,
			updater.NewChanReporter(conEvents),
		},
		Logger: logger,
	})

	var server *http.Server
	if cfg.ListenAddr != "" {
		handler := v1.NewLauncherHandler(logger, u, runRepo, st, hub)
		server = &http.Server{
			Addr:        cfg.ListenAddr,
			Handler:     router.New(logger, handler, ready),
			IdleTimeout: 120 * time.Second,
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("control API listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "err", err)
			}
		}()
	}

	go respond(u, conEvents, cfg)

	u.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, cancelling run", "signal", sig.String())
		u.Cancel()
		<-u.Done()
	case <-u.Done():
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}

	if u.Stage() != data.StageFinished {
		logger.Warn("run did not finish", "outcome", u.Stage())
		os.Exit(1)
	}
}

// respond drives the prompt protocol from the console. Non-prompt events are
// echoed as terse progress lines; prompts block on a y/n (plus credentials
// where needed) unless the launcher runs headless, in which case the
// configured auto answer is used.
func respond(u *updater.Updater, events <-chan updater.Event, cfg config.Config) {
	in := bufio.NewReader(os.Stdin)
	lastStage := data.StageNotStarted
	for e := range events {
		switch e.Type {
		case updater.EventStage:
			if e.Stage != lastStage {
				lastStage = e.Stage
				fmt.Println(">>", e.Stage)
			}
		case updater.EventPrompt:
			if e.Prompt == data.PromptNone {
				continue
			}
			if !cfg.Interactive {
				u.AnswerPrompt(cfg.AutoAnswer, "", "")
				continue
			}
			answer(u, in, e.Prompt)
		}
	}
}

func answer(u *updater.Updater, in *bufio.Reader, p data.Prompt) {
	switch p {
	case data.PromptDownloadNewVersion:
		if desc := u.GameDescription(); desc != "" {
			fmt.Println(desc)
		}
		u.AnswerPrompt(askYesNo(in, "A new version is available. Download it?"), "", "")
	case data.PromptLaunchOldVersion:
		u.AnswerPrompt(askYesNo(in, "The update could not be installed. Launch the previous version?"), "", "")
	case data.PromptUsername:
		u.AnswerPrompt(true, askLine(in, "Username: "), "")
	case data.PromptPassword:
		u.AnswerPrompt(true, "", askLine(in, "Password: "))
	case data.PromptUsernameAndPassword:
		fmt.Println("The download server requires credentials.")
		user := askLine(in, "Username: ")
		pass := askLine(in, "Password: ")
		u.AnswerPrompt(true, user, pass)
	case data.PromptCustomMessage:
		fmt.Println(u.CustomMessage())
		u.AnswerPrompt(askYesNo(in, "Retry?"), "", "")
	default:
		u.AnswerPrompt(false, "", "")
	}
}

func askYesNo(in *bufio.Reader, question string) bool {
	for {
		fmt.Print(question + " [y/n] ")
		line, err := in.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
	}
}

func askLine(in *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	line, err := in.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

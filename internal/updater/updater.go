// Package updater drives one end-to-end update run: resolve the wanted
// version, acquire its archive, install it, record it, launch it. The run
// executes on a single background goroutine; callers observe stage,
// progress and prompt transitions through the getters and a Reporter, and
// may cancel at any time. Stage and progress always mutate together under
// one mutex, so observers never see a torn pair.
package updater

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/tinwren/launchpit/internal/bundle"
	"github.com/tinwren/launchpit/internal/data"
	"github.com/tinwren/launchpit/internal/feed"
	"github.com/tinwren/launchpit/internal/launch"
	"github.com/tinwren/launchpit/internal/metrics"
	"github.com/tinwren/launchpit/internal/store"
)

// maxAuthAttempts bounds credential re-prompting for a single download so
// persistently rejected credentials cannot loop forever.
const maxAuthAttempts = 3

// Options configures one update run.
type Options struct {
	GameTitle string
	// Version, when set, requests that exact version unconditionally: no
	// prompts, no fallbacks.
	Version string
	// FeedURL, when set, is consulted for available versions.
	FeedURL string

	Store    *store.Store
	Bundle   bundle.Source
	Launcher launch.Launcher
	Reporter Reporter
	Logger   *slog.Logger
	// FeedClient overrides the HTTP client used for feed fetches.
	FeedClient *http.Client
}

// Updater is a single-use orchestrator: construct, Start once, observe
// until a terminal stage, discard.
type Updater struct {
	title      string
	reqVersion string
	feedURL    string

	store      *store.Store
	bundle     bundle.Source
	launcher   launch.Launcher
	reporter   Reporter
	log        *slog.Logger
	feedClient *http.Client

	runID string

	mu              sync.Mutex
	stage           data.Stage
	progress        float64
	prompt          data.Prompt
	customMessage   string
	gameDescription string
	username        string
	password        string
	launchVersion   string
	started         bool

	response chan bool
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(opts Options) *Updater {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	rep := opts.Reporter
	if rep == nil {
		rep = NopReporter{}
	}
	src := opts.Bundle
	if src == nil {
		src = bundle.None{}
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Updater{
		title:      opts.GameTitle,
		reqVersion: opts.Version,
		feedURL:    opts.FeedURL,
		store:      opts.Store,
		bundle:     src,
		launcher:   opts.Launcher,
		reporter:   rep,
		log:        log.With("run_id", runID, "game", opts.GameTitle),
		feedClient: opts.FeedClient,
		runID:      runID,
		stage:      data.StageNotStarted,
		prompt:     data.PromptNone,
		response:   make(chan bool, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (u *Updater) RunID() string     { return u.runID }
func (u *Updater) GameTitle() string { return u.title }

// Done is closed once the run reaches a terminal stage.
func (u *Updater) Done() <-chan struct{} { return u.done }

func (u *Updater) Stage() data.Stage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stage
}

func (u *Updater) StageProgress() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.progress
}

func (u *Updater) CurrentPrompt() data.Prompt {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.prompt
}

func (u *Updater) GameDescription() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.gameDescription
}

// CustomMessage returns the server-supplied text carried by a
// PromptCustomMessage prompt.
func (u *Updater) CustomMessage() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.customMessage
}

// Username returns the last entered username so credential prompts can be
// pre-filled on retry.
func (u *Updater) Username() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.username
}

func (u *Updater) Password() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.password
}

// Version returns the resolved launch version once one is known.
func (u *Updater) Version() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.launchVersion
}

// Start begins the run on a background goroutine. Second and later calls
// are ignored.
func (u *Updater) Start() {
	u.mu.Lock()
	if u.started {
		u.mu.Unlock()
		return
	}
	u.started = true
	u.mu.Unlock()
	go u.run()
}

// Cancel requests cooperative cancellation. It is an idempotent one-way
// latch: the run stops at its next checkpoint or instrumented read, and a
// blocked prompt is released with a negative answer.
func (u *Updater) Cancel() {
	u.cancel()
}

// AnswerPrompt delivers the response to the outstanding prompt, along with
// optional credentials, and releases the blocked worker. Calling it while
// no prompt is outstanding is a no-op.
func (u *Updater) AnswerPrompt(response bool, username, password string) {
	u.mu.Lock()
	if u.prompt == data.PromptNone {
		u.mu.Unlock()
		return
	}
	u.prompt = data.PromptNone
	if username != "" {
		u.username = username
	}
	if password != "" {
		u.password = password
	}
	u.mu.Unlock()
	u.report(EventPrompt)
	select {
	case u.response <- response:
	default:
	}
}

func (u *Updater) cancelled() bool { return u.ctx.Err() != nil }

func (u *Updater) report(t EventType) {
	u.mu.Lock()
	e := Event{
		RunID:    u.runID,
		Game:     u.title,
		Type:     t,
		Stage:    u.stage,
		Progress: u.progress,
		Prompt:   u.prompt,
		Version:  u.launchVersion,
	}
	u.mu.Unlock()
	u.reporter.Report(e)
}

// setStage moves the run to a new stage. Terminal stages are absorbing:
// once one is set, later calls do nothing and no further events fire.
// Entering a stage resets progress to 0; terminal stages force it to 1.
func (u *Updater) setStage(s data.Stage) {
	u.mu.Lock()
	if u.stage.Terminal() {
		u.mu.Unlock()
		return
	}
	u.stage = s
	if s.Terminal() {
		u.progress = 1
	} else {
		u.progress = 0
	}
	u.mu.Unlock()

	metrics.StageTransitions.WithLabelValues(string(s)).Inc()
	u.report(EventStage)
	u.report(EventProgress)
	if s.Terminal() {
		metrics.RunsTotal.WithLabelValues(string(s)).Inc()
		u.log.Info("update run ended", "outcome", s)
		close(u.done)
	}
}

func (u *Updater) setProgress(p float64) {
	u.mu.Lock()
	if u.stage.Terminal() {
		u.mu.Unlock()
		return
	}
	u.progress = p
	u.mu.Unlock()
	u.report(EventProgress)
}

func (u *Updater) setVersion(v string) {
	u.mu.Lock()
	u.launchVersion = v
	u.mu.Unlock()
}

// ask raises a prompt and blocks the worker until AnswerPrompt delivers a
// response. A pending or arriving cancellation counts as a negative
// answer so a cancelled run can never deadlock here.
func (u *Updater) ask(p data.Prompt) bool {
	u.mu.Lock()
	if u.ctx.Err() != nil {
		u.mu.Unlock()
		return false
	}
	u.prompt = p
	u.mu.Unlock()

	// Drop a stale answer left over from a prompt abandoned by cancellation.
	select {
	case <-u.response:
	default:
	}

	metrics.PromptsShown.WithLabelValues(string(p)).Inc()
	u.report(EventPrompt)

	select {
	case ok := <-u.response:
		return ok
	case <-u.ctx.Done():
		u.mu.Lock()
		u.prompt = data.PromptNone
		u.mu.Unlock()
		u.report(EventPrompt)
		return false
	}
}

func (u *Updater) run() {
	defer func() {
		if r := recover(); r != nil {
			u.log.Error("update run panicked", "panic", r)
		}
		// Safety net: a worker must never exit in a non-terminal stage.
		// Absorbing setStage makes this a no-op on the normal paths.
		u.setStage(data.StageFailed)
	}()

	u.log.Info("update run starting", "requested_version", u.reqVersion, "feed_configured", u.feedURL != "")

	// An explicitly requested version that is already installed launches
	// directly: no network, no prompts.
	if u.reqVersion != "" && u.store.IsInstalled(u.title, u.reqVersion) {
		if u.launch(u.reqVersion) {
			u.setStage(data.StageFinished)
		}
		return
	}

	latestInstalled, _ := u.store.GetLatestInstalledVersion(u.title)
	bundled := u.bundledVersion()

	var res feed.Resolution
	resolved := false
	if u.feedURL != "" {
		res, resolved = u.checkForUpdates()
		if !resolved && u.cancelled() {
			u.setStage(data.StageCancelled)
			return
		}
	}

	gameVersion, downloadURL, isNewest := res.Version, res.URL, res.IsNewest
	if !resolved {
		// The feed gave no answer; fall back to what we can supply locally.
		switch {
		case u.reqVersion != "":
			gameVersion = u.reqVersion
		case latestInstalled != "":
			gameVersion = latestInstalled
		case bundled != "":
			gameVersion = bundled
		default:
			u.log.Error("cannot resolve a runnable version", "err", data.ErrNoSource)
			u.setStage(data.StageFailed)
			return
		}
		downloadURL, isNewest = "", false
	}

	if !u.store.IsInstalled(u.title, gameVersion) {
		if u.reqVersion != "" {
			if !u.downloadAndInstall(gameVersion, downloadURL, isNewest) {
				u.failOrCancel()
				return
			}
		} else {
			fallback := latestInstalled
			if fallback == "" {
				fallback = bundled
			}
			if fallback == gameVersion {
				// The wanted version is the fallback itself (typically the
				// bundled build): making it runnable is not a "new"
				// download, so nothing to ask and nothing older to offer.
				fallback = ""
			}
			if fallback == "" || u.ask(data.PromptDownloadNewVersion) {
				if !u.downloadAndInstall(gameVersion, downloadURL, isNewest) {
					if u.cancelled() {
						u.setStage(data.StageCancelled)
						return
					}
					if fallback == "" || !u.ask(data.PromptLaunchOldVersion) {
						u.setStage(data.StageFailed)
						return
					}
					if !u.ensureInstalled(fallback) {
						u.failOrCancel()
						return
					}
					gameVersion = fallback
				}
			} else {
				// Download declined: run the fallback version instead.
				if !u.ensureInstalled(fallback) {
					u.failOrCancel()
					return
				}
				gameVersion = fallback
			}
		}
	} else if resolved && isNewest {
		// The feed's newest version is already on disk: re-confirm the
		// latest marker so future offline runs pick it.
		if err := u.store.RecordLatestVersion(u.title, gameVersion, true); err != nil {
			u.log.Warn("could not refresh latest marker", "err", err)
		}
	}

	if !u.launch(gameVersion) {
		return
	}
	u.setStage(data.StageFinished)
}

func (u *Updater) failOrCancel() {
	if u.cancelled() {
		u.setStage(data.StageCancelled)
	} else {
		u.setStage(data.StageFailed)
	}
}

func (u *Updater) bundledVersion() string {
	info, ok := u.bundle.Info()
	if !ok {
		return ""
	}
	if info.Title != "" && info.Title != u.title {
		return ""
	}
	return info.Version
}

// checkForUpdates queries the feed for the version this run should want.
// An unreachable or empty feed is "no information", not an error.
func (u *Updater) checkForUpdates() (feed.Resolution, bool) {
	u.setStage(data.StageChecking)
	f, err := feed.Fetch(u.ctx, u.feedClient, u.feedURL, func(pct int) {
		u.setProgress(0.99 * float64(pct) / 100)
	})
	if err != nil {
		if !errors.Is(err, data.ErrCancelled) {
			u.log.Warn("feed unavailable", "url", u.feedURL, "err", err)
		}
		return feed.Resolution{}, false
	}
	u.setProgress(0.99)

	var res feed.Resolution
	var ok bool
	if u.reqVersion != "" {
		res, ok = f.ResolveSpecific(u.title, u.reqVersion)
	} else {
		res, ok = f.ResolveLatest(u.title)
	}
	if !ok {
		u.log.Info("feed has no entry for this game")
		return feed.Resolution{}, false
	}

	u.mu.Lock()
	u.gameDescription = res.GameDescription
	u.mu.Unlock()
	u.setProgress(1)
	return res, true
}

// downloadAndInstall makes a version runnable: acquire the archive if
// needed, expand it, record it as latest. Returns false on failure; the
// Cancelled stage is set here when cancellation was the cause, any other
// failure leaves the stage for the caller to decide (retry, fallback or
// fail).
func (u *Updater) downloadAndInstall(version, url string, isNewest bool) bool {
	if !u.store.IsDownloaded(u.title, version) {
		if !u.acquire(version, url) {
			return false
		}
		if u.cancelled() {
			u.setStage(data.StageCancelled)
			return false
		}
		u.setProgress(1)
	}

	u.setStage(data.StageInstalling)
	err := u.store.Install(u.ctx, u.title, version, func(pct int) {
		u.setProgress(float64(pct) / 100)
	})
	if err != nil {
		if errors.Is(err, data.ErrCancelled) {
			u.setStage(data.StageCancelled)
		} else {
			u.log.Error("install failed", "version", version, "err", err)
		}
		return false
	}
	if u.cancelled() {
		u.setStage(data.StageCancelled)
		return false
	}

	u.setProgress(0.99)
	if err := u.store.RecordLatestVersion(u.title, version, isNewest); err != nil {
		u.log.Warn("could not record latest version", "version", version, "err", err)
	}
	u.setProgress(1)
	return true
}

// acquire brings the archive for a version into the download cache, from
// the bundle when the version matches it, otherwise from the network with
// bounded credential retries.
func (u *Updater) acquire(version, url string) bool {
	if version == u.bundledVersion() {
		u.setStage(data.StageExtracting)
		src, size, err := u.bundle.Open()
		if err != nil {
			u.log.Error("cannot open bundled archive", "err", err)
			return false
		}
		defer src.Close()
		err = u.store.Extract(u.ctx, u.title, version, src, size, func(pct int) {
			u.setProgress(float64(pct) / 100)
		})
		if err != nil {
			if errors.Is(err, data.ErrCancelled) {
				u.setStage(data.StageCancelled)
			} else {
				u.log.Error("bundled extract failed", "err", err)
			}
			return false
		}
		return true
	}

	if url == "" {
		u.log.Error("no download source for version", "version", version, "err", data.ErrNoSource)
		return false
	}

	u.setStage(data.StageDownloading)
	attempts := 0
	for {
		err := u.store.Download(u.ctx, u.title, version, url, u.credentials(), func(pct int) {
			u.setProgress(float64(pct) / 100)
		})
		if err == nil {
			return true
		}
		if errors.Is(err, data.ErrCancelled) {
			u.setStage(data.StageCancelled)
			return false
		}

		var msg *data.ServerMessageError
		if errors.As(err, &msg) {
			u.mu.Lock()
			u.customMessage = msg.Message
			u.mu.Unlock()
			attempts++
			// The message must be acknowledged before any retry.
			if attempts >= maxAuthAttempts || !u.ask(data.PromptCustomMessage) {
				return false
			}
			continue
		}
		if errors.Is(err, data.ErrAuthRequired) {
			attempts++
			if attempts >= maxAuthAttempts {
				u.log.Warn("credentials rejected repeatedly, giving up", "attempts", attempts)
				return false
			}
			if !u.ask(data.PromptUsernameAndPassword) {
				return false
			}
			continue
		}

		u.log.Error("download failed", "version", version, "err", err)
		return false
	}
}

func (u *Updater) credentials() store.Credentials {
	u.mu.Lock()
	defer u.mu.Unlock()
	return store.Credentials{Username: u.username, Password: u.password}
}

func (u *Updater) launch(version string) bool {
	u.setVersion(version)
	u.setStage(data.StageLaunching)
	if u.cancelled() {
		u.setStage(data.StageCancelled)
		return false
	}
	if err := u.launcher.Launch(u.title, u.store.InstallPath(u.title, version)); err != nil {
		u.log.Error("launch failed", "version", version, "err", err)
		u.setStage(data.StageFailed)
		return false
	}
	u.setProgress(1)
	return true
}

// ensureInstalled makes an already-resolved fallback runnable, extracting
// the bundled build on demand.
func (u *Updater) ensureInstalled(version string) bool {
	if u.store.IsInstalled(u.title, version) {
		return true
	}
	return u.downloadAndInstall(version, "", false)
}
